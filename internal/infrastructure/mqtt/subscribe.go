package mqtt

import "context"

// Subscribe routes messages matching topic, which may use the + and #
// wildcards, to handler. The route survives reconnects.
//
//	err := client.Subscribe(mqtt.Topics{}.AllCommands(), 1, bridge.handleMQTTMessage)
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return ErrNilHandler
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	c.routes[topic] = route{qos: qos, handler: handler}
	c.mu.Unlock()

	token := c.paho.Subscribe(topic, qos, c.deliver(handler))
	if err := await(context.Background(), token, "subscribe", topic, defaultPublishTimeout); err != nil {
		c.drop(topic)
		return err
	}
	return nil
}

// Unsubscribe removes the route for topic. Messages already in flight may
// still be delivered.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.drop(topic)
	return await(context.Background(), c.paho.Unsubscribe(topic), "unsubscribe", topic, defaultPublishTimeout)
}

func (c *Client) drop(topic string) {
	c.mu.Lock()
	delete(c.routes, topic)
	c.mu.Unlock()
}

// SubscriptionCount returns the number of routes.
func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.routes)
}

// HasSubscription reports whether a route exists for exactly this pattern.
func (c *Client) HasSubscription(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.routes[topic]
	return ok
}
