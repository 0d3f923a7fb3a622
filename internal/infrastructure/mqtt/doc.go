// Package mqtt provides MQTT client connectivity for the KNXnet/IP gateway.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) on knxip/system/status
//
// # Topic Hierarchy
//
//	knxip/command/{device_id}   commands to the bridge
//	knxip/ack/{device_id}       command acknowledgements
//	knxip/state/{device_id}     retained device state
//	knxip/request/{request_id}  read_state / read_all requests
//	knxip/response/{request_id}
//	knxip/health                retained bridge health
//	knxip/bus/{ga}              every group telegram seen on the bus
//	knxip/system/status         online/offline, carries the LWT
//
// Group addresses in topics are slash-escaped with EncodeAddress.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT, mqtt.Hooks{Logger: log})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1, handler)
package mqtt
