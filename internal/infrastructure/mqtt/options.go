package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"net/url"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second

	// quiesceMillis is how long Disconnect lets in-flight work finish.
	quiesceMillis = 1000

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// Presence values on the system status topic.
const (
	presenceOnline  = "online"
	presenceOffline = "offline"

	reasonLost     = "unexpected_disconnect"
	reasonShutdown = "graceful_shutdown"
)

// presence is the retained payload on the system status topic. The broker
// publishes the lost variant as our last will.
type presence struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func newPresence(clientID, status, reason string) presence {
	return presence{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func (p presence) encode() []byte {
	//nolint:errchkjson // only strings, cannot fail
	b, _ := json.Marshal(p)
	return b
}

// clientOptions maps the daemon config onto paho, including the will.
// Sessions are clean; the client restores its own subscriptions.
func clientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	id := cfg.Broker.ClientID
	will := newPresence(id, presenceOffline, reasonLost)

	opts := pahomqtt.NewClientOptions().
		AddBroker(serverURL(cfg.Broker)).
		SetClientID(id).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(seconds(cfg.Reconnect.InitialDelay)).
		SetMaxReconnectInterval(seconds(cfg.Reconnect.MaxDelay)).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive).
		SetBinaryWill(Topics{}.SystemStatus(), will.encode(), 1, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// serverURL is tcp:// or ssl:// depending on TLS. IPv6 hosts are bracketed.
func serverURL(b config.MQTTBrokerConfig) string {
	u := url.URL{Scheme: "tcp", Host: net.JoinHostPort(b.Host, strconv.Itoa(b.Port))}
	if b.TLS {
		u.Scheme = "ssl"
	}
	return u.String()
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
