// Package mqtt connects the camera core to the MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"camlink/internal/protocol"
)

var (
	// ErrNotConnected is returned by Publish while the broker connection is down.
	ErrNotConnected = errors.New("mqtt not connected")
	// ErrPublishTimeout is returned when the broker does not acknowledge a
	// publish within the configured timeout.
	ErrPublishTimeout = errors.New("mqtt publish timeout")
)

const qosAtLeastOnce = 1

// Config holds MQTT connector configuration.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Namespace      string // second topic level, camera/<namespace>/<id>/...
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// FrameHandler receives every inbound frame with the device ID taken from
// the topic. It must not block for long; the connector's delivery goroutine
// waits on it.
type FrameHandler func(deviceID string, payload []byte)

// client is the subset of the paho client the connector uses.
type client interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Unsubscribe(topics ...string) pahomqtt.Token
}

// Connector owns the broker connection: one wildcard subscription for all
// cameras' uplink topics and a publish path to each camera's downlink topic.
type Connector struct {
	cfg    Config
	client client
	logger *slog.Logger

	mu      sync.RWMutex
	handler FrameHandler
}

// NewConnector builds the paho client. Nothing connects until Start.
func NewConnector(cfg Config, logger *slog.Logger) *Connector {
	c := &Connector{logger: logger.With("component", "mqtt")}
	c.setConfig(cfg)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			c.logger.Info("MQTT connected", "broker", cfg.Broker)
			c.subscribe()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			c.logger.Warn("MQTT connection lost", "err", err)
		}).
		SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
			c.logger.Info("MQTT reconnecting", "broker", cfg.Broker)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c.client = pahomqtt.NewClient(opts)
	return c
}

func (c *Connector) setConfig(cfg Config) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	c.cfg = cfg
}

// Start installs handler and connects. If the broker is not reachable within
// the connect timeout the client keeps retrying in the background and the
// subscription is made once it connects.
func (c *Connector) Start(handler FrameHandler) error {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()

	token := c.client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		c.logger.Warn("MQTT broker not reachable yet, retrying in background", "broker", c.cfg.Broker)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// subscribe runs on every (re)connect so the subscription survives broker
// restarts even without a persistent session.
func (c *Connector) subscribe() {
	filter := protocol.UplinkFilter(c.cfg.Namespace)
	token := c.client.Subscribe(filter, qosAtLeastOnce, c.handleMessage)
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		c.logger.Error("MQTT subscribe timeout", "topic", filter)
		return
	}
	if err := token.Error(); err != nil {
		c.logger.Error("MQTT subscribe", "topic", filter, "err", err)
		return
	}
	c.logger.Info("MQTT subscribed", "topic", filter)
}

func (c *Connector) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	deviceID, err := protocol.ParseUplinkTopic(msg.Topic())
	if err != nil {
		c.logger.Warn("ignoring message on unexpected topic", "topic", msg.Topic(), "err", err)
		return
	}

	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		return
	}
	h(deviceID, msg.Payload())
}

// Publish sends an already encrypted payload to the device's downlink
// topic with QoS 1, not retained. It waits for the broker acknowledgement
// up to the publish timeout or until ctx is done.
func (c *Connector) Publish(ctx context.Context, deviceID string, payload []byte) error {
	if err := protocol.ValidateDeviceID(deviceID); err != nil {
		return err
	}
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	topic := protocol.DownlinkTopic(c.cfg.Namespace, deviceID)
	token := c.client.Publish(topic, qosAtLeastOnce, false, payload)

	timer := time.NewTimer(c.cfg.PublishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("publish %s: %w", topic, ErrPublishTimeout)
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	c.logger.Debug("MQTT published", "topic", topic, "bytes", len(payload))
	return nil
}

// Connected reports whether the broker connection is currently up.
func (c *Connector) Connected() bool {
	return c.client.IsConnectionOpen()
}

// Stop unsubscribes and disconnects, allowing one second for in-flight work.
func (c *Connector) Stop() {
	if c.client.IsConnectionOpen() {
		filter := protocol.UplinkFilter(c.cfg.Namespace)
		if token := c.client.Unsubscribe(filter); !token.WaitTimeout(c.cfg.PublishTimeout) {
			c.logger.Warn("MQTT unsubscribe timeout", "topic", filter)
		} else if err := token.Error(); err != nil {
			c.logger.Warn("MQTT unsubscribe", "topic", filter, "err", err)
		}
	}
	c.client.Disconnect(1000)
	c.logger.Info("MQTT connector stopped")
}
