// Package mqtt publishes supervisor events to an MQTT broker.
//
// Every event goes to <prefix>/event/<name> as the event's JSON encoding.
// The daemon's own availability is kept, retained, at <prefix>/status,
// with a last will of "offline".
package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/lestrrat-go/supervisor"
	"github.com/lestrrat-go/supervisor/internal/config"
	"github.com/pkg/errors"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	defaultKeepAlive         = 60 * time.Second

	statusOnline  = "online"
	statusOffline = "offline"
)

var ErrConnectionFailed = errors.New("mqtt connection failed")

type Publisher struct {
	cfg    config.MQTTConfig
	client pahomqtt.Client
	logger supervisor.Logger
}

// EventTopic returns the topic events called name are published to.
func EventTopic(prefix string, name supervisor.EventName) string {
	return prefix + "/event/" + string(name)
}

// StatusTopic returns the retained availability topic.
func StatusTopic(prefix string) string {
	return prefix + "/status"
}

func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)
	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetWill(StatusTopic(cfg.TopicPrefix), statusOffline, byte(cfg.QoS), true)
	return opts
}

// Connect dials the broker and waits for the first connection.
func Connect(cfg config.MQTTConfig, logger supervisor.Logger) (*Publisher, error) {
	p := &Publisher{cfg: cfg, logger: logger}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker.Host)
		p.publishStatus(statusOnline)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	p.client = pahomqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, errors.Wrapf(ErrConnectionFailed, "timeout after %s", defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrap(ErrConnectionFailed, err.Error())
	}
	return p, nil
}

// NewPublisher wraps an already configured client.
func NewPublisher(client pahomqtt.Client, cfg config.MQTTConfig, logger supervisor.Logger) *Publisher {
	return &Publisher{cfg: cfg, client: client, logger: logger}
}

// Publish is a supervisor.Listener. It does not wait for the broker's
// acknowledgement; failures are logged.
func (p *Publisher) Publish(ev supervisor.Event) {
	payload, err := ev.MarshalJSON()
	if err != nil {
		p.logger.Error("failed to encode event", "event", string(ev.Name), "error", err)
		return
	}

	topic := EventTopic(p.cfg.TopicPrefix, ev.Name)
	token := p.client.Publish(topic, byte(p.cfg.QoS), p.cfg.Retain, payload)
	go p.check(topic, token)
}

func (p *Publisher) check(topic string, token pahomqtt.Token) {
	if !token.WaitTimeout(defaultPublishTimeout) {
		p.logger.Warn("mqtt publish timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

func (p *Publisher) publishStatus(status string) pahomqtt.Token {
	return p.client.Publish(StatusTopic(p.cfg.TopicPrefix), byte(p.cfg.QoS), true, status)
}

// Close marks the daemon offline and disconnects.
func (p *Publisher) Close() error {
	if p.client.IsConnected() {
		p.publishStatus(statusOffline).WaitTimeout(defaultPublishTimeout)
	}
	p.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}
