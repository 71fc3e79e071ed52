// Package telemetry mirrors device events onto an MQTT broker so that
// dashboards and automation outside the WebSocket session model can
// observe the observatory. The mirror is a passive sink; when no broker
// is configured it costs nothing.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/errs"
	"github.com/starbridge/observatoryd/internal/protocol"
)

// Config addresses the broker.
type Config struct {
	// BrokerURL like tcp://localhost:1883. Empty disables the mirror.
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	// TopicPrefix defaults to "observatory".
	TopicPrefix string
	// QoS for published events, default 0.
	QoS byte
}

// Mirror publishes every received event to <prefix>/<kind>/<event>.
// It implements the manager sink contract, so it is registered exactly
// like a dashboard session.
type Mirror struct {
	client mqtt.Client
	prefix string
	kind   string
	qos    byte
	logger *zap.Logger
}

// NewMirror connects to the broker. A Config with an empty BrokerURL
// returns a nil Mirror, which Sink() callers must treat as absent.
func NewMirror(cfg Config, logger *zap.Logger) (*Mirror, error) {
	if cfg.BrokerURL == "" {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "observatory"
	}
	if cfg.ClientID == "" {
		host, _ := os.Hostname()
		cfg.ClientID = fmt.Sprintf("observatoryd-%s-%d", host, os.Getpid())
	}

	logger = logger.With(zap.String("component", "telemetry"))
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("broker connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("broker connected", zap.String("broker", cfg.BrokerURL))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, errs.New(errs.Timeout, "broker %s did not answer", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, errs.Wrap(errs.NetworkError, err, "connecting to broker %s", cfg.BrokerURL)
	}
	return &Mirror{
		client: client,
		prefix: cfg.TopicPrefix,
		qos:    cfg.QoS,
		logger: logger,
	}, nil
}

// ForKind derives a mirror scoped to one device kind. The underlying
// connection is shared.
func (m *Mirror) ForKind(kind string) *Mirror {
	if m == nil {
		return nil
	}
	scoped := *m
	scoped.kind = kind
	return &scoped
}

// Emit publishes one event. Publish failures are logged, never surfaced;
// telemetry must not disturb device operations.
func (m *Mirror) Emit(resp *protocol.Response) {
	if m == nil {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		m.logger.Warn("event not serializable", zap.String("event", resp.Event), zap.Error(err))
		return
	}
	topic := m.prefix + "/" + m.kind + "/" + resp.Event
	token := m.client.Publish(topic, m.qos, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			m.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

// Close disconnects from the broker.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.client.Disconnect(250)
}
