package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"
)

const (
	mqttTimeout = 10 * time.Second
	mqttBufSize = 512
)

// MQTT publish flags (QoS0, not retained, not dup)
var pubFlags, _ = mqtt.NewPublishFlags(mqtt.QoS0, false, false)

// ErrNotConnected is returned when the broker never acknowledged CONNECT.
var ErrNotConnected = errors.New("telemetry: mqtt connect not acknowledged")

// DialFunc opens the transport to the broker.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// Publisher sends the telemetry queues to an MQTT broker, one short
// session per Flush.
type Publisher struct {
	broker   string
	clientID string
	topic    []byte
	dial     DialFunc
	logger   *slog.Logger
	packetID uint16
	userBuf  [mqttBufSize]byte
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) PublisherOption {
	return func(p *Publisher) { p.dial = dial }
}

// WithPublisherLogger sets the logger for connection events.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher returns a publisher for broker ("host:port").
func NewPublisher(broker, clientID, topic string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		broker:   broker,
		clientID: clientID,
		topic:    []byte(topic),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	p.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Flush drains the queues and publishes them as one message. Drained
// entries are dropped when publishing fails. Queueing is paused for the
// duration so the publisher's own log records are not sent next time.
func (p *Publisher) Flush(ctx context.Context) error {
	defer pauseQueue()()

	logs, metrics := Drain()
	if len(logs) == 0 && len(metrics) == 0 {
		return nil
	}
	body, err := BuildPayload(p.clientID, logs, metrics)
	if err != nil {
		recordSendError()
		return err
	}
	if err := p.Publish(ctx, body); err != nil {
		recordSendError()
		p.logger.Warn("mqtt:flush-failed", slog.String("err", err.Error()))
		return err
	}
	recordSent(len(logs), len(metrics))
	return nil
}

// Publish connects, publishes payload on the status topic and disconnects.
func (p *Publisher) Publish(ctx context.Context, payload []byte) error {
	defer pauseQueue()()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, mqttTimeout)
		defer cancel()
	}
	deadline, _ := ctx.Deadline()

	p.logger.Info("mqtt:dialing",
		slog.String("broker", p.broker),
		slog.String("clientid", p.clientID),
	)
	conn, err := p.dial(ctx, p.broker)
	if err != nil {
		p.logger.Error("mqtt:dial-failed", slog.String("err", err.Error()))
		return fmt.Errorf("telemetry: dial %s: %w", p.broker, err)
	}
	defer conn.Close()
	conn.SetDeadline(deadline)

	client := mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: p.userBuf[:]},
		OnPub: func(mqtt.Header, mqtt.VariablesPublish, io.Reader) error {
			return nil
		},
	})

	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte(p.clientID))
	if err := client.StartConnect(conn, &varconn); err != nil {
		p.logger.Error("mqtt:start-connect-failed", slog.String("err", err.Error()))
		return err
	}
	for !client.IsConnected() {
		if err := ctx.Err(); err != nil {
			return ErrNotConnected
		}
		if err := client.HandleNext(); err != nil {
			p.logger.Warn("mqtt:handle-next", slog.String("err", err.Error()))
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
	}
	p.logger.Info("mqtt:connected")

	pubVar := mqtt.VariablesPublish{
		TopicName:        p.topic,
		PacketIdentifier: p.nextPacketID(),
	}
	if err := client.PublishPayload(pubFlags, pubVar, payload); err != nil {
		p.logger.Error("mqtt:publish-failed", slog.String("err", err.Error()))
		return err
	}
	p.logger.Info("mqtt:published",
		slog.String("topic", string(p.topic)),
		slog.Int("bytes", len(payload)),
	)

	client.Disconnect(errors.New("session complete"))
	return nil
}

// nextPacketID returns a nonzero identifier, different for each publish.
func (p *Publisher) nextPacketID() uint16 {
	p.packetID++
	if p.packetID == 0 {
		p.packetID = 1
	}
	return p.packetID
}
