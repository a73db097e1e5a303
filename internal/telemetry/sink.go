package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/cjeanneret/SunGo/internal/config"
	"github.com/cjeanneret/SunGo/internal/debug"
)

// Sink delivers one record and returns the id it was stored under.
type Sink interface {
	Send(ctx context.Context, r Record) (string, error)
	Close() error
}

// NewSink builds the sink selected by the configuration.
func NewSink(cfg *config.Config) (Sink, error) {
	t := cfg.Telemetry
	switch t.Sink {
	case "", "none":
		return Discard{}, nil
	case "http":
		return NewHTTPSink(t.URL, nil), nil
	case "mqtt":
		s, err := DialMQTT(t.MQTT.Broker, t.MQTT.ClientID, t.MQTT.Topic, cfg.UploadTimeout())
		if err != nil {
			return nil, err
		}
		return s, nil
	case "kafka":
		return NewKafkaSink(t.Kafka.Brokers, t.Kafka.Topic), nil
	default:
		return nil, fmt.Errorf("unknown telemetry sink %q", t.Sink)
	}
}

// Discard drops records.
type Discard struct{}

func (Discard) Send(context.Context, Record) (string, error) { return "", nil }
func (Discard) Close() error                                 { return nil }

// HTTPSink posts records as JSON to the monitoring API.
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink posts to url. A nil client uses http.DefaultClient;
// the deadline comes from the request context.
func NewHTTPSink(url string, client *http.Client) *HTTPSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSink{url: url, client: client}
}

func (s *HTTPSink) Send(ctx context.Context, r Record) (string, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post record: %w", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("api error %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var reply struct {
		RecordID json.RawMessage `json:"record_id"`
	}
	if len(data) > 0 && json.Unmarshal(data, &reply) == nil && len(reply.RecordID) > 0 {
		var id string
		if json.Unmarshal(reply.RecordID, &id) == nil {
			return id, nil
		}
		return string(reply.RecordID), nil
	}
	return "", nil
}

func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// mqttPublisher is the part of mqtt.Client used by the sink.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes records on a topic with QoS 1.
type MQTTSink struct {
	client mqttPublisher
	topic  string
}

// DialMQTT connects to broker (e.g. tcp://localhost:1883).
func DialMQTT(broker, clientID, topic string, timeout time.Duration) (*MQTTSink, error) {
	if clientID == "" {
		clientID = "sungo-" + uuid.NewString()[:8]
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout)
	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("connect mqtt %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", broker, err)
	}
	debug.Info("Telemetry: MQTT %s topic %s", broker, topic)
	return NewMQTTSink(c, topic), nil
}

func NewMQTTSink(c mqttPublisher, topic string) *MQTTSink {
	return &MQTTSink{client: c, topic: topic}
}

func (s *MQTTSink) Send(ctx context.Context, r Record) (string, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	token := s.client.Publish(s.topic, 1, false, payload)
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("publish: %w", ctx.Err())
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	return uuid.NewString(), nil
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}

// kafkaWriter is the part of kafka.Writer used by the sink.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes records keyed by system id.
type KafkaSink struct {
	writer kafkaWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

func (s *KafkaSink) Send(ctx context.Context, r Record) (string, error) {
	value, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	id := uuid.NewString()
	msg := kafka.Message{
		Key:     []byte(r.SystemID),
		Value:   value,
		Time:    r.Timestamp,
		Headers: []kafka.Header{{Key: "record_id", Value: []byte(id)}},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write kafka: %w", err)
	}
	return id, nil
}

func (s *KafkaSink) Close() error { return s.writer.Close() }
