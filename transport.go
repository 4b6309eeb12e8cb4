package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// Transport defines an interface for external event transport.
type Transport interface {
	Start() error
	Send(ctx context.Context, evt Event) error
	Close() error
}

// KafkaTransport implements Transport using Kafka.
type KafkaTransport struct {
	producer   sarama.SyncProducer
	topic      string
	maxRetries int
	retryDelay time.Duration
}

var _ Transport = (*KafkaTransport)(nil)

// KafkaOption configures KafkaTransport.
type KafkaOption func(*KafkaTransport)

// WithKafkaRetries sets the number of retries after the first attempt.
func WithKafkaRetries(n int) KafkaOption {
	return func(t *KafkaTransport) { t.maxRetries = n }
}

// WithKafkaRetryDelay sets the initial retry delay.
func WithKafkaRetryDelay(d time.Duration) KafkaOption {
	return func(t *KafkaTransport) { t.retryDelay = d }
}

// NewKafkaTransport creates a Kafka transport producing to topic.
func NewKafkaTransport(brokers []string, topic string, opts ...KafkaOption) (*KafkaTransport, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewKafkaTransportWithProducer(producer, topic, opts...), nil
}

// NewKafkaTransportWithProducer creates a Kafka transport on an existing producer.
func NewKafkaTransportWithProducer(producer sarama.SyncProducer, topic string, opts ...KafkaOption) *KafkaTransport {
	t := &KafkaTransport{
		producer:   producer,
		topic:      topic,
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start initializes the transport.
func (t *KafkaTransport) Start() error {
	log.Infof("audit.KafkaTransport: producing to topic %s", t.topic)
	return nil
}

// Send publishes evt keyed by entity id, retrying with exponential backoff until
// the retries are exhausted or ctx is done.
func (t *KafkaTransport) Send(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: t.topic,
		Key:   sarama.StringEncoder(evt.EntityID()),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(evt.Type())},
		},
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{
			Key:   []byte("trace_id"),
			Value: []byte(sc.TraceID().String()),
		})
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.retryDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(t.maxRetries)), ctx)

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		_, _, err := t.producer.SendMessage(msg)
		if err != nil {
			log.WithFields(log.Fields{
				"entity_id": evt.EntityID(),
				"attempt":   attempt,
			}).Warnf("audit.KafkaTransport: send failed: %v", err)
		}
		return err
	}, policy)
	if err != nil {
		return fmt.Errorf("failed to send event to Kafka topic %s: %w", t.topic, err)
	}
	return nil
}

// Close shuts down the transport.
func (t *KafkaTransport) Close() error {
	return t.producer.Close()
}
