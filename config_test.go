package audit

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.HistoryCap)
	assert.Equal(t, 30*time.Second, cfg.CircuitTimeout)
	assert.True(t, cfg.ValidateSchema)
	assert.Equal(t, "api-events", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("AUDIT_HISTORY_CAP", "10")
	t.Setenv("AUDIT_RATE_LIMIT", "5")
	t.Setenv("AUDIT_RATE_BURST", "7")
	t.Setenv("AUDIT_CIRCUIT_TIMEOUT", "2m")
	t.Setenv("AUDIT_CIRCUIT_MAX_FAILS", "3")
	t.Setenv("AUDIT_VALIDATE_SCHEMA", "false")
	t.Setenv("AUDIT_LOG_FILE", "/var/log/api-events.log")
	t.Setenv("AUDIT_LOG_REDACT_USER", "true")
	t.Setenv("AUDIT_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)

	bc := DefaultBusConfig()
	for _, opt := range cfg.BusOptions() {
		opt(&bc)
	}
	assert.Equal(t, 10, bc.HistoryCap)
	assert.Equal(t, 5, bc.RateLimit)
	assert.Equal(t, 7, bc.RateBurst)
	assert.Equal(t, 2*time.Minute, bc.CircuitTimeout)
	assert.Equal(t, 3, bc.CircuitMaxFails)
	assert.False(t, bc.ValidateSchema)

	lc := DefaultLogConfig()
	for _, opt := range cfg.LogOptions() {
		opt(&lc)
	}
	assert.Equal(t, "/var/log/api-events.log", lc.FilePath)
	assert.True(t, lc.RedactUser)
}

func TestConfig_TransportWithoutBrokers(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	tr, err := cfg.Transport()
	require.NoError(t, err)
	assert.Nil(t, tr)

	opts, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Len(t, opts, len(cfg.BusOptions()))
}

func TestLoadConfigFromEnv_KafkaTransport(t *testing.T) {
	broker := sarama.NewMockBroker(t, 1)
	defer broker.Close()
	broker.SetHandlerByMap(map[string]sarama.MockResponse{
		"MetadataRequest": sarama.NewMockMetadataResponse(t).
			SetBroker(broker.Addr(), broker.BrokerID()).
			SetLeader("audit-events", 0, broker.BrokerID()),
		"ProduceRequest": sarama.NewMockProduceResponse(t),
	})

	t.Setenv("AUDIT_KAFKA_BROKERS", broker.Addr())
	t.Setenv("AUDIT_KAFKA_TOPIC", "audit-events")

	opts, err := LoadConfigFromEnv()
	require.NoError(t, err)
	bus, err := NewBus(append(opts, WithErrorFunc(func(error, Event) {}))...)
	require.NoError(t, err)

	svc := NewAPIEventService(bus)
	require.NoError(t, svc.ChangeTeam(context.Background(), "api-1", Team{ID: "t1", Name: "One"}, nil, "user", testTimestamp))
	require.NoError(t, bus.Close())

	produced := false
	for _, rr := range broker.History() {
		if _, ok := rr.Request.(*sarama.ProduceRequest); ok {
			produced = true
		}
	}
	assert.True(t, produced, "the event must reach the configured broker")
}

func TestLoadConfigFromEnv_UnreachableBrokers(t *testing.T) {
	t.Setenv("AUDIT_KAFKA_BROKERS", "127.0.0.1:1")

	opts, err := LoadConfigFromEnv()
	require.Error(t, err)
	assert.Nil(t, opts)
	assert.Contains(t, err.Error(), "failed to create Kafka producer")
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestLoadConfigFromEnv_InvalidValue(t *testing.T) {
	t.Setenv("AUDIT_CIRCUIT_TIMEOUT", "soon")

	opts, err := LoadConfigFromEnv()
	require.Error(t, err)
	assert.Nil(t, opts)
	assert.Contains(t, err.Error(), "failed to parse audit config")
}
