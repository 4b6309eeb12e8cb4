package audit

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
)

// BusOption defines a functional option for configuring a Bus instance.
type BusOption func(*BusConfig)

// WithHistoryCap sets the capacity of the in-memory history buffer.
// A value of 0 disables history.
func WithHistoryCap(n int) BusOption {
	return func(cfg *BusConfig) { cfg.HistoryCap = n }
}

// WithCircuitBreaker configures the circuit breaker in front of the handlers.
//
//   - timeout: how long the circuit stays open after the last failure.
//   - maxFails: the number of consecutive failures that open the circuit.
func WithCircuitBreaker(timeout time.Duration, maxFails int) BusOption {
	return func(cfg *BusConfig) {
		cfg.CircuitTimeout = timeout
		cfg.CircuitMaxFails = maxFails
	}
}

// WithRateLimit sets the maximum logging rate and burst size.
// Events over the limit are rejected with ErrRateLimited. A rate of 0 disables
// the limiter.
func WithRateLimit(rate, burst int) BusOption {
	return func(cfg *BusConfig) {
		cfg.RateLimit = rate
		cfg.RateBurst = burst
	}
}

// WithErrorFunc sets the callback invoked for every handler failure.
func WithErrorFunc(f func(error, Event)) BusOption {
	return func(cfg *BusConfig) { cfg.ErrorFunc = f }
}

// WithMetrics sets the metrics implementation. Without it, no metrics are collected.
func WithMetrics(metrics BusMetrics) BusOption {
	return func(cfg *BusConfig) { cfg.Metrics = metrics }
}

// WithMetricsRegisterer creates PrometheusMetrics on registerer and uses them.
func WithMetricsRegisterer(registerer prometheus.Registerer) BusOption {
	return func(cfg *BusConfig) {
		cfg.Metrics = NewPrometheusMetrics(registerer)
	}
}

// WithTransport sets an external Transport that receives every event.
func WithTransport(transport Transport) BusOption {
	return func(cfg *BusConfig) { cfg.Transport = transport }
}

// WithAccessControl sets a function to control access to the history buffer.
func WithAccessControl(f AccessControlFunc) BusOption {
	return func(cfg *BusConfig) { cfg.AccessControl = f }
}

// WithSchemaValidation makes the bus reject events whose parameters do not
// follow the layout registered for their type.
func WithSchemaValidation(enabled bool) BusOption {
	return func(cfg *BusConfig) { cfg.ValidateSchema = enabled }
}

// Config is the environment-driven configuration of the audit stack.
type Config struct {
	HistoryCap      int           `env:"AUDIT_HISTORY_CAP" envDefault:"1000"`
	RateLimit       int           `env:"AUDIT_RATE_LIMIT" envDefault:"1000"`
	RateBurst       int           `env:"AUDIT_RATE_BURST" envDefault:"1000"`
	CircuitTimeout  time.Duration `env:"AUDIT_CIRCUIT_TIMEOUT" envDefault:"30s"`
	CircuitMaxFails int           `env:"AUDIT_CIRCUIT_MAX_FAILS" envDefault:"5"`
	ValidateSchema  bool          `env:"AUDIT_VALIDATE_SCHEMA" envDefault:"true"`

	LogFile       string `env:"AUDIT_LOG_FILE"`
	LogRedactUser bool   `env:"AUDIT_LOG_REDACT_USER" envDefault:"false"`
	DBPath        string `env:"AUDIT_DB_PATH"`

	KafkaBrokers []string `env:"AUDIT_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"AUDIT_KAFKA_TOPIC" envDefault:"api-events"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse audit config: %w", err)
	}
	return &cfg, nil
}

// BusOptions converts the configuration into bus options.
func (c *Config) BusOptions() []BusOption {
	return []BusOption{
		WithHistoryCap(c.HistoryCap),
		WithRateLimit(c.RateLimit, c.RateBurst),
		WithCircuitBreaker(c.CircuitTimeout, c.CircuitMaxFails),
		WithSchemaValidation(c.ValidateSchema),
	}
}

// Transport builds a KafkaTransport when brokers are configured. It returns
// nil when AUDIT_KAFKA_BROKERS is empty.
func (c *Config) Transport(opts ...KafkaOption) (Transport, error) {
	if len(c.KafkaBrokers) == 0 {
		return nil, nil
	}
	t, err := NewKafkaTransport(c.KafkaBrokers, c.KafkaTopic, opts...)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// LogOptions converts the configuration into log sink options.
func (c *Config) LogOptions() []LogOption {
	var opts []LogOption
	if c.LogFile != "" {
		opts = append(opts, WithFilePath(c.LogFile))
	}
	return append(opts, WithRedactUser(c.LogRedactUser))
}

// LoadConfigFromEnv loads bus options from the environment.
//
// Supported environment variables:
//   - AUDIT_HISTORY_CAP: history buffer capacity.
//   - AUDIT_RATE_LIMIT, AUDIT_RATE_BURST: rate limit in events per second and burst size.
//   - AUDIT_CIRCUIT_TIMEOUT: circuit breaker timeout, e.g. "30s".
//   - AUDIT_CIRCUIT_MAX_FAILS: failures that open the circuit.
//   - AUDIT_VALIDATE_SCHEMA: reject events that break their parameter layout.
//   - AUDIT_KAFKA_BROKERS, AUDIT_KAFKA_TOPIC: publish every event to Kafka.
//
// The Kafka producer connects while the options are built, so unreachable
// brokers are reported here.
func LoadConfigFromEnv() ([]BusOption, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	opts := cfg.BusOptions()
	transport, err := cfg.Transport()
	if err != nil {
		return nil, fmt.Errorf("failed to set up audit transport: %w", err)
	}
	if transport != nil {
		opts = append(opts, WithTransport(transport))
	}
	return opts, nil
}
