package audit

// The Bus is an in-process EventsService that fans each event out to the
// handlers subscribed to it: the SQL store, the rotating file log and the Kafka
// transport. Delivery is synchronous, so Log returns only once every handler has
// run and the caller sees their combined outcome. Rate limiting and a circuit
// breaker protect the handlers; a bounded history keeps the most recent events
// for inspection.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	// ErrBusClosed is returned by Log after Close.
	ErrBusClosed = errors.New("audit bus: closed")
	// ErrRateLimited is returned when the rate limiter rejects an event.
	ErrRateLimited = errors.New("audit bus: rate limit exceeded")
	// ErrCircuitOpen is returned while too many recent handler failures keep the circuit open.
	ErrCircuitOpen = errors.New("audit bus: circuit breaker open")
)

// Handler processes an event delivered by the Bus.
type Handler func(ctx context.Context, evt Event) error

// BusConfig holds configuration parameters for initializing a Bus.
type BusConfig struct {
	HistoryCap      int                // Maximum number of events kept in history; 0 disables history.
	CircuitTimeout  time.Duration      // Duration before an open circuit closes again.
	CircuitMaxFails int                // Consecutive handler failures that open the circuit.
	RateLimit       int                // Events per second allowed; 0 disables rate limiting.
	RateBurst       int                // Burst size for the rate limiter.
	ErrorFunc       func(error, Event) // Callback for handler and close errors.
	Metrics         BusMetrics         // Metrics sink.
	Transport       Transport          // Optional transport subscribed to all events.
	AccessControl   AccessControlFunc  // Optional check for History; CheckHistoryAccess otherwise.
	ValidateSchema  bool               // Reject events whose parameters do not match their schema.
}

// DefaultBusConfig returns a BusConfig with sensible default values.
// Transport and access control are unset, and errors are logged.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		HistoryCap:      1000,
		CircuitTimeout:  30 * time.Second,
		CircuitMaxFails: 5,
		RateLimit:       1000,
		RateBurst:       1000,
		ErrorFunc: func(err error, evt Event) {
			log.WithFields(log.Fields{
				"entity_id":  evt.EntityID(),
				"event_type": evt.Type(),
			}).Errorf("audit.Bus error: %v", err)
		},
		Metrics: nopMetrics{},
	}
}

// Bus is an in-memory publish/subscribe dispatcher for audit events.
// It is safe for concurrent use.
type Bus struct {
	mu            sync.RWMutex
	handlers      map[EventType][]Handler
	global        []Handler
	history       []Event
	historyCap    int
	errorFunc     func(error, Event)
	metrics       BusMetrics
	transport     Transport
	accessControl AccessControlFunc
	validate      bool
	circuit       *circuitBreaker
	limiter       *rate.Limiter
	closed        atomic.Bool
	closeOnce     sync.Once
	closeErr      error
}

var _ EventsService = (*Bus)(nil)

// NewBus creates a new Bus with the specified configuration options.
// If a transport is configured it is started and subscribed to all events.
func NewBus(opts ...BusOption) (*Bus, error) {
	cfg := DefaultBusConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.ErrorFunc == nil {
		cfg.ErrorFunc = func(error, Event) {}
	}

	b := &Bus{
		handlers:      make(map[EventType][]Handler),
		historyCap:    cfg.HistoryCap,
		errorFunc:     cfg.ErrorFunc,
		metrics:       cfg.Metrics,
		transport:     cfg.Transport,
		accessControl: cfg.AccessControl,
		validate:      cfg.ValidateSchema,
		circuit:       newCircuitBreaker(cfg.CircuitTimeout, cfg.CircuitMaxFails),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = cfg.RateLimit
		}
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	log.Debugf("audit.Bus: Created with historyCap=%d, rateLimit=%d, circuitMaxFails=%d",
		cfg.HistoryCap, cfg.RateLimit, cfg.CircuitMaxFails,
	)

	if b.transport != nil {
		if err := b.transport.Start(); err != nil {
			return nil, fmt.Errorf("failed to start transport: %w", err)
		}
		b.Subscribe(EventAny, b.transport.Send)
	}
	return b, nil
}

// DefaultBus creates a Bus with default configuration.
// If initialization fails, it logs a fatal error and terminates.
func DefaultBus() *Bus {
	bus, err := NewBus()
	if err != nil {
		log.Fatalf("Failed to create default bus: %v", err)
	}
	return bus
}

// Subscribe registers a handler for a specific event type, or for all events
// when et is EventAny. Handlers run in the order they were subscribed, type
// handlers before global ones.
func (b *Bus) Subscribe(et EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if et == EventAny {
		b.global = append(b.global, h)
	} else {
		b.handlers[et] = append(b.handlers[et], h)
	}
}

// Log delivers evt to every matching handler and waits for them.
// The returned error joins all handler failures; the event is only added to
// history when every handler succeeded.
func (b *Bus) Log(ctx context.Context, evt Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.validate {
		if err := ValidateEvent(evt); err != nil {
			b.metrics.EventFailed(evt.Type(), FailureSchema)
			return err
		}
	}
	if b.limiter != nil && !b.limiter.Allow() {
		b.metrics.EventFailed(evt.Type(), FailureRateLimited)
		return ErrRateLimited
	}
	if !b.circuit.IsClosed() {
		b.metrics.EventFailed(evt.Type(), FailureCircuitOpen)
		return ErrCircuitOpen
	}

	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[evt.Type()])+len(b.global))
	hs = append(hs, b.handlers[evt.Type()]...)
	hs = append(hs, b.global...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range hs {
		if err := b.runHandler(ctx, h, evt); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		b.metrics.EventFailed(evt.Type(), FailureHandler)
		return errors.Join(errs...)
	}

	b.recordHistory(evt)
	b.metrics.EventLogged(evt.Type())
	return nil
}

// runHandler executes one handler, turning a panic into an error and feeding the
// circuit breaker.
func (b *Bus) runHandler(ctx context.Context, h Handler, evt Event) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		if err != nil {
			b.circuit.RecordFailure()
			b.errorFunc(err, evt)
		} else {
			b.circuit.RecordSuccess()
		}
		b.metrics.HandlerLatency(evt.Type(), time.Since(start))
	}()
	return h(ctx, evt)
}

// History returns a copy of the recent event history, oldest first.
// Access is checked with the configured AccessControlFunc, or CheckHistoryAccess.
func (b *Bus) History(ctx context.Context) ([]Event, error) {
	if err := b.checkAccess(ctx); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	hs := make([]Event, len(b.history))
	copy(hs, b.history)
	return hs, nil
}

// HistoryFor returns the recent history of a single entity.
func (b *Bus) HistoryFor(ctx context.Context, entityID string) ([]Event, error) {
	if err := b.checkAccess(ctx); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var hs []Event
	for _, evt := range b.history {
		if evt.EntityID() == entityID {
			hs = append(hs, evt)
		}
	}
	return hs, nil
}

func (b *Bus) checkAccess(ctx context.Context) error {
	if b.accessControl != nil {
		return b.accessControl(ctx)
	}
	return CheckHistoryAccess(ctx)
}

// SetHistoryCap sets the maximum number of events to store in history,
// trimming the oldest entries if needed. A value of 0 clears and disables history.
func (b *Bus) SetHistoryCap(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.historyCap = n
	if n <= 0 {
		b.history = nil
		return
	}
	if len(b.history) > n {
		b.history = append([]Event(nil), b.history[len(b.history)-n:]...)
	}
}

func (b *Bus) recordHistory(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.historyCap <= 0 {
		return
	}
	if len(b.history) < b.historyCap {
		b.history = append(b.history, evt)
		return
	}
	// Full: shift in place, the backing array never grows past historyCap.
	copy(b.history, b.history[1:])
	b.history[len(b.history)-1] = evt
}

// Close stops the bus and closes the transport. It is safe to call more than
// once; later calls return the first result.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		if b.transport != nil {
			if err := b.transport.Close(); err != nil {
				b.closeErr = fmt.Errorf("transport close: %w", err)
			}
		}
		log.Debug("audit.Bus: Close completed")
	})
	return b.closeErr
}

// circuitBreaker opens after maxFails consecutive failures and closes again
// once timeout has passed since the last failure.
type circuitBreaker struct {
	mu       sync.Mutex
	open     bool
	fails    int
	maxFails int
	timeout  time.Duration
	lastFail time.Time
	now      func() time.Time
}

func newCircuitBreaker(timeout time.Duration, maxFails int) *circuitBreaker {
	return &circuitBreaker{
		maxFails: maxFails,
		timeout:  timeout,
		now:      time.Now,
	}
}

// IsClosed reports whether events may pass, resetting an open circuit whose
// timeout has elapsed.
func (cb *circuitBreaker) IsClosed() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.open && cb.now().Sub(cb.lastFail) > cb.timeout {
		cb.open = false
		cb.fails = 0
	}
	return !cb.open
}

// RecordFailure counts a failure and opens the circuit at the threshold.
// A threshold of 0 or less never opens the circuit.
func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.fails++
	cb.lastFail = cb.now()
	if cb.maxFails > 0 && cb.fails >= cb.maxFails {
		cb.open = true
	}
}

// RecordSuccess resets the failure count while the circuit is closed.
func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.open {
		cb.fails = 0
	}
}
