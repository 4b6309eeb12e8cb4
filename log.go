package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
)

// LogConfig holds the settings for the audit log sinks.
type LogConfig struct {
	// FilePath is the JSON-lines log file. Empty disables file logging.
	FilePath string
	// MaxSizeMB is the size in megabytes at which the file is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int
	// Compress gzips rotated files.
	Compress bool
	// RedactUser masks the user email in file records.
	RedactUser bool
}

// DefaultLogConfig returns the default log sink settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		FilePath:   "",
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Compress:   true,
	}
}

// LogOption configures LogConfig.
type LogOption func(*LogConfig)

// WithFilePath sets the JSON-lines log file.
func WithFilePath(path string) LogOption {
	return func(cfg *LogConfig) { cfg.FilePath = path }
}

// WithMaxSizeMB sets the rotation size.
func WithMaxSizeMB(size int) LogOption {
	return func(cfg *LogConfig) { cfg.MaxSizeMB = size }
}

// WithMaxBackups sets the number of rotated files kept.
func WithMaxBackups(backups int) LogOption {
	return func(cfg *LogConfig) { cfg.MaxBackups = backups }
}

// WithMaxAgeDays sets the retention of rotated files.
func WithMaxAgeDays(days int) LogOption {
	return func(cfg *LogConfig) { cfg.MaxAgeDays = days }
}

// WithCompress enables or disables compression of rotated files.
func WithCompress(compress bool) LogOption {
	return func(cfg *LogConfig) { cfg.Compress = compress }
}

// WithRedactUser enables masking of the user email in file records.
func WithRedactUser(redact bool) LogOption {
	return func(cfg *LogConfig) { cfg.RedactUser = redact }
}

// SetupLogging subscribes the configured sinks to every event on bus: the
// rotating file log when a file path is set, and a SQLStore when db is non-nil.
// The database schema is created if missing. The returned closers should be
// called on shutdown.
func SetupLogging(bus *Bus, db *sql.DB, opts ...LogOption) ([]func() error, error) {
	cfg := DefaultLogConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	// The schema must exist before any sink is subscribed, so a failure
	// leaves the bus untouched.
	if db != nil {
		if err := SetupDatabase(db); err != nil {
			return nil, fmt.Errorf("audit: database setup failed: %w", err)
		}
	}

	var closers []func() error

	if cfg.FilePath != "" {
		fh := newFileHandler(cfg)
		bus.Subscribe(EventAny, fh.Handle)
		closers = append(closers, fh.Close)
	}

	if db != nil {
		store := NewSQLStore(db)
		bus.Subscribe(EventAny, store.Log)
		closers = append(closers, store.Close)
	}

	return closers, nil
}

// fileHandler writes one JSON line per event to a rotating log file.
type fileHandler struct {
	logger *lumberjack.Logger
	redact bool
	mu     sync.Mutex
}

func newFileHandler(cfg LogConfig) *fileHandler {
	return &fileHandler{
		logger: &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
		redact: cfg.RedactUser,
	}
}

// fileRecord is the line written for each event.
type fileRecord struct {
	EntityID    string      `json:"entityId"`
	EntityType  EntityType  `json:"entityType"`
	EventType   EventType   `json:"eventType"`
	User        string      `json:"user"`
	Timestamp   string      `json:"timestamp"`
	Description string      `json:"description,omitempty"`
	Detail      string      `json:"detail,omitempty"`
	Parameters  []Parameter `json:"parameters"`
}

// Handle writes evt to the log file.
func (h *fileHandler) Handle(_ context.Context, evt Event) error {
	user := evt.User()
	if h.redact {
		user = RedactEmail(user)
	}
	data, err := json.Marshal(fileRecord{
		EntityID:    evt.EntityID(),
		EntityType:  evt.EntityType(),
		EventType:   evt.Type(),
		User:        user,
		Timestamp:   evt.Timestamp().Format(time.RFC3339Nano),
		Description: evt.Description(),
		Detail:      evt.Detail(),
		Parameters:  evt.Parameters(),
	})
	if err != nil {
		return fmt.Errorf("audit: fileHandler failed to marshal event record: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.logger.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: fileHandler failed to write to log file: %w", err)
	}
	return nil
}

// Close closes the current log file.
func (h *fileHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.logger.Close()
}
