package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// SetupDatabase creates the api_events table and its indexes if they do not exist.
//
// Table structure:
//   - id: VARCHAR(36) PRIMARY KEY, assigned on insert
//   - entity_id, entity_type, event_type, actor: event identity and acting user
//   - timestamp: fixed-width RFC 3339 UTC text, so it sorts lexically
//   - description, detail: free text
//   - parameters: ordered JSON array of {"name","value"}
//   - trace_id: OpenTelemetry trace id of the logging call, empty when untraced
//
// Indexes idx_entity_id and idx_timestamp support per-entity timelines.
func SetupDatabase(db *sql.DB) error {
	createTableQuery := `
CREATE TABLE IF NOT EXISTS api_events (
	id VARCHAR(36) PRIMARY KEY,
	entity_id VARCHAR(255) NOT NULL,
	entity_type VARCHAR(64) NOT NULL,
	event_type VARCHAR(64) NOT NULL,
	actor VARCHAR(255) NOT NULL,
	timestamp TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	parameters TEXT NOT NULL,
	trace_id VARCHAR(32) NOT NULL DEFAULT ''
)`
	if _, err := db.Exec(createTableQuery); err != nil {
		return fmt.Errorf("failed to create api_events table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_entity_id ON api_events (entity_id);`); err != nil {
		return fmt.Errorf("failed to create entity_id index: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_timestamp ON api_events (timestamp);`); err != nil {
		return fmt.Errorf("failed to create timestamp index: %w", err)
	}

	return nil
}

// storedTimeFormat keeps nanoseconds at a fixed width.
const storedTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// StoredEvent is an Event read back from a SQLStore.
type StoredEvent struct {
	ID      string `json:"id"`
	TraceID string `json:"traceId,omitempty"`
	Event   Event  `json:"event"`
}

// SQLStore is an EventsService that inserts events into the api_events table.
// The schema must exist; see SetupDatabase.
type SQLStore struct {
	db    *sql.DB
	newID func() string
}

var _ EventsService = (*SQLStore)(nil)

// NewSQLStore creates a SQLStore on db.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, newID: uuid.NewString}
}

// Log inserts evt with a fresh id. The trace id of the span in ctx, if any, is
// stored alongside.
func (s *SQLStore) Log(ctx context.Context, evt Event) error {
	const query = `
INSERT INTO api_events (id, entity_id, entity_type, event_type, actor, timestamp, description, detail, parameters, trace_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	params, err := json.Marshal(evt.Parameters())
	if err != nil {
		return fmt.Errorf("failed to marshal event parameters: %w", err)
	}

	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}

	id := s.newID()
	_, err = s.db.ExecContext(ctx, query,
		id,
		evt.EntityID(),
		string(evt.EntityType()),
		string(evt.Type()),
		evt.User(),
		evt.Timestamp().UTC().Format(storedTimeFormat),
		evt.Description(),
		evt.Detail(),
		string(params),
		traceID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event for entity %s: %w", evt.EntityID(), err)
	}
	log.WithFields(log.Fields{
		"id":         id,
		"entity_id":  evt.EntityID(),
		"event_type": evt.Type(),
	}).Debug("audit.SQLStore: event stored")
	return nil
}

// FindByEntity returns the events of one entity, oldest first.
func (s *SQLStore) FindByEntity(ctx context.Context, entityID string) ([]StoredEvent, error) {
	const query = `
SELECT id, entity_id, entity_type, event_type, actor, timestamp, description, detail, parameters, trace_id
FROM api_events
WHERE entity_id = ?
ORDER BY timestamp, rowid`

	rows, err := s.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for entity %s: %w", entityID, err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var (
			id, eid, entityType, eventType, user string
			ts, description, detail, rawParams   string
			traceID                              string
		)
		if err := rows.Scan(&id, &eid, &entityType, &eventType, &user, &ts,
			&description, &detail, &rawParams, &traceID); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		timestamp, err := time.Parse(storedTimeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q on event %s: %w", ts, id, err)
		}
		var params []Parameter
		if err := json.Unmarshal([]byte(rawParams), &params); err != nil {
			return nil, fmt.Errorf("invalid parameters on event %s: %w", id, err)
		}
		events = append(events, StoredEvent{
			ID:      id,
			TraceID: traceID,
			Event: NewEvent(eid, EntityType(entityType), EventType(eventType), user, timestamp,
				description, detail, params...),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event rows: %w", err)
	}
	return events, nil
}

// Close is a no-op; the caller owns the database handle.
func (s *SQLStore) Close() error {
	return nil
}
