package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSetupDatabase(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, SetupDatabase(db))
	require.NoError(t, SetupDatabase(db), "setup must be repeatable")

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='index' AND tbl_name='api_events'`)
	require.NoError(t, err)
	defer rows.Close()

	indexes := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		indexes[name] = true
	}
	require.NoError(t, rows.Err())
	assert.True(t, indexes["idx_entity_id"], "missing idx_entity_id")
	assert.True(t, indexes["idx_timestamp"], "missing idx_timestamp")
}

func TestSQLStore_LogAndFindByEntity(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, SetupDatabase(db))
	store := NewSQLStore(db)
	ctx := context.Background()

	later := NewEvent("api-1", EntityTypeAPI, EventTypePromoted, "user@example.com",
		testTimestamp.Add(time.Hour), "", "",
		Parameter{"fromEnvironmentId", "test"}, Parameter{"toEnvironmentId", "prod"})
	earlier := NewEvent("api-1", EntityTypeAPI, EventTypeTeamChanged, "user@example.com",
		testTimestamp.Add(1500*time.Millisecond), "moved", "ticket 42",
		Parameter{"newTeamId", "t2"}, Parameter{"newTeamName", "Two"},
		Parameter{"oldTeamId", "t1"}, Parameter{"oldTeamName", "One"})
	earliest := NewEvent("api-1", EntityTypeAPI, EventTypeUpdated, "user@example.com",
		testTimestamp.Add(time.Second).In(time.FixedZone("CET", 3600)), "", "")
	other := NewEvent("api-2", EntityTypeAPI, EventTypeUpdated, "user@example.com", testTimestamp, "", "")

	for _, evt := range []Event{later, earlier, earliest, other} {
		require.NoError(t, store.Log(ctx, evt))
	}

	stored, err := store.FindByEntity(ctx, "api-1")
	require.NoError(t, err)
	require.Len(t, stored, 3)

	assert.Equal(t, EventTypeUpdated, stored[0].Event.Type())
	assert.Equal(t, EventTypeTeamChanged, stored[1].Event.Type())
	assert.Equal(t, EventTypePromoted, stored[2].Event.Type())

	assert.True(t, earliest.Timestamp().Equal(stored[0].Event.Timestamp()))
	assert.Equal(t, earlier.Parameters(), stored[1].Event.Parameters())
	assert.Equal(t, "moved", stored[1].Event.Description())
	assert.Equal(t, "ticket 42", stored[1].Event.Detail())
	assert.Equal(t, EntityTypeAPI, stored[1].Event.EntityType())
	assert.Equal(t, "user@example.com", stored[1].Event.User())
	assert.Empty(t, stored[0].Event.Parameters())
	assert.Empty(t, stored[0].TraceID)

	ids := map[string]bool{}
	for _, s := range stored {
		ids[s.ID] = true
	}
	assert.Len(t, ids, 3, "ids must be distinct")

	none, err := store.FindByEntity(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLStore_StoresTraceID(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, SetupDatabase(db))
	store := NewSQLStore(db)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36},
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	evt := NewEvent("api-1", EntityTypeAPI, EventTypeUpdated, "user", testTimestamp, "", "")
	require.NoError(t, store.Log(ctx, evt))

	stored, err := store.FindByEntity(context.Background(), "api-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", stored[0].TraceID)
}

func TestSQLStore_LogFailsWithoutSchema(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	err := store.Log(context.Background(), NewEvent("api-1", EntityTypeAPI, EventTypeUpdated, "user", testTimestamp, "", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api-1")
}

func TestNonLatinCharacters(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, SetupDatabase(db))
	store := NewSQLStore(db)

	evt := NewEvent("api-1", EntityTypeAPI, EventTypeTeamChanged, "josé@exemplo.com", testTimestamp, "", "",
		Parameter{"newTeamId", "チーム"}, Parameter{"newTeamName", "Équipe 🚀"})
	require.NoError(t, store.Log(context.Background(), evt))

	stored, err := store.FindByEntity(context.Background(), "api-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, evt.Parameters(), stored[0].Event.Parameters())
	assert.Equal(t, "josé@exemplo.com", stored[0].Event.User())
}
