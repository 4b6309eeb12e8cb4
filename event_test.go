package audit

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent_CapturesValues(t *testing.T) {
	ts := time.Date(2025, time.January, 2, 3, 4, 5, 6, time.UTC)
	evt := NewEvent("api-1", EntityTypeAPI, EventTypePromoted, "user@example.com", ts, "desc", "detail",
		Parameter{"a", "1"}, Parameter{"b", "2"})

	assert.Equal(t, "api-1", evt.EntityID())
	assert.Equal(t, EntityTypeAPI, evt.EntityType())
	assert.Equal(t, EventTypePromoted, evt.Type())
	assert.Equal(t, "user@example.com", evt.User())
	assert.Equal(t, ts, evt.Timestamp())
	assert.Equal(t, "desc", evt.Description())
	assert.Equal(t, "detail", evt.Detail())
	assert.Equal(t, []Parameter{{"a", "1"}, {"b", "2"}}, evt.Parameters())
}

func TestNewEvent_IsImmutable(t *testing.T) {
	params := []Parameter{{"a", "1"}, {"b", "2"}}
	evt := NewEvent("api-1", EntityTypeAPI, EventTypeUpdated, "user", time.Time{}, "", "", params...)

	params[0].Value = "changed"
	got := evt.Parameters()
	got[1].Value = "changed"

	assert.Equal(t, []Parameter{{"a", "1"}, {"b", "2"}}, evt.Parameters())
}

func TestNewEvent_WithoutParameters(t *testing.T) {
	evt := NewEvent("api-1", EntityTypeAPI, EventTypeUpdated, "user", time.Time{}, "", "")
	assert.Empty(t, evt.Parameters())

	_, ok := evt.Parameter("anything")
	assert.False(t, ok)
}

type version struct{ major, minor int }

func (v version) String() string { return fmt.Sprintf("v%d.%d", v.major, v.minor) }

func TestNewParameter_RendersValues(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string", "abc", "abc"},
		{"string pointer", ptr("egress"), "egress"},
		{"nil string pointer", (*string)(nil), ""},
		{"nil", nil, ""},
		{"int", 101, "101"},
		{"int64", int64(-7), "-7"},
		{"bool", true, "true"},
		{"stringer", version{1, 2}, "v1.2"},
		{"other", 1.5, "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Parameter{Name: "p", Value: tt.want}, NewParameter("p", tt.value))
		})
	}
}

func TestEvent_JSONKeepsParameterOrder(t *testing.T) {
	ts := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)
	evt := NewEvent("api-1", EntityTypeAPI, EventTypeTeamChanged, "user", ts, "", "",
		Parameter{"z", "1"}, Parameter{"a", "2"}, Parameter{"m", "3"})

	data, err := json.Marshal(evt)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"entityId": "api-1",
		"entityType": "Api",
		"eventType": "TeamChanged",
		"user": "user",
		"timestamp": "2025-01-02T03:04:05Z",
		"description": "",
		"detail": "",
		"parameters": [{"name":"z","value":"1"},{"name":"a","value":"2"},{"name":"m","value":"3"}]
	}`, string(data))

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, evt.Parameters(), decoded.Parameters())
	assert.True(t, ts.Equal(decoded.Timestamp()))
}
