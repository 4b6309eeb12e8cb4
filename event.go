package audit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// EventType identifies the kind of lifecycle action an event records.
// It is used to categorize events and allow subscribers to filter events of interest.
type EventType string

// EventAny is a special event type used to subscribe to all events, regardless of their specific type.
// It is only meaningful to Bus.Subscribe and is never carried by an Event.
const EventAny EventType = "*"

// API lifecycle event types.
const (
	// EventTypeUpdated is emitted when an API is redeployed to an environment
	EventTypeUpdated EventType = "Updated"
	// EventTypePromoted is emitted when an API is promoted from one environment to another
	EventTypePromoted EventType = "Promoted"
	// EventTypeTeamChanged is emitted when ownership of an API moves to another team
	EventTypeTeamChanged EventType = "TeamChanged"
	// EventTypeCreated is emitted when an entity is first created
	EventTypeCreated EventType = "Created"
	// EventTypeDeleted is emitted when an entity is removed
	EventTypeDeleted EventType = "Deleted"
	// EventTypeRegistered is emitted when an existing entity is registered with the hub
	EventTypeRegistered EventType = "Registered"
)

// EntityType identifies the kind of entity an event is about.
type EntityType string

const (
	EntityTypeAPI         EntityType = "Api"
	EntityTypeApplication EntityType = "Application"
	EntityTypeTeam        EntityType = "Team"
)

// Parameter is a named value attached to an Event.
// Parameters are order-significant: audit viewers render them positionally.
type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewParameter creates a Parameter, rendering value as a string.
//
// Strings are kept as is, *string is dereferenced (nil becomes ""), integers are
// written in base 10 and fmt.Stringer values use String(). Anything else goes
// through fmt.Sprint.
func NewParameter(name string, value any) Parameter {
	return Parameter{Name: name, Value: renderValue(value)}
}

func renderValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case *string:
		if v == nil {
			return ""
		}
		return *v
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Event is an immutable audit record of a lifecycle action taken on an entity.
// Events are created once by NewEvent and never modified afterwards; accessors
// return copies of any mutable state.
type Event struct {
	entityID    string
	entityType  EntityType
	eventType   EventType
	user        string
	timestamp   time.Time
	description string
	detail      string
	parameters  []Parameter
}

// NewEvent creates an Event capturing exactly the supplied values.
// The parameter order is preserved as supplied, and the slice is copied so later
// changes by the caller do not reach the event.
//
// Parameters:
//   - entityID: identifier of the subject entity
//   - entityType: category of the subject entity
//   - eventType: category of the lifecycle action
//   - user: identifier of the acting principal, usually an email address
//   - timestamp: when the action happened
//   - description, detail: free text, may be empty
//   - params: ordered event parameters
func NewEvent(
	entityID string,
	entityType EntityType,
	eventType EventType,
	user string,
	timestamp time.Time,
	description string,
	detail string,
	params ...Parameter,
) Event {
	return Event{
		entityID:    entityID,
		entityType:  entityType,
		eventType:   eventType,
		user:        user,
		timestamp:   timestamp,
		description: description,
		detail:      detail,
		parameters:  append([]Parameter{}, params...),
	}
}

// EntityID returns the identifier of the subject entity.
func (e Event) EntityID() string { return e.entityID }

// EntityType returns the category of the subject entity.
func (e Event) EntityType() EntityType { return e.entityType }

// Type returns the category of the lifecycle action.
func (e Event) Type() EventType { return e.eventType }

// User returns the identifier of the acting principal.
func (e Event) User() string { return e.user }

// Timestamp returns when the action happened.
func (e Event) Timestamp() time.Time { return e.timestamp }

// Description returns the free-text description, if any.
func (e Event) Description() string { return e.description }

// Detail returns the free-text detail, if any.
func (e Event) Detail() string { return e.detail }

// Parameters returns a copy of the ordered event parameters.
func (e Event) Parameters() []Parameter {
	return append([]Parameter{}, e.parameters...)
}

// Parameter returns the value of the first parameter with the given name.
func (e Event) Parameter(name string) (string, bool) {
	for _, p := range e.parameters {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// eventJSON is the wire form of an Event.
type eventJSON struct {
	EntityID    string      `json:"entityId"`
	EntityType  EntityType  `json:"entityType"`
	EventType   EventType   `json:"eventType"`
	User        string      `json:"user"`
	Timestamp   time.Time   `json:"timestamp"`
	Description string      `json:"description"`
	Detail      string      `json:"detail"`
	Parameters  []Parameter `json:"parameters"`
}

// MarshalJSON encodes the event with its parameters as an ordered array.
func (e Event) MarshalJSON() ([]byte, error) {
	params := e.parameters
	if params == nil {
		params = []Parameter{}
	}
	return json.Marshal(eventJSON{
		EntityID:    e.entityID,
		EntityType:  e.entityType,
		EventType:   e.eventType,
		User:        e.user,
		Timestamp:   e.timestamp,
		Description: e.description,
		Detail:      e.detail,
		Parameters:  params,
	})
}

// UnmarshalJSON decodes an event written by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	*e = NewEvent(raw.EntityID, raw.EntityType, raw.EventType, raw.User, raw.Timestamp,
		raw.Description, raw.Detail, raw.Parameters...)
	return nil
}
