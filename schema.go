package audit

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ErrSchemaViolation is wrapped by ValidateEvent failures.
var ErrSchemaViolation = errors.New("schema violation")

// EventSchema describes the positional parameter layout of an event type.
// Audit viewers render parameters by position, so the layout is part of the
// contract with them.
//
// Fields:
//   - Parameters: names that must appear first, in this order
//   - Optional: names that may follow, all together and in this order, or not at all
//
// Example:
//
//	audit.RegisterSchema(audit.EventTypeTeamChanged, audit.EventSchema{
//	    Parameters: []string{"newTeamId", "newTeamName"},
//	    Optional:   []string{"oldTeamId", "oldTeamName"},
//	})
type EventSchema struct {
	Parameters []string
	Optional   []string
}

var (
	schemaRegistry = make(map[EventType]EventSchema)
	schemaMu       sync.RWMutex
)

func init() {
	RegisterSchema(EventTypeUpdated, EventSchema{
		Parameters: []string{
			ParamEnvironmentID,
			ParamOASVersion,
			ParamEgress,
			ParamStatus,
			ParamBasePath,
			ParamDeploymentVersion,
			ParamMergeRequestIid,
		},
	})
	RegisterSchema(EventTypePromoted, EventSchema{
		Parameters: []string{
			ParamFromEnvironmentID,
			ParamToEnvironmentID,
			ParamOASVersion,
			ParamEgress,
			ParamDeploymentVersion,
			ParamMergeRequestIid,
		},
	})
	RegisterSchema(EventTypeTeamChanged, EventSchema{
		Parameters: []string{ParamNewTeamID, ParamNewTeamName},
		Optional:   []string{ParamOldTeamID, ParamOldTeamName},
	})
}

// RegisterSchema adds or replaces the schema of an event type.
// Safe for concurrent use.
func RegisterSchema(et EventType, s EventSchema) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	schemaRegistry[et] = s
}

// SchemaFor returns the schema registered for et.
func SchemaFor(et EventType) (EventSchema, bool) {
	schemaMu.RLock()
	defer schemaMu.RUnlock()
	s, ok := schemaRegistry[et]
	return s, ok
}

// ValidateEvent checks the parameter names of evt against its registered schema.
// Events without a schema are valid.
func ValidateEvent(evt Event) error {
	s, ok := SchemaFor(evt.Type())
	if !ok {
		return nil
	}
	names := make([]string, 0, len(evt.parameters))
	for _, p := range evt.parameters {
		names = append(names, p.Name)
	}
	if slices.Equal(names, s.Parameters) {
		return nil
	}
	if len(s.Optional) > 0 && slices.Equal(names, slices.Concat(s.Parameters, s.Optional)) {
		return nil
	}
	return fmt.Errorf("%w for %s: parameters [%s] do not match layout [%s]",
		ErrSchemaViolation, evt.Type(), strings.Join(names, ", "), strings.Join(s.Parameters, ", "))
}
