// Package audit records lifecycle actions on API Hub entities as immutable audit events.
//
// Core Concepts:
//
//   - Event: an immutable record of one action on one entity. It carries the entity id and
//     type, the EventType, the acting user, a timestamp, optional free text, and an ordered
//     list of Parameters. Events are built with NewEvent and never change afterwards.
//
//   - Parameter: a named string value. Parameter order is part of the contract: audit viewers
//     render parameters by position. Each EventType has a registered EventSchema describing
//     its layout.
//
//   - EventsService: anything that can Log an Event. Log blocks until the event is handled
//     and returns the outcome.
//
//   - APIEventService: turns API lifecycle operations (Update, Promote, ChangeTeam) into
//     events with a fixed parameter layout and logs them through an EventsService. It does no
//     validation and no retries; a Log failure is returned to the caller unchanged.
//
// Collaborators:
//
//  1. Bus: an in-process EventsService that fans events out to subscribed handlers, with a
//     rate limiter, a circuit breaker, optional schema validation, a bounded history
//     guarded by access control, and Prometheus metrics.
//
//  2. SQLStore: persists events to the api_events table (SQLite via database/sql) and reads
//     an entity's timeline back with FindByEntity.
//
//  3. File log: SetupLogging subscribes a rotating JSON-lines file (lumberjack) and a
//     SQLStore to a Bus.
//
//  4. KafkaTransport: publishes events to a Kafka topic keyed by entity id, retrying with
//     exponential backoff.
//
// Configuration uses functional options (BusOption, LogOption, KafkaOption); Config loads the
// same settings from AUDIT_* environment variables.
//
// Example:
//
//	bus, err := audit.NewBus(audit.WithSchemaValidation(true))
//	if err != nil {
//	    return err
//	}
//	defer bus.Close()
//
//	closers, err := audit.SetupLogging(bus, db, audit.WithFilePath("/var/log/api-events.log"))
//	if err != nil {
//	    return err
//	}
//	for _, c := range closers {
//	    defer c()
//	}
//
//	events := audit.NewAPIEventService(bus)
//	err = events.ChangeTeam(ctx, apiID, newTeam, &oldTeam, "jo.bloggs@example.com", time.Now())
package audit
