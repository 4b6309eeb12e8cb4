package audit

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// EventsService persists or forwards audit events.
// Log blocks until the event has been handled and reports the outcome; any
// timeout or cancellation policy belongs to the implementation.
type EventsService interface {
	Log(ctx context.Context, evt Event) error
}

// EventsServiceFunc adapts an ordinary function to the EventsService interface.
type EventsServiceFunc func(ctx context.Context, evt Event) error

// Log calls f(ctx, evt).
func (f EventsServiceFunc) Log(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// HipEnvironment is a deployment target environment.
type HipEnvironment struct {
	ID               string
	Name             string
	Rank             int
	IsProductionLike bool
}

// Team is a team that can own APIs.
type Team struct {
	ID   string
	Name string
}

// DeploymentRequest describes a redeployment of an API to an environment.
type DeploymentRequest struct {
	Description string
	Status      string
	BasePath    string
	Domain      string
	SubDomain   string
	Hods        []string
	// Egress is the egress gateway id, absent when the API has no egress.
	Egress *string
}

// DeploymentResponse is the result of a successful deployment.
type DeploymentResponse struct {
	ID              string
	Version         string
	MergeRequestIid int
	URI             string
}

// Parameter names used by APIEventService. Audit viewers depend on them.
const (
	ParamEnvironmentID     = "environmentId"
	ParamFromEnvironmentID = "fromEnvironmentId"
	ParamToEnvironmentID   = "toEnvironmentId"
	ParamOASVersion        = "oasVersion"
	ParamEgress            = "egress"
	ParamStatus            = "status"
	ParamBasePath          = "basePath"
	ParamDeploymentVersion = "deploymentVersion"
	ParamMergeRequestIid   = "mergeRequestIid"
	ParamNewTeamID         = "newTeamId"
	ParamNewTeamName       = "newTeamName"
	ParamOldTeamID         = "oldTeamId"
	ParamOldTeamName       = "oldTeamName"
)

// APIEventService translates API lifecycle operations into audit events and
// hands them to an EventsService.
//
// It holds no state of its own and performs no validation. Errors from the
// EventsService are returned unchanged and never retried.
type APIEventService struct {
	events EventsService
}

// NewAPIEventService creates an APIEventService that logs through events.
func NewAPIEventService(events EventsService) *APIEventService {
	return &APIEventService{events: events}
}

// Update records that an API was redeployed to hipEnvironment.
func (s *APIEventService) Update(
	ctx context.Context,
	apiID string,
	hipEnvironment HipEnvironment,
	oasVersion string,
	request DeploymentRequest,
	response DeploymentResponse,
	userEmail string,
	timestamp time.Time,
) error {
	return s.log(ctx, apiID, EventTypeUpdated, userEmail, timestamp,
		NewParameter(ParamEnvironmentID, hipEnvironment.ID),
		NewParameter(ParamOASVersion, oasVersion),
		NewParameter(ParamEgress, request.Egress),
		NewParameter(ParamStatus, request.Status),
		NewParameter(ParamBasePath, request.BasePath),
		NewParameter(ParamDeploymentVersion, response.Version),
		NewParameter(ParamMergeRequestIid, response.MergeRequestIid),
	)
}

// Promote records that an API was promoted between environments.
func (s *APIEventService) Promote(
	ctx context.Context,
	apiID string,
	fromEnvironment HipEnvironment,
	toEnvironment HipEnvironment,
	oasVersion string,
	egress string,
	response DeploymentResponse,
	userEmail string,
	timestamp time.Time,
) error {
	return s.log(ctx, apiID, EventTypePromoted, userEmail, timestamp,
		NewParameter(ParamFromEnvironmentID, fromEnvironment.ID),
		NewParameter(ParamToEnvironmentID, toEnvironment.ID),
		NewParameter(ParamOASVersion, oasVersion),
		NewParameter(ParamEgress, egress),
		NewParameter(ParamDeploymentVersion, response.Version),
		NewParameter(ParamMergeRequestIid, response.MergeRequestIid),
	)
}

// ChangeTeam records that an API moved to newTeam. The old team parameters are
// only present when oldTeam is non-nil.
func (s *APIEventService) ChangeTeam(
	ctx context.Context,
	apiID string,
	newTeam Team,
	oldTeam *Team,
	userEmail string,
	timestamp time.Time,
) error {
	params := []Parameter{
		NewParameter(ParamNewTeamID, newTeam.ID),
		NewParameter(ParamNewTeamName, newTeam.Name),
	}
	if oldTeam != nil {
		params = append(params,
			NewParameter(ParamOldTeamID, oldTeam.ID),
			NewParameter(ParamOldTeamName, oldTeam.Name),
		)
	}
	return s.log(ctx, apiID, EventTypeTeamChanged, userEmail, timestamp, params...)
}

func (s *APIEventService) log(
	ctx context.Context,
	apiID string,
	eventType EventType,
	userEmail string,
	timestamp time.Time,
	params ...Parameter,
) error {
	evt := NewEvent(apiID, EntityTypeAPI, eventType, userEmail, timestamp, "", "", params...)
	log.WithFields(log.Fields{
		"api_id":     apiID,
		"event_type": eventType,
		"parameters": len(params),
	}).Debug("audit.APIEventService: logging event")
	return s.events.Log(ctx, evt)
}
