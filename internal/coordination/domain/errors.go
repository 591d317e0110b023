package coordination

import "errors"

var (
	// ErrInvalidEvent indicates a DR event with a non-positive duration.
	ErrInvalidEvent = errors.New("coordination: invalid event")
	// ErrTrajectoryLength indicates a trajectory that does not match the configured length.
	ErrTrajectoryLength = errors.New("coordination: trajectory length mismatch")
	// ErrEmptyActionSpace indicates an action space without actions.
	ErrEmptyActionSpace = errors.New("coordination: empty action space")
	// ErrDuplicateAction indicates an action listed twice in the action space.
	ErrDuplicateAction = errors.New("coordination: duplicate action")
	// ErrActionSpaceMismatch indicates an oracle score vector that does not cover the action space.
	ErrActionSpaceMismatch = errors.New("coordination: action space does not match oracle scores")
	// ErrUnknownAction indicates an action outside the action space.
	ErrUnknownAction = errors.New("coordination: action not in action space")
	// ErrMissingState indicates a participant without a baseline state.
	ErrMissingState = errors.New("coordination: missing baseline state")
	// ErrMissingOracle indicates a participant without an oracle.
	ErrMissingOracle = errors.New("coordination: missing oracle")
	// ErrLevelOutOfRange indicates a response level outside the ladder.
	ErrLevelOutOfRange = errors.New("coordination: response level out of range")
	// ErrEventActive indicates a DR event is already running.
	ErrEventActive = errors.New("coordination: event already active")
	// ErrNoActiveEvent indicates there is no DR event to cancel.
	ErrNoActiveEvent = errors.New("coordination: no active event")
	// ErrEventNotFound indicates an unknown event id.
	ErrEventNotFound = errors.New("coordination: event not found")
	// ErrMeasurementsUnavailable indicates telemetry could not be resolved.
	ErrMeasurementsUnavailable = errors.New("coordination: measurements unavailable")
)
