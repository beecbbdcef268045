package workbench

import (
	"errors"
	"fmt"
)

// Registration conflicts.
var (
	ErrModelExists    = errors.New("model already registered")
	ErrInstanceExists = errors.New("instance already exists")
)

// Invalid arguments.
var (
	ErrInvalidName  = errors.New("invalid name")
	ErrInvalidTimer = errors.New("invalid timer")
	ErrInvalidDelay = errors.New("invalid delay")
)

// Missing registrations.
var (
	ErrUnknownModel       = errors.New("model not registered")
	ErrInstanceNotFound   = errors.New("instance not found")
	ErrPropertyNotFound   = errors.New("property not found")
	ErrNoMessageProcessor = errors.New("model does not process messages")
	ErrNoSimProcessor     = errors.New("model does not process simulation steps")
	ErrNoFactory          = errors.New("model cannot create new instances")
	ErrUndecodable        = errors.New("message could not be decoded")
	ErrMessageType        = errors.New("message has unexpected type")
	ErrTwinType           = errors.New("instance has unexpected type")
)

// State-machine violations.
var (
	ErrNotInitializing  = errors.New("simulation already started")
	ErrNotRunning       = errors.New("simulation is not running")
	ErrCompleted        = errors.New("simulation has completed")
	ErrNoWork           = errors.New("no simulation instances were registered, no work to do")
	ErrIdentityConflict = errors.New("instance already initialised with a different identity")
	ErrClosed           = errors.New("workbench is closed")
)

// Capabilities that are not available in the calling context.
var (
	ErrNotAvailable = errors.New("not available in this context")
	ErrNoDataSource = errors.New("data source is not available")
)

// ErrDepthLimit is matched by every *DepthLimitError.
var ErrDepthLimit = errors.New("max message depth reached")

// MaxMessageDepth bounds nested sends within a single call chain. A send whose
// depth would reach this value fails instead of being delivered.
const MaxMessageDepth = 100

// A DepthLimitError reports a message chain that reached MaxMessageDepth.
type DepthLimitError struct {
	FromModel, FromID string // The sender.
	ToModel, ToID     string // The refused target.
}

func (e *DepthLimitError) Error() string {
	return fmt.Sprintf("max message depth of %d reached sending from %s/%s to %s/%s",
		MaxMessageDepth, e.FromModel, e.FromID, e.ToModel, e.ToID)
}

// Is reports whether target is ErrDepthLimit.
func (e *DepthLimitError) Is(target error) bool { return target == ErrDepthLimit }
