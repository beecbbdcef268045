package workbench

import (
	"fmt"
	"math"
	"time"

	"github.com/go-digitaltwin/go-workbench/internal/schedule"
)

// Instance is a stateful digital twin identified by its model name and id.
//
// Every instance type is a pointer to a named struct that embeds TwinBase, for
// example:
//
//	type Car struct {
//		workbench.TwinBase
//		Speed int
//	}
//
// The engine binds the identity exactly once, before delivering any message or
// simulation step to the instance.
type Instance interface {
	ID() string
	Model() string
	// Only TwinBase implements this, forcing instance types to embed it.
	bind(id, model string) (first bool, err error)
	unbind()
}

// TwinBase holds the identity of an Instance. Embed it in every instance type.
// Its fields are unexported, so it does not leak into the JSON representation
// of the embedding type.
type TwinBase struct {
	id, model string
	bound     bool
}

// ID returns the instance id, or an empty string before the engine binds it.
func (b *TwinBase) ID() string { return b.id }

// Model returns the model name, or an empty string before the engine binds it.
func (b *TwinBase) Model() string { return b.model }

func (b *TwinBase) bind(id, model string) (bool, error) {
	if b.bound {
		if b.id != id || b.model != model {
			return false, fmt.Errorf("%w: bound to %s/%s, got %s/%s", ErrIdentityConflict, b.model, b.id, model, id)
		}
		return false, nil
	}
	b.id, b.model, b.bound = id, model, true
	return true, nil
}

func (b *TwinBase) unbind() { b.id, b.model, b.bound = "", "", false }

// An Initializer is an Instance with a one-time initialisation hook. Init runs
// right after the identity is bound, and the binding only sticks once Init
// succeeds: an instance whose Init failed can be registered again. Timers
// started from Init belong to the instance.
type Initializer interface {
	Init(ctx InitContext) error
}

// initTwin binds the identity of twin and calls its Init hook on first binding.
// A failed Init leaves twin unbound.
func initTwin(twin Instance, id, model string, ic InitContext) error {
	first, err := twin.bind(id, model)
	if err != nil || !first {
		return err
	}
	if i, ok := twin.(Initializer); ok {
		if err := i.Init(ic); err != nil {
			twin.unbind()
			return fmt.Errorf("init %s/%s: %w", model, id, err)
		}
	}
	return nil
}

// ProcessingResult tells whether a behaviour mutated its instance. The
// in-process workbenches treat it as informational.
type ProcessingResult int

const (
	DoUpdate ProcessingResult = iota
	NoUpdate
)

func (r ProcessingResult) String() string {
	switch r {
	case DoUpdate:
		return "DoUpdate"
	case NoUpdate:
		return "NoUpdate"
	default:
		return fmt.Sprintf("ProcessingResult(%d)", int(r))
	}
}

// TimerType selects whether a timer fires once or until stopped.
type TimerType int

const (
	Recurring TimerType = iota
	OneTime
)

func (t TimerType) String() string {
	switch t {
	case Recurring:
		return "Recurring"
	case OneTime:
		return "OneTime"
	default:
		return fmt.Sprintf("TimerType(%d)", int(t))
	}
}

// TimerActionResult reports the outcome of starting or stopping a timer.
type TimerActionResult int

const (
	Success TimerActionResult = iota
	FailedTooManyTimers
	FailedNoSuchTimer
	FailedTimerAlreadyExists
	FailedInternalError
)

func (r TimerActionResult) String() string {
	switch r {
	case Success:
		return "Success"
	case FailedTooManyTimers:
		return "FailedTooManyTimers"
	case FailedNoSuchTimer:
		return "FailedNoSuchTimer"
	case FailedTimerAlreadyExists:
		return "FailedTimerAlreadyExists"
	case FailedInternalError:
		return "FailedInternalError"
	default:
		return fmt.Sprintf("TimerActionResult(%d)", int(r))
	}
}

// TimerHandler is called each time a timer fires, with a processing context
// bound to the instance that started the timer.
type TimerHandler func(pc ProcessingContext, name string, twin Instance) (ProcessingResult, error)

// MaxTime is the next simulation time reported when no work remains.
var MaxTime = schedule.Never

// MaxDelay passed to SimulationController.Delay is the same as calling
// DelayIndefinitely.
const MaxDelay = time.Duration(math.MaxInt64)
