package workbench

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielorbach/go-component"
)

// InitContext is handed to Initializer.Init when an instance is first bound.
type InitContext interface {
	// StartTimer starts a timer owned by the initialising instance. In a
	// simulation that has not started yet, the timer first fires one interval
	// after the simulation start.
	StartTimer(name string, interval time.Duration, typ TimerType, h TimerHandler) (TimerActionResult, error)
	SharedModelData() *SharedData
	SharedGlobalData() *SharedData
}

// InitSimulationContext is handed to SimulationInitializer hooks.
type InitSimulationContext interface {
	SharedModelData() *SharedData
	SharedGlobalData() *SharedData
}

// ProcessingContext is handed to every behaviour invocation: message
// processing, simulation steps, and timer callbacks. It is bound to a single
// instance and is only valid for the duration of the invocation.
type ProcessingContext interface {
	// Context carries the caller's cancellation and logger.
	Context() context.Context

	Model() string
	InstanceID() string
	// DataSourceID returns the id of the instance recorded as the data source
	// of the bound instance, if any.
	DataSourceID() (string, bool)
	// Now returns the simulated time in simulation mode and the wall-clock
	// time in real-time mode.
	Now() time.Time

	// SendToTwin delivers msgs to the target instance, creating it if the
	// target model has a factory. An empty model means the model of the bound
	// instance.
	SendToTwin(model, id string, msgs ...any) error
	// SendBytesToTwin is like SendToTwin but decodes msgs with the target
	// model's decoder first, dropping undecodable messages.
	SendBytesToTwin(model, id string, msgs ...[]byte) error
	// SendToDataSource replies to whichever party created the bound instance.
	SendToDataSource(msgs ...any) error
	SendBytesToDataSource(msgs ...[]byte) error
	SendAlert(provider string, alert AlertMessage) error

	StartTimer(name string, interval time.Duration, typ TimerType, h TimerHandler) (TimerActionResult, error)
	StopTimer(name string) (TimerActionResult, error)

	SharedModelData() *SharedData
	SharedGlobalData() *SharedData

	Log(severity LogSeverity, msg string, args ...any)

	// Persistence returns the persistence provider of the workbench, or
	// ErrNotAvailable.
	Persistence() (PersistenceProvider, error)
	AnomalyDetector(name string) (AnomalyDetector, bool)
	// SimulationController reports false outside of simulation mode.
	SimulationController() (SimulationController, bool)
}

// SimulationController exposes the scheduling controls of the simulation
// workbench to the bound instance.
type SimulationController interface {
	// Delay postpones the next step of the bound instance by d, rounded up to
	// a whole number of simulation intervals. Delay(MaxDelay) is the same as
	// DelayIndefinitely. Delays requested from timer callbacks are ignored.
	Delay(d time.Duration) error
	// DelayIndefinitely leaves the bound instance dormant until another
	// instance calls RunThisTwin on its behalf.
	DelayIndefinitely()
	// StopSimulation completes the simulation at the end of the current step.
	StopSimulation()
	DeleteThisTwin()
	DeleteTwin(model, id string) error
	// RunThisTwin schedules the bound instance at the current simulated
	// instant. It is how a dormant instance is woken up by a message.
	RunThisTwin() error
	// EmitTelemetry sends msg to the instance of model sharing the bound
	// instance's id, recording the bound instance as its data source.
	EmitTelemetry(model string, msg any) error
	EmitTelemetryBytes(model string, msg []byte) error
	CreateTwin(model, id string, twin Instance) error
	CreateTwinFromPersistenceStore(model, id string) error
	StartTime() time.Time
	Interval() time.Duration
}

// LogSeverity is the severity of a message logged through a ProcessingContext.
type LogSeverity int

const (
	Verbose LogSeverity = iota
	Informational
	Warning
	Error
	Critical
	None
)

// LevelCritical is the slog level of Critical messages.
const LevelCritical = slog.LevelError + 4

func (s LogSeverity) String() string {
	switch s {
	case Verbose:
		return "Verbose"
	case Informational:
		return "Informational"
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	case Critical:
		return "Critical"
	case None:
		return "None"
	default:
		return fmt.Sprintf("LogSeverity(%d)", int(s))
	}
}

// Level maps s onto a slog level. None has no level.
func (s LogSeverity) Level() (slog.Level, bool) {
	switch s {
	case Verbose:
		return slog.LevelDebug, true
	case Informational:
		return slog.LevelInfo, true
	case Warning:
		return slog.LevelWarn, true
	case Error:
		return slog.LevelError, true
	case Critical:
		return LevelCritical, true
	default:
		return 0, false
	}
}

// logFor writes msg to the logger carried by ctx, annotated with the instance
// identity.
func logFor(ctx context.Context, model, id string, severity LogSeverity, msg string, args ...any) {
	level, ok := severity.Level()
	if !ok {
		return
	}
	component.Logger(ctx).With(
		slog.String("model", model),
		slog.String("twin", id),
	).Log(ctx, level, msg, args...)
}

// routeFailure builds the error returned by a send that could not be delivered.
func routeFailure(model, id string, err error) error {
	return fmt.Errorf("send to %s/%s: %w", model, id, err)
}

// frame holds what every processing context knows about its invocation: the
// caller's context, the bound instance, and the depth of the call chain.
type frame struct {
	ctx    context.Context
	reg    *instanceRegistration
	depth  int
	global *SharedData
}

func (f *frame) Context() context.Context { return f.ctx }

func (f *frame) Model() string { return f.reg.model.name }

func (f *frame) InstanceID() string { return f.reg.id() }

func (f *frame) DataSourceID() (string, bool) {
	if f.reg.dataSource == nil {
		return "", false
	}
	return f.reg.dataSource.id(), true
}

func (f *frame) SharedModelData() *SharedData { return &f.reg.model.shared }

func (f *frame) SharedGlobalData() *SharedData { return f.global }

func (f *frame) Log(severity LogSeverity, msg string, args ...any) {
	logFor(f.ctx, f.Model(), f.InstanceID(), severity, msg, args...)
}

// targetModel resolves the model name of a send, where empty means the model of
// the bound instance.
func (f *frame) targetModel(model string) string {
	if model == "" {
		return f.reg.model.name
	}
	return model
}
