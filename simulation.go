package workbench

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/danielorbach/go-component"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-digitaltwin/go-workbench/internal/schedule"
)

// SimulationStatus tells whether a simulation can take another step.
type SimulationStatus int

const (
	Running SimulationStatus = iota
	StopRequested
	NoRemainingWork
	EndTimeReached
)

func (s SimulationStatus) String() string {
	switch s {
	case Running:
		return "Running"
	case StopRequested:
		return "StopRequested"
	case NoRemainingWork:
		return "NoRemainingWork"
	case EndTimeReached:
		return "EndTimeReached"
	default:
		return fmt.Sprintf("SimulationStatus(%d)", int(s))
	}
}

// StepResult is returned by every simulation step. Next is the simulated time
// of the following step, or MaxTime when no work remains.
type StepResult struct {
	Status SimulationStatus
	Next   time.Time
}

type simulationState int

const (
	stateInitializing simulationState = iota
	stateRunning
	stateCompleted
)

// SimulationWorkbench runs simulation models against a simulated clock.
//
// Models and instances are registered first; InitializeSimulation then
// schedules every instance of a model with a SimulationProcessor at the start
// time, and each Step processes everything due at the next simulated instant.
// A workbench runs a single simulation.
//
// Behaviours run on the goroutine calling Step, one at a time. A
// SimulationWorkbench is not safe for concurrent use.
type SimulationWorkbench struct {
	models registry
	shared SharedData
	logger *slog.Logger

	state    simulationState
	queue    *schedule.Queue[simEntry]
	timers   map[string]*simTimer
	stop     bool
	stepping *instanceRegistration
}

// A SimulationOption configures a SimulationWorkbench.
type SimulationOption func(*SimulationWorkbench)

// WithSimulationLogger sets the logger handed to behaviours through their
// context, overriding whichever logger the context passed to Step carries.
func WithSimulationLogger(logger *slog.Logger) SimulationOption {
	return func(w *SimulationWorkbench) { w.logger = logger }
}

// NewSimulationWorkbench returns an empty workbench ready for registrations.
func NewSimulationWorkbench(opts ...SimulationOption) *SimulationWorkbench {
	w := &SimulationWorkbench{timers: make(map[string]*simTimer)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// AddModel registers m. Message-only models are accepted as targets of
// messages and telemetry but never stepped.
func (w *SimulationWorkbench) AddModel(m Model) error {
	if w.state != stateInitializing {
		return fmt.Errorf("add model %s: %w", m.name, ErrNotInitializing)
	}
	if _, err := w.models.addModel(m); err != nil {
		return fmt.Errorf("add model: %w", err)
	}
	return nil
}

// AddInstance registers twin under id, binding its identity and running its
// Init hook.
func (w *SimulationWorkbench) AddInstance(model, id string, twin Instance) error {
	if w.state != stateInitializing {
		return fmt.Errorf("add instance %s/%s: %w", model, id, ErrNotInitializing)
	}
	m, err := w.models.model(model)
	if err != nil {
		return fmt.Errorf("add instance: %w", err)
	}
	if _, err := w.insert(m, id, twin); err != nil {
		return fmt.Errorf("add instance %s/%s: %w", model, id, err)
	}
	return nil
}

// Instance returns the live instance of model registered under id.
func (w *SimulationWorkbench) Instance(model, id string) (Instance, bool) {
	return w.models.instance(model, id)
}

// Instances returns a snapshot of the live instances of model, keyed by id.
func (w *SimulationWorkbench) Instances(model string) (map[string]Instance, error) {
	return w.models.instances(model)
}

// SharedGlobalData returns the store shared by every instance in the workbench.
func (w *SimulationWorkbench) SharedGlobalData() *SharedData { return &w.shared }

// SharedModelData returns the store shared by the instances of model.
func (w *SimulationWorkbench) SharedModelData(model string) (*SharedData, error) {
	m, err := w.models.model(model)
	if err != nil {
		return nil, err
	}
	return &m.shared, nil
}

// InitializeSimulation prepares a simulation running from start (inclusive) to
// end (exclusive), stepping every interval. It calls the SimulationInitializer
// hooks, then schedules every simulation instance at start and every timer
// started so far one interval later.
//
// It fails with ErrNoWork, leaving the workbench unchanged, if no instance of a
// simulation model is registered.
func (w *SimulationWorkbench) InitializeSimulation(ctx context.Context, start, end time.Time, interval time.Duration) error {
	ctx, span := tracer.Start(ctx, "SimulationWorkbench.InitializeSimulation", trace.WithAttributes(
		attribute.String("simulation.start", start.Format(time.RFC3339Nano)),
		attribute.String("simulation.end", end.Format(time.RFC3339Nano)),
		attribute.Int64("simulation.interval_ms", interval.Milliseconds()),
	))
	defer span.End()

	switch w.state {
	case stateRunning:
		return fmt.Errorf("initialize simulation: %w", ErrNotInitializing)
	case stateCompleted:
		return fmt.Errorf("initialize simulation: %w", ErrCompleted)
	}
	q, err := schedule.New[simEntry](start, end, interval)
	if err != nil {
		return fmt.Errorf("initialize simulation: %w", err)
	}

	var work []*instanceRegistration
	for _, m := range w.models.all() {
		if m.processModel == nil {
			continue
		}
		work = append(work, m.instances.values()...)
	}
	if len(work) == 0 {
		span.SetStatus(codes.Error, ErrNoWork.Error())
		return ErrNoWork
	}

	for _, reg := range work {
		if reg.model.initSimulation == nil {
			continue
		}
		ic := &simInitContext{w: w, reg: reg}
		if err := reg.model.initSimulation(ic, reg.twin, start); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("initialize simulation of %s/%s: %w", reg.model.name, reg.id(), err)
		}
	}

	w.queue = q
	w.state = stateRunning
	for _, reg := range work {
		if err := w.schedule(reg, start); err != nil {
			return fmt.Errorf("initialize simulation: %w", err)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(w.timers)) {
		t := w.timers[name]
		if err := q.Enqueue(simEntry{timer: t}, start.Add(t.interval)); err != nil {
			return fmt.Errorf("initialize simulation: %w", err)
		}
	}

	w.log(ctx).Info("Initialized simulation",
		slog.Time("start", start),
		slog.Time("end", end),
		slog.Duration("interval", q.Interval()),
		slog.Int("instances", len(work)),
		slog.Int("timers", len(w.timers)),
	)
	return nil
}

// Step processes every instance and timer due at the next simulated instant,
// in the order they were scheduled.
//
// If a behaviour fails, Step returns its error right away. The entries not yet
// processed stay due at the current instant and the simulation keeps running;
// the failing entry itself is not rescheduled.
func (w *SimulationWorkbench) Step(ctx context.Context) (StepResult, error) {
	switch w.state {
	case stateInitializing:
		return StepResult{}, fmt.Errorf("step: %w", ErrNotRunning)
	case stateCompleted:
		return StepResult{}, fmt.Errorf("step: %w", ErrCompleted)
	}
	ctx = w.withLogger(ctx)
	ctx, span := tracer.Start(ctx, "SimulationWorkbench.Step")
	defer span.End()
	begin := time.Now()

	w.queue.DropWhile(simEntry.stale)
	for e := range w.queue.PopDue() {
		if err := w.process(ctx, e); err != nil {
			span.SetStatus(codes.Error, err.Error())
			measureStep(ctx, false, time.Since(begin))
			return StepResult{Status: Running, Next: w.queue.PeekNext()}, err
		}
	}
	w.queue.DropWhile(simEntry.stale)

	res := w.conclude()
	if now, err := w.queue.Now(); err == nil {
		span.SetAttributes(attribute.String("simulation.time", now.Format(time.RFC3339Nano)))
	}
	span.SetAttributes(attribute.String("simulation.status", res.Status.String()))
	measureStep(ctx, true, time.Since(begin))
	return res, nil
}

// RunSimulation initialises a simulation and steps it until it completes,
// pausing between steps. The pause is wall-clock time and does not affect the
// simulated clock. Cancelling ctx interrupts the run between steps.
func (w *SimulationWorkbench) RunSimulation(ctx context.Context, start, end time.Time, interval, pause time.Duration) (StepResult, error) {
	if err := w.InitializeSimulation(ctx, start, end, interval); err != nil {
		return StepResult{}, err
	}
	for {
		res, err := w.Step(ctx)
		if err != nil || res.Status != Running {
			return res, err
		}
		if pause <= 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			continue
		}
		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return res, ctx.Err()
		case <-t.C:
		}
	}
}

// CurrentTime returns the simulated instant of the latest step.
func (w *SimulationWorkbench) CurrentTime() (time.Time, error) {
	if w.queue == nil {
		return time.Time{}, ErrNotRunning
	}
	return w.queue.Now()
}

// PeekNextTimeStep returns the simulated instant of the next step, or MaxTime
// when nothing is scheduled.
func (w *SimulationWorkbench) PeekNextTimeStep() (time.Time, error) {
	if w.queue == nil {
		return time.Time{}, ErrNotRunning
	}
	return w.queue.PeekNext(), nil
}

func (w *SimulationWorkbench) conclude() StepResult {
	next := w.queue.PeekNext()
	switch {
	case w.stop:
		w.state = stateCompleted
		return StepResult{Status: StopRequested, Next: next}
	case w.queue.Len() == 0:
		w.state = stateCompleted
		return StepResult{Status: NoRemainingWork, Next: MaxTime}
	case !next.Before(w.queue.End()):
		w.state = stateCompleted
		return StepResult{Status: EndTimeReached, Next: next}
	default:
		return StepResult{Status: Running, Next: next}
	}
}

func (w *SimulationWorkbench) process(ctx context.Context, e simEntry) error {
	if e.stale() {
		if e.timer != nil {
			w.releaseTimer(e.timer)
		}
		return nil
	}
	now, err := w.queue.Now()
	if err != nil {
		return err
	}
	if e.timer != nil {
		return w.fire(ctx, e.timer, now)
	}

	reg := e.inst
	reg.pending = false
	if reg.model.processModel == nil {
		return nil
	}
	pc := w.newContext(ctx, reg, 0, nil)
	w.stepping = reg
	_, err = reg.model.processModel(pc, reg.twin, now)
	w.stepping = nil
	if err != nil {
		return fmt.Errorf("step %s/%s: %w", reg.model.name, reg.id(), err)
	}

	if pc.deleteRequested {
		w.deleteInstance(reg)
		return nil
	}
	if reg.deleted.Load() {
		return nil
	}
	switch d := pc.delay; d {
	case 0:
		return w.schedule(reg, now.Add(w.queue.Interval()))
	case MaxDelay:
		// Dormant until RunThisTwin.
		return nil
	default:
		return w.schedule(reg, now.Add(w.queue.Align(d)))
	}
}

func (w *SimulationWorkbench) fire(ctx context.Context, t *simTimer, now time.Time) error {
	pc := w.newContext(ctx, t.owner, 0, t)
	_, err := t.handler(pc, t.name, t.owner.twin)
	recordTimerFiring(ctx, t.owner.model.name, err == nil)
	if err != nil {
		w.releaseTimer(t)
		return fmt.Errorf("fire timer %s of %s/%s: %w", t.name, t.owner.model.name, t.owner.id(), err)
	}
	if pc.deleteRequested {
		w.deleteInstance(t.owner)
	}
	if t.typ == Recurring && !t.stopped && !t.owner.deleted.Load() {
		return w.queue.Enqueue(simEntry{timer: t}, now.Add(w.queue.Align(t.interval)))
	}
	w.releaseTimer(t)
	return nil
}

// schedule queues the next step of reg, superseding any step queued before.
func (w *SimulationWorkbench) schedule(reg *instanceRegistration, due time.Time) error {
	reg.gen++
	reg.pending, reg.due = true, due
	if err := w.queue.Enqueue(simEntry{inst: reg, gen: reg.gen}, due); err != nil {
		reg.pending = false
		return fmt.Errorf("schedule %s/%s: %w", reg.model.name, reg.id(), err)
	}
	return nil
}

// deleteInstance tombstones reg and stops the timers it owns.
func (w *SimulationWorkbench) deleteInstance(reg *instanceRegistration) {
	if reg.deleted.Load() {
		return
	}
	reg.model.instances.remove(reg.id())
	w.releaseOwned(reg)
}

// releaseOwned stops and forgets the timers of owner.
func (w *SimulationWorkbench) releaseOwned(owner *instanceRegistration) {
	for name, t := range w.timers {
		if t.owner == owner {
			t.stopped = true
			delete(w.timers, name)
		}
	}
}

// insert registers twin under id. Timers started by a failing Init hook are
// released along with the instance.
func (w *SimulationWorkbench) insert(m *modelRegistration, id string, twin Instance) (*instanceRegistration, error) {
	var pending *instanceRegistration
	reg, err := m.instances.insert(id, func() (*instanceRegistration, error) {
		return m.registration(id, twin, nil, func(reg *instanceRegistration) InitContext {
			pending = reg
			return w.initContext(reg)
		})
	})
	if err != nil && pending != nil {
		w.releaseOwned(pending)
	}
	return reg, err
}

// materialize returns the instance of m registered under id, creating it with
// the model factory when absent. Like insert, it releases the timers of a
// failed Init hook.
func (w *SimulationWorkbench) materialize(m *modelRegistration, id string, dataSource *instanceRegistration) (*instanceRegistration, bool, error) {
	var pending *instanceRegistration
	reg, created, err := m.materialize(id, dataSource, func(reg *instanceRegistration) InitContext {
		pending = reg
		return w.initContext(reg)
	})
	if err != nil && pending != nil {
		w.releaseOwned(pending)
	}
	return reg, created, err
}

func (w *SimulationWorkbench) startTimer(owner *instanceRegistration, name string, interval time.Duration, typ TimerType, h TimerHandler) (TimerActionResult, error) {
	if err := validateTimer(name, interval, typ, h); err != nil {
		return FailedInternalError, err
	}
	if _, ok := w.timers[name]; ok {
		return FailedTimerAlreadyExists, nil
	}
	t := &simTimer{name: name, typ: typ, interval: interval, handler: h, owner: owner}
	if w.state == stateRunning {
		now, err := w.queue.Now()
		if err != nil {
			now = w.queue.Start()
		}
		if err := w.queue.Enqueue(simEntry{timer: t}, now.Add(interval)); err != nil {
			return FailedInternalError, fmt.Errorf("start timer %s: %w", name, err)
		}
	}
	w.timers[name] = t
	return Success, nil
}

func (w *SimulationWorkbench) stopTimer(name string) TimerActionResult {
	t, ok := w.timers[name]
	if !ok {
		return FailedNoSuchTimer
	}
	w.releaseTimer(t)
	return Success
}

func (w *SimulationWorkbench) releaseTimer(t *simTimer) {
	t.stopped = true
	if w.timers[t.name] == t {
		delete(w.timers, t.name)
	}
}

func (w *SimulationWorkbench) initContext(reg *instanceRegistration) InitContext {
	return &simInitContext{w: w, reg: reg}
}

func (w *SimulationWorkbench) newContext(ctx context.Context, reg *instanceRegistration, depth int, firing *simTimer) *simContext {
	return &simContext{
		frame:  frame{ctx: ctx, reg: reg, depth: depth, global: &w.shared},
		w:      w,
		firing: firing,
	}
}

func (w *SimulationWorkbench) withLogger(ctx context.Context) context.Context {
	if w.logger == nil {
		return ctx
	}
	return component.InjectLogger(ctx, w.logger)
}

func (w *SimulationWorkbench) log(ctx context.Context) *slog.Logger {
	if w.logger != nil {
		return w.logger
	}
	return component.Logger(ctx)
}

// A simEntry is either an instance due for a step or a timer due to fire.
type simEntry struct {
	inst  *instanceRegistration
	gen   uint64
	timer *simTimer
}

func (e simEntry) stale() bool {
	if e.timer != nil {
		return e.timer.stopped || e.timer.owner.deleted.Load()
	}
	return e.inst.deleted.Load() || e.gen != e.inst.gen
}

type simTimer struct {
	name     string
	typ      TimerType
	interval time.Duration
	handler  TimerHandler
	owner    *instanceRegistration
	stopped  bool
}

func validateTimer(name string, interval time.Duration, typ TimerType, h TimerHandler) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidTimer)
	case interval <= 0:
		return fmt.Errorf("%w: %s has non-positive interval %v", ErrInvalidTimer, name, interval)
	case typ != Recurring && typ != OneTime:
		return fmt.Errorf("%w: %s has unknown type %v", ErrInvalidTimer, name, typ)
	case h == nil:
		return fmt.Errorf("%w: %s has no handler", ErrInvalidTimer, name)
	}
	return nil
}

// Lookup returns the instance of model registered under id, typed as T. It
// reports false if the instance is absent or of another type.
func Lookup[T Instance](w interface {
	Instance(model, id string) (Instance, bool)
}, model, id string) (T, bool) {
	var zero T
	twin, ok := w.Instance(model, id)
	if !ok {
		return zero, false
	}
	t, ok := twin.(T)
	return t, ok
}
