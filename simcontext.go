package workbench

import (
	"fmt"
	"time"
)

// simContext is the ProcessingContext and SimulationController of a behaviour
// invoked by the simulation workbench.
type simContext struct {
	frame
	w      *SimulationWorkbench
	firing *simTimer // nil unless invoked by a timer

	delay           time.Duration
	deleteRequested bool
}

func (c *simContext) Now() time.Time {
	if c.w.queue != nil {
		if now, err := c.w.queue.Now(); err == nil {
			return now
		}
	}
	return time.Now().UTC()
}

func (c *simContext) SendToTwin(model, id string, msgs ...any) error {
	model = c.targetModel(model)
	m, err := c.w.models.model(model)
	if err != nil {
		return routeFailure(model, id, err)
	}
	return c.deliver(m, id, msgs, nil)
}

func (c *simContext) SendBytesToTwin(model, id string, msgs ...[]byte) error {
	model = c.targetModel(model)
	m, err := c.w.models.model(model)
	if err != nil {
		return routeFailure(model, id, err)
	}
	decoded, err := m.decodeAll(c.ctx, msgs)
	if err != nil {
		return routeFailure(model, id, err)
	}
	return c.deliver(m, id, decoded, nil)
}

func (c *simContext) SendToDataSource(msgs ...any) error {
	ds, err := c.dataSource()
	if err != nil {
		return err
	}
	return c.invoke(ds, msgs)
}

func (c *simContext) SendBytesToDataSource(msgs ...[]byte) error {
	ds, err := c.dataSource()
	if err != nil {
		return err
	}
	decoded, err := ds.model.decodeAll(c.ctx, msgs)
	if err != nil {
		return routeFailure(ds.model.name, ds.id(), err)
	}
	return c.invoke(ds, decoded)
}

func (c *simContext) dataSource() (*instanceRegistration, error) {
	ds := c.reg.dataSource
	if ds == nil {
		return nil, fmt.Errorf("%w: %s/%s was not created by telemetry", ErrNoDataSource, c.Model(), c.InstanceID())
	}
	if ds.deleted.Load() {
		return nil, fmt.Errorf("%w: %s/%s was deleted", ErrNoDataSource, ds.model.name, ds.id())
	}
	return ds, nil
}

// deliver materialises the target instance and invokes its message processor.
func (c *simContext) deliver(m *modelRegistration, id string, msgs []any, dataSource *instanceRegistration) error {
	if m.processMessages == nil {
		return routeFailure(m.name, id, ErrNoMessageProcessor)
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := checkDepth(c.ctx, c.depth, c.reg, m.name, id); err != nil {
		return err
	}
	reg, created, err := c.w.materialize(m, id, dataSource)
	if err != nil {
		return routeFailure(m.name, id, err)
	}
	if created && m.processModel != nil {
		// Simulation instances materialised mid-run join the current step.
		if err := c.w.schedule(reg, c.Now()); err != nil {
			return routeFailure(m.name, id, err)
		}
	}
	return c.call(reg, msgs)
}

// invoke delivers msgs to an existing instance.
func (c *simContext) invoke(reg *instanceRegistration, msgs []any) error {
	if reg.model.processMessages == nil {
		return routeFailure(reg.model.name, reg.id(), ErrNoMessageProcessor)
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := checkDepth(c.ctx, c.depth, c.reg, reg.model.name, reg.id()); err != nil {
		return err
	}
	return c.call(reg, msgs)
}

func (c *simContext) call(reg *instanceRegistration, msgs []any) error {
	child := c.w.newContext(c.ctx, reg, c.depth+1, nil)
	_, err := reg.model.processMessages(child, reg.twin, msgs)
	recordDelivery(c.ctx, reg.model.name, len(msgs), err == nil)
	if err != nil {
		return routeFailure(reg.model.name, reg.id(), err)
	}
	if child.deleteRequested {
		c.w.deleteInstance(reg)
	}
	return nil
}

func (c *simContext) SendAlert(provider string, _ AlertMessage) error {
	return fmt.Errorf("send alert to %s: %w", provider, ErrNotAvailable)
}

func (c *simContext) StartTimer(name string, interval time.Duration, typ TimerType, h TimerHandler) (TimerActionResult, error) {
	return c.w.startTimer(c.reg, name, interval, typ, h)
}

func (c *simContext) StopTimer(name string) (TimerActionResult, error) {
	return c.w.stopTimer(name), nil
}

func (c *simContext) Persistence() (PersistenceProvider, error) {
	return nil, fmt.Errorf("persistence: %w", ErrNotAvailable)
}

func (c *simContext) AnomalyDetector(string) (AnomalyDetector, bool) { return nil, false }

func (c *simContext) SimulationController() (SimulationController, bool) { return c, true }

func (c *simContext) Delay(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidDelay, d)
	}
	if c.firing == nil {
		c.delay = d
	}
	return nil
}

func (c *simContext) DelayIndefinitely() {
	if c.firing == nil {
		c.delay = MaxDelay
	}
}

func (c *simContext) StopSimulation() { c.w.stop = true }

func (c *simContext) DeleteThisTwin() { c.deleteRequested = true }

func (c *simContext) DeleteTwin(model, id string) error {
	model = c.targetModel(model)
	m, err := c.w.models.model(model)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", model, id, err)
	}
	reg, ok := m.instances.load(id)
	if !ok {
		return fmt.Errorf("delete %s/%s: %w", model, id, ErrInstanceNotFound)
	}
	if reg == c.reg {
		c.deleteRequested = true
		return nil
	}
	c.w.deleteInstance(reg)
	return nil
}

func (c *simContext) RunThisTwin() error {
	reg := c.reg
	if reg.model.processModel == nil {
		return fmt.Errorf("run %s/%s: %w", reg.model.name, reg.id(), ErrNoSimProcessor)
	}
	if reg == c.w.stepping {
		return nil
	}
	now := c.Now()
	if reg.pending && reg.due.Equal(now) {
		return nil
	}
	return c.w.schedule(reg, now)
}

func (c *simContext) EmitTelemetry(model string, msg any) error {
	model = c.targetModel(model)
	m, err := c.w.models.model(model)
	if err != nil {
		return fmt.Errorf("emit telemetry: %w", routeFailure(model, c.InstanceID(), err))
	}
	return c.deliver(m, c.InstanceID(), []any{msg}, c.reg)
}

func (c *simContext) EmitTelemetryBytes(model string, msg []byte) error {
	model = c.targetModel(model)
	m, err := c.w.models.model(model)
	if err != nil {
		return fmt.Errorf("emit telemetry: %w", routeFailure(model, c.InstanceID(), err))
	}
	decoded, err := m.decodeAll(c.ctx, [][]byte{msg})
	if err != nil {
		return fmt.Errorf("emit telemetry: %w", routeFailure(model, c.InstanceID(), err))
	}
	return c.deliver(m, c.InstanceID(), decoded, c.reg)
}

func (c *simContext) CreateTwin(model, id string, twin Instance) error {
	model = c.targetModel(model)
	m, err := c.w.models.model(model)
	if err != nil {
		return fmt.Errorf("create %s/%s: %w", model, id, err)
	}
	reg, err := c.w.insert(m, id, twin)
	if err != nil {
		return fmt.Errorf("create %s/%s: %w", model, id, err)
	}
	if m.processModel == nil {
		return nil
	}
	return c.w.schedule(reg, c.Now())
}

func (c *simContext) CreateTwinFromPersistenceStore(model, id string) error {
	return fmt.Errorf("create %s/%s from persistence store: %w", model, id, ErrNotAvailable)
}

func (c *simContext) StartTime() time.Time { return c.w.queue.Start() }

func (c *simContext) Interval() time.Duration { return c.w.queue.Interval() }

// simInitContext is handed to Init and SimulationInitializer hooks of
// simulation instances.
type simInitContext struct {
	w   *SimulationWorkbench
	reg *instanceRegistration
}

func (c *simInitContext) StartTimer(name string, interval time.Duration, typ TimerType, h TimerHandler) (TimerActionResult, error) {
	return c.w.startTimer(c.reg, name, interval, typ, h)
}

func (c *simInitContext) SharedModelData() *SharedData { return &c.reg.model.shared }

func (c *simInitContext) SharedGlobalData() *SharedData { return &c.w.shared }
