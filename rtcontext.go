package workbench

import (
	"fmt"
	"time"
)

// rtContext is the ProcessingContext of a behaviour invoked by the real-time
// workbench.
type rtContext struct {
	frame
	w *RealTimeWorkbench
	// The timer whose callback started this call chain, if any.
	chain *rtTimer
}

func (c *rtContext) Now() time.Time { return time.Now().UTC() }

// The real-time workbench never records data sources: replies leave the
// workbench through SendToDataSource instead.
func (c *rtContext) DataSourceID() (string, bool) { return "", false }

func (c *rtContext) SendToTwin(model, id string, msgs ...any) error {
	model = c.targetModel(model)
	m, err := c.w.models.model(model)
	if err != nil {
		return routeFailure(model, id, err)
	}
	if err := checkDepth(c.ctx, c.depth, c.reg, model, id); err != nil {
		return err
	}
	return c.w.deliver(c.ctx, m, id, msgs, c.depth+1, c.chain)
}

func (c *rtContext) SendBytesToTwin(model, id string, msgs ...[]byte) error {
	model = c.targetModel(model)
	m, err := c.w.models.model(model)
	if err != nil {
		return routeFailure(model, id, err)
	}
	decoded, err := m.decodeAll(c.ctx, msgs)
	if err != nil {
		return routeFailure(model, id, err)
	}
	if err := checkDepth(c.ctx, c.depth, c.reg, model, id); err != nil {
		return err
	}
	return c.w.deliver(c.ctx, m, id, decoded, c.depth+1, c.chain)
}

func (c *rtContext) SendToDataSource(msgs ...any) error {
	if err := checkDepth(c.ctx, c.depth, c.reg, c.Model(), c.InstanceID()); err != nil {
		return err
	}
	for _, msg := range msgs {
		err := c.w.raise(c.ctx, DataSourceMessage{
			TwinID:  c.InstanceID(),
			Model:   c.Model(),
			Message: msg,
		})
		if err != nil {
			return fmt.Errorf("send to data source of %s/%s: %w", c.Model(), c.InstanceID(), err)
		}
	}
	return nil
}

func (c *rtContext) SendBytesToDataSource(msgs ...[]byte) error {
	raw := make([]any, len(msgs))
	for i, p := range msgs {
		raw[i] = p
	}
	return c.SendToDataSource(raw...)
}

func (c *rtContext) SendAlert(provider string, alert AlertMessage) error {
	if provider == "" {
		return fmt.Errorf("send alert: %w: empty provider", ErrInvalidName)
	}
	return c.w.post(c.ctx, provider, alert)
}

func (c *rtContext) StartTimer(name string, interval time.Duration, typ TimerType, h TimerHandler) (TimerActionResult, error) {
	return c.w.startTimer(c.reg, name, interval, typ, h)
}

func (c *rtContext) StopTimer(name string) (TimerActionResult, error) {
	return c.w.stopTimer(name, c.chain), nil
}

func (c *rtContext) Persistence() (PersistenceProvider, error) {
	if c.w.persistence == nil {
		return nil, fmt.Errorf("persistence: %w", ErrNotAvailable)
	}
	return c.w.persistence, nil
}

func (c *rtContext) AnomalyDetector(name string) (AnomalyDetector, bool) {
	return c.w.detector(c.Model(), name)
}

func (c *rtContext) SimulationController() (SimulationController, bool) { return nil, false }

// rtInitContext is handed to the Init hook of real-time instances.
type rtInitContext struct {
	w   *RealTimeWorkbench
	reg *instanceRegistration
}

func (c *rtInitContext) StartTimer(name string, interval time.Duration, typ TimerType, h TimerHandler) (TimerActionResult, error) {
	return c.w.startTimer(c.reg, name, interval, typ, h)
}

func (c *rtInitContext) SharedModelData() *SharedData { return &c.reg.model.shared }

func (c *rtInitContext) SharedGlobalData() *SharedData { return &c.w.shared }
