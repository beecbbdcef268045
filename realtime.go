package workbench

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielorbach/go-component"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/pubsub"
	"golang.org/x/sync/errgroup"
)

// RealTimeWorkbench runs message models the way a deployment would: messages
// are processed as they arrive, on the caller's goroutine, and timers fire on
// wall-clock time from their own goroutines.
//
// The workbench does not serialise calls to a single instance. Behaviours that
// are reached concurrently, by a timer and a send for example, must guard their
// own state.
//
// A RealTimeWorkbench is safe for concurrent use. Close it to stop its timers.
type RealTimeWorkbench struct {
	models registry
	shared SharedData
	timers timerSet
	base   context.Context // carries the logger of timer goroutines

	persistence     PersistenceProvider
	dataSourceTopic *pubsub.Topic
	alertTopics     []*pubsub.Topic
	onDataSource    func(ctx context.Context, msg DataSourceMessage) error
	logger          *slog.Logger

	mu        sync.Mutex
	detectors map[string]map[string]AnomalyDetector
	alerts    []PostedAlert

	closed atomic.Bool
}

// A RealTimeOption configures a RealTimeWorkbench.
type RealTimeOption func(*RealTimeWorkbench)

// WithPersistence sets the provider returned by ProcessingContext.Persistence
// and used by Endpoint.CreateTwinFromPersistenceStore.
func WithPersistence(p PersistenceProvider) RealTimeOption {
	return func(w *RealTimeWorkbench) { w.persistence = p }
}

// WithDataSourceTopic publishes every reply an instance sends to its data
// source on t. The message body is the JSON encoding of the reply (byte slices
// are sent as is), and the metadata names the replying instance.
func WithDataSourceTopic(t *pubsub.Topic) RealTimeOption {
	return func(w *RealTimeWorkbench) { w.dataSourceTopic = t }
}

// WithDataSourceHandler calls h with every reply an instance sends to its data
// source. An error returned by h fails the reply.
func WithDataSourceHandler(h func(ctx context.Context, msg DataSourceMessage) error) RealTimeOption {
	return func(w *RealTimeWorkbench) { w.onDataSource = h }
}

// WithAlertTopic publishes every posted alert on t, gob-encoded as a
// PostedAlert. It may be given more than once.
func WithAlertTopic(t *pubsub.Topic) RealTimeOption {
	return func(w *RealTimeWorkbench) { w.alertTopics = append(w.alertTopics, t) }
}

// WithLogger sets the logger handed to timer callbacks through their context.
// It defaults to slog.Default(). Sends use the logger of their own context.
func WithLogger(logger *slog.Logger) RealTimeOption {
	return func(w *RealTimeWorkbench) { w.logger = logger }
}

// NewRealTimeWorkbench returns an empty workbench.
func NewRealTimeWorkbench(opts ...RealTimeOption) *RealTimeWorkbench {
	w := &RealTimeWorkbench{logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	w.base = component.InjectLogger(context.Background(), w.logger)
	return w
}

// AddModel registers a message model and returns the endpoint that feeds its
// instances.
func (w *RealTimeWorkbench) AddModel(m Model) (*Endpoint, error) {
	if w.closed.Load() {
		return nil, fmt.Errorf("add model %s: %w", m.name, ErrClosed)
	}
	if m.processMessages == nil {
		return nil, fmt.Errorf("add model %s: %w", m.name, ErrNoMessageProcessor)
	}
	reg, err := w.models.addModel(m)
	if err != nil {
		return nil, fmt.Errorf("add model: %w", err)
	}
	return &Endpoint{w: w, m: reg}, nil
}

// AddAnomalyDetector makes d available to the instances of model under name.
func (w *RealTimeWorkbench) AddAnomalyDetector(model, name string, d AnomalyDetector) error {
	if _, err := w.models.model(model); err != nil {
		return fmt.Errorf("add anomaly detector %s: %w", name, err)
	}
	if name == "" || d == nil {
		return fmt.Errorf("add anomaly detector to %s: %w", model, ErrInvalidName)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.detectors == nil {
		w.detectors = make(map[string]map[string]AnomalyDetector)
	}
	if w.detectors[model] == nil {
		w.detectors[model] = make(map[string]AnomalyDetector)
	}
	w.detectors[model][name] = d
	return nil
}

func (w *RealTimeWorkbench) detector(model, name string) (AnomalyDetector, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.detectors[model][name]
	return d, ok
}

// Instance returns the live instance of model registered under id.
func (w *RealTimeWorkbench) Instance(model, id string) (Instance, bool) {
	return w.models.instance(model, id)
}

// Instances returns a snapshot of the live instances of model, keyed by id.
func (w *RealTimeWorkbench) Instances(model string) (map[string]Instance, error) {
	return w.models.instances(model)
}

// SharedGlobalData returns the store shared by every instance in the workbench.
func (w *RealTimeWorkbench) SharedGlobalData() *SharedData { return &w.shared }

// SharedModelData returns the store shared by the instances of model.
func (w *RealTimeWorkbench) SharedModelData(model string) (*SharedData, error) {
	m, err := w.models.model(model)
	if err != nil {
		return nil, err
	}
	return &m.shared, nil
}

// PostedAlerts returns the alerts posted so far, oldest first.
func (w *RealTimeWorkbench) PostedAlerts() []PostedAlert {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.alerts)
}

// Close stops every timer and waits for their goroutines to exit. No timer
// callback runs once Close returns, and every later send fails with ErrClosed.
//
// Close must not be called from a behaviour.
func (w *RealTimeWorkbench) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	var g errgroup.Group
	for _, t := range w.timers.drain() {
		g.Go(func() error {
			t.cancel()
			<-t.done
			return nil
		})
	}
	err := g.Wait()
	// OneTime timers leave the set before their callback runs, and so do the
	// timers of deleted instances; wait for those too.
	w.timers.wait()
	return err
}

// deliver invokes the message processor of the instance of m registered under
// id, creating the instance first if needed.
func (w *RealTimeWorkbench) deliver(ctx context.Context, m *modelRegistration, id string, msgs []any, depth int, chain *rtTimer) error {
	if w.closed.Load() {
		return routeFailure(m.name, id, ErrClosed)
	}
	if m.processMessages == nil {
		return routeFailure(m.name, id, ErrNoMessageProcessor)
	}
	if len(msgs) == 0 {
		return nil
	}
	reg, err := w.materialize(m, id)
	if err != nil {
		return routeFailure(m.name, id, err)
	}
	pc := w.newContext(ctx, reg, depth, chain)
	_, err = m.processMessages(pc, reg.twin, msgs)
	recordDelivery(ctx, m.name, len(msgs), err == nil)
	if err != nil {
		return routeFailure(m.name, id, err)
	}
	return nil
}

func (w *RealTimeWorkbench) materialize(m *modelRegistration, id string) (*instanceRegistration, error) {
	var pending *instanceRegistration
	reg, _, err := m.materialize(id, nil, func(reg *instanceRegistration) InitContext {
		pending = reg
		return w.initContext(reg)
	})
	if err != nil && pending != nil {
		w.timers.cancelOwned(pending)
	}
	return reg, err
}

func (w *RealTimeWorkbench) insert(m *modelRegistration, id string, twin Instance) error {
	var pending *instanceRegistration
	_, err := m.instances.insert(id, func() (*instanceRegistration, error) {
		return m.registration(id, twin, nil, func(reg *instanceRegistration) InitContext {
			pending = reg
			return w.initContext(reg)
		})
	})
	if err != nil && pending != nil {
		w.timers.cancelOwned(pending)
	}
	return err
}

// raise hands a reply to the data source handler and topic.
func (w *RealTimeWorkbench) raise(ctx context.Context, msg DataSourceMessage) error {
	if w.onDataSource == nil && w.dataSourceTopic == nil {
		return fmt.Errorf("%w: no data source handler or topic configured", ErrNoDataSource)
	}
	if w.onDataSource != nil {
		if err := w.onDataSource(ctx, msg); err != nil {
			return fmt.Errorf("handle data source message: %w", err)
		}
	}
	if w.dataSourceTopic == nil {
		return nil
	}
	body, ok := msg.Message.([]byte)
	if !ok {
		var err error
		if body, err = json.Marshal(msg.Message); err != nil {
			return fmt.Errorf("encode data source message: %w", err)
		}
	}
	err := w.dataSourceTopic.Send(ctx, &pubsub.Message{
		Body: body,
		Metadata: map[string]string{
			MetadataTwinID: msg.TwinID,
			MetadataModel:  msg.Model,
		},
	})
	if err != nil {
		return fmt.Errorf("publish data source message: %w", err)
	}
	return nil
}

// post records an alert and publishes it on every alert topic.
func (w *RealTimeWorkbench) post(ctx context.Context, provider string, alert AlertMessage) error {
	posted := PostedAlert{Provider: provider, Alert: alert, Posted: time.Now().UTC()}
	w.mu.Lock()
	w.alerts = append(w.alerts, posted)
	w.mu.Unlock()
	if len(w.alertTopics) == 0 {
		return nil
	}

	msg, err := encodeAlert(posted)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range w.alertTopics {
		g.Go(func() error {
			// Drivers may retain the message, so each topic gets its own.
			m := &pubsub.Message{Body: msg.Body, Metadata: map[string]string{MetadataProvider: provider}}
			return t.Send(ctx, m)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

func (w *RealTimeWorkbench) initContext(reg *instanceRegistration) InitContext {
	return &rtInitContext{w: w, reg: reg}
}

func (w *RealTimeWorkbench) newContext(ctx context.Context, reg *instanceRegistration, depth int, chain *rtTimer) *rtContext {
	return &rtContext{
		frame: frame{ctx: ctx, reg: reg, depth: depth, global: &w.shared},
		w:     w,
		chain: chain,
	}
}

// Endpoint feeds messages to the instances of one model of a
// RealTimeWorkbench. It is safe for concurrent use.
type Endpoint struct {
	w *RealTimeWorkbench
	m *modelRegistration
}

// Model returns the name of the model served by e.
func (e *Endpoint) Model() string { return e.m.name }

// Send delivers msgs to the instance registered under id, creating it with the
// model factory if needed. The message processor runs on the calling
// goroutine.
func (e *Endpoint) Send(ctx context.Context, id string, msgs ...any) (err error) {
	ctx, span := e.start(ctx, "Endpoint.Send", id, len(msgs))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return e.w.deliver(ctx, e.m, id, msgs, 0, nil)
}

// SendBytes decodes msgs with the model decoder and delivers the decodable
// ones to the instance registered under id. Nothing is delivered if none
// decode.
func (e *Endpoint) SendBytes(ctx context.Context, id string, msgs ...[]byte) (err error) {
	ctx, span := e.start(ctx, "Endpoint.SendBytes", id, len(msgs))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	decoded, err := e.m.decodeAll(ctx, msgs)
	if err != nil {
		return routeFailure(e.m.name, id, err)
	}
	return e.w.deliver(ctx, e.m, id, decoded, 0, nil)
}

// CreateTwin registers twin under id, binding its identity and running its
// Init hook.
func (e *Endpoint) CreateTwin(ctx context.Context, id string, twin Instance) error {
	if e.w.closed.Load() {
		return fmt.Errorf("create %s/%s: %w", e.m.name, id, ErrClosed)
	}
	if err := e.w.insert(e.m, id, twin); err != nil {
		return fmt.Errorf("create %s/%s: %w", e.m.name, id, err)
	}
	component.Logger(ctx).Debug("Created twin", slog.String("model", e.m.name), slog.String("twin", id))
	return nil
}

// CreateTwinFromPersistenceStore creates the instance registered under id from
// the document stored by the persistence provider.
func (e *Endpoint) CreateTwinFromPersistenceStore(ctx context.Context, id string) error {
	p := e.w.persistence
	if p == nil {
		return fmt.Errorf("create %s/%s from persistence store: %w", e.m.name, id, ErrNotAvailable)
	}
	if e.m.newTwin == nil {
		return fmt.Errorf("create %s/%s from persistence store: %w", e.m.name, id, ErrNoFactory)
	}
	doc, err := p.Instance(ctx, e.m.name, id)
	if err != nil {
		return fmt.Errorf("create %s/%s from persistence store: %w", e.m.name, id, err)
	}
	twin := e.m.newTwin()
	if err := json.Unmarshal(doc, twin); err != nil {
		return fmt.Errorf("create %s/%s from persistence store: decode: %w", e.m.name, id, err)
	}
	return e.CreateTwin(ctx, id, twin)
}

// DeleteTwin removes the instance registered under id and cancels its timers.
// It does not wait for a callback in flight to return.
func (e *Endpoint) DeleteTwin(ctx context.Context, id string) error {
	reg, ok := e.m.instances.remove(id)
	if !ok {
		return fmt.Errorf("delete %s/%s: %w", e.m.name, id, ErrInstanceNotFound)
	}
	e.w.timers.cancelOwned(reg)
	component.Logger(ctx).Debug("Deleted twin", slog.String("model", e.m.name), slog.String("twin", id))
	return nil
}

// SharedModelData returns the store shared by the instances of the model.
func (e *Endpoint) SharedModelData() *SharedData { return &e.m.shared }

// SharedGlobalData returns the store shared by every instance in the workbench.
func (e *Endpoint) SharedGlobalData() *SharedData { return &e.w.shared }

func (e *Endpoint) start(ctx context.Context, name, id string, n int) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("twin.model", e.m.name),
		attribute.String("twin.id", id),
		attribute.Int("messages", n),
	))
}
