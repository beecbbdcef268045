package workbench

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// A modelRegistration is a Model added to a workbench, together with the
// instances of that model and its shared store.
type modelRegistration struct {
	Model
	shared    SharedData
	instances instanceMap
}

// An instanceRegistration binds an instance to its model registration.
type instanceRegistration struct {
	twin       Instance
	model      *modelRegistration
	dataSource *instanceRegistration // nil unless created by telemetry
	deleted    atomic.Bool

	// Owned by the simulation driver: the generation of the only queue entry
	// that may still step this instance, and its due instant.
	gen     uint64
	pending bool
	due     time.Time
}

func (r *instanceRegistration) id() string { return r.twin.ID() }

// instanceMap holds the instances of one model in registration order. It is
// safe for concurrent use.
type instanceMap struct {
	mu    sync.Mutex
	m     map[string]*instanceRegistration
	order []string
}

func (m *instanceMap) load(id string) (*instanceRegistration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.m[id]
	return reg, ok
}

// getOrAdd returns the instance registered under id, calling create to
// register a new one if absent. Concurrent callers never create two instances
// for the same id.
func (m *instanceMap) getOrAdd(id string, create func() (*instanceRegistration, error)) (reg *instanceRegistration, created bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reg, ok := m.m[id]; ok {
		return reg, false, nil
	}
	reg, err = create()
	if err != nil {
		return nil, false, err
	}
	m.insertLocked(id, reg)
	return reg, true, nil
}

// insert registers a new instance, failing with ErrInstanceExists without
// calling create if the id is taken.
func (m *instanceMap) insert(id string, create func() (*instanceRegistration, error)) (*instanceRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.m[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceExists, id)
	}
	reg, err := create()
	if err != nil {
		return nil, err
	}
	m.insertLocked(id, reg)
	return reg, nil
}

func (m *instanceMap) insertLocked(id string, reg *instanceRegistration) {
	if m.m == nil {
		m.m = make(map[string]*instanceRegistration)
	}
	m.m[id] = reg
	m.order = append(m.order, id)
}

// remove tombstones and forgets the instance registered under id.
func (m *instanceMap) remove(id string) (*instanceRegistration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.m[id]
	if !ok {
		return nil, false
	}
	reg.deleted.Store(true)
	delete(m.m, id)
	m.order = slices.DeleteFunc(m.order, func(s string) bool { return s == id })
	return reg, true
}

// values returns the live registrations in registration order.
func (m *instanceMap) values() []*instanceRegistration {
	m.mu.Lock()
	defer m.mu.Unlock()
	regs := make([]*instanceRegistration, 0, len(m.order))
	for _, id := range m.order {
		regs = append(regs, m.m[id])
	}
	return regs
}

func (m *instanceMap) snapshot() map[string]Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := make(map[string]Instance, len(m.m))
	for id, reg := range m.m {
		s[id] = reg.twin
	}
	return s
}

// registry owns the models of one workbench. It is safe for concurrent use.
type registry struct {
	mu     sync.RWMutex
	models map[string]*modelRegistration
	order  []string
}

func (r *registry) addModel(m Model) (*modelRegistration, error) {
	if m.name == "" {
		return nil, fmt.Errorf("%w: empty model name", ErrInvalidName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[m.name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrModelExists, m.name)
	}
	if r.models == nil {
		r.models = make(map[string]*modelRegistration)
	}
	reg := &modelRegistration{Model: m}
	r.models[m.name] = reg
	r.order = append(r.order, m.name)
	return reg, nil
}

func (r *registry) model(name string) (*modelRegistration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return reg, nil
}

// all returns the models in registration order.
func (r *registry) all() []*modelRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regs := make([]*modelRegistration, 0, len(r.order))
	for _, name := range r.order {
		regs = append(regs, r.models[name])
	}
	return regs
}

func (r *registry) instance(model, id string) (Instance, bool) {
	m, err := r.model(model)
	if err != nil {
		return nil, false
	}
	reg, ok := m.instances.load(id)
	if !ok {
		return nil, false
	}
	return reg.twin, true
}

func (r *registry) instances(model string) (map[string]Instance, error) {
	m, err := r.model(model)
	if err != nil {
		return nil, err
	}
	return m.instances.snapshot(), nil
}

// registration creates the registration of twin and initialises the twin,
// handing it the init context built by newInit.
func (m *modelRegistration) registration(id string, twin Instance, dataSource *instanceRegistration, newInit func(*instanceRegistration) InitContext) (*instanceRegistration, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty instance id", ErrInvalidName)
	}
	if twin == nil {
		return nil, fmt.Errorf("%w: nil instance for %s/%s", ErrInvalidName, m.name, id)
	}
	reg := &instanceRegistration{twin: twin, model: m, dataSource: dataSource}
	if err := initTwin(twin, id, m.name, newInit(reg)); err != nil {
		return nil, err
	}
	return reg, nil
}

// materialize returns the instance registered under id, creating it with the
// model factory when absent.
func (m *modelRegistration) materialize(id string, dataSource *instanceRegistration, newInit func(*instanceRegistration) InitContext) (*instanceRegistration, bool, error) {
	return m.instances.getOrAdd(id, func() (*instanceRegistration, error) {
		if m.newTwin == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoFactory, m.name)
		}
		return m.registration(id, m.newTwin(), dataSource, newInit)
	})
}

// checkDepth refuses a send that would take the call chain to
// MaxMessageDepth.
func checkDepth(ctx context.Context, depth int, from *instanceRegistration, toModel, toID string) error {
	if depth+1 < MaxMessageDepth {
		return nil
	}
	recordDepthLimit(ctx, toModel)
	return &DepthLimitError{
		FromModel: from.model.name,
		FromID:    from.id(),
		ToModel:   toModel,
		ToID:      toID,
	}
}
