package workbench

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/danielorbach/go-component"
)

// A MessageProcessor reacts to a batch of messages delivered to one instance.
type MessageProcessor[T Instance, M any] interface {
	ProcessMessages(pc ProcessingContext, twin T, msgs []M) (ProcessingResult, error)
}

// MessageProcessorFunc adapts an ordinary function to a MessageProcessor.
type MessageProcessorFunc[T Instance, M any] func(pc ProcessingContext, twin T, msgs []M) (ProcessingResult, error)

func (f MessageProcessorFunc[T, M]) ProcessMessages(pc ProcessingContext, twin T, msgs []M) (ProcessingResult, error) {
	return f(pc, twin, msgs)
}

// A SimulationProcessor advances one instance by one simulated time step.
type SimulationProcessor[T Instance] interface {
	ProcessModel(pc ProcessingContext, twin T, now time.Time) (ProcessingResult, error)
}

// SimulationProcessorFunc adapts an ordinary function to a SimulationProcessor.
type SimulationProcessorFunc[T Instance] func(pc ProcessingContext, twin T, now time.Time) (ProcessingResult, error)

func (f SimulationProcessorFunc[T]) ProcessModel(pc ProcessingContext, twin T, now time.Time) (ProcessingResult, error) {
	return f(pc, twin, now)
}

// A SimulationInitializer is a SimulationProcessor that prepares every
// simulation instance of its model when the simulation is initialised, before
// the first step.
type SimulationInitializer[T Instance] interface {
	InitSimulation(ic InitSimulationContext, twin T, start time.Time) error
}

// A Model is the registered behaviour shared by every instance of one model
// name. Build one with MessageModel, SimulationModel, or HybridModel, then add
// it to a workbench.
//
// The constructors capture the instance and message types once, so that the
// workbenches dispatch without knowing them. A Model may be added to several
// workbenches; each registration owns a separate shared model store.
type Model struct {
	name            string
	newTwin         func() Instance
	processMessages func(pc ProcessingContext, twin Instance, msgs []any) (ProcessingResult, error)
	processModel    func(pc ProcessingContext, twin Instance, now time.Time) (ProcessingResult, error)
	initSimulation  func(ic InitSimulationContext, twin Instance, start time.Time) error
	decode          func(p []byte) (any, error)
}

// Name returns the model name.
func (m Model) Name() string { return m.name }

// A ModelOption customises a Model.
type ModelOption func(*Model)

// WithDecoder replaces the decoder of serialised messages. By default, messages
// are decoded from JSON. Messages the decoder rejects are dropped.
func WithDecoder[M any](decode func(p []byte) (M, error)) ModelOption {
	return func(m *Model) {
		m.decode = func(p []byte) (any, error) {
			v, err := decode(p)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrUndecodable, err)
			}
			return v, nil
		}
	}
}

// MessageModel returns a model whose instances only react to messages. The
// newTwin factory materialises instances on first use; pass nil to require
// explicit creation.
func MessageModel[T Instance, M any](name string, newTwin func() T, p MessageProcessor[T, M], opts ...ModelOption) Model {
	if p == nil {
		panic("workbench: nil MessageProcessor for model " + name)
	}
	m := Model{name: name}
	m.newTwin = factory(newTwin)
	m.processMessages = messageInvoker(name, p)
	m.decode = decodeJSON[M]
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// SimulationModel returns a model whose instances are stepped by a simulation
// but do not accept messages.
func SimulationModel[T Instance](name string, newTwin func() T, p SimulationProcessor[T], opts ...ModelOption) Model {
	if p == nil {
		panic("workbench: nil SimulationProcessor for model " + name)
	}
	m := Model{name: name}
	m.newTwin = factory(newTwin)
	m.processModel, m.initSimulation = simulationInvokers(name, p)
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// HybridModel returns a model whose instances are stepped by a simulation and
// also react to messages.
func HybridModel[T Instance, M any](name string, newTwin func() T, sp SimulationProcessor[T], mp MessageProcessor[T, M], opts ...ModelOption) Model {
	if sp == nil || mp == nil {
		panic("workbench: nil processor for model " + name)
	}
	m := Model{name: name}
	m.newTwin = factory(newTwin)
	m.processModel, m.initSimulation = simulationInvokers(name, sp)
	m.processMessages = messageInvoker(name, mp)
	m.decode = decodeJSON[M]
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func factory[T Instance](newTwin func() T) func() Instance {
	if newTwin == nil {
		return nil
	}
	return func() Instance { return newTwin() }
}

func messageInvoker[T Instance, M any](model string, p MessageProcessor[T, M]) func(ProcessingContext, Instance, []any) (ProcessingResult, error) {
	return func(pc ProcessingContext, twin Instance, msgs []any) (ProcessingResult, error) {
		typed, ok := twin.(T)
		if !ok {
			return NoUpdate, fmt.Errorf("%w: model %s expects %v, got %T", ErrTwinType, model, reflect.TypeFor[T](), twin)
		}
		batch := make([]M, 0, len(msgs))
		for _, msg := range msgs {
			v, ok := msg.(M)
			if !ok {
				return NoUpdate, fmt.Errorf("%w: model %s expects %v, got %T", ErrMessageType, model, reflect.TypeFor[M](), msg)
			}
			batch = append(batch, v)
		}
		return p.ProcessMessages(pc, typed, batch)
	}
}

func simulationInvokers[T Instance](model string, p SimulationProcessor[T]) (
	process func(ProcessingContext, Instance, time.Time) (ProcessingResult, error),
	init func(InitSimulationContext, Instance, time.Time) error,
) {
	process = func(pc ProcessingContext, twin Instance, now time.Time) (ProcessingResult, error) {
		typed, ok := twin.(T)
		if !ok {
			return NoUpdate, fmt.Errorf("%w: model %s expects %v, got %T", ErrTwinType, model, reflect.TypeFor[T](), twin)
		}
		return p.ProcessModel(pc, typed, now)
	}
	if i, ok := p.(SimulationInitializer[T]); ok {
		init = func(ic InitSimulationContext, twin Instance, start time.Time) error {
			typed, ok := twin.(T)
			if !ok {
				return fmt.Errorf("%w: model %s expects %v, got %T", ErrTwinType, model, reflect.TypeFor[T](), twin)
			}
			return i.InitSimulation(ic, typed, start)
		}
	}
	return process, init
}

// The default decoder. A JSON null is undecodable, like any malformed input.
func decodeJSON[M any](p []byte) (any, error) {
	if bytes.Equal(bytes.TrimSpace(p), []byte("null")) {
		return nil, fmt.Errorf("%w: null message", ErrUndecodable)
	}
	var v M
	if err := json.Unmarshal(p, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}
	return v, nil
}

// decodeAll decodes raw messages for this model, dropping the undecodable ones.
func (m Model) decodeAll(ctx context.Context, raw [][]byte) ([]any, error) {
	if m.decode == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoMessageProcessor, m.name)
	}
	msgs := make([]any, 0, len(raw))
	for i, p := range raw {
		v, err := m.decode(p)
		if err != nil {
			component.Logger(ctx).Debug("Dropping undecodable message",
				slog.String("model", m.name),
				slog.Int("index", i),
				slog.Any("error", err),
			)
			continue
		}
		msgs = append(msgs, v)
	}
	return msgs, nil
}
