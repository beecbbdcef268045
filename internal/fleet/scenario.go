package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/go-digitaltwin/go-workbench"
)

// A Scenario describes a fleet of cars and a stream of readings, in YAML:
//
//	start: 2023-01-01T00:00:00Z
//	end: 2023-01-01T00:10:00Z
//	interval: 10s
//	speedLimit: 100
//	cars:
//	  - id: car1
//	    speed: 120
//	    braking: 10
//	readings:
//	  - car: car1
//	    speed: 130
//
// Cars without an id get a random one.
type Scenario struct {
	Start      time.Time       `yaml:"start"`
	End        time.Time       `yaml:"end"`
	Interval   time.Duration   `yaml:"interval"`
	SpeedLimit float64         `yaml:"speedLimit"`
	Cars       []CarSpec       `yaml:"cars"`
	Readings   []ReadingRecord `yaml:"readings"`
}

// CarSpec is the initial state of a car.
type CarSpec struct {
	ID      string  `yaml:"id"`
	Speed   float64 `yaml:"speed"`
	Braking float64 `yaml:"braking"`
}

// ReadingRecord is a reading addressed to the monitor of a car.
type ReadingRecord struct {
	Car   string  `yaml:"car"`
	Speed float64 `yaml:"speed"`
}

// ErrInvalidScenario is returned when a scenario cannot be run.
var ErrInvalidScenario = errors.New("invalid scenario")

// LoadScenario decodes a YAML scenario from r. Unknown fields are rejected.
func LoadScenario(r io.Reader) (Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return Scenario{}, fmt.Errorf("decode scenario: %w", err)
	}
	if s.SpeedLimit == 0 {
		s.SpeedLimit = DefaultSpeedLimit
	}
	ids := make(map[string]bool, len(s.Cars))
	for i := range s.Cars {
		if s.Cars[i].ID == "" {
			s.Cars[i].ID = uuid.NewString()
		}
		if ids[s.Cars[i].ID] {
			return Scenario{}, fmt.Errorf("%w: car %s listed twice", ErrInvalidScenario, s.Cars[i].ID)
		}
		ids[s.Cars[i].ID] = true
	}
	for _, r := range s.Readings {
		if r.Car == "" {
			return Scenario{}, fmt.Errorf("%w: reading without a car", ErrInvalidScenario)
		}
	}
	return s, nil
}

// Simulate runs the cars of s through a simulation workbench and returns it
// once the simulation completes.
func (s Scenario) Simulate(ctx context.Context, opts ...workbench.SimulationOption) (*workbench.SimulationWorkbench, workbench.StepResult, error) {
	if s.Interval <= 0 || !s.End.After(s.Start) {
		return nil, workbench.StepResult{}, fmt.Errorf("%w: needs a positive interval and an end after the start", ErrInvalidScenario)
	}
	w := workbench.NewSimulationWorkbench(opts...)
	for _, m := range []workbench.Model{Cars(), Monitors()} {
		if err := w.AddModel(m); err != nil {
			return nil, workbench.StepResult{}, err
		}
	}
	SetSpeedLimit(w.SharedGlobalData(), s.SpeedLimit)
	for _, c := range s.Cars {
		if err := w.AddInstance(CarModel, c.ID, &Car{Speed: c.Speed, Braking: c.Braking}); err != nil {
			return nil, workbench.StepResult{}, err
		}
	}
	res, err := w.RunSimulation(ctx, s.Start, s.End, s.Interval, 0)
	return w, res, err
}

// Seed stores the monitors of every car of s in p, so a real-time workbench
// can restore them with CreateTwinFromPersistenceStore.
func (s Scenario) Seed(ctx context.Context, p workbench.PersistenceProvider) error {
	for _, c := range s.Cars {
		doc, err := json.Marshal(Monitor{Last: c.Speed})
		if err != nil {
			return fmt.Errorf("encode monitor %s: %w", c.ID, err)
		}
		if err := p.PutInstance(ctx, MonitorModel, c.ID, doc); err != nil {
			return fmt.Errorf("seed monitor %s: %w", c.ID, err)
		}
	}
	return nil
}

// Replay sends every reading of s to the monitors served by e, in order.
// Monitors stored in the persistence provider are restored before their first
// reading. Failed deliveries are joined into the returned error.
func (s Scenario) Replay(ctx context.Context, e *workbench.Endpoint) error {
	for _, c := range s.Cars {
		err := e.CreateTwinFromPersistenceStore(ctx, c.ID)
		if err != nil && !errors.Is(err, workbench.ErrNotAvailable) && !errors.Is(err, workbench.ErrInstanceNotFound) {
			return err
		}
	}
	var errs []error
	for _, r := range s.Readings {
		body, err := json.Marshal(Reading{Speed: r.Speed})
		if err != nil {
			return fmt.Errorf("encode reading: %w", err)
		}
		if err := e.SendBytes(ctx, r.Car, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
