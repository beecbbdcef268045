package workbench

import (
	"errors"
	"testing"
	"time"
)

type probe struct {
	TwinBase
	inits int
	timer TimerActionResult
}

func (p *probe) Init(ic InitContext) error {
	p.inits++
	res, err := ic.StartTimer("tick", time.Second, Recurring, func(ProcessingContext, string, Instance) (ProcessingResult, error) {
		return NoUpdate, nil
	})
	p.timer = res
	return err
}

func TestTwinBase_bind(t *testing.T) {
	var b TwinBase
	if first, err := b.bind("car1", "Car"); !first || err != nil {
		t.Fatalf("bind() = %v, %v; want true, nil", first, err)
	}
	if first, err := b.bind("car1", "Car"); first || err != nil {
		t.Errorf("rebind with the same identity = %v, %v; want false, nil", first, err)
	}
	if _, err := b.bind("car2", "Car"); !errors.Is(err, ErrIdentityConflict) {
		t.Errorf("rebind with another id error = %v, want %v", err, ErrIdentityConflict)
	}
	if _, err := b.bind("car1", "Truck"); !errors.Is(err, ErrIdentityConflict) {
		t.Errorf("rebind with another model error = %v, want %v", err, ErrIdentityConflict)
	}
	if b.ID() != "car1" || b.Model() != "Car" {
		t.Errorf("identity = %s/%s after failed rebinds, want Car/car1", b.Model(), b.ID())
	}
}

func TestAddInstance_InitOnce(t *testing.T) {
	w := NewSimulationWorkbench()
	m := SimulationModel("Car", func() *probe { return new(probe) }, SimulationProcessorFunc[*probe](
		func(ProcessingContext, *probe, time.Time) (ProcessingResult, error) { return NoUpdate, nil },
	))
	if err := w.AddModel(m); err != nil {
		t.Fatal(err)
	}

	p := new(probe)
	if err := w.AddInstance("Car", "car1", p); err != nil {
		t.Fatal(err)
	}
	if p.inits != 1 || p.timer != Success {
		t.Errorf("Init ran %d times with timer result %v, want once with Success", p.inits, p.timer)
	}

	// Registering the same instance under another identity is refused before
	// it can be initialised again.
	if err := w.AddInstance("Car", "car2", p); !errors.Is(err, ErrIdentityConflict) {
		t.Errorf("AddInstance() under another id error = %v, want %v", err, ErrIdentityConflict)
	}
	if err := w.AddInstance("Car", "car1", new(probe)); !errors.Is(err, ErrInstanceExists) {
		t.Errorf("AddInstance() duplicate error = %v, want %v", err, ErrInstanceExists)
	}
	if p.inits != 1 {
		t.Errorf("Init ran %d times, want once", p.inits)
	}
	if _, ok := w.Instance("Car", "car2"); ok {
		t.Error("Instance(car2) exists after a failed registration")
	}
}

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got  interface{ String() string }
		want string
	}{
		{DoUpdate, "DoUpdate"},
		{NoUpdate, "NoUpdate"},
		{Recurring, "Recurring"},
		{OneTime, "OneTime"},
		{FailedNoSuchTimer, "FailedNoSuchTimer"},
		{FailedTimerAlreadyExists, "FailedTimerAlreadyExists"},
		{TimerActionResult(42), "TimerActionResult(42)"},
		{Critical, "Critical"},
		{Running, "Running"},
		{EndTimeReached, "EndTimeReached"},
		{ObjectDoesNotExist, "ObjectDoesNotExist"},
	}
	for _, tt := range tests {
		if s := tt.got.String(); s != tt.want {
			t.Errorf("String() = %q, want %q", s, tt.want)
		}
	}
}

func TestLogSeverity_Level(t *testing.T) {
	if _, ok := None.Level(); ok {
		t.Error("None maps to a level, want it discarded")
	}
	prev, _ := Verbose.Level()
	for _, s := range []LogSeverity{Informational, Warning, Error, Critical} {
		level, ok := s.Level()
		if !ok {
			t.Fatalf("%v maps to no level", s)
		}
		if level <= prev {
			t.Errorf("%v maps to %v, which is not above the previous severity's %v", s, level, prev)
		}
		prev = level
	}
}
