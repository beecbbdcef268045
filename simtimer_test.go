package workbench_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-digitaltwin/go-workbench"
)

// startOnce starts a timer on the first step of each car, counting every step
// in its speed.
func startOnce(name string, interval time.Duration, typ workbench.TimerType) simProc {
	return func(pc workbench.ProcessingContext, car *Car, _ time.Time) (workbench.ProcessingResult, error) {
		car.Speed++
		if car.Status == "" {
			car.Status = "timing"
			if res, err := pc.StartTimer(name, interval, typ, countFired); res != workbench.Success {
				return workbench.NoUpdate, errors.Join(errors.New(res.String()), err)
			}
		}
		return workbench.DoUpdate, nil
	}
}

func runSimulation(t *testing.T, w *workbench.SimulationWorkbench, end time.Duration) workbench.SimulationStatus {
	t.Helper()
	res, err := w.RunSimulation(context.Background(), start, start.Add(end), time.Second, 0)
	if err != nil {
		t.Fatalf("RunSimulation() error = %v", err)
	}
	return res.Status
}

func TestSimTimers(t *testing.T) {
	tests := []struct {
		name      string
		typ       workbench.TimerType
		interval  time.Duration
		end       time.Duration
		wantFired int
	}{
		{"FiresOnce", workbench.OneTime, 10 * time.Second, 30 * time.Second, 1},
		{"RecurringFires", workbench.Recurring, 5 * time.Second, 31 * time.Second, 6},
		// Fires at +4.5s, then every 5s: re-arming rounds up to whole intervals.
		{"RearmsOnWholeIntervals", workbench.Recurring, 4500 * time.Millisecond, 30 * time.Second, 6},
		{"FirstFiringUnaligned", workbench.OneTime, 2500 * time.Millisecond, 3 * time.Second, 1},
		{"NeverDue", workbench.OneTime, time.Minute, 30 * time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newSimulation(t, workbench.SimulationModel("Car", newCar, startOnce("t", tt.interval, tt.typ)))
			car := addCar(t, w, "Car", "car1", 0)

			if status := runSimulation(t, w, tt.end); status != workbench.EndTimeReached {
				t.Errorf("RunSimulation() status = %v, want EndTimeReached", status)
			}
			if car.Fired != tt.wantFired {
				t.Errorf("timer fired %d times, want %d", car.Fired, tt.wantFired)
			}
		})
	}
}

func TestSimTimers_StopRecurring(t *testing.T) {
	var stopped []workbench.TimerActionResult
	proc := func(pc workbench.ProcessingContext, car *Car, now time.Time) (workbench.ProcessingResult, error) {
		if _, err := startOnce("t", 5*time.Second, workbench.Recurring)(pc, car, now); err != nil {
			return workbench.NoUpdate, err
		}
		if car.Fired > 2 {
			res, err := pc.StopTimer("t")
			if err != nil {
				return workbench.NoUpdate, err
			}
			stopped = append(stopped, res)
		}
		return workbench.DoUpdate, nil
	}
	w := newSimulation(t, workbench.SimulationModel("Car", newCar, simProc(proc)))
	car := addCar(t, w, "Car", "car1", 0)

	if status := runSimulation(t, w, 30*time.Second); status != workbench.EndTimeReached {
		t.Errorf("RunSimulation() status = %v, want EndTimeReached", status)
	}
	if car.Fired != 3 {
		t.Errorf("timer fired %d times, want 3", car.Fired)
	}
	if car.Speed != 30 {
		t.Errorf("car was stepped %d times, want 30", car.Speed)
	}
	if _, ok := w.Instance("Car", "car1"); !ok {
		t.Error("car1 is gone after its timer stopped")
	}
	if len(stopped) == 0 || stopped[0] != workbench.Success {
		t.Fatalf("StopTimer() results = %v, want Success first", stopped)
	}
	for _, res := range stopped[1:] {
		if res != workbench.FailedNoSuchTimer {
			t.Errorf("StopTimer() of a stopped timer = %v, want FailedNoSuchTimer", res)
		}
	}
}

// TimedCar starts a timer as soon as it is registered.
type TimedCar struct {
	workbench.TwinBase
	Fired int
}

func (c *TimedCar) Init(ic workbench.InitContext) error {
	_, err := ic.StartTimer("init-timer", 5*time.Second, workbench.OneTime, func(_ workbench.ProcessingContext, _ string, twin workbench.Instance) (workbench.ProcessingResult, error) {
		twin.(*TimedCar).Fired++
		return workbench.DoUpdate, nil
	})
	return err
}

func TestSimTimers_StartTimerFromInit(t *testing.T) {
	w := workbench.NewSimulationWorkbench()
	m := workbench.SimulationModel("Car", func() *TimedCar { return new(TimedCar) }, workbench.SimulationProcessorFunc[*TimedCar](
		func(workbench.ProcessingContext, *TimedCar, time.Time) (workbench.ProcessingResult, error) {
			return workbench.NoUpdate, nil
		},
	))
	if err := w.AddModel(m); err != nil {
		t.Fatal(err)
	}
	car := new(TimedCar)
	if err := w.AddInstance("Car", "car1", car); err != nil {
		t.Fatal(err)
	}

	if status := runSimulation(t, w, 30*time.Second); status != workbench.EndTimeReached {
		t.Errorf("RunSimulation() status = %v, want EndTimeReached", status)
	}
	if car.Fired != 1 {
		t.Errorf("timer fired %d times, want 1", car.Fired)
	}
}

// FlakyCar fails its first Init after starting a recurring timer.
type FlakyCar struct {
	workbench.TwinBase
	Inits, Fired int
}

func (c *FlakyCar) Init(ic workbench.InitContext) error {
	c.Inits++
	res, err := ic.StartTimer("flaky", time.Second, workbench.Recurring, func(_ workbench.ProcessingContext, _ string, twin workbench.Instance) (workbench.ProcessingResult, error) {
		twin.(*FlakyCar).Fired++
		return workbench.NoUpdate, nil
	})
	if res != workbench.Success {
		return errors.Join(errors.New(res.String()), err)
	}
	if c.Inits == 1 {
		return errors.New("not ready")
	}
	return nil
}

func newFlakySimulation(t *testing.T) *workbench.SimulationWorkbench {
	t.Helper()
	w := newSimulation(t,
		workbench.SimulationModel("Car", newCar, simProc(doNothing)),
		workbench.SimulationModel("Flaky", func() *FlakyCar { return new(FlakyCar) }, workbench.SimulationProcessorFunc[*FlakyCar](
			func(workbench.ProcessingContext, *FlakyCar, time.Time) (workbench.ProcessingResult, error) {
				return workbench.NoUpdate, nil
			},
		)),
	)
	addCar(t, w, "Car", "car1", 0)
	return w
}

func TestSimTimers_FailedInitReleasesTimers(t *testing.T) {
	w := newFlakySimulation(t)
	car := new(FlakyCar)
	if err := w.AddInstance("Flaky", "flaky1", car); err == nil {
		t.Fatal("AddInstance() succeeded with a failing Init, want error")
	}
	if car.ID() != "" {
		t.Errorf("ID() = %q after a failed Init, want it unbound", car.ID())
	}

	if status := runSimulation(t, w, 10*time.Second); status != workbench.EndTimeReached {
		t.Errorf("RunSimulation() status = %v, want EndTimeReached", status)
	}
	if car.Fired != 0 {
		t.Errorf("timer of the unregistered instance fired %d times, want 0", car.Fired)
	}
}

func TestSimTimers_RetryFailedInit(t *testing.T) {
	w := newFlakySimulation(t)
	car := new(FlakyCar)
	if err := w.AddInstance("Flaky", "flaky1", car); err == nil {
		t.Fatal("AddInstance() succeeded with a failing Init, want error")
	}
	// The retry runs Init again, which can reuse the released timer name.
	if err := w.AddInstance("Flaky", "flaky1", car); err != nil {
		t.Fatalf("AddInstance() retry error = %v", err)
	}
	if car.Inits != 2 || car.ID() != "flaky1" {
		t.Errorf("Init ran %d times binding %q, want twice binding flaky1", car.Inits, car.ID())
	}

	if status := runSimulation(t, w, 10*time.Second); status != workbench.EndTimeReached {
		t.Errorf("RunSimulation() status = %v, want EndTimeReached", status)
	}
	// Due at +1s through +9s.
	if car.Fired != 9 {
		t.Errorf("timer fired %d times, want 9", car.Fired)
	}
}

func TestSimTimers_Lifecycle(t *testing.T) {
	var results []workbench.TimerActionResult
	var errs []error
	proc := func(pc workbench.ProcessingContext, car *Car, _ time.Time) (workbench.ProcessingResult, error) {
		car.Speed++
		sc, _ := pc.SimulationController()
		switch car.Speed {
		case 1:
			res, err := pc.StartTimer("t", time.Second, workbench.Recurring, func(pc workbench.ProcessingContext, _ string, twin workbench.Instance) (workbench.ProcessingResult, error) {
				twin.(*Car).Fired++
				// Timer callbacks cannot reschedule their owner.
				sc, _ := pc.SimulationController()
				return workbench.NoUpdate, sc.Delay(time.Hour)
			})
			results = append(results, res)
			errs = append(errs, err)
			res, err = pc.StartTimer("t", time.Second, workbench.OneTime, countFired)
			results = append(results, res)
			errs = append(errs, err)
			res, err = pc.StopTimer("missing")
			results = append(results, res)
			errs = append(errs, err)
			_, err = pc.StartTimer("bad", 0, workbench.OneTime, countFired)
			errs = append(errs, err)
		case 3:
			sc.DeleteThisTwin()
		}
		return workbench.DoUpdate, nil
	}
	w := newSimulation(t, workbench.SimulationModel("Car", newCar, simProc(proc)))
	car := addCar(t, w, "Car", "car1", 0)
	initialize(t, w, start.Add(time.Hour))

	status, running := stepUntilDone(t, w, 100)
	// Deleting the only instance also drops its timer, leaving no work.
	if status != workbench.NoRemainingWork || running != 2 {
		t.Errorf("simulation ended with %v after %d running steps, want NoRemainingWork after 2", status, running)
	}
	// The timer fired at +1s and +2s, ahead of the steps due at those instants.
	if car.Fired != 2 || car.Speed != 3 {
		t.Errorf("fired %d times over %d steps, want 2 over 3", car.Fired, car.Speed)
	}

	want := []workbench.TimerActionResult{workbench.Success, workbench.FailedTimerAlreadyExists, workbench.FailedNoSuchTimer}
	for i, res := range results {
		if res != want[i] {
			t.Errorf("timer operation #%d = %v, want %v", i, res, want[i])
		}
	}
	for i, err := range errs[:3] {
		if err != nil {
			t.Errorf("timer operation #%d error = %v", i, err)
		}
	}
	if !errors.Is(errs[3], workbench.ErrInvalidTimer) {
		t.Errorf("StartTimer() with a zero interval error = %v, want %v", errs[3], workbench.ErrInvalidTimer)
	}
}

type initSpeed struct{}

func (initSpeed) ProcessModel(pc workbench.ProcessingContext, car *Car, _ time.Time) (workbench.ProcessingResult, error) {
	car.Speed++
	return workbench.DoUpdate, nil
}

func (initSpeed) InitSimulation(ic workbench.InitSimulationContext, car *Car, start time.Time) error {
	res := ic.SharedGlobalData().Get("initial-speed")
	if res.Status != workbench.ObjectRetrieved {
		return errors.New("no initial speed")
	}
	car.Speed = int(res.Value[0])
	car.Status = start.Format(time.DateOnly)
	return nil
}

func TestSimulation_InitSimulation(t *testing.T) {
	w := newSimulation(t, workbench.SimulationModel[*Car]("Car", newCar, initSpeed{}))
	car := addCar(t, w, "Car", "car1", 0)

	err := w.InitializeSimulation(context.Background(), start, start.Add(time.Hour), time.Second)
	if err == nil {
		t.Fatal("InitializeSimulation() succeeded with a failing hook, want error")
	}

	w.SharedGlobalData().Put("initial-speed", []byte{40})
	initialize(t, w, start.Add(time.Hour))
	if _, err := w.Step(context.Background()); err != nil {
		t.Fatal(err)
	}
	if car.Speed != 41 || car.Status != "2023-01-01" {
		t.Errorf("car = speed %d, status %q; want 41, 2023-01-01", car.Speed, car.Status)
	}
}
