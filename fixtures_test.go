package workbench_test

import (
	"time"

	"github.com/go-digitaltwin/go-workbench"
)

// Car is the instance type shared by the tests of this package.
type Car struct {
	workbench.TwinBase
	Speed  int
	Status string
	Fired  int
}

func newCar() *Car { return new(Car) }

// CarMessage reports the speed of a car.
type CarMessage struct {
	Speed int
}

// StatusMessage asks a car to change its status.
type StatusMessage struct {
	Payload string
}

var start = time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)

type simProc = workbench.SimulationProcessorFunc[*Car]

func doNothing(workbench.ProcessingContext, *Car, time.Time) (workbench.ProcessingResult, error) {
	return workbench.NoUpdate, nil
}

// decrement slows a car down by one on every step, calling atZero once it
// stops.
func decrement(atZero func(pc workbench.ProcessingContext, sc workbench.SimulationController)) simProc {
	return func(pc workbench.ProcessingContext, car *Car, _ time.Time) (workbench.ProcessingResult, error) {
		car.Speed--
		if car.Speed == 0 {
			sc, _ := pc.SimulationController()
			atZero(pc, sc)
		}
		return workbench.DoUpdate, nil
	}
}

// countFired is a timer handler counting its firings on the owning car.
func countFired(_ workbench.ProcessingContext, _ string, twin workbench.Instance) (workbench.ProcessingResult, error) {
	twin.(*Car).Fired++
	return workbench.DoUpdate, nil
}
