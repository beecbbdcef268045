// Package fleet is a small vehicle domain for exercising the workbenches: cars
// that brake through simulated time and a monitor that flags readings over the
// speed limit.
package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-digitaltwin/go-workbench"
)

// Model names.
const (
	CarModel     = "Car"
	MonitorModel = "Monitor"
)

// SpeedLimitKey names the global shared-data entry holding the speed limit, as
// a decimal string. DefaultSpeedLimit applies when it is absent.
const (
	SpeedLimitKey     = "speed-limit"
	DefaultSpeedLimit = 100.0
)

// SpeedingDetector is the name the monitor looks its anomaly detector up by.
const SpeedingDetector = "speeding"

// Car is a simulated vehicle slowing down by Braking every interval until it
// stops.
type Car struct {
	workbench.TwinBase
	Speed   float64 `json:"speed"`
	Braking float64 `json:"braking"`
	Status  string  `json:"status,omitempty"`
}

// Reading is the telemetry a car emits to its monitor.
type Reading struct {
	Speed float64 `json:"speed"`
}

// Status is the monitor's reply to a reading.
type Status struct {
	Payload string `json:"payload"`
}

// Monitor watches the readings of a single car.
type Monitor struct {
	workbench.TwinBase
	Last     float64 `json:"last"`
	Readings int     `json:"readings"`
	Speeding int     `json:"speeding"`
}

// Cars is the hybrid car model: it steps through simulated time and accepts
// Status replies from its monitor.
func Cars() workbench.Model {
	return workbench.HybridModel(CarModel,
		func() *Car { return new(Car) },
		workbench.SimulationProcessorFunc[*Car](brake),
		workbench.MessageProcessorFunc[*Car, Status](updateStatus),
	)
}

// Monitors is the message model receiving car readings.
func Monitors() workbench.Model {
	return workbench.MessageModel(MonitorModel,
		func() *Monitor { return new(Monitor) },
		workbench.MessageProcessorFunc[*Monitor, Reading](watch),
	)
}

func brake(pc workbench.ProcessingContext, car *Car, _ time.Time) (workbench.ProcessingResult, error) {
	car.Speed = max(car.Speed-car.Braking, 0)
	sc, ok := pc.SimulationController()
	if !ok {
		return workbench.NoUpdate, workbench.ErrNotAvailable
	}
	if err := sc.EmitTelemetry(MonitorModel, Reading{Speed: car.Speed}); err != nil {
		return workbench.NoUpdate, fmt.Errorf("emit reading: %w", err)
	}
	if car.Speed == 0 || car.Braking <= 0 {
		pc.Log(workbench.Informational, "Car leaves the road", "speed", car.Speed)
		sc.DeleteThisTwin()
	}
	return workbench.DoUpdate, nil
}

func updateStatus(_ workbench.ProcessingContext, car *Car, msgs []Status) (workbench.ProcessingResult, error) {
	car.Status = msgs[len(msgs)-1].Payload
	return workbench.DoUpdate, nil
}

func watch(pc workbench.ProcessingContext, m *Monitor, msgs []Reading) (workbench.ProcessingResult, error) {
	limit := SpeedLimit(pc.SharedGlobalData())
	for _, r := range msgs {
		m.Last = r.Speed
		m.Readings++
		if r.Speed <= limit {
			continue
		}
		m.Speeding++
		if err := pc.SendToDataSource(Status{Payload: "Too Fast"}); err != nil {
			return workbench.NoUpdate, err
		}
		if err := alert(pc, r); err != nil {
			return workbench.NoUpdate, err
		}
	}
	return workbench.DoUpdate, save(pc, m)
}

// save writes the monitor to the persistence store, when the workbench has one.
func save(pc workbench.ProcessingContext, m *Monitor) error {
	p, err := pc.Persistence()
	if errors.Is(err, workbench.ErrNotAvailable) {
		return nil
	}
	if err != nil {
		return err
	}
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode monitor: %w", err)
	}
	if err := p.PutInstance(pc.Context(), pc.Model(), pc.InstanceID(), doc); err != nil {
		return fmt.Errorf("save monitor: %w", err)
	}
	return nil
}

// alert posts a speeding alert when a detector is installed and agrees.
func alert(pc workbench.ProcessingContext, r Reading) error {
	d, ok := pc.AnomalyDetector(SpeedingDetector)
	if !ok {
		return nil
	}
	anomalous, err := d.DetectAnomaly(pc.Context(), map[string]float32{"speed": float32(r.Speed)})
	if err != nil {
		return fmt.Errorf("detect anomaly: %w", err)
	}
	if !anomalous {
		return nil
	}
	return pc.SendAlert(SpeedingDetector, workbench.AlertMessage{
		Title:    "Speeding",
		Severity: "Warning",
		Message:  fmt.Sprintf("%s read %.1f", pc.InstanceID(), r.Speed),
		OptionalTwinInstanceProperties: map[string]string{
			"speed": strconv.FormatFloat(r.Speed, 'f', -1, 64),
		},
	})
}

// SpeedLimit reads the speed limit from d.
func SpeedLimit(d *workbench.SharedData) float64 {
	res := d.Get(SpeedLimitKey)
	if res.Status != workbench.ObjectRetrieved {
		return DefaultSpeedLimit
	}
	limit, err := strconv.ParseFloat(string(res.Value), 64)
	if err != nil {
		return DefaultSpeedLimit
	}
	return limit
}

// SetSpeedLimit stores limit in d.
func SetSpeedLimit(d *workbench.SharedData, limit float64) {
	d.Put(SpeedLimitKey, []byte(strconv.FormatFloat(limit, 'f', -1, 64)))
}

// SpeedingAbove returns a detector flagging speeds above limit.
func SpeedingAbove(limit float64) workbench.AnomalyDetector {
	return workbench.AnomalyDetectorFunc(func(_ context.Context, features map[string]float32) (bool, error) {
		speed, ok := features["speed"]
		if !ok {
			return false, errors.New("missing speed feature")
		}
		return float64(speed) > limit, nil
	})
}
