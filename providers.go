package workbench

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

// AlertMessage is posted by a behaviour through ProcessingContext.SendAlert.
type AlertMessage struct {
	Title    string
	Severity string
	Message  string
	// OptionalTwinInstanceProperties carries a snapshot of the instance state
	// relevant to the alert.
	OptionalTwinInstanceProperties map[string]string
}

// PostedAlert is an AlertMessage recorded by the real-time workbench.
type PostedAlert struct {
	Provider string
	Alert    AlertMessage
	Posted   time.Time
}

// An AnomalyDetector scores a set of named features.
type AnomalyDetector interface {
	DetectAnomaly(ctx context.Context, features map[string]float32) (bool, error)
}

// AnomalyDetectorFunc adapts an ordinary function to an AnomalyDetector.
type AnomalyDetectorFunc func(ctx context.Context, features map[string]float32) (bool, error)

func (f AnomalyDetectorFunc) DetectAnomaly(ctx context.Context, features map[string]float32) (bool, error) {
	return f(ctx, features)
}

// A PersistenceProvider stores instances as property documents, grouped by
// model. Implementations return errors wrapping ErrInstanceNotFound and
// ErrPropertyNotFound for absent data.
//
// The memstore and neo4jstore packages provide implementations; persisttest
// checks an implementation against this contract.
type PersistenceProvider interface {
	// InstanceIDs lists the ids stored for model, in ascending order.
	InstanceIDs(ctx context.Context, model string) ([]string, error)
	// Instance returns the stored properties of an instance as a JSON object.
	Instance(ctx context.Context, model, id string) ([]byte, error)
	// PutInstance replaces every property of an instance with those of the
	// JSON object doc, creating the instance if needed.
	PutInstance(ctx context.Context, model, id string, doc []byte) error
	// PropertyNames lists the property names of an instance, in ascending
	// order.
	PropertyNames(ctx context.Context, model, id string) ([]string, error)
	Property(ctx context.Context, model, id, name string) (any, error)
	// UpdateProperty sets a single property of an existing instance.
	UpdateProperty(ctx context.Context, model, id, name string, value any) error
}

// GetProperty reads a property and asserts its type. Numbers read back from a
// JSON document are float64.
func GetProperty[T any](ctx context.Context, p PersistenceProvider, model, id, name string) (T, error) {
	var zero T
	v, err := p.Property(ctx, model, id, name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, &PropertyTypeError{Name: name, Want: reflect.TypeFor[T](), Got: reflect.TypeOf(v)}
	}
	return t, nil
}

// A PropertyTypeError reports a stored property whose type differs from the
// requested one.
type PropertyTypeError struct {
	Name string
	Want reflect.Type
	Got  reflect.Type
}

func (e *PropertyTypeError) Error() string {
	return fmt.Sprintf("property %q has type %v, not %v", e.Name, e.Got, e.Want)
}

// DataSourceMessage is raised by the real-time workbench when an instance
// replies to its data source.
type DataSourceMessage struct {
	TwinID  string
	Model   string
	Message any
}
