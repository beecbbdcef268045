/*
Package persisttest provides a suite of tests designed to assess
implementations of workbench.PersistenceProvider (e.g. in-memory, neo4j).

Call persisttest.Run in its own test to invoke the test-suite:

	func TestStore(t *testing.T) {
		persisttest.Run(t, new(memstore.Store))
	}

The cases run in order against the same provider, and each one works on a
model of its own, so they expect the provider to start empty of those models.
Providers are encouraged to perform additional tests which are specific to
their storage.
*/
package persisttest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"testing"

	"github.com/go-digitaltwin/go-workbench"
)

type testCase struct {
	// Subtest name, also used as the model name of the case.
	name string
	// A path leading to the test-case's file and line in the source code.
	location string
	// Prepares the provider. Errors fail the case.
	setup func(ctx context.Context, p workbench.PersistenceProvider, model string) error
	// A list of checks to run once setup has succeeded.
	checks []check
}

var cases = []testCase{
	{
		name:     "unknown-model",
		location: locateSource(),
		setup:    nop,
		checks: []check{
			ids(),
			missingInstance("car1"),
		},
	},
	{
		name:     "put-instance",
		location: locateSource(),
		setup: func(ctx context.Context, p workbench.PersistenceProvider, model string) error {
			return p.PutInstance(ctx, model, "car1", []byte(`{"Speed": 45, "Status": "Idle"}`))
		},
		checks: []check{
			ids("car1"),
			document("car1", `{"Speed":45,"Status":"Idle"}`),
			names("car1", "Speed", "Status"),
			property("car1", "Speed", float64(45)),
			property("car1", "Status", "Idle"),
			typed[float64]("car1", "Speed", true),
			typed[string]("car1", "Speed", false),
			missingProperty("car1", "Colour"),
			missingInstance("car2"),
		},
	},
	{
		name:     "replace-instance",
		location: locateSource(),
		setup: func(ctx context.Context, p workbench.PersistenceProvider, model string) error {
			if err := p.PutInstance(ctx, model, "car1", []byte(`{"Speed": 45, "Status": "Idle"}`)); err != nil {
				return err
			}
			return p.PutInstance(ctx, model, "car1", []byte(`{"Speed": 80}`))
		},
		checks: []check{
			document("car1", `{"Speed":80}`),
			missingProperty("car1", "Status"),
		},
	},
	{
		name:     "nested-values",
		location: locateSource(),
		setup: func(ctx context.Context, p workbench.PersistenceProvider, model string) error {
			return p.PutInstance(ctx, model, "car1", []byte(`{"Position": {"Lat": 1.5, "Lon": -2}, "Tags": ["a", "b"], "Active": true}`))
		},
		checks: []check{
			document("car1", `{"Active":true,"Position":{"Lat":1.5,"Lon":-2},"Tags":["a","b"]}`),
			property("car1", "Position", map[string]any{"Lat": 1.5, "Lon": float64(-2)}),
			property("car1", "Tags", []any{"a", "b"}),
			property("car1", "Active", true),
		},
	},
	{
		name:     "update-property",
		location: locateSource(),
		setup: func(ctx context.Context, p workbench.PersistenceProvider, model string) error {
			if err := p.PutInstance(ctx, model, "car1", []byte(`{"Speed": 45}`)); err != nil {
				return err
			}
			if err := p.UpdateProperty(ctx, model, "car1", "Speed", 60); err != nil {
				return err
			}
			return p.UpdateProperty(ctx, model, "car1", "Status", "Too Fast")
		},
		checks: []check{
			document("car1", `{"Speed":60,"Status":"Too Fast"}`),
			names("car1", "Speed", "Status"),
		},
	},
	{
		name:     "update-missing-instance",
		location: locateSource(),
		setup: func(ctx context.Context, p workbench.PersistenceProvider, model string) error {
			err := p.UpdateProperty(ctx, model, "ghost", "Speed", 1)
			if !errors.Is(err, workbench.ErrInstanceNotFound) {
				return fmt.Errorf("UpdateProperty() error = %v, want %v", err, workbench.ErrInstanceNotFound)
			}
			return nil
		},
		checks: []check{
			ids(),
		},
	},
	{
		name:     "reject-invalid-documents",
		location: locateSource(),
		setup: func(ctx context.Context, p workbench.PersistenceProvider, model string) error {
			for _, doc := range []string{`[1,2]`, `null`, `{"Speed":`, `{"_id":"x"}`} {
				if err := p.PutInstance(ctx, model, "car1", []byte(doc)); err == nil {
					return fmt.Errorf("PutInstance(%s) succeeded, want error", doc)
				}
			}
			return nil
		},
		checks: []check{
			ids(),
		},
	},
	{
		name:     "many-instances",
		location: locateSource(),
		setup: func(ctx context.Context, p workbench.PersistenceProvider, model string) error {
			for _, id := range []string{"car3", "car1", "car2"} {
				if err := p.PutInstance(ctx, model, id, []byte(`{}`)); err != nil {
					return err
				}
			}
			return nil
		},
		checks: []check{
			ids("car1", "car2", "car3"),
			document("car2", `{}`),
			names("car2"),
		},
	},
}

func nop(context.Context, workbench.PersistenceProvider, string) error { return nil }

// Run runs the test-suite against p.
func Run(t *testing.T, p workbench.PersistenceProvider) {
	// Cases share the provider, so they run sequentially.
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Logf("Read the source for test-case %v at %v", tc.name, tc.location)
			ctx := context.Background()
			model := "persisttest." + tc.name

			if err := tc.setup(ctx, p, model); err != nil {
				t.Fatal("Setup failed:", err)
			}
			for _, c := range tc.checks {
				if problem := c(ctx, p, model); problem != "" {
					t.Error(problem)
				}
			}
		})
	}
}

// Returns the file and line of the caller, formatted as a path clickable in
// most terminals.
func locateSource() string {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%v:%v", file, line)
}
