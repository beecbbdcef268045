package persisttest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"

	"github.com/go-digitaltwin/go-workbench"
	"github.com/go-digitaltwin/go-workbench/internal/propdoc"
)

// A check is any function that returns unexpected problems with the state of
// the given provider.
type check func(ctx context.Context, p workbench.PersistenceProvider, model string) (problem string)

// Checks that the model holds exactly the given instances, in this order.
func ids(want ...string) check {
	return func(ctx context.Context, p workbench.PersistenceProvider, model string) string {
		got, err := p.InstanceIDs(ctx, model)
		if err != nil {
			return fmt.Sprintf("InstanceIDs() error = %v", err)
		}
		if diff := cmp.Diff(want, got, cmpEmpty); diff != "" {
			return fmt.Sprintf("InstanceIDs() mismatch (-want +got):\n%v", diff)
		}
		return ""
	}
}

// Checks the stored document of an instance, comparing decoded JSON so that
// formatting and key order do not matter.
func document(id, want string) check {
	return func(ctx context.Context, p workbench.PersistenceProvider, model string) string {
		got, err := p.Instance(ctx, model, id)
		if err != nil {
			return fmt.Sprintf("Instance(%q) error = %v", id, err)
		}
		wantDoc, err := propdoc.Decode([]byte(want))
		if err != nil {
			return fmt.Sprintf("bad test-case document %s: %v", want, err)
		}
		gotDoc, err := propdoc.Decode(got)
		if err != nil {
			return fmt.Sprintf("Instance(%q) returned invalid JSON %s: %v", id, got, err)
		}
		if diff := cmp.Diff(wantDoc, gotDoc); diff != "" {
			return fmt.Sprintf("Instance(%q) mismatch (-want +got):\n%v", id, diff)
		}
		return ""
	}
}

func names(id string, want ...string) check {
	return func(ctx context.Context, p workbench.PersistenceProvider, model string) string {
		got, err := p.PropertyNames(ctx, model, id)
		if err != nil {
			return fmt.Sprintf("PropertyNames(%q) error = %v", id, err)
		}
		if diff := cmp.Diff(want, got, cmpEmpty); diff != "" {
			return fmt.Sprintf("PropertyNames(%q) mismatch (-want +got):\n%v", id, diff)
		}
		return ""
	}
}

func property(id, name string, want any) check {
	return func(ctx context.Context, p workbench.PersistenceProvider, model string) string {
		got, err := p.Property(ctx, model, id, name)
		if err != nil {
			return fmt.Sprintf("Property(%q, %q) error = %v", id, name, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			return fmt.Sprintf("Property(%q, %q) mismatch (-want +got):\n%v", id, name, diff)
		}
		return ""
	}
}

// Checks that workbench.GetProperty reads the property as T, or fails with a
// *workbench.PropertyTypeError.
func typed[T any](id, name string, ok bool) check {
	return func(ctx context.Context, p workbench.PersistenceProvider, model string) string {
		_, err := workbench.GetProperty[T](ctx, p, model, id, name)
		var typeErr *workbench.PropertyTypeError
		switch {
		case ok && err != nil:
			return fmt.Sprintf("GetProperty(%q, %q) error = %v", id, name, err)
		case !ok && !errors.As(err, &typeErr):
			return fmt.Sprintf("GetProperty(%q, %q) error = %v, want *PropertyTypeError", id, name, err)
		}
		return ""
	}
}

func missingProperty(id, name string) check {
	return func(ctx context.Context, p workbench.PersistenceProvider, model string) string {
		_, err := p.Property(ctx, model, id, name)
		if !errors.Is(err, workbench.ErrPropertyNotFound) {
			return fmt.Sprintf("Property(%q, %q) error = %v, want %v", id, name, err, workbench.ErrPropertyNotFound)
		}
		return ""
	}
}

func missingInstance(id string) check {
	return func(ctx context.Context, p workbench.PersistenceProvider, model string) string {
		if _, err := p.Instance(ctx, model, id); !errors.Is(err, workbench.ErrInstanceNotFound) {
			return fmt.Sprintf("Instance(%q) error = %v, want %v", id, err, workbench.ErrInstanceNotFound)
		}
		if _, err := p.PropertyNames(ctx, model, id); !errors.Is(err, workbench.ErrInstanceNotFound) {
			return fmt.Sprintf("PropertyNames(%q) error = %v, want %v", id, err, workbench.ErrInstanceNotFound)
		}
		if _, err := p.Property(ctx, model, id, "Speed"); !errors.Is(err, workbench.ErrInstanceNotFound) {
			return fmt.Sprintf("Property(%q) error = %v, want %v", id, err, workbench.ErrInstanceNotFound)
		}
		return ""
	}
}

// Treats nil and empty slices alike, since providers differ in which they
// return for empty listings.
var cmpEmpty = cmp.Comparer(func(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
})
