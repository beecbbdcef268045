// Package neo4jstore implements a workbench.PersistenceProvider on top of a
// Neo4j graph.
//
// Each instance is a single node labelled Twin, keyed by the reserved
// properties _model and _id. Every top-level property of the instance document
// is kept as a node property holding its compact JSON encoding, so documents
// round-trip exactly regardless of how deeply nested their values are.
package neo4jstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/danielorbach/go-component"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-digitaltwin/go-workbench"
	"github.com/go-digitaltwin/go-workbench/internal/propdoc"
)

// Store persists twin instances in a Neo4j database prepared by
// BootstrapDatabase.
type Store struct {
	driver   neo4j.DriverWithContext // Connection to the neo4j server/cluster.
	database string                  // Target database name.
}

var _ workbench.PersistenceProvider = (*Store)(nil)

// New returns a Store using the given database. The driver remains owned by
// the caller.
func New(driver neo4j.DriverWithContext, database string) *Store {
	return &Store{driver: driver, database: database}
}

func (s *Store) InstanceIDs(ctx context.Context, model string) (ids []string, err error) {
	ctx, end := s.start(ctx, "Store.InstanceIDs", model)
	defer func() { end(err) }()

	ids, err = read(ctx, s, func(tx neo4j.ManagedTransaction) ([]string, error) {
		result, err := tx.Run(ctx, `
			MATCH (t:`+Label+` {_model: $model})
			RETURN t._id AS id
			ORDER BY id
		`, map[string]any{"model": model})
		if err != nil {
			return nil, err
		}
		var ids []string
		for result.Next(ctx) {
			id, err := getRecordProperty[string](result.Record(), "id")
			if err != nil {
				return nil, fmt.Errorf("get id: %w", err)
			}
			ids = append(ids, id)
		}
		return ids, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list %s instances: %w", model, err)
	}
	return ids, nil
}

func (s *Store) Instance(ctx context.Context, model, id string) (doc []byte, err error) {
	ctx, end := s.start(ctx, "Store.Instance", model)
	defer func() { end(err) }()

	props, err := s.properties(ctx, model, id)
	if err != nil {
		return nil, err
	}
	return propdoc.Join(props)
}

func (s *Store) PutInstance(ctx context.Context, model, id string, doc []byte) (err error) {
	ctx, end := s.start(ctx, "Store.PutInstance", model)
	defer func() { end(err) }()

	props, err := propdoc.Split(doc)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", model, id, err)
	}
	params := make(map[string]any, len(props))
	for name, raw := range props {
		params[name] = string(raw)
	}

	_, err = write(ctx, s, func(tx neo4j.ManagedTransaction) (struct{}, error) {
		// Assigning the map replaces every property, including the key, so the
		// key is restored in the same statement.
		_, err := tx.Run(ctx, `
			MERGE (t:`+Label+` {_model: $model, _id: $id})
			SET t = $props, t._model = $model, t._id = $id
		`, map[string]any{"model": model, "id": id, "props": params})
		return struct{}{}, err
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", model, id, err)
	}
	return nil
}

func (s *Store) PropertyNames(ctx context.Context, model, id string) (names []string, err error) {
	ctx, end := s.start(ctx, "Store.PropertyNames", model)
	defer func() { end(err) }()

	props, err := s.properties(ctx, model, id)
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(props)), nil
}

func (s *Store) Property(ctx context.Context, model, id, name string) (v any, err error) {
	ctx, end := s.start(ctx, "Store.Property", model)
	defer func() { end(err) }()

	props, err := s.properties(ctx, model, id)
	if err != nil {
		return nil, err
	}
	raw, ok := props[name]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w: %s", model, id, workbench.ErrPropertyNotFound, name)
	}
	return propdoc.Decode(raw)
}

func (s *Store) UpdateProperty(ctx context.Context, model, id, name string, value any) (err error) {
	ctx, end := s.start(ctx, "Store.UpdateProperty", model)
	defer func() { end(err) }()

	if err := propdoc.CheckName(name); err != nil {
		return fmt.Errorf("update %s/%s: %w", model, id, err)
	}
	raw, err := propdoc.Encode(value)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", model, id, err)
	}

	matched, err := write(ctx, s, func(tx neo4j.ManagedTransaction) (int64, error) {
		result, err := tx.Run(ctx, `
			MATCH (t:`+Label+` {_model: $model, _id: $id})
			SET t += $patch
			RETURN count(t) AS count
		`, map[string]any{"model": model, "id": id, "patch": map[string]any{name: string(raw)}})
		if err != nil {
			return 0, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return 0, fmt.Errorf("query single result: %w", err)
		}
		return getRecordProperty[int64](record, "count")
	})
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", model, id, err)
	}
	if matched == 0 {
		return fmt.Errorf("%w: %s/%s", workbench.ErrInstanceNotFound, model, id)
	}
	return nil
}

// properties fetches the stored properties of an instance, leaving out the
// reserved ones.
func (s *Store) properties(ctx context.Context, model, id string) (map[string]json.RawMessage, error) {
	var found bool
	props, err := read(ctx, s, func(tx neo4j.ManagedTransaction) (map[string]json.RawMessage, error) {
		result, err := tx.Run(ctx, `
			MATCH (t:`+Label+` {_model: $model, _id: $id})
			RETURN properties(t) AS props
		`, map[string]any{"model": model, "id": id})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			return nil, result.Err()
		}
		found = true
		stored, err := getRecordProperty[map[string]any](result.Record(), "props")
		if err != nil {
			return nil, fmt.Errorf("get props: %w", err)
		}
		props := make(map[string]json.RawMessage, len(stored))
		for name, v := range stored {
			if strings.HasPrefix(name, propdoc.Reserved) {
				continue
			}
			text, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("property %q: %w", name, unexpectedPropertyTypeError{Type: reflect.TypeOf(v)})
			}
			props[name] = json.RawMessage(text)
		}
		return props, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", model, id, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s/%s", workbench.ErrInstanceNotFound, model, id)
	}
	return props, nil
}

func read[T any](ctx context.Context, s *Store, work func(neo4j.ManagedTransaction) (T, error)) (T, error) {
	return execute(ctx, s, neo4j.AccessModeRead, work)
}

func write[T any](ctx context.Context, s *Store, work func(neo4j.ManagedTransaction) (T, error)) (T, error) {
	return execute(ctx, s, neo4j.AccessModeWrite, work)
}

// execute runs work in a managed transaction of a fresh session.
//
// It panics when a query result no longer matches the code reading it, which
// is a developer error rather than a runtime condition.
func execute[T any](ctx context.Context, s *Store, mode neo4j.AccessMode, work func(neo4j.ManagedTransaction) (T, error)) (T, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   mode,
	})
	defer func() {
		if err := session.Close(ctx); err != nil {
			component.Logger(ctx).Error("Failed to close session", "error", err, "neo4j.database", s.database)
		}
	}()

	fn := func(tx neo4j.ManagedTransaction) (any, error) { return work(tx) }
	var v any
	var err error
	if mode == neo4j.AccessModeRead {
		v, err = session.ExecuteRead(ctx, fn)
	} else {
		v, err = session.ExecuteWrite(ctx, fn)
	}
	if errors.Is(err, errPropertyNotFound) || errors.As(err, &unexpectedPropertyTypeError{}) {
		component.Logger(ctx).Error("A Cypher query was modified without care", "error", err)
		panic(fmt.Errorf("seek developer attention: neo4j cypher query: %w", err))
	}
	if err != nil {
		var zero T
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// start opens a span for a store operation. The returned function ends it,
// recording the outcome.
func (s *Store) start(ctx context.Context, name, model string) (context.Context, func(error)) {
	attrs := []attribute.KeyValue{
		attribute.String("neo4j.database", s.database),
		attribute.String("twin.model", model),
	}
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		defer span.End()
		if err == nil || errors.Is(err, workbench.ErrInstanceNotFound) || errors.Is(err, workbench.ErrPropertyNotFound) {
			return
		}
		span.SetStatus(codes.Error, err.Error())
		queryFailures.Add(ctx, 1, metric.WithAttributeSet(attribute.NewSet(
			attribute.String("neo4j.database", s.database),
			attribute.String("operation", name),
		)))
	}
}

// A errPropertyNotFound occurs when a column of a query result is missing.
//
// When encountering this error, it most likely occurs when changing a Cypher
// query without modifying the surrounding code properly. Expect a panic
// eventually.
var errPropertyNotFound = errors.New("property not found")

// An unexpectedPropertyTypeError occurs when a column of a query result has a
// runtime type that is different from the expected type.
type unexpectedPropertyTypeError struct {
	Type reflect.Type // Effective type encountered at runtime.
}

func (e unexpectedPropertyTypeError) Error() string {
	return "unexpected property type: " + fmt.Sprint(e.Type)
}

func getRecordProperty[T any](record *neo4j.Record, key string) (value T, err error) {
	prop, exists := record.Get(key)
	if !exists {
		return value, errPropertyNotFound
	}
	v, ok := prop.(T)
	if !ok {
		return value, unexpectedPropertyTypeError{Type: reflect.TypeOf(prop)}
	}
	return v, nil
}
