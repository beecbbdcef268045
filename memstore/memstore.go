// Package memstore implements an in-memory workbench.PersistenceProvider.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/go-digitaltwin/go-workbench"
	"github.com/go-digitaltwin/go-workbench/internal/propdoc"
)

// Store keeps instance documents in memory, grouped by model.
//
// The zero-value Store is empty and ready for use. A Store is safe for
// concurrent use.
type Store struct {
	mu     sync.RWMutex
	models map[string]map[string]map[string]json.RawMessage
}

var _ workbench.PersistenceProvider = (*Store)(nil)

func (s *Store) InstanceIDs(_ context.Context, model string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.models[model])), nil
}

func (s *Store) Instance(_ context.Context, model, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	props, err := s.lookup(model, id)
	if err != nil {
		return nil, err
	}
	return propdoc.Join(props)
}

func (s *Store) PutInstance(_ context.Context, model, id string, doc []byte) error {
	props, err := propdoc.Split(doc)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", model, id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.models == nil {
		s.models = make(map[string]map[string]map[string]json.RawMessage)
	}
	if s.models[model] == nil {
		s.models[model] = make(map[string]map[string]json.RawMessage)
	}
	s.models[model][id] = props
	return nil
}

func (s *Store) PropertyNames(_ context.Context, model, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	props, err := s.lookup(model, id)
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(props)), nil
}

func (s *Store) Property(_ context.Context, model, id, name string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	props, err := s.lookup(model, id)
	if err != nil {
		return nil, err
	}
	raw, ok := props[name]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w: %s", model, id, workbench.ErrPropertyNotFound, name)
	}
	return propdoc.Decode(raw)
}

func (s *Store) UpdateProperty(_ context.Context, model, id, name string, value any) error {
	if err := propdoc.CheckName(name); err != nil {
		return fmt.Errorf("update %s/%s: %w", model, id, err)
	}
	raw, err := propdoc.Encode(value)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", model, id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	props, err := s.lookup(model, id)
	if err != nil {
		return err
	}
	props[name] = raw
	return nil
}

// lookup must be called with s.mu held.
func (s *Store) lookup(model, id string) (map[string]json.RawMessage, error) {
	props, ok := s.models[model][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", workbench.ErrInstanceNotFound, model, id)
	}
	return props, nil
}
