package workbench

import (
	"fmt"
	"slices"
	"sync"
)

// CacheStatus disambiguates the outcome of a SharedData operation.
type CacheStatus int

const (
	ObjectRetrieved CacheStatus = iota
	ObjectPut
	ObjectRemoved
	ObjectDoesNotExist
	CacheCleared
)

func (s CacheStatus) String() string {
	switch s {
	case ObjectRetrieved:
		return "ObjectRetrieved"
	case ObjectPut:
		return "ObjectPut"
	case ObjectRemoved:
		return "ObjectRemoved"
	case ObjectDoesNotExist:
		return "ObjectDoesNotExist"
	case CacheCleared:
		return "CacheCleared"
	default:
		return fmt.Sprintf("CacheStatus(%d)", int(s))
	}
}

// CacheResult is returned by every SharedData operation. Value is only set
// when Status is ObjectRetrieved.
type CacheResult struct {
	Key    string
	Status CacheStatus
	Value  []byte
}

// SharedData is a key/value store of byte strings shared between instances.
// Each workbench owns one global store and one store per registered model.
//
// Values are copied on the way in and on the way out, so callers may reuse
// their buffers.
//
// The zero-value SharedData is empty and ready for use. A SharedData is safe
// for concurrent use.
type SharedData struct {
	mu sync.Mutex
	m  map[string][]byte
}

// Get returns the value stored under key, or ObjectDoesNotExist.
func (d *SharedData) Get(key string) CacheResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.m[key]
	if !ok {
		return CacheResult{Key: key, Status: ObjectDoesNotExist}
	}
	return CacheResult{Key: key, Status: ObjectRetrieved, Value: slices.Clone(v)}
}

// Put stores value under key, replacing any previous value.
func (d *SharedData) Put(key string, value []byte) CacheResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.m == nil {
		d.m = make(map[string][]byte)
	}
	// Keep nil and empty values distinguishable from absence.
	if value == nil {
		value = []byte{}
	}
	d.m[key] = slices.Clone(value)
	return CacheResult{Key: key, Status: ObjectPut}
}

// Remove deletes key, reporting ObjectDoesNotExist if it was absent.
func (d *SharedData) Remove(key string) CacheResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.m[key]; !ok {
		return CacheResult{Key: key, Status: ObjectDoesNotExist}
	}
	delete(d.m, key)
	return CacheResult{Key: key, Status: ObjectRemoved}
}

// Clear empties the store.
func (d *SharedData) Clear() CacheResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m = nil
	return CacheResult{Status: CacheCleared}
}

// Len returns the number of stored keys.
func (d *SharedData) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.m)
}
