package workbench

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSharedData(t *testing.T) {
	var d SharedData

	tests := []struct {
		name string
		op   func() CacheResult
		want CacheResult
	}{
		{"GetMissing", func() CacheResult { return d.Get("a") }, CacheResult{Key: "a", Status: ObjectDoesNotExist}},
		{"Put", func() CacheResult { return d.Put("a", []byte("1")) }, CacheResult{Key: "a", Status: ObjectPut}},
		{"Get", func() CacheResult { return d.Get("a") }, CacheResult{Key: "a", Status: ObjectRetrieved, Value: []byte("1")}},
		{"Replace", func() CacheResult { return d.Put("a", []byte("2")) }, CacheResult{Key: "a", Status: ObjectPut}},
		{"GetReplaced", func() CacheResult { return d.Get("a") }, CacheResult{Key: "a", Status: ObjectRetrieved, Value: []byte("2")}},
		{"PutEmpty", func() CacheResult { return d.Put("b", nil) }, CacheResult{Key: "b", Status: ObjectPut}},
		{"GetEmpty", func() CacheResult { return d.Get("b") }, CacheResult{Key: "b", Status: ObjectRetrieved, Value: []byte{}}},
		{"Remove", func() CacheResult { return d.Remove("a") }, CacheResult{Key: "a", Status: ObjectRemoved}},
		{"RemoveMissing", func() CacheResult { return d.Remove("a") }, CacheResult{Key: "a", Status: ObjectDoesNotExist}},
		{"Clear", func() CacheResult { return d.Clear() }, CacheResult{Status: CacheCleared}},
		{"GetCleared", func() CacheResult { return d.Get("b") }, CacheResult{Key: "b", Status: ObjectDoesNotExist}},
	}
	// The operations build on each other, so they run in order.
	for _, tt := range tests {
		got := tt.op()
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("%s: mismatch (-want +got):\n%v", tt.name, diff)
		}
	}
	if n := d.Len(); n != 0 {
		t.Errorf("Len() = %d after Clear, want 0", n)
	}
}

func TestSharedData_Copies(t *testing.T) {
	var d SharedData
	buf := []byte("abc")
	d.Put("k", buf)
	buf[0] = 'x'

	got := d.Get("k").Value
	if string(got) != "abc" {
		t.Fatalf("Get() = %q after the caller modified its buffer, want %q", got, "abc")
	}
	got[0] = 'y'
	if v := d.Get("k").Value; string(v) != "abc" {
		t.Errorf("Get() = %q after modifying a returned value, want %q", v, "abc")
	}
}

func TestSharedData_Concurrent(t *testing.T) {
	var d SharedData
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := string(rune('a' + i))
			for range 100 {
				d.Put(key, []byte(key))
				d.Get(key)
			}
		}()
	}
	wg.Wait()
	if n := d.Len(); n != 8 {
		t.Errorf("Len() = %d, want 8", n)
	}
}
