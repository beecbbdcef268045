package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/go-digitaltwin/go-workbench/persisttest"
)

func TestStore(t *testing.T) {
	persisttest.Run(t, new(Store))
}

func TestStore_Concurrent(t *testing.T) {
	var s Store
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("car%02d", i)
			if err := s.PutInstance(ctx, "Car", id, []byte(`{"Speed": 0}`)); err != nil {
				t.Error(err)
				return
			}
			for n := range 10 {
				if err := s.UpdateProperty(ctx, "Car", id, "Speed", n); err != nil {
					t.Error(err)
				}
				if _, err := s.Property(ctx, "Car", id, "Speed"); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	ids, err := s.InstanceIDs(ctx, "Car")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 16 {
		t.Errorf("InstanceIDs() returned %d ids, want 16", len(ids))
	}
	for _, id := range ids {
		v, err := s.Property(ctx, "Car", id, "Speed")
		if err != nil {
			t.Fatal(err)
		}
		if v != float64(9) {
			t.Errorf("Property(%q, Speed) = %v, want 9", id, v)
		}
	}
}
