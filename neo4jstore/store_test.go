package neo4jstore

import (
	"context"
	"testing"

	"github.com/go-digitaltwin/go-workbench/internal/dbtest"
	"github.com/go-digitaltwin/go-workbench/persisttest"
)

func TestStore(t *testing.T) {
	d := dbtest.SetupNeo4j(t)
	name := dbtest.DatabaseName(t)
	if err := BootstrapDatabase(context.Background(), d, name); err != nil {
		t.Fatal("Failed to bootstrap database:", err)
	}
	persisttest.Run(t, New(d, name))
}
