package neo4jstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Label is the node label of every twin instance in the graph. Its model and
// identifier are kept in the reserved properties _model and _id.
const Label = "Twin"

// BootstrapDatabase creates the named database and the constraints required for
// it to hold twin instances.
//
// Twins are keyed by model and identifier, which both indexes lookups and
// prevents duplicate nodes caused by concurrent MERGEs.
//
// This function is idempotent.
func BootstrapDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if err := createDatabase(ctx, d, name); err != nil {
		return fmt.Errorf("create database: %w", err)
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name})
	defer func() { _ = s.Close(ctx) }()

	_, err := s.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// A key constraint is only available in the enterprise edition.
		_, err := tx.Run(ctx, `
			CREATE CONSTRAINT twin_identity IF NOT EXISTS
			FOR (t:`+Label+`)
			REQUIRE (t._model, t._id) IS NODE KEY
		`, nil)
		if err != nil {
			return nil, fmt.Errorf("key constraint: label %v: %w", Label, err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("create constraints: %w", err)
	}
	return s.Close(ctx)
}

func createDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if name == "" {
		panic("neo4jstore: database name must not be empty")
	}
	if name == "neo4j" {
		panic("neo4jstore: database name must not be neo4j: reserved for system database")
	}
	if strings.HasPrefix(name, "system") || strings.HasPrefix(name, "_") {
		panic("neo4jstore: Names that begin with an underscore and with the prefix system are reserved for internal use")
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = s.Close(ctx) }()

	_, err := s.Run(ctx, `
			CREATE DATABASE $name IF NOT EXISTS WAIT
		`, map[string]any{
		"name": name,
	})
	return err
}
