package dbtest

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/log"
)

// A utility function to create a slice of options for a container with a
// logger that logs to the given [testing.TB].
func containerOptions(tb testing.TB, opts ...testcontainers.ContainerCustomizer) []testcontainers.ContainerCustomizer {
	customizers := make([]testcontainers.ContainerCustomizer, 0, len(opts)+1)
	customizers = append(customizers, testcontainers.WithLogger(log.TestLogger(tb)))
	return append(customizers, opts...)
}

// DatabaseName returns a fresh database name that is valid for Neo4j and
// unique across tests sharing a container.
//
// Neo4j names must start with a letter and may not contain underscores, so the
// name is a letter followed by a random UUID.
func DatabaseName(tb testing.TB) string {
	tb.Helper()
	name := "t" + strings.ToLower(uuid.NewString())
	tb.Logf("Using neo4j database %q", name)
	return name
}
