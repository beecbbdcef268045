package neo4jstore

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/go-workbench/neo4jstore")
var meter = otel.Meter("github.com/go-digitaltwin/go-workbench/neo4jstore")

var (
	// queryFailures counts the store operations that failed against the
	// database, by operation.
	queryFailures metric.Int64Counter
)

func init() {
	var err error
	queryFailures, err = meter.Int64Counter(
		"neo4jstore_query_failures",
		metric.WithDescription("how many persistence operations failed against neo4j"),
	)
	if err != nil {
		s := fmt.Sprintf("neo4jstore: failed to init 'neo4jstore_query_failures' instrument: %v", err)
		panic(s)
	}
}
