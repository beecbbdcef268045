package workbench

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/go-workbench")
var meter = otel.Meter("github.com/go-digitaltwin/go-workbench")

const (
	// modelName is the attribute key associating delivery, timer, and
	// depth-limit records with the model of the target instance.
	modelName = "model"
	// stepOutcome is the attribute key distinguishing failed simulation steps.
	stepOutcome = "outcome"
)

var (
	// stepDuration measures the wall-clock duration of simulation steps.
	//
	// Each record is associated with the stepOutcome.
	stepDuration metric.Float64Histogram
	// deliveries counts the message batches delivered to instances, across
	// both workbenches.
	//
	// Each record is associated with the modelName and the stepOutcome.
	deliveries metric.Int64Counter
	// deliveredMessages counts the messages in those batches.
	deliveredMessages metric.Int64Counter
	// timerFirings counts timer callbacks, failed ones included.
	timerFirings metric.Int64Counter
	// timerFailures counts timer callbacks that returned an error or panicked.
	timerFailures metric.Int64Counter
	// depthLimitHits counts sends refused because the call chain reached
	// MaxMessageDepth. A steady rate usually means two models reply to each
	// other forever.
	depthLimitHits metric.Int64Counter
)

func init() {
	var err error
	stepDuration, err = meter.Float64Histogram(
		"simulation.step.duration",
		metric.WithDescription("The wall-clock duration of a single simulation step."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("workbench: failed to init 'simulation.step.duration' instrument")
	}

	deliveries, err = meter.Int64Counter(
		"twin.deliveries",
		metric.WithDescription("The number of message batches delivered to digital twin instances."),
	)
	if err != nil {
		panic("workbench: failed to init 'twin.deliveries' instrument")
	}

	deliveredMessages, err = meter.Int64Counter(
		"twin.messages",
		metric.WithDescription("The number of messages delivered to digital twin instances."),
	)
	if err != nil {
		panic("workbench: failed to init 'twin.messages' instrument")
	}

	timerFirings, err = meter.Int64Counter(
		"twin.timer.firings",
		metric.WithDescription("The number of timer callbacks invoked."),
	)
	if err != nil {
		panic("workbench: failed to init 'twin.timer.firings' instrument")
	}

	timerFailures, err = meter.Int64Counter(
		"twin.timer.failures",
		metric.WithDescription("The number of timer callbacks that have failed."),
	)
	if err != nil {
		panic("workbench: failed to init 'twin.timer.failures' instrument")
	}

	depthLimitHits, err = meter.Int64Counter(
		"twin.depth_limit.hits",
		metric.WithDescription("The number of sends refused for reaching the maximum message depth."),
	)
	if err != nil {
		panic("workbench: failed to init 'twin.depth_limit.hits' instrument")
	}
}

func outcome(succeeded bool) attribute.KeyValue {
	if succeeded {
		return attribute.String(stepOutcome, "ok")
	}
	return attribute.String(stepOutcome, "error")
}

// measureStep records the duration of a simulation step.
//
// We use floating-point division here for higher precision (instead of the
// Millisecond method).
func measureStep(ctx context.Context, succeeded bool, d time.Duration) {
	attrs := attribute.NewSet(outcome(succeeded))
	stepDuration.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributeSet(attrs))
}

func recordDelivery(ctx context.Context, model string, n int, succeeded bool) {
	attrs := attribute.NewSet(attribute.String(modelName, model), outcome(succeeded))
	deliveries.Add(ctx, 1, metric.WithAttributeSet(attrs))
	deliveredMessages.Add(ctx, int64(n), metric.WithAttributeSet(attrs))
}

func recordTimerFiring(ctx context.Context, model string, succeeded bool) {
	attrs := attribute.NewSet(attribute.String(modelName, model))
	timerFirings.Add(ctx, 1, metric.WithAttributeSet(attrs))
	if !succeeded {
		timerFailures.Add(ctx, 1, metric.WithAttributeSet(attrs))
	}
}

func recordDepthLimit(ctx context.Context, model string) {
	attrs := attribute.NewSet(attribute.String(modelName, model))
	depthLimitHits.Add(ctx, 1, metric.WithAttributeSet(attrs))
}
