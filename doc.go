// Package workbench runs digital twin models in-process, for developing and
// testing them before they are deployed. A digital twin is a stateful object,
// identified by a model name and an instance id, that reacts to messages and
// optionally to simulated time.
//
// Models are described once, with MessageModel, SimulationModel, or
// HybridModel, and can then be registered with either of two workbenches:
//
//   - A SimulationWorkbench advances a virtual clock in discrete steps. Every
//     step invokes the SimulationProcessor of each instance due at that
//     instant, along with any timer due to fire. Instances may postpone their
//     next step, sleep until woken by another instance, delete twins, emit
//     telemetry to message models, or stop the whole simulation.
//   - A RealTimeWorkbench delivers messages as they arrive through the
//     Endpoint of each model, and fires timers on wall-clock time.
//
// Behaviours talk to the rest of the workbench through a ProcessingContext:
// they send messages to other instances (creating them on first use), reply to
// the instance that created them, start and stop timers, and read or write the
// SharedData stores of their model and of the workbench.
//
// Nested sends form a call chain whose depth is bounded by MaxMessageDepth, so
// models that keep replying to each other fail with a *DepthLimitError instead
// of exhausting the stack.
package workbench
