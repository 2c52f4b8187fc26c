// Package telemetry provides the structured logging and metrics primitives
// shared across aurora's components. It intentionally has no tracing or
// event-bus surface: aurora is a single-process CLI, not a distributed
// system, so a per-component zerolog.Logger and a handful of Prometheus
// collectors are the whole ambient observability stack.
package telemetry
