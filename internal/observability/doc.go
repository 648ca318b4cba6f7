// Package observability carries the daemon's ambient instrumentation:
// structured logging with secret redaction, Prometheus metrics, OpenTelemetry
// tracing and an in-memory log of recent requests.
//
// # Logging
//
// NewLogger returns a *slog.Logger whose handler redacts bearer tokens, API
// keys and JWTs from messages and string attributes, and adds request_id,
// run_id and agent_type from the context when present:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "text"})
//	ctx = observability.AddRequestID(ctx, id)
//	logger.InfoContext(ctx, "request completed", "status", 200)
//
// # Metrics
//
// Metrics owns a private Prometheus registry so several daemons (or tests)
// can coexist in one process. It implements the agent runtime's observer
// and the tool registry's result hook, and serves both the Prometheus text
// format and a JSON snapshot.
//
// # Tracing
//
// NewTracerProvider installs an OTLP/gRPC exporter when an endpoint is
// configured and otherwise leaves the global no-op provider in place.
package observability
