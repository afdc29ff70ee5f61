// Package observability provides the logging helpers, span manager, and
// metrics recorders used by the engine and by the tracing and metrics
// features.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry or Prometheus
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds run position to a logger.
//
//	enriched := EnrichLogger(logger, "run-123", "root/plan", 4)
//	enriched.Info("doing work") // includes run_id, node_path, iteration
func EnrichLogger(logger *slog.Logger, runID, path string, iteration int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("node_path", path),
		slog.Int("iteration", iteration),
	)
}

// LogRunStart logs the start of an agent run.
func LogRunStart(logger *slog.Logger, runID, strategy string, resumed bool) {
	if logger == nil {
		return
	}
	logger.Info("agent run starting",
		slog.String("run_id", runID),
		slog.String("strategy", strategy),
		slog.Bool("resumed", resumed),
	)
}

// LogRunComplete logs successful run completion.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, iterations int) {
	if logger == nil {
		return
	}
	logger.Info("agent run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("iterations", iterations),
	)
}

// LogRunError logs run failure.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("agent run failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, path string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting", slog.String("node_path", path))
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, path string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_path", path),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeError logs node execution error.
func LogNodeError(logger *slog.Logger, path string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_path", path),
		slog.String("error", err.Error()),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *slog.Logger, path string, version int64, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("node_path", path),
		slog.Int64("version", version),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCheckpointError logs a checkpoint failure.
func LogCheckpointError(logger *slog.Logger, path string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed",
		slog.String("node_path", path),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogLLMCall logs a finished LLM request.
func LogLLMCall(logger *slog.Logger, model string, attempts int, durationMs float64, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("llm call failed",
			slog.String("model", model),
			slog.Int("attempts", attempts),
			slog.Float64("duration_ms", durationMs),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("llm call completed",
		slog.String("model", model),
		slog.Int("attempts", attempts),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogToolCall logs a finished tool call. failure is empty on success.
func LogToolCall(logger *slog.Logger, tool, callID string, durationMs float64, failure string) {
	if logger == nil {
		return
	}
	if failure != "" {
		logger.Warn("tool call failed",
			slog.String("tool", tool),
			slog.String("call_id", callID),
			slog.Float64("duration_ms", durationMs),
			slog.String("failure", failure),
		)
		return
	}
	logger.Debug("tool call completed",
		slog.String("tool", tool),
		slog.String("call_id", callID),
		slog.Float64("duration_ms", durationMs),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
