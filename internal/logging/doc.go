// Package logging provides structured logging for penny.
//
// The package wraps Zap with:
//   - a custom Trace level (-2, below Debug)
//   - stdout and OpenTelemetry outputs
//   - context field injection (trace_id, task.id, workflow.id, phase.id, request.id)
//   - field-name redaction for credentials
//   - sampling below Error
//
// # Usage
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithTask(ctx, "task-42", "research-flow")
//	ctx = logging.WithPhase(ctx, "analyze")
//	logger.Info(ctx, "phase committed", zap.Int64("version", 3))
//
// Components that only need a *zap.Logger receive logger.Underlying().
package logging
