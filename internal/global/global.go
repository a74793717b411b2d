package global

import (
	"context"
)

type ContextKey uint

const (
	CancelKey ContextKey = iota
	VersionKey
	// ProcessContextKey holds the context of the whole process, for
	// background services started by a single command.
	ProcessContextKey
)

// Version returns the program version stored in ctx, or "unknown".
func Version(ctx context.Context) string {
	if v, ok := ctx.Value(VersionKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// Cancel cancels the command-line context, when ctx carries one.
func Cancel(ctx context.Context) {
	if cancel, ok := ctx.Value(CancelKey).(context.CancelFunc); ok {
		cancel()
	}
}

// ProcessContext returns the process-wide context for lazy-started background services.
// This context is cancelled only when the entire process terminates, not on individual operation completion.
func ProcessContext(ctx context.Context) context.Context {
	if processCtx := ctx.Value(ProcessContextKey); processCtx != nil {
		return processCtx.(context.Context)
	}
	return ctx
}
