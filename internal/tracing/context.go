package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fieldsKey struct{}

// Fields identifies the work a context belongs to. TaskID names one routed
// task, AgentID the agent serving it and RunID one search run of that agent.
type Fields struct {
	TraceID string
	TaskID  string
	AgentID string
	RunID   string
}

// IsZero reports whether no field is set.
func (f Fields) IsZero() bool {
	return f == Fields{}
}

// NewID returns a random identifier for traces, tasks and runs.
func NewID() string {
	return uuid.NewString()
}

// FromContext returns the fields stored in ctx.
func FromContext(ctx context.Context) Fields {
	if ctx == nil {
		return Fields{}
	}
	f, _ := ctx.Value(fieldsKey{}).(Fields)
	return f
}

// WithFields stores f in ctx, replacing any earlier fields.
func WithFields(ctx context.Context, f Fields) context.Context {
	return context.WithValue(ctx, fieldsKey{}, f)
}

// NewTaskContext starts a routed task. An existing trace ID is kept.
func NewTaskContext(ctx context.Context) context.Context {
	f := FromContext(ctx)
	if f.TraceID == "" {
		f.TraceID = NewID()
	}
	f.TaskID = NewID()
	f.AgentID = ""
	f.RunID = ""
	return WithFields(ctx, f)
}

// PropagateToAgent prepares the context of an agent's search run. The trace
// and task stay, the run ID is new.
func PropagateToAgent(ctx context.Context, agentID string) context.Context {
	f := FromContext(ctx)
	if f.TraceID == "" {
		f.TraceID = NewID()
	}
	f.AgentID = agentID
	f.RunID = NewID()
	return WithFields(ctx, f)
}

// LoggerFromContext adds the fields of ctx to logger.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	f := FromContext(ctx)
	if f.IsZero() {
		return logger
	}

	lc := logger.With()
	for _, field := range []struct{ key, value string }{
		{"trace_id", f.TraceID},
		{"task_id", f.TaskID},
		{"agent_id", f.AgentID},
		{"run_id", f.RunID},
	} {
		if field.value != "" {
			lc = lc.Str(field.key, field.value)
		}
	}
	return lc.Logger()
}
