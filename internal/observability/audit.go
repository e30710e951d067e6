package observability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/grove/internal/logger"
	"github.com/harun/grove/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Audit logs rotate at this size and are kept for this many days.
const (
	auditMaxSizeMB = 50
	auditMaxAge    = 30
)

// AuditEvent is one line of the audit log.
type AuditEvent struct {
	Kind     string // route, agent or search
	Action   string // e.g. route:created, search:finish
	Agent    string
	Status   string
	Metadata map[string]any
}

// AuditLogger appends audit events as JSON lines.
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	writer *logger.RotatingWriter
}

var audit atomic.Pointer[AuditLogger]

// GetAuditLogger returns the process audit logger. Events are dropped until
// InitAuditLogger is called.
func GetAuditLogger() *AuditLogger {
	if a := audit.Load(); a != nil {
		return a
	}
	audit.CompareAndSwap(nil, &AuditLogger{logger: zerolog.Nop()})
	return audit.Load()
}

// InitAuditLogger points the audit logger at path. The file rotates like the
// main log file.
func InitAuditLogger(path string) error {
	writer, err := logger.NewRotatingWriter(path, auditMaxSizeMB, auditMaxAge, true)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	audit.Store(&AuditLogger{
		logger: zerolog.New(writer),
		writer: writer,
	})
	return nil
}

// Record writes event with the trace fields of ctx and mirrors it as an
// event on the active span.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	f := tracing.FromContext(ctx)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.kind", event.Kind),
			attribute.String("audit.agent", event.Agent),
			attribute.String("audit.status", event.Status),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("timestamp", time.Now()).
		Str("event_type", event.Kind).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.Agent != "" {
		entry = entry.Str("actor", event.Agent)
	}
	for key, value := range map[string]string{
		"trace_id": f.TraceID,
		"task_id":  f.TaskID,
		"run_id":   f.RunID,
	} {
		if value != "" {
			entry = entry.Str(key, value)
		}
	}
	if len(event.Metadata) > 0 {
		entry = entry.Interface("metadata", event.Metadata)
	}
	entry.Send()
}

// Close flushes and closes the audit file.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.writer == nil {
		return nil
	}
	err := a.writer.Close()
	a.writer = nil
	a.logger = zerolog.Nop()
	return err
}

// RecordRouteAudit records where a task was routed. outcome is assigned or
// created.
func RecordRouteAudit(ctx context.Context, agent, outcome string, metadata map[string]any) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:     "route",
		Action:   "route:" + outcome,
		Agent:    agent,
		Status:   "success",
		Metadata: metadata,
	})
}

// RecordAgentAudit records an agent lifecycle event.
func RecordAgentAudit(ctx context.Context, action, agent string, metadata map[string]any) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:     "agent",
		Action:   action,
		Agent:    agent,
		Status:   "success",
		Metadata: metadata,
	})
}

// RecordSearchAudit records the end of an agent's search run.
func RecordSearchAudit(ctx context.Context, agent, status string, metadata map[string]any) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:     "search",
		Action:   "search:finish",
		Agent:    agent,
		Status:   status,
		Metadata: metadata,
	})
}
