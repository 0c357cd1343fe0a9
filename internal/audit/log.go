package audit

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type requestIDKey struct{}

// WithRequestID tags ctx with the id of the inbound request. Records and log
// lines written under ctx carry it. Blank ids are ignored.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id = strings.TrimSpace(id); id != "" {
		ctx = context.WithValue(ctx, requestIDKey{}, id)
	}
	return ctx
}

// RequestIDFromContext returns the id set by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// logRecord mirrors a persisted record into the process log. Data is left
// out; it may carry business payloads.
func logRecord(ctx context.Context, l *zap.Logger, rec Record) {
	fields := []zap.Field{
		zap.String("type", "audit"),
		zap.Stringer("audit_id", rec.ID),
		zap.String("action", rec.Action),
		zap.String("subject_id", rec.SubjectID),
		zap.String("username", rec.Username),
		zap.String("method", rec.Method),
		zap.String("path", rec.Path),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	l.Info("audit", fields...)
}
