package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chatarra.io/internal/ids"
	"chatarra.io/internal/obs"
)

// ErrInvalidEntry is returned for entries that cannot be recorded.
var ErrInvalidEntry = errors.New("audit: invalid entry")

var tracer = otel.Tracer("chatarra.io/internal/audit")

// Entry is the caller-supplied part of an audit record.
type Entry struct {
	SubjectID string
	Username  string
	Action    string
	Method    string
	Path      string
	Data      json.RawMessage
}

// Record is an appended audit row.
type Record struct {
	ID         uuid.UUID
	SubjectID  string
	Username   string
	Action     string
	Method     string
	Path       string
	Data       json.RawMessage
	OccurredAt time.Time
}

// Store appends records. Records are never updated or deleted.
type Store interface {
	AppendAudit(ctx context.Context, rec Record) error
}

// Recorder stamps entries with a sortable id and UTC time and appends them.
type Recorder struct {
	store  Store
	ids    *ids.Generator
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the recorder clock.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDs sets the id generator.
func WithIDs(g *ids.Generator) Option {
	return func(r *Recorder) {
		if g != nil {
			r.ids = g
		}
	}
}

// WithLogger sets the logger records are mirrored to.
func WithLogger(l *zap.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRecorder constructs a recorder over store.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		ids:    ids.Default(),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends e and returns the id of the new record. Store failures are
// returned to the caller; nothing is dropped silently.
func (r *Recorder) Record(ctx context.Context, e Entry) (uuid.UUID, error) {
	if strings.TrimSpace(e.Action) == "" {
		return uuid.Nil, fmt.Errorf("%w: action is required", ErrInvalidEntry)
	}
	data := e.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	} else if !json.Valid(data) {
		return uuid.Nil, fmt.Errorf("%w: data is not valid JSON", ErrInvalidEntry)
	}

	ctx, span := tracer.Start(ctx, "audit.Record", trace.WithAttributes(attribute.String("audit.action", e.Action)))
	defer span.End()

	now := r.now().UTC()
	rec := Record{
		ID:         r.ids.NewAt(now),
		SubjectID:  e.SubjectID,
		Username:   e.Username,
		Action:     e.Action,
		Method:     e.Method,
		Path:       e.Path,
		Data:       data,
		OccurredAt: now,
	}

	if err := r.store.AppendAudit(ctx, rec); err != nil {
		obs.ObserveAuditRecord(obs.OutcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "append audit record")
		r.logger.Error("audit append failed", zap.String("action", rec.Action), zap.Error(err))
		return uuid.Nil, fmt.Errorf("append audit record: %w", err)
	}
	obs.ObserveAuditRecord(obs.OutcomeSuccess)
	logRecord(ctx, r.logger, rec)
	return rec.ID, nil
}
