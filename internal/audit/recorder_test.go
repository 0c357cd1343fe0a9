package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"chatarra.io/internal/ids"
)

type fakeStore struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (f *fakeStore) AppendAudit(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func TestRecordStampsIDAndTime(t *testing.T) {
	store := &fakeStore{}
	rec := NewRecorder(store)

	id, err := rec.Record(context.Background(), Entry{
		SubjectID: "cursor-1",
		Username:  "admin",
		Action:    "users.update",
		Method:    "PUT",
		Path:      "/v1/users/42",
		Data:      json.RawMessage(`{"field":"email"}`),
	})
	require.NoError(t, err)
	require.Len(t, store.records, 1)

	got := store.records[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "users.update", got.Action)
	assert.Equal(t, "PUT", got.Method)
	assert.Equal(t, "/v1/users/42", got.Path)
	assert.JSONEq(t, `{"field":"email"}`, string(got.Data))
	assert.Equal(t, time.UTC, got.OccurredAt.Location())
	assert.WithinDuration(t, time.Now(), got.OccurredAt, 5*time.Second)
	assert.WithinDuration(t, got.OccurredAt, ids.Time(got.ID), time.Millisecond)
}

func TestRecordDefaultsEmptyData(t *testing.T) {
	store := &fakeStore{}
	_, err := NewRecorder(store).Record(context.Background(), Entry{Action: "auth.login"})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(store.records[0].Data))
}

func TestRecordRejectsInvalidEntries(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store)

	_, err := r.Record(context.Background(), Entry{Action: "  "})
	assert.ErrorIs(t, err, ErrInvalidEntry)

	_, err = r.Record(context.Background(), Entry{Action: "x", Data: json.RawMessage(`{"broken"`)})
	assert.ErrorIs(t, err, ErrInvalidEntry)

	assert.Empty(t, store.records)
}

func TestRecordPropagatesStoreFailure(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := NewRecorder(&fakeStore{err: boom}).Record(context.Background(), Entry{Action: "auth.login"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRecordUsesInjectedClock(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("UTC-3", -3*3600))
	store := &fakeStore{}
	_, err := NewRecorder(store, WithClock(func() time.Time { return fixed })).Record(context.Background(), Entry{Action: "a"})
	require.NoError(t, err)
	assert.True(t, fixed.Equal(store.records[0].OccurredAt))
	assert.Equal(t, time.UTC, store.records[0].OccurredAt.Location())
}

func TestRecordMirrorsToLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := NewRecorder(&fakeStore{}, WithLogger(zap.New(core)))

	ctx := WithRequestID(context.Background(), "req-123")
	_, err := r.Record(ctx, Entry{Action: "audit.test", Username: "admin", Data: json.RawMessage(`{"secret":"x"}`)})
	require.NoError(t, err)

	entries := logs.FilterMessage("audit").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "audit.test", fields["action"])
	assert.Equal(t, "req-123", fields["request_id"])
	assert.NotContains(t, fields, "data")
}

func TestWithRequestIDIgnoresBlank(t *testing.T) {
	ctx := WithRequestID(context.Background(), "   ")
	assert.Empty(t, RequestIDFromContext(ctx))
}
