package ids

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsUUIDv7(t *testing.T) {
	id := New()
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.Equal(t, uuid.RFC4122, id.Variant())
}

func TestNewAtEmbedsTimestamp(t *testing.T) {
	at := time.Date(2024, 5, 17, 9, 30, 0, 123_000_000, time.UTC)
	id := NewAt(at)
	assert.True(t, at.Equal(Time(id)), "decoded %v, want %v", Time(id), at)
}

func TestNewAtTruncatesToMillisecond(t *testing.T) {
	at := time.Date(2024, 5, 17, 9, 30, 0, 123_456_789, time.UTC)
	assert.Equal(t, at.Truncate(time.Millisecond), Time(NewAt(at)))
}

func TestConcurrentUniqueness(t *testing.T) {
	const (
		workers = 16
		perW    = 1000
	)
	g := NewGenerator()
	out := make(chan uuid.UUID, workers*perW)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perW; i++ {
				out <- g.New()
			}
		}()
	}
	wg.Wait()
	close(out)

	seen := make(map[uuid.UUID]struct{}, workers*perW)
	for id := range out {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, workers*perW)
}

func TestOffsetsOrderBytewise(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGenerator(WithClock(func() time.Time { return base }))

	prev := g.WithOffset(0)
	for ms := int64(1); ms <= 500; ms++ {
		next := g.WithOffset(ms)
		require.Equal(t, -1, bytes.Compare(prev[:], next[:]), "offset %d not ordered", ms)
		require.Equal(t, base.Add(time.Duration(ms)*time.Millisecond), Time(next))
		prev = next
	}
}

func TestLaterMillisecondSortsAfterEarlier(t *testing.T) {
	t0 := time.Now()
	for i := 0; i < 100; i++ {
		a := NewAt(t0)
		b := NewAt(t0.Add(time.Millisecond))
		require.Negative(t, bytes.Compare(a[:], b[:]))
		require.Less(t, a.String(), b.String())
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestInjectedEntropyIsDeterministic(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGenerator(WithEntropy(zeroReader{}))
	a, b := g.NewAt(at), g.NewAt(at)
	assert.Equal(t, a, b)
	// Version and variant survive all-zero entropy.
	assert.Equal(t, uuid.Version(7), a.Version())
	assert.Equal(t, uuid.RFC4122, a.Variant())
}

func TestOutOfRangeTimesAreClamped(t *testing.T) {
	g := NewGenerator()
	assert.Equal(t, time.UnixMilli(0).UTC(), Time(g.NewAt(time.Unix(-1, 0))))
	assert.Equal(t, time.UnixMilli(0).UTC(), Time(g.WithOffset(-time.Now().UnixMilli()-1000)))

	far := time.Date(20000, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, ulid.Time(ulid.MaxTime()).UTC(), Time(g.NewAt(far)))

	done := make(chan uuid.UUID, 1)
	go func() { done <- g.New() }()
	select {
	case id := <-done:
		assert.Equal(t, uuid.Version(7), id.Version())
	case <-time.After(2 * time.Second):
		t.Fatal("generator blocked after out-of-range timestamp")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestEntropyFailureReleasesLock(t *testing.T) {
	g := NewGenerator(WithEntropy(failingReader{}))
	assert.Panics(t, func() { g.New() })

	g.entropy = zeroReader{}
	done := make(chan struct{})
	go func() { g.New(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("generator lock held after entropy failure")
	}
}
