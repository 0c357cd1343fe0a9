package ids

import (
	"fmt"
	"io"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	versionBits = 0x70 // version 7 in the high nibble of byte 6
	variantBits = 0x80 // RFC 9562 variant (10xx) in byte 8
)

// Generator mints time-ordered 128-bit identifiers.
//
// The first 48 bits hold the millisecond timestamp in big-endian order, so
// identifiers created in later milliseconds compare greater byte-by-byte
// (which is how Postgres orders uuid values). The remaining bits come from
// the entropy source, with the version nibble and variant bits forced so the
// value is a valid UUIDv7.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithEntropy replaces the random source. Access is serialized by the generator.
func WithEntropy(r io.Reader) Option {
	return func(g *Generator) {
		if r != nil {
			g.entropy = r
		}
	}
}

// WithClock overrides the wall clock used by New and WithOffset.
func WithClock(fn func() time.Time) Option {
	return func(g *Generator) {
		if fn != nil {
			g.now = fn
		}
	}
}

// NewGenerator constructs a Generator seeded from the current time.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		entropy: mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// New returns an identifier stamped with the current time.
func (g *Generator) New() uuid.UUID {
	return g.NewAt(g.now())
}

// WithOffset returns an identifier stamped ms milliseconds after now. Callers
// minting a batch pass strictly increasing offsets to get ordered ids.
func (g *Generator) WithOffset(ms int64) uuid.UUID {
	return g.NewAt(g.now().Add(time.Duration(ms) * time.Millisecond))
}

// NewAt returns an identifier stamped with t. Times outside the 48-bit
// millisecond range are clamped to the epoch or to ulid.MaxTime.
func (g *Generator) NewAt(t time.Time) uuid.UUID {
	var id ulid.ULID
	_ = id.SetTime(clampMillis(t))
	g.readEntropy(id[6:])

	id[6] = id[6]&0x0f | versionBits
	id[8] = id[8]&0x3f | variantBits
	return uuid.UUID(id)
}

func (g *Generator) readEntropy(p []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := io.ReadFull(g.entropy, p); err != nil {
		panic(fmt.Errorf("ids: read entropy: %w", err))
	}
}

func clampMillis(t time.Time) uint64 {
	ms := t.UnixMilli()
	switch {
	case ms < 0:
		return 0
	case uint64(ms) > ulid.MaxTime():
		return ulid.MaxTime()
	}
	return uint64(ms)
}

// Time decodes the millisecond timestamp embedded in id.
func Time(id uuid.UUID) time.Time {
	return ulid.Time(ulid.ULID(id).Time()).UTC()
}

var defaultGenerator = NewGenerator()

// Default returns the process-wide generator.
func Default() *Generator { return defaultGenerator }

// New returns a sortable identifier suitable for primary keys.
func New() uuid.UUID { return defaultGenerator.New() }

// NewString returns New in its canonical textual form.
func NewString() string { return defaultGenerator.New().String() }

// NewAt returns a sortable identifier stamped with t.
func NewAt(t time.Time) uuid.UUID { return defaultGenerator.NewAt(t) }

// WithOffset returns a sortable identifier stamped ms milliseconds from now.
func WithOffset(ms int64) uuid.UUID { return defaultGenerator.WithOffset(ms) }
