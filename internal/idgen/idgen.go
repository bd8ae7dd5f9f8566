package idgen

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// TypeLength is the length of the trailing type tag.
	TypeLength = 2

	// ulidLength is the length of the encoded ULID component.
	ulidLength = ulid.EncodedSize

	// Length is the total length of every generated identifier.
	Length = ulidLength + TypeLength
)

// InvalidIDError reports an identifier that fails strict parsing.
type InvalidIDError struct {
	ID     string
	Reason string
}

// Error implements the error interface.
func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("invalid id %q: %s", e.ID, e.Reason)
}

// Generator produces identifiers from a clock and a monotonic entropy source.
//
// Thread-safety: Generator is safe for concurrent use. ulid's monotonic
// entropy is not, so reads are serialized by mu.
type Generator struct {
	mu      sync.Mutex
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
	lastMs  uint64
}

// NewGenerator creates a generator. A nil now defaults to time.Now and a nil
// entropy source defaults to crypto/rand.
func NewGenerator(now func() time.Time, entropy io.Reader) *Generator {
	if now == nil {
		now = time.Now
	}
	if entropy == nil {
		entropy = rand.Reader
	}
	return &Generator{
		now:     now,
		entropy: ulid.Monotonic(entropy, 0),
	}
}

// Generate returns a new identifier tagged with t.
//
// The millisecond component never moves backwards, so a clock step back
// keeps issuing IDs that sort after the ones already issued.
//
// Panics if the monotonic entropy overflows within one millisecond (2^80
// IDs).
func (g *Generator) Generate(t Type) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := ulid.Timestamp(g.now())
	if ms < g.lastMs {
		ms = g.lastMs
	}
	g.lastMs = ms

	id, err := ulid.New(ms, g.entropy)
	if err != nil {
		panic(fmt.Sprintf("idgen: generate %s: %v", t, err))
	}
	return strings.ToLower(id.String()) + string(t)
}

var defaultGenerator = NewGenerator(nil, nil)

// Generate returns a new identifier tagged with t using the process-wide
// generator.
func Generate(t Type) string {
	return defaultGenerator.Generate(t)
}

// TypeOf returns the trailing type tag of id.
//
// TypeOf never fails: malformed input yields a best-effort tag (the last two
// characters, or the empty Type for shorter input). Callers that need strict
// checking should use Type.Valid or Parse.
func TypeOf(id string) Type {
	if len(id) < TypeLength {
		return ""
	}
	return Type(id[len(id)-TypeLength:])
}

// IsType reports whether id carries the tag t.
func IsType(id string, t Type) bool {
	return TypeOf(id) == t
}

// Parse strictly validates id and returns its ULID component and tag.
func Parse(id string) (ulid.ULID, Type, error) {
	if len(id) != Length {
		return ulid.ULID{}, "", &InvalidIDError{ID: id, Reason: fmt.Sprintf("length %d, want %d", len(id), Length)}
	}
	if id != strings.ToLower(id) {
		return ulid.ULID{}, "", &InvalidIDError{ID: id, Reason: "must be lowercase"}
	}
	t := TypeOf(id)
	if !t.Valid() {
		return ulid.ULID{}, "", &InvalidIDError{ID: id, Reason: "unknown type tag"}
	}
	u, err := ulid.ParseStrict(id[:ulidLength])
	if err != nil {
		return ulid.ULID{}, "", &InvalidIDError{ID: id, Reason: err.Error()}
	}
	return u, t, nil
}

// Time returns the creation time embedded in id.
func Time(id string) (time.Time, error) {
	u, _, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
