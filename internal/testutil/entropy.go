package testutil

import (
	"io"
	"math/rand"
	"time"

	"github.com/roach88/replica/internal/idgen"
)

// NewDeterministicEntropy returns a seeded, non-cryptographic entropy source.
// Two readers with the same seed produce the same byte stream.
func NewDeterministicEntropy(seed int64) io.Reader {
	return rand.New(rand.NewSource(seed))
}

// NewIDGenerator returns an identifier generator whose output is fully
// determined by seed. The clock is frozen so every ID shares one millisecond
// and ordering comes from the monotonic entropy increment alone.
func NewIDGenerator(seed int64) *idgen.Generator {
	clock := NewDeterministicClock(0)
	return idgen.NewGenerator(clock.Now, NewDeterministicEntropy(seed))
}

// NewSteppingIDGenerator is like NewIDGenerator but advances the clock by
// step for every ID.
func NewSteppingIDGenerator(seed int64, step time.Duration) *idgen.Generator {
	clock := NewDeterministicClock(step)
	return idgen.NewGenerator(clock.Now, NewDeterministicEntropy(seed))
}
