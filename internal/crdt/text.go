package crdt

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrNoReplica is returned by local edits on a Text without a replica ID.
	// Decoded states have none until Fork assigns one.
	ErrNoReplica = errors.New("crdt: text has no replica id")

	// ErrOutOfRange is returned for edit positions past the end of the text.
	ErrOutOfRange = errors.New("crdt: position out of range")

	// ErrMissingOrigin is returned when merging a state that references an
	// atom neither side knows about.
	ErrMissingOrigin = errors.New("crdt: atom origin not found")
)

// NewReplicaID returns a fresh replica identity for authoring text edits.
func NewReplicaID() string {
	return uuid.NewString()
}

// AtomID identifies one inserted rune. IDs are ordered by Lamport clock,
// then by replica, which gives every replica the same total order.
type AtomID struct {
	Clock   uint64 `json:"c"`
	Replica string `json:"r"`
}

// IsZero reports whether id is the document head sentinel.
func (id AtomID) IsZero() bool {
	return id.Clock == 0 && id.Replica == ""
}

// Compare orders IDs by clock, then replica.
func (id AtomID) Compare(other AtomID) int {
	if c := cmp.Compare(id.Clock, other.Clock); c != 0 {
		return c
	}
	return strings.Compare(id.Replica, other.Replica)
}

type atom struct {
	ID      AtomID `json:"id"`
	Origin  AtomID `json:"origin"`
	Value   rune   `json:"v"`
	Deleted bool   `json:"d,omitempty"`
}

// Text is a replicated growable array of runes.
//
// Each rune is an atom that remembers the atom it was inserted after.
// Deleted atoms stay as tombstones so later inserts can still find their
// origin. Text is safe for concurrent use.
type Text struct {
	mu      sync.Mutex
	replica string
	clock   uint64
	atoms   []atom
}

// NewText returns an empty text authored by replica.
func NewText(replica string) *Text {
	return &Text{replica: replica}
}

// NewTextFrom returns a text authored by replica holding s.
func NewTextFrom(replica, s string) *Text {
	t := NewText(replica)
	_ = t.Insert(0, s)
	return t
}

// Replica returns the replica ID local edits are attributed to.
func (t *Text) Replica() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.replica
}

// Fork returns a deep copy of t whose local edits are attributed to replica.
func (t *Text) Fork(replica string) *Text {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Text{
		replica: replica,
		clock:   t.clock,
		atoms:   slices.Clone(t.atoms),
	}
}

// String returns the visible text.
func (t *Text) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	for _, a := range t.atoms {
		if !a.Deleted {
			b.WriteRune(a.Value)
		}
	}
	return b.String()
}

// Len returns the number of visible runes.
func (t *Text) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visibleLen()
}

func (t *Text) visibleLen() int {
	n := 0
	for _, a := range t.atoms {
		if !a.Deleted {
			n++
		}
	}
	return n
}

// Insert inserts s before the visible rune at pos. pos == Len() appends.
func (t *Text) Insert(pos int, s string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.replica == "" {
		return ErrNoReplica
	}
	if pos < 0 || pos > t.visibleLen() {
		return fmt.Errorf("%w: insert at %d", ErrOutOfRange, pos)
	}

	origin := AtomID{}
	if pos > 0 {
		origin = t.atoms[t.physicalIndex(pos-1)].ID
	}
	for _, r := range s {
		t.clock++
		id := AtomID{Clock: t.clock, Replica: t.replica}
		if err := t.integrate(atom{ID: id, Origin: origin, Value: r}); err != nil {
			return err
		}
		origin = id
	}
	return nil
}

// Delete tombstones n visible runes starting at pos.
func (t *Text) Delete(pos, n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.replica == "" {
		return ErrNoReplica
	}
	if pos < 0 || n < 0 || pos+n > t.visibleLen() {
		return fmt.Errorf("%w: delete %d at %d", ErrOutOfRange, n, pos)
	}
	for ; n > 0; n-- {
		t.atoms[t.physicalIndex(pos)].Deleted = true
	}
	return nil
}

// SetString edits t so that it reads s, touching only the runes between the
// common prefix and suffix of the old and new strings.
func (t *Text) SetString(s string) error {
	old := []rune(t.String())
	next := []rune(s)

	prefix := 0
	for prefix < len(old) && prefix < len(next) && old[prefix] == next[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(old)-prefix && suffix < len(next)-prefix &&
		old[len(old)-1-suffix] == next[len(next)-1-suffix] {
		suffix++
	}

	if del := len(old) - prefix - suffix; del > 0 {
		if err := t.Delete(prefix, del); err != nil {
			return err
		}
	}
	if ins := next[prefix : len(next)-suffix]; len(ins) > 0 {
		if err := t.Insert(prefix, string(ins)); err != nil {
			return err
		}
	}
	return nil
}

// Merge folds the state of other into t. Merge is commutative, associative
// and idempotent, so replicas that exchanged the same states read the same
// string.
func (t *Text) Merge(other *Text) error {
	if other == nil || other == t {
		return nil
	}

	other.mu.Lock()
	incoming := slices.Clone(other.atoms)
	other.mu.Unlock()

	// An origin always has a smaller clock than the atoms inserted after
	// it, so integrating in ID order sees every origin first.
	slices.SortFunc(incoming, func(a, b atom) int { return a.ID.Compare(b.ID) })

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, a := range incoming {
		if i := t.find(a.ID); i >= 0 {
			t.atoms[i].Deleted = t.atoms[i].Deleted || a.Deleted
			continue
		}
		if err := t.integrate(a); err != nil {
			return err
		}
	}
	return nil
}

// integrate places a at its position after its origin. Atoms already
// following the origin with a greater ID were inserted concurrently or
// later and keep their place in front of a; their descendants always carry
// greater IDs, so the scan skips whole subtrees.
func (t *Text) integrate(a atom) error {
	i := 0
	if !a.Origin.IsZero() {
		o := t.find(a.Origin)
		if o < 0 {
			return fmt.Errorf("%w: %d@%s", ErrMissingOrigin, a.Origin.Clock, a.Origin.Replica)
		}
		i = o + 1
	}
	for i < len(t.atoms) && t.atoms[i].ID.Compare(a.ID) > 0 {
		i++
	}
	t.atoms = slices.Insert(t.atoms, i, a)
	t.clock = max(t.clock, a.ID.Clock)
	return nil
}

func (t *Text) find(id AtomID) int {
	for i := range t.atoms {
		if t.atoms[i].ID == id {
			return i
		}
	}
	return -1
}

// physicalIndex maps a visible position to its index in atoms.
// Callers check bounds first.
func (t *Text) physicalIndex(pos int) int {
	for i, a := range t.atoms {
		if a.Deleted {
			continue
		}
		if pos == 0 {
			return i
		}
		pos--
	}
	return len(t.atoms)
}

type textState struct {
	Clock uint64 `json:"clock"`
	Atoms []atom `json:"atoms"`
}

// MarshalJSON encodes the full atom state, tombstones included.
func (t *Text) MarshalJSON() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	atoms := t.atoms
	if atoms == nil {
		atoms = []atom{}
	}
	return json.Marshal(textState{Clock: t.clock, Atoms: atoms})
}

// UnmarshalJSON replaces the state of t. The replica ID is left unchanged.
func (t *Text) UnmarshalJSON(data []byte) error {
	var st textState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	clock := st.Clock
	for _, a := range st.Atoms {
		clock = max(clock, a.ID.Clock)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock = clock
	t.atoms = st.Atoms
	return nil
}
