// Package document assembles document blocks into a tree.
//
// Blocks are kept in an arena (a slice) and linked by index through a
// parent → children table, so a document of any depth is walked with an
// explicit stack and never recurses. Siblings are ordered by fractional
// index, then by block ID.
package document

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrDuplicateBlock is returned when two blocks share an ID.
var ErrDuplicateBlock = errors.New("document: duplicate block")

// Block is one node of a document.
type Block struct {
	ID         string         `json:"id"`
	ParentID   string         `json:"parentId"`
	Type       string         `json:"type"`
	Index      string         `json:"index"`
	Text       string         `json:"text,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Entry is a block with its depth below the document root (top-level
// blocks have depth 0).
type Entry struct {
	Block
	Depth int `json:"depth"`
}

// Document is an immutable block tree rooted at a document node.
type Document struct {
	id       string
	blocks   []Block
	byID     map[string]int
	children map[string][]int
	order    []int // arena slots in pre-order, reachable blocks only
	depths   []int // parallel to order
}

// New builds the tree of document id from blocks in any order.
//
// Blocks whose parent chain does not reach id are kept but not walked;
// they are reported by Orphans. This covers children pulled before their
// parent and parent cycles from conflicting moves.
func New(id string, blocks []Block) (*Document, error) {
	d := &Document{
		id:       id,
		blocks:   slices.Clone(blocks),
		byID:     make(map[string]int, len(blocks)),
		children: make(map[string][]int),
	}

	for i, b := range d.blocks {
		if b.ID == id {
			return nil, fmt.Errorf("%w: block %s is the document itself", ErrDuplicateBlock, b.ID)
		}
		if _, exists := d.byID[b.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBlock, b.ID)
		}
		d.byID[b.ID] = i
		d.children[b.ParentID] = append(d.children[b.ParentID], i)
	}
	for parent, slots := range d.children {
		slices.SortFunc(slots, d.compareSlots)
		d.children[parent] = slots
	}

	d.order, d.depths = d.preorder()
	return d, nil
}

func (d *Document) compareSlots(a, b int) int {
	return cmp.Or(
		strings.Compare(d.blocks[a].Index, d.blocks[b].Index),
		strings.Compare(d.blocks[a].ID, d.blocks[b].ID),
	)
}

// preorder walks the tree depth first with an explicit stack. A block is
// visited at most once, so parent cycles cannot loop.
func (d *Document) preorder() (order, depths []int) {
	type frame struct {
		slot  int
		depth int
	}

	visited := make([]bool, len(d.blocks))
	stack := make([]frame, 0, len(d.blocks))
	push := func(parentID string, depth int) {
		kids := d.children[parentID]
		// Reverse so the first sibling is popped first.
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{slot: kids[i], depth: depth})
		}
	}

	push(d.id, 0)
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[f.slot] {
			continue
		}
		visited[f.slot] = true
		order = append(order, f.slot)
		depths = append(depths, f.depth)
		push(d.blocks[f.slot].ID, f.depth+1)
	}
	return order, depths
}

// ID returns the document node ID.
func (d *Document) ID() string { return d.id }

// Len returns the number of blocks reachable from the document root.
func (d *Document) Len() int { return len(d.order) }

// Block returns the block with the given ID.
func (d *Document) Block(id string) (Block, bool) {
	i, ok := d.byID[id]
	if !ok {
		return Block{}, false
	}
	return d.blocks[i], true
}

// Children returns the ordered children of id. Pass the document ID for
// top-level blocks.
func (d *Document) Children(id string) []Block {
	slots := d.children[id]
	out := make([]Block, len(slots))
	for i, s := range slots {
		out[i] = d.blocks[s]
	}
	return out
}

// LastChildIndex returns the greatest sibling index under parentID, or ""
// when it has no children.
func (d *Document) LastChildIndex(parentID string) string {
	last := ""
	for _, s := range d.children[parentID] {
		last = max(last, d.blocks[s].Index)
	}
	return last
}

// Walk calls fn for every reachable block in pre-order. Returning false
// stops the walk.
func (d *Document) Walk(fn func(b Block, depth int) bool) {
	for i, s := range d.order {
		if !fn(d.blocks[s], d.depths[i]) {
			return
		}
	}
}

// Entries returns the reachable blocks in pre-order with their depths.
func (d *Document) Entries() []Entry {
	out := make([]Entry, 0, len(d.order))
	d.Walk(func(b Block, depth int) bool {
		out = append(out, Entry{Block: b, Depth: depth})
		return true
	})
	return out
}

// Orphans returns the blocks not reachable from the document root, in ID
// order.
func (d *Document) Orphans() []Block {
	reached := make([]bool, len(d.blocks))
	for _, s := range d.order {
		reached[s] = true
	}
	var out []Block
	for i, b := range d.blocks {
		if !reached[i] {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b Block) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Path returns the IDs from the top-level ancestor down to id. It returns
// nil if id is unknown or not reachable from the document root.
func (d *Document) Path(id string) []string {
	var path []string
	seen := make(map[string]bool)
	for cur := id; cur != d.id; {
		i, ok := d.byID[cur]
		if !ok || seen[cur] {
			return nil
		}
		seen[cur] = true
		path = append(path, cur)
		cur = d.blocks[i].ParentID
	}
	slices.Reverse(path)
	return path
}

// PlainText joins the text of every reachable block, one block per line,
// indented two spaces per level.
func (d *Document) PlainText() string {
	var sb strings.Builder
	d.Walk(func(b Block, depth int) bool {
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(b.Text)
		sb.WriteByte('\n')
		return true
	})
	return sb.String()
}

// View is the serializable form of a document handed to query subscribers.
type View struct {
	ID      string  `json:"id"`
	Blocks  []Entry `json:"blocks"`
	Orphans []Block `json:"orphans,omitempty"`
}

// View returns the document flattened in pre-order.
func (d *Document) View() View {
	return View{
		ID:      d.id,
		Blocks:  d.Entries(),
		Orphans: d.Orphans(),
	}
}
