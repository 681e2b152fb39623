package page

import (
	"errors"
	"sync"
)

// ErrRefNotFound is returned when a reference ID was never assigned in the
// current generation or was assigned in a superseded one. The two cases are
// deliberately indistinguishable: the remedy for both is a fresh snapshot.
var ErrRefNotFound = errors.New("element reference not found")

// Generation counts reference-table generations. It increases monotonically
// for the lifetime of a table; references are valid only within the
// generation they were assigned in.
type Generation uint64

// RefTable names interactive elements with small sequential integers. Each
// generation starts empty and is replaced wholesale by the next; the table is
// never mutated in place after a generation is superseded.
type RefTable struct {
	mu    sync.RWMutex
	gen   Generation
	nodes []ElementNode
}

// NewRefTable returns an empty table at generation zero. The first call to
// BeginGeneration moves it to generation one.
func NewRefTable() *RefTable {
	return &RefTable{}
}

// BeginGeneration discards all current assignments and starts a new
// generation. References from the previous generation become invalid
// immediately, even if the same underlying element reappears.
func (t *RefTable) BeginGeneration() Generation {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	t.nodes = nil
	return t.gen
}

// Assign builds the element node for a surviving candidate and assigns it the
// next sequential reference ID, starting at 1 within the current generation.
// Callers must invoke Assign in traversal order; that ordering is the sole
// determinism guarantee for reference IDs.
func (t *RefTable) Assign(c Candidate) ElementNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	node := ElementNode{
		ID:     len(t.nodes) + 1,
		Role:   c.Role,
		Name:   c.Name,
		Tag:    c.Tag,
		Bounds: c.Bounds,
	}
	t.nodes = append(t.nodes, node)
	return node
}

// Resolve returns the element assigned the given reference ID in the current
// generation, or ErrRefNotFound.
func (t *RefTable) Resolve(id int) (ElementNode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id < 1 || id > len(t.nodes) {
		return ElementNode{}, ErrRefNotFound
	}
	return t.nodes[id-1], nil
}

// ResolveAt resolves a reference that was issued under a specific generation.
// A generation mismatch is reported as ErrRefNotFound without inspecting the
// element itself.
func (t *RefTable) ResolveAt(gen Generation, id int) (ElementNode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if gen != t.gen {
		return ElementNode{}, ErrRefNotFound
	}
	if id < 1 || id > len(t.nodes) {
		return ElementNode{}, ErrRefNotFound
	}
	return t.nodes[id-1], nil
}

// Generation returns the current generation counter.
func (t *RefTable) Generation() Generation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gen
}

// Len returns the number of references assigned in the current generation.
func (t *RefTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}
