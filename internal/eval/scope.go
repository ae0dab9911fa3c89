package eval

import (
	"sync"
	"sync/atomic"

	"github.com/cocoindex-io/cocoindex-go/internal/engineerr"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

// Scope is one node of the evaluation's scope tree: the root scope, or a
// ForEach child scope. Every declared field is a write-once cell
// (sync/atomic.Pointer), matching the arena-style concurrency design note
// in spec §9 — many goroutines may read or attempt to write concurrently,
// but only the first write to a given field ever succeeds.
type Scope struct {
	parent *Scope

	cellsMu sync.RWMutex
	cells   map[string]*atomic.Pointer[value.Value]

	collectorsMu sync.Mutex
	collectors   map[string][]value.Struct
}

// NewRootScope returns the top-level scope for one row evaluation.
func NewRootScope() *Scope {
	return &Scope{
		cells:      make(map[string]*atomic.Pointer[value.Value]),
		collectors: make(map[string][]value.Struct),
	}
}

// Child returns a fresh child scope (one per ForEach row), sharing no
// cell or collector storage with its siblings.
func (s *Scope) Child() *Scope {
	return &Scope{
		parent:     s,
		cells:      make(map[string]*atomic.Pointer[value.Value]),
		collectors: make(map[string][]value.Struct),
	}
}

func (s *Scope) cell(field string) *atomic.Pointer[value.Value] {
	s.cellsMu.RLock()
	c, ok := s.cells[field]
	s.cellsMu.RUnlock()
	if ok {
		return c
	}
	s.cellsMu.Lock()
	defer s.cellsMu.Unlock()
	if c, ok = s.cells[field]; ok {
		return c
	}
	c = &atomic.Pointer[value.Value]{}
	s.cells[field] = c
	return c
}

// Write sets field to v exactly once. A second write to the same field
// returns a KindFatalInternal engineerr.Error: every declared output
// field is written exactly once by construction of a well-formed
// ExecutionPlan, so a second write indicates a bug in the plan or a
// Transform/Collect implementation, not a runtime condition to tolerate.
func (s *Scope) Write(field string, v value.Value) error {
	c := s.cell(field)
	if !c.CompareAndSwap(nil, &v) {
		return engineerr.New(engineerr.KindFatalInternal, "eval.Scope.Write",
			errDoubleWrite(field))
	}
	return nil
}

// Read returns field's value and whether it has been written yet.
func (s *Scope) Read(field string) (value.Value, bool) {
	c := s.cell(field)
	p := c.Load()
	if p == nil {
		return nil, false
	}
	return *p, true
}

// Ancestor walks up n scopes (0 = this scope); it returns nil if n
// exceeds the tree's depth.
func (s *Scope) Ancestor(n int) *Scope {
	cur := s
	for ; n > 0 && cur != nil; n-- {
		cur = cur.parent
	}
	return cur
}

// Append adds row to the named collector, guarded by a per-scope mutex so
// concurrent ForEach children appending to a shared ancestor collector
// never interleave a single row's bytes.
func (s *Scope) Append(collector string, row value.Struct) {
	s.collectorsMu.Lock()
	defer s.collectorsMu.Unlock()
	s.collectors[collector] = append(s.collectors[collector], row)
}

// Collected returns the accumulated rows for a named collector.
func (s *Scope) Collected(collector string) []value.Struct {
	s.collectorsMu.Lock()
	defer s.collectorsMu.Unlock()
	return append([]value.Struct(nil), s.collectors[collector]...)
}

type doubleWriteError struct{ field string }

func (e *doubleWriteError) Error() string { return "eval: field " + e.field + " written twice" }

func errDoubleWrite(field string) error { return &doubleWriteError{field: field} }
