// Package memstore is an in-memory tracking.Store used by the rest of
// the engine's unit tests and by the end-to-end scenarios in SPEC_FULL.md
// §8; it implements the same contract the pgstore/docstore backends do,
// verified via tracking/conformance.
package memstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cocoindex-io/cocoindex-go/internal/tracking"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

type sourceTable struct {
	records map[string]*tracking.Record // keyed by value.KeyValue.Encode()
	keys    map[string]value.KeyValue
	state   map[string]json.RawMessage
}

// Store is an in-memory tracking.Store, safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	sources map[string]*sourceTable
}

// New returns an empty Store.
func New() *Store {
	return &Store{sources: make(map[string]*sourceTable)}
}

func (s *Store) table(sourceID string) *sourceTable {
	t, ok := s.sources[sourceID]
	if !ok {
		t = &sourceTable{
			records: make(map[string]*tracking.Record),
			keys:    make(map[string]value.KeyValue),
			state:   make(map[string]json.RawMessage),
		}
		s.sources[sourceID] = t
	}
	return t
}

func (s *Store) GetTracking(_ context.Context, sourceID string, key value.KeyValue) (*tracking.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(sourceID)
	rec, ok := t.records[string(key.Encode())]
	if !ok {
		return nil, tracking.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) PrecommitTracking(_ context.Context, sourceID string, key value.KeyValue, expect tracking.WriteExpectation, rec *tracking.Record) error {
	return s.write(sourceID, key, expect, rec)
}

func (s *Store) CommitTracking(_ context.Context, sourceID string, key value.KeyValue, expect tracking.WriteExpectation, rec *tracking.Record) error {
	return s.write(sourceID, key, expect, rec)
}

func (s *Store) write(sourceID string, key value.KeyValue, expect tracking.WriteExpectation, rec *tracking.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(sourceID)
	encoded := string(key.Encode())
	_, exists := t.records[encoded]

	switch expect {
	case tracking.ExpectInsert:
		if exists {
			return tracking.ErrConflict
		}
	case tracking.ExpectUpdate:
		if !exists {
			return tracking.ErrConflict
		}
	}

	t.records[encoded] = rec.Clone()
	t.keys[encoded] = key
	return nil
}

func (s *Store) DeleteTracking(_ context.Context, sourceID string, key value.KeyValue, expect tracking.WriteExpectation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(sourceID)
	encoded := string(key.Encode())
	_, exists := t.records[encoded]
	if expect == tracking.ExpectUpdate && !exists {
		return tracking.ErrConflict
	}
	delete(t.records, encoded)
	delete(t.keys, encoded)
	return nil
}

func (s *Store) ScanTracking(_ context.Context, sourceID string) (tracking.RecordIterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(sourceID)
	keys := make([]string, 0, len(t.records))
	for k := range t.records {
		keys = append(keys, k)
	}
	return &iterator{table: t, order: keys}, nil
}

func (s *Store) GetSourceState(_ context.Context, sourceID, key string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(sourceID)
	v, ok := t.state[key]
	if !ok {
		return nil, tracking.ErrNotFound
	}
	return v, nil
}

func (s *Store) PutSourceState(_ context.Context, sourceID, key string, val json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(sourceID)
	t.state[key] = append(json.RawMessage(nil), val...)
	return nil
}

type iterator struct {
	table *sourceTable
	order []string
	pos   int
	cur   string
}

func (it *iterator) Next(context.Context) bool {
	if it.pos >= len(it.order) {
		return false
	}
	it.cur = it.order[it.pos]
	it.pos++
	return true
}

func (it *iterator) Key() value.KeyValue   { return it.table.keys[it.cur] }
func (it *iterator) Record() *tracking.Record { return it.table.records[it.cur] }
func (it *iterator) Err() error             { return nil }
func (it *iterator) Close() error           { return nil }

var _ tracking.Store = (*Store)(nil)
