// Package pgstore is the relational tracking.Store backend: one physical
// table per flow, with hand-written SQL for the insert/update
// optimistic-concurrency paths gorm's struct mapper can't express cleanly
// for a dynamic per-flow table name — the same reason the teacher's
// ClaimNextRunnable drops to db.Exec/clause.Locking instead of the ORM
// layer.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"gorm.io/gorm"

	"github.com/cocoindex-io/cocoindex-go/internal/tracking"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

var flowNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Store is a gorm-backed tracking.Store scoped to one flow's table.
type Store struct {
	db    *gorm.DB
	flow  string
	table string
}

// New returns a Store for flow, validating the flow name is safe to
// interpolate into the table identifier (flow names come from flow
// definitions, not untrusted request input, but the check is cheap and
// catches a misconfigured flow name before it reaches SQL).
func New(db *gorm.DB, flow string) (*Store, error) {
	if !flowNamePattern.MatchString(flow) {
		return nil, fmt.Errorf("pgstore: invalid flow name %q", flow)
	}
	return &Store{db: db, flow: flow, table: "tracking_" + flow}, nil
}

// EnsureSchema creates the flow's tracking table, its indexes and its
// source-state table if they do not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    source_id text NOT NULL,
    source_key_json text NOT NULL,
    source_key_digest bytea NOT NULL,
    record jsonb NOT NULL,
    updated_at timestamptz NOT NULL DEFAULT now(),
    PRIMARY KEY (source_id, source_key_digest)
)`, s.table)
	if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("pgstore: ensure schema: %w", err)
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_key_json_idx ON %s (source_id, source_key_json)`, s.table, s.table)
	if err := s.db.WithContext(ctx).Exec(idx).Error; err != nil {
		return fmt.Errorf("pgstore: ensure index: %w", err)
	}
	state := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s_state (
    source_id text NOT NULL,
    state_key text NOT NULL,
    value jsonb NOT NULL,
    PRIMARY KEY (source_id, state_key)
)`, s.table)
	if err := s.db.WithContext(ctx).Exec(state).Error; err != nil {
		return fmt.Errorf("pgstore: ensure state table: %w", err)
	}
	return nil
}

func (s *Store) GetTracking(ctx context.Context, sourceID string, key value.KeyValue) (*tracking.Record, error) {
	digest := keyDigest(key)
	var raw []byte
	row := s.db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT record FROM %s WHERE source_id = ? AND source_key_digest = ?`, s.table),
		sourceID, digest,
	).Row()
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || isNoRows(err) {
			return nil, tracking.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", tracking.ErrBackend, err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tracking.ErrSerialization, err)
	}
	return rec, nil
}

func (s *Store) PrecommitTracking(ctx context.Context, sourceID string, key value.KeyValue, expect tracking.WriteExpectation, rec *tracking.Record) error {
	return s.write(ctx, sourceID, key, expect, rec)
}

func (s *Store) CommitTracking(ctx context.Context, sourceID string, key value.KeyValue, expect tracking.WriteExpectation, rec *tracking.Record) error {
	return s.write(ctx, sourceID, key, expect, rec)
}

func (s *Store) write(ctx context.Context, sourceID string, key value.KeyValue, expect tracking.WriteExpectation, rec *tracking.Record) error {
	recJSON, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", tracking.ErrSerialization, err)
	}
	digest := keyDigest(key)
	keyJSON := string(key.CanonicalJSON())

	switch expect {
	case tracking.ExpectInsert:
		stmt := fmt.Sprintf(`
INSERT INTO %s (source_id, source_key_json, source_key_digest, record, updated_at)
VALUES (?, ?, ?, ?, now())
ON CONFLICT (source_id, source_key_digest) DO NOTHING`, s.table)
		res := s.db.WithContext(ctx).Exec(stmt, sourceID, keyJSON, digest, recJSON)
		if res.Error != nil {
			return fmt.Errorf("%w: %v", tracking.ErrBackend, res.Error)
		}
		if res.RowsAffected == 0 {
			return tracking.ErrConflict
		}
		return nil
	case tracking.ExpectUpdate:
		stmt := fmt.Sprintf(`
UPDATE %s SET record = ?, source_key_json = ?, updated_at = now()
WHERE source_id = ? AND source_key_digest = ?`, s.table)
		res := s.db.WithContext(ctx).Exec(stmt, recJSON, keyJSON, sourceID, digest)
		if res.Error != nil {
			return fmt.Errorf("%w: %v", tracking.ErrBackend, res.Error)
		}
		if res.RowsAffected == 0 {
			return tracking.ErrConflict
		}
		return nil
	default:
		return fmt.Errorf("pgstore: unknown write expectation %d", expect)
	}
}

func (s *Store) DeleteTracking(ctx context.Context, sourceID string, key value.KeyValue, expect tracking.WriteExpectation) error {
	digest := keyDigest(key)
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE source_id = ? AND source_key_digest = ?`, s.table)
	res := s.db.WithContext(ctx).Exec(stmt, sourceID, digest)
	if res.Error != nil {
		return fmt.Errorf("%w: %v", tracking.ErrBackend, res.Error)
	}
	if res.RowsAffected == 0 && expect == tracking.ExpectUpdate {
		return tracking.ErrConflict
	}
	return nil
}

func (s *Store) ScanTracking(ctx context.Context, sourceID string) (tracking.RecordIterator, error) {
	stmt := fmt.Sprintf(`SELECT source_key_json, record FROM %s WHERE source_id = ? ORDER BY source_key_json`, s.table)
	rows, err := s.db.WithContext(ctx).Raw(stmt, sourceID).Rows()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tracking.ErrBackend, err)
	}
	return &rowIterator{rows: rows}, nil
}

func (s *Store) GetSourceState(ctx context.Context, sourceID, key string) (json.RawMessage, error) {
	var raw []byte
	row := s.db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT value FROM %s_state WHERE source_id = ? AND state_key = ?`, s.table),
		sourceID, key,
	).Row()
	if err := row.Scan(&raw); err != nil {
		if isNoRows(err) {
			return nil, tracking.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", tracking.ErrBackend, err)
	}
	return raw, nil
}

func (s *Store) PutSourceState(ctx context.Context, sourceID, key string, val json.RawMessage) error {
	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s_state (
    source_id text NOT NULL,
    state_key text NOT NULL,
    value jsonb NOT NULL,
    PRIMARY KEY (source_id, state_key)
)`, s.table)
	if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("%w: %v", tracking.ErrBackend, err)
	}
	upsert := fmt.Sprintf(`
INSERT INTO %s_state (source_id, state_key, value) VALUES (?, ?, ?)
ON CONFLICT (source_id, state_key) DO UPDATE SET value = EXCLUDED.value`, s.table)
	if err := s.db.WithContext(ctx).Exec(upsert, sourceID, key, []byte(val)).Error; err != nil {
		return fmt.Errorf("%w: %v", tracking.ErrBackend, err)
	}
	return nil
}

var _ tracking.Store = (*Store)(nil)
