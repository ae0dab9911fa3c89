// Package pgmetastore is the relational setup.Metadata backend: one
// shared installation-wide table (spec §6.2 — "Setup-metadata table (one
// per installation)"), with the flow version counter stored as the
// distinguished (flow_name, "flow_version", '') row. Grounded on
// internal/tracking/pgstore's hand-written-SQL-over-gorm style and
// internal/repos/job_run.go's conditional-UPDATE optimistic concurrency.
package pgmetastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/cocoindex-io/cocoindex-go/internal/setup"
)

const versionResourceType = "flow_version"

// Store is a gorm-backed setup.Metadata.
type Store struct {
	db    *gorm.DB
	table string
}

// New returns a Store backed by db, using the fixed table name
// "setup_metadata" (spec: one table per installation, not per flow).
func New(db *gorm.DB) *Store {
	return &Store{db: db, table: "setup_metadata"}
}

// EnsureSchema creates the shared setup-metadata table if it does not
// already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    flow_name text NOT NULL,
    resource_type text NOT NULL,
    key_json text NOT NULL,
    state_json jsonb,
    staging_json jsonb NOT NULL DEFAULT '[]',
    version bigint NOT NULL DEFAULT 0,
    PRIMARY KEY (flow_name, resource_type, key_json)
)`, s.table)
	if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("%w: ensure schema: %v", setup.ErrBackend, err)
	}
	return nil
}

func (s *Store) GetVersion(ctx context.Context, flow string) (int64, error) {
	var version int64
	row := s.db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT version FROM %s WHERE flow_name = ? AND resource_type = ? AND key_json = ''`, s.table),
		flow, versionResourceType,
	).Row()
	if err := row.Scan(&version); err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: get version: %v", setup.ErrBackend, err)
	}
	return version, nil
}

// CompareAndSetVersion implements the flow-level optimistic concurrency
// of spec §4.8 step 1 via a conditional UPDATE ... WHERE, the same
// read-check-write shape internal/repos/job_run.go's ClaimNextRunnable
// uses, generalized from row-locking to a bare affected-rows check since
// the version row never needs SKIP LOCKED semantics.
func (s *Store) CompareAndSetVersion(ctx context.Context, flow string, seenVersion, newVersion int64) error {
	if seenVersion == 0 {
		stmt := fmt.Sprintf(`
INSERT INTO %s (flow_name, resource_type, key_json, version) VALUES (?, ?, '', ?)
ON CONFLICT (flow_name, resource_type, key_json) DO NOTHING`, s.table)
		res := s.db.WithContext(ctx).Exec(stmt, flow, versionResourceType, newVersion)
		if res.Error != nil {
			return fmt.Errorf("%w: insert version: %v", setup.ErrBackend, res.Error)
		}
		if res.RowsAffected == 1 {
			return nil
		}
		// A row already exists; fall through to the conditional update
		// so a concurrent first-stage race still resolves via ErrConflict.
	}
	stmt := fmt.Sprintf(`
UPDATE %s SET version = ?
WHERE flow_name = ? AND resource_type = ? AND key_json = '' AND version = ?`, s.table)
	res := s.db.WithContext(ctx).Exec(stmt, newVersion, flow, versionResourceType, seenVersion)
	if res.Error != nil {
		return fmt.Errorf("%w: update version: %v", setup.ErrBackend, res.Error)
	}
	if res.RowsAffected == 0 {
		return setup.ErrConflict
	}
	return nil
}

func (s *Store) GetResourceState(ctx context.Context, key setup.ResourceKey) (setup.ResourceState, error) {
	var stateRaw, stagingRaw []byte
	row := s.db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT state_json, staging_json FROM %s WHERE flow_name = ? AND resource_type = ? AND key_json = ?`, s.table),
		key.Flow, key.ResourceType, resourceKeyJSON(key),
	).Row()
	if err := row.Scan(&stateRaw, &stagingRaw); err != nil {
		if isNoRows(err) {
			return setup.ResourceState{}, nil
		}
		return setup.ResourceState{}, fmt.Errorf("%w: get resource state: %v", setup.ErrBackend, err)
	}
	var staging []setup.StagingChange
	if len(stagingRaw) > 0 {
		if err := json.Unmarshal(stagingRaw, &staging); err != nil {
			return setup.ResourceState{}, fmt.Errorf("%w: decode staging: %v", setup.ErrBackend, err)
		}
	}
	return setup.ResourceState{Committed: json.RawMessage(stateRaw), Staging: staging}, nil
}

func (s *Store) PutResourceState(ctx context.Context, key setup.ResourceKey, state setup.ResourceState) error {
	stagingRaw, err := json.Marshal(state.Staging)
	if err != nil {
		return fmt.Errorf("%w: encode staging: %v", setup.ErrBackend, err)
	}
	stmt := fmt.Sprintf(`
INSERT INTO %s (flow_name, resource_type, key_json, state_json, staging_json)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (flow_name, resource_type, key_json)
DO UPDATE SET state_json = EXCLUDED.state_json, staging_json = EXCLUDED.staging_json`, s.table)
	res := s.db.WithContext(ctx).Exec(stmt, key.Flow, key.ResourceType, resourceKeyJSON(key), []byte(state.Committed), stagingRaw)
	if res.Error != nil {
		return fmt.Errorf("%w: put resource state: %v", setup.ErrBackend, res.Error)
	}
	return nil
}

func resourceKeyJSON(key setup.ResourceKey) string {
	return key.Target.FactoryName + ":" + key.Target.ResourceKey
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

var _ setup.Metadata = (*Store)(nil)
