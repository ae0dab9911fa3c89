// Package pgtarget is a relational-table connector.TargetFactory: one
// physical table per export target, upserted via
// INSERT ... ON CONFLICT (pk) DO UPDATE, grounded on the teacher's
// internal/db/postgres.go connection bootstrap and the same
// hand-written-SQL-over-gorm style internal/tracking/pgstore already
// uses for its own dynamic-table-name writes.
package pgtarget

import (
	"context"
	"fmt"
	"regexp"

	"gorm.io/gorm"

	"github.com/cocoindex-io/cocoindex-go/internal/connector"
	"github.com/cocoindex-io/cocoindex-go/internal/target/factorybase"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Factory is a connector.TargetFactory backed by one Postgres table:
// columns (key_json text primary key, value jsonb). The value column
// stores the exported struct's canonical JSON rather than a fixed column
// set, since the engine's Value schema is dynamic per flow.
type Factory struct {
	db    *gorm.DB
	table string
}

// New returns a Factory for table, validating the name is a safe SQL
// identifier (flow-configured, not untrusted request input, but checked
// the same way pgstore.New checks its flow name).
func New(db *gorm.DB, table string) (*Factory, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("pgtarget: invalid table name %q", table)
	}
	return &Factory{db: db, table: table}, nil
}

func (f *Factory) Name() string { return "postgres_table" }

// EnsureSchema creates the target table if it does not already exist.
func (f *Factory) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    key_json text PRIMARY KEY,
    value jsonb NOT NULL
)`, f.table)
	if err := f.db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("pgtarget: ensure schema: %w", err)
	}
	return nil
}

// CheckSetupStatus classifies desired against existing per spec §4.8: nil
// existing means the table has never been staged (Create); byte-equal
// states need nothing (NoChange); anything else is an Update, since a
// jsonb value column absorbs any struct shape in place.
func (f *Factory) CheckSetupStatus(_ context.Context, _ connector.Key, desired, existing []byte) (connector.SetupChange, error) {
	if existing == nil {
		if desired == nil {
			return connector.SetupNoChange, nil
		}
		return connector.SetupCreate, nil
	}
	if desired == nil {
		return connector.SetupDelete, nil
	}
	if string(desired) == string(existing) {
		return connector.SetupNoChange, nil
	}
	return connector.SetupUpdate, nil
}

// CheckStateCompatibility is always Compatible: the table's physical
// shape (key_json, value jsonb) never changes with the flow's declared
// schema, so no rebuild is ever required.
func (f *Factory) CheckStateCompatibility(_ context.Context, _, _ []byte) (connector.Compatibility, error) {
	return connector.Compatible, nil
}

// ApplySetupChanges applies the physical effect of each resource's
// computed change: Create/Update ensures the table exists (a no-op if it
// already does, since the schema never varies); Delete drops it; Invalid
// never occurs for this factory (CheckStateCompatibility never reports
// NotCompatible).
func (f *Factory) ApplySetupChanges(ctx context.Context, changes []connector.ResourceChange) error {
	for _, c := range changes {
		switch c.Change {
		case connector.SetupCreate, connector.SetupUpdate:
			if err := f.EnsureSchema(ctx); err != nil {
				return err
			}
		case connector.SetupDelete:
			stmt := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, f.table)
			if err := f.db.WithContext(ctx).Exec(stmt).Error; err != nil {
				return fmt.Errorf("pgtarget: drop table: %w", err)
			}
		case connector.SetupInvalid:
			return fmt.Errorf("pgtarget: invalid setup state for %s unexpected", f.table)
		}
	}
	return nil
}

// ApplyMutation issues one upsert or delete per row via
// factorybase.ApplyBatched.
func (f *Factory) ApplyMutation(ctx context.Context, mutations []connector.Mutation) ([]connector.MutationOutcome, error) {
	return factorybase.ApplyBatched(ctx, mutations, f.applyOne), nil
}

func (f *Factory) applyOne(ctx context.Context, m connector.Mutation) error {
	keyJSON := string(m.Key.CanonicalJSON())
	if m.Delete {
		stmt := fmt.Sprintf(`DELETE FROM %s WHERE key_json = ?`, f.table)
		return f.db.WithContext(ctx).Exec(stmt, keyJSON).Error
	}
	valJSON, err := value.CanonicalJSON(m.Value)
	if err != nil {
		return fmt.Errorf("pgtarget: encode value: %w", err)
	}
	stmt := fmt.Sprintf(`
INSERT INTO %s (key_json, value) VALUES (?, ?)
ON CONFLICT (key_json) DO UPDATE SET value = EXCLUDED.value`, f.table)
	return f.db.WithContext(ctx).Exec(stmt, keyJSON, []byte(valJSON)).Error
}

var _ connector.TargetFactory = (*Factory)(nil)
