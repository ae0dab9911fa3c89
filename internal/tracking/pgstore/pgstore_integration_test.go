package pgstore

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/cocoindex-io/cocoindex-go/internal/tracking"
	"github.com/cocoindex-io/cocoindex-go/internal/tracking/conformance"
)

func pgIntegrationEnabled() bool {
	return strings.TrimSpace(strings.ToLower(os.Getenv("PGSTORE_INTEGRATION"))) == "1"
}

// TestPgstoreConformance runs the shared tracking.Store conformance suite
// against a real Postgres instance. Set PGSTORE_INTEGRATION=1 and
// PGSTORE_INTEGRATION_DSN to run it; it is skipped by default since it
// needs a live database.
func TestPgstoreConformance(t *testing.T) {
	if !pgIntegrationEnabled() {
		t.Skip("set PGSTORE_INTEGRATION=1 to run Postgres tracking store integration tests")
	}
	dsn := os.Getenv("PGSTORE_INTEGRATION_DSN")
	require.NotEmpty(t, dsn, "PGSTORE_INTEGRATION_DSN must be set")

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	flowCounter := 0
	conformance.RunConformance(t, func() tracking.Store {
		flowCounter++
		flow := fmt.Sprintf("it_conformance_%d", flowCounter)
		store, err := New(db, flow)
		require.NoError(t, err)
		require.NoError(t, store.EnsureSchema(t.Context()))
		return store
	})
}
