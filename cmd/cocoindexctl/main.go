// Command cocoindexctl is a thin, env-var-gated wrapper around one
// admin.Operator method (update/drop/setup_status/apply_setup), grounded
// on cmd/main.go's own startup: no CLI framework, every setting read
// from the environment with a logged default, the process exiting
// non-zero when startup or the chosen command fails.
package main

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/cocoindex-io/cocoindex-go/internal/admin"
	"github.com/cocoindex-io/cocoindex-go/internal/connector"
	"github.com/cocoindex-io/cocoindex-go/internal/connector/localfs"
	"github.com/cocoindex-io/cocoindex-go/internal/eval"
	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
	"github.com/cocoindex-io/cocoindex-go/internal/flow"
	"github.com/cocoindex-io/cocoindex-go/internal/platform/envutil"
	"github.com/cocoindex-io/cocoindex-go/internal/platform/logger"
	"github.com/cocoindex-io/cocoindex-go/internal/platform/qdrant"
	"github.com/cocoindex-io/cocoindex-go/internal/rowindexer"
	"github.com/cocoindex-io/cocoindex-go/internal/setup"
	"github.com/cocoindex-io/cocoindex-go/internal/setup/pgmetastore"
	"github.com/cocoindex-io/cocoindex-go/internal/sourceindexer"
	"github.com/cocoindex-io/cocoindex-go/internal/target"
	"github.com/cocoindex-io/cocoindex-go/internal/target/pgtarget"
	"github.com/cocoindex-io/cocoindex-go/internal/target/vectortarget"
	"github.com/cocoindex-io/cocoindex-go/internal/tracking"
	"github.com/cocoindex-io/cocoindex-go/internal/tracking/pgstore"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

// flowName and friends describe the one reference pipeline this binary
// wires: a local-filesystem source exported whole, content-addressed by
// its own bytes, into one target: a Postgres table by default, or a
// Qdrant collection when COCOINDEX_TARGET_KIND is "qdrant". Real embedding programs
// declare their own flow.Flow in Go rather than loading one generically
// (the package map carries no generic flow-definition loader); this
// binary exists to exercise update/drop/setup_status/apply_setup against
// something real, not to be a general-purpose flow runner.
const (
	flowName         = "localfs_docs"
	sourceID         = "docs"
	targetName       = "docs_table"
	vectorTargetName = "docs_vectors"
	collectorName    = "docs"
	rootScopeField   = "content"
	embeddingField   = "embedding"
	defaultTableName = "cocoindex_docs"
)

func main() {
	log, err := logger.New(envutil.GetEnv("COCOINDEX_LOG_MODE", "development", nil))
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	db, err := openPostgres(log)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	op, err := buildOperator(db, log)
	if err != nil {
		log.Error("failed to build operator", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	command := envutil.GetEnv("COCOINDEX_COMMAND", "update", log)

	switch command {
	case "update":
		result, err := op.Update(ctx, admin.UpdateOptions{
			LiveMode:       envutil.GetEnvAsBool("COCOINDEX_LIVE", false, log),
			FullReprocess:  envutil.GetEnvAsBool("COCOINDEX_FULL_REPROCESS", false, log),
			ReportToStdout: true,
		})
		if err != nil {
			log.Error("update failed", "error", err)
			os.Exit(1)
		}
		for _, s := range result.Sources {
			if s.Err != nil {
				log.Error("source update failed", "source", s.SourceID, "error", s.Err)
			}
		}

	case "setup_status":
		infos, err := op.SetupStatus(ctx)
		if err != nil {
			log.Error("setup_status failed", "error", err)
			os.Exit(1)
		}
		for _, info := range infos {
			fmt.Println(info.Description)
		}

	case "apply_setup":
		changes, err := op.ApplySetup(ctx)
		if err != nil {
			log.Error("apply_setup failed", "error", err)
			os.Exit(1)
		}
		log.Info("apply_setup complete", "resources_changed", len(changes))

	case "drop":
		if err := op.Drop(ctx); err != nil {
			log.Error("drop failed", "error", err)
			os.Exit(1)
		}
		log.Info("drop complete", "flow", flowName)

	default:
		log.Error("unknown COCOINDEX_COMMAND", "command", command)
		os.Exit(1)
	}
}

// openPostgres mirrors internal/db/postgres.go's NewPostgresService: DSN
// assembled from env vars with logged defaults, a gorm logger that
// silences "record not found" (a row missing from a tracking/target
// table is routine here, not an error worth gorm's own warning).
func openPostgres(log *logger.Logger) (*gorm.DB, error) {
	host := envutil.GetEnv("POSTGRES_HOST", "localhost", log)
	port := envutil.GetEnv("POSTGRES_PORT", "5432", log)
	user := envutil.GetEnv("POSTGRES_USER", "postgres", log)
	password := envutil.GetEnv("POSTGRES_PASSWORD", "", log)
	name := envutil.GetEnv("POSTGRES_NAME", "cocoindex", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)

	gormLog := gormLogger.New(
		stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return db, nil
}

// targetWiring is what differs between the two reference target kinds this
// binary can drive: the factory itself, the plan nodes needed to produce
// whatever shape that factory exports, the flow.TargetBinding pointing at
// it, and the admin.ResourceDef describing its desired setup state.
type targetWiring struct {
	targetID  tracking.TargetID
	factory   connector.TargetFactory
	connKey   string
	planExtra []eval.Node
	binding   flow.TargetBinding
	resource  admin.ResourceDef
}

// buildOperator wires the one reference flow (localfs -> a single export
// target) into an admin.Operator: tracking + setup metadata stores, the
// target factory, the row indexer built from flow.go's
// SourceFetcher/EvaluateFunc adapters, and the source indexer that drives
// its full-scan cycle. COCOINDEX_TARGET_KIND picks which target factory
// the reference flow exports to ("postgres", the default, or "qdrant").
func buildOperator(db *gorm.DB, log *logger.Logger) (*admin.Operator, error) {
	ctx := context.Background()

	metaStore := pgmetastore.New(db)
	if err := metaStore.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	trackingStore, err := pgstore.New(db, flowName)
	if err != nil {
		return nil, err
	}
	if err := trackingStore.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	kind := envutil.GetEnv("COCOINDEX_TARGET_KIND", "postgres", log)
	var wiring targetWiring
	switch kind {
	case "postgres":
		wiring, err = buildPostgresTarget(db, log)
	case "qdrant":
		wiring, err = buildQdrantTarget(log)
	default:
		return nil, fmt.Errorf("cocoindexctl: unknown COCOINDEX_TARGET_KIND %q", kind)
	}
	if err != nil {
		return nil, err
	}

	resourceKey := setup.ResourceKey{
		Flow:         flowName,
		ResourceType: wiring.factory.Name(),
		Target:       connector.Key{FactoryName: wiring.factory.Name(), ResourceKey: string(wiring.targetID)},
	}
	lookup := func(key setup.ResourceKey) (connector.TargetFactory, error) {
		if key != resourceKey {
			return nil, fmt.Errorf("cocoindexctl: no factory bound for resource %+v", key)
		}
		return wiring.factory, nil
	}
	setupEngine := setup.NewEngine(metaStore, lookup)
	wiring.resource.Key = resourceKey

	reconciler := target.NewReconciler(target.Binding{
		Target:        wiring.targetID,
		Factory:       wiring.factory,
		ConnectionKey: wiring.connKey,
		CreateOrder:   0,
	})

	root := append([]eval.Node{}, wiring.planExtra...)
	root = append(root, &eval.CollectNode{CollectorName: collectorName, CollectFields: collectFieldsFor(kind)})
	plan := &eval.ExecutionPlan{
		Collectors: []string{collectorName},
		Root:       root,
	}

	dir := envutil.GetEnv("COCOINDEX_ROOT_DIR", ".", log)
	pattern := envutil.GetEnv("COCOINDEX_PATTERN", "**/*.md", log)
	source := localfs.New(dir, pattern)

	f := &flow.Flow{
		Name: flowName,
		Plan: plan,
		Sources: []flow.SourceBinding{
			{SourceID: sourceID, Executor: source, RootField: rootScopeField},
		},
		Targets: []flow.TargetBinding{wiring.binding},
	}

	srcBinding := f.Sources[0]
	rowIdx := rowindexer.NewIndexer(
		sourceID,
		trackingStore,
		flow.SourceFetcher(srcBinding),
		f.EvaluateFunc(srcBinding),
		reconciler,
		nil,
		rowindexer.RetryPolicy{MaxAttempts: 3},
	)

	sourceIdx := sourceindexer.NewIndexer(sourceID, source, trackingStore, rowIdx, f.LogicFingerprint())

	return &admin.Operator{
		FlowName: flowName,
		Setup:    setupEngine,
		Tracking: trackingStore,
		Resources: []admin.ResourceDef{
			wiring.resource,
		},
		Sources: []admin.SourceDef{
			{SourceID: sourceID, Indexer: sourceIdx},
		},
		Log:          log,
		PollInterval: time.Duration(envutil.GetEnvAsInt("COCOINDEX_POLL_SECONDS", 30, log)) * time.Second,
	}, nil
}

// collectFieldsFor names the scope fields the reference flow's CollectNode
// gathers into its row, which depends on whether a transform node produced
// an extra embedding field ahead of it.
func collectFieldsFor(kind string) []string {
	if kind == "qdrant" {
		return []string{rootScopeField, embeddingField}
	}
	return []string{rootScopeField}
}

// buildPostgresTarget wires the reference flow's default target: the whole
// file body, content-addressed by its own bytes, upserted into one table.
func buildPostgresTarget(db *gorm.DB, log *logger.Logger) (targetWiring, error) {
	table := envutil.GetEnv("COCOINDEX_TABLE", defaultTableName, log)
	factory, err := pgtarget.New(db, table)
	if err != nil {
		return targetWiring{}, err
	}

	targetID := tracking.TargetID(targetName)
	return targetWiring{
		targetID: targetID,
		factory:  factory,
		connKey:  "postgres",
		binding: flow.TargetBinding{
			Target:      targetID,
			Collector:   collectorName,
			KeyFields:   []string{rootScopeField},
			CreateOrder: 0,
		},
		resource: admin.ResourceDef{Desired: []byte(`{"table":"` + table + `"}`)},
	}, nil
}

// buildQdrantTarget wires a qdrant-backed vectortarget.Factory as the
// reference flow's export target: a deterministic placeholderEmbedding
// transform node turns each file's raw content into a fixed-dimension
// vector field, which vectortarget.Factory then upserts alongside the raw
// content as point metadata. There is no embedding-model integration in
// this module (out of scope for an indexing engine); the placeholder
// exists only to give the vector store a real field to export, the same
// way a caller's own flow.Flow would feed it a field from a real embedding
// transform.
func buildQdrantTarget(log *logger.Logger) (targetWiring, error) {
	cfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		return targetWiring{}, fmt.Errorf("cocoindexctl: qdrant config: %w", err)
	}

	store, err := qdrant.NewVectorStore(log, cfg)
	if err != nil {
		return targetWiring{}, fmt.Errorf("cocoindexctl: qdrant store: %w", err)
	}

	factory := &vectortarget.Factory{
		Store:       store,
		Namespace:   "docs",
		VectorField: embeddingField,
	}

	targetID := tracking.TargetID(vectorTargetName)
	return targetWiring{
		targetID: targetID,
		factory:  factory,
		connKey:  "qdrant",
		planExtra: []eval.Node{
			&eval.TransformNode{
				InputFields:      []string{rootScopeField},
				OutputField:      embeddingField,
				Func:             placeholderEmbedding(cfg.VectorDim),
				LogicFingerprint: fingerprint.Zero,
			},
		},
		binding: flow.TargetBinding{
			Target:      targetID,
			Collector:   collectorName,
			KeyFields:   []string{rootScopeField},
			CreateOrder: 0,
		},
		resource: admin.ResourceDef{Desired: []byte(`{"collection":"` + cfg.Collection + `"}`)},
	}, nil
}

// placeholderEmbedding returns a TransformFunc that derives a deterministic
// dim-length unit-ish vector from the fingerprint of its single input,
// repeating the 16 fingerprint bytes as needed to fill dim. It stands in
// for a real embedding-model call (out of scope here) so the qdrant target
// path has a genuine KindVector field to export rather than a stub value.
func placeholderEmbedding(dim int) eval.TransformFunc {
	return func(_ context.Context, inputs []value.Value) (value.Value, error) {
		if len(inputs) != 1 {
			return nil, fmt.Errorf("placeholderEmbedding: want 1 input, got %d", len(inputs))
		}
		fp := value.Fingerprint(inputs[0])
		raw := fp.Bytes()

		elems := make([]value.Scalar, dim)
		for i := 0; i < dim; i++ {
			b := raw[i%len(raw)]
			elems[i] = value.Scalar{Kind: value.KindFloat32, Float32: float32(b)/255*2 - 1}
		}
		return value.Scalar{Kind: value.KindVector, Vector: elems}, nil
	}
}
