package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cocoindex-io/cocoindex-go/internal/connector"
	"github.com/cocoindex-io/cocoindex-go/internal/eval"
	"github.com/cocoindex-io/cocoindex-go/internal/memo"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

// DumpOptions configures a dump run, mirroring
// rust/src/execution/dumper.rs's DumpEvaluationOutputOptions.
type DumpOptions struct {
	// OutputDir receives one YAML file per dumped source key.
	OutputDir string

	// UseCache enables a process-local memo.Store for the duration of
	// the dump, same as a live evaluation would use; false forces every
	// transform to run fresh (dumper.rs's "use_cache" toggle).
	UseCache bool

	MemoCache memo.Cache
}

// rowOutput is one source key's dump, matching dumper.rs's
// SourceOutputData{key, exports, error} shape.
type rowOutput struct {
	Key     yamlRaw              `yaml:"key"`
	Exports map[string][]yamlRaw `yaml:"exports,omitempty"`
	Error   string               `yaml:"error,omitempty"`
}

// yamlRaw carries a value already rendered to value.CanonicalJSON bytes
// through to the YAML encoder, reusing the engine's canonical JSON
// mapping instead of re-walking the Value sum type a second time.
type yamlRaw struct{ v any }

func (r yamlRaw) MarshalYAML() (any, error) { return r.v, nil }

func newYAMLRaw(v value.Value) (yamlRaw, error) {
	raw, err := value.CanonicalJSON(v)
	if err != nil {
		return yamlRaw{}, err
	}
	return decodeYAMLRaw(raw)
}

func newYAMLRawKey(k value.KeyValue) (yamlRaw, error) {
	return decodeYAMLRaw(k.CanonicalJSON())
}

func decodeYAMLRaw(raw []byte) (yamlRaw, error) {
	var native any
	if err := json.Unmarshal(raw, &native); err != nil {
		return yamlRaw{}, fmt.Errorf("flow: dump: decode canonical json: %w", err)
	}
	return yamlRaw{native}, nil
}

// DumpSource evaluates every row listed by the named source binding and
// writes one YAML file per key under opts.OutputDir, grounded on
// dumper.rs's evaluate_and_dump_source_entry: list, evaluate, dump,
// continuing past a single row's evaluation error so one bad row does
// not abort the whole dump.
func (f *Flow) DumpSource(ctx context.Context, sourceID string, opts DumpOptions) error {
	binding, ok := f.source(sourceID)
	if !ok {
		return fmt.Errorf("flow: dump: unknown source %q", sourceID)
	}
	if opts.OutputDir == "" {
		return fmt.Errorf("flow: dump: output dir required")
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("flow: dump: %w", err)
	}

	var memoStore *memo.Store
	if opts.UseCache {
		memoStore = memo.NewStore(sourceID, nil, opts.MemoCache)
	}

	return binding.Executor.List(ctx, connector.ListOptions{}, func(ctx context.Context, batch []connector.ListedKey) error {
		for _, lk := range batch {
			if err := f.dumpOne(ctx, binding, lk.Key, memoStore, opts); err != nil {
				return err
			}
		}
		return nil
	})
}

func (f *Flow) source(id string) (SourceBinding, bool) {
	for _, s := range f.Sources {
		if s.SourceID == id {
			return s, true
		}
	}
	return SourceBinding{}, false
}

func (f *Flow) dumpOne(ctx context.Context, src SourceBinding, key value.KeyValue, memoStore *memo.Store, opts DumpOptions) error {
	out := rowOutput{Exports: map[string][]yamlRaw{}}
	if keyRaw, err := newYAMLRawKey(key); err == nil {
		out.Key = keyRaw
	}

	result, err := src.Executor.GetValue(ctx, key, connector.ListOptions{})
	if err != nil {
		out.Error = err.Error()
		return writeDump(opts.OutputDir, key, out)
	}
	if !result.Exists {
		out.Error = "row no longer exists"
		return writeDump(opts.OutputDir, key, out)
	}

	rowMemo := memoStore
	if rowMemo == nil {
		rowMemo = memo.NewStore(src.SourceID, nil, nil)
	}

	scope := eval.NewRootScope()
	if err := scope.Write(src.rootField(), result.Value); err != nil {
		out.Error = err.Error()
		return writeDump(opts.OutputDir, key, out)
	}

	if err := eval.Evaluate(ctx, f.Plan, scope, rowMemo); err != nil {
		out.Error = err.Error()
		return writeDump(opts.OutputDir, key, out)
	}

	for _, target := range f.Targets {
		if target.Collector == "" {
			continue
		}
		rows := scope.Collected(target.Collector)
		encoded := make([]yamlRaw, 0, len(rows))
		for _, row := range rows {
			raw, err := newYAMLRaw(row)
			if err != nil {
				return err
			}
			encoded = append(encoded, raw)
		}
		out.Exports[string(target.Target)] = encoded
	}

	return writeDump(opts.OutputDir, key, out)
}

func writeDump(dir string, key value.KeyValue, out rowOutput) error {
	name := dumpFileName(key)
	path := filepath.Join(dir, name)
	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("flow: dump: marshal %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("flow: dump: write %s: %w", name, err)
	}
	return nil
}

// dumpFileName derives a filesystem-safe name from a key's canonical
// JSON digest — row keys may contain arbitrary bytes, so the file name
// cannot be the key itself.
func dumpFileName(key value.KeyValue) string {
	fp := key.StableFingerprint()
	return fmt.Sprintf("%x.yaml", fp.Bytes())
}
