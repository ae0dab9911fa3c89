// Package neo4jtarget is a graph connector.TargetFactory for node and
// relationship exports, grounded on internal/platform/neo4jdb/client.go's
// driver bootstrap (env-driven URI/pool size, VerifyConnectivity on
// construct) and github.com/neo4j/neo4j-go-driver/v5. It implements the
// create_order ordering of spec §4.7/§4.8 (nodes before relationships on
// upsert, relationships before nodes on delete) by exposing that ordering
// through the target.Binding.CreateOrder the caller wires it with, not by
// deciding it itself.
package neo4jtarget

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/cocoindex-io/cocoindex-go/internal/connector"
	"github.com/cocoindex-io/cocoindex-go/internal/target/factorybase"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

// Kind distinguishes a node target from a relationship target; each
// export target a flow declares is bound to exactly one Kind.
type Kind int

const (
	KindNode Kind = iota
	KindRelationship
)

// Factory is a connector.TargetFactory for one node label or relationship
// type.
type Factory struct {
	Driver   neo4j.DriverWithContext
	Database string

	Kind Kind
	// Label is the node label (KindNode) or relationship type
	// (KindRelationship).
	Label string
	// FromLabel/ToLabel name the endpoint node labels; only meaningful
	// for KindRelationship.
	FromLabel string
	ToLabel   string
}

func (f *Factory) Name() string {
	if f.Kind == KindRelationship {
		return "neo4j_relationship"
	}
	return "neo4j_node"
}

// CheckSetupStatus follows the same byte-equality rule as pgtarget: no
// committed state is Create, equal states are NoChange, anything else is
// Update (graph schema here is just a label/type name plus a property
// set, which Neo4j accepts without a prior ALTER).
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

// CheckStateCompatibility is always Compatible: Neo4j has no schema to
// alter in place beyond an optional uniqueness constraint, which MERGE
// does not require.
func (f *Factory) CheckStateCompatibility(_ context.Context, _, _ []byte) (connector.Compatibility, error) {
	return connector.Compatible, nil
}

// ApplySetupChanges, for a node target, ensures a uniqueness constraint
// on the node's id property exists for Create/Update, and drops it for
// Delete — Neo4j tolerates dropping a constraint on a label with no
// remaining data. A relationship target gets no constraint.
func (f *Factory) ApplySetupChanges(ctx context.Context, changes []connector.ResourceChange) error {
	session := f.Driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: f.Database})
	defer session.Close(ctx)

	for _, c := range changes {
		switch c.Change {
		case connector.SetupCreate, connector.SetupUpdate:
			if f.Kind == KindNode {
				cypher := fmt.Sprintf("CREATE CONSTRAINT IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE", f.Label)
				if _, err := session.Run(ctx, cypher, nil); err != nil {
					return fmt.Errorf("neo4jtarget: create constraint: %w", err)
				}
			}
		case connector.SetupDelete:
			if f.Kind == KindNode {
				cypher := fmt.Sprintf("DROP CONSTRAINT IF EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE", f.Label)
				if _, err := session.Run(ctx, cypher, nil); err != nil {
					return fmt.Errorf("neo4jtarget: drop constraint: %w", err)
				}
			}
		case connector.SetupInvalid:
			return fmt.Errorf("neo4jtarget: invalid setup state for %s unexpected", f.Label)
		}
	}
	return nil
}

// ApplyMutation issues one MERGE/DELETE per row.
func (f *Factory) ApplyMutation(ctx context.Context, mutations []connector.Mutation) ([]connector.MutationOutcome, error) {
	session := f.Driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: f.Database})
	defer session.Close(ctx)

	apply := func(ctx context.Context, m connector.Mutation) error {
		if f.Kind == KindRelationship {
			return f.applyRelationship(ctx, session, m)
		}
		return f.applyNode(ctx, session, m)
	}
	return factorybase.ApplyBatched(ctx, mutations, apply), nil
}

func (f *Factory) applyNode(ctx context.Context, session neo4j.SessionWithContext, m connector.Mutation) error {
	id, err := scalarID(m.Key)
	if err != nil {
		return err
	}
	if m.Delete {
		cypher := fmt.Sprintf("MATCH (n:%s {id: $id}) DETACH DELETE n", f.Label)
		_, err := session.Run(ctx, cypher, map[string]any{"id": id})
		return err
	}
	props, err := structToProps(m.Value)
	if err != nil {
		return err
	}
	props["id"] = id
	cypher := fmt.Sprintf("MERGE (n:%s {id: $id}) SET n = $props", f.Label)
	_, err = session.Run(ctx, cypher, map[string]any{"id": id, "props": props})
	return err
}

func (f *Factory) applyRelationship(ctx context.Context, session neo4j.SessionWithContext, m connector.Mutation) error {
	if !m.Key.IsStruct() || len(m.Key.Parts()) != 2 {
		return fmt.Errorf("neo4jtarget: relationship key must be a 2-part struct (from, to)")
	}
	fromID, err := scalarID(m.Key.Parts()[0])
	if err != nil {
		return err
	}
	toID, err := scalarID(m.Key.Parts()[1])
	if err != nil {
		return err
	}

	if m.Delete {
		cypher := fmt.Sprintf(
			"MATCH (a:%s {id: $from})-[r:%s]->(b:%s {id: $to}) DELETE r",
			f.FromLabel, f.Label, f.ToLabel,
		)
		_, err := session.Run(ctx, cypher, map[string]any{"from": fromID, "to": toID})
		return err
	}

	props, err := structToProps(m.Value)
	if err != nil {
		return err
	}
	cypher := fmt.Sprintf(
		"MATCH (a:%s {id: $from}), (b:%s {id: $to}) MERGE (a)-[r:%s]->(b) SET r = $props",
		f.FromLabel, f.ToLabel, f.Label,
	)
	_, err = session.Run(ctx, cypher, map[string]any{"from": fromID, "to": toID, "props": props})
	return err
}

func scalarID(k value.KeyValue) (any, error) {
	if k.IsStruct() {
		return nil, fmt.Errorf("neo4jtarget: expected a scalar key component, got a struct")
	}
	return scalarToAny(k.Scalar())
}

func scalarToAny(s value.Scalar) (any, error) {
	switch s.Kind {
	case value.KindBytes:
		return s.Bytes, nil
	case value.KindStr:
		return s.Str, nil
	case value.KindBool:
		return s.Bool, nil
	case value.KindInt64:
		return s.Int64, nil
	case value.KindFloat32:
		return float64(s.Float32), nil
	case value.KindFloat64:
		return s.Float64, nil
	case value.KindUUID:
		return s.UUID.String(), nil
	case value.KindDate:
		return s.Date.String(), nil
	case value.KindTime:
		return s.Time.String(), nil
	case value.KindLocalDateTime:
		return s.LocalDateTime.String(), nil
	case value.KindOffsetDateTime:
		return s.OffsetDateTime.String(), nil
	case value.KindDuration:
		return int64(s.Duration), nil
	default:
		return nil, fmt.Errorf("neo4jtarget: unsupported scalar kind %s for a property value", s.Kind)
	}
}

func structToProps(s value.Struct) (map[string]any, error) {
	props := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		sc, ok := f.Value.(value.Scalar)
		if !ok {
			return nil, fmt.Errorf("neo4jtarget: field %q is not a scalar; nested structs are not supported as graph properties", f.Name)
		}
		v, err := scalarToAny(sc)
		if err != nil {
			return nil, fmt.Errorf("neo4jtarget: field %q: %w", f.Name, err)
		}
		props[f.Name] = v
	}
	return props, nil
}

var _ connector.TargetFactory = (*Factory)(nil)
