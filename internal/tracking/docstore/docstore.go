// Package docstore is the document-backed tracking.Store: record IDs are
// a deterministic digest of the canonical JSON of (sourceID, key), so
// equal logical keys always collide onto the same document regardless of
// how many times the row is re-enumerated (spec §4.2).
package docstore

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cocoindex-io/cocoindex-go/internal/tracking"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

// Store is a Firestore-backed tracking.Store for one flow.
type Store struct {
	client     *firestore.Client
	collection string
	stateColl  string
}

// New returns a Store writing to tracking_<flow>, with source state in
// tracking_<flow>_state.
func New(client *firestore.Client, flow string) *Store {
	return &Store{
		client:     client,
		collection: "tracking_" + flow,
		stateColl:  "tracking_" + flow + "_state",
	}
}

// recordID is the 512-bit digest (hex) of the canonical JSON of
// (sourceID, key); it never needs to be parsed back, only re-derived.
func recordID(sourceID string, key value.KeyValue) string {
	payload := append([]byte(sourceID), 0)
	payload = append(payload, key.CanonicalJSON()...)
	sum := sha512.Sum512(payload)
	return hex.EncodeToString(sum[:])
}

type docFields struct {
	SourceID string          `firestore:"source_id"`
	KeyJSON  string          `firestore:"source_key_json"`
	Record   json.RawMessage `firestore:"record"`
}

func (s *Store) GetTracking(ctx context.Context, sourceID string, key value.KeyValue) (*tracking.Record, error) {
	doc, err := s.client.Collection(s.collection).Doc(recordID(sourceID, key)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, tracking.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", tracking.ErrBackend, err)
	}
	var fields docFields
	if err := doc.DataTo(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", tracking.ErrSerialization, err)
	}
	rec, err := decodeRecordJSON(fields.Record)
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
	recJSON, err := encodeRecordJSON(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", tracking.ErrSerialization, err)
	}
	ref := s.client.Collection(s.collection).Doc(recordID(sourceID, key))
	fields := docFields{SourceID: sourceID, KeyJSON: string(key.CanonicalJSON()), Record: recJSON}

	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, getErr := tx.Get(ref)
		exists := getErr == nil
		if getErr != nil && status.Code(getErr) != codes.NotFound {
			return getErr
		}
		switch expect {
		case tracking.ExpectInsert:
			if exists {
				return tracking.ErrConflict
			}
		case tracking.ExpectUpdate:
			if !exists {
				return tracking.ErrConflict
			}
			_ = snap
		}
		return tx.Set(ref, fields)
	})
	if err != nil {
		return err
	}
	return nil
}

func (s *Store) DeleteTracking(ctx context.Context, sourceID string, key value.KeyValue, expect tracking.WriteExpectation) error {
	ref := s.client.Collection(s.collection).Doc(recordID(sourceID, key))
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, getErr := tx.Get(ref)
		exists := getErr == nil
		if getErr != nil && status.Code(getErr) != codes.NotFound {
			return getErr
		}
		if !exists && expect == tracking.ExpectUpdate {
			return tracking.ErrConflict
		}
		return tx.Delete(ref)
	})
}

func (s *Store) ScanTracking(ctx context.Context, sourceID string) (tracking.RecordIterator, error) {
	it := s.client.Collection(s.collection).Where("source_id", "==", sourceID).OrderBy("source_key_json", firestore.Asc).Documents(ctx)
	return &docIterator{it: it}, nil
}

func (s *Store) GetSourceState(ctx context.Context, sourceID, key string) (json.RawMessage, error) {
	doc, err := s.client.Collection(s.stateColl).Doc(sourceID + ":" + key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, tracking.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", tracking.ErrBackend, err)
	}
	raw, err := doc.DataAt("value")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tracking.ErrSerialization, err)
	}
	b, ok := raw.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected value type %T", tracking.ErrSerialization, raw)
	}
	return b, nil
}

func (s *Store) PutSourceState(ctx context.Context, sourceID, key string, val json.RawMessage) error {
	_, err := s.client.Collection(s.stateColl).Doc(sourceID + ":" + key).Set(ctx, map[string]interface{}{
		"source_id": sourceID,
		"state_key": key,
		"value":     []byte(val),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", tracking.ErrBackend, err)
	}
	return nil
}

type docIterator struct {
	it   *firestore.DocumentIterator
	cur  *tracking.Record
	curKey value.KeyValue
	err  error
}

func (d *docIterator) Next(ctx context.Context) bool {
	snap, err := d.it.Next()
	if err == iterator.Done {
		return false
	}
	if err != nil {
		d.err = err
		return false
	}
	var fields docFields
	if err := snap.DataTo(&fields); err != nil {
		d.err = fmt.Errorf("%w: %v", tracking.ErrSerialization, err)
		return false
	}
	rec, err := decodeRecordJSON(fields.Record)
	if err != nil {
		d.err = fmt.Errorf("%w: %v", tracking.ErrSerialization, err)
		return false
	}
	d.cur = rec
	k, _ := value.NewKeyScalar(value.Scalar{Kind: value.KindStr, Str: strings.Trim(fields.KeyJSON, `"`)})
	d.curKey = k
	return true
}

func (d *docIterator) Key() value.KeyValue      { return d.curKey }
func (d *docIterator) Record() *tracking.Record { return d.cur }
func (d *docIterator) Err() error               { return d.err }
func (d *docIterator) Close() error             { d.it.Stop(); return nil }

var _ tracking.Store = (*Store)(nil)
