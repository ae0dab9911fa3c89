package memo

import (
	"bytes"
	"fmt"
	"time"

	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
	"github.com/vmihailenco/msgpack/v5"
)

// EncodeEntries serializes a row's memoization entries into the opaque
// bytes a tracking.Record stores as MemoizationInfo. The engine never
// interprets these bytes beyond this codec; Entry.Output itself is opaque
// to the engine too (spec §9, "Opaque memo payload").
func EncodeEntries(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(len(entries)); err != nil {
		return nil, fmt.Errorf("memo: encode entries: %w", err)
	}
	for _, e := range entries {
		if err := encodeEntry(enc, e); err != nil {
			return nil, fmt.Errorf("memo: encode entries: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeEntries is the inverse of EncodeEntries. An empty or nil input
// decodes to an empty slice (a row with no prior memoization history).
func DecodeEntries(data []byte) ([]Entry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, fmt.Errorf("memo: decode entries: %w", err)
	}
	entries := make([]Entry, n)
	for i := 0; i < n; i++ {
		e, err := decodeEntry(dec)
		if err != nil {
			return nil, fmt.Errorf("memo: decode entries: %w", err)
		}
		entries[i] = e
	}
	return entries, nil
}

func encodeEntry(enc *msgpack.Encoder, e Entry) error {
	if err := enc.EncodeArrayLen(8); err != nil {
		return err
	}
	if err := enc.EncodeBytes(e.MemoKeyFP.Bytes()); err != nil {
		return err
	}
	if err := enc.EncodeBytes(e.LogicFP.Bytes()); err != nil {
		return err
	}
	if err := enc.EncodeBytes(e.Output); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(e.States)); err != nil {
		return err
	}
	for _, s := range e.States {
		if err := enc.EncodeBytes(s); err != nil {
			return err
		}
	}
	if err := enc.EncodeInt64(e.CreatedAt.UnixNano()); err != nil {
		return err
	}
	if e.TTL == nil {
		if err := enc.EncodeBool(false); err != nil {
			return err
		}
		if err := enc.EncodeInt64(0); err != nil {
			return err
		}
	} else {
		if err := enc.EncodeBool(true); err != nil {
			return err
		}
		if err := enc.EncodeInt64(int64(*e.TTL)); err != nil {
			return err
		}
	}
	return enc.EncodeBool(e.AlreadyStored)
}

func decodeEntry(dec *msgpack.Decoder) (Entry, error) {
	if _, err := dec.DecodeArrayLen(); err != nil {
		return Entry{}, err
	}
	memoKeyRaw, err := dec.DecodeBytes()
	if err != nil {
		return Entry{}, err
	}
	logicRaw, err := dec.DecodeBytes()
	if err != nil {
		return Entry{}, err
	}
	output, err := dec.DecodeBytes()
	if err != nil {
		return Entry{}, err
	}
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Entry{}, err
	}
	states := make([][]byte, n)
	for i := 0; i < n; i++ {
		s, err := dec.DecodeBytes()
		if err != nil {
			return Entry{}, err
		}
		states[i] = s
	}
	createdNanos, err := dec.DecodeInt64()
	if err != nil {
		return Entry{}, err
	}
	hasTTL, err := dec.DecodeBool()
	if err != nil {
		return Entry{}, err
	}
	ttlNanos, err := dec.DecodeInt64()
	if err != nil {
		return Entry{}, err
	}
	alreadyStored, err := dec.DecodeBool()
	if err != nil {
		return Entry{}, err
	}

	var memoKeyFP, logicFP fingerprint.Fingerprint
	copy(memoKeyFP[:], memoKeyRaw)
	copy(logicFP[:], logicRaw)

	var ttl *time.Duration
	if hasTTL {
		d := time.Duration(ttlNanos)
		ttl = &d
	}

	return Entry{
		MemoKeyFP:     memoKeyFP,
		LogicFP:       logicFP,
		Output:        output,
		States:        states,
		CreatedAt:     time.Unix(0, createdNanos).UTC(),
		TTL:           ttl,
		AlreadyStored: alreadyStored,
	}, nil
}
