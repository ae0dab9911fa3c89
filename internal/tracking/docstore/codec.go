package docstore

import (
	"encoding/json"

	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
	"github.com/cocoindex-io/cocoindex-go/internal/tracking"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

type wireTargetKeyEntry struct {
	Key              []byte `json:"key"`
	ProcessOrdinal   int64  `json:"process_ordinal"`
	ValueFingerprint []byte `json:"value_fingerprint,omitempty"`
}

type wireRecord struct {
	ProcessedSourceOrdinal  int64                            `json:"processed_source_ordinal"`
	ProcessedSourceFP       []byte                           `json:"processed_source_fp,omitempty"`
	ProcessLogicFingerprint []byte                           `json:"process_logic_fingerprint"`
	MaxProcessOrdinal       int64                            `json:"max_process_ordinal"`
	ProcessOrdinal          int64                            `json:"process_ordinal"`
	ProcessTimeMicros       int64                            `json:"process_time_micros"`
	StagingTargetKeys       map[string][]wireTargetKeyEntry `json:"staging_target_keys,omitempty"`
	TargetKeys              map[string][]wireTargetKeyEntry `json:"target_keys,omitempty"`
	MemoizationInfo         []byte                           `json:"memoization_info,omitempty"`
}

func encodeRecordJSON(rec *tracking.Record) ([]byte, error) {
	w := wireRecord{
		ProcessedSourceOrdinal:  rec.ProcessedSourceOrdinal,
		ProcessLogicFingerprint: rec.ProcessLogicFingerprint.Bytes(),
		MaxProcessOrdinal:       rec.MaxProcessOrdinal,
		ProcessOrdinal:          rec.ProcessOrdinal,
		ProcessTimeMicros:       rec.ProcessTimeMicros,
		MemoizationInfo:         rec.MemoizationInfo,
	}
	if rec.ProcessedSourceFP != nil {
		w.ProcessedSourceFP = rec.ProcessedSourceFP.Bytes()
	}
	var err error
	if w.StagingTargetKeys, err = encodeTargetKeys(rec.StagingTargetKeys); err != nil {
		return nil, err
	}
	if w.TargetKeys, err = encodeTargetKeys(rec.TargetKeys); err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func encodeTargetKeys(m map[tracking.TargetID][]tracking.TargetKeyEntry) (map[string][]wireTargetKeyEntry, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string][]wireTargetKeyEntry, len(m))
	for target, entries := range m {
		wireEntries := make([]wireTargetKeyEntry, len(entries))
		for i, e := range entries {
			keyBytes, err := value.MarshalKey(e.Key)
			if err != nil {
				return nil, err
			}
			w := wireTargetKeyEntry{Key: keyBytes, ProcessOrdinal: e.ProcessOrdinal}
			if e.ValueFingerprint != nil {
				w.ValueFingerprint = e.ValueFingerprint.Bytes()
			}
			wireEntries[i] = w
		}
		out[string(target)] = wireEntries
	}
	return out, nil
}

func decodeRecordJSON(raw []byte) (*tracking.Record, error) {
	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	rec := &tracking.Record{
		ProcessedSourceOrdinal: w.ProcessedSourceOrdinal,
		MaxProcessOrdinal:      w.MaxProcessOrdinal,
		ProcessOrdinal:         w.ProcessOrdinal,
		ProcessTimeMicros:      w.ProcessTimeMicros,
		MemoizationInfo:        w.MemoizationInfo,
	}
	if len(w.ProcessedSourceFP) == 16 {
		var fp fingerprint.Fingerprint
		copy(fp[:], w.ProcessedSourceFP)
		rec.ProcessedSourceFP = &fp
	}
	copy(rec.ProcessLogicFingerprint[:], w.ProcessLogicFingerprint)

	var err error
	if rec.StagingTargetKeys, err = decodeTargetKeys(w.StagingTargetKeys); err != nil {
		return nil, err
	}
	if rec.TargetKeys, err = decodeTargetKeys(w.TargetKeys); err != nil {
		return nil, err
	}
	return rec, nil
}

func decodeTargetKeys(m map[string][]wireTargetKeyEntry) (map[tracking.TargetID][]tracking.TargetKeyEntry, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[tracking.TargetID][]tracking.TargetKeyEntry, len(m))
	for target, wireEntries := range m {
		entries := make([]tracking.TargetKeyEntry, len(wireEntries))
		for i, w := range wireEntries {
			key, err := value.UnmarshalKey(w.Key)
			if err != nil {
				return nil, err
			}
			e := tracking.TargetKeyEntry{Key: key, ProcessOrdinal: w.ProcessOrdinal}
			if len(w.ValueFingerprint) == 16 {
				var fp fingerprint.Fingerprint
				copy(fp[:], w.ValueFingerprint)
				e.ValueFingerprint = &fp
			}
			entries[i] = e
		}
		out[tracking.TargetID(target)] = entries
	}
	return out, nil
}
