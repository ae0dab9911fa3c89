package value

import (
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON renders v per the engine's canonical JSON mapping: object
// keys sorted, no insignificant whitespace, numbers in their shortest
// round-trip form. Used for source_key_json and for any value the engine
// persists as JSON for human/operator inspection (§6.2).
func CanonicalJSON(v Value) ([]byte, error) {
	switch t := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case Scalar:
		return scalarCanonicalJSON(t), nil
	case Struct:
		return structCanonicalJSON(t)
	case KTable:
		return rowsCanonicalJSON(t.Rows)
	case UTable:
		return rowsCanonicalJSON(t.Rows)
	case LTable:
		return rowsCanonicalJSON(t.Rows)
	default:
		return nil, fmt.Errorf("value: unknown Value implementation %T", v)
	}
}

func structCanonicalJSON(s Struct) ([]byte, error) {
	names := make([]string, 0, len(s.Fields))
	byName := make(map[string]Value, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
		byName[f.Name] = f.Value
	}
	sort.Strings(names)

	var buf []byte
	buf = append(buf, '{')
	for i, name := range names {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		val, err := CanonicalJSON(byName[name])
		if err != nil {
			return nil, err
		}
		buf = append(buf, val...)
	}
	buf = append(buf, '}')
	return buf, nil
}

func rowsCanonicalJSON(rows []Row) ([]byte, error) {
	var buf []byte
	buf = append(buf, '[')
	for i, r := range rows {
		if i > 0 {
			buf = append(buf, ',')
		}
		rowJSON, err := structCanonicalJSON(r.Value)
		if err != nil {
			return nil, err
		}
		if r.Key == nil {
			buf = append(buf, rowJSON...)
			continue
		}
		keyJSON := r.Key.CanonicalJSON()
		buf = append(buf, '{')
		buf = append(buf, `"key":`...)
		buf = append(buf, keyJSON...)
		buf = append(buf, `,"value":`...)
		buf = append(buf, rowJSON...)
		buf = append(buf, '}')
	}
	buf = append(buf, ']')
	return buf, nil
}
