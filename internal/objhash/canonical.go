package objhash

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Canonical renders v as JSON with object keys sorted and no insignificant
// whitespace. It is used everywhere a hash must be a pure function of
// content: tree entries, commit metadata, stage-run arguments.
//
// encoding/json already sorts map[string]any keys, but struct field order
// follows the Go struct declaration; the marshalled output is therefore
// re-decoded and re-encoded by compact so field order never leaks into the
// hash.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return compact(raw)
}

// compact re-marshals arbitrary JSON through map[string]any/[]any so that
// object keys are lexicographically sorted at every nesting level and all
// whitespace is removed.
func compact(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// CanonicalString is Canonical with a string result, the form used by the
// StageRun id computation (§3: "canonical_json(arguments)").
func CanonicalString(v any) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
