package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// canonicalEncode produces a deterministic JSON encoding of body with map
// keys sorted and array order preserved as-is, independent of the checksum field itself.
func canonicalEncode(body Body) ([]byte, error) {
	stripped := body
	stripped.Checksum = ""
	raw, err := json.Marshal(stripped)
	if err != nil {
		return nil, err
	}
	return canonicalizeJSON(raw)
}

// canonicalizeJSON re-marshals arbitrary JSON with every object's keys
// sorted, recursively. encoding/json already sorts map[string]any keys on
// marshal, but struct field order follows Go struct declaration order; we
// round-trip through map[string]any so both cases converge on the same
// canonical byte sequence regardless of the source type's field order.
func canonicalizeJSON(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return marshalSorted(v)
}

func marshalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			out = append(out, kb...)
			out = append(out, ':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		out = append(out, '}')
		return out, nil
	case []any:
		out := []byte{'['}
		for i, elem := range val {
			if i > 0 {
				out = append(out, ',')
			}
			eb, err := marshalSorted(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, eb...)
		}
		out = append(out, ']')
		return out, nil
	default:
		return json.Marshal(val)
	}
}

// checksum hashes the canonical encoding of body (with Checksum cleared)
// using SHA-256, hex-encoded.
func checksum(body Body) (string, error) {
	enc, err := canonicalEncode(body)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(enc)
	return hex.EncodeToString(sum[:]), nil
}
