// Package digest provides the canonical-JSON + xxh3 hashing behind
// pipeline.Digestible: cache keys and values need a stable, order-
// independent fingerprint rather than Go's map-iteration-order-
// sensitive default JSON encoding.
package digest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/zeebo/xxh3"
)

// Canonical marshals v to JSON with map keys sorted and no
// insignificant whitespace, so structurally equal values always
// produce byte-identical output regardless of map iteration order.
func Canonical(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// normalize round-trips v through encoding/json so that map[string]any
// values are re-encoded via json.Marshal's own key-sorting behavior
// for map types, and nested maps/slices are walked uniformly.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return sortedCopy(out), nil
}

func sortedCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(map[string]any, len(t))
		for _, k := range keys {
			ordered[k] = sortedCopy(t[k])
		}
		return ordered
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortedCopy(e)
		}
		return out
	default:
		return t
	}
}

// Hash returns a stable hex digest of v's canonical JSON, using
// xxh3 (zeebo/xxh3) for speed on the value-comparison path in
// Cache.Set.
func Hash(v any) (string, error) {
	canon, err := Canonical(v)
	if err != nil {
		return "", err
	}
	sum := xxh3.Hash(canon)
	return fmt.Sprintf("%016x", sum), nil
}

// Of panics on a marshal error; for use with types known to be
// JSON-safe (no channels, funcs, or cyclic structures), which is the
// only kind of Key/Value this package's callers ever digest.
func Of(v any) string {
	h, err := Hash(v)
	if err != nil {
		panic(fmt.Sprintf("digest: %v is not digestible: %v", v, err))
	}
	return h
}
