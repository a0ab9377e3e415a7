// Package canonical produces the deterministic JSON encoding that command
// signatures are computed over. Two logically equal values always canonicalize
// to the same bytes: object keys are sorted lexicographically at every depth,
// no insignificant whitespace is emitted, and number text survives decode and
// re-encode unchanged.
package canonical

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// enc emits compact JSON with sorted object keys and without HTML escaping,
// so `&`, `<` and `>` appear verbatim in canonical output.
var enc = jsoniter.Config{
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// dec parses into generic values keeping numbers as json.Number, which
// preserves the exact number text across the round trip.
var dec = jsoniter.Config{UseNumber: true}.Froze()

// Marshal returns the canonical encoding of v. It is a pure function: no
// state is read or retained between calls. Values JSON cannot represent
// (channels, funcs, NaN, Inf) are rejected with an error.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := enc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: unsupported value: %w", err)
	}
	return Canonicalize(raw)
}

// MarshalString is Marshal with a string result.
func MarshalString(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Canonicalize re-encodes raw JSON text into canonical form. Struct field
// order, whitespace and key order in the input carry no meaning; only the
// logical value survives.
func Canonicalize(raw []byte) ([]byte, error) {
	var tree interface{}
	if err := dec.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("canonical: invalid JSON input: %w", err)
	}
	out, err := enc.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("canonical: re-encode failed: %w", err)
	}
	return out, nil
}
