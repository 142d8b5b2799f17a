// Package graphson implements the MessageSerializer contract of spec §4.2
// for the GraphSON v2 wire format: a typed {"@type": "...", "@value": ...}
// envelope around list/map/set results, decoded with the segmentio-backed
// internal/json (the enclosing server frame is strict-decoded by
// internal/wire before its result payload reaches this package).
package graphson

import (
	"fmt"

	"github.com/davebshow/gremlingo/internal/json"
	"github.com/davebshow/gremlingo/internal/wire"
)

const mimeTypeV2 = "application/vnd.gremlin-v2.0+json"
const mimeTypeV1 = "application/json"

// typedValue is GraphSON's typed envelope: {"@type": "g:List", "@value": [...]}.
type typedValue struct {
	Type  string          `json:"@type"`
	Value json.RawMessage `json:"@value"`
}

// V2Serializer implements gremlin.MessageSerializer for GraphSON v2, the
// default per spec §6 (message_serializer).
type V2Serializer struct{}

// NewV2 returns the default GraphSON v2 MessageSerializer.
func NewV2() *V2Serializer { return &V2Serializer{} }

func (s *V2Serializer) MimeType() string { return mimeTypeV2 }

func (s *V2Serializer) EncodeRequest(req *wire.ClientRequest) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeResult unwraps a GraphSON v2 typed value, falling back to plain JSON
// decoding for untyped data (spec §4.3: "data is a typed wrapper whose
// @value is the actual list; the Protocol must unwrap before enqueueing").
func (s *V2Serializer) DecodeResult(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var tv typedValue
	if err := json.Unmarshal(raw, &tv); err == nil && tv.Type != "" {
		var v any
		if err := json.Unmarshal(tv.Value, &v); err != nil {
			return nil, fmt.Errorf("graphson: decode @value for %s: %w", tv.Type, err)
		}
		return unwrapTypedTree(v), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("graphson: decode result: %w", err)
	}
	return unwrapTypedTree(v), nil
}

// unwrapTypedTree recursively unwraps nested typed values inside decoded
// maps/slices, since a list of vertices is itself a list of typed envelopes.
func unwrapTypedTree(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if typ, ok := t["@type"].(string); ok {
			if val, ok := t["@value"]; ok {
				return unwrapTypedTree(val)
			}
			_ = typ
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = unwrapTypedTree(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = unwrapTypedTree(val)
		}
		return out
	default:
		return t
	}
}

// AggregateTo implements spec §4.3's GraphSON-v2 rule: the hint is read from
// meta["@value"][1] of a typed meta envelope, defaulting to "list" when
// absent (spec §9's documented Open Question resolution). A meta map with a
// plain "aggregateTo" key (a string, or a typed ["g:...", value] pair) is
// also accepted.
func (s *V2Serializer) AggregateTo(meta map[string]any) string {
	if meta == nil {
		return "list"
	}
	if pair, ok := meta["@value"].([]any); ok && len(pair) >= 2 {
		if s, ok := pair[1].(string); ok {
			return s
		}
	}
	raw, ok := meta["aggregateTo"]
	if !ok {
		return "list"
	}
	if pair, ok := raw.([]any); ok && len(pair) == 2 {
		if s, ok := pair[1].(string); ok {
			return s
		}
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return "list"
}

// V1Serializer implements gremlin.MessageSerializer for plain
// application/json (GraphSON v1 shape): untyped data, meta.aggregateTo read
// directly as a string (spec §4.3).
type V1Serializer struct{}

// NewV1 returns a plain-JSON MessageSerializer.
func NewV1() *V1Serializer { return &V1Serializer{} }

func (s *V1Serializer) MimeType() string { return mimeTypeV1 }

func (s *V1Serializer) EncodeRequest(req *wire.ClientRequest) ([]byte, error) {
	return json.Marshal(req)
}

func (s *V1Serializer) DecodeResult(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("graphson: decode v1 result: %w", err)
	}
	return v, nil
}

func (s *V1Serializer) AggregateTo(meta map[string]any) string {
	if meta == nil {
		return "list"
	}
	if s, ok := meta["aggregateTo"].(string); ok && s != "" {
		return s
	}
	return "list"
}
