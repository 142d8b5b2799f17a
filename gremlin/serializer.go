package gremlin

import (
	"github.com/davebshow/gremlingo/internal/json"
	"github.com/davebshow/gremlingo/internal/wire"
)

// MessageSerializer is the external collaborator of spec §4.2. It encodes a
// RequestMessage's JSON body and decodes one element of a server result,
// hiding the GraphSON type system (or lack of one, for plain
// application/json) from the rest of this package.
type MessageSerializer interface {
	// MimeType is sent in the frame header (spec §4.9), e.g.
	// "application/vnd.gremlin-v2.0+json".
	MimeType() string
	// EncodeRequest serializes req's JSON body.
	EncodeRequest(req *wire.ClientRequest) ([]byte, error)
	// DecodeResult deserializes a message's result.data, unwrapping any
	// typed GraphSON wrapper.
	DecodeResult(raw json.RawMessage) (any, error)
	// AggregateTo extracts the aggregate-to hint from a message's meta
	// map ("list", "set", "map", "bulkset", "none"; "list" if absent),
	// accounting for the serializer's GraphSON version (spec §4.3, §9).
	AggregateTo(meta map[string]any) string
}
