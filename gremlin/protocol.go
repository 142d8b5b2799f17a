package gremlin

import (
	"fmt"
	"sync"

	"github.com/davebshow/gremlingo/internal/wire"
)

// resultSetRegistry is the map from requestId to ResultSet that a
// Connection owns and the Protocol dispatches into (spec §3 Connection
// invariant: result_sets entries exist iff the request is written and not
// terminated). Single-writer semantics (spec §5) are enforced by the
// Connection: only its receive loop and its Write method touch this.
type resultSetRegistry interface {
	lookup(requestID string) (*ResultSet, bool)
	// writeAuth sends an authentication RequestMessage on the same
	// Connection, without allocating a new ResultSet for it (the 407
	// response carries the same requestId as the original request, per
	// spec §4.3).
	writeAuth(requestID string, req *RequestMessage) error
}

// Protocol is the stateless translator between serialized frames and
// (requestId, Message) events (spec §4.3). It holds no per-connection
// state: it is safe to share one Protocol across many Connections as long
// as they don't share a resultSetRegistry.
type Protocol struct {
	serializer MessageSerializer
	auth       Authenticator
	mu         sync.Mutex // guards authAttempted
	authAttempted map[string]bool
}

// NewProtocol returns a Protocol using serializer to encode/decode frames
// and auth (may be nil) to answer 407 SASL challenges.
func NewProtocol(serializer MessageSerializer, auth Authenticator) *Protocol {
	return &Protocol{
		serializer:    serializer,
		auth:          auth,
		authAttempted: make(map[string]bool),
	}
}

// Encode serializes req into a wire frame (spec §4.3 encode).
func (p *Protocol) Encode(requestID string, req *RequestMessage) ([]byte, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	body, err := p.serializer.EncodeRequest(req.toWire(requestID))
	if err != nil {
		return nil, fmt.Errorf("gremlin: encode request: %w", err)
	}
	return wire.EncodeFrame(p.serializer.MimeType(), body)
}

// OnFrame decodes one server frame and dispatches it into the ResultSet
// registered for its requestId, per the status-code table of spec §4.3/§6.
// A requestId with no registered ResultSet is an orphan and is dropped.
//
// The [mime_len][mime][json] header (spec §4.9) is only written on client
// requests; server responses are bare JSON (spec §4.3, aiogremlin's
// Connection._receive/data_received never strips anything on reads), so
// this decodes frameBytes as JSON directly without going through
// wire.DecodeFrame.
func (p *Protocol) OnFrame(frameBytes []byte, registry resultSetRegistry) error {
	msg, err := wire.DecodeMessage(frameBytes)
	if err != nil {
		return &ProtocolError{Msg: err.Error()}
	}

	rs, ok := registry.lookup(msg.RequestID)
	if !ok {
		return nil // orphan frame: drop
	}

	rs.latchAggregateTo(AggregateTo(p.serializer.AggregateTo(msg.Result.Meta)))

	switch msg.Status.Code {
	case 200:
		data, err := p.serializer.DecodeResult(msg.Result.Data)
		if err != nil {
			rs.fail(&ProtocolError{Msg: err.Error()})
			return nil
		}
		rs.enqueue(&Message{RequestID: msg.RequestID, StatusCode: 200, StatusMsg: msg.Status.Message, Data: data, Meta: msg.Result.Meta})
		rs.enqueue(nil)
	case 204:
		rs.enqueue(nil)
	case 206:
		data, err := p.serializer.DecodeResult(msg.Result.Data)
		if err != nil {
			rs.fail(&ProtocolError{Msg: err.Error()})
			return nil
		}
		rs.enqueue(&Message{RequestID: msg.RequestID, StatusCode: 206, StatusMsg: msg.Status.Message, Data: data, Meta: msg.Result.Meta})
	case 407:
		return p.handleAuth(msg.RequestID, registry)
	default:
		rs.enqueue(&Message{RequestID: msg.RequestID, StatusCode: msg.Status.Code, StatusMsg: msg.Status.Message})
		rs.enqueue(nil)
	}
	return nil
}

// handleAuth answers a 407 challenge exactly once per requestId; a second
// 407 for the same request is surfaced as a RequestError to avoid an
// infinite authentication loop (spec §7).
func (p *Protocol) handleAuth(requestID string, registry resultSetRegistry) error {
	p.mu.Lock()
	already := p.authAttempted[requestID]
	p.authAttempted[requestID] = true
	p.mu.Unlock()

	rs, ok := registry.lookup(requestID)
	if !ok {
		return nil
	}

	if already {
		err := &RequestError{StatusCode: 407, Message: "authentication failed"}
		rs.fail(err)
		return nil
	}

	if p.auth == nil {
		err := &RequestError{StatusCode: 407, Message: "server requires authentication but none is configured"}
		rs.fail(err)
		return nil
	}

	authReq, err := p.auth.Authenticate()
	if err != nil {
		rs.fail(&ConnectError{Err: err})
		return nil
	}
	return registry.writeAuth(requestID, authReq)
}
