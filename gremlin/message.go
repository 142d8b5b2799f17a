package gremlin

import (
	"encoding/base64"
	"fmt"

	"github.com/davebshow/gremlingo/internal/wire"
)

// Op is a RequestMessage's operation name (spec §3).
type Op string

const (
	OpEval           Op = "eval"
	OpBytecode       Op = "bytecode"
	OpAuthentication Op = "authentication"
	OpKeys           Op = "keys"
	OpGather         Op = "gather"
	OpClose          Op = "close"
)

// Processor is a RequestMessage's target processor (spec §3).
type Processor string

const (
	ProcessorDefault   Processor = ""
	ProcessorSession   Processor = "session"
	ProcessorTraversal Processor = "traversal"
)

// RequestMessage is the value the Client builds for every submission. A
// SessionedClient sets Processor and adds args.session on it before writing;
// nothing else modifies it. RequestID is assigned when the Connection writes
// the message, not at construction, matching spec §3's "assigned at write
// time."
type RequestMessage struct {
	Op        Op
	Processor Processor
	Args      map[string]any
}

// validate checks the invariants of spec §3:
//
//	op == "authentication" => args.sasl present
//	processor == "session" => args.session present
func (m *RequestMessage) validate() error {
	if m.Op == OpAuthentication {
		if _, ok := m.Args["sasl"]; !ok {
			return &ClientError{Msg: "authentication request missing args.sasl"}
		}
	}
	if m.Processor == ProcessorSession {
		if _, ok := m.Args["session"]; !ok {
			return &ClientError{Msg: "session request missing args.session"}
		}
	}
	return nil
}

// toWire converts the RequestMessage into the wire shape for encoding, under
// the given request ID.
func (m *RequestMessage) toWire(requestID string) *wire.ClientRequest {
	return &wire.ClientRequest{
		RequestID: requestID,
		Op:        string(m.Op),
		Processor: string(m.Processor),
		Args:      m.Args,
	}
}

// EvalRequest builds a RequestMessage for a raw Gremlin script, optionally
// with variable bindings (spec §4.8).
func EvalRequest(script string, bindings map[string]any, aliases map[string]string) *RequestMessage {
	args := map[string]any{"gremlin": script}
	if len(aliases) > 0 {
		args["aliases"] = aliases
	}
	if len(bindings) > 0 {
		args["bindings"] = bindings
	}
	return &RequestMessage{Op: OpEval, Processor: ProcessorDefault, Args: args}
}

// BytecodeRequest builds a RequestMessage carrying pre-compiled traversal
// bytecode (spec §4.8). bytecode is opaque to this package: it is whatever
// the external traversal-bytecode builder produced.
func BytecodeRequest(bytecode any, aliases map[string]string) *RequestMessage {
	args := map[string]any{"gremlin": bytecode}
	if len(aliases) > 0 {
		args["aliases"] = aliases
	}
	return &RequestMessage{Op: OpBytecode, Processor: ProcessorTraversal, Args: args}
}

// authResponse builds the SASL PLAIN response to a 407 challenge
// (spec §4.3, §4.9, §8 property 6): base64("\x00" + user + "\x00" + pass).
func authResponse(username, password string) *RequestMessage {
	payload := append([]byte{0}, username...)
	payload = append(payload, 0)
	payload = append(payload, password...)
	sasl := base64.StdEncoding.EncodeToString(payload)
	return &RequestMessage{
		Op:        OpAuthentication,
		Processor: ProcessorTraversal,
		Args:      map[string]any{"sasl": sasl},
	}
}

// AggregateTo is the server's hint for how to merge chunks of one request
// (spec §3, glossary).
type AggregateTo string

const (
	AggregateList    AggregateTo = "list"
	AggregateSet     AggregateTo = "set"
	AggregateMap     AggregateTo = "map"
	AggregateBulkSet AggregateTo = "bulkset"
	AggregateNone    AggregateTo = "none"
)

// Message is one chunk of a server response (spec §3).
type Message struct {
	RequestID    string
	StatusCode   int
	StatusMsg    string
	Data         any
	Meta         map[string]any
}

func (m *Message) String() string {
	return fmt.Sprintf("Message{requestId: %s, status: %d, data: %v}", m.RequestID, m.StatusCode, m.Data)
}
