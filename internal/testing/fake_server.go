// Package testing provides an in-process fake Gremlin Server for
// Connection/Protocol/ResultSet integration tests, in the shape of the
// teacher SDK's FakeAuthServer: an http.Server wrapped in a small
// Start/Stop-style lifecycle, content rewritten to speak the Gremlin
// subprotocol over a gorilla/websocket upgrade instead of OAuth endpoints.
// Client requests carry the [mime_len][mime][json] header (spec §4.9);
// server responses are bare JSON, matching the real protocol's asymmetry.
package testing

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/davebshow/gremlingo/internal/wire"
)

// ScriptedResponse is one server-side frame to send back for a request.
type ScriptedResponse struct {
	StatusCode int
	StatusMsg  string
	Data       any
	Meta       map[string]any
}

// Handler decides how to respond to one decoded client request. It may be
// called many times across the connection's lifetime and may close over
// mutable state (e.g. to track a SASL challenge/response pair).
type Handler func(req *wire.ClientRequest) []ScriptedResponse

// FakeGremlinServer is an in-process Gremlin Server.
type FakeGremlinServer struct {
	httpServer *httptest.Server
	upgrader   websocket.Upgrader
	handler    Handler

	mu    sync.Mutex
	conns []*websocket.Conn
}

// NewFakeGremlinServer starts listening immediately, dispatching every
// decoded client request to handler.
func NewFakeGremlinServer(handler Handler) *FakeGremlinServer {
	s := &FakeGremlinServer{handler: handler}
	mux := http.NewServeMux()
	mux.HandleFunc("/gremlin", s.handleConn)
	s.httpServer = httptest.NewServer(mux)
	return s
}

// URL returns the ws:// URL of the fake server's /gremlin endpoint.
func (s *FakeGremlinServer) URL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/gremlin"
}

// Close closes every accepted connection and shuts down the listener.
func (s *FakeGremlinServer) Close() {
	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	s.httpServer.Close()
}

func (s *FakeGremlinServer) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_, body, err := wire.DecodeFrame(data)
		if err != nil {
			body = data
		}
		var req wire.ClientRequest
		if err := json.Unmarshal(body, &req); err != nil {
			continue
		}
		for _, resp := range s.handler(&req) {
			frame, err := buildServerFrame(req.RequestID, resp)
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}
}

// buildServerFrame marshals a scripted response as bare JSON: server
// responses carry no [mime_len][mime] header (spec §4.3, §4.9 only frames
// client requests), unlike the client requests this fake server reads off
// the wire.
func buildServerFrame(requestID string, resp ScriptedResponse) ([]byte, error) {
	msg := map[string]any{
		"requestId": requestID,
		"status":    map[string]any{"code": resp.StatusCode, "message": resp.StatusMsg},
		"result":    map[string]any{"data": resp.Data, "meta": resp.Meta},
	}
	return json.Marshal(msg)
}

// ScriptedHandler dispatches by request op, returning the scripted
// responses registered for that op every time it's invoked. Useful for
// fixed, single-shot scenarios (eval, close, a 500 error) that don't need
// cross-call state.
func ScriptedHandler(byOp map[string][]ScriptedResponse) Handler {
	return func(req *wire.ClientRequest) []ScriptedResponse {
		return byOp[req.Op]
	}
}

// SASLPlainHandler answers an "eval"/"bytecode" request with a 407
// challenge once, then validates the client's SASL PLAIN response against
// username/password before replaying success for the original request.
// Drives the auth round-trip scenario: exactly one SASL challenge and
// response frame pair per server; the challenge state is shared by every
// connection to it.
func SASLPlainHandler(username, password string, success []ScriptedResponse) Handler {
	var challenged bool
	return func(req *wire.ClientRequest) []ScriptedResponse {
		if req.Op == "authentication" {
			sasl, _ := req.Args["sasl"].(string)
			raw, err := base64.StdEncoding.DecodeString(sasl)
			want := "\x00" + username + "\x00" + password
			if err == nil && string(raw) == want {
				return success
			}
			return []ScriptedResponse{{StatusCode: 407, StatusMsg: "authentication failed"}}
		}
		if !challenged {
			challenged = true
			return []ScriptedResponse{{StatusCode: 407, StatusMsg: "authentication required"}}
		}
		return success
	}
}
