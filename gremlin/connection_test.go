package gremlin

import (
	"context"
	"testing"
	"time"

	"github.com/davebshow/gremlingo/gremlin/graphson"
	itesting "github.com/davebshow/gremlingo/internal/testing"
)

func dialTestConnection(t *testing.T, url string, auth Authenticator) *Connection {
	t.Helper()
	protocol := NewProtocol(graphson.NewV2(), auth)
	conn, err := OpenConnection(context.Background(), url, &WebSocketTransport{}, protocol, 4, time.Second, nil)
	if err != nil {
		t.Fatalf("OpenConnection() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestConnection_EvalRequest_FullResult(t *testing.T) {
	server := itesting.NewFakeGremlinServer(itesting.ScriptedHandler(map[string][]itesting.ScriptedResponse{
		"eval": {{StatusCode: 200, Data: []any{float64(2)}}},
	}))
	t.Cleanup(server.Close)

	conn := dialTestConnection(t, server.URL(), nil)
	rs, err := conn.Write(context.Background(), EvalRequest("1+1", nil, nil))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	msgs, err := rs.All(context.Background())
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("All() returned %d messages, want 1", len(msgs))
	}
}

func TestConnection_ChunkedTraversal_206Then200(t *testing.T) {
	server := itesting.NewFakeGremlinServer(itesting.ScriptedHandler(map[string][]itesting.ScriptedResponse{
		"bytecode": {
			{StatusCode: 206, Data: []any{float64(1), float64(2)}},
			{StatusCode: 200, Data: []any{float64(3)}},
		},
	}))
	t.Cleanup(server.Close)

	conn := dialTestConnection(t, server.URL(), nil)
	rs, err := conn.Write(context.Background(), BytecodeRequest("g.V()", nil))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	msgs, err := rs.All(context.Background())
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("All() returned %d messages, want 2", len(msgs))
	}
}

func TestConnection_NoContent204(t *testing.T) {
	server := itesting.NewFakeGremlinServer(itesting.ScriptedHandler(map[string][]itesting.ScriptedResponse{
		"eval": {{StatusCode: 204}},
	}))
	t.Cleanup(server.Close)

	conn := dialTestConnection(t, server.URL(), nil)
	rs, err := conn.Write(context.Background(), EvalRequest("g.V().drop()", nil, nil))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	msgs, err := rs.All(context.Background())
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("All() returned %d messages, want 0", len(msgs))
	}
}

func TestConnection_ServerErrorRestoresSemaphore(t *testing.T) {
	server := itesting.NewFakeGremlinServer(itesting.ScriptedHandler(map[string][]itesting.ScriptedResponse{
		"eval": {{StatusCode: 597, StatusMsg: "script evaluation error"}},
	}))
	t.Cleanup(server.Close)

	conn := dialTestConnection(t, server.URL(), nil)
	for i := 0; i < 3; i++ {
		rs, err := conn.Write(context.Background(), EvalRequest("bad(", nil, nil))
		if err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if _, err := rs.One(context.Background()); err == nil {
			t.Fatal("One() expected a server error")
		}
		<-rs.Done()
	}
	// The completion handler releases each slot in the background after
	// Done, so give it a moment to run.
	deadline := time.Now().Add(time.Second)
	for conn.Inflight() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if conn.Inflight() != 0 {
		t.Errorf("Inflight() = %d, want 0 after every request completed", conn.Inflight())
	}
}

func TestConnection_AuthRoundTrip(t *testing.T) {
	server := itesting.NewFakeGremlinServer(itesting.SASLPlainHandler("stephen", "password",
		[]itesting.ScriptedResponse{{StatusCode: 200, Data: []any{float64(1)}}}))
	t.Cleanup(server.Close)

	conn := dialTestConnection(t, server.URL(), &PlainAuthenticator{Username: "stephen", Password: "password"})
	rs, err := conn.Write(context.Background(), EvalRequest("1", nil, nil))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	msgs, err := rs.All(context.Background())
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("All() returned %d messages, want 1", len(msgs))
	}
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	server := itesting.NewFakeGremlinServer(itesting.ScriptedHandler(nil))
	t.Cleanup(server.Close)

	conn := dialTestConnection(t, server.URL(), nil)
	if err := conn.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if !conn.Closed() {
		t.Error("Closed() = false after Close()")
	}
}

func TestConnection_ConcurrentSubmitsRespectInflight(t *testing.T) {
	server := itesting.NewFakeGremlinServer(itesting.ScriptedHandler(map[string][]itesting.ScriptedResponse{
		"eval": {{StatusCode: 200, Data: []any{float64(1)}}},
	}))
	t.Cleanup(server.Close)

	protocol := NewProtocol(graphson.NewV2(), nil)
	conn, err := OpenConnection(context.Background(), server.URL(), &WebSocketTransport{}, protocol, 2, time.Second, nil)
	if err != nil {
		t.Fatalf("OpenConnection() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			rs, err := conn.Write(context.Background(), EvalRequest("1", nil, nil))
			if err != nil {
				done <- err
				return
			}
			_, err = rs.All(context.Background())
			done <- err
		}()
	}
	for i := 0; i < 4; i++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent submit %d failed: %v", i, err)
		}
	}
}
