package gremlin

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/davebshow/gremlingo/gremlin/graphson"
)

type fakeRegistry struct {
	sets      map[string]*ResultSet
	authWrote []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{sets: make(map[string]*ResultSet)}
}

func (f *fakeRegistry) lookup(requestID string) (*ResultSet, bool) {
	rs, ok := f.sets[requestID]
	return rs, ok
}

func (f *fakeRegistry) writeAuth(requestID string, req *RequestMessage) error {
	f.authWrote = append(f.authWrote, requestID)
	return nil
}

// buildFrame builds a bare-JSON server response, matching the real
// protocol: unlike client requests, server frames carry no
// [mime_len][mime] header (spec §4.3, §4.9).
func buildFrame(t *testing.T, requestID string, statusCode int, data any) []byte {
	t.Helper()
	msg := map[string]any{
		"requestId": requestID,
		"status":    map[string]any{"code": statusCode, "message": ""},
		"result":    map[string]any{"data": data, "meta": map[string]any{}},
	}
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func TestProtocol_OnFrame_SuccessTerminates(t *testing.T) {
	p := NewProtocol(graphson.NewV2(), nil)
	reg := newFakeRegistry()
	rs := newResultSet("req-1", 0)
	reg.sets["req-1"] = rs

	frame := buildFrame(t, "req-1", 200, []any{1, 2})
	if err := p.OnFrame(frame, reg); err != nil {
		t.Fatalf("OnFrame() error = %v", err)
	}
	select {
	case <-rs.Done():
	default:
		t.Fatal("ResultSet should be done after a 200 status")
	}
}

func TestProtocol_OnFrame_PartialDoesNotTerminate(t *testing.T) {
	p := NewProtocol(graphson.NewV2(), nil)
	reg := newFakeRegistry()
	rs := newResultSet("req-1", 0)
	reg.sets["req-1"] = rs

	frame := buildFrame(t, "req-1", 206, []any{1})
	if err := p.OnFrame(frame, reg); err != nil {
		t.Fatalf("OnFrame() error = %v", err)
	}
	select {
	case <-rs.Done():
		t.Fatal("ResultSet should not be done after a 206 partial")
	default:
	}
}

func TestProtocol_OnFrame_NoContentTerminatesWithoutMessage(t *testing.T) {
	p := NewProtocol(graphson.NewV2(), nil)
	reg := newFakeRegistry()
	rs := newResultSet("req-1", 0)
	reg.sets["req-1"] = rs

	frame := buildFrame(t, "req-1", 204, nil)
	if err := p.OnFrame(frame, reg); err != nil {
		t.Fatalf("OnFrame() error = %v", err)
	}
	msg, err := rs.One(context.Background())
	if err != nil || msg != nil {
		t.Fatalf("One() after 204 = (%v, %v), want (nil, nil)", msg, err)
	}
}

func TestProtocol_OnFrame_ServerErrorPropagates(t *testing.T) {
	p := NewProtocol(graphson.NewV2(), nil)
	reg := newFakeRegistry()
	rs := newResultSet("req-1", 0)
	reg.sets["req-1"] = rs

	frame := buildFrame(t, "req-1", 597, nil)
	if err := p.OnFrame(frame, reg); err != nil {
		t.Fatalf("OnFrame() error = %v", err)
	}
	_, err := rs.One(context.Background())
	var serverErr *GremlinServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("One() error = %v, want *GremlinServerError", err)
	}
}

func TestProtocol_OnFrame_OrphanRequestIsDropped(t *testing.T) {
	p := NewProtocol(graphson.NewV2(), nil)
	reg := newFakeRegistry()

	frame := buildFrame(t, "no-such-request", 200, nil)
	if err := p.OnFrame(frame, reg); err != nil {
		t.Fatalf("OnFrame() error = %v, want nil for an orphan frame", err)
	}
}

func TestProtocol_HandleAuth_AnswersOnce(t *testing.T) {
	p := NewProtocol(graphson.NewV2(), &PlainAuthenticator{Username: "stephen", Password: "password"})
	reg := newFakeRegistry()
	rs := newResultSet("req-1", 0)
	reg.sets["req-1"] = rs

	frame := buildFrame(t, "req-1", 407, nil)
	if err := p.OnFrame(frame, reg); err != nil {
		t.Fatalf("OnFrame() error = %v", err)
	}
	if len(reg.authWrote) != 1 {
		t.Fatalf("writeAuth called %d times, want 1", len(reg.authWrote))
	}
	select {
	case <-rs.Done():
		t.Fatal("ResultSet should still be open awaiting the auth response")
	default:
	}
}

func TestProtocol_HandleAuth_SecondChallengeFails(t *testing.T) {
	p := NewProtocol(graphson.NewV2(), &PlainAuthenticator{Username: "stephen", Password: "password"})
	reg := newFakeRegistry()
	rs := newResultSet("req-1", 0)
	reg.sets["req-1"] = rs

	frame := buildFrame(t, "req-1", 407, nil)
	if err := p.OnFrame(frame, reg); err != nil {
		t.Fatalf("first OnFrame() error = %v", err)
	}
	if err := p.OnFrame(frame, reg); err != nil {
		t.Fatalf("second OnFrame() error = %v", err)
	}
	_, err := rs.One(context.Background())
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("One() error = %v, want *RequestError", err)
	}
}

func TestProtocol_HandleAuth_NoAuthenticatorConfigured(t *testing.T) {
	p := NewProtocol(graphson.NewV2(), nil)
	reg := newFakeRegistry()
	rs := newResultSet("req-1", 0)
	reg.sets["req-1"] = rs

	frame := buildFrame(t, "req-1", 407, nil)
	if err := p.OnFrame(frame, reg); err != nil {
		t.Fatalf("OnFrame() error = %v", err)
	}
	_, err := rs.One(context.Background())
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("One() error = %v, want *RequestError", err)
	}
}

func TestProtocol_Encode_RejectsInvalidRequest(t *testing.T) {
	p := NewProtocol(graphson.NewV2(), nil)
	req := &RequestMessage{Op: OpAuthentication, Args: map[string]any{}}
	if _, err := p.Encode("req-1", req); err == nil {
		t.Fatal("Encode() expected an error for an authentication request missing args.sasl")
	}
}
