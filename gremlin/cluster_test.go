package gremlin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	itesting "github.com/davebshow/gremlingo/internal/testing"
)

// splitFakeServerAddr pulls the bare host and numeric port off a fake
// server's ws://host:port/gremlin URL, the shape Cluster.doOpen rebuilds
// from config.Hosts/config.Port.
func splitFakeServerAddr(t *testing.T, wsURL string) (host string, port int) {
	t.Helper()
	addr := strings.TrimSuffix(strings.TrimPrefix(wsURL, "ws://"), "/gremlin")
	parts := strings.SplitN(addr, ":", 2)
	if len(parts) != 2 {
		t.Fatalf("unexpected fake server URL %q", wsURL)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		t.Fatalf("unexpected fake server port in %q: %v", wsURL, err)
	}
	return parts[0], port
}

// newSingleHostCluster points a Cluster at one already-running fake server
// (tests run the fake server on a random httptest port, not the driver's
// default 8182).
func newSingleHostCluster(t *testing.T, server *itesting.FakeGremlinServer, minConns, maxConns int) *Cluster {
	t.Helper()
	host, port := splitFakeServerAddr(t, server.URL())
	config := DefaultConfig()
	config.Hosts = []string{host}
	config.Scheme = "ws"
	config.Port = port
	config.MinConns = minConns
	config.MaxConns = maxConns
	cl := NewCluster(config, func() Transport { return &WebSocketTransport{} }, nil, nil)
	return cl
}

// TestCluster_RoundRobinAcrossHosts builds its Hosts directly (rather than
// through Cluster.Open/doOpen's single shared scheme:port template), since
// each fake server listens on its own random port and the real URL-building
// logic assumes one config.Port shared by every host.
func TestCluster_RoundRobinAcrossHosts(t *testing.T) {
	config := DefaultConfig()
	cl := NewCluster(config, func() Transport { return &WebSocketTransport{} }, nil, nil)
	t.Cleanup(func() { cl.Close() })
	// Hosts are wired in directly below, so suppress doOpen's own dial
	// against config.Hosts' unreachable default (localhost:8182).
	cl.openOnce.Do(func() {})

	protocol := NewProtocol(config.MessageSerializer, nil)
	var servers []*itesting.FakeGremlinServer
	for i := 0; i < 3; i++ {
		s := itesting.NewFakeGremlinServer(itesting.ScriptedHandler(nil))
		t.Cleanup(s.Close)
		servers = append(servers, s)

		host := NewHost(HostConfig{
			URL:          s.URL(),
			MinConns:     1,
			MaxConns:     1,
			NewTransport: func() Transport { return &WebSocketTransport{} },
			Protocol:     protocol,
		})
		if err := host.Open(context.Background()); err != nil {
			t.Fatalf("host.Open() error = %v", err)
		}
		cl.hosts = append(cl.hosts, host)
	}

	seen := make(map[string]bool)
	for i := 0; i < len(servers); i++ {
		lease, err := cl.GetConnection(context.Background())
		if err != nil {
			t.Fatalf("GetConnection() #%d error = %v", i, err)
		}
		seen[lease.Conn.URL()] = true
	}
	if len(seen) != len(servers) {
		t.Fatalf("round robin visited %d distinct hosts, want %d", len(seen), len(servers))
	}
}

func TestCluster_Connect_ReturnsUsableClient(t *testing.T) {
	server := itesting.NewFakeGremlinServer(itesting.ScriptedHandler(map[string][]itesting.ScriptedResponse{
		"eval": {{StatusCode: 200, Data: []any{float64(4)}}},
	}))
	t.Cleanup(server.Close)

	cl := newSingleHostCluster(t, server, 1, 2)
	t.Cleanup(func() { cl.Close() })

	client, err := cl.Connect(context.Background(), nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	rs, err := client.Submit(context.Background(), "2+2", nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	msgs, err := rs.All(context.Background())
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("All() returned %d messages, want 1", len(msgs))
	}
}

func TestCluster_Close_IsIdempotent(t *testing.T) {
	server := itesting.NewFakeGremlinServer(itesting.ScriptedHandler(nil))
	t.Cleanup(server.Close)

	cl := newSingleHostCluster(t, server, 1, 1)
	if _, err := cl.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := cl.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := cl.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if _, err := cl.GetConnection(context.Background()); err == nil {
		t.Fatal("GetConnection() after Close() should fail")
	}
}

func TestCluster_Open_FailsFastOnUnreachableHost(t *testing.T) {
	// An httptest server that never speaks the websocket upgrade; dialing it
	// must fail instead of hanging establish_hosts forever.
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(httpSrv.Close)

	host, port := splitFakeServerAddr(t, "ws://"+strings.TrimPrefix(httpSrv.URL, "http://")+"/gremlin")
	config := DefaultConfig()
	config.Hosts = []string{host}
	config.Scheme = "ws"
	config.Port = port
	config.MinConns = 1
	config.MaxConns = 1

	cl := NewCluster(config, func() Transport { return &WebSocketTransport{} }, nil, nil)
	t.Cleanup(func() { cl.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := cl.Open(ctx); err == nil {
		t.Fatal("Open() expected an error dialing a non-websocket endpoint")
	}
}
