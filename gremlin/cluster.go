package gremlin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Cluster is the round-robin front of one or more Hosts (spec §4.7),
// mirroring aiogremlin's Cluster.get_connection popleft/append rotation.
type Cluster struct {
	config       *Config
	logger       *slog.Logger
	newTransport func() Transport
	auth         Authenticator

	openOnce sync.Once
	openErr  error

	mu     sync.Mutex
	hosts  []*Host
	next   int
	closed bool
}

// NewCluster builds a Cluster from config without dialing anything; call
// Open (or Connect/GetConnection, which open lazily) to establish hosts.
// newTransport defaults to a fresh *WebSocketTransport per Connection. A nil
// auth defaults to a PlainAuthenticator when config sets a Username or
// Password.
func NewCluster(config *Config, newTransport func() Transport, auth Authenticator, logger *slog.Logger) *Cluster {
	if config == nil {
		config = DefaultConfig()
	}
	if auth == nil && (config.Username != "" || config.Password != "") {
		auth = &PlainAuthenticator{Username: config.Username, Password: config.Password}
	}
	if newTransport == nil {
		newTransport = func() Transport { return &WebSocketTransport{} }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cluster{config: config, newTransport: newTransport, auth: auth, logger: logger}
}

// Config returns the cluster's configuration.
func (cl *Cluster) Config() *Config { return cl.config }

// Open establishes every host named in config.Hosts (spec §4.7's
// establish_hosts). Safe to call more than once; only the first call dials.
func (cl *Cluster) Open(ctx context.Context) error {
	cl.openOnce.Do(func() {
		cl.openErr = cl.doOpen(ctx)
	})
	return cl.openErr
}

func (cl *Cluster) doOpen(ctx context.Context) error {
	protocol := NewProtocol(cl.config.MessageSerializer, cl.auth)
	hosts := make([]*Host, len(cl.config.Hosts))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range cl.config.Hosts {
		i, h := i, h
		g.Go(func() error {
			url := fmt.Sprintf("%s://%s:%d/gremlin", cl.config.Scheme, h, cl.config.Port)
			host := NewHost(HostConfig{
				URL:              url,
				MinConns:         cl.config.MinConns,
				MaxConns:         cl.config.MaxConns,
				MaxTimesAcquired: cl.config.MaxTimesAcquired,
				MaxInflight:      cl.config.MaxInflight,
				ResponseTimeout:  cl.config.ResponseTimeout,
				NewTransport:     cl.newTransport,
				Protocol:         protocol,
				Logger:           cl.logger,
			})
			if err := host.Open(gctx); err != nil {
				return err
			}
			hosts[i] = host
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, h := range hosts {
			if h != nil {
				h.Close()
			}
		}
		return err
	}
	cl.mu.Lock()
	cl.hosts = hosts
	cl.mu.Unlock()
	cl.logger.Info("gremlin: cluster established", "hosts", len(hosts))
	return nil
}

// GetConnection returns a Lease from the next host in rotation (spec §4.7),
// lazily opening the cluster on first use.
func (cl *Cluster) GetConnection(ctx context.Context) (*Lease, error) {
	if err := cl.Open(ctx); err != nil {
		return nil, err
	}
	cl.mu.Lock()
	if cl.closed || len(cl.hosts) == 0 {
		cl.mu.Unlock()
		return nil, &ClientError{Msg: "cluster has no hosts available"}
	}
	idx := cl.next
	cl.next = (cl.next + 1) % len(cl.hosts)
	host := cl.hosts[idx]
	cl.mu.Unlock()
	return host.GetConnection(ctx)
}

// Connect returns a ready-to-use Client bound to this Cluster (spec §4.7,
// §4.8), the Go analog of aiogremlin's Cluster.connect. A nil aliases map
// falls back to the cluster's configured default aliases.
func (cl *Cluster) Connect(ctx context.Context, aliases map[string]string) (*Client, error) {
	if err := cl.Open(ctx); err != nil {
		return nil, err
	}
	if aliases == nil {
		aliases = cl.config.Aliases
	}
	return newClient(cl, aliases), nil
}

// Close closes every host in parallel (spec §4.7). Idempotent.
func (cl *Cluster) Close() error {
	cl.mu.Lock()
	if cl.closed {
		cl.mu.Unlock()
		return nil
	}
	cl.closed = true
	hosts := cl.hosts
	cl.hosts = nil
	cl.mu.Unlock()

	g := new(errgroup.Group)
	for _, h := range hosts {
		h := h
		g.Go(func() error { return h.Close() })
	}
	return g.Wait()
}
