package gremlin

import (
	"context"

	"github.com/google/uuid"
)

// Client is the public façade over a Cluster: it builds RequestMessages
// from scripts or bytecode, obtains a Connection via round robin, and
// writes the request (spec §4.8, `aiogremlin/driver/client.py: Client`).
type Client struct {
	cluster     *Cluster
	aliases     map[string]string
	sessionArgs map[string]any // non-nil only for a SessionedClient
}

func newClient(cluster *Cluster, aliases map[string]string) *Client {
	return &Client{cluster: cluster, aliases: aliases}
}

// Cluster returns the Cluster this Client submits through.
func (c *Client) Cluster() *Cluster { return c.cluster }

// Aliases returns this Client's configured alias map.
func (c *Client) Aliases() map[string]string { return c.aliases }

// WithAliases returns a new Client sharing the same Cluster but with a
// different alias map (spec.md supplemented feature 1; aiogremlin's
// Client.alias).
func (c *Client) WithAliases(aliases map[string]string) *Client {
	return &Client{cluster: c.cluster, aliases: aliases, sessionArgs: c.sessionArgs}
}

// Close closes the underlying Cluster (spec.md supplemented feature 2;
// aiogremlin's Client.close).
func (c *Client) Close() error {
	return c.cluster.Close()
}

// Submit sends a raw Gremlin script with optional variable bindings
// (spec §4.8).
func (c *Client) Submit(ctx context.Context, script string, bindings map[string]any) (*ResultSet, error) {
	return c.submitRequest(ctx, EvalRequest(script, bindings, c.aliases))
}

// SubmitBytecode sends pre-compiled traversal bytecode (spec §4.8).
// bytecode is opaque to this package.
func (c *Client) SubmitBytecode(ctx context.Context, bytecode any) (*ResultSet, error) {
	return c.submitRequest(ctx, BytecodeRequest(bytecode, c.aliases))
}

// SubmitRequest sends a fully-built RequestMessage as-is (spec §4.8's third
// input form), for ops this package doesn't build a constructor for — keys,
// gather, close (message.go's OpKeys/OpGather/OpClose). The Client still
// layers its session args on top for a SessionedClient, but does not touch
// req.Args otherwise.
func (c *Client) SubmitRequest(ctx context.Context, req *RequestMessage) (*ResultSet, error) {
	return c.submitRequest(ctx, req)
}

func (c *Client) submitRequest(ctx context.Context, req *RequestMessage) (*ResultSet, error) {
	if c.sessionArgs != nil {
		req.Processor = ProcessorSession
		for k, v := range c.sessionArgs {
			req.Args[k] = v
		}
	}
	lease, err := c.cluster.GetConnection(ctx)
	if err != nil {
		return nil, err
	}
	rs, err := lease.Conn.Write(ctx, req)
	if err != nil {
		return nil, err
	}
	lease.Release(rs)
	return rs, nil
}

// SessionedClient fixes processor=session and a stable session id across
// every request it submits (spec §4.8; spec.md supplemented feature 3,
// grounded on the commented-out session branch of
// `aiogremlin/driver/cluster.py: Cluster.connect`).
type SessionedClient struct {
	*Client
	SessionID string
}

// NewSessionedClient returns a SessionedClient bound to a fresh session id,
// submitting every request through cluster with processor=session.
func NewSessionedClient(cluster *Cluster, aliases map[string]string) *SessionedClient {
	sessionID := uuid.New().String()
	base := newClient(cluster, aliases)
	base.sessionArgs = map[string]any{"session": sessionID}
	return &SessionedClient{Client: base, SessionID: sessionID}
}
