package gremlin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// HostConfig parameterizes one Host's pool of Connections (spec §4.6,
// spec.md §6 keys min_connections/max_connections/max_times_acquired/
// max_inflight).
type HostConfig struct {
	URL              string
	MinConns         int
	MaxConns         int
	MaxTimesAcquired int // 0 means unlimited
	MaxInflight      int // sized into each Connection's own semaphore; Host admission does not consult it directly (spec §4.6's admission-control summary)
	ResponseTimeout  time.Duration
	RateLimiter      *rate.Limiter // optional; nil means unthrottled
	NewTransport     func() Transport
	Protocol         *Protocol
	Logger           *slog.Logger
}

// pooledConn is a Host's own bookkeeping for one Connection: how many times
// it is currently checked out, and a monotonic "last used" generation for
// the least-recently-used tiebreak of spec §4.6's get_connection.
type pooledConn struct {
	conn          *Connection
	timesAcquired int
	lastUsed      int64
}

// Lease is a Connection obtained from a Host, paired with enough context
// for the caller to spawn a release_task (spec §4.6/§4.8): the task that
// awaits the request's ResultSet, decrements times_acquired, and drops the
// Connection if it has since closed, dialing a replacement when that leaves
// the pool under min_conns.
type Lease struct {
	Conn *Connection
	host *Host
}

// Release spawns release_task for rs in the background (spec §4.8: "the
// Client ... spawn release_task(rs)").
func (l *Lease) Release(rs *ResultSet) {
	go l.host.release(l.Conn, rs)
}

// Host is a pool of Connections to one Gremlin Server endpoint (spec §4.6).
type Host struct {
	cfg HostConfig

	mu            sync.Mutex
	conns         []*pooledConn
	useCounter    int64
	releaseSignal chan struct{} // closed and replaced on every event that may free up capacity
	closed        bool
}

// NewHost returns a Host that has not yet dialed any Connection; call Open
// to eagerly establish min_connections.
func NewHost(cfg HostConfig) *Host {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Host{cfg: cfg, releaseSignal: make(chan struct{})}
}

// URL returns the endpoint this Host pools connections to.
func (h *Host) URL() string { return h.cfg.URL }

func (h *Host) dial(ctx context.Context) (*Connection, error) {
	t := h.cfg.NewTransport()
	return OpenConnection(ctx, h.cfg.URL, t, h.cfg.Protocol, h.cfg.MaxInflight, h.cfg.ResponseTimeout, h.cfg.Logger)
}

// Open eagerly dials min_connections in parallel (spec §4.6).
func (h *Host) Open(ctx context.Context) error {
	if h.cfg.MinConns <= 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	opened := make([]*Connection, h.cfg.MinConns)
	for i := 0; i < h.cfg.MinConns; i++ {
		i := i
		g.Go(func() error {
			c, err := h.dial(gctx)
			if err != nil {
				return err
			}
			opened[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, c := range opened {
			if c != nil {
				c.Close()
			}
		}
		return err
	}
	h.mu.Lock()
	for _, c := range opened {
		h.conns = append(h.conns, &pooledConn{conn: c})
	}
	h.mu.Unlock()
	return nil
}

// pickLocked returns the live Connection with the fewest timesAcquired,
// ties broken by least recently used (spec §4.6 get_connection step 1).
func (h *Host) pickLocked() *pooledConn {
	var best *pooledConn
	for _, pc := range h.conns {
		if best == nil || pc.timesAcquired < best.timesAcquired ||
			(pc.timesAcquired == best.timesAcquired && pc.lastUsed < best.lastUsed) {
			best = pc
		}
	}
	return best
}

// GetConnection implements spec §4.6's get_connection: pick the
// least-loaded live Connection if it's under max_times_acquired; else open
// a new one under max_conns; else wait for a release or for ctx to end,
// returning ctx.Err() in that case. A closed Host returns PoolExhaustedError.
func (h *Host) GetConnection(ctx context.Context) (*Lease, error) {
	if h.cfg.RateLimiter != nil {
		if err := h.cfg.RateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return nil, &PoolExhaustedError{URL: h.cfg.URL}
		}
		h.reapLocked()

		if best := h.pickLocked(); best != nil && (h.cfg.MaxTimesAcquired <= 0 || best.timesAcquired < h.cfg.MaxTimesAcquired) {
			h.useCounter++
			best.timesAcquired++
			best.lastUsed = h.useCounter
			best.conn.timesAcquired = best.timesAcquired
			h.mu.Unlock()
			return &Lease{Conn: best.conn, host: h}, nil
		}

		if len(h.conns) < h.cfg.MaxConns {
			h.mu.Unlock()
			c, err := h.dial(ctx)
			if err != nil {
				return nil, err
			}
			h.mu.Lock()
			h.useCounter++
			pc := &pooledConn{conn: c, timesAcquired: 1, lastUsed: h.useCounter}
			c.timesAcquired = 1
			h.conns = append(h.conns, pc)
			h.mu.Unlock()
			return &Lease{Conn: c, host: h}, nil
		}

		sig := h.releaseSignal
		h.mu.Unlock()
		select {
		case <-sig:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// release implements release_task (spec §4.6): await rs.Done, decrement
// timesAcquired, and if the Connection has since closed, drop it from the
// pool and open a replacement if that takes the pool under min_conns.
func (h *Host) release(conn *Connection, rs *ResultSet) {
	<-rs.Done()

	h.mu.Lock()
	idx := -1
	for i, pc := range h.conns {
		if pc.conn == conn {
			idx = i
			break
		}
	}
	if idx >= 0 && h.conns[idx].timesAcquired > 0 {
		h.conns[idx].timesAcquired--
	}
	needsReplacement := false
	if idx >= 0 && conn.Closed() {
		h.conns = append(h.conns[:idx], h.conns[idx+1:]...)
		needsReplacement = len(h.conns) < h.cfg.MinConns
	}
	h.broadcastReleaseLocked()
	h.mu.Unlock()

	if !needsReplacement {
		return
	}
	c, err := h.dial(context.Background())
	if err != nil {
		h.cfg.Logger.Warn("gremlin: failed to replace closed connection", "url", h.cfg.URL, "error", err)
		return
	}
	h.mu.Lock()
	h.conns = append(h.conns, &pooledConn{conn: c})
	h.broadcastReleaseLocked()
	h.mu.Unlock()
}

// broadcastReleaseLocked wakes every GetConnection call waiting on this
// Host for more capacity.
func (h *Host) broadcastReleaseLocked() {
	close(h.releaseSignal)
	h.releaseSignal = make(chan struct{})
}

// reapLocked drops Connections that have closed (whether by receive-loop
// failure or explicit Close) out of the pool.
func (h *Host) reapLocked() {
	kept := h.conns[:0]
	for _, pc := range h.conns {
		if pc.conn.Closed() {
			continue
		}
		kept = append(kept, pc)
	}
	h.conns = kept
}

// Close closes every Connection in the pool in parallel and marks the Host
// unusable for further GetConnection calls. Idempotent.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := make([]*Connection, len(h.conns))
	for i, pc := range h.conns {
		conns[i] = pc.conn
	}
	h.conns = nil
	h.broadcastReleaseLocked()
	h.mu.Unlock()

	g := new(errgroup.Group)
	for _, c := range conns {
		c := c
		g.Go(func() error { return c.Close() })
	}
	return g.Wait()
}
