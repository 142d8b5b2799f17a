package gremlin

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	errConnectionClosed        = errors.New("connection closed")
	errConnectionClosedByPeer  = errors.New("connection closed by server")
)

// Connection multiplexes many in-flight requests over one Transport via a
// single receive loop and a per-request ResultSet (spec §4.5). It
// implements resultSetRegistry so the Protocol can dispatch into it without
// depending on the Connection's own concrete type.
type Connection struct {
	url       string
	transport Transport
	protocol  *Protocol
	logger    *slog.Logger

	sem chan struct{} // inflight semaphore; buffered to maxInflight

	mu         sync.Mutex
	resultSets map[string]*ResultSet
	closed     bool

	// timesAcquired is mutated only by the owning Host (spec §3 Connection
	// invariant); this package's Host type is the only code outside this
	// file that touches it, and it does so under its own pool mutex.
	timesAcquired int

	responseTimeout time.Duration
	closeOnce       sync.Once
	receiveDone     chan struct{}
}

// OpenConnection dials transport and spawns the Connection's single receive
// loop (spec §4.5 step 1-4).
func OpenConnection(ctx context.Context, url string, transport Transport, protocol *Protocol, maxInflight int, responseTimeout time.Duration, logger *slog.Logger) (*Connection, error) {
	if err := transport.Connect(ctx, url); err != nil {
		return nil, &ConnectError{URL: url, Err: err}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxInflight <= 0 {
		maxInflight = 64
	}
	c := &Connection{
		url:             url,
		transport:       transport,
		protocol:        protocol,
		logger:          logger,
		sem:             make(chan struct{}, maxInflight),
		resultSets:      make(map[string]*ResultSet),
		responseTimeout: responseTimeout,
		receiveDone:     make(chan struct{}),
	}
	go c.receiveLoop()
	return c, nil
}

// URL returns the host endpoint this Connection is (or was) dialed to.
func (c *Connection) URL() string { return c.url }

// Inflight reports the number of inflight slots currently held on this
// Connection. A slot is released by a background completion handler shortly
// after its ResultSet is done, not synchronously with Done.
func (c *Connection) Inflight() int { return len(c.sem) }

// Closed reports whether this Connection has been closed, locally or
// because the receive loop observed a transport failure.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// receiveLoop is the Connection's single background reader (spec §4.5
// step 3, spec §5 single-writer requirement on result_sets).
func (c *Connection) receiveLoop() {
	defer close(c.receiveDone)
	ctx := context.Background()
	for {
		frame, err := c.transport.Read(ctx)
		if err != nil {
			c.terminate(&ConnectError{URL: c.url, Err: err})
			return
		}
		switch frame.Kind {
		case FrameClose, FrameClosed:
			c.terminate(&ConnectError{URL: c.url, Err: errConnectionClosedByPeer})
			return
		case FrameError:
			c.terminate(&ConnectError{URL: c.url, Err: frame.Err})
			return
		default:
			if err := c.protocol.OnFrame(frame.Data, c); err != nil {
				c.logger.Warn("gremlin: malformed frame, closing connection", "url", c.url, "error", err)
				c.terminate(&ConnectError{URL: c.url, Err: err})
				return
			}
		}
	}
}

// terminate marks the Connection closed, fails every outstanding
// ResultSet (spec §4.5 close step, §7 propagation policy), and closes the
// transport. It runs at most once regardless of caller (idempotent close,
// spec §8 property 5).
func (c *Connection) terminate(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		snapshot := make([]*ResultSet, 0, len(c.resultSets))
		for _, rs := range c.resultSets {
			snapshot = append(snapshot, rs)
		}
		c.mu.Unlock()
		for _, rs := range snapshot {
			rs.fail(err)
		}
		c.transport.Close()
	})
}

// Close cancels the receive loop, closes the transport, and fails all
// outstanding ResultSets (spec §4.5). Idempotent.
func (c *Connection) Close() error {
	c.terminate(&ConnectError{URL: c.url, Err: errConnectionClosed})
	<-c.receiveDone
	return nil
}

// Write submits req, returning its ResultSet (spec §4.5 write). It acquires
// the inflight semaphore first, so this call blocks once maxInflight
// requests are outstanding on this Connection (the backpressure gate).
func (c *Connection) Write(ctx context.Context, req *RequestMessage) (*ResultSet, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	release := func() { <-c.sem }

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		release()
		return nil, &ConnectError{URL: c.url, Err: errConnectionClosed}
	}

	if c.transport.Closed() {
		if err := c.transport.Connect(ctx, c.url); err != nil {
			release()
			return nil, &ConnectError{URL: c.url, Err: err}
		}
	}

	requestID := uuid.New().String()
	frame, err := c.protocol.Encode(requestID, req)
	if err != nil {
		release()
		return nil, err
	}
	if err := c.transport.Write(ctx, frame); err != nil {
		release()
		return nil, &ConnectError{URL: c.url, Err: err}
	}

	rs := newResultSet(requestID, c.responseTimeout)
	c.mu.Lock()
	_, collision := c.resultSets[requestID]
	assert(!collision, "gremlin: uuid collision in result_sets")
	c.resultSets[requestID] = rs
	c.mu.Unlock()

	go c.completionHandler(requestID, rs, release)
	return rs, nil
}

// completionHandler awaits rs.Done, removes it from the registry, and
// releases the inflight slot (spec §4.5 step 6, §8 property 2: every
// acquire is paired with exactly one release on any termination path).
func (c *Connection) completionHandler(requestID string, rs *ResultSet, release func()) {
	<-rs.Done()
	c.mu.Lock()
	delete(c.resultSets, requestID)
	c.mu.Unlock()
	release()
}

// lookup implements resultSetRegistry.
func (c *Connection) lookup(requestID string) (*ResultSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rs, ok := c.resultSets[requestID]
	return rs, ok
}

// writeAuth implements resultSetRegistry: it answers a 407 challenge on the
// same requestId, without creating a new ResultSet entry (spec §4.3).
func (c *Connection) writeAuth(requestID string, req *RequestMessage) error {
	frame, err := c.protocol.Encode(requestID, req)
	if err != nil {
		return err
	}
	return c.transport.Write(context.Background(), frame)
}

var _ resultSetRegistry = (*Connection)(nil)
