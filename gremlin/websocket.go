package gremlin

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport is the Transport implementation used against a real
// Gremlin Server, following the shape of the teacher SDK's
// WebSocketClientTransport/websocketConn: a *websocket.Conn guarded by a
// write mutex, with Close idempotent via sync.Once.
type WebSocketTransport struct {
	Dialer    *websocket.Dialer
	Header    http.Header
	TLSConfig *tls.Config

	mu        sync.Mutex // guards conn and serializes Write
	conn      *websocket.Conn
	closeOnce sync.Once
	closed    bool
}

var _ Transport = (*WebSocketTransport)(nil)

// Connect implements Transport. It is idempotent-replacing: an existing
// connection is closed before dialing the new one (spec §4.1).
func (t *WebSocketTransport) Connect(ctx context.Context, url string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		t.conn.Close()
	}
	t.closeOnce = sync.Once{}
	t.closed = false

	dialer := t.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		dialer = &d
	}
	if t.TLSConfig != nil {
		dialer.TLSClientConfig = t.TLSConfig
	}

	conn, resp, err := dialer.DialContext(ctx, url, t.Header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("gremlin: websocket connect failed: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("gremlin: websocket connect failed: %w", err)
	}
	t.conn = conn
	return nil
}

// Write implements Transport. Writes on one Transport are serialized by the
// mutex, satisfying spec §5's single-Connection write ordering guarantee.
func (t *WebSocketTransport) Write(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return fmt.Errorf("gremlin: write on unconnected transport")
	}
	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("gremlin: websocket write error: %w", err)
	}
	return nil
}

// Read implements Transport, normalizing text frames (UTF-8 decode +
// whitespace trim) as the sole place that normalization happens (spec §4.1).
func (t *WebSocketTransport) Read(ctx context.Context) (Frame, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return Frame{}, fmt.Errorf("gremlin: read on unconnected transport")
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Frame{Kind: FrameClose}, nil
		}
		if err == io.EOF {
			return Frame{Kind: FrameClosed}, nil
		}
		return Frame{Kind: FrameError, Err: err}, err
	}

	switch msgType {
	case websocket.TextMessage:
		return Frame{Kind: FrameText, Data: []byte(strings.TrimSpace(string(data)))}, nil
	default:
		return Frame{Kind: FrameBinary, Data: data}, nil
	}
}

// Close implements Transport. Idempotent.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.closed = true
		if t.conn != nil {
			err = t.conn.Close()
		}
	})
	return err
}

// Closed implements Transport.
func (t *WebSocketTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
