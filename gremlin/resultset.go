package gremlin

import (
	"context"
	"sync"
	"time"
)

// ResultSet is an async cursor over the messages for one request (spec §4.4).
// It is safe for concurrent use by an enqueuer (the Connection's receive
// loop) and a single consumer.
type ResultSet struct {
	requestID string
	timeout   time.Duration // zero means no timeout

	mu          sync.Mutex
	queue       []*Message
	done        bool
	doneCh      chan struct{}
	aggregateTo AggregateTo
	aggregateSet bool
	err         error
}

func newResultSet(requestID string, timeout time.Duration) *ResultSet {
	return &ResultSet{
		requestID: requestID,
		timeout:   timeout,
		doneCh:    make(chan struct{}),
	}
}

// RequestID returns the request this ResultSet was created for.
func (rs *ResultSet) RequestID() string { return rs.requestID }

// Done returns a channel that is closed once no further messages will be
// enqueued, mirroring the one-shot event of spec §3/§4.4.
func (rs *ResultSet) Done() <-chan struct{} { return rs.doneCh }

// AggregateTo returns the aggregate-to hint latched from the first message's
// meta, or "" if no message has arrived yet.
func (rs *ResultSet) AggregateTo() AggregateTo {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.aggregateTo
}

// latchAggregateTo sets aggregate_to at most once per ResultSet (spec §3
// invariant), called by the Protocol on the first frame for this request.
func (rs *ResultSet) latchAggregateTo(v AggregateTo) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.aggregateSet {
		rs.aggregateTo = v
		rs.aggregateSet = true
	}
}

// enqueue appends a message to the queue. A nil message is the terminal
// sentinel: it sets done and closes doneCh, and no further messages may be
// enqueued afterward (spec §3 invariant).
func (rs *ResultSet) enqueue(msg *Message) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.done {
		return
	}
	if msg == nil {
		rs.done = true
		close(rs.doneCh)
		return
	}
	rs.queue = append(rs.queue, msg)
}

// fail enqueues a terminal error, ending the ResultSet without a further
// sentinel (closing it is idempotent with enqueue(nil)).
func (rs *ResultSet) fail(err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.done {
		return
	}
	if rs.err == nil {
		rs.err = err
	}
	rs.done = true
	close(rs.doneCh)
}

func (rs *ResultSet) popLocked() (*Message, bool) {
	if len(rs.queue) == 0 {
		return nil, false
	}
	msg := rs.queue[0]
	rs.queue = rs.queue[1:]
	return msg, true
}

// One returns the next buffered message, waiting up to the ResultSet's
// configured timeout if the queue is empty and not yet done. It returns
// (nil, nil) at normal end of stream. A status code outside {200, 206}
// closes the ResultSet and is surfaced as RequestError or GremlinServerError
// (spec §4.4).
func (rs *ResultSet) One(ctx context.Context) (*Message, error) {
	rs.mu.Lock()
	if msg, ok := rs.popLocked(); ok {
		rs.mu.Unlock()
		return rs.checkStatus(msg)
	}
	if rs.done {
		err := rs.err
		rs.mu.Unlock()
		return nil, err
	}
	rs.mu.Unlock()

	waitCtx := ctx
	var cancel context.CancelFunc
	if rs.timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, rs.timeout)
		defer cancel()
	}

	select {
	case <-rs.doneCh:
		rs.mu.Lock()
		msg, ok := rs.popLocked()
		err := rs.err
		rs.mu.Unlock()
		if ok {
			return rs.checkStatus(msg)
		}
		return nil, err
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		timeoutErr := &ResponseTimeoutError{RequestID: rs.requestID}
		rs.fail(timeoutErr)
		return nil, timeoutErr
	}
}

// checkStatus implements the error_handler wrapper of
// aiogremlin/driver/resultset.py: any status outside {200, 206} closes the
// set and raises, rather than returning the message to the caller.
func (rs *ResultSet) checkStatus(msg *Message) (*Message, error) {
	if msg.StatusCode != 200 && msg.StatusCode != 206 {
		var err error
		if msg.StatusCode >= 500 {
			err = &GremlinServerError{StatusCode: msg.StatusCode, Message: msg.StatusMsg}
		} else {
			err = &RequestError{StatusCode: msg.StatusCode, Message: msg.StatusMsg}
		}
		rs.fail(err)
		return nil, err
	}
	return msg, nil
}

// All drains the ResultSet via One until end of stream or error.
func (rs *ResultSet) All(ctx context.Context) ([]*Message, error) {
	var results []*Message
	for {
		msg, err := rs.One(ctx)
		if err != nil {
			return results, err
		}
		if msg == nil {
			return results, nil
		}
		results = append(results, msg)
	}
}
