package firehose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"friendclub/internal/observability"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second

	// Jetstream pings every 30s; a minute of silence means the link is dead.
	readTimeout = 60 * time.Second

	// Replay window applied to the resume cursor on reconnect.
	cursorRewind = 2 * time.Second
)

// Sink receives every decoded event in delivery order. It runs on the read
// goroutine and must not block for long.
type Sink func(*Event)

// Client keeps one filtered subscription open, reconnecting forever with
// exponential backoff until stopped.
type Client struct {
	endpoint string
	dialer   *websocket.Dialer

	initialDelay time.Duration
	maxDelay     time.Duration

	// microsecond timestamp of the last delivered event, 0 before the first
	lastTimeUS atomic.Int64

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// Option configures a Client.
type Option func(*Client)

// WithBackoff overrides the reconnect delays.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		c.initialDelay = initial
		c.maxDelay = max
	}
}

// NewClient creates a client for a Jetstream subscribe endpoint such as
// wss://jetstream2.us-east.bsky.network/subscribe.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		dialer: &websocket.Dialer{
			HandshakeTimeout:  handshakeTimeout,
			EnableCompression: true,
		},
		initialDelay: DefaultInitialDelay,
		maxDelay:     DefaultMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens the subscription in the background and returns immediately.
// Events for collection are handed to sink until Stop or ctx cancellation.
func (c *Client) Start(ctx context.Context, collection string, sink Sink) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("firehose client already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.stopped = false
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		_ = c.Run(ctx, collection, sink)
	}()
	return nil
}

// Stop ends delivery, cancels any pending reconnect and waits for the run
// loop to exit. It is safe to call more than once.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.stopped = true
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("firehose client stopped")
}

// Run is the blocking form of Start, suitable for a supervisor. It returns
// ctx.Err() once ctx is cancelled and never returns otherwise.
func (c *Client) Run(ctx context.Context, collection string, sink Sink) error {
	backoff := NewBackoff(c.initialDelay, c.maxDelay)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		target, err := c.subscribeURL(collection)
		if err != nil {
			return fmt.Errorf("failed to build subscribe url: %w", err)
		}

		conn, resp, err := c.dialer.DialContext(ctx, target, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			delay := backoff.Next()
			slog.Warn("firehose connect failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
				slog.Int("attempt", backoff.Attempt()))
			observability.FirehoseReconnectsTotal.Inc()
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		backoff.Reset()
		slog.Info("firehose connected", slog.String("url", target))

		if !c.setConn(conn) {
			conn.Close()
			return context.Canceled
		}
		observability.FirehoseConnected.Set(1)

		err = c.readLoop(ctx, conn, sink)

		c.clearConn()
		observability.FirehoseConnected.Set(0)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := backoff.Next()
		slog.Warn("firehose disconnected",
			slog.String("error", errString(err)),
			slog.Duration("retry_in", delay))
		observability.FirehoseReconnectsTotal.Inc()
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

// Cursor returns the resume position that the next connection will request,
// or 0 when nothing has been received yet.
func (c *Client) Cursor() int64 {
	last := c.lastTimeUS.Load()
	if last == 0 {
		return 0
	}
	cursor := last - cursorRewind.Microseconds()
	if cursor < 0 {
		return 0
	}
	return cursor
}

func (c *Client) subscribeURL(collection string) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("wantedCollections", collection)
	if cursor := c.Cursor(); cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	} else {
		q.Del("cursor")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, sink Sink) error {
	// ReadMessage does not observe ctx; closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		ev, err := Decode(data)
		if err != nil {
			observability.FirehoseDecodeErrorsTotal.Inc()
			slog.Debug("dropping malformed firehose frame",
				slog.String("error", err.Error()),
				slog.Int("size", len(data)))
			continue
		}

		if ev.TimeUS > 0 {
			c.lastTimeUS.Store(ev.TimeUS)
		}

		operation := ev.Kind
		if ev.Commit != nil {
			operation = ev.Commit.Operation
		}
		observability.FirehoseEventsTotal.WithLabelValues(operation).Inc()

		sink(ev)
	}
}

// Connected reports whether a subscription is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// setConn records the live connection; it reports false if Stop won the race.
func (c *Client) setConn(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	c.conn = conn
	return true
}

func (c *Client) clearConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.conn.Close()
		c.conn = nil
	}
}

// sleep waits for d or ctx, whichever comes first. The timer is released on
// cancellation so no reconnect fires after Stop.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
