// Package gateway owns the persistent Teamly gateway connection: dialing,
// the receive loop, rate-limited heartbeats, liveness tracking and reconnects.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	v1 "teamly/shared/contracts/gateway/v1"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
)

var (
	// ErrUnauthorized is returned by Run when the gateway rejects the credential. It is not retried.
	ErrUnauthorized = errors.New("gateway: credential rejected")

	// ErrNotConnected is returned by Send while no connection is live.
	ErrNotConnected = errors.New("gateway: not connected")

	errHeartbeatTimeout = errors.New("gateway: heartbeat acknowledgment timed out")
)

// Dialer opens the websocket. The returned response carries the handshake status on failure.
type Dialer interface {
	DialGateway(ctx context.Context) (*websocket.Conn, *http.Response, error)
}

// FrameHandler consumes decoded frames in receive order, one at a time, on a
// goroutine separate from the socket reader. ctx is cancelled when the
// connection ends; a handler must return promptly once it is.
type FrameHandler func(ctx context.Context, f v1.Frame)

// Options tunes a Connection. Zero values fall back to the package defaults.
type Options struct {
	HeartbeatInterval time.Duration
	ConnectTimeout    time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration

	Limiter *RateLimiter
	Metrics *Metrics

	// OnStateChange is called after every state transition, outside of internal locks.
	OnStateChange func(from, to State)
}

// Connection is one logical gateway session with automatic reconnects.
type Connection struct {
	log    *slog.Logger
	dialer Dialer
	handle FrameHandler

	heartbeatEvery   time.Duration
	connectTimeout   time.Duration
	reconnectInitial time.Duration
	reconnectMax     time.Duration

	limiter       *RateLimiter
	metrics       *Metrics
	onStateChange func(from, to State)

	now func() time.Time

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	lastAck    time.Time
	lastSend   time.Time
	degradedAt time.Time
}

// NewConnection constructs a Connection. It does not dial; call Run.
func NewConnection(log *slog.Logger, dialer Dialer, handle FrameHandler, opts Options) (*Connection, error) {
	if dialer == nil {
		return nil, errors.New("gateway: nil dialer")
	}
	if handle == nil {
		return nil, errors.New("gateway: nil frame handler")
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Connection{
		log:              log,
		dialer:           dialer,
		handle:           handle,
		heartbeatEvery:   nonZero(opts.HeartbeatInterval, DefaultHeartbeatInterval),
		connectTimeout:   nonZero(opts.ConnectTimeout, DefaultConnectTimeout),
		reconnectInitial: nonZero(opts.ReconnectInitial, DefaultReconnectInitial),
		reconnectMax:     nonZero(opts.ReconnectMax, DefaultReconnectMax),
		limiter:          opts.Limiter,
		metrics:          opts.Metrics,
		onStateChange:    opts.OnStateChange,
		now:              time.Now,
		state:            StateDisconnected,
	}
	if c.limiter == nil {
		c.limiter = NewRateLimiter(DefaultRateLimitEvents, DefaultRateLimitWindow)
	}
	if c.reconnectMax < c.reconnectInitial {
		c.reconnectMax = c.reconnectInitial
	}
	return c, nil
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastHeartbeat returns when the last heartbeat was written and when the last frame arrived.
func (c *Connection) LastHeartbeat() (sent, acked time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSend, c.lastAck
}

// Run connects and keeps the session alive until ctx is done or the credential is rejected.
// It returns nil on cancellation and ErrUnauthorized (wrapped) on a 401/403 handshake.
func (c *Connection) Run(ctx context.Context) error {
	bo := c.newBackoff()
	defer c.setState(StateStopped)

	for {
		if ctx.Err() != nil {
			return nil
		}

		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				c.log.Error("gateway.connect.unauthorized", "err", err)
				c.setState(StateDisconnected)
				return err
			}
			if ctx.Err() != nil {
				return nil
			}

			c.setState(StateDisconnected)
			wait := bo.NextBackOff()
			c.metrics.reconnectScheduled()
			c.log.Warn("gateway.connect.fail", "err", err, "retry_in", wait)
			if sleepCtx(ctx, wait) != nil {
				return nil
			}
			continue
		}

		c.log.Info("gateway.connect.ok")
		bo.Reset()

		reason := c.serve(ctx, conn)
		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			c.log.Info("gateway.stop", "reason", "context_done")
			return nil
		}

		wait := bo.NextBackOff()
		c.metrics.reconnectScheduled()
		c.log.Info("gateway.disconnected", "reason", reason, "retry_in", wait)
		if sleepCtx(ctx, wait) != nil {
			return nil
		}
	}
}

// Send writes one control frame on the live connection, waiting for rate limiter budget first.
func (c *Connection) Send(ctx context.Context, f v1.Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.send(ctx, conn, f)
}

func (c *Connection) send(ctx context.Context, conn *websocket.Conn, f v1.Frame) error {
	if c.limiter.Remaining() == 0 {
		c.metrics.rateLimited()
	}
	if err := c.limiter.Acquire(ctx); err != nil {
		return err
	}
	return writeFrame(ctx, conn, f, writeTimeout)
}

func (c *Connection) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialGateway(dctx)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status=%d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

// serve runs the receive loop and heartbeat on one connection and returns why it ended.
func (c *Connection) serve(parent context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	now := c.now()
	c.mu.Lock()
	c.conn = conn
	c.lastAck = now
	c.lastSend = time.Time{}
	c.degradedAt = time.Time{}
	c.mu.Unlock()
	c.setState(StateConnected)

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		if err := c.heartbeat(ctx, conn); err != nil {
			cancel(err)
		}
	}()

	in := newInbox()
	handlerDone := make(chan struct{})
	go func() {
		defer close(handlerDone)
		in.drain(ctx, c.handle)
	}()

	reason := c.readLoop(ctx, conn, in)
	cancel(reason)

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()

	status := websocket.StatusNormalClosure
	if errors.Is(reason, errHeartbeatTimeout) {
		status = websocket.StatusGoingAway
	}
	_ = conn.Close(status, "bye")

	<-handlerDone
	if n := in.len(); n > 0 {
		c.log.Debug("gateway.inbox.discard", "frames", n)
	}

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
	return reason
}

// readLoop only reads: every frame counts as an ack, and decoded frames are
// queued for the handler goroutine.
func (c *Connection) readLoop(ctx context.Context, conn *websocket.Conn, in *inbox) error {
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			switch classifyReadErr(err) {
			case readErrClose:
				return fmt.Errorf("peer closed: status=%d: %w", websocket.CloseStatus(err), err)
			case readErrCtxDone:
				return err
			case readErrConnClosed:
				return fmt.Errorf("conn closed: %w", err)
			default:
				c.log.Info("gateway.read.fail", "err", err)
				return fmt.Errorf("read: %w", err)
			}
		}

		c.markAck(c.now())

		if mt == websocket.MessageBinary && !utf8.Valid(data) {
			c.metrics.decodeFailed()
			c.log.Warn("gateway.frame.decode.fail", "err", "binary frame is not utf-8", "bytes", len(data))
			continue
		}

		f, err := v1.DecodeFrame(data)
		if err != nil {
			c.metrics.decodeFailed()
			c.log.Warn("gateway.frame.decode.fail", "err", err, "bytes", len(data))
			continue
		}

		c.metrics.frameReceived(f.Name())
		in.push(f)
	}
}

func (c *Connection) heartbeat(ctx context.Context, conn *websocket.Conn) error {
	t := time.NewTicker(c.heartbeatEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := c.checkLiveness(c.now()); err != nil {
				c.log.Warn("gateway.heartbeat.timeout", "err", err)
				return err
			}

			if err := c.send(ctx, conn, v1.NewHeartbeat()); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.log.Info("gateway.heartbeat.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
				return fmt.Errorf("heartbeat write: %w", err)
			}
			c.metrics.heartbeatSent()

			c.mu.Lock()
			c.lastSend = c.now()
			c.mu.Unlock()
		}
	}
}

// checkLiveness moves Connected to Degraded after 2 intervals without an inbound frame,
// and reports errHeartbeatTimeout once Degraded has outlasted two further grace periods.
func (c *Connection) checkLiveness(now time.Time) error {
	grace := 2 * c.heartbeatEvery

	c.mu.Lock()
	from := c.state
	switch from {
	case StateConnected:
		if now.Sub(c.lastAck) <= grace {
			c.mu.Unlock()
			return nil
		}
		c.state = StateDegraded
		c.degradedAt = now
		lastAck := c.lastAck
		c.mu.Unlock()

		c.log.Warn("gateway.degraded", "last_ack", lastAck, "grace", grace)
		c.notify(from, StateDegraded)
		return nil

	case StateDegraded:
		expired := now.Sub(c.degradedAt) >= 2*grace
		c.mu.Unlock()
		if expired {
			return errHeartbeatTimeout
		}
		return nil

	default:
		c.mu.Unlock()
		return nil
	}
}

func (c *Connection) markAck(now time.Time) {
	c.mu.Lock()
	c.lastAck = now
	from := c.state
	if from != StateDegraded {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.degradedAt = time.Time{}
	c.mu.Unlock()

	c.log.Info("gateway.recovered")
	c.notify(from, StateConnected)
}

func (c *Connection) setState(to State) {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return
	}
	c.state = to
	c.mu.Unlock()

	c.notify(from, to)
}

func (c *Connection) notify(from, to State) {
	c.metrics.setState(to)
	c.log.Debug("gateway.state", "from", from.String(), "to", to.String())
	if c.onStateChange != nil {
		c.onStateChange(from, to)
	}
}

func (c *Connection) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.reconnectInitial
	bo.MaxInterval = c.reconnectMax
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// ---- frame IO ----

func writeFrame(parent context.Context, conn *websocket.Conn, f v1.Frame, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

func nonZero(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
