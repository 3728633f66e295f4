// Package session composes the gateway connection, the cache and the event
// dispatcher into one client session against the Teamly gateway.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"teamly/cmd/internal/cache"
	"teamly/cmd/internal/dispatch"
	"teamly/cmd/internal/gateway"
	v1 "teamly/shared/contracts/gateway/v1"
)

// DefaultStopGrace bounds how long Start waits for queued callbacks after the connection ends.
const DefaultStopGrace = 2 * time.Second

var (
	// ErrAlreadyStarted is returned by Start on a session that was started before. Sessions are single-use.
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrNoCredential is returned by Start when the credential is empty.
	ErrNoCredential = errors.New("session: empty credential")
)

// ResourceClient is the request/response side of the platform: resource
// fetches for bootstrap and read-through, and opening the gateway.
type ResourceClient interface {
	cache.Fetcher
	gateway.Dialer

	// StaticLogin installs the bot credential used by every later call.
	StaticLogin(token string) error
}

// Options tunes a Session. Zero values fall back to the package defaults.
type Options struct {
	Gateway gateway.Options
	Cache   cache.Options

	// CallbackBacklogWarn is the queued-callback depth that triggers a warning.
	CallbackBacklogWarn int

	// StopGrace bounds the final callback drain. Callbacks still queued after it are dropped.
	StopGrace time.Duration

	// Registerer receives the gateway, cache and dispatch collectors. Nil disables metrics.
	Registerer prometheus.Registerer
}

// Session is one logical client session. Register callbacks through the
// embedded Registry before calling Start.
type Session struct {
	*dispatch.Registry

	log        *slog.Logger
	client     ResourceClient
	cache      *cache.Cache
	callbacks  *dispatch.Callbacks
	dispatcher *dispatch.Dispatcher
	gwOpts     gateway.Options
	stopGrace  time.Duration

	ready atomic.Bool

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	conn    *gateway.Connection
}

// New wires a session over client. It does not connect; call Start.
func New(log *slog.Logger, client ResourceClient, opts Options) (*Session, error) {
	if client == nil {
		return nil, errors.New("session: nil resource client")
	}
	if log == nil {
		log = slog.Default()
	}

	var dm *dispatch.Metrics
	if opts.Registerer != nil {
		if opts.Gateway.Metrics == nil {
			opts.Gateway.Metrics = gateway.NewMetrics(opts.Registerer)
		}
		if opts.Cache.Metrics == nil {
			opts.Cache.Metrics = cache.NewMetrics(opts.Registerer)
		}
		dm = dispatch.NewMetrics(opts.Registerer)
	}

	c, err := cache.New(log, client, opts.Cache)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	cb := dispatch.NewCallbacks(log, opts.CallbackBacklogWarn, dm)
	d, err := dispatch.New(log, c, cb, dm)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	s := &Session{
		Registry:   &cb.Registry,
		log:        log,
		client:     client,
		cache:      c,
		callbacks:  cb,
		dispatcher: d,
		gwOpts:     opts.Gateway,
		stopGrace:  opts.StopGrace,
	}
	if s.stopGrace <= 0 {
		s.stopGrace = DefaultStopGrace
	}
	return s, nil
}

// Start logs in with credential and runs the gateway until ctx is done, Stop
// is called, or the credential is rejected. Once the connection ends, queued
// callbacks get up to StopGrace to finish; whatever is left is dropped.
//
// A rejected credential is returned as gateway.ErrUnauthorized (wrapped).
// Transport failures are retried internally and never returned.
func (s *Session) Start(ctx context.Context, credential string) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if credential == "" {
		s.mu.Unlock()
		return ErrNoCredential
	}
	if err := s.client.StaticLogin(credential); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("session: login: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := s.gwOpts
	userHook := opts.OnStateChange
	opts.OnStateChange = func(from, to gateway.State) {
		s.onStateChange(from, to)
		if userHook != nil {
			userHook(from, to)
		}
	}
	conn, err := gateway.NewConnection(s.log, s.client, s.route, opts)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("session: %w", err)
	}
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	// The emitter outlives runCtx so the final disconnected callback still runs.
	emitCtx, stopEmitter := context.WithCancel(context.WithoutCancel(ctx))
	emitterDone := make(chan struct{})
	go func() {
		defer close(emitterDone)
		s.callbacks.Run(emitCtx)
	}()

	s.log.Info("session.start")
	err = conn.Run(runCtx)

	stopEmitter()
	select {
	case <-emitterDone:
	case <-time.After(s.stopGrace):
		n := s.callbacks.Discard()
		s.log.Warn("session.callbacks.abandoned", "dropped", n, "grace", s.stopGrace)
	}

	if err != nil {
		s.log.Error("session.stop", "err", err)
		return fmt.Errorf("session: %w", err)
	}
	s.log.Info("session.stop")
	return nil
}

// Stop ends a running session. It does not wait; Start returns once the
// connection is closed. Stop before Start makes Start return immediately.
func (s *Session) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Status returns the gateway connection state.
func (s *Session) Status() gateway.State {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return gateway.StateDisconnected
	}
	return conn.State()
}

// Ready reports whether the current connection has completed its bootstrap.
func (s *Session) Ready() bool {
	return s.ready.Load() && s.Status().Live()
}

// Cache returns the session's cache. Reads are safe from any goroutine.
func (s *Session) Cache() *cache.Cache {
	return s.cache
}

// Client returns the resource client for outbound calls.
func (s *Session) Client() ResourceClient {
	return s.client
}

// route runs on the connection's handler goroutine. The connection joins that
// goroutine before reporting Disconnected, so onStateChange always clears the
// flag after the last route of a connection.
func (s *Session) route(ctx context.Context, f v1.Frame) {
	err := s.dispatcher.Route(ctx, f)
	if f.Name() == v1.EventReady {
		s.ready.Store(err == nil)
	}
}

// onStateChange clears the mirror when a live connection drops. The next READY rebuilds it.
func (s *Session) onStateChange(from, to gateway.State) {
	if to != gateway.StateDisconnected || !from.Live() {
		return
	}
	s.ready.Store(false)
	s.cache.Clear()
	s.callbacks.EmitDisconnected("connection lost")
}
