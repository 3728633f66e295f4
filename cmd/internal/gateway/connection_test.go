package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	v1 "teamly/shared/contracts/gateway/v1"

	"github.com/coder/websocket"
)

func TestConnection_DeliversFramesInOrder(t *testing.T) {
	gw := startFakeGateway(t, func(ctx context.Context, conn *websocket.Conn, _ int) {
		writeRaw(t, ctx, conn, websocket.MessageText, `{"t":"READY","d":{"user":{"id":"bot"}}}`)
		writeRaw(t, ctx, conn, websocket.MessageBinary, `{"t":"CHANNEL_CREATED","d":{"teamId":"t1"}}`)
		writeRaw(t, ctx, conn, websocket.MessageText, `not json at all`)
		writeRaw(t, ctx, conn, websocket.MessageBinary, "\xff\xfe\xfd")
		writeRaw(t, ctx, conn, websocket.MessageText, `{"type":"message_send","data":{"teamId":"t1"}}`)
		drain(ctx, conn)
	})

	got := make(chan string, 8)
	c := mustNewConnection(t, gw.dialer(), func(_ context.Context, f v1.Frame) {
		got <- f.Name()
	}, Options{HeartbeatInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := runConnection(t, ctx, c)

	want := []string{v1.EventReady, v1.EventChannelCreated, v1.EventMessageSend}
	for i, w := range want {
		select {
		case name := <-got:
			if name != w {
				t.Fatalf("frame %d: got %q want %q", i, name, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for frame %d (%s)", i, w)
		}
	}

	if s := c.State(); s != StateConnected {
		t.Fatalf("state=%v want connected", s)
	}

	cancel()
	if err := waitRun(t, done); err != nil {
		t.Fatalf("Run after cancel: %v", err)
	}
	if s := c.State(); s != StateStopped {
		t.Fatalf("state after stop=%v want stopped", s)
	}
}

func TestConnection_SendsHeartbeat(t *testing.T) {
	beats := make(chan []byte, 4)
	gw := startFakeGateway(t, func(ctx context.Context, conn *websocket.Conn, _ int) {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			beats <- data
		}
	})

	c := mustNewConnection(t, gw.dialer(), func(context.Context, v1.Frame) {}, Options{
		HeartbeatInterval: 30 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runConnection(t, ctx, c)

	select {
	case b := <-beats:
		var f v1.Frame
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("decode heartbeat: %v", err)
		}
		if f.Name() != v1.TypeHeartbeat || string(f.Data) != "{}" {
			t.Fatalf("unexpected heartbeat frame: %s", b)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for heartbeat")
	}

	sent, _ := c.LastHeartbeat()
	deadline := time.Now().Add(time.Second)
	for sent.IsZero() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		sent, _ = c.LastHeartbeat()
	}
	if sent.IsZero() {
		t.Fatalf("lastSend was not recorded")
	}

	cancel()
	_ = waitRun(t, done)
}

func TestConnection_SlowHandlerDoesNotStarveLiveness(t *testing.T) {
	t.Parallel()

	gw := startFakeGateway(t, func(ctx context.Context, conn *websocket.Conn, _ int) {
		writeRaw(t, ctx, conn, websocket.MessageText, `{"t":"READY","d":{"user":{"id":"bot"}}}`)
		go func() {
			tick := time.NewTicker(5 * time.Millisecond)
			defer tick.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-tick.C:
					if err := conn.Write(ctx, websocket.MessageText, []byte(`{"t":"HEARTBEAT_ACK","d":{}}`)); err != nil {
						return
					}
				}
			}
		}()
		drain(ctx, conn)
	})

	var aborted atomic.Bool
	ready := make(chan struct{}, 4)
	c := mustNewConnection(t, gw.dialer(), func(ctx context.Context, f v1.Frame) {
		if f.Name() != v1.EventReady {
			return
		}
		// 20 heartbeat intervals; long enough to time out a starved reader several times over.
		select {
		case <-ctx.Done():
			aborted.Store(true)
			return
		case <-time.After(500 * time.Millisecond):
		}
		ready <- struct{}{}
	}, Options{
		HeartbeatInterval: 25 * time.Millisecond,
		ReconnectInitial:  10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := runConnection(t, ctx, c)

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatalf("slow READY handler never finished (aborted=%v accepts=%d)", aborted.Load(), gw.accepts.Load())
	}

	if aborted.Load() {
		t.Fatalf("handler context was cancelled while frames kept arriving")
	}
	if n := gw.accepts.Load(); n != 1 {
		t.Fatalf("connection was dropped during a slow handler, accepts=%d", n)
	}
	if s := c.State(); !s.Live() {
		t.Fatalf("state=%v want live", s)
	}

	cancel()
	if err := waitRun(t, done); err != nil {
		t.Fatalf("Run after cancel: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("READY handled more than once")
	}
}

func TestConnection_UnauthorizedIsFatal(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer ts.Close()

	c := mustNewConnection(t, wsDialer{url: wsURL(ts.URL)}, func(context.Context, v1.Frame) {}, Options{
		ReconnectInitial: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Run(ctx)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("credential rejection must not be retried, dials=%d", n)
	}
}

func TestConnection_ReconnectsAfterServerClose(t *testing.T) {
	gw := startFakeGateway(t, func(ctx context.Context, conn *websocket.Conn, n int) {
		if n == 1 {
			_ = conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		writeRaw(t, ctx, conn, websocket.MessageText, `{"t":"READY","d":{}}`)
		drain(ctx, conn)
	})

	var (
		mu          sync.Mutex
		transitions []State
	)
	ready := make(chan struct{}, 1)
	c := mustNewConnection(t, gw.dialer(), func(_ context.Context, f v1.Frame) {
		if f.Name() == v1.EventReady {
			ready <- struct{}{}
		}
	}, Options{
		HeartbeatInterval: time.Hour,
		ReconnectInitial:  10 * time.Millisecond,
		ReconnectMax:      50 * time.Millisecond,
		OnStateChange: func(_, to State) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := runConnection(t, ctx, c)

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for READY after reconnect")
	}
	if n := gw.accepts.Load(); n < 2 {
		t.Fatalf("expected a second dial, accepts=%d", n)
	}

	cancel()
	_ = waitRun(t, done)

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateConnected, StateDisconnected, StateConnecting, StateConnected}
	if len(transitions) < len(want) {
		t.Fatalf("transitions=%v want prefix %v", transitions, want)
	}
	for i, s := range want {
		if transitions[i] != s {
			t.Fatalf("transition %d=%v want %v (all=%v)", i, transitions[i], s, transitions)
		}
	}
}

func TestConnection_LivenessTransitions(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []State
	)
	c := mustNewConnection(t, wsDialer{}, func(context.Context, v1.Frame) {}, Options{
		HeartbeatInterval: 30 * time.Second,
		OnStateChange: func(_, to State) {
			mu.Lock()
			seen = append(seen, to)
			mu.Unlock()
		},
	})

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.state = StateConnected
	c.lastAck = base

	if err := c.checkLiveness(base.Add(60 * time.Second)); err != nil || c.State() != StateConnected {
		t.Fatalf("exactly 2 intervals without ack must stay connected: state=%v err=%v", c.State(), err)
	}
	if err := c.checkLiveness(base.Add(61 * time.Second)); err != nil || c.State() != StateDegraded {
		t.Fatalf("expected degraded: state=%v err=%v", c.State(), err)
	}

	// Any inbound frame recovers.
	c.markAck(base.Add(70 * time.Second))
	if c.State() != StateConnected {
		t.Fatalf("expected recovery to connected, got %v", c.State())
	}

	degradedAt := base.Add(70*time.Second + 61*time.Second)
	if err := c.checkLiveness(degradedAt); err != nil || c.State() != StateDegraded {
		t.Fatalf("expected degraded again: state=%v err=%v", c.State(), err)
	}
	if err := c.checkLiveness(degradedAt.Add(60 * time.Second)); err != nil {
		t.Fatalf("one grace period in degraded must not disconnect: %v", err)
	}
	if err := c.checkLiveness(degradedAt.Add(120 * time.Second)); !errors.Is(err, errHeartbeatTimeout) {
		t.Fatalf("expected heartbeat timeout after two grace periods, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateDegraded, StateConnected, StateDegraded}
	if len(seen) != len(want) {
		t.Fatalf("transitions=%v want=%v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions=%v want=%v", seen, want)
		}
	}
}

func TestConnection_SendRequiresLiveConnection(t *testing.T) {
	t.Parallel()

	c := mustNewConnection(t, wsDialer{}, func(context.Context, v1.Frame) {}, Options{})
	if err := c.Send(context.Background(), v1.NewHeartbeat()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestNewConnection_RejectsNilCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := NewConnection(nil, nil, func(context.Context, v1.Frame) {}, Options{}); err == nil {
		t.Fatalf("expected error for nil dialer")
	}
	if _, err := NewConnection(nil, wsDialer{}, nil, Options{}); err == nil {
		t.Fatalf("expected error for nil handler")
	}
}

// ---- helpers ----

type fakeGateway struct {
	srv     *httptest.Server
	accepts atomic.Int32
}

func startFakeGateway(t *testing.T, onConn func(ctx context.Context, conn *websocket.Conn, n int)) *fakeGateway {
	t.Helper()

	g := &fakeGateway{}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

		n := int(g.accepts.Add(1))
		onConn(r.Context(), conn, n)
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) dialer() wsDialer {
	return wsDialer{url: wsURL(g.srv.URL)}
}

type wsDialer struct {
	url string
}

func (d wsDialer) DialGateway(ctx context.Context) (*websocket.Conn, *http.Response, error) {
	return websocket.Dial(ctx, d.url, nil)
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func writeRaw(t *testing.T, ctx context.Context, conn *websocket.Conn, mt websocket.MessageType, s string) {
	t.Helper()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := conn.Write(wctx, mt, []byte(s)); err != nil {
		t.Errorf("server write: %v", err)
	}
}

func drain(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func mustNewConnection(t *testing.T, d Dialer, h FrameHandler, opts Options) *Connection {
	t.Helper()

	c, err := NewConnection(discardLogger(), d, h, opts)
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	return c
}

func runConnection(t *testing.T, ctx context.Context, c *Connection) <-chan error {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancellation")
		return nil
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
