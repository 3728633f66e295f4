package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"teamly/cmd/internal/archive"
)

func TestApp_RunArchivesObservedMessages(t *testing.T) {
	t.Parallel()

	srv := startFakePlatform(t)

	cfg := DefaultConfig()
	cfg.Token = "tok"
	cfg.APIBaseURL = srv.URL
	cfg.GatewayURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	cfg.ReconnectInitial = 10 * time.Millisecond
	cfg.ReconnectMax = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		hist, err := a.archive.FetchHistory(ctx, archive.FetchHistoryInput{ChannelID: "c1"})
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(hist.Records) == 1 && a.Session().Ready() {
			r := hist.Records[0]
			if r.MessageID != "m1" || r.TeamID != "t1" || r.Content != "hello" {
				t.Fatalf("record=%+v", r)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out: records=%d ready=%v", len(hist.Records), a.Session().Ready())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, ok := a.Session().Cache().Channel("t1", "c1"); !ok {
		t.Fatalf("bootstrap did not load c1")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

// startFakePlatform serves the REST routes bootstrap needs and a gateway at /ws
// that sends READY followed by one message.
func startFakePlatform(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	respond := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bot tok" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, body)
		}
	}
	mux.HandleFunc("GET /teams", respond(`{"teams":[{"id":"t1","name":"one"}]}`))
	mux.HandleFunc("GET /teams/t1/channels", respond(`{"channels":[{"id":"c1","teamId":"t1","type":"text","name":"general"}]}`))
	mux.HandleFunc("GET /teams/t1/members", respond(`{"members":[{"id":"bot","username":"b","bot":true}]}`))
	mux.HandleFunc("GET /channels/c1/messages", respond(`{"messages":[]}`))

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bot tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

		ctx := r.Context()
		for _, frame := range []string{
			`{"t":"READY","d":{"user":{"id":"bot","username":"b","bot":true}}}`,
			`{"t":"MESSAGE_SEND","d":{"teamId":"t1","channelId":"c1","message":{"id":"m1","channelId":"c1","type":"text","content":"hello","createdBy":{"id":"u1","username":"alice"}}}}`,
		} {
			if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}
