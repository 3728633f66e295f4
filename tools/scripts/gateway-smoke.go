// Package main provides a CI-friendly smoke test for a Teamly gateway.
//
// It validates:
//   - authenticated handshake with a bot token
//   - READY as the first frame, carrying the bot user
//   - heartbeat write on a live connection
//   - optionally, send (REST) -> MESSAGE_SEND fanout -> delete -> MESSAGE_DELETED
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "teamly/shared/contracts/gateway/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	conn  *websocket.Conn
	inbox chan v1.Frame
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "wss://api.teamly.one/api/v1/ws", "Gateway URL")
		apiURL  = flag.String("api", "https://api.teamly.one/api/v1", "REST API base URL")
		token   = flag.String("token", os.Getenv("TEAMLY_TOKEN"), "Bot token (default $TEAMLY_TOKEN)")
		channel = flag.String("channel", "", "Channel ID for the message round trip (skipped when empty)")
		timeout = flag.Duration("timeout", 10*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if strings.TrimSpace(*token) == "" {
		fatalf("missing -token (or TEAMLY_TOKEN)")
	}

	root := context.Background()
	auth := "Bot " + strings.TrimSpace(*token)

	c := mustConnect(root, *wsURL, auth, *timeout)
	defer closeWS(c.conn)

	ready := c.mustReadUntil(root, v1.EventReady, *timeout, false)
	var rp v1.ReadyPayload
	if err := json.Unmarshal(ready.Data, &rp); err != nil {
		fatalf("decode READY: %v", err)
	}
	var user struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(rp.User, &user); err != nil || user.ID == "" {
		fatalf("READY carried no user (err=%v)", err)
	}
	if *verbose {
		fmt.Printf("ready: user=%s (%s) teams=%d\n", user.ID, user.Username, len(rp.Teams))
	}

	mustWriteWithTimeout(root, c.conn, v1.NewHeartbeat(), *timeout)

	if *channel != "" {
		mustMessageRoundTrip(root, c, *apiURL, auth, *channel, *timeout, *verbose)
	}

	fmt.Println("OK")
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("scheme must be ws or wss (got %q)", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, auth string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", auth)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		if resp != nil {
			fatalf("dial failed: status=%d err=%v", resp.StatusCode, err)
		}
		fatalf("dial failed: %v", err)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Frame, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)
		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					c.errCh <- nil
					return
				}
				c.errCh <- err
				return
			}
			f, err := v1.DecodeFrame(data)
			if err != nil {
				c.errCh <- fmt.Errorf("decode frame: %w (raw=%q)", err, truncate(data, 256))
				return
			}
			c.inbox <- f
		}
	}()
}

func mustMessageRoundTrip(parent context.Context, c *smokeClient, apiURL, auth, channelID string, stepTimeout time.Duration, verbose bool) {
	text := fmt.Sprintf("teamly gateway smoke %d", time.Now().UnixNano())

	var created struct {
		ID      string `json:"id"`
		Message struct {
			ID string `json:"id"`
		} `json:"message"`
	}
	mustREST(parent, http.MethodPost, apiURL+"/channels/"+url.PathEscape(channelID)+"/messages", auth,
		map[string]string{"content": text}, &created, stepTimeout)
	msgID := created.Message.ID
	if msgID == "" {
		msgID = created.ID
	}
	if msgID == "" {
		fatalf("create message returned no id")
	}

	for {
		f := c.mustReadUntil(parent, v1.EventMessageSend, stepTimeout, true)
		var mp v1.MessagePayload
		if err := json.Unmarshal(f.Data, &mp); err != nil {
			fatalf("decode MESSAGE_SEND: %v", err)
		}
		var m struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		}
		_ = json.Unmarshal(mp.Message, &m)
		if m.ID != msgID {
			continue
		}
		if m.Content != text || mp.ChannelID != channelID {
			fatalf("MESSAGE_SEND mismatch: channel=%q content=%q", mp.ChannelID, m.Content)
		}
		break
	}
	if verbose {
		fmt.Printf("message: id=%s fanned out\n", msgID)
	}

	mustREST(parent, http.MethodDelete, apiURL+"/channels/"+url.PathEscape(channelID)+"/messages/"+url.PathEscape(msgID), auth,
		nil, nil, stepTimeout)

	for {
		f := c.mustReadUntil(parent, v1.EventMessageDeleted, stepTimeout, true)
		var dp v1.MessageDeletedPayload
		if err := json.Unmarshal(f.Data, &dp); err != nil {
			fatalf("decode MESSAGE_DELETED: %v", err)
		}
		if dp.MessageID == msgID {
			break
		}
	}
	if verbose {
		fmt.Printf("message: id=%s deleted\n", msgID)
	}
}

// mustReadUntil returns the first frame named want. Other frames fail the run unless skipOthers is set.
func (c *smokeClient) mustReadUntil(parent context.Context, want string, stepTimeout time.Duration, skipOthers bool) v1.Frame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", want, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q", want)
			}
			fatalf("connection error while waiting for %q: %v", want, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", want)
			}
			if f.Name() == want {
				return f
			}
			if !skipOthers {
				fatalf("unexpected frame: got=%q want=%q", f.Name(), want)
			}
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, f v1.Frame, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(f)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustREST(parent context.Context, method, target, auth string, body, out any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", auth)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fatalf("%s %s: status=%d body=%q", method, target, resp.StatusCode, truncate(data, 256))
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			fatalf("%s %s: decode: %v", method, target, err)
		}
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
