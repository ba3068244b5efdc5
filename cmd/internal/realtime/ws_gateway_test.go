package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	v1 "notesync/shared/contracts/realtime/v1"
)

func startWSTestServer(t *testing.T, cfg GatewayConfig, opts ...EngineOption) *httptest.Server {
	t.Helper()

	srv, _ := startWSTestEngine(t, cfg, opts...)
	return srv
}

func startWSTestEngine(t *testing.T, cfg GatewayConfig, opts ...EngineOption) (*httptest.Server, *Engine) {
	t.Helper()

	e, _ := newTestEngine(t, opts...)
	gw := NewWSGateway(discardLogger(), e, cfg)

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, e
}

func dialWS(t *testing.T, ctx context.Context, baseURL, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"

	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}

	return websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
}

func mustDialWS(t *testing.T, ctx context.Context, baseURL string) *websocket.Conn {
	t.Helper()

	c, _, err := dialWS(t, ctx, baseURL, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "bye") })
	return c
}

func mustJSONRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()

	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func writeEnvelopeWS(t *testing.T, ctx context.Context, c *websocket.Conn, typ string, payload any) {
	t.Helper()

	env := v1.Envelope{V: v1.Version, Type: typ, TS: time.Now().UTC()}
	if payload != nil {
		env.Payload = mustJSONRaw(t, payload)
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := c.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readUntilType(t *testing.T, ctx context.Context, c *websocket.Conn, typ string, maxReads int) v1.Envelope {
	t.Helper()

	for i := 0; i < maxReads; i++ {
		_, b, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("read waiting for %s: %v", typ, err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("did not receive %s within %d reads", typ, maxReads)
	return v1.Envelope{}
}

func joinWS(t *testing.T, ctx context.Context, c *websocket.Conn, room, password, name string) v1.LoadContentPayload {
	t.Helper()

	writeEnvelopeWS(t, ctx, c, v1.TypeJoinRoom, v1.JoinRoomPayload{RoomID: room, Password: password, UserName: name})
	return decode[v1.LoadContentPayload](t, readUntilType(t, ctx, c, v1.TypeLoadContent, 8))
}

func TestWSGateway_EditFanOut(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := startWSTestServer(t, DefaultGatewayConfig())
	alice := mustDialWS(t, ctx, srv.URL)
	bob := mustDialWS(t, ctx, srv.URL)

	joinWS(t, ctx, alice, "team-notes", "", "Alice")
	bobLoad := joinWS(t, ctx, bob, "team-notes", "", "Bob")
	if bobLoad.UserName != "Bob" || bobLoad.RoomID != "team-notes" {
		t.Fatalf("unexpected load-content: %+v", bobLoad)
	}

	writeEnvelopeWS(t, ctx, alice, v1.TypeUpdateContent, v1.UpdateContentPayload{RoomID: "team-notes", Content: "hello"})

	upd := decode[v1.ContentUpdatedPayload](t, readUntilType(t, ctx, bob, v1.TypeUpdateContent, 8))
	if upd.Content != "hello" || upd.UpdatedBy != "Alice" {
		t.Fatalf("unexpected update-content: %+v", upd)
	}

	// A late joiner loads the latest content.
	carol := mustDialWS(t, ctx, srv.URL)
	if got := joinWS(t, ctx, carol, "team-notes", "", "Carol"); got.Content != "hello" {
		t.Fatalf("late joiner content = %q", got.Content)
	}
}

func TestWSGateway_PasswordRoom(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := startWSTestServer(t, DefaultGatewayConfig())
	alice := mustDialWS(t, ctx, srv.URL)
	bob := mustDialWS(t, ctx, srv.URL)

	writeEnvelopeWS(t, ctx, alice, v1.TypeCreateRoom, v1.CreateRoomPayload{
		RoomName:        "Plans",
		Password:        "pw",
		HasPassword:     true,
		AutoDeleteHours: 24,
	})
	created := decode[v1.RoomCreatedPayload](t, readUntilType(t, ctx, alice, v1.TypeRoomCreated, 4))
	if created.RoomName != "Plans" || !ValidRoomID(created.RoomID) {
		t.Fatalf("unexpected room-created: %+v", created)
	}

	writeEnvelopeWS(t, ctx, bob, v1.TypeJoinRoom, v1.JoinRoomPayload{RoomID: created.RoomID})
	req := decode[v1.RoomPasswordRequiredPayload](t, readUntilType(t, ctx, bob, v1.TypeRoomPasswordRequired, 4))
	if req.RoomID != created.RoomID {
		t.Fatalf("password-required for %q", req.RoomID)
	}

	load := joinWS(t, ctx, bob, created.RoomID, "pw", "Bob")
	if !load.RoomInfo.HasPassword || load.RoomInfo.Name != "Plans" {
		t.Fatalf("unexpected room info: %+v", load.RoomInfo)
	}
}

func TestWSGateway_ErrorEnvelopes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := startWSTestServer(t, DefaultGatewayConfig())
	c := mustDialWS(t, ctx, srv.URL)

	cases := []struct {
		name     string
		raw      string
		wantCode string
	}{
		{"bad json", `{"v":"v1",`, codeBadJSON},
		{"unknown type", `{"v":"v1","type":"nope"}`, codeBadEnvelope},
		{"wrong version", `{"v":"v9","type":"join-room"}`, codeBadEnvelope},
		{"server-only type", `{"v":"v1","type":"room-created","payload":{}}`, codeUnsupported},
		{"missing payload", `{"v":"v1","type":"join-room"}`, "invalid_input"},
		{"invalid room id", `{"v":"v1","type":"join-room","payload":{"roomId":"a b"}}`, "invalid_input"},
		{"edit outside room", `{"v":"v1","type":"update-content","payload":{"roomId":"room-one","content":"x"}}`, "access_denied"},
	}
	for _, tc := range cases {
		if err := c.Write(ctx, websocket.MessageText, []byte(tc.raw)); err != nil {
			t.Fatalf("%s: write: %v", tc.name, err)
		}
		p := decode[v1.ErrorPayload](t, readUntilType(t, ctx, c, v1.TypeError, 4))
		if p.Code != tc.wantCode {
			t.Fatalf("%s: code = %q (%s), want %q", tc.name, p.Code, p.Message, tc.wantCode)
		}
	}

	// The connection survives recoverable errors.
	writeEnvelopeWS(t, ctx, c, v1.TypePing, v1.PingPayload{})
	readUntilType(t, ctx, c, v1.TypePong, 4)
}

// readUntilPong fails on any error envelope received before the pong.
func readUntilPong(t *testing.T, ctx context.Context, c *websocket.Conn, maxReads int) {
	t.Helper()

	writeEnvelopeWS(t, ctx, c, v1.TypePing, v1.PingPayload{})
	for i := 0; i < maxReads; i++ {
		_, b, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("read waiting for pong: %v", err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		switch env.Type {
		case v1.TypePong:
			return
		case v1.TypeError:
			p := decode[v1.ErrorPayload](t, env)
			t.Fatalf("unexpected error envelope: %s (%s)", p.Code, p.Message)
		}
	}
	t.Fatalf("did not receive pong within %d reads", maxReads)
}

func TestWSGateway_RapidEditsStayConnected(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cfg := DefaultGatewayConfig()
	cfg.RateEvents = 3
	cfg.RateWindow = time.Minute
	srv := startWSTestServer(t, cfg)
	c := mustDialWS(t, ctx, srv.URL)
	joinWS(t, ctx, c, "team-notes", "", "Alice")

	text := ""
	for i := 0; i < 200; i++ {
		text += "a"
		writeEnvelopeWS(t, ctx, c, v1.TypeUpdateContent, v1.UpdateContentPayload{RoomID: "team-notes", Content: text})
		writeEnvelopeWS(t, ctx, c, v1.TypeTyping, v1.TypingPayload{RoomID: "team-notes", IsTyping: true})
		writeEnvelopeWS(t, ctx, c, v1.TypeCursorUpdate, v1.CursorUpdatePayload{RoomID: "team-notes", CursorPosition: i + 1})
	}

	readUntilPong(t, ctx, c, 64)

	late := mustDialWS(t, ctx, srv.URL)
	if got := joinWS(t, ctx, late, "team-notes", "", "Bob"); got.Content != text {
		t.Fatalf("late joiner content length = %d, want %d", len(got.Content), len(text))
	}
}

func TestWSGateway_RoomRequestsRateLimited(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := DefaultGatewayConfig()
	cfg.RateEvents = 3
	cfg.RateWindow = time.Minute
	srv := startWSTestServer(t, cfg)
	c := mustDialWS(t, ctx, srv.URL)

	for i := 0; i < 4; i++ {
		writeEnvelopeWS(t, ctx, c, v1.TypeCreateRoom, v1.CreateRoomPayload{RoomName: "standup"})
	}
	for i := 0; i < 3; i++ {
		readUntilType(t, ctx, c, v1.TypeRoomCreated, 4)
	}
	if p := decode[v1.ErrorPayload](t, readUntilType(t, ctx, c, v1.TypeError, 4)); p.Code != codeRateLimited {
		t.Fatalf("code = %q, want %q", p.Code, codeRateLimited)
	}

	// Limited requests are rejected without closing the connection.
	readUntilPong(t, ctx, c, 8)
}

func TestWSGateway_OversizedMessageRejected(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	srv := startWSTestServer(t, DefaultGatewayConfig())
	c := mustDialWS(t, ctx, srv.URL)
	joinWS(t, ctx, c, "team-notes", "", "Alice")

	huge := strings.Repeat("x", 5<<20)
	writeEnvelopeWS(t, ctx, c, v1.TypeUpdateContent, v1.UpdateContentPayload{RoomID: "team-notes", Content: huge})

	p := decode[v1.ErrorPayload](t, readUntilType(t, ctx, c, v1.TypeError, 8))
	if p.Code != ErrContentTooLarge.Error() {
		t.Fatalf("code = %q (%s), want %q", p.Code, p.Message, ErrContentTooLarge.Error())
	}

	readUntilPong(t, ctx, c, 8)
}

func TestWSGateway_HeartbeatRefreshesPresence(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := DefaultGatewayConfig()
	cfg.HeartbeatEvery = 50 * time.Millisecond
	cfg.HeartbeatTimeout = time.Second
	srv, e := startWSTestEngine(t, cfg, WithPresenceStaleAfter(400*time.Millisecond))

	c := mustDialWS(t, ctx, srv.URL)
	joinWS(t, ctx, c, "team-notes", "", "Alice")

	// Protocol pings are only answered while a read is pending.
	go func() {
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}()

	time.Sleep(time.Second)

	active, err := e.ActivePresence(ctx, "team-notes")
	if err != nil {
		t.Fatalf("ActivePresence: %v", err)
	}
	if len(active) != 1 || active[0].UserName != "Alice" {
		t.Fatalf("idle but live user was purged: %+v", active)
	}
}

func TestWSGateway_OriginPolicy(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := DefaultGatewayConfig()
	cfg.OriginRequired = true
	srv := startWSTestServer(t, cfg)

	cases := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"missing", "", false},
		{"foreign", "https://evil.example", false},
		{"localhost", "http://localhost:5173", true},
	}
	for _, tc := range cases {
		c, resp, err := dialWS(t, ctx, srv.URL, tc.origin)
		if tc.ok {
			if err != nil {
				t.Fatalf("%s: dial: %v", tc.name, err)
			}
			_ = c.Close(websocket.StatusNormalClosure, "bye")
			continue
		}
		if err == nil {
			_ = c.Close(websocket.StatusNormalClosure, "bye")
			t.Fatalf("%s: expected rejection", tc.name)
		}
		if resp == nil || resp.StatusCode != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %+v", tc.name, resp)
		}
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatternsFromAllowedOrigins([]string{"https://b.example:8443", "a.example", "https://a.example", " "})
	if strings.Join(got, ",") != "a.example,a.example:*,b.example,b.example:*" {
		t.Fatalf("patterns = %v", got)
	}
	if got := deriveOriginPatternsFromAllowedOrigins([]string{"https://a.example", "*"}); len(got) != 1 || got[0] != "*" {
		t.Fatalf("wildcard patterns = %v", got)
	}
}
