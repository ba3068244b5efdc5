// Package main provides a CI-friendly WebSocket smoke test for the notesync realtime server.
//
// It validates:
//   - handshake + subprotocol selection
//   - password-protected room creation
//   - password challenge on join, then admission
//   - edit fan-out to the other member without self-echo
//   - version history fetch
//   - room deletion reaching every member
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "notesync/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

// noise are room events that may interleave with any step.
var noise = map[string]struct{}{
	v1.TypeUsersCount:   {},
	v1.TypeActiveUsers:  {},
	v1.TypePing:         {},
	v1.TypeUserTyping:   {},
	v1.TypeCursorUpdate: {},
}

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
	seq   int
}

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		roomName = flag.String("room", "smoke room", "Name of the room to create")
		pass     = flag.String("password", "smoke-test-passphrase", "Room password")
		text     = flag.String("text", "hello notesync 👋", "Note content to write")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	alice := mustConnect(root, "Alice", *wsURL, *origin, *timeout)
	defer closeWS(alice.conn)

	bob := mustConnect(root, "Bob", *wsURL, *origin, *timeout)
	defer closeWS(bob.conn)

	roomID := mustCreateRoom(root, alice, *roomName, *pass, *timeout)
	if *verbose {
		fmt.Printf("created room %s (%q) origin=%q\n", roomID, *roomName, *origin)
	}

	mustJoin(root, alice, roomID, *pass, *timeout)

	bob.send(root, v1.TypeJoinRoom, v1.JoinRoomPayload{RoomID: roomID, UserName: bob.name}, *timeout)
	challenge := bob.mustReadUntilType(root, v1.TypeRoomPasswordRequired, *timeout, noise)
	var cp v1.RoomPasswordRequiredPayload
	mustDecode(challenge, &cp)
	if cp.RoomID != roomID {
		fatalf("password challenge room mismatch: got=%q want=%q", cp.RoomID, roomID)
	}

	mustJoin(root, bob, roomID, *pass, *timeout)

	alice.send(root, v1.TypeUpdateContent, v1.UpdateContentPayload{RoomID: roomID, Content: *text}, *timeout)

	upd := bob.mustReadUntilType(root, v1.TypeUpdateContent, *timeout, noise)
	var up v1.ContentUpdatedPayload
	mustDecode(upd, &up)
	if up.RoomID != roomID || up.Content != *text {
		fatalf("update mismatch (Bob): room=%q content=%q", up.RoomID, up.Content)
	}
	if up.UpdatedBy != alice.name {
		fatalf("updatedBy mismatch: got=%q want=%q", up.UpdatedBy, alice.name)
	}

	mustAssertNoType(root, alice, v1.TypeUpdateContent, 1200*time.Millisecond)

	bob.send(root, v1.TypeGetVersionHistory, v1.GetVersionHistoryPayload{RoomID: roomID}, *timeout)
	hist := bob.mustReadUntilType(root, v1.TypeVersionHistory, *timeout, noise)
	var hp v1.VersionHistoryPayload
	mustDecode(hist, &hp)
	if hp.RoomID != roomID {
		fatalf("version-history room mismatch: got=%q want=%q", hp.RoomID, roomID)
	}
	for i := 1; i < len(hp.Versions); i++ {
		if hp.Versions[i-1].VersionNumber <= hp.Versions[i].VersionNumber {
			fatalf("version-history not newest first: %d then %d", hp.Versions[i-1].VersionNumber, hp.Versions[i].VersionNumber)
		}
	}

	alice.send(root, v1.TypeDeleteRoom, v1.RoomRefPayload{RoomID: roomID}, *timeout)
	for _, c := range []*smokeClient{alice, bob} {
		del := c.mustReadUntilType(root, v1.TypeRoomDeleted, *timeout, noise)
		var dp v1.RoomRefPayload
		mustDecode(del, &dp)
		if dp.RoomID != roomID {
			fatalf("room-deleted mismatch (%s): got=%q want=%q", c.name, dp.RoomID, roomID)
		}
	}

	fmt.Printf("OK: room_id=%s versions=%d content_len=%d\n", roomID, len(hp.Versions), len(*text))
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustCreateRoom(parent context.Context, c *smokeClient, name, pass string, stepTimeout time.Duration) string {
	c.send(parent, v1.TypeCreateRoom, v1.CreateRoomPayload{
		RoomName:        name,
		Password:        pass,
		HasPassword:     pass != "",
		AutoDeleteHours: 1,
	}, stepTimeout)

	env := c.mustReadUntilType(parent, v1.TypeRoomCreated, stepTimeout, noise)

	var p v1.RoomCreatedPayload
	mustDecode(env, &p)
	if strings.TrimSpace(p.RoomID) == "" {
		fatalf("room-created missing roomId (%s)", c.name)
	}
	if p.RoomName != name {
		fatalf("room-created name mismatch (%s): got=%q want=%q", c.name, p.RoomName, name)
	}
	return p.RoomID
}

func mustJoin(parent context.Context, c *smokeClient, roomID, pass string, stepTimeout time.Duration) {
	c.send(parent, v1.TypeJoinRoom, v1.JoinRoomPayload{
		RoomID:   roomID,
		Password: pass,
		UserName: c.name,
	}, stepTimeout)

	env := c.mustReadUntilType(parent, v1.TypeLoadContent, stepTimeout, noise)

	var p v1.LoadContentPayload
	mustDecode(env, &p)
	if p.RoomID != roomID {
		fatalf("load-content room mismatch (%s): got=%q want=%q", c.name, p.RoomID, roomID)
	}
	if p.UserName != c.name || strings.TrimSpace(p.UserID) == "" {
		fatalf("load-content identity mismatch (%s): user=%q id=%q", c.name, p.UserName, p.UserID)
	}
	if !p.RoomInfo.HasPassword && pass != "" {
		fatalf("load-content roomInfo lost hasPassword (%s)", c.name)
	}
}

func (c *smokeClient) send(parent context.Context, typ string, payload any, stepTimeout time.Duration) {
	c.seq++
	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      fmt.Sprintf("%s-%s-%d", c.name, typ, c.seq),
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustDecode(env v1.Envelope, dst any) {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		fatalf("unmarshal %s payload: %v", env.Type, err)
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
