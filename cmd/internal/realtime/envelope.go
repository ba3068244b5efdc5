package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/coder/websocket"

	"notesync/cmd/internal/ids"
	v1 "notesync/shared/contracts/realtime/v1"
)

// newEnvelope builds an outbound envelope. Payload marshal failures are programming errors
// and produce an empty payload.
func newEnvelope(typ string, payload any, ts time.Time) v1.Envelope {
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}

	id, err := ids.NewULID(ts)
	if err != nil {
		id, _ = ids.RandomHex(10)
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: raw,
	}
}

// readEnvelope reads one message of at most maxFrameBytes.
// Larger messages are discarded up to maxDiscardBytes and reported as *frameTooLargeError.
func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, r, err := conn.Reader(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}

	data, err := io.ReadAll(io.LimitReader(r, maxFrameBytes+1))
	if err != nil {
		return v1.Envelope{}, err
	}
	if len(data) > maxFrameBytes {
		n, err := io.CopyN(io.Discard, r, maxDiscardBytes)
		switch {
		case errors.Is(err, io.EOF):
			return v1.Envelope{}, &frameTooLargeError{size: int64(len(data)) + n}
		case err != nil:
			return v1.Envelope{}, err
		default:
			return v1.Envelope{}, &frameTooLargeError{size: int64(len(data)) + n, fatal: true}
		}
	}

	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, &badJSONError{err: err}
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

type badJSONError struct{ err error }

func (e *badJSONError) Error() string { return "bad json: " + e.err.Error() }
func (e *badJSONError) Unwrap() error { return e.err }

// frameTooLargeError reports a message above maxFrameBytes.
// fatal is set when the rest of the message was too large to skip.
type frameTooLargeError struct {
	size  int64
	fatal bool
}

func (e *frameTooLargeError) Error() string {
	if e.fatal {
		return fmt.Sprintf("message exceeds %d bytes", maxFrameBytes+maxDiscardBytes)
	}
	return fmt.Sprintf("message of %d bytes exceeds %d", e.size, maxFrameBytes)
}

func fatalFrame(err error) bool {
	var tl *frameTooLargeError
	return errors.As(err, &tl) && tl.fatal
}

func decodePayload(env v1.Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return opErr(env.Type, ErrInvalidInput, "missing payload")
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return opErr(env.Type, ErrInvalidInput, "invalid payload")
	}
	return nil
}
