package realtime

import (
	"errors"
	"fmt"
)

// Error kinds. The string value is the wire code sent in error envelopes.
var (
	ErrInvalidInput     = errors.New("invalid_input")
	ErrContentTooLarge  = errors.New("content_too_large")
	ErrNotFound         = errors.New("not_found")
	ErrPasswordRequired = errors.New("password_required")
	ErrAccessDenied     = errors.New("access_denied")
	ErrStoreFailure     = errors.New("store_failure")
)

// Transport-only codes.
const (
	codeBadJSON     = "bad_json"
	codeBadEnvelope = "bad_envelope"
	codeRateLimited = "rate_limited"
	codeUnsupported = "unsupported"
)

var errKinds = []error{
	ErrInvalidInput,
	ErrContentTooLarge,
	ErrNotFound,
	ErrPasswordRequired,
	ErrAccessDenied,
	ErrStoreFailure,
}

// OpError is returned by engine operations.
// errors.Is matches both the kind and the underlying cause.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *OpError) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
}

func (e *OpError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func opErr(op string, kind error, msg string) error {
	return &OpError{Op: op, Kind: kind, Msg: msg}
}

func storeErr(op string, err error) error {
	return &OpError{Op: op, Kind: ErrStoreFailure, Msg: "storage unavailable", Err: err}
}

// errorCode maps err to its wire code.
func errorCode(err error) string {
	for _, k := range errKinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return ErrStoreFailure.Error()
}

// errorMessage returns the client-facing message for err.
func errorMessage(err error) string {
	var oe *OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	return "internal error"
}
