package sealbox

import "errors"

// Public, stable errors for callers.
var (
	ErrKeyMissing  = errors.New("content key missing")
	ErrKeyTooShort = errors.New("content key too short")
	ErrNotSealed   = errors.New("value is not sealed")
	ErrOpen        = errors.New("sealed value cannot be opened")
)
