package notes

import "errors"

// Store errors. Callers match them with errors.Is.
var (
	ErrInvalidInput    = errors.New("invalid_input")
	ErrRoomNotFound    = errors.New("room_not_found")
	ErrVersionNotFound = errors.New("version_not_found")
	ErrConflict        = errors.New("conflict")
)
