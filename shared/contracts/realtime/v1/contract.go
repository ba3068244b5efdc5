// Package v1 defines the notesync realtime protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the server, the smoke tool and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol negotiated by clients.
const Subprotocol = "notesync.v1"

// Type constants (wire-stable). Names mirror the event table of the protocol.
const (
	// TypeCreateRoom creates a named room (client -> server).
	TypeCreateRoom = "create-room"
	// TypeRoomCreated confirms room creation (server -> client).
	TypeRoomCreated = "room-created"

	// TypeJoinRoom asks to be admitted into a room (client -> server).
	TypeJoinRoom = "join-room"
	// TypeLoadContent carries the current document after admission (server -> client).
	TypeLoadContent = "load-content"
	// TypeRoomPasswordRequired reports a missing or wrong room password (server -> client).
	TypeRoomPasswordRequired = "room-password-required"

	// TypeLeaveRoom leaves the current room (client -> server).
	TypeLeaveRoom = "leave-room"
	// TypeUsersCount reports the live member count (server -> room).
	TypeUsersCount = "users-count"
	// TypeActiveUsers reports the presence list (server -> room).
	TypeActiveUsers = "active-users"

	// TypeDeleteRoom deletes the current room (client -> server).
	TypeDeleteRoom = "delete-room"
	// TypeRoomDeleted is the terminal event for a deleted room (server -> room).
	TypeRoomDeleted = "room-deleted"

	// TypeUpdateContent is used both ways: an edit (client -> server) and its fan-out (server -> room).
	TypeUpdateContent = "update-content"

	// TypeCursorUpdate is used both ways: a cursor move and its fan-out.
	TypeCursorUpdate = "cursor-update"

	// TypeTyping reports the typing state (client -> server).
	TypeTyping = "typing"
	// TypeUserTyping fans out a typing state (server -> room).
	TypeUserTyping = "user-typing"

	// TypeGetVersionHistory requests snapshots (client -> server).
	TypeGetVersionHistory = "get-version-history"
	// TypeVersionHistory returns snapshots newest first (server -> client).
	TypeVersionHistory = "version-history"
	// TypeRestoreVersion restores a snapshot as the current content (client -> server).
	TypeRestoreVersion = "restore-version"

	// TypePing is the liveness probe (server -> client).
	TypePing = "ping"
	// TypePong answers TypePing (client -> server).
	TypePong = "pong"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeCreateRoom,
		TypeRoomCreated,
		TypeJoinRoom,
		TypeLoadContent,
		TypeRoomPasswordRequired,
		TypeLeaveRoom,
		TypeUsersCount,
		TypeActiveUsers,
		TypeDeleteRoom,
		TypeRoomDeleted,
		TypeUpdateContent,
		TypeCursorUpdate,
		TypeTyping,
		TypeUserTyping,
		TypeGetVersionHistory,
		TypeVersionHistory,
		TypeRestoreVersion,
		TypePing,
		TypePong,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// CreateRoomPayload requests a new named room.
type CreateRoomPayload struct {
	RoomName        string `json:"roomName"`
	Password        string `json:"password,omitempty"`
	AutoDeleteHours int    `json:"autoDeleteHours"`
	HasPassword     bool   `json:"hasPassword"`
}

// RoomCreatedPayload returns the generated room id.
type RoomCreatedPayload struct {
	RoomID   string `json:"roomId"`
	RoomName string `json:"roomName"`
}

// JoinRoomPayload requests admission into a room.
type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	Password string `json:"password,omitempty"`
	UserName string `json:"userName,omitempty"`
}

// RoomInfoPayload is the public room metadata sent on admission.
type RoomInfoPayload struct {
	Name            string `json:"name"`
	HasPassword     bool   `json:"hasPassword"`
	AutoDeleteHours int    `json:"autoDeleteHours"`
	Created         bool   `json:"created,omitempty"`
}

// LoadContentPayload carries the current content to a freshly admitted session.
type LoadContentPayload struct {
	RoomID      string          `json:"roomId"`
	Content     string          `json:"content"`
	IsEncrypted bool            `json:"isEncrypted"`
	RoomInfo    RoomInfoPayload `json:"roomInfo"`
	UserID      string          `json:"userId"`
	UserName    string          `json:"userName"`
	Color       string          `json:"color"`
}

// RoomPasswordRequiredPayload tells the client to retry with a password.
type RoomPasswordRequiredPayload struct {
	RoomID string `json:"roomId"`
}

// RoomRefPayload identifies a room (leave-room, delete-room, room-deleted).
type RoomRefPayload struct {
	RoomID string `json:"roomId"`
}

// UsersCountPayload reports the live member count of a room.
type UsersCountPayload struct {
	RoomID string `json:"roomId"`
	Count  int    `json:"count"`
}

// PresencePayload summarizes one active user.
type PresencePayload struct {
	UserID         string    `json:"userId"`
	UserName       string    `json:"userName"`
	Color          string    `json:"color"`
	CursorPosition int       `json:"cursorPosition"`
	SelectionStart int       `json:"selectionStart"`
	SelectionEnd   int       `json:"selectionEnd"`
	LastSeen       time.Time `json:"lastSeen"`
}

// ActiveUsersPayload lists the active users of a room.
type ActiveUsersPayload struct {
	RoomID string            `json:"roomId"`
	Users  []PresencePayload `json:"users"`
}

// UpdateContentPayload submits a whole-document edit.
type UpdateContentPayload struct {
	RoomID        string `json:"roomId"`
	Content       string `json:"content"`
	ShouldEncrypt bool   `json:"shouldEncrypt,omitempty"`
}

// ContentUpdatedPayload fans out an applied edit or restoration.
type ContentUpdatedPayload struct {
	RoomID      string `json:"roomId"`
	Content     string `json:"content"`
	UpdatedBy   string `json:"updatedBy"`
	IsEncrypted bool   `json:"isEncrypted,omitempty"`
	IsRestored  bool   `json:"isRestored,omitempty"`
}

// CursorUpdatePayload reports a cursor move. Selection bounds default to the position.
type CursorUpdatePayload struct {
	RoomID         string `json:"roomId"`
	CursorPosition int    `json:"cursorPosition"`
	SelectionStart *int   `json:"selectionStart,omitempty"`
	SelectionEnd   *int   `json:"selectionEnd,omitempty"`
}

// CursorBroadcastPayload fans out another user's cursor.
type CursorBroadcastPayload struct {
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	Color          string `json:"color"`
	CursorPosition int    `json:"cursorPosition"`
	SelectionStart int    `json:"selectionStart"`
	SelectionEnd   int    `json:"selectionEnd"`
}

// TypingPayload reports the sender's typing state.
type TypingPayload struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// UserTypingPayload fans out another user's typing state.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// GetVersionHistoryPayload requests the newest snapshots of a room.
type GetVersionHistoryPayload struct {
	RoomID string `json:"roomId"`
	Limit  int    `json:"limit,omitempty"`
}

// VersionPayload is one immutable snapshot.
type VersionPayload struct {
	ID            int64     `json:"id"`
	RoomID        string    `json:"roomId"`
	VersionNumber int64     `json:"versionNumber"`
	Content       string    `json:"content"`
	CreatedBy     string    `json:"createdBy"`
	CreatedAt     time.Time `json:"createdAt"`
}

// VersionHistoryPayload returns snapshots newest first.
type VersionHistoryPayload struct {
	RoomID   string           `json:"roomId"`
	Versions []VersionPayload `json:"versions"`
}

// RestoreVersionPayload restores a snapshot.
type RestoreVersionPayload struct {
	RoomID    string `json:"roomId"`
	VersionID int64  `json:"versionId"`
}

// PingPayload is the liveness probe body.
type PingPayload struct{}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
