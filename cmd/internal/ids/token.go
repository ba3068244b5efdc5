package ids

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

// RoomTokenBytes is the entropy of a generated room id (12 hex chars).
const RoomTokenBytes = 6

// NewUserID returns a random UUIDv4, generated once per connection.
func NewUserID() string {
	return uuid.NewString()
}

// NewRoomToken returns a short opaque room id.
func NewRoomToken() (string, error) {
	return RandomHex(RoomTokenBytes)
}

// RandomHex returns a cryptographically secure random hex string of length 2*nBytes.
func RandomHex(nBytes int) (string, error) {
	if nBytes <= 0 {
		return "", errors.New("ids: non-positive length")
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
