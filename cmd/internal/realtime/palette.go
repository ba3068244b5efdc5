package realtime

import "math/rand/v2"

// Palette is the fixed set of user colors.
var Palette = [...]string{
	"#007bff",
	"#28a745",
	"#dc3545",
	"#ffc107",
	"#17a2b8",
	"#6610f2",
	"#e83e8c",
	"#fd7e14",
}

func randomColor() string {
	return Palette[rand.IntN(len(Palette))]
}

// defaultUserName derives a display name from the random tail of a session id.
func defaultUserName(sessionID string) string {
	if len(sessionID) > 6 {
		sessionID = sessionID[len(sessionID)-6:]
	}
	return "User_" + sessionID
}
