package notify

import (
	"crypto/rand"
	"encoding/base64"
)

// newToken returns a short opaque action token: "~" + base64url(6 random
// bytes). Short enough for toolkit action payload limits, random enough
// that collisions within an action-cache TTL window are negligible.
func newToken() string {
	var buf [6]byte
	_, _ = rand.Read(buf[:])
	return "~" + base64.RawURLEncoding.EncodeToString(buf[:])
}
