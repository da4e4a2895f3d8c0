package protocol

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
)

// DefaultUsername is used when the user does not pick a display name.
const DefaultUsername = "Anonymous"

// Identity names the author of a message. It is created once per client
// session (or once per accepted connection on the server) and never changes.
type Identity struct {
	Username string    `json:"username"`
	UserID   uuid.UUID `json:"user_id"`
}

// NewIdentity returns an identity with a fresh random id.
func NewIdentity(username string) Identity {
	if username == "" {
		username = DefaultUsername
	}
	return Identity{Username: username, UserID: uuid.New()}
}

// NewFallbackIdentity builds the identity the server attaches to lines coming
// from peers that never speak the structured protocol (telnet, nc, ...).
func NewFallbackIdentity() Identity {
	return NewIdentity(fmt.Sprintf("%s%d", DefaultUsername, rand.IntN(1<<16)))
}

func (id Identity) String() string {
	return id.Username
}
