package conversation

import (
	"errors"
	"fmt"
	"strings"
)

const separator = "__"

// ErrInvalidPeer is returned for a peer name that cannot form a conversation id.
var ErrInvalidPeer = errors.New("invalid peer")

// ID returns the channel identity shared by a and b: both names sorted and
// joined with "__", so either side derives the same id.
func ID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + separator + b
}

// Peer returns the participant of id other than local.
func Peer(id, local string) (string, bool) {
	a, b, ok := strings.Cut(id, separator)
	if !ok {
		return "", false
	}
	switch local {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

// ValidatePeer rejects names that would produce an ambiguous or unsafe id.
func ValidatePeer(peer, local string) error {
	switch {
	case strings.TrimSpace(peer) == "":
		return fmt.Errorf("%w: empty name", ErrInvalidPeer)
	case peer == local:
		return fmt.Errorf("%w: cannot open a conversation with yourself", ErrInvalidPeer)
	case strings.Contains(peer, separator):
		return fmt.Errorf("%w: %q contains %q", ErrInvalidPeer, peer, separator)
	case strings.ContainsAny(peer, "/?#% \t\n"):
		return fmt.Errorf("%w: %q contains reserved characters", ErrInvalidPeer, peer)
	}
	return nil
}
