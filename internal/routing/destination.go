// Package routing classifies destination strings and resolves them into
// concrete per-session delivery sets.
package routing

import (
	"errors"
	"fmt"
	"strings"
)

// Destination prefixes.
const (
	TopicPrefix       = "/topic/"
	QueuePrefix       = "/queue/"
	UserPrefix        = "/user/"
	UserSessionPrefix = "/user-session/"
)

// Kind classifies a destination string. Classification is a pure
// function of the string; it never mutates state.
type Kind int

const (
	KindTopic Kind = iota // broadcast
	KindQueue             // point-to-point by naming convention
	KindUser              // user-scoped, resolved via the identity registry
	KindUserSession       // session-private rewritten form
)

func (k Kind) String() string {
	switch k {
	case KindTopic:
		return "topic"
	case KindQueue:
		return "queue"
	case KindUser:
		return "user"
	case KindUserSession:
		return "user-session"
	}
	return "unknown"
}

// ErrUnroutable marks a destination with an unrecognized prefix.
var ErrUnroutable = errors.New("unroutable destination")

// Classify returns the kind of a destination string.
func Classify(destination string) (Kind, error) {
	switch {
	case strings.HasPrefix(destination, TopicPrefix):
		return KindTopic, nil
	case strings.HasPrefix(destination, QueuePrefix):
		return KindQueue, nil
	case strings.HasPrefix(destination, UserSessionPrefix):
		return KindUserSession, nil
	case strings.HasPrefix(destination, UserPrefix):
		return KindUser, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnroutable, destination)
}

// Shared reports whether a destination is visible across instances and
// therefore eligible for relay forwarding. Session-private and
// user-scoped destinations resolve locally.
func Shared(destination string) bool {
	k, err := Classify(destination)
	if err != nil {
		return false
	}
	return k == KindTopic || k == KindQueue
}

// SplitUser decomposes a send-side user destination
// /user/{identity}/{suffix} into its identity and /{suffix}.
func SplitUser(destination string) (identity, suffix string, err error) {
	rest := strings.TrimPrefix(destination, UserPrefix)
	if rest == destination {
		return "", "", fmt.Errorf("%w: %q", ErrUnroutable, destination)
	}
	identity, suffix, ok := strings.Cut(rest, "/")
	if !ok || identity == "" || suffix == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnroutable, destination)
	}
	return identity, "/" + suffix, nil
}

// RewriteUserSubscription maps a subscribe-side logical user destination
// /user/{suffix} onto the session-private form the registry stores:
// /user-session/{sessionID}/{suffix}. Sends addressed to
// /user/{identity}/{suffix} later resolve to the same private form for
// each of the identity's sessions.
func RewriteUserSubscription(sessionID, destination string) (string, error) {
	suffix := strings.TrimPrefix(destination, UserPrefix)
	if suffix == destination || suffix == "" {
		return "", fmt.Errorf("%w: %q", ErrUnroutable, destination)
	}
	return UserSessionPrefix + sessionID + "/" + suffix, nil
}

// UserSessionDestination builds the private per-session form for one
// resolved session of a user-scoped send.
func UserSessionDestination(sessionID, suffix string) string {
	return UserSessionPrefix + sessionID + suffix
}
