// Package frame implements the line-oriented wire frame exchanged with
// clients and with the relay broker.
//
// Wire shape:
//
//	COMMAND
//	header-name:header-value
//
//	payload\x00
//
// A bare newline on the wire is a heartbeat, not a frame.
package frame

import (
	"errors"
	"fmt"
)

// Command identifies the frame kind.
type Command string

const (
	CmdConnect     Command = "CONNECT"
	CmdConnected   Command = "CONNECTED"
	CmdSend        Command = "SEND"
	CmdSubscribe   Command = "SUBSCRIBE"
	CmdUnsubscribe Command = "UNSUBSCRIBE"
	CmdMessage     Command = "MESSAGE"
	CmdError       Command = "ERROR"
	CmdDisconnect  Command = "DISCONNECT"
)

// Well-known header names.
const (
	HdrDestination  = "destination"
	HdrID           = "id"
	HdrSubscription = "subscription"
	HdrLogin        = "login"
	HdrPasscode     = "passcode"
	HdrHost         = "host"
	HdrHeartBeat    = "heart-beat"
	HdrSession      = "session"
	HdrMessage      = "message"
	HdrOrigin       = "x-origin"
)

// Errors
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownCommand = errors.New("unknown command")
)

// Frame is a single protocol frame.
type Frame struct {
	Command Command
	Headers map[string]string
	Body    []byte

	// SessionID is the originating session, set by the transport layer
	// after parsing. It never travels on the wire.
	SessionID string
}

// New creates a frame with the given command and an empty header map.
func New(cmd Command) *Frame {
	return &Frame{
		Command: cmd,
		Headers: make(map[string]string),
	}
}

// NewMessage builds a MESSAGE frame for delivery to one subscriber.
func NewMessage(destination, subscriptionID string, body []byte) *Frame {
	f := New(CmdMessage)
	f.Headers[HdrDestination] = destination
	f.Headers[HdrSubscription] = subscriptionID
	f.Body = body
	return f
}

// NewError builds an ERROR frame carrying a short message and the
// offending frame's body, if any.
func NewError(msg string, body []byte) *Frame {
	f := New(CmdError)
	f.Headers[HdrMessage] = msg
	f.Body = body
	return f
}

// Header returns the named header, or "" if absent.
func (f *Frame) Header(name string) string {
	if f.Headers == nil {
		return ""
	}
	return f.Headers[name]
}

// SetHeader sets a header, allocating the map if needed.
func (f *Frame) SetHeader(name, value string) {
	if f.Headers == nil {
		f.Headers = make(map[string]string)
	}
	f.Headers[name] = value
}

// Destination returns the destination header.
func (f *Frame) Destination() string { return f.Header(HdrDestination) }

// SubscriptionID returns the subscription identifier for this frame:
// the id header on SUBSCRIBE/UNSUBSCRIBE, the subscription header on MESSAGE.
func (f *Frame) SubscriptionID() string {
	if f.Command == CmdMessage {
		return f.Header(HdrSubscription)
	}
	return f.Header(HdrID)
}

// Clone returns a deep copy. The body slice is shared: frames are never
// mutated after routing, only their headers.
func (f *Frame) Clone() *Frame {
	c := &Frame{
		Command:   f.Command,
		Headers:   make(map[string]string, len(f.Headers)),
		Body:      f.Body,
		SessionID: f.SessionID,
	}
	for k, v := range f.Headers {
		c.Headers[k] = v
	}
	return c
}

// Validate checks that the frame carries the headers its command requires.
func (f *Frame) Validate() error {
	switch f.Command {
	case CmdSend, CmdMessage:
		if f.Destination() == "" {
			return fmt.Errorf("%w: %s missing destination header", ErrMalformedFrame, f.Command)
		}
	case CmdSubscribe:
		if f.Destination() == "" {
			return fmt.Errorf("%w: SUBSCRIBE missing destination header", ErrMalformedFrame)
		}
		if f.Header(HdrID) == "" {
			return fmt.Errorf("%w: SUBSCRIBE missing id header", ErrMalformedFrame)
		}
	case CmdUnsubscribe:
		if f.Header(HdrID) == "" {
			return fmt.Errorf("%w: UNSUBSCRIBE missing id header", ErrMalformedFrame)
		}
	case CmdConnect, CmdConnected, CmdError, CmdDisconnect:
		// No required headers at this layer.
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, f.Command)
	}
	if f.Command == CmdMessage && f.Header(HdrSubscription) == "" {
		return fmt.Errorf("%w: MESSAGE missing subscription header", ErrMalformedFrame)
	}
	return nil
}
