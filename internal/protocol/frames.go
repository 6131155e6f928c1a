package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

type FrameType string

const (
	FrameWelcome       FrameType = "welcome"
	FrameAuthenticate  FrameType = "authenticate"
	FrameAuthenticated FrameType = "authenticated"
	FrameAuthError     FrameType = "auth_error"
	FramePing          FrameType = "ping"
	FramePong          FrameType = "pong"
)

var (
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrUnexpectedFrame = errors.New("unexpected frame")
)

// Error is a protocol violation on one channel connection. It is always
// fatal to that connection.
type Error struct {
	Err    error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

func malformed(format string, args ...any) error {
	return &Error{Err: ErrMalformedFrame, Detail: fmt.Sprintf(format, args...)}
}

func unexpected(format string, args ...any) error {
	return &Error{Err: ErrUnexpectedFrame, Detail: fmt.Sprintf(format, args...)}
}

// Control is a non-event frame in either direction.
type Control struct {
	Type      FrameType `json:"type"`
	Message   string    `json:"message,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Origin    string    `json:"origin,omitempty"`
}

func encodeControl(c Control) []byte {
	// Control only holds strings, Marshal cannot fail.
	data, _ := json.Marshal(c)
	return data
}

func Welcome(message string) []byte {
	return encodeControl(Control{Type: FrameWelcome, Message: message})
}

func Authenticated(message string) []byte {
	return encodeControl(Control{Type: FrameAuthenticated, Message: message})
}

func AuthError(message string) []byte {
	return encodeControl(Control{Type: FrameAuthError, Message: message})
}

func Pong() []byte {
	return encodeControl(Control{Type: FramePong})
}

func Ping() []byte {
	return encodeControl(Control{Type: FramePing})
}

// Authenticate builds the client credential frame. Origin is only sent by
// sync gateways.
func Authenticate(token, origin string) []byte {
	return encodeControl(Control{Type: FrameAuthenticate, SessionID: token, Origin: origin})
}

// DecodeInbound parses a frame sent by a channel client. Only authenticate
// and ping are accepted.
func DecodeInbound(data []byte) (Control, error) {
	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		return Control{}, malformed("%v", err)
	}
	switch c.Type {
	case FrameAuthenticate:
		if c.SessionID == "" {
			return Control{}, malformed("authenticate without sessionId")
		}
		return c, nil
	case FramePing:
		return c, nil
	case "":
		return Control{}, malformed("missing type")
	default:
		return Control{}, unexpected("type %q", c.Type)
	}
}

// DecodeServer parses a control frame sent by a channel server to a client.
func DecodeServer(data []byte) (Control, error) {
	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		return Control{}, malformed("%v", err)
	}
	switch c.Type {
	case FrameWelcome, FrameAuthenticated, FrameAuthError, FramePong:
		return c, nil
	case "":
		return Control{}, malformed("missing type")
	default:
		return Control{}, unexpected("type %q", c.Type)
	}
}
