package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMissingRoomURL  = errors.New("room url is required to join")
	ErrUnknownProvider = errors.New("unknown video provider")
	ErrNoRoom          = errors.New("no video provider configured")
	ErrNotConnected    = errors.New("room is not connected")
	// ErrJoinSuperseded is returned by a Join cut short by a later Join or Leave on the same room.
	ErrJoinSuperseded = errors.New("join superseded")
)

// Error is the single error shape that crosses the Room boundary,
// whatever SDK produced the failure.
type Error struct {
	Provider ProviderName
	Op       string
	Message  string
	Err      error
}

func NewError(provider ProviderName, op string, err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Provider: provider, Op: op, Message: msg, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }
