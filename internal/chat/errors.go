package chat

import "errors"

var (
	// ErrUnknownConnection is returned when the session vanished before an
	// operation on it completed.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrNotFound is returned by the registry when removing a session that is
	// already gone.
	ErrNotFound = errors.New("session not found")
	// ErrNotJoined is returned when a connection acts before joining.
	ErrNotJoined = errors.New("connection has not joined")
	// ErrStoreUnavailable wraps every failed message or identity store call.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidPayload is returned for events whose content is unusable.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrDuplicateSignal is returned when a disconnect is processed again.
	ErrDuplicateSignal = errors.New("duplicate signal")
	// ErrClosed is returned once the coordinator has been shut down.
	ErrClosed = errors.New("coordinator closed")
)
