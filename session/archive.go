package session

import "errors"

// ErrNotFound is returned by archives for unknown session IDs.
var ErrNotFound = errors.New("session: not found")

// Archived is a finished session as kept in the session archive.
type Archived struct {
	ID       int64
	DeviceID string
	Result
}
