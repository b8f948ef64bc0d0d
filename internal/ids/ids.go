package ids

import "github.com/segmentio/ksuid"

// New returns a time-sortable identifier for log-safe record handles.
// It is not a secret and must never stand in for a session token.
func New() string {
	return ksuid.New().String()
}
