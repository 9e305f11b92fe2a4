package cortex

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a new time-sortable UUIDv7 identifier, used for envelopes,
// bus entries, pending ops, and router jobs alike.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Now returns the current time truncated to millisecond precision so that
// values round-trip cleanly through SQLite's text timestamp columns.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
