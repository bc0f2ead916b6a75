package ids

import (
	"github.com/google/uuid"
)

// New returns a UUIDv7 string. Version 7 embeds a millisecond timestamp in
// the high bits, so ids sort in generation order, which the event store
// relies on for deterministic (timestamp, id) tie-breaking.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// The only failure mode is the OS entropy source; nothing
		// sensible to do without random ids.
		panic(err)
	}
	return id.String()
}
