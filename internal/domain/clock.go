package domain

import "time"

// Now returns the current time in UTC at the microsecond precision the
// relational store keeps, so values survive a round trip unchanged.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
