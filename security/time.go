package security

import "time"

// Clock is the time source used for every expiry decision in the server.
// Production code uses SystemClock; tests inject a controllable clock so
// lifetimes can be checked at exact offsets.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock {
	return systemClock{}
}

// IsExpired reports whether expiresAt has been reached at now.
// A record is expired at the exact instant of its expiry. A zero
// expiresAt never expires.
func IsExpired(now, expiresAt time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return !now.Before(expiresAt)
}

// RemainingLifetime returns how long a record has left at now, or zero
// when it has expired.
func RemainingLifetime(now, expiresAt time.Time) time.Duration {
	if IsExpired(now, expiresAt) {
		return 0
	}
	return expiresAt.Sub(now)
}
