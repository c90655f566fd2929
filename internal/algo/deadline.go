package algo

import (
	"context"
	"time"
)

// checkEvery is the number of search expansions between deadline checks.
const checkEvery = 64

// deadline bounds a search by wall clock and by context cancellation. The zero
// value never expires.
type deadline struct {
	ctx context.Context
	at  time.Time
}

func (d deadline) exceeded() bool {
	if d.ctx != nil && d.ctx.Err() != nil {
		return true
	}
	return !d.at.IsZero() && time.Now().After(d.at)
}

// earlier returns the earlier of two deadlines; a zero time means none.
func earlier(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case a.Before(b):
		return a
	}
	return b
}
