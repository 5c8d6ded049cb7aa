package db

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrRunFinalized   = errors.New("sync run already finalized")
	ErrDuplicateRunID = errors.New("sync run id already exists")
)

// DateRange is a half-open calendar range [From, To)
type DateRange struct {
	From time.Time
	To   time.Time
}

// Horizon returns the range starting today covering the given number of days
func Horizon(now time.Time, days int) DateRange {
	y, m, d := now.UTC().Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return DateRange{From: from, To: from.AddDate(0, 0, days)}
}

func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}
