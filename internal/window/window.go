// Package window maps an invocation time onto the discrete extraction window
// whose storage prefix holds the current drop.
package window

import (
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// DefaultRoot is the top-level folder drops are written under.
const DefaultRoot = "trucks"

// DefaultHours are the hours of the day (UTC) at which drops land.
var DefaultHours = []int{12, 15, 18, 21}

// ErrNoValidWindow is returned when the invocation hour precedes every window.
// It is never rolled back to the previous day's last window.
var ErrNoValidWindow = errors.New("no valid extraction window for current time")

// ExtractionWindow identifies one drop: a calendar date and window start hour.
type ExtractionWindow struct {
	Hour   int
	Date   civil.Date
	Prefix string
}

// Resolver holds the ascending window hour marks and the storage root.
type Resolver struct {
	hours []int
	root  string
}

// NewResolver validates hour marks (0-23, strictly ascending, non-empty).
func NewResolver(root string, hours []int) (*Resolver, error) {
	if len(hours) == 0 {
		return nil, errors.New("window: at least one hour mark is required")
	}
	for i, h := range hours {
		if h < 0 || h > 23 {
			return nil, fmt.Errorf("window: hour mark %d out of range", h)
		}
		if i > 0 && h <= hours[i-1] {
			return nil, fmt.Errorf("window: hour marks must be strictly ascending, got %v", hours)
		}
	}
	marks := make([]int, len(hours))
	copy(marks, hours)
	return &Resolver{hours: marks, root: root}, nil
}

// Default returns the resolver for the standard drop schedule.
func Default() *Resolver {
	r, _ := NewResolver(DefaultRoot, DefaultHours)
	return r
}

// Resolve picks the greatest hour mark not after now's UTC hour-of-day.
func (r *Resolver) Resolve(now time.Time) (ExtractionWindow, error) {
	now = now.UTC()
	hour := -1
	for i := len(r.hours) - 1; i >= 0; i-- {
		if r.hours[i] <= now.Hour() {
			hour = r.hours[i]
			break
		}
	}
	if hour < 0 {
		return ExtractionWindow{}, fmt.Errorf("%w: hour %d is before first window %d", ErrNoValidWindow, now.Hour(), r.hours[0])
	}

	date := civil.DateOf(now)
	return ExtractionWindow{
		Hour:   hour,
		Date:   date,
		Prefix: r.Prefix(date, hour),
	}, nil
}

// Prefix renders the storage folder for a date and window hour,
// e.g. "trucks/2024-07/5/15". Day and hour are not zero padded.
func (r *Resolver) Prefix(date civil.Date, hour int) string {
	return fmt.Sprintf("%s/%04d-%02d/%d/%d", r.root, date.Year, int(date.Month), date.Day, hour)
}

// Hours returns a copy of the configured hour marks.
func (r *Resolver) Hours() []int {
	out := make([]int, len(r.hours))
	copy(out, r.hours)
	return out
}

// Next returns the first hour mark strictly after now, in UTC. After the last
// mark of a day it is the first mark of the next day.
func (r *Resolver) Next(now time.Time) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for _, h := range r.hours {
		if t := day.Add(time.Duration(h) * time.Hour); t.After(now) {
			return t
		}
	}
	return day.AddDate(0, 0, 1).Add(time.Duration(r.hours[0]) * time.Hour)
}
