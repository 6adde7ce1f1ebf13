// Package clock supplies the current instant, market session windows, and
// days-to-expiration math. Components take a Clock so tests can pin time.
package clock

import "time"

// Clock abstracts time.Now.
type Clock interface {
	Now() time.Time
}

// Real is the wall clock.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time { return time.Now() }

// Fixed is a test clock pinned to an instant.
type Fixed struct {
	Instant time.Time
}

// Now returns the pinned instant.
func (f Fixed) Now() time.Time { return f.Instant }

// Session describes one regular trading session in a fixed location.
type Session struct {
	Location *time.Location
	Start    string // "HH:MM"
	End      string // "HH:MM"
}

// NewYorkSession builds a session for US equity market hours. An unknown
// timezone database falls back to a fixed ET offset so minimal containers
// still get a usable window.
func NewYorkSession(start, end string) Session {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("ET", -5*60*60)
	}
	return Session{Location: loc, Start: start, End: end}
}

// Bounds returns the session open and close instants for the day containing
// now. Malformed HH:MM strings fall back to 09:30-16:00.
func (s Session) Bounds(now time.Time) (time.Time, time.Time) {
	local := now.In(s.Location)
	open, err1 := time.ParseInLocation("15:04", s.Start, s.Location)
	closeClock, err2 := time.ParseInLocation("15:04", s.End, s.Location)
	if err1 != nil || err2 != nil {
		open = time.Date(0, 1, 1, 9, 30, 0, 0, s.Location)
		closeClock = time.Date(0, 1, 1, 16, 0, 0, 0, s.Location)
	}
	start := time.Date(local.Year(), local.Month(), local.Day(),
		open.Hour(), open.Minute(), 0, 0, s.Location)
	end := time.Date(local.Year(), local.Month(), local.Day(),
		closeClock.Hour(), closeClock.Minute(), 0, 0, s.Location)
	return start, end
}

// Contains reports whether now falls inside the session window on a weekday.
// Inclusive start, exclusive end.
func (s Session) Contains(now time.Time) bool {
	local := now.In(s.Location)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	start, end := s.Bounds(now)
	return !local.Before(start) && local.Before(end)
}

// MinutesToClose returns whole minutes until the session end, negative after
// the close.
func (s Session) MinutesToClose(now time.Time) int {
	_, end := s.Bounds(now)
	return int(end.Sub(now.In(s.Location)).Minutes())
}

// DTE returns whole calendar days from now until expiration, floored at 0.
func DTE(now, expiration time.Time) int {
	n := now.UTC().Truncate(24 * time.Hour)
	e := expiration.UTC().Truncate(24 * time.Hour)
	days := int(e.Sub(n).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
