package model

import (
	"fmt"
	"time"
)

// Campus identifies one of the physically separate class locations. Each
// campus publishes its schedule independently and in its own layout.
type Campus string

const (
	CampusFirst  Campus = "first"
	CampusSecond Campus = "second"
	CampusThird  Campus = "third"
)

// Campuses lists every known campus in sync order.
var Campuses = []Campus{CampusFirst, CampusSecond, CampusThird}

// Date is a timezone-naive calendar day. Lessons and notes are day-scoped,
// so no time component is kept.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate builds a Date, reporting false when the triple is not a real day
// (e.g. 31 February).
func NewDate(year int, month time.Month, day int) (Date, bool) {
	if year < 1 || year > 9999 || month < time.January || month > time.December || day < 1 {
		return Date{}, false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return Date{}, false
	}
	return Date{Year: year, Month: month, Day: day}, true
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// In returns midnight of the day in loc. A nil loc means UTC.
func (d Date) In(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d == Date{}
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool {
	return d.In(time.UTC).Before(o.In(time.UTC))
}

// AddDays returns the day n days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	return DateOf(d.In(time.UTC).AddDate(0, 0, n))
}

// String renders the canonical yyyy-mm-dd form.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// MarshalText renders the yyyy-mm-dd form.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText accepts the yyyy-mm-dd form.
func (d *Date) UnmarshalText(b []byte) error {
	t, err := time.Parse(time.DateOnly, string(b))
	if err != nil {
		return fmt.Errorf("date %q: want yyyy-mm-dd", b)
	}
	*d = DateOf(t)
	return nil
}

// Lesson is one scheduled class occurrence. The triple (Group, Date, Number)
// identifies a slot; a blank Subject marks a published empty slot.
type Lesson struct {
	Group   string `json:"group"`
	Date    Date   `json:"date"`
	Number  int    `json:"number"`
	Subject string `json:"subject"`
	Teacher string `json:"teacher,omitempty"`
	Room    string `json:"room,omitempty"`
	Type    string `json:"type,omitempty"`
	Times   string `json:"times,omitempty"`
}

// Key identifies the slot a lesson occupies.
type Key struct {
	Group  string
	Date   Date
	Number int
}

// Key returns the slot identity of the lesson.
func (l Lesson) Key() Key {
	return Key{Group: l.Group, Date: l.Date, Number: l.Number}
}

// Blank reports whether the lesson denotes a cancelled or empty slot.
func (l Lesson) Blank() bool {
	return l.Subject == ""
}

// Note is a user-authored annotation attached to a (Group, Date) pair.
type Note struct {
	ID              int64    `json:"id"`
	Group           string   `json:"group"`
	Date            Date     `json:"date"`
	Theme           string   `json:"theme"`
	Text            string   `json:"text"`
	PhotoIDs        []string `json:"photo_ids"`
	HasNotification bool     `json:"has_notification"`
}
