package export

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"

	"schedsync/internal/model"
)

func TestFeed(t *testing.T) {
	d := model.Date{Year: 2024, Month: time.September, Day: 5}
	lessons := []model.Lesson{
		{Group: "А-31", Date: d, Number: 1, Subject: "История", Teacher: "Иванов И.И.", Room: "204", Times: "8:30-10:00", Type: "лек."},
		{Group: "А-31", Date: d, Number: 2, Subject: "Химия", Times: "по расписанию"},
		{Group: "А-31", Date: d, Number: 3, Subject: ""},
	}
	stamp := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

	body := Feed("А-31", lessons, time.UTC, stamp)
	cal, err := ical.ParseCalendar(strings.NewReader(body))
	if err != nil {
		t.Fatalf("ParseCalendar: %v", err)
	}

	events := cal.Events()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (blank slot skipped)", len(events))
	}

	first := events[0]
	if got := first.GetProperty(ical.ComponentPropertySummary).Value; got != "1. История (лек.)" {
		t.Errorf("summary = %q", got)
	}
	if got := first.GetProperty(ical.ComponentPropertyLocation).Value; got != "204" {
		t.Errorf("location = %q", got)
	}
	start, err := first.GetStartAt()
	if err != nil || !start.Equal(time.Date(2024, 9, 5, 8, 30, 0, 0, time.UTC)) {
		t.Errorf("start = %v, %v", start, err)
	}
	end, err := first.GetEndAt()
	if err != nil || !end.Equal(time.Date(2024, 9, 5, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %v, %v", end, err)
	}

	second := events[1]
	if v := second.GetProperty(ical.ComponentPropertyDtStart).Value; strings.Contains(v, "T") {
		t.Errorf("unparseable times should give an all-day event, dtstart = %q", v)
	}
	if id := second.Id(); id != "2024-09-05-2-А-31@schedsync" {
		t.Errorf("uid = %q", id)
	}
}

func TestPeriod(t *testing.T) {
	d := model.Date{Year: 2024, Month: time.September, Day: 5}
	cases := []struct {
		times string
		ok    bool
	}{
		{"8:30-10:00", true},
		{"08.30 – 10.00", true},
		{"10:00-8:30", false},
		{"25:00-26:00", false},
		{"", false},
	}
	for _, c := range cases {
		_, _, ok := period(model.Lesson{Date: d, Times: c.times}, time.UTC)
		if ok != c.ok {
			t.Errorf("period(%q) ok = %v, want %v", c.times, ok, c.ok)
		}
	}
}
