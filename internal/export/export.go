// Package export renders stored lessons as an iCalendar feed.
package export

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"schedsync/internal/model"
)

const productID = "-//schedsync//schedule feed//RU"

// timesRe matches a period such as "8:30-10:00" or "08.30 – 10.00".
var timesRe = regexp.MustCompile(`(\d{1,2})[:.](\d{2})\s*[-–—]\s*(\d{1,2})[:.](\d{2})`)

// Feed builds a calendar with one VEVENT per lesson. Lessons whose period
// text parses become timed events in loc; the rest are all-day events.
// stamp is written as DTSTAMP.
func Feed(group string, lessons []model.Lesson, loc *time.Location, stamp time.Time) string {
	if loc == nil {
		loc = time.UTC
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for _, l := range lessons {
		if l.Blank() {
			continue
		}
		ev := cal.AddEvent(uid(l))
		ev.SetDtStampTime(stamp)
		ev.SetSummary(summary(l))
		if l.Room != "" {
			ev.SetLocation(l.Room)
		}
		if desc := description(group, l); desc != "" {
			ev.SetDescription(desc)
		}

		if start, end, ok := period(l, loc); ok {
			ev.SetStartAt(start)
			ev.SetEndAt(end)
		} else {
			day := l.Date.In(loc)
			ev.SetAllDayStartAt(day)
			ev.SetAllDayEndAt(day.AddDate(0, 0, 1))
		}
	}

	return cal.Serialize()
}

func uid(l model.Lesson) string {
	return fmt.Sprintf("%s-%d-%s@schedsync", l.Date, l.Number, strings.ReplaceAll(l.Group, " ", ""))
}

func summary(l model.Lesson) string {
	if l.Type == "" {
		return fmt.Sprintf("%d. %s", l.Number, l.Subject)
	}
	return fmt.Sprintf("%d. %s (%s)", l.Number, l.Subject, l.Type)
}

func description(group string, l model.Lesson) string {
	parts := make([]string, 0, 2)
	if group != "" {
		parts = append(parts, "Группа: "+group)
	}
	if l.Teacher != "" {
		parts = append(parts, "Преподаватель: "+l.Teacher)
	}
	return strings.Join(parts, "\n")
}

// period parses the lesson's times text into a start and end on its day.
func period(l model.Lesson, loc *time.Location) (time.Time, time.Time, bool) {
	m := timesRe.FindStringSubmatch(l.Times)
	if m == nil {
		return time.Time{}, time.Time{}, false
	}
	n := make([]int, 4)
	for i := range n {
		n[i], _ = strconv.Atoi(m[i+1])
	}
	if n[0] > 23 || n[1] > 59 || n[2] > 23 || n[3] > 59 {
		return time.Time{}, time.Time{}, false
	}
	day := l.Date.In(loc)
	start := day.Add(time.Duration(n[0])*time.Hour + time.Duration(n[1])*time.Minute)
	end := day.Add(time.Duration(n[2])*time.Hour + time.Duration(n[3])*time.Minute)
	if !end.After(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}
