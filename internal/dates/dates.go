// Package dates normalizes the date text each campus publishes into
// model.Date and owns the single canonical storage encoding.
package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"schedsync/internal/model"
)

// storedLayout is the canonical, sortable storage encoding.
const storedLayout = "2006-01-02"

var (
	// "5 сентября 2024"
	firstCampusRe = regexp.MustCompile(`^(\d{1,2})\s+(\p{L}+)\s+(\d{4})$`)
	// "05.09.2024"
	secondCampusRe = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})$`)
	// "пн 05.09.24", "Пн, 05.09.24", "05.09.24"
	thirdCampusRe = regexp.MustCompile(`^(?:\p{L}{2,11}\.?,?\s+)?(\d{1,2})\.(\d{1,2})\.(\d{2})$`)

	spaceRe = regexp.MustCompile(`\s+`)
)

// russianMonths maps both genitive ("сентября") and nominative ("сентябрь")
// month names to their number.
var russianMonths = map[string]time.Month{
	"января": time.January, "январь": time.January,
	"февраля": time.February, "февраль": time.February,
	"марта": time.March, "март": time.March,
	"апреля": time.April, "апрель": time.April,
	"мая": time.May, "май": time.May,
	"июня": time.June, "июнь": time.June,
	"июля": time.July, "июль": time.July,
	"августа": time.August, "август": time.August,
	"сентября": time.September, "сентябрь": time.September,
	"октября": time.October, "октябрь": time.October,
	"ноября": time.November, "ноябрь": time.November,
	"декабря": time.December, "декабрь": time.December,
}

// Parse converts campus-native date text into a calendar day. It reports
// false for anything outside the campus grammar or for impossible days; it
// never panics, so callers can drop a single row and carry on.
func Parse(text string, campus model.Campus) (model.Date, bool) {
	s := normalize(text)
	if s == "" {
		return model.Date{}, false
	}

	switch campus {
	case model.CampusFirst:
		m := firstCampusRe.FindStringSubmatch(s)
		if m == nil {
			return model.Date{}, false
		}
		month, ok := russianMonths[m[2]]
		if !ok {
			return model.Date{}, false
		}
		return build(m[3], month, m[1])

	case model.CampusSecond:
		m := secondCampusRe.FindStringSubmatch(s)
		if m == nil {
			return model.Date{}, false
		}
		month, ok := atoiMonth(m[2])
		if !ok {
			return model.Date{}, false
		}
		return build(m[3], month, m[1])

	case model.CampusThird:
		m := thirdCampusRe.FindStringSubmatch(s)
		if m == nil {
			return model.Date{}, false
		}
		month, ok := atoiMonth(m[2])
		if !ok {
			return model.Date{}, false
		}
		return build("20"+m[3], month, m[1])
	}

	return model.Date{}, false
}

// Format renders d in the canonical storage encoding (yyyy-mm-dd).
func Format(d model.Date) string {
	return d.In(time.UTC).Format(storedLayout)
}

// ParseStored is the inverse of Format.
func ParseStored(s string) (model.Date, bool) {
	t, err := time.Parse(storedLayout, strings.TrimSpace(s))
	if err != nil {
		return model.Date{}, false
	}
	return model.DateOf(t), true
}

// LegacyToStored rearranges a pre-v5 "dd.mm.yyyy" value into the canonical
// encoding by position, mirroring the store migration. It reports false for
// values that do not have the legacy shape.
func LegacyToStored(s string) (string, bool) {
	if len(s) != 10 || s[2] != '.' || s[5] != '.' {
		return "", false
	}
	return s[6:10] + "-" + s[3:5] + "-" + s[0:2], true
}

// Range returns every day from..to inclusive. It is empty when to is
// before from.
func Range(from, to model.Date) []model.Date {
	if to.Before(from) {
		return []model.Date{}
	}
	return expand(rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: from.In(time.UTC),
		Until:   to.In(time.UTC),
	})
}

// Week returns Monday through Saturday of the study week containing d.
func Week(d model.Date) []model.Date {
	t := d.In(time.UTC)
	offset := (int(t.Weekday()) + 6) % 7
	monday := d.AddDays(-offset)
	return expand(rrule.ROption{
		Freq:      rrule.DAILY,
		Dtstart:   monday.In(time.UTC),
		Until:     monday.AddDays(6).In(time.UTC),
		Byweekday: []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA},
	})
}

func expand(opt rrule.ROption) []model.Date {
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return []model.Date{}
	}
	all := r.All()
	out := make([]model.Date, 0, len(all))
	for _, t := range all {
		out = append(out, model.DateOf(t))
	}
	return out
}

func normalize(text string) string {
	s := strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
	// Casers keep state, so one per call.
	return cases.Lower(language.Russian).String(s)
}

func atoiMonth(s string) (time.Month, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 12 {
		return 0, false
	}
	return time.Month(n), true
}

func build(year string, month time.Month, day string) (model.Date, bool) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return model.Date{}, false
	}
	d, err := strconv.Atoi(day)
	if err != nil {
		return model.Date{}, false
	}
	return model.NewDate(y, month, d)
}
