package sheet

import (
	"regexp"
	"strings"
)

var (
	spaceRe      = regexp.MustCompile(`\s+`)
	slashRe      = regexp.MustCompile(`\s*/\s*`)
	groupSplitRe = regexp.MustCompile(`(\p{Cyrillic})(\d)`)
	lessonTypeRe = regexp.MustCompile(`\s*\((лек\.|пр\.|лаб\.)\)\s*$`)
)

// prepareGroup turns "А 31" or "А31" into "А-31".
func prepareGroup(group string) string {
	group = spaceRe.ReplaceAllString(group, "")
	return groupSplitRe.ReplaceAllString(group, "$1-$2")
}

// prepareTimes drops whitespace and pads a single-digit hour: "8:30 -10:00"
// becomes "08:30-10:00".
func prepareTimes(times string) string {
	times = spaceRe.ReplaceAllString(strings.TrimSpace(times), "")
	if times == "" {
		return ""
	}
	switch times[0] {
	case '0', '1', '2':
		return times
	}
	return "0" + times
}

func prepareTeacher(teacher string) string {
	teacher = strings.ReplaceAll(teacher, "/", " ")
	return spaceRe.ReplaceAllString(strings.TrimSpace(teacher), " ")
}

// prepareRoom joins room fragments: "204 / 3" becomes "204/3".
func prepareRoom(room string) string {
	room = slashRe.ReplaceAllString(strings.TrimSpace(room), "/")
	return spaceRe.ReplaceAllString(room, " ")
}

func prepareSubject(subject string) string {
	return spaceRe.ReplaceAllString(strings.TrimSpace(subject), " ")
}

// splitType detaches a trailing "(лек.)", "(пр.)" or "(лаб.)" tag.
func splitType(subject string) (string, string) {
	m := lessonTypeRe.FindStringSubmatchIndex(subject)
	if m == nil {
		return subject, ""
	}
	return strings.TrimSpace(subject[:m[0]]), subject[m[2]:m[3]]
}
