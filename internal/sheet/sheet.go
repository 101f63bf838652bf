// Package sheet converts downloaded schedule workbooks into lesson rows.
// Each campus has its own layout; rows that cannot be read are skipped one
// by one and the output is not deduplicated.
package sheet

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	appLog "schedsync/internal/log"
	"schedsync/internal/model"
)

// Parse reads a workbook published by campus. The current year completes
// sheet names that carry only day and month.
func Parse(data []byte, campus model.Campus) ([]model.Lesson, error) {
	return ParseAt(data, campus, time.Now())
}

// ParseAt is Parse with an explicit reference time.
func ParseAt(data []byte, campus model.Campus, now time.Time) ([]model.Lesson, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var layout func(*excelize.File, string, grid) []model.Lesson
	switch campus {
	case model.CampusFirst:
		layout = parseFirst
	case model.CampusSecond:
		year := now.Year()
		layout = func(_ *excelize.File, name string, g grid) []model.Lesson {
			return parseSecond(name, g, year)
		}
	case model.CampusThird:
		layout = func(_ *excelize.File, _ string, g grid) []model.Lesson {
			return parseThird(g)
		}
	default:
		return nil, fmt.Errorf("unknown campus %q", campus)
	}

	lessons := make([]model.Lesson, 0)
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			appLog.Error("read sheet failed", err, "campus", campus, "sheet", name)
			continue
		}
		got := layout(f, name, grid(rows))
		appLog.Debug("sheet parsed", "campus", campus, "sheet", name, "lessons", len(got))
		lessons = append(lessons, got...)
	}
	return lessons, nil
}

// grid is a sheet's cell text, row-major and 0-based. Out-of-range reads
// yield "", like merged or missing cells.
type grid [][]string

func (g grid) cell(row, col int) string {
	if row < 0 || row >= len(g) || col < 0 || col >= len(g[row]) {
		return ""
	}
	return g[row][col]
}

// groupColumn is a group name and the column its block starts at.
type groupColumn struct {
	col  int
	name string
}

// groupColumns reads group names from row, starting at column from. Only
// the first cell of a merged block carries text, so empty cells are gaps.
func (g grid) groupColumns(row, from int, skip ...string) []groupColumn {
	var out []groupColumn
	if row >= len(g) {
		return out
	}
cells:
	for c := from; c < len(g[row]); c++ {
		v := strings.TrimSpace(g[row][c])
		if v == "" {
			continue
		}
		for _, s := range skip {
			if v == s {
				continue cells
			}
		}
		out = append(out, groupColumn{col: c, name: prepareGroup(v)})
	}
	return out
}

// lessonNumber reads a slot ordinal. Numeric cells may come back as "1" or
// "1.0".
func lessonNumber(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, n > 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 1 || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

func newLesson(group string, date model.Date, number int, subject, teacher, room, times string) model.Lesson {
	subject, typ := splitType(prepareSubject(subject))
	return model.Lesson{
		Group:   group,
		Date:    date,
		Number:  number,
		Subject: subject,
		Teacher: prepareTeacher(teacher),
		Room:    prepareRoom(room),
		Type:    typ,
		Times:   prepareTimes(times),
	}
}
