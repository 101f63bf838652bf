package sheet

import (
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"schedsync/internal/dates"
	"schedsync/internal/model"
)

// First campus: one sheet per day named "5 сентября 2024". Group names sit
// on row 3 from column 2; each group block is four columns wide with the
// room in its last column. The day has six slots of four rows: subject on
// the first two, teacher on the third. Slot number and times are in
// column 1. Hidden rows between the header and the grid are skipped.
const (
	firstGroupsRow  = 3
	firstSlots      = 6
	firstSlotHeight = 4
)

// Second campus: one sheet per day named "05.09". Group names on row 3,
// slots of two rows (subject, teacher) from row 5 until the footer row that
// repeats the group names. Blocks are three columns wide.
const (
	secondGroupsRow  = 3
	secondFirstRow   = 5
	secondSlotHeight = 2
)

const groupsFromCol = 2

func parseFirst(f *excelize.File, name string, g grid) []model.Lesson {
	lessons := make([]model.Lesson, 0)

	date, ok := dates.Parse(name, model.CampusFirst)
	if !ok {
		return lessons
	}
	groups := g.groupColumns(firstGroupsRow, groupsFromCol, "Группа", "День недели")
	if len(groups) == 0 {
		return lessons
	}

	start := -1
	for j := firstGroupsRow + 2; j < len(g); j++ {
		visible, err := f.GetRowVisible(name, j+1)
		if err == nil && visible {
			start = j
			break
		}
	}
	if start < 0 {
		return lessons
	}

	for j := start; j < start+firstSlots*firstSlotHeight; j += firstSlotHeight {
		number, ok := lessonNumber(g.cell(j, 1))
		if !ok {
			continue
		}
		times := g.cell(j+1, 1)
		for i, gc := range groups {
			k := gc.col
			roomCol := k + 3
			if i+1 < len(groups) {
				roomCol = groups[i+1].col - 1
			}
			lessons = append(lessons, newLesson(
				gc.name, date, number,
				g.cell(j, k)+" "+g.cell(j+1, k),
				g.cell(j+2, k),
				g.cell(j, roomCol)+" "+g.cell(j+1, roomCol)+" "+g.cell(j+2, roomCol),
				times,
			))
		}
	}
	return lessons
}

func parseSecond(name string, g grid, year int) []model.Lesson {
	lessons := make([]model.Lesson, 0)

	name = strings.TrimSpace(name)
	date, ok := dates.Parse(name, model.CampusSecond)
	if !ok {
		date, ok = dates.Parse(name+"."+strconv.Itoa(year), model.CampusSecond)
	}
	if !ok {
		return lessons
	}
	groups := g.groupColumns(secondGroupsRow, groupsFromCol)
	if len(groups) == 0 {
		return lessons
	}

	for j := secondFirstRow; j < len(g); j += secondSlotHeight {
		if isFooter(g, j, groups) {
			break
		}
		number, ok := lessonNumber(g.cell(j, 1))
		if !ok {
			continue
		}
		times := g.cell(j+1, 1)
		for i, gc := range groups {
			k := gc.col
			var room string
			if i+1 < len(groups) {
				room = g.cell(j, groups[i+1].col-1)
			} else {
				room = g.cell(j, k+2)
				if strings.TrimSpace(room) == "" {
					room = g.cell(j, k+3)
				}
			}
			lessons = append(lessons, newLesson(gc.name, date, number, g.cell(j, k), g.cell(j+1, k), room, times))
		}
	}
	return lessons
}

func isFooter(g grid, row int, groups []groupColumn) bool {
	for _, gc := range groups {
		if v := strings.TrimSpace(g.cell(row, gc.col)); v != "" && prepareGroup(v) == gc.name {
			return true
		}
	}
	return false
}

// Third campus: a flat table, one lesson per row, under a header naming
// the columns. A blank date cell continues the date above it.
type thirdColumns struct {
	date, group, number, times, subject, teacher, room int
}

var thirdHeaders = map[string][]string{
	"date":    {"дата"},
	"group":   {"группа"},
	"number":  {"№", "пара", "номер"},
	"times":   {"время"},
	"subject": {"дисциплина", "предмет"},
	"teacher": {"преподаватель"},
	"room":    {"аудитория", "кабинет"},
}

func findThirdHeader(g grid) (int, thirdColumns, bool) {
	for r := range g {
		found := map[string]int{}
		for c, v := range g[r] {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "" {
				continue
			}
			for key, names := range thirdHeaders {
				if _, done := found[key]; done {
					continue
				}
				for _, n := range names {
					if strings.HasPrefix(v, n) {
						found[key] = c
						break
					}
				}
			}
		}
		_, hasDate := found["date"]
		_, hasGroup := found["group"]
		_, hasNumber := found["number"]
		_, hasSubject := found["subject"]
		if !hasDate || !hasGroup || !hasNumber || !hasSubject {
			continue
		}
		col := func(key string) int {
			if c, ok := found[key]; ok {
				return c
			}
			return -1
		}
		return r, thirdColumns{
			date:    found["date"],
			group:   found["group"],
			number:  found["number"],
			times:   col("times"),
			subject: found["subject"],
			teacher: col("teacher"),
			room:    col("room"),
		}, true
	}
	return 0, thirdColumns{}, false
}

// thirdDate reads the date column, which holds either text like
// "пн 02.09.24" or a date-typed cell whose raw value is an Excel serial.
func thirdDate(text string) (model.Date, bool) {
	if d, ok := dates.Parse(text, model.CampusThird); ok {
		return d, true
	}
	serial, err := strconv.ParseFloat(text, 64)
	if err != nil || serial < 1 {
		return model.Date{}, false
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return model.Date{}, false
	}
	return model.DateOf(t), true
}

func parseThird(g grid) []model.Lesson {
	lessons := make([]model.Lesson, 0)

	header, cols, ok := findThirdHeader(g)
	if !ok {
		return lessons
	}

	var current model.Date
	for r := header + 1; r < len(g); r++ {
		if text := strings.TrimSpace(g.cell(r, cols.date)); text != "" {
			d, ok := thirdDate(text)
			if !ok {
				current = model.Date{}
				continue
			}
			current = d
		}
		if current.IsZero() {
			continue
		}
		group := prepareGroup(g.cell(r, cols.group))
		if group == "" {
			continue
		}
		number, ok := lessonNumber(g.cell(r, cols.number))
		if !ok {
			continue
		}
		lessons = append(lessons, newLesson(
			group, current, number,
			g.cell(r, cols.subject),
			g.cell(r, cols.teacher),
			g.cell(r, cols.room),
			g.cell(r, cols.times),
		))
	}
	return lessons
}
