package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"schedsync/internal/dates"
	"schedsync/internal/model"
)

const lessonColumns = `lessonDate, lessonNumber, roomNumber, lessonTimes, groupName, subjectName, teacherName, lessonType`

// MergeLessons writes lessons in one transaction. Each row first removes
// any stored row for its (group, date, number) slot, so the last row for a
// slot wins; rows with an empty subject are then pruned. It returns the
// number of slots left holding a lesson from this batch.
func (s *Store) MergeLessons(ctx context.Context, lessons []model.Lesson) (int, error) {
	if len(lessons) == 0 {
		return 0, nil
	}

	merged := 0
	err := s.write(ctx, func(tx *sql.Tx) error {
		del, err := tx.PrepareContext(ctx,
			`DELETE FROM tblSchedule WHERE groupName = ? AND lessonDate = ? AND lessonNumber = ?`)
		if err != nil {
			return fmt.Errorf("prepare delete: %w", err)
		}
		defer del.Close()

		ins, err := tx.PrepareContext(ctx,
			`INSERT INTO tblSchedule (`+lessonColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer ins.Close()

		for _, l := range lessons {
			date := dates.Format(l.Date)
			number := strconv.Itoa(l.Number)
			if _, err := del.ExecContext(ctx, l.Group, date, number); err != nil {
				return fmt.Errorf("clear slot %s %s #%d: %w", l.Group, date, l.Number, err)
			}
			if _, err := ins.ExecContext(ctx, date, number, l.Room, l.Times, l.Group, l.Subject, l.Teacher, l.Type); err != nil {
				return fmt.Errorf("insert %s %s #%d: %w", l.Group, date, l.Number, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM tblSchedule WHERE subjectName = ''`); err != nil {
			return fmt.Errorf("prune blanks: %w", err)
		}

		last := make(map[model.Key]bool, len(lessons))
		for _, l := range lessons {
			last[l.Key()] = !l.Blank()
		}
		for _, kept := range last {
			if kept {
				merged++
			}
		}
		return nil
	}, TableLessons)
	if err != nil {
		logWriteFailure("merge", err, "lessons", len(lessons))
		return 0, err
	}
	return merged, nil
}

// InsertLesson merges a single lesson.
func (s *Store) InsertLesson(ctx context.Context, l model.Lesson) error {
	_, err := s.MergeLessons(ctx, []model.Lesson{l})
	return err
}

// LessonsFor returns a group's lessons on date ordered by slot.
func (s *Store) LessonsFor(ctx context.Context, group string, date model.Date) ([]model.Lesson, error) {
	return s.queryLessons(ctx, `
		SELECT `+lessonColumns+` FROM tblSchedule
		WHERE groupName = ? AND lessonDate = ?
		ORDER BY CAST(lessonNumber AS INTEGER)`,
		group, dates.Format(date))
}

// LessonsBetween returns a group's lessons from..to inclusive ordered by
// date and slot.
func (s *Store) LessonsBetween(ctx context.Context, group string, from, to model.Date) ([]model.Lesson, error) {
	return s.queryLessons(ctx, `
		SELECT `+lessonColumns+` FROM tblSchedule
		WHERE groupName = ? AND lessonDate BETWEEN ? AND ?
		ORDER BY lessonDate, CAST(lessonNumber AS INTEGER)`,
		group, dates.Format(from), dates.Format(to))
}

// LessonsForTeacher returns every lesson a teacher gives on date. The name
// matches as a substring, since cells often carry several teachers.
func (s *Store) LessonsForTeacher(ctx context.Context, teacher string, date model.Date) ([]model.Lesson, error) {
	return s.queryLessons(ctx, `
		SELECT `+lessonColumns+` FROM tblSchedule
		WHERE lessonDate = ? AND teacherName LIKE ? ESCAPE '\'
		ORDER BY CAST(lessonNumber AS INTEGER), groupName`,
		dates.Format(date), likePattern(teacher))
}

// Groups lists every group with at least one stored lesson.
func (s *Store) Groups(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT groupName FROM tblSchedule ORDER BY groupName`)
}

// Teachers lists every non-empty teacher name.
func (s *Store) Teachers(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT DISTINCT teacherName FROM tblSchedule
		WHERE teacherName IS NOT NULL AND teacherName != ''
		ORDER BY teacherName`)
}

// SubjectsForGroup lists the subjects a group has lessons in.
func (s *Store) SubjectsForGroup(ctx context.Context, group string) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT DISTINCT subjectName FROM tblSchedule
		WHERE groupName = ?
		ORDER BY subjectName`, group)
}

// LastKnownLessonDate returns the latest day with a lesson for group. The
// bool is false when the group has none.
func (s *Store) LastKnownLessonDate(ctx context.Context, group string) (model.Date, bool, error) {
	var last sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(lessonDate) FROM tblSchedule WHERE groupName = ?`, group).Scan(&last)
	if err != nil {
		return model.Date{}, false, fmt.Errorf("query last lesson date: %w", err)
	}
	if !last.Valid {
		return model.Date{}, false, nil
	}
	d, ok := dates.ParseStored(last.String)
	return d, ok, nil
}

func (s *Store) queryLessons(ctx context.Context, query string, args ...any) ([]model.Lesson, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query lessons: %w", err)
	}
	defer rows.Close()

	lessons := make([]model.Lesson, 0)
	for rows.Next() {
		var (
			date, number, group, subject string
			room, times, teacher         sql.NullString
			typ                          string
		)
		if err := rows.Scan(&date, &number, &room, &times, &group, &subject, &teacher, &typ); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		d, ok := dates.ParseStored(date)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(number))
		if err != nil {
			continue
		}
		lessons = append(lessons, model.Lesson{
			Group:   group,
			Date:    d,
			Number:  n,
			Subject: subject,
			Teacher: teacher.String,
			Room:    room.String,
			Type:    typ,
			Times:   times.String,
		})
	}
	return lessons, rows.Err()
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
