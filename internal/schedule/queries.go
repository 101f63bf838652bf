package schedule

import (
	"context"
	"errors"

	"schedsync/internal/dates"
	"schedsync/internal/model"
	"schedsync/internal/store"
)

// Lessons returns the group's lessons on date ordered by number.
func (r *Repository) Lessons(ctx context.Context, group string, date model.Date) ([]model.Lesson, error) {
	return r.store.LessonsFor(ctx, group, date)
}

// LessonsBetween returns the group's lessons in [from, to].
func (r *Repository) LessonsBetween(ctx context.Context, group string, from, to model.Date) ([]model.Lesson, error) {
	return r.store.LessonsBetween(ctx, group, from, to)
}

// TeacherLessons returns lessons on date whose teacher contains teacher.
func (r *Repository) TeacherLessons(ctx context.Context, teacher string, date model.Date) ([]model.Lesson, error) {
	return r.store.LessonsForTeacher(ctx, teacher, date)
}

func (r *Repository) Groups(ctx context.Context) ([]string, error) {
	return r.store.Groups(ctx)
}

func (r *Repository) Teachers(ctx context.Context) ([]string, error) {
	return r.store.Teachers(ctx)
}

func (r *Repository) Subjects(ctx context.Context, group string) ([]string, error) {
	return r.store.SubjectsForGroup(ctx, group)
}

// LastKnownDate returns the latest day with lessons for group.
func (r *Repository) LastKnownDate(ctx context.Context, group string) (model.Date, bool, error) {
	return r.store.LastKnownLessonDate(ctx, group)
}

// WatchLessons streams the group's lessons on date, re-evaluated after
// every committed lesson write.
func (r *Repository) WatchLessons(ctx context.Context, group string, date model.Date) <-chan []model.Lesson {
	return store.Watch(ctx, r.store, func(ctx context.Context) ([]model.Lesson, error) {
		return r.store.LessonsFor(ctx, group, date)
	}, store.TableLessons)
}

// WatchLessonsRange streams the group's lessons in [from, to].
func (r *Repository) WatchLessonsRange(ctx context.Context, group string, from, to model.Date) <-chan []model.Lesson {
	return store.Watch(ctx, r.store, func(ctx context.Context) ([]model.Lesson, error) {
		return r.store.LessonsBetween(ctx, group, from, to)
	}, store.TableLessons)
}

// WatchWeek streams one lesson list per day of the Monday-based week
// containing date.
func (r *Repository) WatchWeek(ctx context.Context, group string, date model.Date) <-chan map[model.Date][]model.Lesson {
	week := dates.Week(date)
	return store.Watch(ctx, r.store, func(ctx context.Context) (map[model.Date][]model.Lesson, error) {
		rows, err := r.store.LessonsBetween(ctx, group, week[0], week[len(week)-1])
		if err != nil {
			return nil, err
		}
		byDay := make(map[model.Date][]model.Lesson, len(week))
		for _, d := range week {
			byDay[d] = nil
		}
		for _, l := range rows {
			byDay[l.Date] = append(byDay[l.Date], l)
		}
		return byDay, nil
	}, store.TableLessons)
}

// SaveNote stores n and returns its ID.
func (r *Repository) SaveNote(ctx context.Context, n model.Note) (int64, error) {
	return r.store.SaveNote(ctx, n)
}

func (r *Repository) UpdateNote(ctx context.Context, n model.Note) error {
	return r.store.UpdateNote(ctx, n)
}

// DeleteNotes removes the notes with ids and returns how many existed.
func (r *Repository) DeleteNotes(ctx context.Context, ids ...int64) (int, error) {
	return r.store.DeleteNotes(ctx, ids...)
}

func (r *Repository) Note(ctx context.Context, id int64) (model.Note, error) {
	return r.store.Note(ctx, id)
}

// WatchNote streams the note with id. A missing note is sent as the zero
// Note so subscribers see deletions.
func (r *Repository) WatchNote(ctx context.Context, id int64) <-chan model.Note {
	return store.Watch(ctx, r.store, func(ctx context.Context) (model.Note, error) {
		n, err := r.store.Note(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return model.Note{}, nil
		}
		return n, err
	}, store.TableNotes)
}

func (r *Repository) WatchNotes(ctx context.Context, group string, date model.Date) <-chan []model.Note {
	return store.Watch(ctx, r.store, func(ctx context.Context) ([]model.Note, error) {
		return r.store.NotesFor(ctx, group, date)
	}, store.TableNotes)
}

func (r *Repository) WatchNotesForDays(ctx context.Context, group string, days []model.Date) <-chan []model.Note {
	return store.Watch(ctx, r.store, func(ctx context.Context) ([]model.Note, error) {
		return r.store.NotesForDays(ctx, group, days)
	}, store.TableNotes)
}

func (r *Repository) WatchNotesByKeyword(ctx context.Context, group, keyword string) <-chan []model.Note {
	return store.Watch(ctx, r.store, func(ctx context.Context) ([]model.Note, error) {
		return r.store.NotesByKeyword(ctx, group, keyword)
	}, store.TableNotes)
}

func (r *Repository) WatchNoteCount(ctx context.Context, group string, date model.Date) <-chan int {
	return store.Watch(ctx, r.store, func(ctx context.Context) (int, error) {
		return r.store.NoteCount(ctx, group, date)
	}, store.TableNotes)
}

func (r *Repository) NotesFor(ctx context.Context, group string, date model.Date) ([]model.Note, error) {
	return r.store.NotesFor(ctx, group, date)
}

func (r *Repository) NotesForDays(ctx context.Context, group string, days []model.Date) ([]model.Note, error) {
	return r.store.NotesForDays(ctx, group, days)
}

func (r *Repository) NotesByKeyword(ctx context.Context, group, keyword string) ([]model.Note, error) {
	return r.store.NotesByKeyword(ctx, group, keyword)
}
