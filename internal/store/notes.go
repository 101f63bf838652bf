package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"schedsync/internal/dates"
	"schedsync/internal/model"
)

const noteColumns = `id, noteGroup, noteDate, noteTheme, noteText, notePhotoIDs, hasNotification`

// SaveNote inserts n, or replaces the stored note with the same ID when
// n.ID is set. It returns the note's ID.
func (s *Store) SaveNote(ctx context.Context, n model.Note) (int64, error) {
	photos, err := encodePhotoIDs(n.PhotoIDs)
	if err != nil {
		return 0, err
	}

	id := n.ID
	err = s.write(ctx, func(tx *sql.Tx) error {
		var res sql.Result
		var err error
		if n.ID == 0 {
			res, err = tx.ExecContext(ctx, `
				INSERT INTO tblNote (noteGroup, noteDate, noteTheme, noteText, notePhotoIDs, hasNotification)
				VALUES (?, ?, ?, ?, ?, ?)`,
				n.Group, dates.Format(n.Date), n.Theme, n.Text, photos, n.HasNotification)
		} else {
			res, err = tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO tblNote (`+noteColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				n.ID, n.Group, dates.Format(n.Date), n.Theme, n.Text, photos, n.HasNotification)
		}
		if err != nil {
			return fmt.Errorf("save note: %w", err)
		}
		if n.ID == 0 {
			id, err = res.LastInsertId()
			if err != nil {
				return fmt.Errorf("note id: %w", err)
			}
		}
		return nil
	}, TableNotes)
	if err != nil {
		logWriteFailure("save note", err, "group", n.Group)
		return 0, err
	}
	return id, nil
}

// UpdateNote overwrites an existing note. It returns ErrNotFound when no
// note has n.ID.
func (s *Store) UpdateNote(ctx context.Context, n model.Note) error {
	photos, err := encodePhotoIDs(n.PhotoIDs)
	if err != nil {
		return err
	}
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tblNote
			SET noteGroup = ?, noteDate = ?, noteTheme = ?, noteText = ?, notePhotoIDs = ?, hasNotification = ?
			WHERE id = ?`,
			n.Group, dates.Format(n.Date), n.Theme, n.Text, photos, n.HasNotification, n.ID)
		if err != nil {
			return fmt.Errorf("update note %d: %w", n.ID, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("note %d: %w", n.ID, ErrNotFound)
		}
		return nil
	}, TableNotes)
}

// DeleteNotes removes the notes with the given IDs and reports how many
// existed.
func (s *Store) DeleteNotes(ctx context.Context, ids ...int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	deleted := 0
	err := s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM tblNote WHERE id IN (`+placeholders(len(ids))+`)`, int64Args(ids)...)
		if err != nil {
			return fmt.Errorf("delete notes: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted = int(n)
		return nil
	}, TableNotes)
	return deleted, err
}

// Note returns the note with id, or ErrNotFound.
func (s *Store) Note(ctx context.Context, id int64) (model.Note, error) {
	notes, err := s.queryNotes(ctx, `SELECT `+noteColumns+` FROM tblNote WHERE id = ?`, id)
	if err != nil {
		return model.Note{}, err
	}
	if len(notes) == 0 {
		return model.Note{}, fmt.Errorf("note %d: %w", id, ErrNotFound)
	}
	return notes[0], nil
}

// NotesFor returns a group's notes on date.
func (s *Store) NotesFor(ctx context.Context, group string, date model.Date) ([]model.Note, error) {
	return s.queryNotes(ctx, `
		SELECT `+noteColumns+` FROM tblNote
		WHERE noteGroup = ? AND noteDate = ?
		ORDER BY id`,
		group, dates.Format(date))
}

// NotesForDays returns a group's notes on any of days, ordered by date.
func (s *Store) NotesForDays(ctx context.Context, group string, days []model.Date) ([]model.Note, error) {
	if len(days) == 0 {
		return make([]model.Note, 0), nil
	}
	args := make([]any, 0, len(days)+1)
	args = append(args, group)
	for _, d := range days {
		args = append(args, dates.Format(d))
	}
	return s.queryNotes(ctx, `
		SELECT `+noteColumns+` FROM tblNote
		WHERE noteGroup = ? AND noteDate IN (`+placeholders(len(days))+`)
		ORDER BY noteDate, id`,
		args...)
}

// NotesByKeyword returns a group's notes whose theme or text contains
// keyword.
func (s *Store) NotesByKeyword(ctx context.Context, group, keyword string) ([]model.Note, error) {
	pattern := likePattern(keyword)
	return s.queryNotes(ctx, `
		SELECT `+noteColumns+` FROM tblNote
		WHERE noteGroup = ? AND (noteText LIKE ? ESCAPE '\' OR noteTheme LIKE ? ESCAPE '\')
		ORDER BY noteDate, id`,
		group, pattern, pattern)
}

// NoteCount returns how many notes a group has on date.
func (s *Store) NoteCount(ctx context.Context, group string, date model.Date) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tblNote WHERE noteGroup = ? AND noteDate = ?`,
		group, dates.Format(date)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count notes: %w", err)
	}
	return n, nil
}

func (s *Store) queryNotes(ctx context.Context, query string, args ...any) ([]model.Note, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	notes := make([]model.Note, 0)
	for rows.Next() {
		var (
			n      model.Note
			date   string
			theme  sql.NullString
			photos sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.Group, &date, &theme, &n.Text, &photos, &n.HasNotification); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		d, ok := dates.ParseStored(date)
		if !ok {
			continue
		}
		n.Date = d
		n.Theme = theme.String
		n.PhotoIDs = decodePhotoIDs(photos)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func encodePhotoIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode photo ids: %w", err)
	}
	return string(b), nil
}

// decodePhotoIDs tolerates values written before the list encoding.
func decodePhotoIDs(raw sql.NullString) []string {
	ids := []string{}
	if err := json.Unmarshal([]byte(wrapPhotoIDs(raw)), &ids); err != nil {
		return []string{}
	}
	return ids
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
