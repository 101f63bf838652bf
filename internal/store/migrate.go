package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	appLog "schedsync/internal/log"
)

// LatestVersion is the schema version Open brings every store to.
const LatestVersion = 7

// schemaLatest creates an empty store at LatestVersion.
const schemaLatest = `
CREATE TABLE tblSchedule (
	lessonDate TEXT NOT NULL,
	lessonNumber TEXT NOT NULL,
	roomNumber TEXT,
	lessonTimes TEXT,
	groupName TEXT NOT NULL,
	subjectName TEXT NOT NULL,
	teacherName TEXT,
	lessonType TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (lessonDate, lessonNumber, groupName, subjectName)
);
CREATE UNIQUE INDEX idx_tblSchedule_slot ON tblSchedule (groupName, lessonDate, lessonNumber);
CREATE INDEX index_tblSchedule_groupName ON tblSchedule (groupName);
CREATE INDEX index_tblSchedule_lessonDate ON tblSchedule (lessonDate);

CREATE TABLE tblNote (
	noteGroup TEXT NOT NULL,
	noteTheme TEXT,
	noteText TEXT NOT NULL,
	notePhotoIDs TEXT,
	id INTEGER NOT NULL,
	noteDate TEXT NOT NULL,
	hasNotification INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (id)
);
CREATE INDEX index_tblNote_noteGroup ON tblNote (noteGroup);
CREATE INDEX index_tblNote_noteDate ON tblNote (noteDate);
`

// migration moves the schema from From to From+1.
type migration struct {
	From  int
	Name  string
	Apply func(ctx context.Context, tx *sql.Tx) error
}

// migrations is ordered by From and never collapsed: a store may be opened
// at any historical version.
var migrations = []migration{
	{From: 1, Name: "create notes", Apply: execAll(
		`CREATE TABLE IF NOT EXISTS tblNote (
			noteGroup TEXT NOT NULL,
			noteTheme TEXT,
			noteText TEXT NOT NULL,
			notePhotoID TEXT,
			id INTEGER NOT NULL,
			noteDate TEXT NOT NULL,
			PRIMARY KEY (id)
		)`,
	)},
	{From: 2, Name: "slot uniqueness", Apply: execAll(
		`DROP TRIGGER IF EXISTS update_day_stage1`,
		`DROP TRIGGER IF EXISTS update_day_stage2`,
		`DELETE FROM tblSchedule WHERE rowid NOT IN (
			SELECT MAX(rowid) FROM tblSchedule GROUP BY groupName, lessonDate, lessonNumber
		)`,
		`DELETE FROM tblSchedule WHERE subjectName = ''`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tblSchedule_slot ON tblSchedule (groupName, lessonDate, lessonNumber)`,
	)},
	{From: 3, Name: "note photo lists", Apply: migratePhotoIDs},
	{From: 4, Name: "iso dates", Apply: execAll(
		`UPDATE tblSchedule
			SET lessonDate = SUBSTR(lessonDate, 7, 4) || '-' || SUBSTR(lessonDate, 4, 2) || '-' || SUBSTR(lessonDate, 1, 2)
			WHERE lessonDate LIKE '__.__.____'`,
		`UPDATE tblNote
			SET noteDate = SUBSTR(noteDate, 7, 4) || '-' || SUBSTR(noteDate, 4, 2) || '-' || SUBSTR(noteDate, 1, 2)
			WHERE noteDate LIKE '__.__.____'`,
	)},
	{From: 5, Name: "lookup indexes", Apply: execAll(
		`CREATE INDEX IF NOT EXISTS index_tblSchedule_groupName ON tblSchedule (groupName)`,
		`CREATE INDEX IF NOT EXISTS index_tblSchedule_lessonDate ON tblSchedule (lessonDate)`,
		`CREATE INDEX IF NOT EXISTS index_tblNote_noteGroup ON tblNote (noteGroup)`,
		`CREATE INDEX IF NOT EXISTS index_tblNote_noteDate ON tblNote (noteDate)`,
		`ALTER TABLE tblNote ADD hasNotification INTEGER NOT NULL DEFAULT 0`,
	)},
	{From: 6, Name: "lesson type", Apply: execAll(
		`ALTER TABLE tblSchedule ADD lessonType TEXT NOT NULL DEFAULT ''`,
	)},
}

func execAll(stmts ...string) func(context.Context, *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return err
			}
		}
		return nil
	}
}

func (s *Store) migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := userVersion(ctx, s.db)
	if err != nil {
		return err
	}

	if v == 0 {
		exists, err := tableExists(ctx, s.db, "tblSchedule")
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: tables present but no version recorded", ErrSchemaVersion)
		}
		if err := s.createLatest(ctx); err != nil {
			return err
		}
		appLog.Info("store created", "version", LatestVersion)
		return nil
	}

	if v > LatestVersion {
		return fmt.Errorf("%w: store is at v%d, newest known is v%d", ErrSchemaVersion, v, LatestVersion)
	}

	for v < LatestVersion {
		m, ok := findMigration(v)
		if !ok {
			return fmt.Errorf("%w: no migration from v%d", ErrSchemaVersion, v)
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migrate v%d to v%d (%s): %w", m.From, m.From+1, m.Name, err)
		}
		appLog.Info("store migrated", "from", m.From, "to", m.From+1, "step", m.Name)
		v = m.From + 1
	}
	return nil
}

func findMigration(from int) (migration, bool) {
	for _, m := range migrations {
		if m.From == from {
			return m, true
		}
	}
	return migration{}, false
}

func (s *Store) createLatest(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaLatest); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", LatestVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}

// applyMigration runs one step and records its version in the same
// transaction, so a failed step leaves the store at its previous version.
func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := m.Apply(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.From+1)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}

// migratePhotoIDs wraps every single photo reference into a JSON list and
// renames the column. When the column was already renamed it only
// normalizes the values, so running it twice is harmless.
func migratePhotoIDs(ctx context.Context, tx *sql.Tx) error {
	cols, err := columns(ctx, tx, "tblNote")
	if err != nil {
		return err
	}
	col := "notePhotoID"
	renamed := cols["notePhotoIDs"]
	if renamed {
		col = "notePhotoIDs"
	} else if !cols["notePhotoID"] {
		return fmt.Errorf("tblNote has no photo column")
	}

	rows, err := tx.QueryContext(ctx, "SELECT id, "+col+" FROM tblNote")
	if err != nil {
		return fmt.Errorf("read photos: %w", err)
	}
	type update struct {
		id    int64
		value string
	}
	var updates []update
	for rows.Next() {
		var id int64
		var raw sql.NullString
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return fmt.Errorf("scan photo: %w", err)
		}
		wrapped := wrapPhotoIDs(raw)
		if !raw.Valid || wrapped != raw.String {
			updates = append(updates, update{id: id, value: wrapped})
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, "UPDATE tblNote SET "+col+" = ? WHERE id = ?", u.value, u.id); err != nil {
			return fmt.Errorf("wrap photo of note %d: %w", u.id, err)
		}
	}

	if !renamed {
		if _, err := tx.ExecContext(ctx, "ALTER TABLE tblNote RENAME COLUMN notePhotoID TO notePhotoIDs"); err != nil {
			return fmt.Errorf("rename photo column: %w", err)
		}
	}
	return nil
}

// wrapPhotoIDs returns the list encoding of a stored photo value. A value
// that already decodes as a list is returned unchanged; an empty or NULL
// value becomes the empty list.
func wrapPhotoIDs(raw sql.NullString) string {
	v := strings.TrimSpace(raw.String)
	if !raw.Valid || v == "" {
		return "[]"
	}
	if strings.HasPrefix(v, "[") {
		var list []string
		if json.Unmarshal([]byte(v), &list) == nil {
			return raw.String
		}
	}
	b, _ := json.Marshal([]string{raw.String})
	return string(b)
}

func columns(ctx context.Context, tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var (
			cid       int
			name      string
			typ       string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
