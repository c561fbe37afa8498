// Package sqlite implements store.Store on a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	appLog "condcal/internal/log"
	"condcal/internal/model"
	"condcal/internal/store"
)

// timeLayout keeps stored instants fixed-width UTC so that range queries
// can compare them as text.
const timeLayout = "2006-01-02T15:04:05Z"

// Store wraps access to the SQLite database.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open initializes a new SQLite store and runs the required migrations.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("empty database path")
	}
	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=ON", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{db: conn}
	if err := s.migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	appLog.Info("sqlite store opened", "path", dbPath)
	return s, nil
}

// Close releases the database resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conditions (
            id TEXT PRIMARY KEY,
            owner_id TEXT NOT NULL,
            name TEXT NOT NULL,
            color TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
            UNIQUE(owner_id, name)
        );`,
		`CREATE TABLE IF NOT EXISTS tasks (
            id TEXT PRIMARY KEY,
            owner_id TEXT NOT NULL,
            date TEXT NOT NULL,
            title TEXT NOT NULL,
            start_min INTEGER NOT NULL,
            end_min INTEGER NOT NULL,
            condition TEXT NOT NULL,
            repeat TEXT NOT NULL DEFAULT 'none',
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
            CHECK (start_min >= 0 AND start_min < end_min AND end_min <= 1440)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_owner_date ON tasks(owner_id, date);`,
		`CREATE TABLE IF NOT EXISTS events (
            id TEXT PRIMARY KEY,
            owner_id TEXT NOT NULL,
            title TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            condition TEXT NOT NULL DEFAULT '',
            starts_at TEXT NOT NULL,
            notify INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_events_owner_start ON events(owner_id, starts_at);`,
		`CREATE INDEX IF NOT EXISTS idx_events_notify_start ON events(notify, starts_at);`,
		`CREATE TABLE IF NOT EXISTS user_preferences (
            owner_id TEXT PRIMARY KEY,
            push_endpoint TEXT NOT NULL DEFAULT '',
            push_p256dh TEXT NOT NULL DEFAULT '',
            push_auth TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TRIGGER IF NOT EXISTS trg_tasks_updated
            AFTER UPDATE ON tasks
            FOR EACH ROW BEGIN
                UPDATE tasks SET updated_at = CURRENT_TIMESTAMP WHERE id = OLD.id;
            END;`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func checkAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

const taskColumns = `id, owner_id, date, title, start_min, end_min, condition, repeat`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (model.Task, error) {
	var t model.Task
	var repeat string
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Date, &t.Title, &t.StartMin, &t.EndMin, &t.Condition, &repeat); err != nil {
		return model.Task{}, err
	}
	t.Repeat = model.ParseRepeat(repeat)
	return t, nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// FetchTasks returns one owner's tasks for a date in insertion order.
func (s *Store) FetchTasks(ctx context.Context, ownerID, date string) ([]model.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE owner_id = ? AND date = ? ORDER BY rowid ASC`,
		ownerID, date)
}

// ListTasks returns every task of an owner ordered by date.
func (s *Store) ListTasks(ctx context.Context, ownerID string) ([]model.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE owner_id = ? ORDER BY date ASC, rowid ASC`,
		ownerID)
}

func (s *Store) GetTask(ctx context.Context, ownerID, id string) (model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE owner_id = ? AND id = ?`, ownerID, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, store.ErrNotFound
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *Store) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Repeat == "" {
		t.Repeat = model.RepeatNone
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(`+taskColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, t.Date, t.Title, t.StartMin, t.EndMin, t.Condition, string(t.Repeat))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Task{}, store.ErrConflict
		}
		return model.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

func (s *Store) UpdateTask(ctx context.Context, t model.Task) (model.Task, error) {
	if t.Repeat == "" {
		t.Repeat = model.RepeatNone
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET date = ?, title = ?, start_min = ?, end_min = ?, condition = ?, repeat = ?
         WHERE owner_id = ? AND id = ?`,
		t.Date, t.Title, t.StartMin, t.EndMin, t.Condition, string(t.Repeat), t.OwnerID, t.ID)
	if err != nil {
		return model.Task{}, fmt.Errorf("update task: %w", err)
	}
	if err := checkAffected(res, "update task"); err != nil {
		return model.Task{}, err
	}
	return t, nil
}

func (s *Store) DeleteTask(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE owner_id = ? AND id = ?`, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return checkAffected(res, "delete task")
}

// FetchConditions returns an owner's conditions ordered by name.
func (s *Store) FetchConditions(ctx context.Context, ownerID string) ([]model.Condition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, color FROM conditions WHERE owner_id = ? ORDER BY name ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list conditions: %w", err)
	}
	defer rows.Close()

	conds := []model.Condition{}
	for rows.Next() {
		var c model.Condition
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Color); err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		conds = append(conds, c)
	}
	return conds, rows.Err()
}

func (s *Store) CreateCondition(ctx context.Context, c model.Condition) (model.Condition, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conditions(id, owner_id, name, color) VALUES(?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.Name, c.Color)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Condition{}, store.ErrConflict
		}
		return model.Condition{}, fmt.Errorf("insert condition: %w", err)
	}
	return c, nil
}

func (s *Store) RenameCondition(ctx context.Context, ownerID, id, name string) (model.Condition, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conditions SET name = ? WHERE owner_id = ? AND id = ?`, name, ownerID, id)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Condition{}, store.ErrConflict
		}
		return model.Condition{}, fmt.Errorf("rename condition: %w", err)
	}
	if err := checkAffected(res, "rename condition"); err != nil {
		return model.Condition{}, err
	}

	c := model.Condition{ID: id, OwnerID: ownerID}
	err = s.db.QueryRowContext(ctx,
		`SELECT name, color FROM conditions WHERE owner_id = ? AND id = ?`, ownerID, id).Scan(&c.Name, &c.Color)
	if err != nil {
		return model.Condition{}, fmt.Errorf("load renamed condition: %w", err)
	}
	return c, nil
}

func (s *Store) DeleteCondition(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conditions WHERE owner_id = ? AND id = ?`, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete condition: %w", err)
	}
	return checkAffected(res, "delete condition")
}

const eventColumns = `id, owner_id, title, description, condition, starts_at, notify`

func scanEvent(row scanner) (model.Event, error) {
	var e model.Event
	var startsAt string
	if err := row.Scan(&e.ID, &e.OwnerID, &e.Title, &e.Description, &e.Condition, &startsAt, &e.Notify); err != nil {
		return model.Event{}, err
	}
	start, err := time.Parse(timeLayout, startsAt)
	if err != nil {
		return model.Event{}, fmt.Errorf("parse starts_at %q: %w", startsAt, err)
	}
	e.Start = start
	return e, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func formatInstant(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

// ListEvents returns an owner's events starting in [from, to).
func (s *Store) ListEvents(ctx context.Context, ownerID string, from, to time.Time) ([]model.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE owner_id = ? AND starts_at >= ? AND starts_at < ?
         ORDER BY starts_at ASC, rowid ASC`,
		ownerID, formatInstant(from), formatInstant(to))
}

// UpcomingEvents returns events of all owners with notify set that start
// in [from, to).
func (s *Store) UpcomingEvents(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE notify = 1 AND starts_at >= ? AND starts_at < ?
         ORDER BY starts_at ASC, rowid ASC`,
		formatInstant(from), formatInstant(to))
}

func (s *Store) GetEvent(ctx context.Context, ownerID, id string) (model.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE owner_id = ? AND id = ?`, ownerID, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, store.ErrNotFound
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (s *Store) CreateEvent(ctx context.Context, e model.Event) (model.Event, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Start = e.Start.UTC().Truncate(time.Second)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(`+eventColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerID, e.Title, e.Description, e.Condition, formatInstant(e.Start), e.Notify)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Event{}, store.ErrConflict
		}
		return model.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

func (s *Store) UpdateEvent(ctx context.Context, e model.Event) (model.Event, error) {
	e.Start = e.Start.UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET title = ?, description = ?, condition = ?, starts_at = ?, notify = ?
         WHERE owner_id = ? AND id = ?`,
		e.Title, e.Description, e.Condition, formatInstant(e.Start), e.Notify, e.OwnerID, e.ID)
	if err != nil {
		return model.Event{}, fmt.Errorf("update event: %w", err)
	}
	if err := checkAffected(res, "update event"); err != nil {
		return model.Event{}, err
	}
	return e, nil
}

func (s *Store) DeleteEvent(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE owner_id = ? AND id = ?`, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return checkAffected(res, "delete event")
}

// Preferences returns the owner's delivery settings; missing rows yield an
// empty, non-deliverable value rather than ErrNotFound.
func (s *Store) Preferences(ctx context.Context, ownerID string) (model.Preferences, error) {
	p := model.Preferences{OwnerID: ownerID}
	err := s.db.QueryRowContext(ctx,
		`SELECT push_endpoint, push_p256dh, push_auth, email FROM user_preferences WHERE owner_id = ?`, ownerID).
		Scan(&p.PushEndpoint, &p.PushP256dh, &p.PushAuth, &p.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return model.Preferences{}, fmt.Errorf("get preferences: %w", err)
	}
	return p, nil
}

func (s *Store) SavePreferences(ctx context.Context, p model.Preferences) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_preferences(owner_id, push_endpoint, push_p256dh, push_auth, email)
         VALUES(?, ?, ?, ?, ?)
         ON CONFLICT(owner_id) DO UPDATE SET
            push_endpoint = excluded.push_endpoint,
            push_p256dh = excluded.push_p256dh,
            push_auth = excluded.push_auth,
            email = excluded.email,
            updated_at = CURRENT_TIMESTAMP`,
		p.OwnerID, p.PushEndpoint, p.PushP256dh, p.PushAuth, p.Email)
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// DeleteAccount removes all of an owner's rows in one transaction.
func (s *Store) DeleteAccount(ctx context.Context, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete account: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"tasks", "events", "conditions", "user_preferences"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE owner_id = ?`, ownerID); err != nil {
			return fmt.Errorf("delete account %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete account: %w", err)
	}
	appLog.Info("account deleted", "owner", ownerID)
	return nil
}
