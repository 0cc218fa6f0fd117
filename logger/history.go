package logger

import (
	"database/sql/driver"
	"fmt"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/checkerls/checkerls/server/helpers"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	_ "embed"

	_ "modernc.org/sqlite"
)

// HistoryFileName is the database file kept in the data directory.
const HistoryFileName = "history.db"

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type NullTime struct {
	Time  time.Time
	Valid bool // Valid is true if Time is not NULL
}

// Scan implements the Scanner interface.
func (nt *NullTime) Scan(value interface{}) error {
	nt.Time, nt.Valid = time.Time{}, false

	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		nt.Time, nt.Valid = v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return err
		}
		nt.Time, nt.Valid = t, true
	case []byte:
		return nt.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into NullTime", value)
	}
	return nil
}

// Value implements the driver Valuer interface.
func (nt NullTime) Value() (driver.Value, error) {
	if !nt.Valid {
		return nil, nil
	}
	return nt.Time.UTC().Format(timeLayout), nil
}

func Now() NullTime {
	return NullTime{Time: time.Now(), Valid: true}
}

//go:embed init.sql
var initScript string

// History records worker lifecycles and check activity. It never stores
// diagnostics themselves, only their counts.
type History struct {
	db *sqlx.DB
}

func NewMemoryHistory() (*History, error) {
	return setupHistory(":memory:", true)
}

// NewHistory opens the history database of the data directory.
func NewHistory() (*History, error) {
	path, err := helpers.DataFilePath(HistoryFileName)
	if err != nil {
		return nil, err
	}
	return NewHistoryFromPath(path)
}

func NewHistoryFromPath(path string) (*History, error) {
	if !filepath.IsAbs(path) {
		rPath, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}

		path = rPath
	}

	return setupHistory(path, false)
}

func setupHistory(dbPath string, memory bool) (*History, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// every connection to :memory: is a separate database
	if memory {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(initScript); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to initialize history: %w", err)
	}

	return &History{db: db}, nil
}

type WorkerEntry struct {
	ID         string   `db:"id"`
	Command    string   `db:"command"`
	StartedAt  NullTime `db:"started_at"`
	StoppedAt  NullTime `db:"stopped_at"`
	ExitReason string   `db:"exit_reason"`
}

// StartWorker records a newly spawned worker.
func (h *History) StartWorker(id uuid.UUID, command string, startedAt time.Time) error {
	query, args, err := sq.Insert("workers").
		Columns("id", "command", "started_at").
		Values(id.String(), command, NullTime{Time: startedAt, Valid: true}).
		ToSql()
	if err != nil {
		return err
	}

	_, err = h.db.Exec(query, args...)
	return err
}

// StopWorker marks a worker as gone with the reason it went away.
func (h *History) StopWorker(id uuid.UUID, reason string) error {
	query, args, err := sq.Update("workers").
		Set("stopped_at", Now()).
		Set("exit_reason", reason).
		Where(sq.And{sq.Eq{"id": id.String()}, sq.Eq{"stopped_at": nil}}).
		ToSql()
	if err != nil {
		return err
	}

	_, err = h.db.Exec(query, args...)
	return err
}

func (h *History) Workers() ([]WorkerEntry, error) {
	query, args, err := sq.Select("id", "command", "started_at", "stopped_at", "exit_reason").
		From("workers").
		OrderBy("started_at ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	var workers []WorkerEntry
	if err := h.db.Select(&workers, query, args...); err != nil {
		return nil, err
	}
	return workers, nil
}

const (
	CheckSubmitted = "submitted"
	CheckPublished = "published"
)

type CheckEntry struct {
	ID          string    `db:"id"`
	WorkerID    string    `db:"worker_id"`
	File        string    `db:"file"`
	Kind        string    `db:"kind"`
	Diagnostics int       `db:"diagnostics"`
	Notes       int       `db:"notes"`
	CreatedAt   *NullTime `db:"created_at"`
}

func (h *History) LogCheck(entry CheckEntry) error {
	if len(entry.ID) == 0 {
		entry.ID = uuid.NewString()
	}

	if entry.CreatedAt == nil || !entry.CreatedAt.Valid || entry.CreatedAt.Time.IsZero() {
		now := Now()
		entry.CreatedAt = &now
	}

	_, err := h.db.NamedExec(`INSERT INTO checks (
	id, worker_id, file, kind,
	diagnostics, notes, created_at
) VALUES (
	:id, :worker_id, :file, :kind,
	:diagnostics, :notes, :created_at
)`, &entry)
	return err
}

// CheckFilter narrows Checks. Zero values mean no restriction.
type CheckFilter struct {
	File     string
	Kind     string
	WorkerID string
	Since    time.Time
	Limit    uint64
}

// CheckEntryIterator streams check entries without loading all of them.
type CheckEntryIterator struct {
	rows *sqlx.Rows
}

func (it *CheckEntryIterator) Next() bool {
	res := it.rows.Next()
	if !res {
		it.rows.Close()
	}
	return res
}

func (it *CheckEntryIterator) Value() (CheckEntry, error) {
	var entry CheckEntry
	if err := it.rows.StructScan(&entry); err != nil {
		it.rows.Close()
		return CheckEntry{}, err
	}
	return entry, nil
}

func (it *CheckEntryIterator) Close() error {
	return it.rows.Close()
}

func (it *CheckEntryIterator) List() ([]CheckEntry, error) {
	var entries []CheckEntry
	for it.Next() {
		entry, err := it.Value()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, it.rows.Err()
}

// Checks returns the matching entries, newest first.
func (h *History) Checks(filter CheckFilter) (*CheckEntryIterator, error) {
	q := sq.Select("id", "worker_id", "file", "kind", "diagnostics", "notes", "created_at").
		From("checks").
		OrderBy("created_at DESC")

	if len(filter.File) != 0 {
		q = q.Where(sq.Eq{"file": filter.File})
	}
	if len(filter.Kind) != 0 {
		q = q.Where(sq.Eq{"kind": filter.Kind})
	}
	if len(filter.WorkerID) != 0 {
		q = q.Where(sq.Eq{"worker_id": filter.WorkerID})
	}
	if !filter.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"created_at": NullTime{Time: filter.Since, Valid: true}})
	}
	if filter.Limit != 0 {
		q = q.Limit(filter.Limit)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := h.db.Queryx(query, args...)
	if err != nil {
		return nil, err
	}
	return &CheckEntryIterator{rows: rows}, nil
}

// FileSummary aggregates the published checks of one file.
type FileSummary struct {
	File        string `db:"file"`
	Checks      int    `db:"checks"`
	Diagnostics int    `db:"diagnostics"`
	Notes       int    `db:"notes"`
}

func (h *History) Summary() ([]FileSummary, error) {
	query, args, err := sq.Select(
		"file",
		"COUNT(*) AS checks",
		"COALESCE(SUM(diagnostics), 0) AS diagnostics",
		"COALESCE(SUM(notes), 0) AS notes",
	).
		From("checks").
		Where(sq.Eq{"kind": CheckPublished}).
		GroupBy("file").
		OrderBy("file ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	var summaries []FileSummary
	if err := h.db.Select(&summaries, query, args...); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (h *History) Reset() error {
	if _, err := h.db.Exec("DELETE FROM checks"); err != nil {
		return err
	}
	if _, err := h.db.Exec("DELETE FROM workers"); err != nil {
		return err
	}
	return nil
}

func (h *History) Close() error {
	// add a check to avoid nil pointer dereference
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}
