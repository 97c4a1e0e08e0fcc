package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tasksnap/internal/database/migrations"
	"tasksnap/internal/model"
	"tasksnap/internal/tasksnap"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteDatabase is the local durable storage behind the object store. It
// owns the connection; backend handles returned by NewHandle share it and
// can be detached without closing it.
type SQLiteDatabase struct {
	db    *sql.DB
	path  string
	clock tasksnap.Clock
}

// NewSQLiteDatabase opens the database at path (or MemoryPath) and brings
// its schema up to date.
func NewSQLiteDatabase(path string, clock tasksnap.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return NewSQLiteDatabaseFromDB(db, path, clock), nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB, path string, clock tasksnap.Clock) *SQLiteDatabase {
	if clock == nil {
		clock = tasksnap.RealClock{}
	}
	return &SQLiteDatabase{db: db, path: path, clock: clock}
}

// OpenConnection opens and configures a SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"}
	if path == MemoryPath {
		// Each connection to ":memory:" is its own database.
		db.SetMaxOpenConns(1)
	} else {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return db, nil
}

// Path returns the database file path, or MemoryPath.
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the schema is current.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// BackupTo writes a consistent copy of the database to destPath using
// VACUUM INTO. destPath must not exist.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the connection. Handles must not be used afterwards.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// NewHandle returns a backend handle over this database.
func (s *SQLiteDatabase) NewHandle() *Handle {
	return &Handle{db: s}
}

// Handle is an object store backend over a SQLiteDatabase. Closing a
// handle detaches it; the database stays open.
type Handle struct {
	db     *SQLiteDatabase
	mu     sync.Mutex
	closed bool
}

var _ tasksnap.Backend = (*Handle)(nil)

func (h *Handle) checkOpen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("database handle is closed")
	}
	return nil
}

// Load reads every record, grouped by kind.
func (h *Handle) Load(ctx context.Context) (map[model.Kind][]model.Record, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}

	out := make(map[model.Kind][]model.Record, len(model.AllKinds))
	for _, kind := range model.AllKinds {
		t := recordTables[kind]
		recs, err := h.loadTable(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", t.name, err)
		}
		out[kind] = recs
	}
	return out, nil
}

func (h *Handle) loadTable(ctx context.Context, t recordTable) ([]model.Record, error) {
	rows, err := h.db.db.QueryContext(ctx, t.selectSQL())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []model.Record
	for rows.Next() {
		r, err := t.scan(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Apply writes cs in a single transaction: clears, then deletes, then
// upserts.
func (h *Handle) Apply(ctx context.Context, cs *tasksnap.ChangeSet) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	if cs.Empty() {
		return nil
	}

	tx, err := h.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, kind := range cs.Clear {
		t, ok := recordTables[kind]
		if !ok {
			return fmt.Errorf("clearing unknown kind %q", kind)
		}
		if _, err := tx.ExecContext(ctx, t.clearSQL()); err != nil {
			return fmt.Errorf("clearing %s: %w", t.name, err)
		}
	}

	for kind, ids := range cs.Deletes {
		t, ok := recordTables[kind]
		if !ok {
			return fmt.Errorf("deleting unknown kind %q", kind)
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, t.deleteSQL(), id.String()); err != nil {
				return fmt.Errorf("deleting from %s: %w", t.name, err)
			}
		}
	}

	for _, r := range cs.Upserts {
		t, ok := recordTables[r.Kind()]
		if !ok {
			return fmt.Errorf("saving unknown kind %q", r.Kind())
		}
		if _, err := tx.ExecContext(ctx, t.upsertSQL(), t.values(r)...); err != nil {
			return fmt.Errorf("saving to %s: %w", t.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Close detaches the handle.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// BackupTo writes a consistent copy of the underlying database to destPath.
func (h *Handle) BackupTo(destPath string) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	return h.db.BackupTo(destPath)
}

// Operation history

// CreateOperation records a started operation.
func (s *SQLiteDatabase) CreateOperation(operation, parameters string) (*tasksnap.Operation, error) {
	startedAt := s.clock.Now().UTC()
	res, err := s.db.Exec(
		"INSERT INTO operations (started_at, operation, parameters, status) VALUES (?, ?, ?, 'running')",
		startedAt, operation, parameters,
	)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return &tasksnap.Operation{
		ID:         id,
		Operation:  operation,
		Parameters: parameters,
		Status:     "running",
		StartedAt:  startedAt,
	}, nil
}

// FinishOperation records the outcome of an operation.
func (s *SQLiteDatabase) FinishOperation(id int64, status string) error {
	res, err := s.db.Exec(
		"UPDATE operations SET finished_at = ?, status = ? WHERE id = ?",
		s.clock.Now().UTC(), status, id,
	)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing operation: no operation with id %d", id)
	}
	return nil
}

// ListOperations returns the most recent operations, newest first.
func (s *SQLiteDatabase) ListOperations(limit int) ([]*tasksnap.Operation, error) {
	rows, err := s.db.Query(
		"SELECT id, started_at, finished_at, operation, parameters, status FROM operations ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*tasksnap.Operation
	for rows.Next() {
		var op tasksnap.Operation
		var finished sql.NullTime
		if err := rows.Scan(&op.ID, &op.StartedAt, &finished, &op.Operation, &op.Parameters, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		op.FinishedAt = fromNullTime(finished)
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

var _ tasksnap.OperationLog = (*SQLiteDatabase)(nil)

// Replica push tracking

// RecordReplicaPush records a push of the database to a replica and
// returns its version. Versions increase monotonically.
func (s *SQLiteDatabase) RecordReplicaPush(replicaID string) (int64, error) {
	res, err := s.db.Exec(
		"INSERT INTO replica_pushes (replica_id, pushed_at) VALUES (?, ?)",
		replicaID, s.clock.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("recording replica push: %w", err)
	}
	return res.LastInsertId()
}

// MaxReplicaPushVersion returns the newest push version, or 0 if none.
func (s *SQLiteDatabase) MaxReplicaPushVersion() (int64, error) {
	var v sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(id) FROM replica_pushes").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading replica push version: %w", err)
	}
	return v.Int64, nil
}

// CountRecords returns the number of stored records of kind.
func (s *SQLiteDatabase) CountRecords(kind model.Kind) (int, error) {
	t, ok := recordTables[kind]
	if !ok {
		return 0, fmt.Errorf("unknown kind %q", kind)
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + t.name).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", t.name, err)
	}
	return n, nil
}

// FindRecord returns a single record by id, or nil when it does not exist.
func (s *SQLiteDatabase) FindRecord(kind model.Kind, id uuid.UUID) (model.Record, error) {
	t, ok := recordTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", strings.Join(t.columns, ", "), t.name)
	r, err := t.scan(s.db.QueryRow(query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding %s %s: %w", kind, id, err)
	}
	return r, nil
}
