package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store hands out short-lived sessions over one database. Write sessions are
// serialized so two handlers cannot interleave writes to the same entity.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	now     func() time.Time
}

// New wraps an open database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ensure checks the database is reachable and recreates any table or index
// missing from the schema. It is safe to call on a populated store.
func (s *Store) Ensure(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return BootstrapSQLite(ctx, s.db)
}

// Session is one unit of work: open, execute, then commit or roll back, then
// close. It must not be held across a dispatch boundary.
type Session struct {
	tx     *sql.Tx
	now    func() time.Time
	unlock func()
	done   bool
}

// Open starts a session. Write sessions hold the store's write lock until
// Close.
func (s *Store) Open(ctx context.Context, write bool) (*Session, error) {
	unlock := func() {}
	if write {
		s.writeMu.Lock()
		unlock = s.writeMu.Unlock
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Session{tx: tx, now: s.now, unlock: unlock}, nil
}

// Commit makes the session's writes durable.
func (s *Session) Commit() error {
	if s.done {
		return fmt.Errorf("session already finished")
	}
	s.done = true
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Rollback discards the session's writes. Calling it after Commit is a no-op.
func (s *Session) Rollback() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback tx: %w", err)
	}
	return nil
}

// Close rolls back anything uncommitted and releases the write lock.
func (s *Session) Close() error {
	err := s.Rollback()
	if s.unlock != nil {
		s.unlock()
		s.unlock = nil
	}
	return err
}

// Update runs fn in a write session, committing when fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(*Session) error) error {
	sess, err := s.Open(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	if err := fn(sess); err != nil {
		return err
	}
	return sess.Commit()
}

// View runs fn in a session that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(*Session) error) error {
	sess, err := s.Open(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()
	return fn(sess)
}

// Addons returns the addon repository bound to this session.
func (s *Session) Addons() *AddonRepository { return &AddonRepository{q: s.tx, now: s.now} }

// Collections returns the collection repository bound to this session.
func (s *Session) Collections() *CollectionRepository {
	return &CollectionRepository{q: s.tx, now: s.now}
}

// ROMs returns the ROM repository bound to this session.
func (s *Session) ROMs() *ROMRepository { return &ROMRepository{q: s.tx, now: s.now} }

// Launchers returns the launcher bindings for scope.
func (s *Session) Launchers(scope Scope) *BindingRepository {
	if scope == ScopeROM {
		return &BindingRepository{q: s.tx, now: s.now, table: "rom_launchers", target: "rom_id", hasDefault: true}
	}
	return &BindingRepository{q: s.tx, now: s.now, table: "romcollection_launchers", target: "romcollection_id", hasDefault: true}
}

// Scanners returns the collection scanner bindings.
func (s *Session) Scanners() *BindingRepository {
	return &BindingRepository{q: s.tx, now: s.now, table: "romcollection_scanners", target: "romcollection_id"}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func encodeJSON(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func decodeJSON(raw string, out any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

func rawOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
