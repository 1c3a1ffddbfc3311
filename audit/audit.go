// Package audit keeps a durable log of command outcomes, including denied
// and failed invocations, for server administrators to review.
package audit

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Entry is a single audited command outcome.
type Entry struct {
	Time    time.Time
	Command string
	User    string
	Channel string
	Server  string
	// Outcome is one of ok, usage, invalid, denied, or error.
	Outcome string
	// Detail is the error message or the description of the requirement
	// that denied the command.
	Detail   string
	Indirect bool
}

// Log is an audit log backed by an SQL database.
type Log struct {
	db *sqlitex.Pool
}

// Init initializes an audit log in an SQL database if it does not already
// exist. For convenience, it accepts either a single connection or a pool.
func Init[DB *sqlite.Conn | *sqlitex.Pool](ctx context.Context, db DB) error {
	var conn *sqlite.Conn
	switch db := any(db).(type) {
	case *sqlite.Conn:
		conn = db
	case *sqlitex.Pool:
		var err error
		conn, err = db.Take(ctx)
		defer db.Put(conn)
		if err != nil {
			return fmt.Errorf("couldn't get connection from pool: %w", err)
		}
	}
	const schema = `CREATE TABLE IF NOT EXISTS audit (
		id       INTEGER PRIMARY KEY,
		time     INTEGER NOT NULL,
		command  TEXT NOT NULL,
		user     TEXT NOT NULL,
		channel  TEXT NOT NULL,
		server   TEXT NOT NULL,
		outcome  TEXT NOT NULL,
		detail   TEXT NOT NULL,
		indirect INTEGER NOT NULL
	) STRICT`
	if err := sqlitex.ExecuteTransient(conn, schema, nil); err != nil {
		return fmt.Errorf("couldn't create audit table: %w", err)
	}
	err := sqlitex.ExecuteTransient(conn, `CREATE INDEX IF NOT EXISTS audit_server ON audit (server, time)`, nil)
	if err != nil {
		return fmt.Errorf("couldn't create audit index: %w", err)
	}
	return nil
}

// Open opens an audit log in an SQL database previously initialized with
// [Init].
func Open(ctx context.Context, db *sqlitex.Pool) (*Log, error) {
	return &Log{db: db}, nil
}

// Record adds an entry to the log.
func (l *Log) Record(ctx context.Context, e *Entry) error {
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return fmt.Errorf("couldn't get connection to record audit entry: %w", err)
	}
	opts := sqlitex.ExecOptions{
		Args: []any{
			e.Time.UnixMilli(),
			e.Command,
			e.User,
			e.Channel,
			e.Server,
			e.Outcome,
			e.Detail,
			e.Indirect,
		},
	}
	err = sqlitex.Execute(conn, `INSERT INTO audit (time, command, user, channel, server, outcome, detail, indirect) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, &opts)
	if err != nil {
		return fmt.Errorf("couldn't record audit entry: %w", err)
	}
	return nil
}

// Recent returns up to n of the most recent entries for a server, newest
// first.
func (l *Log) Recent(ctx context.Context, server string, n int) ([]Entry, error) {
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return nil, fmt.Errorf("couldn't get connection to read audit log: %w", err)
	}
	var r []Entry
	opts := sqlitex.ExecOptions{
		Args: []any{server, n},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			r = append(r, Entry{
				Time:     time.UnixMilli(stmt.ColumnInt64(0)),
				Command:  stmt.ColumnText(1),
				User:     stmt.ColumnText(2),
				Channel:  stmt.ColumnText(3),
				Server:   stmt.ColumnText(4),
				Outcome:  stmt.ColumnText(5),
				Detail:   stmt.ColumnText(6),
				Indirect: stmt.ColumnBool(7),
			})
			return nil
		},
	}
	err = sqlitex.Execute(conn, `SELECT time, command, user, channel, server, outcome, detail, indirect FROM audit WHERE server=? ORDER BY time DESC, id DESC LIMIT ?`, &opts)
	if err != nil {
		return nil, fmt.Errorf("couldn't read audit log: %w", err)
	}
	return r, nil
}
