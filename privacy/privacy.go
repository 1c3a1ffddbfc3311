// Package privacy records users who have asked not to be named in poll
// results. Their votes still count, but result listings show a pseudonymous
// tag in place of their names.
package privacy

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// List is a list of private users backed by an SQL database.
type List struct {
	db *sqlitex.Pool
}

// Open opens an existing privacy list in an SQL database.
func Open(ctx context.Context, db *sqlitex.Pool) (*List, error) {
	conn, err := db.Take(ctx)
	defer db.Put(conn)
	if err != nil {
		return nil, fmt.Errorf("couldn't get connection to open privacy list: %w", err)
	}
	st, err := conn.Prepare(`SELECT COUNT(*) FROM sqlite_schema WHERE type='table' AND name='privacy'`)
	if err != nil {
		return nil, fmt.Errorf("couldn't prepare schema check: %w", err)
	}
	ok, err := sqlitex.ResultBool(st)
	if err != nil {
		return nil, fmt.Errorf("couldn't check privacy list schema: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("no privacy list in database")
	}
	return &List{db: db}, nil
}

// Init initializes a list in an SQL database if it does not already exist.
// For convenience, it accepts either a single connection or a pool.
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
	err := sqlitex.ExecuteTransient(conn, `CREATE TABLE IF NOT EXISTS privacy (user TEXT PRIMARY KEY) STRICT, WITHOUT ROWID`, nil)
	return err
}

// Add adds a user to the list. Adding a user already present is not an error.
func (l *List) Add(ctx context.Context, user string) error {
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return fmt.Errorf("couldn't get connection to add user to privacy list: %w", err)
	}
	opts := sqlitex.ExecOptions{Args: []any{user}}
	err = sqlitex.Execute(conn, `INSERT OR IGNORE INTO privacy (user) VALUES (?)`, &opts)
	return err
}

// Remove removes a user from the list.
func (l *List) Remove(ctx context.Context, user string) error {
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return fmt.Errorf("couldn't get connection to remove user from privacy list: %w", err)
	}
	opts := sqlitex.ExecOptions{Args: []any{user}}
	err = sqlitex.Execute(conn, `DELETE FROM privacy WHERE user=?`, &opts)
	return err
}

// Private reports whether a user is in the list.
func (l *List) Private(ctx context.Context, user string) (bool, error) {
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return false, fmt.Errorf("couldn't get connection to check user privacy: %w", err)
	}
	st, err := conn.Prepare(`SELECT ? IN (SELECT user FROM privacy)`)
	if err != nil {
		return false, fmt.Errorf("couldn't prepare statement to check user privacy: %w", err)
	}
	st.BindText(1, user)
	return sqlitex.ResultBool(st)
}

// Filter returns the subset of users who are in the list.
func (l *List) Filter(ctx context.Context, users []string) (map[string]bool, error) {
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return nil, fmt.Errorf("couldn't get connection to filter private users: %w", err)
	}
	r := make(map[string]bool)
	for _, u := range users {
		opts := sqlitex.ExecOptions{
			Args: []any{u},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				r[stmt.ColumnText(0)] = true
				return nil
			},
		}
		if err := sqlitex.Execute(conn, `SELECT user FROM privacy WHERE user=?`, &opts); err != nil {
			return nil, fmt.Errorf("couldn't check user privacy: %w", err)
		}
	}
	return r, nil
}
