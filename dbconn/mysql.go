package dbconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-sql-driver/mysql"
	"github.com/liweiyi88/onebackup/backup"
)

const (
	AutoCommitQuery   = "SELECT @@autocommit;"
	EnableAutoCommit  = "SET autocommit = 1;"
	DisableAutoCommit = "SET autocommit = 0;"
)

var ErrNestedTransaction = errors.New("a transaction is already active")

var _ backup.Connection = (*MySQL)(nil)

// MySQL pins a single connection of the pool, autocommit is a session variable
// so every statement of a backup or restore must run on the same session.
type MySQL struct {
	db         *sql.DB
	conn       *sql.Conn
	tx         *sql.Tx
	autoCommit bool
	ownsDB     bool
}

// Open connects to the database of the dsn, e.g. root@tcp(127.0.0.1:3306)/app
func Open(ctx context.Context, dsn string) (*MySQL, error) {
	config, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("fail to parse database dsn, error: %v", err)
	}

	if config.DBName == "" {
		return nil, errors.New("database name is missing from the dsn")
	}

	db, err := sql.Open("mysql", config.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("fail to open database, error: %v", err)
	}

	if err := db.PingContext(ctx); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("fail to connect to database, error: %v", err)
	}

	slog.Debug("database connected.", slog.String("database", config.DBName))

	conn, err := NewMySQL(ctx, db)
	if err != nil {
		closeDB(db)
		return nil, err
	}

	conn.ownsDB = true

	return conn, nil
}

func NewMySQL(ctx context.Context, db *sql.DB) (*MySQL, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("fail to get a database connection, error: %v", err)
	}

	var autoCommit int
	if err := conn.QueryRowContext(ctx, AutoCommitQuery).Scan(&autoCommit); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			slog.Error("fail to close database connection", slog.Any("error", closeErr))
		}

		return nil, fmt.Errorf("fail to read autocommit mode, error: %v", err)
	}

	return &MySQL{
		db:         db,
		conn:       conn,
		autoCommit: autoCommit == 1,
	}, nil
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		slog.Error("fail to close DB", slog.Any("error", err))
	}
}

func (m *MySQL) IsAutoCommit() bool {
	return m.autoCommit
}

func (m *MySQL) SetAutoCommit(ctx context.Context, autoCommit bool) error {
	query := DisableAutoCommit
	if autoCommit {
		query = EnableAutoCommit
	}

	if _, err := m.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("fail to set autocommit to %t, error: %v", autoCommit, err)
	}

	m.autoCommit = autoCommit

	return nil
}

// ExecuteQuery runs the statement inside the active transaction if there is one.
// Driver errors are returned untouched so their message reaches the caller as is.
func (m *MySQL) ExecuteQuery(ctx context.Context, query string) error {
	var err error

	if m.tx != nil {
		_, err = m.tx.ExecContext(ctx, query)
	} else {
		_, err = m.conn.ExecContext(ctx, query)
	}

	return err
}

func (m *MySQL) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if m.tx != nil {
		return m.tx.QueryContext(ctx, query, args...)
	}

	return m.conn.QueryContext(ctx, query, args...)
}

// Transactional commits when fn succeeds and rolls back otherwise.
func (m *MySQL) Transactional(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.tx != nil {
		return ErrNestedTransaction
	}

	tx, err := m.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("fail to begin transaction, error: %v", err)
	}

	m.tx = tx

	defer func() {
		m.tx = nil

		if r := recover(); r != nil {
			rollback(tx)
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		rollback(tx)
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("fail to commit transaction, error: %v", err)
	}

	return nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Error("fail to rollback transaction", slog.Any("error", err))
	}
}

// Close releases the pinned connection, and the pool when it was opened by Open.
func (m *MySQL) Close() error {
	err := m.conn.Close()

	if m.ownsDB {
		err = errors.Join(err, m.db.Close())
	}

	return err
}
