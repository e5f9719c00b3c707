package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"remaininggoods/internal/config"
	"remaininggoods/internal/retry"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLSTATE codes a transaction is retried on.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

type Options struct {
	Driver   string
	Path     string
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	ConnectAttempts int
	TxAttempts      int
	TxBackoff       time.Duration
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Driver:          cfg.DBDriver,
		Path:            cfg.DBPath,
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		Name:            cfg.DBName,
		ConnectAttempts: cfg.DBConnectAttempts,
		TxAttempts:      cfg.DBTxAttempts,
		TxBackoff:       cfg.DBTxBackoffBase,
	}
}

type DB struct {
	conn    *sql.DB
	dialect dialect
	opts    Options
	log     *slog.Logger
}

// Open connects to the configured database, creating it first when it does
// not exist yet. Each caller owns the returned handle.
func Open(ctx context.Context, opts Options, log *slog.Logger) (*DB, error) {
	d, err := dialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}
	if err := EnsureDatabase(ctx, opts); err != nil {
		return nil, fmt.Errorf("ensure database: %w", err)
	}

	var conn *sql.DB
	switch d.name {
	case DriverSQLite:
		conn, err = sql.Open("sqlite", sqliteDSN(opts.Path))
		if err == nil {
			// One writer per handle; other sites' handles wait on busy_timeout.
			conn.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		conn, err = sql.Open("pgx", postgresURL(opts, opts.Name))
	}
	if err != nil {
		return nil, err
	}

	policy := retry.Policy{
		MaxAttempts: opts.ConnectAttempts,
		Backoff:     retry.Exponential(250 * time.Millisecond),
		OnRetry: func(attempt int, err error, wait time.Duration) {
			log.Warn("database not reachable, retrying", "driver", d.name, "attempt", attempt, "wait", wait, "err", err)
		},
	}
	if err := policy.Do(ctx, func(ctx context.Context, _ int) error { return conn.PingContext(ctx) }); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connect %s: %w", d.name, err)
	}

	if d.name == DriverSQLite {
		if _, err := conn.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	log.Debug("database connection established", "driver", d.name)
	return &DB{conn: conn, dialect: d, opts: opts, log: log}, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Driver() string {
	return d.dialect.name
}

// EnsureDatabase creates the target database when it is missing. For sqlite
// this only means the parent directory; the file appears on first connect.
func EnsureDatabase(ctx context.Context, opts Options) error {
	switch opts.Driver {
	case DriverSQLite, "":
		if opts.Path == "" {
			return errors.New("DB_PATH is required for sqlite")
		}
		return os.MkdirAll(filepath.Dir(opts.Path), 0o755)
	case DriverPostgres:
		if opts.Name == "" {
			return errors.New("DB_NAME is required for postgres")
		}
		conn, err := pgx.Connect(ctx, postgresURL(opts, "postgres"))
		if err != nil {
			return err
		}
		defer conn.Close(ctx)

		var exists bool
		err = conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, opts.Name).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		_, err = conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{opts.Name}.Sanitize())
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P04" {
			// Created concurrently by another process.
			return nil
		}
		return err
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", opts.Driver)
	}
}

func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func postgresURL(opts Options, database string) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		Path:   "/" + database,
	}
	if opts.User != "" {
		u.User = url.UserPassword(opts.User, opts.Password)
	}
	return u.String()
}

// dialect carries the few statements that differ between drivers.
type dialect struct {
	name        string
	tableExists string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite, "":
		return dialect{
			name:        DriverSQLite,
			tableExists: `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)`,
		}, nil
	case DriverPostgres:
		return dialect{
			name:        DriverPostgres,
			tableExists: `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?)`,
		}, nil
	default:
		return dialect{}, fmt.Errorf("unknown DB_DRIVER %q", driver)
	}
}

// rebind turns ? placeholders into $n for postgres.
func (d dialect) rebind(query string) string {
	if d.name != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isTransient reports errors worth replaying the whole transaction for.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

func (d *DB) txPolicy(log *slog.Logger) retry.Policy {
	base := d.opts.TxBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return retry.Policy{
		MaxAttempts: d.opts.TxAttempts,
		Backoff:     retry.Exponential(base),
		Retryable:   isTransient,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			log.Warn("transaction conflict, retrying", "attempt", attempt, "wait", wait, "err", err)
		},
	}
}
