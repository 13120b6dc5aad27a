package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers "sqlite"
)

// ErrNotFound is returned when a quiz, problem, result, or share grant does
// not exist.
var ErrNotFound = errors.New("not found")

// ErrStaleContent means a write was based on problem content that has since
// been replaced.
var ErrStaleContent = errors.New("problem content changed")

// Driver selects the database engine.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ParseDriver maps common aliases to a Driver.
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pg", "pgx":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q (want sqlite or postgres)", s)
	}
}

type Store struct {
	db     *sqlx.DB
	driver Driver
}

// New opens a SQLite database at path. Use ":memory:" in tests.
func New(path string) (*Store, error) {
	return Open(context.Background(), DriverSQLite, path)
}

// Open connects to the given engine, tunes the pool, and applies the schema.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var db *sqlx.DB
	switch driver {
	case DriverSQLite:
		raw, err := sql.Open("sqlite", sqliteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		// sqlx picks the bind style from the driver name; "sqlite3" means "?".
		db = sqlx.NewDb(raw, "sqlite3")
	case DriverPostgres:
		raw, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db = sqlx.NewDb(raw, "pgx")
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	tunePool(driver, db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func sqliteDSN(path string) string {
	if path == "" {
		path = "wordquiz.db"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
}

func tunePool(driver Driver, db *sqlx.DB) {
	switch driver {
	case DriverSQLite:
		// Single writer. One connection also keeps ":memory:" databases alive.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	default:
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(45 * time.Minute)
		db.SetConnMaxIdleTime(15 * time.Minute)
	}
}

func (s *Store) migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return s.SetMetadata(ctx, "schema_version", schemaVersion)
}

// withTx runs fn in a transaction, committing if fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = fmt.Errorf("commit: %w", e)
		}
	}()
	err = fn(tx)
	return
}

// unixMilli and fromUnixMilli convert timestamps to the BIGINT columns used
// by both engines.
func unixMilli(t time.Time) int64 { return t.UnixMilli() }

func fromUnixMilli(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableMilli(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullableMilli(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnixMilli(n.Int64)
	return &t
}

const schemaVersion = "1"

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_sessions (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS quizzes (
	id TEXT PRIMARY KEY,
	teacher_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	words_json TEXT NOT NULL,
	difficulty TEXT NOT NULL,
	translation_language TEXT NOT NULL,
	words_per_set INTEGER NOT NULL,
	timer_enabled INTEGER NOT NULL DEFAULT 0,
	timer_seconds INTEGER,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS problems (
	id TEXT PRIMARY KEY,
	quiz_id TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	word TEXT NOT NULL,
	sentence TEXT NOT NULL,
	hint TEXT NOT NULL DEFAULT '',
	translation TEXT NOT NULL DEFAULT '',
	audio_url TEXT
);
CREATE INDEX IF NOT EXISTS idx_problems_quiz ON problems(quiz_id, position);

CREATE TABLE IF NOT EXISTS answer_keys (
	problem_id TEXT PRIMARY KEY REFERENCES problems(id) ON DELETE CASCADE,
	quiz_id TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
	correct_answer TEXT NOT NULL,
	word TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_answer_keys_quiz ON answer_keys(quiz_id);

CREATE TABLE IF NOT EXISTS share_grants (
	token TEXT PRIMARY KEY,
	quiz_id TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
	allow_anonymous INTEGER NOT NULL DEFAULT 1,
	max_attempts INTEGER NOT NULL,
	completion_count INTEGER NOT NULL DEFAULT 0,
	view_count INTEGER NOT NULL DEFAULT 0,
	expires_at INTEGER,
	created_at INTEGER NOT NULL,
	CHECK (completion_count <= max_attempts)
);

CREATE TABLE IF NOT EXISTS results (
	id TEXT PRIMARY KEY,
	quiz_id TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
	student_id INTEGER,
	anonymous_name TEXT NOT NULL DEFAULT '',
	share_token TEXT,
	score INTEGER NOT NULL,
	total_questions INTEGER NOT NULL,
	answers_json TEXT NOT NULL,
	completed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_quiz ON results(quiz_id, completed_at);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_sessions (
	id TEXT PRIMARY KEY,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at BIGINT NOT NULL,
	expires_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS quizzes (
	id TEXT PRIMARY KEY,
	teacher_id BIGINT NOT NULL,
	title TEXT NOT NULL,
	words_json TEXT NOT NULL,
	difficulty TEXT NOT NULL,
	translation_language TEXT NOT NULL,
	words_per_set INTEGER NOT NULL,
	timer_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	timer_seconds INTEGER,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS problems (
	id TEXT PRIMARY KEY,
	quiz_id TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	word TEXT NOT NULL,
	sentence TEXT NOT NULL,
	hint TEXT NOT NULL DEFAULT '',
	translation TEXT NOT NULL DEFAULT '',
	audio_url TEXT
);
CREATE INDEX IF NOT EXISTS idx_problems_quiz ON problems(quiz_id, position);

CREATE TABLE IF NOT EXISTS answer_keys (
	problem_id TEXT PRIMARY KEY REFERENCES problems(id) ON DELETE CASCADE,
	quiz_id TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
	correct_answer TEXT NOT NULL,
	word TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_answer_keys_quiz ON answer_keys(quiz_id);

CREATE TABLE IF NOT EXISTS share_grants (
	token TEXT PRIMARY KEY,
	quiz_id TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
	allow_anonymous BOOLEAN NOT NULL DEFAULT TRUE,
	max_attempts INTEGER NOT NULL,
	completion_count INTEGER NOT NULL DEFAULT 0,
	view_count INTEGER NOT NULL DEFAULT 0,
	expires_at BIGINT,
	created_at BIGINT NOT NULL,
	CHECK (completion_count <= max_attempts)
);

CREATE TABLE IF NOT EXISTS results (
	id TEXT PRIMARY KEY,
	quiz_id TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
	student_id BIGINT,
	anonymous_name TEXT NOT NULL DEFAULT '',
	share_token TEXT,
	score INTEGER NOT NULL,
	total_questions INTEGER NOT NULL,
	answers_json TEXT NOT NULL,
	completed_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_quiz ON results(quiz_id, completed_at);
`
