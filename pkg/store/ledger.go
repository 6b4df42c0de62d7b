package store

import (
	"context"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xhad/quizpack/internal/models"
)

type LedgerConfig struct {
	ConnString string
	TableName  string
}

// Ledger journals every written document in PostgreSQL, keyed by the
// document's idempotency key.
type Ledger struct {
	config LedgerConfig
	pool   *pgxpool.Pool
}

// Entry is one journaled document.
type Entry struct {
	IdempotencyKey string
	RunID          string
	Student        string
	FileName       string
	HTML           string
	CreatedAt      time.Time
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func NewLedger(ctx context.Context, config LedgerConfig) (*Ledger, error) {
	if config.TableName == "" {
		config.TableName = "quiz_documents"
	}
	if !tableNamePattern.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid table name %q", config.TableName)
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	l := &Ledger{
		config: config,
		pool:   pool,
	}

	if err := l.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return l, nil
}

func (l *Ledger) initialize(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			idempotency_key TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			student TEXT NOT NULL,
			file_name TEXT NOT NULL,
			html TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, l.config.TableName)

	if _, err := l.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_run_idx ON %s (run_id)`,
		l.config.TableName, l.config.TableName)

	if _, err := l.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// Record inserts doc once; a repeated idempotency key is ignored.
func (l *Ledger) Record(ctx context.Context, runID string, doc models.GeneratedDocument) error {
	stmt := fmt.Sprintf(`
		INSERT INTO %s (idempotency_key, run_id, student, file_name, html)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		l.config.TableName)

	_, err := l.pool.Exec(ctx, stmt,
		doc.IdempotencyKey,
		runID,
		sanitizeUTF8(doc.StudentName),
		sanitizeUTF8(doc.FileName),
		sanitizeUTF8(doc.HTML),
	)
	if err != nil {
		return fmt.Errorf("failed to record document: %w", err)
	}
	return nil
}

// ListRun returns the documents journaled for runID in insertion order.
func (l *Ledger) ListRun(ctx context.Context, runID string) ([]Entry, error) {
	query := fmt.Sprintf(`
		SELECT idempotency_key, run_id, student, file_name, html, created_at
		FROM %s
		WHERE run_id = $1
		ORDER BY created_at, file_name`,
		l.config.TableName)

	rows, err := l.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.IdempotencyKey, &e.RunID, &e.Student, &e.FileName, &e.HTML, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *Ledger) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
