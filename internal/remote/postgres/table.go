// Package postgres is a remote.Table over a plain Postgres database. Changes
// are published by a row trigger through pg_notify and consumed with
// LISTEN.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/idilsaglam/quicklist/internal/model"
	"github.com/idilsaglam/quicklist/internal/remote"
)

const (
	defaultTable        = "todos"
	defaultTimeout      = 5 * time.Second
	defaultMinReconnect = 100 * time.Millisecond
	defaultMaxReconnect = 10 * time.Second
)

type Config struct {
	DSN string
	// Table defaults to todos; Channel defaults to <table>_changes.
	Table   string
	Channel string
	Timeout time.Duration
	Logger  *zap.Logger
}

type Table struct {
	db      *sql.DB
	dsn     string
	table   string
	channel string
	timeout time.Duration
	logger  *zap.Logger

	newListener listenerFactory
}

var _ remote.Table = (*Table)(nil)

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Table, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	t, err := New(db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return t, nil
}

// New wraps an existing handle. The DSN in cfg is still needed by Subscribe.
func New(db *sql.DB, cfg Config) (*Table, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	t := &Table{
		db:          db,
		dsn:         strings.TrimSpace(cfg.DSN),
		table:       strings.TrimSpace(cfg.Table),
		channel:     strings.TrimSpace(cfg.Channel),
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
		newListener: newPQListener,
	}
	if t.table == "" {
		t.table = defaultTable
	}
	if t.channel == "" {
		t.channel = t.table + "_changes"
	}
	if t.timeout <= 0 {
		t.timeout = defaultTimeout
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	return t, nil
}

func (t *Table) Close() error {
	if t == nil || t.db == nil {
		return nil
	}
	return t.db.Close()
}

func (t *Table) quotedTable() string { return pq.QuoteIdentifier(t.table) }

// EnsureSchema creates the table, the notify function and its trigger.
func (t *Table) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	for _, stmt := range schemaStatements(t.table, t.channel) {
		if _, err := t.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (t *Table) FetchAll(ctx context.Context) ([]model.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	query := fmt.Sprintf("SELECT id, task, is_complete, inserted_at FROM %s ORDER BY id", t.quotedTable())
	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, remote.Fetch(err)
	}
	defer rows.Close()

	items := []model.Item{}
	for rows.Next() {
		var (
			it         model.Item
			insertedAt sql.NullTime
		)
		if err := rows.Scan(&it.ID, &it.Task, &it.IsComplete, &insertedAt); err != nil {
			return nil, remote.Fetch(fmt.Errorf("scan: %w", err))
		}
		if insertedAt.Valid {
			it.InsertedAt = model.Timestamp{Time: insertedAt.Time}
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, remote.Fetch(err)
	}
	return items, nil
}

func (t *Table) Insert(ctx context.Context, item model.NewItem) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	query := fmt.Sprintf("INSERT INTO %s (task, is_complete) VALUES ($1, $2)", t.quotedTable())
	_, err := t.db.ExecContext(ctx, query, item.Task, item.IsComplete)
	return remote.Mutation("insert", err)
}

func (t *Table) UpdateByID(ctx context.Context, id int64, patch model.Patch) error {
	if patch.Empty() {
		return nil
	}
	var (
		sets []string
		args []any
	)
	if patch.Task != nil {
		args = append(args, *patch.Task)
		sets = append(sets, "task = $"+strconv.Itoa(len(args)))
	}
	if patch.IsComplete != nil {
		args = append(args, *patch.IsComplete)
		sets = append(sets, "is_complete = $"+strconv.Itoa(len(args)))
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", t.quotedTable(), strings.Join(sets, ", "), len(args))

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	_, err := t.db.ExecContext(ctx, query, args...)
	return remote.Mutation("update", err)
}

func (t *Table) DeleteByID(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", t.quotedTable())
	_, err := t.db.ExecContext(ctx, query, id)
	return remote.Mutation("delete", err)
}
