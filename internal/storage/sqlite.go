package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/xosactivity/pkg/types"
)

// unmarshalJSON unmarshals JSON and logs any errors without failing.
// Used for non-critical JSON columns so a corrupt value does not fail the
// whole query.
func unmarshalJSON(data string, v any, field string, id string) {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		slog.Warn("failed to unmarshal JSON field",
			"field", field,
			"id", id,
			"error", err.Error(),
			"dataLen", len(data))
	}
}

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_cache_size=10000&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL,
		accounts INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		config TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON cycles(started_at DESC);

	CREATE TABLE IF NOT EXISTS operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle_id TEXT,
		account TEXT NOT NULL,
		kind TEXT NOT NULL,
		direction TEXT,
		token TEXT,
		amount TEXT,
		tx_hash TEXT,
		status TEXT NOT NULL,
		error TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_operations_cycle ON operations(cycle_id);
	CREATE INDEX IF NOT EXISTS idx_operations_account ON operations(account);
	CREATE INDEX IF NOT EXISTS idx_operations_created_at ON operations(created_at DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first schema shipped.
	migrations := []struct {
		table  string
		column string
		sql    string
	}{
		{"operations", "error_kind", "ALTER TABLE operations ADD COLUMN error_kind TEXT"},
		{"cycles", "error_message", "ALTER TABLE cycles ADD COLUMN error_message TEXT"},
	}

	for _, m := range migrations {
		if !s.columnExists(m.table, m.column) {
			if _, err := s.db.Exec(m.sql); err != nil {
				return fmt.Errorf("migration %s.%s: %w", m.table, m.column, err)
			}
		}
	}

	return nil
}

// columnExists checks if a column exists in a table.
// Note: table and column names are validated to prevent SQL injection.
func (s *SQLiteStorage) columnExists(table, column string) bool {
	if !isValidIdentifier(table) || !isValidIdentifier(column) {
		return false
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = '%s'", table, column)
	var count int
	if err := s.db.QueryRow(query).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// isValidIdentifier checks if a string is a valid SQLite identifier.
// Only allows alphanumeric characters and underscore.
func isValidIdentifier(s string) bool {
	if len(s) == 0 || len(s) > 128 {
		return false
	}
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}
	return true
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateCycle inserts a new cycle row.
func (s *SQLiteStorage) CreateCycle(ctx context.Context, cycle *types.CycleRecord) error {
	var configJSON sql.NullString
	if cycle.Config != nil {
		data, err := json.Marshal(cycle.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		configJSON = sql.NullString{String: string(data), Valid: true}
	}

	status := cycle.Status
	if status == "" {
		status = CycleRunning
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cycles (id, started_at, status, accounts, config)
		VALUES (?, ?, ?, ?, ?)
	`, cycle.ID, cycle.StartedAt.UTC(), status, cycle.Accounts, configJSON)
	return err
}

// CompleteCycle stores the final counters and status of a cycle.
func (s *SQLiteStorage) CompleteCycle(ctx context.Context, cycle *types.CycleRecord) error {
	completedAt := time.Now().UTC()
	if cycle.CompletedAt != nil {
		completedAt = cycle.CompletedAt.UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE cycles SET
			completed_at = ?,
			status = ?,
			succeeded = ?,
			failed = ?,
			skipped = ?,
			error_message = ?
		WHERE id = ?
	`, completedAt, cycle.Status, cycle.Succeeded, cycle.Failed, cycle.Skipped,
		nullString(cycle.Error), cycle.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("cycle %s not found", cycle.ID)
	}
	return nil
}

const cycleColumns = `id, started_at, completed_at, status, accounts, succeeded, failed, skipped, error_message, config`

// GetCycle returns a cycle by ID, or nil when it does not exist.
func (s *SQLiteStorage) GetCycle(ctx context.Context, id string) (*types.CycleRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE id = ?`, id)
	cycle, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cycle, err
}

// ListCycles returns a paginated list of cycles, newest first.
func (s *SQLiteStorage) ListCycles(ctx context.Context, limit, offset int) (*PaginatedCycles, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cycles").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cycleColumns+`
		FROM cycles
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cycles := []types.CycleRecord{}
	for rows.Next() {
		cycle, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, *cycle)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedCycles{
		Cycles: cycles,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// RecordOperation inserts an operation and sets op.ID.
func (s *SQLiteStorage) RecordOperation(ctx context.Context, op *types.OperationRecord) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO operations (cycle_id, account, kind, direction, token, amount, tx_hash, status, error_kind, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullString(op.CycleID), op.Account, string(op.Kind), nullString(string(op.Direction)),
		nullString(op.Token), nullString(op.Amount), nullString(op.TxHash), string(op.Status),
		nullString(op.ErrorKind), nullString(op.Error), op.DurationMs, op.CreatedAt.UTC())
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	op.ID = id
	return nil
}

// ListOperations returns a paginated, filtered list of operations, newest first.
func (s *SQLiteStorage) ListOperations(ctx context.Context, filter OperationFilter, limit, offset int) (*PaginatedOperations, error) {
	where, args := filter.clause()

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM operations"+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cycle_id, account, kind, direction, token, amount, tx_hash, status, error_kind, error, duration_ms, created_at
		FROM operations`+where+`
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ops := []types.OperationRecord{}
	for rows.Next() {
		var op types.OperationRecord
		var cycleID, direction, token, amount, txHash, errorKind, errorMsg sql.NullString
		var kind, status string
		if err := rows.Scan(&op.ID, &cycleID, &op.Account, &kind, &direction, &token, &amount,
			&txHash, &status, &errorKind, &errorMsg, &op.DurationMs, &op.CreatedAt); err != nil {
			return nil, err
		}
		op.CycleID = cycleID.String
		op.Kind = types.OperationKind(kind)
		op.Direction = types.SwapDirection(direction.String)
		op.Token = token.String
		op.Amount = amount.String
		op.TxHash = txHash.String
		op.Status = types.OperationStatus(status)
		op.ErrorKind = errorKind.String
		op.Error = errorMsg.String
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedOperations{
		Operations: ops,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	}, nil
}

// OperationStats counts the operations of a cycle by status. An empty
// cycleID counts every operation.
func (s *SQLiteStorage) OperationStats(ctx context.Context, cycleID string) (*OperationStats, error) {
	where, args := OperationFilter{CycleID: cycleID}.clause()
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM operations"+where+" GROUP BY status", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &OperationStats{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.Total += n
		switch types.OperationStatus(status) {
		case types.OpStatusSuccess:
			stats.Succeeded = n
		case types.OpStatusFailed:
			stats.Failed = n
		case types.OpStatusSkipped:
			stats.Skipped = n
		case types.OpStatusStopped:
			stats.Stopped = n
		}
	}
	return stats, rows.Err()
}

func (f OperationFilter) clause() (string, []any) {
	var conds []string
	var args []any
	if f.CycleID != "" {
		conds = append(conds, "cycle_id = ?")
		args = append(args, f.CycleID)
	}
	if f.Account != "" {
		conds = append(conds, "account = ? COLLATE NOCASE")
		args = append(args, f.Account)
	}
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + joinStrings(conds, " AND "), args
}

// joinStrings joins strings with a separator.
func joinStrings(strs []string, sep string) string {
	if len(strs) == 0 {
		return ""
	}
	result := strs[0]
	for _, s := range strs[1:] {
		result += sep + s
	}
	return result
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCycle(row scanner) (*types.CycleRecord, error) {
	var cycle types.CycleRecord
	var completedAt sql.NullTime
	var errorMsg, configJSON sql.NullString

	err := row.Scan(&cycle.ID, &cycle.StartedAt, &completedAt, &cycle.Status, &cycle.Accounts,
		&cycle.Succeeded, &cycle.Failed, &cycle.Skipped, &errorMsg, &configJSON)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		cycle.CompletedAt = &completedAt.Time
	}
	cycle.Error = errorMsg.String
	if configJSON.Valid && configJSON.String != "" {
		cycle.Config = &types.ActivityConfig{}
		unmarshalJSON(configJSON.String, cycle.Config, "config", cycle.ID)
	}
	return &cycle, nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
