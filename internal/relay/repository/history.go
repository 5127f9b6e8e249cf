package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	defaultHistoryMaxOpenConns    = 25
	defaultHistoryMaxIdleConns    = 5
	defaultHistoryConnMaxLifetime = 5 * time.Minute
	defaultHistoryConnMaxIdleTime = 10 * time.Minute

	maxHistoryPageSize = 100
)

// Execution is one recorded remote run.
type Execution struct {
	ExecutionID string
	Language    string
	Code        string
	Output      string
	ExitCode    int
	TimedOut    bool
	RealTime    float64
	UserTime    float64
	SysTime     float64
	CPUShare    float64
	CreatedAt   time.Time
}

// HistoryRepository persists finished executions in the executions table.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository opens a pooled MySQL connection and verifies it.
// DSN format: "user:password@tcp(host:port)/dbname?parseTime=true&loc=Local"
func NewHistoryRepository(dsn string) (*HistoryRepository, error) {
	if dsn == "" {
		return nil, errors.New("DSN cannot be empty")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(defaultHistoryMaxOpenConns)
	db.SetMaxIdleConns(defaultHistoryMaxIdleConns)
	db.SetConnMaxLifetime(defaultHistoryConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultHistoryConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &HistoryRepository{db: db}, nil
}

// NewHistoryRepositoryWithDB wraps an existing connection, used by tests.
func NewHistoryRepositoryWithDB(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

const executionColumns = "execution_id, language, code, output, exit_code, timed_out, real_time, user_time, sys_time, cpu_share, created_at"

// Insert stores a finished execution.
func (r *HistoryRepository) Insert(ctx context.Context, exec *Execution) error {
	if exec == nil {
		return errors.New("execution is nil")
	}
	if exec.ExecutionID == "" {
		return errors.New("executionID is required")
	}
	if exec.Language == "" {
		return errors.New("language is required")
	}

	query := `
		INSERT INTO executions
		(execution_id, language, code, output, exit_code, timed_out, real_time, user_time, sys_time, cpu_share)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(
		ctx,
		query,
		exec.ExecutionID,
		exec.Language,
		exec.Code,
		exec.Output,
		exec.ExitCode,
		exec.TimedOut,
		exec.RealTime,
		exec.UserTime,
		exec.SysTime,
		exec.CPUShare,
	)
	return err
}

// List returns a page of executions, newest first, plus the total count.
func (r *HistoryRepository) List(ctx context.Context, page, pageSize int) ([]Execution, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxHistoryPageSize {
		pageSize = maxHistoryPageSize
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions").Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + executionColumns + ` FROM executions
		ORDER BY created_at DESC, execution_id DESC
		LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]Execution, 0, pageSize)
	for rows.Next() {
		var exec Execution
		if err := rows.Scan(
			&exec.ExecutionID,
			&exec.Language,
			&exec.Code,
			&exec.Output,
			&exec.ExitCode,
			&exec.TimedOut,
			&exec.RealTime,
			&exec.UserTime,
			&exec.SysTime,
			&exec.CPUShare,
			&exec.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		items = append(items, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Ping verifies the connection is still alive.
func (r *HistoryRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the connection pool.
func (r *HistoryRepository) Close() error {
	return r.db.Close()
}
