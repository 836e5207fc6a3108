package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver, registered by side effect
	_ "modernc.org/sqlite"             // pure-Go SQLite driver, registered by side effect

	"github.com/taskgraphio/orchestrator/taskgraph"
)

// SQL is a database/sql-backed Execution Store. Use NewSQLite or NewMySQL
// to open one against a concrete engine; both share this implementation
// because the schema and queries are ANSI SQL.
type SQL struct {
	db *sql.DB
}

// NewSQLite opens (creating if necessary) a SQLite-backed store at path,
// using the pure-Go modernc.org/sqlite driver.
func NewSQLite(path string) (*SQL, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &taskgraph.StorageError{Op: "Open", Cause: err}
	}
	s := &SQL{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// NewMySQL opens a MySQL-backed store using the given data source name.
func NewMySQL(dsn string) (*SQL, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, &taskgraph.StorageError{Op: "Open", Cause: err}
	}
	s := &SQL{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQL) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			service_instance_id TEXT,
			workflow_name TEXT,
			parameters TEXT,
			status TEXT,
			created_at DATETIME,
			started_at DATETIME,
			ended_at DATETIME,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			execution_id TEXT,
			actor_id TEXT,
			function_path TEXT,
			arguments TEXT,
			status TEXT,
			attempts_count INTEGER,
			max_attempts INTEGER,
			retry_interval_ns INTEGER,
			due_at DATETIME,
			started_at DATETIME,
			ended_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_execution_id ON tasks (execution_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &taskgraph.StorageError{Op: "migrate", Cause: err}
		}
	}
	return nil
}

// Close releases the underlying *sql.DB.
func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) CreateExecution(ctx context.Context, rec taskgraph.ExecutionRecord) error {
	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return &taskgraph.StorageError{Op: "CreateExecution", Cause: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, service_instance_id, workflow_name, parameters, status, created_at, started_at, ended_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ServiceInstanceID, rec.WorkflowName, string(params), string(rec.Status),
		rec.CreatedAt, nullTime(rec.StartedAt), nullTime(rec.EndedAt), rec.Error)
	if err != nil {
		return &taskgraph.StorageError{Op: "CreateExecution", Cause: err}
	}
	return nil
}

func (s *SQL) UpdateExecution(ctx context.Context, rec taskgraph.ExecutionRecord) error {
	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return &taskgraph.StorageError{Op: "UpdateExecution", Cause: err}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET service_instance_id=?, workflow_name=?, parameters=?, status=?, started_at=?, ended_at=?, error=? WHERE id=?`,
		rec.ServiceInstanceID, rec.WorkflowName, string(params), string(rec.Status),
		nullTime(rec.StartedAt), nullTime(rec.EndedAt), rec.Error, rec.ID)
	if err != nil {
		return &taskgraph.StorageError{Op: "UpdateExecution", Cause: err}
	}
	return requireAffected(res, "UpdateExecution")
}

func (s *SQL) GetExecution(ctx context.Context, id string) (taskgraph.ExecutionRecord, error) {
	var rec taskgraph.ExecutionRecord
	var status, params string
	var startedAt, endedAt sql.NullTime
	row := s.db.QueryRowContext(ctx,
		`SELECT id, service_instance_id, workflow_name, parameters, status, created_at, started_at, ended_at, error FROM executions WHERE id=?`, id)
	if err := row.Scan(&rec.ID, &rec.ServiceInstanceID, &rec.WorkflowName, &params, &status, &rec.CreatedAt, &startedAt, &endedAt, &rec.Error); err != nil {
		return taskgraph.ExecutionRecord{}, &taskgraph.StorageError{Op: "GetExecution", Cause: err}
	}
	rec.Status = taskgraph.ExecutionStatus(status)
	rec.StartedAt = startedAt.Time
	rec.EndedAt = endedAt.Time
	if params != "" {
		if err := json.Unmarshal([]byte(params), &rec.Parameters); err != nil {
			return taskgraph.ExecutionRecord{}, &taskgraph.StorageError{Op: "GetExecution", Cause: err}
		}
	}
	return rec, nil
}

func (s *SQL) CreateTask(ctx context.Context, rec taskgraph.TaskRecord) error {
	args, err := json.Marshal(rec.Arguments)
	if err != nil {
		return &taskgraph.StorageError{Op: "CreateTask", Cause: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, execution_id, actor_id, function_path, arguments, status, attempts_count, max_attempts, retry_interval_ns, due_at, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ExecutionID, rec.ActorID, rec.FunctionPath, string(args), string(rec.Status),
		rec.AttemptsCount, rec.MaxAttempts, rec.RetryInterval.Nanoseconds(),
		nullTime(rec.DueAt), nullTime(rec.StartedAt), nullTime(rec.EndedAt))
	if err != nil {
		return &taskgraph.StorageError{Op: "CreateTask", Cause: err}
	}
	return nil
}

func (s *SQL) UpdateTask(ctx context.Context, rec taskgraph.TaskRecord) error {
	existing, err := s.GetTask(ctx, rec.ID)
	if err != nil {
		return err
	}
	merged := mergeTaskRecord(existing, rec)
	args, err := json.Marshal(merged.Arguments)
	if err != nil {
		return &taskgraph.StorageError{Op: "UpdateTask", Cause: err}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET actor_id=?, function_path=?, arguments=?, status=?, attempts_count=?, max_attempts=?, retry_interval_ns=?, due_at=?, started_at=?, ended_at=? WHERE id=?`,
		merged.ActorID, merged.FunctionPath, string(args), string(merged.Status), merged.AttemptsCount,
		merged.MaxAttempts, merged.RetryInterval.Nanoseconds(), nullTime(merged.DueAt), nullTime(merged.StartedAt), nullTime(merged.EndedAt), rec.ID)
	if err != nil {
		return &taskgraph.StorageError{Op: "UpdateTask", Cause: err}
	}
	return requireAffected(res, "UpdateTask")
}

func (s *SQL) GetTask(ctx context.Context, id string) (taskgraph.TaskRecord, error) {
	var rec taskgraph.TaskRecord
	var status, args string
	var retryNs int64
	var dueAt, startedAt, endedAt sql.NullTime
	row := s.db.QueryRowContext(ctx,
		`SELECT id, execution_id, actor_id, function_path, arguments, status, attempts_count, max_attempts, retry_interval_ns, due_at, started_at, ended_at FROM tasks WHERE id=?`, id)
	if err := row.Scan(&rec.ID, &rec.ExecutionID, &rec.ActorID, &rec.FunctionPath, &args, &status,
		&rec.AttemptsCount, &rec.MaxAttempts, &retryNs, &dueAt, &startedAt, &endedAt); err != nil {
		return taskgraph.TaskRecord{}, &taskgraph.StorageError{Op: "GetTask", Cause: err}
	}
	rec.Status = taskgraph.TaskStatus(status)
	rec.RetryInterval = time.Duration(retryNs)
	rec.DueAt = dueAt.Time
	rec.StartedAt = startedAt.Time
	rec.EndedAt = endedAt.Time
	if args != "" {
		if err := json.Unmarshal([]byte(args), &rec.Arguments); err != nil {
			return taskgraph.TaskRecord{}, &taskgraph.StorageError{Op: "GetTask", Cause: err}
		}
	}
	return rec, nil
}

func (s *SQL) ListTasks(ctx context.Context, executionID string) ([]taskgraph.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, actor_id, function_path, arguments, status, attempts_count, max_attempts, retry_interval_ns, due_at, started_at, ended_at
		 FROM tasks WHERE execution_id=? ORDER BY started_at`, executionID)
	if err != nil {
		return nil, &taskgraph.StorageError{Op: "ListTasks", Cause: err}
	}
	defer rows.Close()

	var out []taskgraph.TaskRecord
	for rows.Next() {
		var rec taskgraph.TaskRecord
		var status, args string
		var retryNs int64
		var dueAt, startedAt, endedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.ExecutionID, &rec.ActorID, &rec.FunctionPath, &args, &status,
			&rec.AttemptsCount, &rec.MaxAttempts, &retryNs, &dueAt, &startedAt, &endedAt); err != nil {
			return nil, &taskgraph.StorageError{Op: "ListTasks", Cause: err}
		}
		rec.Status = taskgraph.TaskStatus(status)
		rec.RetryInterval = time.Duration(retryNs)
		rec.DueAt = dueAt.Time
		rec.StartedAt = startedAt.Time
		rec.EndedAt = endedAt.Time
		if args != "" {
			if err := json.Unmarshal([]byte(args), &rec.Arguments); err != nil {
				return nil, &taskgraph.StorageError{Op: "ListTasks", Cause: err}
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return &taskgraph.StorageError{Op: op, Cause: err}
	}
	if n == 0 {
		return &taskgraph.StorageError{Op: op, Cause: fmt.Errorf("no matching row")}
	}
	return nil
}
