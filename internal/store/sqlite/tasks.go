package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"presale_sniper/internal/model"
)

const taskColumns = `id, sale_id, kind, params_json, state, fire_at, attempts, max_retries, last_error, created_at, updated_at`

const pendingStates = `('new', 'retried')`

// InsertTask persists a new task. A second active task for the same sale fails with
// model.ErrDuplicateTask.
func (s *Store) InsertTask(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.State == "" {
		t.State = model.TaskNew
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	env, err := t.Envelope()
	if err != nil {
		return model.Task{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.SaleID, string(env.Kind), string(env.Params), string(t.State), fireMillis(t.FireAt),
		t.Attempts, t.MaxRetries, t.LastError, t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return model.Task{}, fmt.Errorf("sale %s: %w", t.SaleID, model.ErrDuplicateTask)
		}
		return model.Task{}, model.Persistence("insert task", err)
	}
	return s.GetTask(ctx, t.ID)
}

func (s *Store) GetTask(ctx context.Context, id string) (model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return oneTask(row, "task "+id)
}

// GetTaskBySale returns the most recently created task for a sale.
func (s *Store) GetTaskBySale(ctx context.Context, saleID string) (model.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE sale_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1
	`, saleID)
	return oneTask(row, "sale "+saleID)
}

func (s *Store) ListTasks(ctx context.Context) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, model.Persistence("list tasks", err)
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, model.Persistence("scan task", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Persistence("scan tasks", err)
	}
	return out, nil
}

// UpdatePendingTask rewrites the parameters and fire time of a task that has not started.
func (s *Store) UpdatePendingTask(ctx context.Context, t model.Task) error {
	env, err := t.Envelope()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET params_json = ?, fire_at = ?, updated_at = ?
		WHERE id = ? AND state IN `+pendingStates,
		string(env.Params), fireMillis(t.FireAt), time.Now().UnixMilli(), t.ID)
	if err != nil {
		return model.Persistence("update task", err)
	}
	return s.explainNoop(ctx, res, t.ID)
}

// CancelPendingTask removes a task that has not started.
func (s *Store) CancelPendingTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND state IN `+pendingStates, id)
	if err != nil {
		return model.Persistence("cancel task", err)
	}
	return s.explainNoop(ctx, res, id)
}

// DeleteTask removes a task unless a worker is executing it.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND state <> 'in_progress'`, id)
	if err != nil {
		return model.Persistence("delete task", err)
	}
	return s.explainNoop(ctx, res, id)
}

// ClaimDue moves the earliest due pending task to in_progress and returns it.
// It returns nil when nothing is due.
func (s *Store) ClaimDue(ctx context.Context, now time.Time) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE tasks SET state = 'in_progress', attempts = attempts + 1, updated_at = ?
		WHERE id = (
			SELECT id FROM tasks
			WHERE state IN `+pendingStates+` AND fire_at <= ?
			ORDER BY fire_at ASC, created_at ASC
			LIMIT 1
		) AND state IN `+pendingStates+`
		RETURNING `+taskColumns,
		now.UnixMilli(), now.UnixMilli())
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, model.Persistence("claim task", err)
	}
	return &t, nil
}

func (s *Store) SetState(ctx context.Context, id string, state model.TaskState, lastErr string) error {
	if !state.Valid() {
		return fmt.Errorf("%w: %q", model.ErrInvalidState, state)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = ?, last_error = ?, updated_at = ? WHERE id = ?
	`, string(state), lastErr, time.Now().UnixMilli(), id)
	if err != nil {
		return model.Persistence("set task state", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// MarkRetried makes a failed task claimable again at fireAt.
func (s *Store) MarkRetried(ctx context.Context, id string, fireAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = 'retried', fire_at = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND state = 'in_progress'
	`, fireMillis(fireAt), lastErr, time.Now().UnixMilli(), id)
	if err != nil {
		return model.Persistence("retry task", err)
	}
	return s.explainNoop(ctx, res, id)
}

// fireMillis rounds a fire time up to the next millisecond. Claims compare against a
// truncated clock, so rounding down would make a task due before its fire time.
func fireMillis(t time.Time) int64 {
	ms := t.UnixMilli()
	if time.UnixMilli(ms).Before(t) {
		ms++
	}
	return ms
}

// explainNoop turns a conditional statement that touched no row into NotFound or InvalidState.
func (s *Store) explainNoop(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return model.Persistence("rows affected", err)
	}
	if n > 0 {
		return nil
	}
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("task %s is %s: %w", id, t.State, model.ErrInvalidState)
}

func oneTask(row *sql.Row, what string) (model.Task, error) {
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	if err != nil {
		return model.Task{}, model.Persistence("get task", err)
	}
	return t, nil
}

func scanTask(sc scanner) (model.Task, error) {
	var row struct {
		id         string
		saleID     string
		kind       string
		params     string
		state      string
		fireAt     int64
		attempts   int
		maxRetries int
		lastError  string
		createdAt  int64
		updatedAt  int64
	}
	if err := sc.Scan(&row.id, &row.saleID, &row.kind, &row.params, &row.state, &row.fireAt,
		&row.attempts, &row.maxRetries, &row.lastError, &row.createdAt, &row.updatedAt); err != nil {
		return model.Task{}, err
	}
	t := model.Task{
		ID:         row.id,
		SaleID:     row.saleID,
		State:      model.TaskState(row.state),
		FireAt:     time.UnixMilli(row.fireAt),
		Attempts:   row.attempts,
		MaxRetries: row.maxRetries,
		LastError:  row.lastError,
		CreatedAt:  time.UnixMilli(row.createdAt),
		UpdatedAt:  time.UnixMilli(row.updatedAt),
	}
	env := model.Envelope{Kind: model.TaskKind(row.kind), Params: []byte(row.params)}
	if err := env.Apply(&t); err != nil {
		return model.Task{}, err
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
