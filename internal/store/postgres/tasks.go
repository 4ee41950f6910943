package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"presale_sniper/internal/model"
)

const taskColumns = `id, sale_id, kind, params_json, state, fire_at, attempts, max_retries, last_error, created_at, updated_at`

const pendingStates = `('new', 'retried')`

const uniqueViolation = "23505"

func (s *Store) InsertTask(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.State == "" {
		t.State = model.TaskNew
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	env, err := t.Envelope()
	if err != nil {
		return model.Task{}, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+taskColumns,
		t.ID, t.SaleID, string(env.Kind), string(env.Params), string(t.State), fireMicros(t.FireAt),
		t.Attempts, t.MaxRetries, t.LastError, t.CreatedAt, t.UpdatedAt)
	out, err := scanTask(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.Task{}, fmt.Errorf("sale %s: %w", t.SaleID, model.ErrDuplicateTask)
		}
		return model.Task{}, model.Persistence("insert task", err)
	}
	return out, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (model.Task, error) {
	return oneTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id), "task "+id)
}

func (s *Store) GetTaskBySale(ctx context.Context, saleID string) (model.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE sale_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, saleID)
	return oneTask(row, "sale "+saleID)
}

func (s *Store) ListTasks(ctx context.Context) ([]model.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC`)
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

func (s *Store) UpdatePendingTask(ctx context.Context, t model.Task) error {
	env, err := t.Envelope()
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET params_json = $1, fire_at = $2, updated_at = now()
		WHERE id = $3 AND state IN `+pendingStates,
		string(env.Params), fireMicros(t.FireAt), t.ID)
	if err != nil {
		return model.Persistence("update task", err)
	}
	return s.explainNoop(ctx, tag, t.ID)
}

func (s *Store) CancelPendingTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND state IN `+pendingStates, id)
	if err != nil {
		return model.Persistence("cancel task", err)
	}
	return s.explainNoop(ctx, tag, id)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND state <> 'in_progress'`, id)
	if err != nil {
		return model.Persistence("delete task", err)
	}
	return s.explainNoop(ctx, tag, id)
}

// ClaimDue locks the earliest due pending task, skipping rows other pollers hold,
// and moves it to in_progress.
func (s *Store) ClaimDue(ctx context.Context, now time.Time) (*model.Task, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE tasks SET state = 'in_progress', attempts = attempts + 1, updated_at = $1
		WHERE id = (
			SELECT id FROM tasks
			WHERE state IN `+pendingStates+` AND fire_at <= $1
			ORDER BY fire_at ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		now.UTC())
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET state = $1, last_error = $2, updated_at = now() WHERE id = $3
	`, string(state), lastErr, id)
	if err != nil {
		return model.Persistence("set task state", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (s *Store) MarkRetried(ctx context.Context, id string, fireAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET state = 'retried', fire_at = $1, last_error = $2, updated_at = now()
		WHERE id = $3 AND state = 'in_progress'
	`, fireMicros(fireAt), lastErr, id)
	if err != nil {
		return model.Persistence("retry task", err)
	}
	return s.explainNoop(ctx, tag, id)
}

func (s *Store) explainNoop(ctx context.Context, tag pgconn.CommandTag, id string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("task %s is %s: %w", id, t.State, model.ErrInvalidState)
}

// fireMicros rounds a fire time up to timestamptz precision so a task is never due early.
func fireMicros(t time.Time) time.Time {
	r := t.Truncate(time.Microsecond)
	if r.Before(t) {
		r = r.Add(time.Microsecond)
	}
	return r.UTC()
}

func oneTask(row pgx.Row, what string) (model.Task, error) {
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Task{}, fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	if err != nil {
		return model.Task{}, model.Persistence("get task", err)
	}
	return t, nil
}

func scanTask(sc scanner) (model.Task, error) {
	var (
		t      model.Task
		kind   string
		params []byte
		state  string
	)
	if err := sc.Scan(&t.ID, &t.SaleID, &kind, &params, &state, &t.FireAt,
		&t.Attempts, &t.MaxRetries, &t.LastError, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return model.Task{}, err
	}
	t.State = model.TaskState(state)
	if err := (model.Envelope{Kind: model.TaskKind(kind), Params: params}).Apply(&t); err != nil {
		return model.Task{}, err
	}
	return t, nil
}
