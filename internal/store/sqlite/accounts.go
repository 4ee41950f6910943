package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"presale_sniper/internal/model"
)

const accountColumns = `id, name, token, created_at, updated_at`

func (s *Store) UpsertAccount(ctx context.Context, acc model.Account) (model.Account, error) {
	acc.Name = strings.TrimSpace(acc.Name)
	if acc.Name == "" {
		return model.Account{}, errors.New("name is required")
	}
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	now := time.Now()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			token = excluded.token,
			updated_at = excluded.updated_at
	`, acc.ID, acc.Name, acc.Token, acc.CreatedAt.UnixMilli(), acc.UpdatedAt.UnixMilli())
	if err != nil {
		return model.Account{}, model.Persistence("upsert account", err)
	}
	return s.GetAccount(ctx, acc.ID)
}

func (s *Store) GetAccount(ctx context.Context, id string) (model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Account{}, model.Persistence("get account", err)
	}
	return acc, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY name ASC`)
	if err != nil {
		return nil, model.Persistence("list accounts", err)
	}
	return collectAccounts(rows)
}

// FetchAccounts returns the accounts with the given ids in no particular order.
// Unknown ids are left out of the result.
func (s *Store) FetchAccounts(ctx context.Context, ids []string) ([]model.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, model.Persistence("fetch accounts", err)
	}
	return collectAccounts(rows)
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return model.Persistence("delete account", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func collectAccounts(rows *sql.Rows) ([]model.Account, error) {
	defer rows.Close()
	var out []model.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, model.Persistence("scan account", err)
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Persistence("scan accounts", err)
	}
	return out, nil
}

func scanAccount(sc scanner) (model.Account, error) {
	var row struct {
		id        string
		name      string
		token     string
		createdAt int64
		updatedAt int64
	}
	if err := sc.Scan(&row.id, &row.name, &row.token, &row.createdAt, &row.updatedAt); err != nil {
		return model.Account{}, err
	}
	return model.Account{
		ID:        row.id,
		Name:      row.name,
		Token:     row.token,
		CreatedAt: time.UnixMilli(row.createdAt),
		UpdatedAt: time.UnixMilli(row.updatedAt),
	}, nil
}
