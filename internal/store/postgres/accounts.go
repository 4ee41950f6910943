package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

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
	now := time.Now().UTC()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now

	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, name, token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			token = excluded.token,
			updated_at = excluded.updated_at
		RETURNING `+accountColumns,
		acc.ID, acc.Name, acc.Token, acc.CreatedAt, acc.UpdatedAt)
	out, err := scanAccount(row)
	if err != nil {
		return model.Account{}, model.Persistence("upsert account", err)
	}
	return out, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (model.Account, error) {
	acc, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Account{}, model.Persistence("get account", err)
	}
	return acc, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY name ASC`)
	if err != nil {
		return nil, model.Persistence("list accounts", err)
	}
	return collectAccounts(rows)
}

// FetchAccounts returns the accounts with the given ids. Unknown ids are left out.
func (s *Store) FetchAccounts(ctx context.Context, ids []string) ([]model.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, model.Persistence("fetch accounts", err)
	}
	return collectAccounts(rows)
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return model.Persistence("delete account", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func collectAccounts(rows pgx.Rows) ([]model.Account, error) {
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
	var acc model.Account
	if err := sc.Scan(&acc.ID, &acc.Name, &acc.Token, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return model.Account{}, err
	}
	return acc, nil
}
