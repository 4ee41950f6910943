package store

import (
	"context"
	"fmt"
	"time"

	"presale_sniper/internal/config"
	"presale_sniper/internal/model"
	"presale_sniper/internal/store/postgres"
	"presale_sniper/internal/store/sqlite"
)

// Store is the task queue and account registry shared by the scheduler, the workers and the API.
type Store interface {
	InsertTask(ctx context.Context, t model.Task) (model.Task, error)
	GetTask(ctx context.Context, id string) (model.Task, error)
	GetTaskBySale(ctx context.Context, saleID string) (model.Task, error)
	ListTasks(ctx context.Context) ([]model.Task, error)
	UpdatePendingTask(ctx context.Context, t model.Task) error
	CancelPendingTask(ctx context.Context, id string) error
	DeleteTask(ctx context.Context, id string) error

	ClaimDue(ctx context.Context, now time.Time) (*model.Task, error)
	SetState(ctx context.Context, id string, state model.TaskState, lastErr string) error
	MarkRetried(ctx context.Context, id string, fireAt time.Time, lastErr string) error

	UpsertAccount(ctx context.Context, acc model.Account) (model.Account, error)
	GetAccount(ctx context.Context, id string) (model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	FetchAccounts(ctx context.Context, ids []string) ([]model.Account, error)
	DeleteAccount(ctx context.Context, id string) error

	Close() error
}

var (
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)

// Open connects the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, model.Persistence("open sqlite", err)
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.PostgresURL, cfg.MaxConns)
		if err != nil {
			return nil, model.Persistence("open postgres", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", model.ErrConfiguration, cfg.Driver)
	}
}
