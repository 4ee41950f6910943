package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"presale_sniper/internal/logbus"
	"presale_sniper/internal/model"
)

var ErrNoAccounts = errors.New("no task account has a token")

// AccountStore resolves task account ids. Unknown ids are left out of the result.
type AccountStore interface {
	FetchAccounts(ctx context.Context, ids []string) ([]model.Account, error)
}

type RunnerOptions struct {
	Accounts AccountStore
	Gate     *Gate
	Executor *Executor
	Bus      *logbus.Bus
}

// Runner executes claimed tasks by kind.
type Runner struct {
	accounts AccountStore
	gate     *Gate
	executor *Executor
	bus      *logbus.Bus
}

func NewRunner(opts RunnerOptions) *Runner {
	return &Runner{
		accounts: opts.Accounts,
		gate:     opts.Gate,
		executor: opts.Executor,
		bus:      opts.Bus,
	}
}

func (r *Runner) Run(ctx context.Context, task model.Task) error {
	switch task.Kind {
	case model.KindPresaleReserve:
		return r.runPresale(ctx, task)
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

func (r *Runner) runPresale(ctx context.Context, task model.Task) error {
	accounts, err := r.accounts.FetchAccounts(ctx, task.AccountIDs)
	if err != nil {
		return err
	}
	usable := make([]model.Account, 0, len(accounts))
	for _, acc := range accounts {
		if acc.HasToken() {
			usable = append(usable, acc)
		}
	}
	if len(usable) == 0 {
		return fmt.Errorf("task %s: %w", task.ID, ErrNoAccounts)
	}
	if len(usable) < len(task.AccountIDs) {
		r.log("warn", "some task accounts are missing or have no token", map[string]any{
			"taskId":    task.ID,
			"requested": len(task.AccountIDs),
			"usable":    len(usable),
		})
	}

	sale, err := r.gate.WaitOpen(ctx, task.SaleID, task.SaleStart)
	if err != nil {
		return err
	}

	began := time.Now()
	results, err := r.executor.Execute(ctx, task, sale, usable)
	if err != nil {
		return err
	}
	var successes int
	for _, res := range results {
		successes += res.Successes
		r.log("info", "account done", map[string]any{
			"taskId":    task.ID,
			"accountId": res.AccountID,
			"attempts":  res.Attempts,
			"successes": res.Successes,
			"reserved":  res.Reserved,
		})
	}
	r.log("info", "task executed", map[string]any{
		"taskId":     task.ID,
		"saleId":     task.SaleID,
		"accounts":   len(usable),
		"successes":  successes,
		"durationMs": time.Since(began).Milliseconds(),
	})
	return nil
}

func (r *Runner) log(level, msg string, fields map[string]any) {
	if r.bus != nil {
		r.bus.Log(level, msg, fields)
	}
}
