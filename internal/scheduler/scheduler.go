package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"presale_sniper/internal/logbus"
	"presale_sniper/internal/model"
	"presale_sniper/internal/strategy"
)

// Store is the part of the task store the scheduler mutates.
type Store interface {
	InsertTask(ctx context.Context, t model.Task) (model.Task, error)
	GetTask(ctx context.Context, id string) (model.Task, error)
	GetTaskBySale(ctx context.Context, saleID string) (model.Task, error)
	ListTasks(ctx context.Context) ([]model.Task, error)
	UpdatePendingTask(ctx context.Context, t model.Task) error
	CancelPendingTask(ctx context.Context, id string) error
	DeleteTask(ctx context.Context, id string) error
}

// SaleLookup resolves the sale start when the caller does not provide one.
type SaleLookup interface {
	Product(ctx context.Context, saleID string) (model.Sale, error)
}

type Options struct {
	Store      Store
	Sales      SaleLookup
	Bus        *logbus.Bus
	LeadTime   time.Duration
	MaxRetries int
}

type Scheduler struct {
	store      Store
	sales      SaleLookup
	bus        *logbus.Bus
	leadTime   time.Duration
	maxRetries int
}

type ScheduleRequest struct {
	SaleID     string            `json:"saleId"`
	AccountIDs []string          `json:"accountIds"`
	SaleStart  time.Time         `json:"saleStart"`
	Options    model.TaskOptions `json:"options"`
}

// TaskUpdate replaces the fields that are set. A nil field keeps the stored value.
type TaskUpdate struct {
	AccountIDs []string           `json:"accountIds,omitempty"`
	Options    *model.TaskOptions `json:"options,omitempty"`
	SaleStart  *time.Time         `json:"saleStart,omitempty"`
}

func New(opts Options) *Scheduler {
	lead := opts.LeadTime
	if lead <= 0 {
		lead = 10 * time.Second
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Scheduler{
		store:      opts.Store,
		sales:      opts.Sales,
		bus:        opts.Bus,
		leadTime:   lead,
		maxRetries: maxRetries,
	}
}

// FireAt is the instant workers may claim a task for a sale starting at saleStart.
func (s *Scheduler) FireAt(saleStart time.Time) time.Time {
	return saleStart.Add(-s.leadTime)
}

// Schedule validates req and persists a new task for the sale.
func (s *Scheduler) Schedule(ctx context.Context, req ScheduleRequest) (model.Task, error) {
	req.SaleID = strings.TrimSpace(req.SaleID)
	accounts := normalizeAccounts(req.AccountIDs)
	if req.SaleID == "" {
		return model.Task{}, fmt.Errorf("%w: saleId is required", model.ErrInvalidOptions)
	}
	if len(accounts) == 0 {
		return model.Task{}, fmt.Errorf("%w: at least one account is required", model.ErrInvalidOptions)
	}
	if err := strategy.ValidateOptions(req.Options); err != nil {
		return model.Task{}, err
	}

	start := req.SaleStart
	if start.IsZero() {
		resolved, err := s.lookupSaleStart(ctx, req.SaleID)
		if err != nil {
			return model.Task{}, err
		}
		start = resolved
	}

	task, err := s.store.InsertTask(ctx, model.Task{
		SaleID:     req.SaleID,
		Kind:       model.KindPresaleReserve,
		AccountIDs: accounts,
		SaleStart:  start,
		FireAt:     s.FireAt(start),
		Options:    req.Options,
		State:      model.TaskNew,
		MaxRetries: s.maxRetries,
	})
	if err != nil {
		return model.Task{}, err
	}
	s.log("info", "task scheduled", map[string]any{
		"taskId":   task.ID,
		"saleId":   task.SaleID,
		"accounts": len(task.AccountIDs),
		"fireAt":   task.FireAt.Format(time.RFC3339Nano),
	})
	return task, nil
}

// Update mutates a task that has not been claimed yet.
func (s *Scheduler) Update(ctx context.Context, taskID string, upd TaskUpdate) (model.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return model.Task{}, err
	}
	if !task.State.Pending() {
		return model.Task{}, fmt.Errorf("task %s is %s: %w", taskID, task.State, model.ErrInvalidState)
	}
	if upd.AccountIDs != nil {
		accounts := normalizeAccounts(upd.AccountIDs)
		if len(accounts) == 0 {
			return model.Task{}, fmt.Errorf("%w: at least one account is required", model.ErrInvalidOptions)
		}
		task.AccountIDs = accounts
	}
	if upd.Options != nil {
		if err := strategy.ValidateOptions(*upd.Options); err != nil {
			return model.Task{}, err
		}
		task.Options = *upd.Options
	}
	if upd.SaleStart != nil && !upd.SaleStart.IsZero() {
		task.SaleStart = *upd.SaleStart
		task.FireAt = s.FireAt(task.SaleStart)
	}
	if err := s.store.UpdatePendingTask(ctx, task); err != nil {
		return model.Task{}, err
	}
	s.log("info", "task updated", map[string]any{"taskId": task.ID, "saleId": task.SaleID})
	return s.store.GetTask(ctx, taskID)
}

// Cancel removes a pending task.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	if err := s.store.CancelPendingTask(ctx, taskID); err != nil {
		return err
	}
	s.log("info", "task cancelled", map[string]any{"taskId": taskID})
	return nil
}

// Delete removes any task that is not executing.
func (s *Scheduler) Delete(ctx context.Context, taskID string) error {
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	s.log("info", "task deleted", map[string]any{"taskId": taskID})
	return nil
}

// Get returns the most recent task for a sale.
func (s *Scheduler) Get(ctx context.Context, saleID string) (model.Task, error) {
	return s.store.GetTaskBySale(ctx, saleID)
}

func (s *Scheduler) GetByID(ctx context.Context, taskID string) (model.Task, error) {
	return s.store.GetTask(ctx, taskID)
}

func (s *Scheduler) List(ctx context.Context) ([]model.Task, error) {
	return s.store.ListTasks(ctx)
}

func (s *Scheduler) lookupSaleStart(ctx context.Context, saleID string) (time.Time, error) {
	if s.sales == nil {
		return time.Time{}, fmt.Errorf("%w: saleStart is required", model.ErrInvalidOptions)
	}
	sale, err := s.sales.Product(ctx, saleID)
	if err != nil {
		return time.Time{}, err
	}
	if sale.Product.DateSalesFrom.IsZero() {
		return time.Time{}, fmt.Errorf("%w: sale %s has no start time", model.ErrInvalidOptions, saleID)
	}
	return sale.Product.DateSalesFrom, nil
}

func (s *Scheduler) log(level, msg string, fields map[string]any) {
	if s.bus != nil {
		s.bus.Log(level, msg, fields)
	}
}

func normalizeAccounts(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
