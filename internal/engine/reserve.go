package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"presale_sniper/internal/logbus"
	"presale_sniper/internal/model"
	"presale_sniper/internal/notify"
	"presale_sniper/internal/strategy"
)

var ErrCheckoutCapExceeded = errors.New("batch exceeds the checkout cap")

const defaultMaxAttempts = 20

// Vendor is the reservation side of the ticket vendor.
type Vendor interface {
	SaleLookup
	Reserve(ctx context.Context, token string, batch model.ReservationBatch) error
}

type ExecutorOptions struct {
	Vendor      Vendor
	Bus         *logbus.Bus
	Notifier    notify.Notifier
	Strategy    strategy.Config
	MaxAttempts int
}

// Executor places the reservations of one opened sale for every task account.
type Executor struct {
	vendor      Vendor
	bus         *logbus.Bus
	notifier    notify.Notifier
	strategy    strategy.Config
	maxAttempts int
	now         func() time.Time
}

// AccountResult summarizes what one account got.
type AccountResult struct {
	AccountID string `json:"accountId"`
	Attempts  int    `json:"attempts"`
	Successes int    `json:"successes"`
	// Reserved is the largest quantity the vendor accepted in one call.
	Reserved int64 `json:"reserved"`
}

func NewExecutor(opts ExecutorOptions) *Executor {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	n := opts.Notifier
	if n == nil {
		n = notify.Nop{}
	}
	return &Executor{
		vendor:      opts.Vendor,
		bus:         opts.Bus,
		notifier:    n,
		strategy:    opts.Strategy,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Execute reserves concurrently for each account and waits for all of them.
// Vendor rejections are logged and never returned.
func (e *Executor) Execute(ctx context.Context, task model.Task, sale model.Sale, accounts []model.Account) ([]AccountResult, error) {
	sel, err := strategy.NewSelector(e.strategy, task.Options)
	if err != nil {
		return nil, err
	}

	results := make([]AccountResult, len(accounts))
	var g errgroup.Group
	for i, acc := range accounts {
		g.Go(func() error {
			results[i] = e.reserveForAccount(ctx, task, sale, sel, acc)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (e *Executor) reserveForAccount(ctx context.Context, task model.Task, sale model.Sale, sel *strategy.Selector, acc model.Account) AccountResult {
	res := AccountResult{AccountID: acc.ID}
	if limit, capped := sale.Product.CheckoutCap(); capped {
		e.escalate(ctx, task, sale, sel, acc, limit, &res)
		return res
	}
	e.reserveAll(ctx, task, sale, sel, acc, &res)
	return res
}

// reserveAll sends one batch covering every eligible variant.
func (e *Executor) reserveAll(ctx context.Context, task model.Task, sale model.Sale, sel *strategy.Selector, acc model.Account, res *AccountResult) {
	batch, picked, err := BuildBatch(sale, sel.Eligible(sale.Variants))
	if err != nil {
		e.log("warn", "reservation skipped", map[string]any{
			"taskId":    task.ID,
			"accountId": acc.ID,
			"total":     batch.Total(),
			"error":     err.Error(),
		})
		return
	}
	if len(batch.ToCreate) == 0 {
		e.log("info", "nothing to reserve", map[string]any{"taskId": task.ID, "accountId": acc.ID})
		return
	}
	res.Attempts++
	if err := e.vendor.Reserve(ctx, acc.Token, batch); err != nil {
		e.log("warn", "reservation failed", map[string]any{
			"taskId":    task.ID,
			"accountId": acc.ID,
			"total":     batch.Total(),
			"error":     err.Error(),
		})
		return
	}
	res.Successes++
	res.Reserved = batch.Total()
	for i, req := range batch.ToCreate {
		e.reserved(ctx, task, sale, acc, picked[i], req.Quantity)
	}
}

// escalate reserves one chosen variant with increasing quantities so the largest
// amount the vendor allows under its checkout cap gets through.
func (e *Executor) escalate(ctx context.Context, task model.Task, sale model.Sale, sel *strategy.Selector, acc model.Account, limit int64, res *AccountResult) {
	v, ok := sel.Choose(sale.Variants)
	if !ok {
		e.log("info", "no eligible variant", map[string]any{"taskId": task.ID, "accountId": acc.ID})
		return
	}
	e.log("debug", "variant chosen", map[string]any{
		"taskId":      task.ID,
		"accountId":   acc.ID,
		"inventoryId": v.InventoryID,
		"variant":     v.Name,
		"score":       sel.Score(v),
		"checkoutCap": limit,
	})

	for qty := int64(1); qty <= int64(e.maxAttempts); qty++ {
		if ctx.Err() != nil {
			return
		}
		res.Attempts++
		batch := model.NewReservationBatch(model.ReservationRequest{InventoryID: v.InventoryID, Quantity: qty})
		if err := e.vendor.Reserve(ctx, acc.Token, batch); err != nil {
			e.log("debug", "reservation rejected", map[string]any{
				"taskId":    task.ID,
				"accountId": acc.ID,
				"quantity":  qty,
				"error":     err.Error(),
			})
			continue
		}
		res.Successes++
		if qty > res.Reserved {
			res.Reserved = qty
		}
		e.reserved(ctx, task, sale, acc, v, qty)
	}
}

// BuildBatch builds one all-available batch from variants, skipping those with
// nothing to reserve. It fails with ErrCheckoutCapExceeded when the sale has a
// positive cap below the batch total. The returned variants line up with ToCreate.
func BuildBatch(sale model.Sale, variants []model.Variant) (model.ReservationBatch, []model.Variant, error) {
	qty := strategy.AllAvailable()
	reqs := make([]model.ReservationRequest, 0, len(variants))
	picked := make([]model.Variant, 0, len(variants))
	for _, v := range variants {
		if v.Availability <= 0 {
			continue
		}
		n := qty.For(v)
		if n <= 0 {
			continue
		}
		reqs = append(reqs, model.ReservationRequest{InventoryID: v.InventoryID, Quantity: n})
		picked = append(picked, v)
	}
	batch := model.NewReservationBatch(reqs...)
	if limit := sale.Product.MaxTotalReservationsPerCheckout; limit != nil && *limit > 0 && batch.Total() > *limit {
		return batch, picked, fmt.Errorf("%w: total %d, cap %d", ErrCheckoutCapExceeded, batch.Total(), *limit)
	}
	return batch, picked, nil
}

func (e *Executor) reserved(ctx context.Context, task model.Task, sale model.Sale, acc model.Account, v model.Variant, qty int64) {
	evt := notify.ReservationEvent{
		At:          e.now(),
		TaskID:      task.ID,
		SaleID:      task.SaleID,
		SaleName:    sale.Product.Name,
		AccountID:   acc.ID,
		AccountName: acc.Name,
		VariantName: v.Name,
		InventoryID: v.InventoryID,
		Quantity:    qty,
	}
	e.log("info", "reserved", map[string]any{
		"taskId":      task.ID,
		"accountId":   acc.ID,
		"inventoryId": v.InventoryID,
		"quantity":    qty,
	})
	if e.bus != nil {
		e.bus.Publish("reservation", evt)
	}
	e.notifier.NotifyReservation(ctx, evt)
}

func (e *Executor) log(level, msg string, fields map[string]any) {
	if e.bus != nil {
		e.bus.Log(level, msg, fields)
	}
}
