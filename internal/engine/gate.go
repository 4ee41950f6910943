package engine

import (
	"context"
	"errors"
	"time"

	"presale_sniper/internal/config"
	"presale_sniper/internal/logbus"
	"presale_sniper/internal/model"
)

var ErrSaleNotOpened = errors.New("sale did not open before the wait limit")

// SaleLookup fetches a fresh sale snapshot.
type SaleLookup interface {
	Product(ctx context.Context, saleID string) (model.Sale, error)
}

// Gate polls a sale until the vendor publishes its variants.
type Gate struct {
	sales      SaleLookup
	bus        *logbus.Bus
	slowPoll   time.Duration
	fastPoll   time.Duration
	fastWindow time.Duration
	maxWait    time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewGate(sales SaleLookup, cfg config.GateConfig, bus *logbus.Bus) *Gate {
	return &Gate{
		sales:      sales,
		bus:        bus,
		slowPoll:   cfg.SlowPoll(),
		fastPoll:   cfg.FastPoll(),
		fastWindow: cfg.FastWindow(),
		maxWait:    cfg.MaxWait(),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Interval is the pause before the next poll when the sale starts at saleStart.
func (g *Gate) Interval(saleStart time.Time) time.Duration {
	if saleStart.Sub(g.now()) > g.fastWindow {
		return g.slowPoll
	}
	return g.fastPoll
}

// WaitOpen returns the first snapshot of saleID that carries variants.
func (g *Gate) WaitOpen(ctx context.Context, saleID string, saleStart time.Time) (model.Sale, error) {
	began := g.now()
	polls := 0
	for {
		sale, err := g.sales.Product(ctx, saleID)
		polls++
		switch {
		case err == nil && sale.Purchasable():
			g.log("info", "sale open", map[string]any{
				"saleId":   saleID,
				"variants": len(sale.Variants),
				"polls":    polls,
			})
			return sale, nil
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return model.Sale{}, ctxErr
			}
			g.log("warn", "sale poll failed", map[string]any{"saleId": saleID, "error": err.Error()})
		case polls == 1:
			g.log("info", "waiting for sale to open", map[string]any{
				"saleId":    saleID,
				"saleStart": saleStart.Format(time.RFC3339Nano),
			})
		}

		if g.maxWait > 0 && g.now().Sub(began) >= g.maxWait {
			return model.Sale{}, ErrSaleNotOpened
		}
		if err := g.sleep(ctx, g.Interval(saleStart)); err != nil {
			return model.Sale{}, err
		}
	}
}

func (g *Gate) log(level, msg string, fields map[string]any) {
	if g.bus != nil {
		g.bus.Log(level, msg, fields)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
