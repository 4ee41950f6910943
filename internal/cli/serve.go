package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"presale_sniper/internal/config"
	"presale_sniper/internal/engine"
	"presale_sniper/internal/httpapi"
	"presale_sniper/internal/logbus"
	"presale_sniper/internal/notify"
	"presale_sniper/internal/provider"
	"presale_sniper/internal/provider/standard"
	"presale_sniper/internal/scheduler"
	"presale_sniper/internal/store"
	"presale_sniper/internal/strategy"
	"presale_sniper/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the worker pool and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func newBus(cfg config.LogConfig) *logbus.Bus {
	opts := []logbus.Option{logbus.WithLevel(cfg.Level)}
	if cfg.ConsoleEnabled() {
		opts = append(opts, logbus.WithConsole(os.Stderr))
	}
	return logbus.New(cfg.Buffer, opts...)
}

func strategyConfig(cfg config.StrategyConfig) strategy.Config {
	return strategy.Config{
		PositiveKeywords: cfg.PositiveKeywords,
		NegativeKeywords: cfg.NegativeKeywords,
		NameWeight:       cfg.NameWeight,
		PriceWeight:      cfg.PriceWeight,
	}
}

// buildNotifier returns the configured sinks and a function that flushes and closes them.
func buildNotifier(cfg config.NotifyConfig, bus *logbus.Bus) (notify.Notifier, func(context.Context), error) {
	var (
		sinks   notify.Multi
		closers []func(context.Context)
	)
	if cfg.Email.Enabled {
		email, err := notify.NewEmailNotifier(cfg.Email, bus)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, email)
		closers = append(closers, func(ctx context.Context) { _ = email.Close(ctx) })
	}
	if cfg.AMQP.Enabled() {
		pub, err := notify.DialAMQP(cfg.AMQP, bus)
		if err != nil {
			for _, c := range closers {
				c(context.Background())
			}
			return nil, nil, err
		}
		sinks = append(sinks, pub)
		closers = append(closers, func(context.Context) { _ = pub.Close() })
	}
	closeAll := func(ctx context.Context) {
		for _, c := range closers {
			c(ctx)
		}
	}
	if len(sinks) == 0 {
		return notify.Nop{}, closeAll, nil
	}
	return sinks, closeAll, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	bus := newBus(cfg.Log)
	defer bus.Close()
	bus.Log("info", "server starting", map[string]any{"addr": cfg.Server.Addr, "storage": cfg.Storage.Driver})

	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()

	notifier, closeNotifiers, err := buildNotifier(cfg.Notify, bus)
	if err != nil {
		return err
	}

	var vendor provider.Provider = standard.New(cfg.Provider, cfg.Proxy, cfg.Limits, bus)
	bus.Log("info", "vendor client ready", map[string]any{"provider": vendor.Name(), "baseURL": cfg.Provider.BaseURL})
	sched := scheduler.New(scheduler.Options{
		Store:      st,
		Sales:      vendor,
		Bus:        bus,
		LeadTime:   cfg.Task.LeadTime(),
		MaxRetries: cfg.Task.MaxRetries,
	})
	runner := engine.NewRunner(engine.RunnerOptions{
		Accounts: st,
		Gate:     engine.NewGate(vendor, cfg.Gate, bus),
		Executor: engine.NewExecutor(engine.ExecutorOptions{
			Vendor:      vendor,
			Bus:         bus,
			Notifier:    notifier,
			Strategy:    strategyConfig(cfg.Strategy),
			MaxAttempts: cfg.Reserve.MaxAttempts,
		}),
		Bus: bus,
	})
	pool := worker.New(worker.Options{Store: st, Runner: runner, Bus: bus, Config: cfg.Worker})
	if err := pool.Start(ctx); err != nil {
		return err
	}

	api := httpapi.New(httpapi.Options{
		Cfg:       cfg,
		Bus:       bus,
		Scheduler: sched,
		Accounts:  st,
		Pool:      pool,
	})
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		bus.Log("info", "shutdown signal received", nil)
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			bus.Log("error", "http server error", map[string]any{"error": err.Error()})
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	_ = server.Shutdown(shutdownCtx)
	if err := pool.Stop(shutdownCtx); err != nil {
		bus.Log("warn", "workers did not stop in time", map[string]any{"error": err.Error()})
	}
	closeNotifiers(shutdownCtx)
	bus.Log("info", "server stopped", nil)
	return runErr
}
