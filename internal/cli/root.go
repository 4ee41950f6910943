package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"presale_sniper/internal/config"
	"presale_sniper/internal/store"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

type rootOptions struct {
	configPath string
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "sniper",
		Short:         "Schedules presale ticket reservations and fires them the moment a sale opens",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "./config.yaml", "path to config.yaml")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newTaskCmd(opts))
	root.AddCommand(newAccountCmd(opts))

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *rootOptions) load() (config.Config, error) {
	return config.Load(o.configPath)
}

// withStore loads the config and hands an open store to fn.
func (o *rootOptions) withStore(ctx context.Context, fn func(cfg config.Config, st store.Store) error) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cfg, st)
}
