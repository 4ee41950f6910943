package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"presale_sniper/internal/config"
	"presale_sniper/internal/model"
	"presale_sniper/internal/provider/standard"
	"presale_sniper/internal/scheduler"
	"presale_sniper/internal/store"
)

func newTaskCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage reservation tasks without the HTTP API",
	}
	cmd.AddCommand(newTaskScheduleCmd(opts))
	cmd.AddCommand(newTaskListCmd(opts))
	cmd.AddCommand(newTaskGetCmd(opts))
	cmd.AddCommand(newTaskUpdateCmd(opts))
	cmd.AddCommand(newTaskCancelCmd(opts))
	cmd.AddCommand(newTaskDeleteCmd(opts))
	return cmd
}

func newScheduler(cfg config.Config, st store.Store) *scheduler.Scheduler {
	return scheduler.New(scheduler.Options{
		Store:      st,
		Sales:      standard.New(cfg.Provider, cfg.Proxy, cfg.Limits, nil),
		LeadTime:   cfg.Task.LeadTime(),
		MaxRetries: cfg.Task.MaxRetries,
	})
}

type taskOptionFlags struct {
	targetPrice      string
	targetName       string
	useRegex         bool
	ignoreMembership bool
}

func (f *taskOptionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.targetPrice, "target-price", "", "preferred price per ticket in major units (e.g. 39.90)")
	cmd.Flags().StringVar(&f.targetName, "target-name", "", "preferred ticket name, a regex with --regex")
	cmd.Flags().BoolVar(&f.useRegex, "regex", false, "treat --target-name as a case-insensitive regex")
	cmd.Flags().BoolVar(&f.ignoreMembership, "ignore-membership", false, "also consider membership-only tickets")
}

func (f *taskOptionFlags) options() (model.TaskOptions, error) {
	opts := model.TaskOptions{
		TargetName:       strings.TrimSpace(f.targetName),
		UseRegex:         f.useRegex,
		IgnoreMembership: f.ignoreMembership,
	}
	if p := strings.TrimSpace(f.targetPrice); p != "" {
		price, err := decimal.NewFromString(p)
		if err != nil {
			return model.TaskOptions{}, fmt.Errorf("%w: --target-price: %v", model.ErrInvalidOptions, err)
		}
		opts.TargetPrice = &price
	}
	return opts, nil
}

func parseStart(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --start (want RFC3339): %w", err)
	}
	return t, nil
}

func newTaskScheduleCmd(opts *rootOptions) *cobra.Command {
	var (
		saleID   string
		accounts []string
		start    string
		flags    taskOptionFlags
	)
	c := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a reservation task for a sale",
		RunE: func(cmd *cobra.Command, args []string) error {
			saleStart, err := parseStart(start)
			if err != nil {
				return err
			}
			taskOpts, err := flags.options()
			if err != nil {
				return err
			}
			return opts.withStore(cmd.Context(), func(cfg config.Config, st store.Store) error {
				task, err := newScheduler(cfg, st).Schedule(cmd.Context(), scheduler.ScheduleRequest{
					SaleID:     saleID,
					AccountIDs: accounts,
					SaleStart:  saleStart,
					Options:    taskOpts,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "scheduled task id=%s sale=%s fire_at_utc=%s\n",
					task.ID, task.SaleID, task.FireAt.UTC().Format(time.RFC3339))
				return nil
			})
		},
	}
	c.Flags().StringVar(&saleID, "sale", "", "sale (product) id")
	c.Flags().StringSliceVar(&accounts, "account", nil, "account id, repeatable or comma-separated")
	c.Flags().StringVar(&start, "start", "", "sale start RFC3339; looked up from the vendor when empty")
	flags.register(c)
	_ = c.MarkFlagRequired("sale")
	_ = c.MarkFlagRequired("account")
	return c
}

func newTaskListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd.Context(), func(cfg config.Config, st store.Store) error {
				tasks, err := newScheduler(cfg, st).List(cmd.Context())
				if err != nil {
					return err
				}
				for _, t := range tasks {
					printTaskLine(cmd.OutOrStdout(), t)
				}
				return nil
			})
		},
	}
}

func newTaskGetCmd(opts *rootOptions) *cobra.Command {
	var saleID, taskID string
	c := &cobra.Command{
		Use:   "get",
		Short: "Print one task as JSON, by --sale or --id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (saleID == "") == (taskID == "") {
				return fmt.Errorf("exactly one of --sale or --id is required")
			}
			return opts.withStore(cmd.Context(), func(cfg config.Config, st store.Store) error {
				sched := newScheduler(cfg, st)
				var (
					task model.Task
					err  error
				)
				if saleID != "" {
					task, err = sched.Get(cmd.Context(), saleID)
				} else {
					task, err = sched.GetByID(cmd.Context(), taskID)
				}
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(task)
			})
		},
	}
	c.Flags().StringVar(&saleID, "sale", "", "sale id")
	c.Flags().StringVar(&taskID, "id", "", "task id")
	return c
}

func newTaskUpdateCmd(opts *rootOptions) *cobra.Command {
	var (
		taskID   string
		accounts []string
		start    string
		flags    taskOptionFlags
	)
	c := &cobra.Command{
		Use:   "update",
		Short: "Change a task that has not started yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd scheduler.TaskUpdate
			if cmd.Flags().Changed("account") {
				upd.AccountIDs = accounts
				if upd.AccountIDs == nil {
					upd.AccountIDs = []string{}
				}
			}
			if cmd.Flags().Changed("start") {
				saleStart, err := parseStart(start)
				if err != nil {
					return err
				}
				upd.SaleStart = &saleStart
			}
			for _, name := range []string{"target-price", "target-name", "regex", "ignore-membership"} {
				if cmd.Flags().Changed(name) {
					taskOpts, err := flags.options()
					if err != nil {
						return err
					}
					upd.Options = &taskOpts
					break
				}
			}
			return opts.withStore(cmd.Context(), func(cfg config.Config, st store.Store) error {
				task, err := newScheduler(cfg, st).Update(cmd.Context(), taskID, upd)
				if err != nil {
					return err
				}
				printTaskLine(cmd.OutOrStdout(), task)
				return nil
			})
		},
	}
	c.Flags().StringVar(&taskID, "id", "", "task id")
	c.Flags().StringSliceVar(&accounts, "account", nil, "replacement account ids")
	c.Flags().StringVar(&start, "start", "", "replacement sale start RFC3339")
	flags.register(c)
	_ = c.MarkFlagRequired("id")
	return c
}

func newTaskCancelCmd(opts *rootOptions) *cobra.Command {
	var taskID string
	c := &cobra.Command{
		Use:   "cancel",
		Short: "Remove a task that has not started yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd.Context(), func(cfg config.Config, st store.Store) error {
				if err := newScheduler(cfg, st).Cancel(cmd.Context(), taskID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancelled task id=%s\n", taskID)
				return nil
			})
		},
	}
	c.Flags().StringVar(&taskID, "id", "", "task id")
	_ = c.MarkFlagRequired("id")
	return c
}

func newTaskDeleteCmd(opts *rootOptions) *cobra.Command {
	var taskID string
	c := &cobra.Command{
		Use:   "delete",
		Short: "Delete any task that is not executing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd.Context(), func(cfg config.Config, st store.Store) error {
				if err := newScheduler(cfg, st).Delete(cmd.Context(), taskID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted task id=%s\n", taskID)
				return nil
			})
		},
	}
	c.Flags().StringVar(&taskID, "id", "", "task id")
	_ = c.MarkFlagRequired("id")
	return c
}

func printTaskLine(w io.Writer, t model.Task) {
	fmt.Fprintf(w, "id=%s sale=%s state=%s attempts=%d fire_at_utc=%s accounts=%s\n",
		t.ID, t.SaleID, t.State, t.Attempts, t.FireAt.UTC().Format(time.RFC3339), strings.Join(t.AccountIDs, ","))
}
