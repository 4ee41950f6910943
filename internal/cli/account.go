package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"presale_sniper/internal/config"
	"presale_sniper/internal/model"
	"presale_sniper/internal/store"
)

func newAccountCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage vendor accounts",
	}
	cmd.AddCommand(newAccountAddCmd(opts))
	cmd.AddCommand(newAccountListCmd(opts))
	cmd.AddCommand(newAccountGetCmd(opts))
	cmd.AddCommand(newAccountDeleteCmd(opts))
	return cmd
}

func newAccountAddCmd(opts *rootOptions) *cobra.Command {
	var id, name, token string
	c := &cobra.Command{
		Use:   "add",
		Short: "Create an account, or replace one with --id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd.Context(), func(_ config.Config, st store.Store) error {
				acc, err := st.UpsertAccount(cmd.Context(), model.Account{ID: id, Name: name, Token: token})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved account id=%s name=%q has_token=%t\n", acc.ID, acc.Name, acc.HasToken())
				return nil
			})
		},
	}
	c.Flags().StringVar(&id, "id", "", "account id; generated when empty")
	c.Flags().StringVar(&name, "name", "", "display name")
	c.Flags().StringVar(&token, "token", "", "vendor bearer token")
	_ = c.MarkFlagRequired("name")
	return c
}

func newAccountListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd.Context(), func(_ config.Config, st store.Store) error {
				accounts, err := st.ListAccounts(cmd.Context())
				if err != nil {
					return err
				}
				for _, acc := range accounts {
					fmt.Fprintf(cmd.OutOrStdout(), "id=%s name=%q has_token=%t\n", acc.ID, acc.Name, acc.HasToken())
				}
				return nil
			})
		},
	}
}

func newAccountGetCmd(opts *rootOptions) *cobra.Command {
	var id string
	c := &cobra.Command{
		Use:   "get",
		Short: "Show one account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd.Context(), func(_ config.Config, st store.Store) error {
				acc, err := st.GetAccount(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "id=%s name=%q has_token=%t updated_at_utc=%s\n",
					acc.ID, acc.Name, acc.HasToken(), acc.UpdatedAt.UTC().Format(time.RFC3339))
				return nil
			})
		},
	}
	c.Flags().StringVar(&id, "id", "", "account id")
	_ = c.MarkFlagRequired("id")
	return c
}

// Tasks naming a deleted account keep the id; the runner skips it.
func newAccountDeleteCmd(opts *rootOptions) *cobra.Command {
	var id string
	c := &cobra.Command{
		Use:   "delete",
		Short: "Delete an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd.Context(), func(_ config.Config, st store.Store) error {
				if err := st.DeleteAccount(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted account id=%s\n", id)
				return nil
			})
		},
	}
	c.Flags().StringVar(&id, "id", "", "account id")
	_ = c.MarkFlagRequired("id")
	return c
}
