package cmd

import (
	"fmt"

	"github.com/Mohsinsiddi/w3ico/internal/ui"
	"github.com/spf13/cobra"
)

var whitelistAllFlag bool

var whitelistCmd = &cobra.Command{
	Use:     "whitelist",
	Aliases: []string{"wl"},
	Short:   "Manage who may buy",
}

var whitelistAddCmd = &cobra.Command{
	Use:   "add <address|wallet>...",
	Short: "Whitelist addresses (owner only)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateWhitelist(cmd, args, true)
	},
}

var whitelistRemoveCmd = &cobra.Command{
	Use:   "remove <address|wallet>...",
	Short: "Remove addresses from the whitelist (owner only)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateWhitelist(cmd, args, false)
	},
}

func updateWhitelist(cmd *cobra.Command, args []string, add bool) error {
	ctx, cancel := commandContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	accounts, err := resolveAddresses(s.wallets, args)
	if err != nil {
		return err
	}
	action, verb := "whitelist-remove", "Removed"
	if add {
		action, verb = "whitelist-add", "Whitelisted"
	}
	caller, err := s.caller(action)
	if err != nil {
		return err
	}

	if add {
		_, err = s.engine.AddToWhitelist(ctx, caller, accounts)
	} else {
		_, err = s.engine.RemoveFromWhitelist(ctx, caller, accounts)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, a := range accounts {
		fmt.Fprintln(out, ui.Success(verb+" "+a.Hex()))
	}
	return nil
}

var whitelistCheckCmd = &cobra.Command{
	Use:   "check <address|wallet>",
	Short: "Report whether an address may buy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		accounts, err := resolveAddresses(s.wallets, args)
		if err != nil {
			return err
		}
		a := accounts[0]
		out := cmd.OutOrStdout()
		if !s.engine.IsWhitelisted(a) {
			fmt.Fprintln(out, ui.Warn(a.Hex()+" is not whitelisted"))
			return nil
		}
		fmt.Fprintln(out, ui.Success(a.Hex()+" is whitelisted"))
		if !s.engine.CanPurchase(a) {
			fmt.Fprintln(out, ui.Hint("but the sale is "+s.engine.Phase().String()))
		}
		return nil
	},
}

var whitelistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List whitelist entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		names := make(map[string]string)
		for _, w := range s.wallets.List() {
			names[w.Address.Hex()] = w.Name
		}

		t := ui.NewTable([]ui.Column{
			{Title: "ADDRESS", Width: 44},
			{Title: "WALLET", Width: 16},
			{Title: "STATUS", Width: 10},
		})
		shown := 0
		for _, e := range s.engine.Whitelist() {
			if !e.Whitelisted && !whitelistAllFlag {
				continue
			}
			status := ui.StyleSuccess.Render("allowed")
			if !e.Whitelisted {
				status = ui.Meta("removed")
			}
			t.AddRow(ui.Row{ui.Addr(e.Address.Hex()), names[e.Address.Hex()], status})
			shown++
		}
		out := cmd.OutOrStdout()
		if shown == 0 {
			fmt.Fprintln(out, ui.Info("Nobody is whitelisted yet."))
			fmt.Fprintln(out, ui.Hint("Add buyers with: w3ico whitelist add <address>"))
			return nil
		}
		fmt.Fprint(out, t.Render())
		fmt.Fprintln(out, ui.Meta(fmt.Sprintf("%d address(es)", shown)))
		return nil
	},
}

func init() {
	whitelistListCmd.Flags().BoolVarP(&whitelistAllFlag, "all", "a", false, "include removed addresses")
	whitelistCmd.AddCommand(whitelistAddCmd, whitelistRemoveCmd, whitelistCheckCmd, whitelistListCmd)
}
