package cmd

import (
	"errors"
	"fmt"

	"github.com/Mohsinsiddi/w3ico/internal/ui"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var balanceHoldersFlag bool

var balanceCmd = &cobra.Command{
	Use:   "balance [address|wallet]",
	Short: "Show token and native balances",
	Long: `Show the sale token and native coin balance of an address.

Without an argument the acting wallet (--from, or the default) is used.
On a memory deployment --holders lists every token holder instead.

Examples:
  w3ico balance alice
  w3ico balance 0x70997970C51812dc3A010C7d01b50e0d17dc79C8
  w3ico balance --holders`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		if balanceHoldersFlag {
			return printHolders(cmd, s)
		}

		var who common.Address
		if len(args) == 1 {
			addrs, err := resolveAddresses(s.wallets, args)
			if err != nil {
				return err
			}
			who = addrs[0]
		} else {
			w, err := actingWallet(s.wallets)
			if err != nil {
				return err
			}
			who = w.Address
		}

		tok, err := s.tokens.BalanceOf(ctx, who)
		if err != nil {
			return fmt.Errorf("token balance: %w", err)
		}
		nat, err := s.native.BalanceOf(ctx, who)
		if err != nil {
			return fmt.Errorf("native balance: %w", err)
		}
		sym, native := s.symbols()
		fmt.Fprintln(cmd.OutOrStdout(), ui.KeyValueBlock("Balance", [][2]string{
			{"Address", ui.Addr(who.Hex())},
			{sym, ui.Val(tok.Format())},
			{native, ui.Val(nat.Format())},
		}))
		return nil
	},
}

func printHolders(cmd *cobra.Command, s *session) error {
	if s.memTokens == nil {
		return errors.New("--holders needs a memory deployment; query the token contract for EVM deployments")
	}
	names := make(map[common.Address]string)
	for _, w := range s.wallets.List() {
		names[w.Address] = w.Name
	}
	custodian, owner := s.engine.Custodian(), s.engine.Owner()

	sym, _ := s.symbols()
	t := ui.NewTable([]ui.Column{
		{Title: "ADDRESS", Width: 44},
		{Title: "NAME", Width: 16},
		{Title: sym, Width: 24},
	})
	for _, h := range s.memTokens.Holders() {
		name := names[h.Address]
		switch h.Address {
		case custodian:
			name = ui.Meta("(custodian)")
		case owner:
			if name == "" {
				name = ui.Meta("(owner)")
			}
		}
		t.AddRow(ui.Row{ui.Addr(h.Address.Hex()), name, h.Amount.Format()})
	}
	out := cmd.OutOrStdout()
	fmt.Fprint(out, t.Render())
	fmt.Fprintln(out, ui.Meta("total supply "+s.memTokens.TotalSupply().Format()+" "+sym))
	return nil
}

func init() {
	balanceCmd.Flags().BoolVar(&balanceHoldersFlag, "holders", false, "list every token holder (memory deployments)")
}
