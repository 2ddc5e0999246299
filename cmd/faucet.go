package cmd

import (
	"errors"
	"fmt"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/Mohsinsiddi/w3ico/internal/sale"
	"github.com/Mohsinsiddi/w3ico/internal/ui"
	"github.com/spf13/cobra"
)

var faucetCmd = &cobra.Command{
	Use:   "faucet <address|wallet> <amount>",
	Short: "Credit native coin to an address on a memory deployment",
	Long: `Mint <amount> of the simulated native coin to an address so it can
take part in a local sale. Only memory deployments have a faucet; on an EVM
deployment fund accounts from the node (anvil and hardhat pre-fund theirs).

Examples:
  w3ico faucet alice 100
  w3ico faucet 0x90F79bf6EB2c4f870365E785982E1f101E93b906 0.5`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := amount.Parse(args[1])
		if err != nil {
			return fmt.Errorf("%w: %v", sale.ErrInvalidAmount, err)
		}
		if value.IsZero() {
			return fmt.Errorf("%w: amount must be positive", sale.ErrInvalidAmount)
		}
		ctx, cancel := commandContext()
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		if s.memNative == nil {
			return errors.New("the faucet only serves memory deployments")
		}
		targets, err := resolveAddresses(s.wallets, args[:1])
		if err != nil {
			return err
		}
		to := targets[0]
		if err := s.memNative.Mint(to, value); err != nil {
			return err
		}
		if err := s.commit.Commit(ctx, s.engine.Snapshot(), nil); err != nil {
			return fmt.Errorf("saving %s: %w", s.name, err)
		}
		log.Infof("faucet credited %s with %s on %s", to.Hex(), value, s.name)

		bal, err := s.memNative.BalanceOf(ctx, to)
		if err != nil {
			return err
		}
		_, native := s.symbols()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ui.Success(fmt.Sprintf("Credited %s %s to %s", value.Format(), native, to.Hex())))
		fmt.Fprintln(out, ui.Meta(fmt.Sprintf("balance now %s %s", bal.Format(), native)))
		return nil
	},
}
