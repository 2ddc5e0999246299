package cmd

import (
	"context"
	"fmt"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/Mohsinsiddi/w3ico/internal/sale"
	"github.com/Mohsinsiddi/w3ico/internal/ui"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var finalizeYesFlag bool

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Owner-only sale settings",
}

// amountSetter builds an owner command that writes one amount setting.
func amountSetter(use, short, label string, set func(*sale.Engine, context.Context, common.Address, amount.Amount) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <amount>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := amount.Parse(args[0])
			if err != nil {
				return fmt.Errorf("%w: %v", sale.ErrInvalidAmount, err)
			}
			ctx, cancel := commandContext()
			defer cancel()
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck

			caller, err := s.caller(use)
			if err != nil {
				return err
			}
			if err := set(s.engine, ctx, caller, v); err != nil {
				return err
			}
			_, native := s.symbols()
			fmt.Fprintln(cmd.OutOrStdout(), ui.Success(fmt.Sprintf("%s set to %s %s", label, v.Format(), native)))
			if s.engine.Finalized() {
				fmt.Fprintln(cmd.OutOrStdout(), ui.Hint("the sale is finalized; this has no further effect"))
			}
			return nil
		},
	}
}

var adminSetPriceCmd = amountSetter("set-price", "Set the price per whole token", "Price",
	(*sale.Engine).SetPrice)

var adminSetMinCmd = amountSetter("set-min", "Set the minimum contribution", "Minimum contribution",
	(*sale.Engine).SetMinContribution)

var adminSetMaxCmd = amountSetter("set-max", "Set the maximum contribution", "Maximum contribution",
	(*sale.Engine).SetMaxContribution)

var adminTransferOwnerCmd = &cobra.Command{
	Use:   "transfer-owner <address|wallet>",
	Short: "Hand the owner role to another address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		targets, err := resolveAddresses(s.wallets, args)
		if err != nil {
			return err
		}
		caller, err := s.caller("transfer-owner")
		if err != nil {
			return err
		}
		if err := s.engine.TransferOwnership(ctx, caller, targets[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Success("Owner is now "+targets[0].Hex()))
		return nil
	},
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Close the sale and sweep proceeds and unsold tokens to the owner",
	Long: `Finalize ends the sale for good. All custodied payment and every token
still held by the custodian move to the owner. It cannot be undone.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		caller, err := s.caller("finalize")
		if err != nil {
			return err
		}
		if !finalizeYesFlag && !ui.ConfirmDanger(cmd.InOrStdin(), cmd.OutOrStdout(),
			fmt.Sprintf("Finalize %s? This cannot be undone.", s.name)) {
			return errCancelled
		}

		before := s.engine.State()
		if _, err := withSpinner(s, "Finalizing", func() (*sale.Receipt, error) {
			return nil, s.engine.Finalize(ctx, caller)
		}); err != nil {
			return err
		}
		sym, native := s.symbols()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ui.Success("Sale finalized"))
		fmt.Fprintln(out, ui.KeyValueBlock("", [][2]string{
			{"Tokens sold", before.TokensSold.Format() + " " + sym},
			{"Payment swept", before.CustodiedPayment.Format() + " " + native},
			{"Owner", s.engine.Owner().Hex()},
		}))
		return nil
	},
}

func init() {
	finalizeCmd.Flags().BoolVarP(&finalizeYesFlag, "yes", "y", false, "skip the confirmation prompt")
	adminCmd.AddCommand(adminSetPriceCmd, adminSetMinCmd, adminSetMaxCmd, adminTransferOwnerCmd)
}
