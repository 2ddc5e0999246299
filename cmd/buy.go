package cmd

import (
	"fmt"
	"io"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/Mohsinsiddi/w3ico/internal/sale"
	"github.com/Mohsinsiddi/w3ico/internal/store"
	"github.com/Mohsinsiddi/w3ico/internal/ui"
	"github.com/spf13/cobra"
)

var buyPayFlag string

var buyCmd = &cobra.Command{
	Use:   "buy <tokens>",
	Short: "Buy an exact number of tokens",
	Long: `Buy <tokens> whole tokens (decimals allowed) as the --from wallet.

The payment must equal tokens × price exactly. Without --pay the quoted
amount is paid; with --pay the given amount is checked against the quote.

Examples:
  w3ico buy 1000 --from alice
  w3ico buy 2.5 --pay 0.0025 --from alice`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qty, err := amount.Parse(args[0])
		if err != nil {
			return fmt.Errorf("%w: tokens: %v", sale.ErrInvalidAmount, err)
		}
		ctx, cancel := commandContext()
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		// An unquotable quantity is paid as zero so the engine reports the
		// failure in its own check order.
		payment, err := s.engine.Quote(qty)
		if err != nil {
			payment = amount.Zero()
		}
		if buyPayFlag != "" {
			if payment, err = amount.Parse(buyPayFlag); err != nil {
				return fmt.Errorf("%w: --pay: %v", sale.ErrInvalidAmount, err)
			}
		}
		buyer, err := s.caller("buy")
		if err != nil {
			return err
		}
		rcpt, err := withSpinner(s, "Buying", func() (*sale.Receipt, error) {
			return s.engine.BuyTokens(ctx, buyer, qty, payment)
		})
		if err != nil {
			return err
		}
		printReceipt(cmd.OutOrStdout(), s, rcpt)
		return nil
	},
}

var payCmd = &cobra.Command{
	Use:   "pay <amount>",
	Short: "Pay an amount of native coin and receive tokens at the current price",
	Long: `Send <amount> of native coin to the sale. The tokens received are
amount ÷ price, which must come out to a whole number of token base units.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payment, err := amount.Parse(args[0])
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

		buyer, err := s.caller("pay")
		if err != nil {
			return err
		}
		rcpt, err := withSpinner(s, "Paying", func() (*sale.Receipt, error) {
			return s.engine.SendPayment(ctx, buyer, payment)
		})
		if err != nil {
			return err
		}
		printReceipt(cmd.OutOrStdout(), s, rcpt)
		return nil
	},
}

var quoteCmd = &cobra.Command{
	Use:   "quote <tokens>",
	Short: "Show the exact payment for a number of tokens",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qty, err := amount.Parse(args[0])
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

		payment, err := s.engine.Quote(qty)
		if err != nil {
			return err
		}
		sym, native := s.symbols()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s = %s %s\n", ui.Val(qty.Format()), sym, ui.Val(payment.Format()), native)
		if !s.engine.IsValidContribution(payment) {
			c := s.engine.Config()
			fmt.Fprintln(out, ui.Warn(fmt.Sprintf("outside the contribution bounds %s … %s %s",
				c.MinContribution.Format(), c.MaxContribution.Format(), native)))
		}
		return nil
	},
}

// withSpinner shows a spinner while an EVM-backed purchase waits for its
// receipts. Memory deployments finish instantly and skip it.
func withSpinner(s *session, msg string, fn func() (*sale.Receipt, error)) (*sale.Receipt, error) {
	if s.deployment().Backend != store.BackendEVM {
		return fn()
	}
	spin := ui.NewSpinner(msg + "… waiting for confirmations")
	spin.Start()
	defer spin.Stop()
	return fn()
}

func printReceipt(out io.Writer, s *session, r *sale.Receipt) {
	if r == nil {
		return
	}
	sym, native := s.symbols()
	fmt.Fprintln(out, ui.Success(fmt.Sprintf("Bought %s %s for %s %s", r.Quantity.Format(), sym, r.Payment.Format(), native)))
	fmt.Fprintln(out, ui.KeyValueBlock("", [][2]string{
		{"Receipt", r.ID},
		{"Buyer", r.Buyer.Hex()},
		{"Sold so far", r.TokensSold.Format() + " " + sym},
		{"At", r.At.Format("2006-01-02 15:04:05 MST")},
	}))
}

func init() {
	buyCmd.Flags().StringVar(&buyPayFlag, "pay", "", "payment in native coin (default: the exact quote)")
}
