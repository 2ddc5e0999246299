package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Mohsinsiddi/w3ico/internal/applog"
	"github.com/Mohsinsiddi/w3ico/internal/config"
	"github.com/Mohsinsiddi/w3ico/internal/sale"
	"github.com/Mohsinsiddi/w3ico/internal/store"
	"github.com/Mohsinsiddi/w3ico/internal/ui"
	"github.com/spf13/cobra"
)

// Version is the current release. Overridable via build ldflags:
//
//	go build -ldflags "-X github.com/Mohsinsiddi/w3ico/cmd.Version=1.2.3" .
var Version = "0.1.0"

var (
	cfgDir         string
	cfg            *config.Config
	verbose        bool
	logLevelFlag   string
	deploymentFlag string
	fromFlag       string

	logCloser io.Closer
)

// rootCmd is the top-level command.
var rootCmd = &cobra.Command{
	Use:   "w3ico",
	Short: "Run whitelisted, fixed-price token sales",
	Long: `w3ico runs a token sale: an owner whitelists buyers, buyers pay a fixed
price per token once the sale opens, and finalize sweeps the proceeds and the
unsold tokens to the owner.

A deployment keeps its sale state and an audit trail of events in the store
(json files or SQLite). Balances live either in memory ledgers stored with the
deployment or on an EVM chain (an ERC-20 token plus the native coin).

Mutating commands act as the --from wallet, or the default wallet when --from
is not given. Set W3ICO_NOW (RFC3339) to pin the sale clock for scripted runs.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			applog.Silence()
			return nil
		}
		var err error
		cfg, err = config.Load(cfgDir)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		level := cfg.LogLevel
		if verbose {
			level = "DEBUG"
		}
		if logLevelFlag != "" {
			level = logLevelFlag
		}
		logCloser, err = applog.Setup(cfg.LogDir(), level, verbose)
		return err
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), ui.Banner(Version))
		cmd.Help() //nolint:errcheck
	},
}

// Execute runs the root command. Sale rejections exit with status 2, every
// other failure with 1.
func Execute() {
	err := rootCmd.Execute()
	if logCloser != nil {
		logCloser.Close() //nolint:errcheck
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, ui.Err(describeErr(err)))
		if h := errHint(err); h != "" {
			fmt.Fprintln(os.Stderr, ui.Hint(h))
		}
		os.Exit(exitCode(err))
	}
}

// describeErr prefixes sale errors with their kind so scripts can match on it.
func describeErr(err error) string {
	if k := sale.Kind(err); k != "" {
		return k + ": " + err.Error()
	}
	return err.Error()
}

func errHint(err error) string {
	switch {
	case errors.Is(err, sale.ErrTransferPending):
		return "the transaction may still be mined; check its hash before retrying"
	case errors.Is(err, store.ErrConflict):
		return "another command changed the deployment first; run this one again"
	}
	return ""
}

func exitCode(err error) int {
	if sale.IsRejection(err) {
		return 2
	}
	return 1
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgDir, "config", "", "config directory (default: $"+config.DirEnv+" or ~/.w3ico)")
	rootCmd.PersistentFlags().StringVarP(&deploymentFlag, "deployment", "d", "", "deployment to act on (default: config default_deployment)")
	rootCmd.PersistentFlags().StringVarP(&fromFlag, "from", "f", "", "wallet to act as (default: the default wallet)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr at DEBUG")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "loglevel", "", "log level: critical, error, warning, notice, info, debug")

	rootCmd.AddCommand(
		initCmd,
		statusCmd,
		whitelistCmd,
		buyCmd,
		payCmd,
		quoteCmd,
		adminCmd,
		finalizeCmd,
		balanceCmd,
		eventsCmd,
		watchCmd,
		faucetCmd,
		walletCmd,
		convertCmd,
		configCmd,
		deploymentsCmd,
	)
}
