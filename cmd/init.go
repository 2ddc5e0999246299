package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/Mohsinsiddi/w3ico/internal/chain"
	"github.com/Mohsinsiddi/w3ico/internal/config"
	"github.com/Mohsinsiddi/w3ico/internal/ledger"
	"github.com/Mohsinsiddi/w3ico/internal/rpc"
	"github.com/Mohsinsiddi/w3ico/internal/sale"
	"github.com/Mohsinsiddi/w3ico/internal/store"
	"github.com/Mohsinsiddi/w3ico/internal/ui"
	"github.com/Mohsinsiddi/w3ico/internal/wallet"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var (
	initParamsFlag  string
	initExampleFlag bool
)

var initCmd = &cobra.Command{
	Use:   "init <name> --params <file>",
	Short: "Deploy a new sale from a params file",
	Long: `Create a deployment from a YAML params file. The --from wallet becomes the
owner. Print a starting params file with: w3ico init --example

memory backend: the whole supply is minted to a custodian address derived
from the owner, and ledger.funds seeds native-coin balances.

evm backend: the sale sells an existing ERC-20. ledger.custodian must be a
signing wallet in this config and must already hold the supply.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if initExampleFlag {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if initExampleFlag {
			fmt.Fprint(out, config.ExampleParams)
			return nil
		}
		if initParamsFlag == "" {
			return errors.New("--params is required (see `w3ico init --example`)")
		}
		name := args[0]
		if err := store.ValidName(name); err != nil {
			return err
		}

		clock, err := saleClock()
		if err != nil {
			return err
		}
		params, err := config.LoadParams(initParamsFlag)
		if err != nil {
			return err
		}
		r, err := params.Resolve(clock.Now())
		if err != nil {
			return err
		}

		ctx, cancel := commandContext()
		defer cancel()

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if _, err := st.Load(ctx, name); err == nil {
			return fmt.Errorf("deployment %q already exists", name)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		mgr := newWalletManager()
		w, err := actingWallet(mgr)
		if err != nil {
			return err
		}
		owner, err := wallet.Authorize(w, mgr.Keystore(), "init", name, clock.Now())
		if err != nil {
			return fmt.Errorf("authorizing init as %s: %w", w.Name, err)
		}

		saleCfg := sale.Config{
			Token:           sale.TokenInfo{Name: r.TokenName, Symbol: r.TokenSymbol, Decimals: amount.Decimals},
			Owner:           owner,
			Price:           r.Price,
			OpeningTime:     r.OpeningTime,
			MinContribution: r.MinContribution,
			MaxContribution: r.MaxContribution,
			TotalSupply:     r.Supply,
		}
		dep := &store.Deployment{Name: name, Backend: r.Backend}

		var (
			tokens, native       sale.Ledger
			memTokens, memNative *ledger.Memory
		)
		switch r.Backend {
		case config.LedgerMemory:
			saleCfg.Custodian = crypto.CreateAddress(owner, 0)
			memTokens = ledger.NewMemory(r.TokenName, r.TokenSymbol)
			if err := memTokens.Mint(saleCfg.Custodian, r.Supply); err != nil {
				return err
			}
			memNative = ledger.NewMemory("Ether", "ETH")
			for addr, v := range r.Funds {
				if err := memNative.Mint(addr, v); err != nil {
					return fmt.Errorf("funding %s: %w", addr.Hex(), err)
				}
			}
			tokens, native = memTokens, memNative

		case config.LedgerEVM:
			dep.RPCURL = firstNonEmpty(r.RPCURL, cfg.RPCURL)
			dep.ChainID = r.ChainID
			if dep.ChainID == 0 {
				dep.ChainID = cfg.ChainID
			}
			saleCfg.Custodian = r.Custodian
			saleCfg.Token.Address = r.TokenAddress
			erc20, nat, err := connectEVM(ctx, mgr, dep, r)
			if err != nil {
				return err
			}
			tokens, native = erc20, nat
		}

		var commit *store.Committer
		if memTokens != nil {
			commit = store.NewCommitter(st, dep, memTokens, memNative)
		} else {
			commit = store.NewCommitter(st, dep, nil, nil)
		}
		eng, err := sale.New(saleCfg, tokens, native, sale.WithClock(clock), sale.WithCommitter(commit))
		if err != nil {
			return err
		}
		if err := commit.Commit(ctx, eng.Snapshot(), nil); err != nil {
			return fmt.Errorf("saving %s: %w", name, err)
		}
		if len(r.Whitelist) > 0 {
			if _, err := eng.AddToWhitelist(ctx, owner, r.Whitelist); err != nil {
				return err
			}
		}

		if cfg.DefaultDeployment == "" {
			cfg.DefaultDeployment = name
			if err := cfg.Save(); err != nil {
				return err
			}
		}

		fmt.Fprintln(out, ui.KeyValueBlock("Deployed "+name, [][2]string{
			{"Token", fmt.Sprintf("%s (%s)", r.TokenName, r.TokenSymbol)},
			{"Backend", r.Backend},
			{"Owner", owner.Hex()},
			{"Custodian", saleCfg.Custodian.Hex()},
			{"Supply", r.Supply.Format()},
			{"Price", r.Price.Format()},
			{"Opens", r.OpeningTime.Format("2006-01-02 15:04:05 MST")},
			{"Contribution", fmt.Sprintf("%s … %s", r.MinContribution.Format(), r.MaxContribution.Format())},
			{"Whitelisted", fmt.Sprintf("%d", len(eng.Whitelist()))},
		}))
		if cfg.DefaultDeployment == name {
			fmt.Fprintln(out, ui.Hint("Default deployment is now "+name))
		}
		return nil
	},
}

// connectEVM checks the token contract and the custodian before a deployment
// is recorded against them.
func connectEVM(ctx context.Context, mgr *wallet.Manager, dep *store.Deployment, r *config.Resolved) (*ledger.ERC20, *ledger.Native, error) {
	cw, err := mgr.ByAddress(r.Custodian)
	if err != nil {
		return nil, nil, fmt.Errorf("custodian %s: %w (add it with `w3ico wallet import`)", r.Custodian.Hex(), err)
	}
	if !cw.CanSign() {
		return nil, nil, fmt.Errorf("custodian wallet %q is watch-only; the sale must sign transfers from it", cw.Name)
	}

	ep, err := rpc.HealthCheck(ctx, dep.RPCURL, dep.ChainID)
	if err != nil {
		return nil, nil, fmt.Errorf("node %s: %w", dep.RPCURL, err)
	}
	if dep.ChainID == 0 {
		dep.ChainID = ep.ChainID
	}
	log.Infof("node %s", ep)

	client := chain.NewEVMClient(dep.RPCURL)
	opts := []ledger.EVMOption{
		ledger.WithReceiptTimeout(config.TxConfirmTimeout),
		ledger.WithChainID(big.NewInt(dep.ChainID)),
	}
	code, err := client.Code(ctx, r.TokenAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("reading code at %s: %w", r.TokenAddress.Hex(), err)
	}
	if len(code) == 0 {
		return nil, nil, fmt.Errorf("no contract at token address %s on chain %d", r.TokenAddress.Hex(), dep.ChainID)
	}
	signer := signerFor(mgr)
	erc20 := ledger.NewERC20(client, r.TokenAddress, signer, opts...)
	native := ledger.NewNative(client, signer, opts...)

	spin := ui.NewSpinner("Checking token " + r.TokenAddress.Hex())
	spin.Start()
	meta, err := erc20.Metadata(ctx)
	if err == nil {
		var held amount.Amount
		held, err = erc20.BalanceOf(ctx, r.Custodian)
		if err == nil && held.Lt(r.Supply) {
			err = fmt.Errorf("custodian %s holds %s %s, the sale needs %s", r.Custodian.Hex(), held.Format(), meta.Symbol, r.Supply.Format())
		}
	}
	spin.Stop()
	if err != nil {
		return nil, nil, err
	}
	if meta.Decimals != amount.Decimals {
		return nil, nil, fmt.Errorf("token %s has %d decimals; only %d is supported", meta.Symbol, meta.Decimals, amount.Decimals)
	}
	if meta.Symbol != r.TokenSymbol {
		log.Warningf("token symbol on chain is %s, params say %s", meta.Symbol, r.TokenSymbol)
	}
	return erc20, native, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func init() {
	initCmd.Flags().StringVarP(&initParamsFlag, "params", "p", "", "YAML params file")
	initCmd.Flags().BoolVar(&initExampleFlag, "example", false, "print an example params file and exit")
}
