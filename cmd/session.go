package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/chain"
	"github.com/Mohsinsiddi/w3ico/internal/config"
	"github.com/Mohsinsiddi/w3ico/internal/ledger"
	"github.com/Mohsinsiddi/w3ico/internal/sale"
	"github.com/Mohsinsiddi/w3ico/internal/store"
	"github.com/Mohsinsiddi/w3ico/internal/store/jsonstore"
	"github.com/Mohsinsiddi/w3ico/internal/store/sqlite"
	"github.com/Mohsinsiddi/w3ico/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("cmd")

// NowEnv pins the sale clock (RFC3339).
const NowEnv = "W3ICO_NOW"

var errCancelled = errors.New("cancelled")

// newKeystore builds the key backend for signing wallets. Tests swap it.
var newKeystore = func() wallet.KeystoreBackend {
	return wallet.DefaultKeystore(cfg.KeysDir())
}

// session is one deployment brought back up from the store: engine, ledgers
// and the committer that writes it back after every mutation.
type session struct {
	name    string
	store   store.Store
	commit  *store.Committer
	engine  *sale.Engine
	tokens  sale.Ledger
	native  sale.Ledger
	wallets *wallet.Manager
	clock   sale.Clock

	// Memory backend only.
	memTokens *ledger.Memory
	memNative *ledger.Memory
}

func saleClock() (sale.Clock, error) {
	v := os.Getenv(NowEnv)
	if v == "" {
		return sale.SystemClock{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%s must be RFC3339: %w", NowEnv, err)
	}
	return &sale.FixedClock{T: t}, nil
}

func openStore() (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		return sqlite.Open(cfg.DatabasePath())
	case config.StoreJSON, "":
		return jsonstore.Open(cfg.Dir())
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// newWalletManager creates a Manager backed by the config-dir JSON store.
func newWalletManager() *wallet.Manager {
	return wallet.NewManager(
		wallet.WithStore(wallet.NewJSONStore(cfg.WalletsPath())),
		wallet.WithKeystore(newKeystore()),
	)
}

// signerFor hands the EVM ledgers a signer for whichever local wallet holds
// the sending address.
func signerFor(mgr *wallet.Manager) ledger.SignerFunc {
	return func(from common.Address) (*wallet.Signer, error) {
		w, err := mgr.ByAddress(from)
		if err != nil {
			return nil, err
		}
		return mgr.Signer(w.Name)
	}
}

func deploymentName() (string, error) {
	name := deploymentFlag
	if name == "" {
		name = cfg.DefaultDeployment
	}
	if name == "" {
		return "", errors.New("no deployment selected: pass --deployment or run `w3ico init <name>`")
	}
	return name, store.ValidName(name)
}

// openSession loads the selected deployment. Callers must close it.
func openSession(ctx context.Context) (*session, error) {
	name, err := deploymentName()
	if err != nil {
		return nil, err
	}
	clock, err := saleClock()
	if err != nil {
		return nil, err
	}
	st, err := openStore()
	if err != nil {
		return nil, err
	}
	dep, err := st.Load(ctx, name)
	if err != nil {
		st.Close() //nolint:errcheck
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("deployment %q not found: run `w3ico deployments` to list them", name)
		}
		return nil, err
	}

	s := &session{name: name, store: st, wallets: newWalletManager(), clock: clock}
	if err := s.bindLedgers(dep); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	if s.memTokens != nil {
		s.commit = store.NewCommitter(st, dep, s.memTokens, s.memNative)
	} else {
		s.commit = store.NewCommitter(st, dep, nil, nil)
	}
	s.engine, err = sale.Restore(dep.Sale, s.tokens, s.native, sale.WithClock(clock), sale.WithCommitter(s.commit))
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, fmt.Errorf("restoring %s: %w", name, err)
	}
	log.Debugf("opened %s (%s backend, seq %d)", name, dep.Backend, dep.Sale.Sequence)
	return s, nil
}

func (s *session) bindLedgers(dep *store.Deployment) error {
	switch dep.Backend {
	case store.BackendMemory:
		if dep.Token == nil || dep.Native == nil {
			return fmt.Errorf("deployment %s has no stored balances", dep.Name)
		}
		var err error
		if s.memTokens, err = ledger.NewMemoryFromSnapshot(*dep.Token); err != nil {
			return err
		}
		if s.memNative, err = ledger.NewMemoryFromSnapshot(*dep.Native); err != nil {
			return err
		}
		s.tokens, s.native = s.memTokens, s.memNative
	case store.BackendEVM:
		client := chain.NewEVMClient(dep.RPCURL)
		opts := []ledger.EVMOption{ledger.WithReceiptTimeout(config.TxConfirmTimeout)}
		if dep.ChainID != 0 {
			opts = append(opts, ledger.WithChainID(big.NewInt(dep.ChainID)))
		}
		signer := signerFor(s.wallets)
		s.tokens = ledger.NewERC20(client, dep.Sale.Config.Token.Address, signer, opts...)
		s.native = ledger.NewNative(client, signer, opts...)
	default:
		return fmt.Errorf("deployment %s has unknown backend %q", dep.Name, dep.Backend)
	}
	return nil
}

func (s *session) Close() error { return s.store.Close() }

func (s *session) deployment() *store.Deployment { return s.commit.Deployment() }

// symbols returns the token and native-coin symbols for display.
func (s *session) symbols() (token, native string) {
	token = s.engine.Config().Token.Symbol
	native = "ETH"
	if s.memNative != nil && s.memNative.Symbol() != "" {
		native = s.memNative.Symbol()
	}
	return token, native
}

// actingWallet is --from, then the configured default, then the manager's
// default wallet.
func actingWallet(mgr *wallet.Manager) (*wallet.Wallet, error) {
	name := fromFlag
	if name == "" {
		name = cfg.DefaultWallet
	}
	if name != "" {
		return mgr.Get(name)
	}
	if w := mgr.Default(); w != nil {
		return w, nil
	}
	return nil, errors.New("no wallet selected: pass --from or run `w3ico wallet default <name>`")
}

// caller proves control of the acting wallet for action and returns the
// address the engine should see.
func (s *session) caller(action string) (common.Address, error) {
	w, err := actingWallet(s.wallets)
	if err != nil {
		return common.Address{}, err
	}
	addr, err := wallet.Authorize(w, s.wallets.Keystore(), action, s.name, s.clock.Now())
	if err != nil {
		return common.Address{}, fmt.Errorf("authorizing %s as %s: %w", action, w.Name, err)
	}
	return addr, nil
}

// resolveAddresses accepts wallet names or 0x addresses.
func resolveAddresses(mgr *wallet.Manager, args []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(args))
	for _, a := range args {
		if addr, err := config.ParseAddress(a); err == nil {
			out = append(out, addr)
			continue
		}
		w, err := mgr.Get(a)
		if err != nil {
			return nil, fmt.Errorf("%q is neither an address nor a wallet name", a)
		}
		out = append(out, w.Address)
	}
	return out, nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), config.TxConfirmTimeout+config.RPCTimeout)
}
