package integration_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/Mohsinsiddi/w3ico/internal/chain"
	"github.com/Mohsinsiddi/w3ico/internal/chain/chaintest"
	"github.com/Mohsinsiddi/w3ico/internal/ledger"
	"github.com/Mohsinsiddi/w3ico/internal/sale"
	"github.com/Mohsinsiddi/w3ico/internal/store"
	"github.com/Mohsinsiddi/w3ico/internal/store/jsonstore"
	"github.com/Mohsinsiddi/w3ico/internal/store/sqlite"
	"github.com/Mohsinsiddi/w3ico/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var accounts = map[string]string{
	"owner": "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	"alice": "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
	"bob":   "0x5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a",
	"vault": "0x7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6",
}

var openingTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// signers loads the anvil accounts into a wallet manager and returns a
// signer lookup plus each account's address.
func signers(t *testing.T) (ledger.SignerFunc, map[string]common.Address) {
	t.Helper()
	mgr := wallet.NewManager(wallet.WithInMemoryStore(), wallet.WithKeystore(wallet.NewInMemoryKeystore()))
	addrs := make(map[string]common.Address, len(accounts))
	for name, key := range accounts {
		w, err := mgr.AddWithKey(name, key)
		require.NoError(t, err)
		addrs[name] = w.Address
	}
	return func(from common.Address) (*wallet.Signer, error) {
		w, err := mgr.ByAddress(from)
		if err != nil {
			return nil, err
		}
		return mgr.Signer(w.Name)
	}, addrs
}

func openStores(t *testing.T) map[string]store.Store {
	t.Helper()
	js, err := jsonstore.Open(t.TempDir())
	require.NoError(t, err)
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "w3ico.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	return map[string]store.Store{"json": js, "sqlite": db}
}

func TestEVMSaleEndToEnd(t *testing.T) {
	for backend, st := range openStores(t) {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			node := chaintest.NewNode(t, common.Address{})
			signer, addr := signers(t)
			node.Fund(addr["vault"], nil, amount.Whole(1000).Big())
			node.Fund(addr["alice"], amount.Whole(10).Big(), nil)
			node.Fund(addr["bob"], amount.Whole(10).Big(), nil)

			client := node.Client()
			tokens := ledger.NewERC20(client, node.Token, signer, ledger.WithReceiptTimeout(10*time.Second))
			native := ledger.NewNative(client, signer, ledger.WithReceiptTimeout(10*time.Second))

			cfg := sale.Config{
				Token:           sale.TokenInfo{Name: "Genesis Token", Symbol: "GEN", Decimals: 18, Address: node.Token},
				Owner:           addr["owner"],
				Custodian:       addr["vault"],
				Price:           amount.MustParse("0.5"),
				OpeningTime:     openingTime,
				MinContribution: amount.MustParse("0.5"),
				MaxContribution: amount.Whole(5),
				TotalSupply:     amount.Whole(1000),
			}
			dep := &store.Deployment{Name: "genesis", Backend: store.BackendEVM, RPCURL: node.URL, ChainID: 31337}
			commit := store.NewCommitter(st, dep, nil, nil)
			clock := &sale.FixedClock{T: openingTime.Add(-time.Hour)}

			eng, err := sale.New(cfg, tokens, native, sale.WithClock(clock), sale.WithCommitter(commit))
			require.NoError(t, err)
			require.NoError(t, commit.Commit(ctx, eng.Snapshot(), nil))

			_, err = eng.AddToWhitelist(ctx, addr["owner"], []common.Address{addr["alice"], addr["bob"]})
			require.NoError(t, err)

			_, err = eng.BuyTokens(ctx, addr["alice"], amount.Whole(4), amount.Whole(2))
			assert.ErrorIs(t, err, sale.ErrSaleNotOpen)
			assert.Zero(t, node.SentCount())

			clock.Advance(2 * time.Hour)
			rcpt, err := eng.BuyTokens(ctx, addr["alice"], amount.Whole(4), amount.Whole(2))
			require.NoError(t, err)
			assert.Equal(t, amount.Whole(4), rcpt.TokensSold)

			rcpt, err = eng.SendPayment(ctx, addr["bob"], amount.Whole(1))
			require.NoError(t, err)
			assert.Equal(t, amount.Whole(2), rcpt.Quantity)

			assert.Equal(t, amount.Whole(4).Big(), node.TokensOf(addr["alice"]))
			assert.Equal(t, amount.Whole(2).Big(), node.TokensOf(addr["bob"]))
			assert.Equal(t, amount.Whole(3).Big(), node.NativeOf(addr["vault"]))

			// Bring the sale back from the store as a new process would.
			loaded, err := st.Load(ctx, "genesis")
			require.NoError(t, err)
			assert.Equal(t, node.URL, loaded.RPCURL)
			restored, err := sale.Restore(loaded.Sale, tokens, native, sale.WithClock(clock),
				sale.WithCommitter(store.NewCommitter(st, loaded, nil, nil)))
			require.NoError(t, err)
			assert.Equal(t, amount.Whole(6), restored.TokensSold())
			assert.Equal(t, eng.Sequence(), restored.Sequence())

			_, err = restored.BuyTokens(ctx, addr["bob"], amount.Whole(20), amount.Whole(10))
			assert.ErrorIs(t, err, sale.ErrContributionOutOfBounds)

			require.NoError(t, restored.Finalize(ctx, addr["owner"]))
			assert.Equal(t, amount.Whole(994).Big(), node.TokensOf(addr["owner"]))
			assert.Equal(t, amount.Whole(3).Big(), node.NativeOf(addr["owner"]))
			assert.Zero(t, node.TokensOf(addr["vault"]).Sign())

			events, err := st.Events(ctx, "genesis", 0)
			require.NoError(t, err)
			kinds := make([]sale.EventKind, 0, len(events))
			for _, ev := range events {
				kinds = append(kinds, ev.Kind)
			}
			assert.Equal(t, []sale.EventKind{
				sale.EventWhitelistAdd, sale.EventPurchase, sale.EventPurchase, sale.EventFinalize,
			}, kinds)
		})
	}
}

func TestTokenLegFailureRefundsBuyer(t *testing.T) {
	ctx := context.Background()
	node := chaintest.NewNode(t, common.Address{})
	signer, addr := signers(t)
	node.Fund(addr["alice"], amount.Whole(10).Big(), nil)
	node.Fund(addr["vault"], amount.Whole(1).Big(), amount.Whole(1000).Big())

	client := node.Client()
	tokens := ledger.NewERC20(client, node.Token, signer)
	native := ledger.NewNative(client, signer)
	st, err := jsonstore.Open(t.TempDir())
	require.NoError(t, err)
	commit := store.NewCommitter(st, &store.Deployment{Name: "genesis", Backend: store.BackendEVM}, nil, nil)

	eng, err := sale.New(sale.Config{
		Token:           sale.TokenInfo{Symbol: "GEN", Decimals: 18, Address: node.Token},
		Owner:           addr["owner"],
		Custodian:       addr["vault"],
		Price:           amount.Whole(1),
		OpeningTime:     openingTime,
		MaxContribution: amount.Whole(10),
		TotalSupply:     amount.Whole(1000),
	}, tokens, native, sale.WithClock(&sale.FixedClock{T: openingTime}), sale.WithCommitter(commit))
	require.NoError(t, err)
	_, err = eng.AddToWhitelist(ctx, addr["owner"], []common.Address{addr["alice"]})
	require.NoError(t, err)

	// The buyer is made whole on the payment ledger when the token leg fails.
	eng2, err := sale.Restore(eng.Snapshot(), failingLedger{Ledger: tokens}, native, sale.WithClock(&sale.FixedClock{T: openingTime}))
	require.NoError(t, err)

	_, err = eng2.BuyTokens(ctx, addr["alice"], amount.Whole(2), amount.Whole(2))
	require.ErrorIs(t, err, sale.ErrTransferFailed)
	assert.Equal(t, amount.Whole(10).Big(), node.NativeOf(addr["alice"]))
	assert.Equal(t, amount.Whole(1).Big(), node.NativeOf(addr["vault"]))
	assert.True(t, eng2.TokensSold().IsZero())
}

func TestUnminedTokenLegKeepsPayment(t *testing.T) {
	ctx := context.Background()
	node := chaintest.NewNode(t, common.Address{})
	signer, addr := signers(t)
	node.Fund(addr["alice"], amount.Whole(10).Big(), nil)
	node.Fund(addr["vault"], amount.Whole(1).Big(), amount.Whole(1000).Big())
	node.Hold = func(tx *types.Transaction) bool { return *tx.To() == node.Token }

	client := node.Client()
	client.PollInterval = 5 * time.Millisecond
	tokens := ledger.NewERC20(client, node.Token, signer, ledger.WithReceiptTimeout(100*time.Millisecond))
	native := ledger.NewNative(client, signer, ledger.WithReceiptTimeout(5*time.Second))
	st, err := jsonstore.Open(t.TempDir())
	require.NoError(t, err)
	commit := store.NewCommitter(st, &store.Deployment{Name: "genesis", Backend: store.BackendEVM}, nil, nil)

	eng, err := sale.New(sale.Config{
		Token:           sale.TokenInfo{Symbol: "GEN", Decimals: 18, Address: node.Token},
		Owner:           addr["owner"],
		Custodian:       addr["vault"],
		Price:           amount.Whole(1),
		OpeningTime:     openingTime,
		MaxContribution: amount.Whole(10),
		TotalSupply:     amount.Whole(1000),
	}, tokens, native, sale.WithClock(&sale.FixedClock{T: openingTime}), sale.WithCommitter(commit))
	require.NoError(t, err)
	_, err = eng.AddToWhitelist(ctx, addr["owner"], []common.Address{addr["alice"]})
	require.NoError(t, err)

	_, err = eng.BuyTokens(ctx, addr["alice"], amount.Whole(2), amount.Whole(2))
	require.ErrorIs(t, err, sale.ErrTransferPending)
	require.ErrorIs(t, err, chain.ErrUnconfirmed)
	var unconfirmed *chain.UnconfirmedError
	require.ErrorAs(t, err, &unconfirmed)

	// The payment leg was mined and is not sent back.
	assert.Equal(t, 2, node.SentCount())
	assert.Equal(t, amount.Whole(8).Big(), node.NativeOf(addr["alice"]))
	assert.Equal(t, amount.Whole(3).Big(), node.NativeOf(addr["vault"]))
	assert.Equal(t, 0, node.TokensOf(addr["alice"]).Sign())
	assert.True(t, eng.TokensSold().IsZero())

	events, err := st.Events(ctx, "genesis", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, sale.EventWhitelistAdd, events[0].Kind)

	// The held transfer can still land, and it is the one the error names.
	assert.Equal(t, 1, node.Mine())
	assert.Equal(t, node.Sent[1].Hash(), unconfirmed.Hash)
	assert.Equal(t, amount.Whole(2).Big(), node.TokensOf(addr["alice"]))
}

// failingLedger reads through to the chain but refuses to move value.
type failingLedger struct {
	sale.Ledger
}

func (failingLedger) Transfer(context.Context, common.Address, common.Address, amount.Amount) error {
	return errors.New("token contract paused")
}

func TestConcurrentBuyersMemory(t *testing.T) {
	const buyers = 12
	ctx := context.Background()
	owner := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	custodian := crypto.CreateAddress(owner, 0)

	tokens := ledger.NewMemory("Genesis Token", "GEN")
	require.NoError(t, tokens.Mint(custodian, amount.Whole(10)))
	native := ledger.NewMemory("Ether", "ETH")

	var list []common.Address
	for i := 0; i < buyers; i++ {
		a := common.BigToAddress(amount.New(uint64(0x1000 + i)).Big())
		require.NoError(t, native.Mint(a, amount.Whole(5)))
		list = append(list, a)
	}

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "w3ico.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	commit := store.NewCommitter(st, &store.Deployment{Name: "rush", Backend: store.BackendMemory}, tokens, native)

	eng, err := sale.New(sale.Config{
		Token:           sale.TokenInfo{Symbol: "GEN", Decimals: 18},
		Owner:           owner,
		Custodian:       custodian,
		Price:           amount.Whole(1),
		OpeningTime:     openingTime,
		MaxContribution: amount.Whole(5),
		TotalSupply:     amount.Whole(10),
	}, tokens, native, sale.WithClock(&sale.FixedClock{T: openingTime}), sale.WithCommitter(commit))
	require.NoError(t, err)
	_, err = eng.AddToWhitelist(ctx, owner, list)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		bought   int
		soldOut  int
		otherErr []error
	)
	for _, buyer := range list {
		wg.Add(1)
		go func(buyer common.Address) {
			defer wg.Done()
			_, err := eng.BuyTokens(ctx, buyer, amount.Whole(1), amount.Whole(1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				bought++
			case sale.Kind(err) == "InsufficientInventory":
				soldOut++
			default:
				otherErr = append(otherErr, err)
			}
		}(buyer)
	}
	wg.Wait()

	assert.Empty(t, otherErr)
	assert.Equal(t, 10, bought)
	assert.Equal(t, buyers-10, soldOut)
	assert.Equal(t, amount.Whole(10), eng.TokensSold())

	events, err := st.Events(ctx, "rush", 0)
	require.NoError(t, err)
	require.Len(t, events, 1+10)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}

	dep, err := st.Load(ctx, "rush")
	require.NoError(t, err)
	restoredTokens, err := ledger.NewMemoryFromSnapshot(*dep.Token)
	require.NoError(t, err)
	left, err := restoredTokens.BalanceOf(ctx, custodian)
	require.NoError(t, err)
	assert.True(t, left.IsZero())
}
