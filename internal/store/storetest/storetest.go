// Package storetest is a behaviour suite every store.Store must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/Mohsinsiddi/w3ico/internal/ledger"
	"github.com/Mohsinsiddi/w3ico/internal/sale"
	"github.com/Mohsinsiddi/w3ico/internal/store"
	"github.com/Mohsinsiddi/w3ico/internal/whitelist"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner   = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	alice   = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bob     = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	opening = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

// Run exercises a store returned by open. Each subtest gets a fresh store.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("LoadMissing", func(t *testing.T) { testLoadMissing(t, open(t)) })
	t.Run("InvalidName", func(t *testing.T) { testInvalidName(t, open(t)) })
	t.Run("SaveLoad", func(t *testing.T) { testSaveLoad(t, open(t)) })
	t.Run("EventsAfter", func(t *testing.T) { testEventsAfter(t, open(t)) })
	t.Run("List", func(t *testing.T) { testList(t, open(t)) })
	t.Run("EngineRoundTrip", func(t *testing.T) { testEngineRoundTrip(t, open(t)) })
	t.Run("Revisions", func(t *testing.T) { testRevisions(t, open(t)) })
	t.Run("StaleSessions", func(t *testing.T) { testStaleSessions(t, open(t)) })
}

func config() sale.Config {
	return sale.Config{
		Token:           sale.TokenInfo{Name: "Genesis Token", Symbol: "GEN", Decimals: 18},
		Owner:           owner,
		Custodian:       crypto.CreateAddress(owner, 0),
		Price:           amount.MustParse("0.001"),
		OpeningTime:     opening,
		MinContribution: amount.MustParse("0.01"),
		MaxContribution: amount.Whole(10),
		TotalSupply:     amount.Whole(1_000_000),
	}
}

func deployment(name string) *store.Deployment {
	return &store.Deployment{
		Name:    name,
		Backend: store.BackendMemory,
		Sale: sale.Snapshot{
			Config: config(),
			State:  sale.State{TokensSold: amount.Whole(5)},
			// Sorted by address bytes, as whitelist.Registry exports them.
			Whitelist: []whitelist.Entry{
				{Address: bob, Whitelisted: false},
				{Address: alice, Whitelisted: true},
			},
			Sequence: 2,
		},
		CreatedAt: opening,
		UpdatedAt: opening.Add(time.Minute),
	}
}

func events(from int64, n int) []sale.Event {
	out := make([]sale.Event, n)
	for i := range out {
		out[i] = sale.Event{
			Seq:       from + int64(i),
			ID:        "ev-" + string(rune('a'+i)),
			Kind:      sale.EventWhitelistAdd,
			At:        opening.Add(time.Duration(i) * time.Second),
			Actor:     owner,
			Addresses: []common.Address{alice},
		}
	}
	return out
}

func testLoadMissing(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Load(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Events(ctx, "nope", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testInvalidName(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, name := range []string{"", "../etc", "a b", "x.events", "-lead"} {
		d := deployment(name)
		assert.ErrorIs(t, s.Save(ctx, d, nil), store.ErrInvalidName, name)
		_, err := s.Load(ctx, name)
		assert.ErrorIs(t, err, store.ErrInvalidName, name)
	}
}

func testSaveLoad(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := deployment("genesis")
	require.NoError(t, s.Save(ctx, d, nil))

	got, err := s.Load(ctx, "genesis")
	require.NoError(t, err)
	assert.Equal(t, d.Sale, got.Sale)
	assert.Equal(t, d.Backend, got.Backend)
	assert.True(t, d.UpdatedAt.Equal(got.UpdatedAt))

	// Overwrite: removal of alice must not leave a stale whitelist entry.
	d.Sale.Whitelist = []whitelist.Entry{{Address: alice, Whitelisted: false}}
	d.Sale.Sequence = 3
	require.NoError(t, s.Save(ctx, d, nil))
	got, err = s.Load(ctx, "genesis")
	require.NoError(t, err)
	assert.Equal(t, d.Sale.Whitelist, got.Sale.Whitelist)
	assert.Equal(t, int64(3), got.Sale.Sequence)
}

func testEventsAfter(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := deployment("genesis")
	require.NoError(t, s.Save(ctx, d, events(1, 2)))
	require.NoError(t, s.Save(ctx, d, events(3, 3)))

	all, err := s.Events(ctx, "genesis", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, ev := range all {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
	assert.Equal(t, []common.Address{alice}, all[0].Addresses)
	assert.Equal(t, owner, all[0].Actor)
	assert.True(t, opening.Equal(all[0].At))

	tail, err := s.Events(ctx, "genesis", 3)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(4), tail[0].Seq)

	none, err := s.Events(ctx, "genesis", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testList(t *testing.T, s store.Store) {
	ctx := context.Background()
	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, n := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, s.Save(ctx, deployment(n), nil))
	}
	names, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

// testEngineRoundTrip drives a real engine through a committer and brings
// it back up from what the store holds.
func testEngineRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	cfg := config()
	tokens := ledger.NewMemory("Genesis Token", "GEN")
	payments := ledger.NewMemory("Ether", "ETH")
	require.NoError(t, tokens.Mint(cfg.Custodian, cfg.TotalSupply))
	require.NoError(t, payments.Mint(alice, amount.Whole(5)))

	dep := &store.Deployment{Name: "genesis", Backend: store.BackendMemory}
	commit := store.NewCommitter(s, dep, tokens, payments)
	clock := &sale.FixedClock{T: opening.Add(time.Hour)}
	eng, err := sale.New(cfg, tokens, payments, sale.WithClock(clock), sale.WithCommitter(commit))
	require.NoError(t, err)
	require.NoError(t, commit.Commit(ctx, eng.Snapshot(), nil))

	_, err = eng.AddToWhitelist(ctx, owner, []common.Address{alice})
	require.NoError(t, err)
	_, err = eng.BuyTokens(ctx, alice, amount.Whole(1000), amount.Whole(1))
	require.NoError(t, err)

	loaded, err := s.Load(ctx, "genesis")
	require.NoError(t, err)
	assert.Equal(t, eng.Snapshot(), loaded.Sale)
	require.NotNil(t, loaded.Token)
	require.NotNil(t, loaded.Native)
	assert.False(t, loaded.CreatedAt.IsZero())

	evs, err := s.Events(ctx, "genesis", 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, sale.EventWhitelistAdd, evs[0].Kind)
	assert.Equal(t, sale.EventPurchase, evs[1].Kind)
	assert.Equal(t, amount.Whole(1000), evs[1].Quantity)
	assert.Equal(t, amount.Whole(1), evs[1].Payment)

	tokens2, err := ledger.NewMemoryFromSnapshot(*loaded.Token)
	require.NoError(t, err)
	payments2, err := ledger.NewMemoryFromSnapshot(*loaded.Native)
	require.NoError(t, err)
	eng2, err := sale.Restore(loaded.Sale, tokens2, payments2, sale.WithClock(clock))
	require.NoError(t, err)

	assert.Equal(t, amount.Whole(1000), eng2.TokensSold())
	assert.True(t, eng2.IsWhitelisted(alice))
	assert.Equal(t, int64(2), eng2.Sequence())
	bal, err := tokens2.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, amount.Whole(1000), bal)
	paid, err := payments2.BalanceOf(ctx, cfg.Custodian)
	require.NoError(t, err)
	assert.Equal(t, amount.Whole(1), paid)
}

func testRevisions(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := deployment("genesis")
	require.NoError(t, s.Save(ctx, d, nil))
	assert.Equal(t, int64(1), d.Revision)
	require.NoError(t, s.Save(ctx, d, events(1, 1)))
	assert.Equal(t, int64(2), d.Revision)

	got, err := s.Load(ctx, "genesis")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Revision)

	// A second create of the same name.
	assert.ErrorIs(t, s.Save(ctx, deployment("genesis"), nil), store.ErrConflict)

	// A writer still at revision 1 must not land, nor its events.
	stale := *got
	stale.Revision = 1
	stale.Sale.Sequence = 9
	assert.ErrorIs(t, s.Save(ctx, &stale, events(2, 1)), store.ErrConflict)
	assert.Equal(t, int64(1), stale.Revision)

	got, err = s.Load(ctx, "genesis")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Revision)
	assert.Equal(t, int64(2), got.Sale.Sequence)
	evs, err := s.Events(ctx, "genesis", 0)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

type session struct {
	eng    *sale.Engine
	native *ledger.Memory
}

// openSession brings a sale up from the store the way a fresh process does.
func openSession(t *testing.T, s store.Store, clock sale.Clock) session {
	t.Helper()
	dep, err := s.Load(context.Background(), "genesis")
	require.NoError(t, err)
	tokens, err := ledger.NewMemoryFromSnapshot(*dep.Token)
	require.NoError(t, err)
	native, err := ledger.NewMemoryFromSnapshot(*dep.Native)
	require.NoError(t, err)
	eng, err := sale.Restore(dep.Sale, tokens, native, sale.WithClock(clock),
		sale.WithCommitter(store.NewCommitter(s, dep, tokens, native)))
	require.NoError(t, err)
	return session{eng: eng, native: native}
}

// testStaleSessions loads the same deployment twice and commits through
// both: the second writer must be refused instead of overwriting the first.
func testStaleSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	cfg := config()
	tokens := ledger.NewMemory("Genesis Token", "GEN")
	payments := ledger.NewMemory("Ether", "ETH")
	require.NoError(t, tokens.Mint(cfg.Custodian, cfg.TotalSupply))
	require.NoError(t, payments.Mint(alice, amount.Whole(5)))
	require.NoError(t, payments.Mint(bob, amount.Whole(5)))

	dep := &store.Deployment{Name: "genesis", Backend: store.BackendMemory}
	commit := store.NewCommitter(s, dep, tokens, payments)
	clock := &sale.FixedClock{T: opening.Add(time.Hour)}
	eng, err := sale.New(cfg, tokens, payments, sale.WithClock(clock), sale.WithCommitter(commit))
	require.NoError(t, err)
	require.NoError(t, commit.Commit(ctx, eng.Snapshot(), nil))
	_, err = eng.AddToWhitelist(ctx, owner, []common.Address{alice, bob})
	require.NoError(t, err)

	first := openSession(t, s, clock)
	second := openSession(t, s, clock)

	_, err = first.eng.BuyTokens(ctx, alice, amount.Whole(1000), amount.Whole(1))
	require.NoError(t, err)

	_, err = second.eng.BuyTokens(ctx, bob, amount.Whole(3000), amount.Whole(3))
	require.ErrorIs(t, err, sale.ErrCommitFailed)
	assert.True(t, errors.Is(err, store.ErrConflict))
	assert.True(t, second.eng.TokensSold().IsZero())
	bobNative, err := second.native.BalanceOf(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, amount.Whole(5), bobNative, "refused purchase is rolled back")

	// Nothing to change: no write, so no chance to clobber.
	_, err = second.eng.AddToWhitelist(ctx, owner, []common.Address{alice})
	require.NoError(t, err)
	assert.ErrorIs(t, second.eng.SetPrice(ctx, owner, amount.Whole(1)), store.ErrConflict)

	loaded, err := s.Load(ctx, "genesis")
	require.NoError(t, err)
	assert.Equal(t, amount.Whole(1000), loaded.Sale.State.TokensSold)
	assert.Equal(t, amount.Whole(1), loaded.Sale.State.CustodiedPayment)
	assert.Equal(t, cfg.Price, loaded.Sale.Config.Price)
	aliceTokens, err := ledger.NewMemoryFromSnapshot(*loaded.Token)
	require.NoError(t, err)
	bal, err := aliceTokens.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, amount.Whole(1000), bal)

	evs, err := s.Events(ctx, "genesis", 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	for i, ev := range evs {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
	assert.Equal(t, sale.EventPurchase, evs[1].Kind)
	assert.Equal(t, alice, evs[1].Account)

	// A session opened after the first commit proceeds.
	third := openSession(t, s, clock)
	_, err = third.eng.BuyTokens(ctx, bob, amount.Whole(3000), amount.Whole(3))
	require.NoError(t, err)
}
