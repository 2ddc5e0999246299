package sale

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/Mohsinsiddi/w3ico/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	alice = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bob   = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	carol = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")

	opening = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type recorder struct {
	mu     sync.Mutex
	snaps  []Snapshot
	events []Event
	fail   error
}

func (r *recorder) Commit(_ context.Context, snap Snapshot, events []Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.snaps = append(r.snaps, snap)
	r.events = append(r.events, events...)
	return nil
}

type fixture struct {
	e         *Engine
	tokens    *ledger.Memory
	native    *ledger.Memory
	clock     *FixedClock
	commits   *recorder
	custodian common.Address
}

func baseConfig() Config {
	return Config{
		Token:           TokenInfo{Name: "Sale Token", Symbol: "SALE", Decimals: 18},
		Owner:           owner,
		Custodian:       crypto.CreateAddress(owner, 0),
		Price:           amount.One(),
		OpeningTime:     opening,
		MinContribution: amount.Whole(1),
		MaxContribution: amount.Whole(100),
		TotalSupply:     amount.Whole(10_000_000),
	}
}

func newFixture(t *testing.T, mods ...func(*Config)) *fixture {
	t.Helper()
	cfg := baseConfig()
	for _, m := range mods {
		m(&cfg)
	}

	tokens := ledger.NewMemory(cfg.Token.Name, cfg.Token.Symbol)
	require.NoError(t, tokens.Mint(cfg.Custodian, cfg.TotalSupply))
	native := ledger.NewMemory("Ether", "ETH")
	for _, a := range []common.Address{alice, bob, carol} {
		require.NoError(t, native.Mint(a, amount.Whole(1_000)))
	}

	f := &fixture{
		tokens:    tokens,
		native:    native,
		clock:     &FixedClock{T: opening.Add(-time.Hour)},
		commits:   &recorder{},
		custodian: cfg.Custodian,
	}
	e, err := New(cfg, tokens, native, WithClock(f.clock), WithCommitter(f.commits))
	require.NoError(t, err)
	f.e = e
	return f
}

func (f *fixture) open() { f.clock.T = opening }

func (f *fixture) balance(l *ledger.Memory, a common.Address) amount.Amount {
	v, _ := l.BalanceOf(context.Background(), a)
	return v
}

func (f *fixture) whitelist(t *testing.T, accounts ...common.Address) {
	t.Helper()
	_, err := f.e.AddToWhitelist(context.Background(), owner, accounts)
	require.NoError(t, err)
}

// --- construction ---

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*Config)
		field string
	}{
		{"zero owner", func(c *Config) { c.Owner = common.Address{} }, "owner"},
		{"zero custodian", func(c *Config) { c.Custodian = common.Address{} }, "custodian"},
		{"custodian is owner", func(c *Config) { c.Custodian = c.Owner }, "custodian"},
		{"no opening time", func(c *Config) { c.OpeningTime = time.Time{} }, "opening_time"},
		{"zero supply", func(c *Config) { c.TotalSupply = amount.Zero() }, "total_supply"},
		{"zero price", func(c *Config) { c.Price = amount.Zero() }, "price"},
		{"zero max", func(c *Config) { c.MaxContribution = amount.Zero(); c.MinContribution = amount.Zero() }, "max_contribution"},
		{"min above max", func(c *Config) { c.MinContribution = amount.Whole(101) }, "min_contribution"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mod(&cfg)
			l := ledger.NewMemory("x", "X")
			_, err := New(cfg, l, l)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			var ce ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestNewRequiresLedgers(t *testing.T) {
	_, err := New(baseConfig(), nil, ledger.NewMemory("x", "X"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestInitialState(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.e.TokensSold().IsZero())
	assert.True(t, f.e.CustodiedPayment().IsZero())
	assert.Equal(t, amount.Whole(10_000_000), f.e.MaxTokens())
	assert.Equal(t, amount.One(), f.e.Price())
	assert.Equal(t, opening, f.e.OpeningTime())
	assert.Equal(t, owner, f.e.Owner())
	assert.Equal(t, PhaseNotOpen, f.e.Phase())
	assert.False(t, f.e.IsWhitelisted(alice))
	assert.Zero(t, f.e.Sequence())

	inv, err := f.e.Inventory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, amount.Whole(10_000_000), inv)
}

// --- scenarios ---

func TestScenarioA_Purchase(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, alice)
	f.open()

	r, err := f.e.BuyTokens(context.Background(), alice, amount.Whole(10), amount.Whole(10))
	require.NoError(t, err)

	assert.Equal(t, alice, r.Buyer)
	assert.Equal(t, amount.Whole(10), r.Quantity)
	assert.Equal(t, amount.Whole(10), r.TokensSold)
	assert.NotEmpty(t, r.ID)

	assert.Equal(t, amount.Whole(9_999_990), f.balance(f.tokens, f.custodian))
	assert.Equal(t, amount.Whole(10), f.balance(f.tokens, alice))
	assert.Equal(t, amount.Whole(10), f.e.TokensSold())
	assert.Equal(t, amount.Whole(10), f.e.CustodiedPayment())
	assert.Equal(t, amount.Whole(10), f.balance(f.native, f.custodian))
	assert.Equal(t, amount.Whole(990), f.balance(f.native, alice))
}

func TestScenarioB_NotWhitelisted(t *testing.T) {
	f := newFixture(t)
	f.open()
	before := f.e.Snapshot()

	_, err := f.e.BuyTokens(context.Background(), bob, amount.Whole(10), amount.Whole(10))
	require.ErrorIs(t, err, ErrNotWhitelisted)
	assert.Equal(t, "NotWhitelisted", Kind(err))

	assert.Equal(t, before, f.e.Snapshot())
	assert.Equal(t, amount.Whole(10_000_000), f.balance(f.tokens, f.custodian))
	assert.True(t, f.balance(f.tokens, bob).IsZero())
	assert.Equal(t, amount.Whole(1_000), f.balance(f.native, bob))
}

func TestScenarioC_PriceChange(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, alice)
	f.open()
	ctx := context.Background()

	require.NoError(t, f.e.SetPrice(ctx, owner, amount.Whole(2)))

	_, err := f.e.BuyTokens(ctx, alice, amount.Whole(10), amount.Whole(10))
	require.ErrorIs(t, err, ErrInsufficientPayment)
	assert.True(t, f.e.TokensSold().IsZero())

	_, err = f.e.BuyTokens(ctx, alice, amount.Whole(10), amount.Whole(20))
	require.NoError(t, err)
}

func TestScenarioD_Finalize(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, alice)
	f.open()
	ctx := context.Background()

	_, err := f.e.BuyTokens(ctx, alice, amount.Whole(10), amount.Whole(10))
	require.NoError(t, err)

	ownerTokens := f.balance(f.tokens, owner)
	require.NoError(t, f.e.Finalize(ctx, owner))

	assert.True(t, f.balance(f.tokens, f.custodian).IsZero())
	gained, err := f.balance(f.tokens, owner).Sub(ownerTokens)
	require.NoError(t, err)
	assert.Equal(t, amount.Whole(9_999_990), gained)
	assert.True(t, f.e.CustodiedPayment().IsZero())
	assert.Equal(t, amount.Whole(10), f.balance(f.native, owner))
	assert.True(t, f.balance(f.native, f.custodian).IsZero())
	assert.Equal(t, PhaseFinalized, f.e.Phase())
	assert.True(t, f.e.Finalized())
	assert.Equal(t, amount.Whole(10), f.e.TokensSold())
}

// --- purchase checks ---

func TestGateOrderingBeforeOpen(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, alice)
	ctx := context.Background()

	_, err := f.e.BuyTokens(ctx, alice, amount.Whole(10), amount.Whole(10))
	assert.ErrorIs(t, err, ErrSaleNotOpen)

	// Phase wins over every other failure.
	_, err = f.e.BuyTokens(ctx, bob, amount.Zero(), amount.Whole(7))
	assert.ErrorIs(t, err, ErrSaleNotOpen)

	_, err = f.e.SendPayment(ctx, alice, amount.Whole(10))
	assert.ErrorIs(t, err, ErrSaleNotOpen)
	assert.False(t, f.e.CanPurchase(alice))
}

func TestOpensAtExactlyOpeningTime(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, alice)
	ctx := context.Background()

	f.clock.T = opening.Add(-time.Nanosecond)
	_, err := f.e.BuyTokens(ctx, alice, amount.Whole(1), amount.Whole(1))
	require.ErrorIs(t, err, ErrSaleNotOpen)

	f.clock.Advance(time.Nanosecond)
	assert.Equal(t, PhaseOpen, f.e.Phase())
	_, err = f.e.BuyTokens(ctx, alice, amount.Whole(1), amount.Whole(1))
	require.NoError(t, err)
}

func TestPurchaseCheckOrder(t *testing.T) {
	tests := []struct {
		name     string
		buyer    common.Address
		quantity amount.Amount
		payment  amount.Amount
		want     error
	}{
		{"not whitelisted beats zero quantity", bob, amount.Zero(), amount.Zero(), ErrNotWhitelisted},
		{"not whitelisted beats bounds", bob, amount.Whole(101), amount.Whole(101), ErrNotWhitelisted},
		{"zero quantity", alice, amount.Zero(), amount.Zero(), ErrInvalidAmount},
		{"underpayment", alice, amount.Whole(10), amount.Whole(9), ErrInsufficientPayment},
		{"overpayment", alice, amount.Whole(10), amount.Whole(11), ErrInsufficientPayment},
		{"payment check beats bounds", alice, amount.Whole(500), amount.Whole(1), ErrInsufficientPayment},
		{"below min", alice, amount.MustParse("0.5"), amount.MustParse("0.5"), ErrContributionOutOfBounds},
		{"above max", alice, amount.Whole(101), amount.Whole(101), ErrContributionOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.whitelist(t, alice)
			f.open()
			before := f.e.Snapshot()

			_, err := f.e.BuyTokens(context.Background(), tt.buyer, tt.quantity, tt.payment)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, IsRejection(err))
			assert.Equal(t, before, f.e.Snapshot())
			assert.Equal(t, amount.Whole(1_000), f.balance(f.native, alice))
		})
	}
}

func TestInexactPaymentIsInvalidAmount(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Price = amount.New(3)
		c.MinContribution = amount.Zero()
	})
	f.whitelist(t, alice)
	f.open()

	// 1 base unit at 3 wei per whole token is 3e-18 wei.
	_, err := f.e.BuyTokens(context.Background(), alice, amount.New(1), amount.Zero())
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestInsufficientInventory(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.TotalSupply = amount.Whole(5) })
	f.whitelist(t, alice)
	f.open()

	_, err := f.e.BuyTokens(context.Background(), alice, amount.Whole(10), amount.Whole(10))
	require.ErrorIs(t, err, ErrInsufficientInventory)
	assert.Equal(t, "InsufficientInventory", Kind(err))
	assert.Equal(t, amount.Whole(1_000), f.balance(f.native, alice))

	_, err = f.e.BuyTokens(context.Background(), alice, amount.Whole(5), amount.Whole(5))
	require.NoError(t, err)
	_, err = f.e.BuyTokens(context.Background(), alice, amount.Whole(1), amount.Whole(1))
	assert.ErrorIs(t, err, ErrInsufficientInventory)
}

func TestInventoryFollowsCustodialBalance(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, alice)
	f.open()
	ctx := context.Background()

	// Custody drained outside the sale; the counter alone would allow it.
	require.NoError(t, f.tokens.Transfer(ctx, f.custodian, carol, amount.MustParse("9999995")))
	_, err := f.e.BuyTokens(ctx, alice, amount.Whole(10), amount.Whole(10))
	assert.ErrorIs(t, err, ErrInsufficientInventory)
}

func TestContributionBoundsInclusive(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, alice)
	f.open()
	ctx := context.Background()

	_, err := f.e.BuyTokens(ctx, alice, amount.Whole(1), amount.Whole(1))
	require.NoError(t, err)
	_, err = f.e.BuyTokens(ctx, alice, amount.Whole(100), amount.Whole(100))
	require.NoError(t, err)

	assert.True(t, f.e.IsValidContribution(amount.Whole(1)))
	assert.True(t, f.e.IsValidContribution(amount.Whole(100)))
	assert.False(t, f.e.IsValidContribution(amount.MustParse("0.999")))
	assert.False(t, f.e.IsValidContribution(amount.MustParse("100.000000000000000001")))
}

func TestConservation(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, alice, bob, carol)
	f.open()
	ctx := context.Background()

	buys := []struct {
		who common.Address
		qty string
	}{
		{alice, "10"}, {bob, "2.5"}, {carol, "99"}, {alice, "1.000000000000000001"}, {bob, "40"},
	}
	total := amount.Zero()
	for _, b := range buys {
		q := amount.MustParse(b.qty)
		_, err := f.e.BuyTokens(ctx, b.who, q, q)
		require.NoError(t, err, b.qty)
		total, err = total.Add(q)
		require.NoError(t, err)
	}

	assert.Equal(t, total, f.e.TokensSold())
	assert.Equal(t, total, f.e.CustodiedPayment())
	left, err := amount.Whole(10_000_000).Sub(total)
	require.NoError(t, err)
	assert.Equal(t, left, f.balance(f.tokens, f.custodian))
	assert.Equal(t, amount.Whole(10_000_000), f.tokens.TotalSupply())
}

func TestConcurrentPurchasesAreSerialized(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, alice, bob)
	f.open()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		buyer := alice
		if i%2 == 1 {
			buyer = bob
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.e.BuyTokens(ctx, buyer, amount.Whole(1), amount.Whole(1))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_ = f.e.TokensSold()
			_ = f.e.IsWhitelisted(buyer)
		}()
	}
	wg.Wait()

	assert.Equal(t, amount.Whole(40), f.e.TokensSold())
	assert.Equal(t, amount.Whole(9_999_960), f.balance(f.tokens, f.custodian))
	assert.Equal(t, int64(41), f.e.Sequence())
}

// --- fallback payment ---

func TestSendPayment(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Price = amount.Whole(2) })
	f.whitelist(t, alice)
	f.open()

	r, err := f.e.SendPayment(context.Background(), alice, amount.Whole(3))
	require.NoError(t, err)
	assert.Equal(t, amount.MustParse("1.5"), r.Quantity)
	assert.Equal(t, amount.Whole(3), r.Payment)
	assert.Equal(t, amount.MustParse("1.5"), f.balance(f.tokens, alice))
	assert.Equal(t, amount.Whole(3), f.e.CustodiedPayment())
}

func TestSendPaymentSharesChecks(t *testing.T) {
	tests := []struct {
		name    string
		buyer   common.Address
		payment amount.Amount
		want    error
	}{
		{"not whitelisted", bob, amount.Whole(5), ErrNotWhitelisted},
		{"zero", alice, amount.Zero(), ErrInvalidAmount},
		{"inexact quantity", alice, amount.New(1), ErrInvalidAmount},
		{"below min", alice, amount.MustParse("0.3"), ErrContributionOutOfBounds},
		{"above max", alice, amount.Whole(300), ErrContributionOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(c *Config) { c.Price = amount.Whole(3) })
			f.whitelist(t, alice)
			f.open()

			_, err := f.e.SendPayment(context.Background(), tt.buyer, tt.payment)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, f.e.TokensSold().IsZero())
		})
	}
}

func TestQuote(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Price = amount.MustParse("0.25") })
	p, err := f.e.Quote(amount.Whole(10))
	require.NoError(t, err)
	assert.Equal(t, amount.MustParse("2.5"), p)

	_, err = f.e.Quote(amount.Zero())
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

// --- finalize ---

func TestFinalizeTerminality(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, alice)
	f.open()
	ctx := context.Background()

	require.NoError(t, f.e.Finalize(ctx, owner))

	_, err := f.e.BuyTokens(ctx, alice, amount.Whole(1), amount.Whole(1))
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
	_, err = f.e.SendPayment(ctx, alice, amount.Whole(1))
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
	assert.ErrorIs(t, f.e.Finalize(ctx, owner), ErrAlreadyFinalized)
	assert.False(t, f.e.CanPurchase(alice))

	// Setters stay callable and change nothing that matters.
	require.NoError(t, f.e.SetPrice(ctx, owner, amount.Whole(5)))
	_, err = f.e.BuyTokens(ctx, alice, amount.Whole(1), amount.Whole(5))
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestFinalizeBeforeOpening(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.e.Finalize(ctx, owner))
	assert.Equal(t, amount.Whole(10_000_000), f.balance(f.tokens, owner))
	assert.Equal(t, PhaseFinalized, f.e.Phase())

	f.open()
	f.whitelist(t, alice)
	_, err := f.e.BuyTokens(ctx, alice, amount.Whole(1), amount.Whole(1))
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

// --- administration ---

func TestAdminRequiresOwner(t *testing.T) {
	ctx := context.Background()
	ops := map[string]func(e *Engine) error{
		"set price": func(e *Engine) error { return e.SetPrice(ctx, alice, amount.Whole(2)) },
		"set min":   func(e *Engine) error { return e.SetMinContribution(ctx, alice, amount.Whole(2)) },
		"set max":   func(e *Engine) error { return e.SetMaxContribution(ctx, alice, amount.Whole(2)) },
		"transfer":  func(e *Engine) error { return e.TransferOwnership(ctx, alice, alice) },
		"finalize":  func(e *Engine) error { return e.Finalize(ctx, alice) },
		"whitelist add": func(e *Engine) error {
			_, err := e.AddToWhitelist(ctx, alice, []common.Address{alice})
			return err
		},
		"whitelist remove": func(e *Engine) error {
			_, err := e.RemoveFromWhitelist(ctx, alice, []common.Address{alice})
			return err
		},
		// authorization is checked before input validation
		"invalid input": func(e *Engine) error {
			_, err := e.AddToWhitelist(ctx, alice, nil)
			return err
		},
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			before := f.e.Snapshot()
			err := op(f.e)
			require.ErrorIs(t, err, ErrUnauthorized)
			assert.Equal(t, "Unauthorized", Kind(err))
			assert.Equal(t, before, f.e.Snapshot())
			assert.Empty(t, f.commits.events)
		})
	}
}

func TestSetBoundsValidatedAtWriteTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.e.SetMinContribution(ctx, owner, amount.Whole(101))
	require.ErrorIs(t, err, ErrInvalidConfig)
	err = f.e.SetMaxContribution(ctx, owner, amount.MustParse("0.5"))
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, amount.Whole(1), f.e.MinContribution())
	assert.Equal(t, amount.Whole(100), f.e.MaxContribution())

	require.NoError(t, f.e.SetMaxContribution(ctx, owner, amount.Whole(1)))
	require.NoError(t, f.e.SetMinContribution(ctx, owner, amount.Whole(1)))
	assert.Equal(t, amount.Whole(1), f.e.MaxContribution())
}

func TestNewBoundsApplyToLaterPurchases(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, alice)
	f.open()
	ctx := context.Background()

	_, err := f.e.BuyTokens(ctx, alice, amount.Whole(50), amount.Whole(50))
	require.NoError(t, err)
	require.NoError(t, f.e.SetMaxContribution(ctx, owner, amount.Whole(10)))

	_, err = f.e.BuyTokens(ctx, alice, amount.Whole(50), amount.Whole(50))
	assert.ErrorIs(t, err, ErrContributionOutOfBounds)
	assert.Equal(t, amount.Whole(50), f.e.TokensSold())
}

func TestSetPriceRejectsZero(t *testing.T) {
	f := newFixture(t)
	err := f.e.SetPrice(context.Background(), owner, amount.Zero())
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, amount.One(), f.e.Price())
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.e.TransferOwnership(ctx, owner, common.Address{}), ErrInvalidInput)
	require.ErrorIs(t, f.e.TransferOwnership(ctx, owner, f.custodian), ErrInvalidInput)

	require.NoError(t, f.e.TransferOwnership(ctx, owner, carol))
	assert.Equal(t, carol, f.e.Owner())
	assert.ErrorIs(t, f.e.SetPrice(ctx, owner, amount.Whole(2)), ErrUnauthorized)
	require.NoError(t, f.e.SetPrice(ctx, carol, amount.Whole(2)))

	require.NoError(t, f.e.Finalize(ctx, carol))
	assert.Equal(t, amount.Whole(10_000_000), f.balance(f.tokens, carol))
}

func TestWhitelistThroughEngine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	changed, err := f.e.AddToWhitelist(ctx, owner, []common.Address{alice, alice, bob})
	require.NoError(t, err)
	assert.Equal(t, []common.Address{alice, bob}, changed)

	changed, err = f.e.AddToWhitelist(ctx, owner, []common.Address{alice})
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.True(t, f.e.IsWhitelisted(alice))

	changed, err = f.e.RemoveFromWhitelist(ctx, owner, []common.Address{alice})
	require.NoError(t, err)
	assert.Equal(t, []common.Address{alice}, changed)
	assert.False(t, f.e.IsWhitelisted(alice))
	assert.True(t, f.e.IsWhitelisted(bob))

	_, err = f.e.AddToWhitelist(ctx, owner, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.e.RemoveFromWhitelist(ctx, owner, []common.Address{carol, {}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Len(t, f.e.Whitelist(), 2)
}

// --- events and commits ---

func TestEventsAreSequencedAndCommitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.whitelist(t, alice)
	f.open()

	require.NoError(t, f.e.SetPrice(ctx, owner, amount.Whole(2)))
	_, err := f.e.BuyTokens(ctx, alice, amount.Whole(5), amount.Whole(10))
	require.NoError(t, err)
	require.NoError(t, f.e.Finalize(ctx, owner))
	// A no-op whitelist change does not commit at all.
	commits := len(f.commits.snaps)
	changed, err := f.e.AddToWhitelist(ctx, owner, []common.Address{alice})
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Len(t, f.commits.snaps, commits)

	evs := f.commits.events
	require.Len(t, evs, 4)
	kinds := []EventKind{EventWhitelistAdd, EventPriceChanged, EventPurchase, EventFinalize}
	for i, ev := range evs {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, kinds[i], ev.Kind)
		assert.NotEmpty(t, ev.ID)
	}
	assert.Equal(t, []common.Address{alice}, evs[0].Addresses)
	assert.Equal(t, amount.Whole(2), evs[1].Value)
	assert.Equal(t, alice, evs[2].Account)
	assert.Equal(t, amount.Whole(5), evs[2].Quantity)
	assert.Equal(t, amount.Whole(10), evs[2].Payment)
	assert.Equal(t, amount.Whole(5), evs[3].Quantity)
	assert.Equal(t, amount.Whole(10), evs[3].Payment)
	assert.Equal(t, amount.Whole(9_999_995), evs[3].Value)

	last := f.commits.snaps[len(f.commits.snaps)-1]
	assert.Equal(t, int64(4), last.Sequence)
	assert.True(t, last.State.Finalized)
	assert.Equal(t, f.e.Snapshot(), last)
}

func TestCommitFailureRollsBackPurchase(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, alice)
	f.open()
	seq := f.e.Sequence()
	f.commits.fail = errors.New("disk full")

	_, err := f.e.BuyTokens(context.Background(), alice, amount.Whole(10), amount.Whole(10))
	require.ErrorIs(t, err, ErrCommitFailed)
	assert.Equal(t, "CommitFailed", Kind(err))
	assert.False(t, IsRejection(err))

	assert.True(t, f.e.TokensSold().IsZero())
	assert.True(t, f.e.CustodiedPayment().IsZero())
	assert.Equal(t, seq, f.e.Sequence())
	assert.Equal(t, amount.Whole(10_000_000), f.balance(f.tokens, f.custodian))
	assert.True(t, f.balance(f.tokens, alice).IsZero())
	assert.Equal(t, amount.Whole(1_000), f.balance(f.native, alice))
	assert.True(t, f.balance(f.native, f.custodian).IsZero())
}

func TestCommitFailureRollsBackFinalize(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, alice)
	f.open()
	ctx := context.Background()
	_, err := f.e.BuyTokens(ctx, alice, amount.Whole(10), amount.Whole(10))
	require.NoError(t, err)

	f.commits.fail = errors.New("disk full")
	require.ErrorIs(t, f.e.Finalize(ctx, owner), ErrCommitFailed)
	assert.False(t, f.e.Finalized())
	assert.Equal(t, amount.Whole(10), f.e.CustodiedPayment())
	assert.Equal(t, amount.Whole(9_999_990), f.balance(f.tokens, f.custodian))
	assert.Equal(t, amount.Whole(10), f.balance(f.native, f.custodian))
	assert.True(t, f.balance(f.tokens, owner).IsZero())

	f.commits.fail = nil
	require.NoError(t, f.e.Finalize(ctx, owner))
}

func TestNoOpWhitelistBatchSkipsCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.whitelist(t, alice)
	f.commits.fail = errors.New("stale")

	// Nothing changes, so a failing committer is never reached.
	changed, err := f.e.AddToWhitelist(ctx, owner, []common.Address{alice})
	require.NoError(t, err)
	assert.Empty(t, changed)

	// Recording an unknown address as removed is still a change.
	_, err = f.e.RemoveFromWhitelist(ctx, owner, []common.Address{carol})
	assert.ErrorIs(t, err, ErrCommitFailed)
}

func TestCommitFailureKeepsAdminState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.commits.fail = errors.New("locked")

	assert.ErrorIs(t, f.e.SetPrice(ctx, owner, amount.Whole(3)), ErrCommitFailed)
	assert.Equal(t, amount.One(), f.e.Price())
	_, err := f.e.AddToWhitelist(ctx, owner, []common.Address{alice})
	assert.ErrorIs(t, err, ErrCommitFailed)
	assert.False(t, f.e.IsWhitelisted(alice))
	assert.ErrorIs(t, f.e.TransferOwnership(ctx, owner, bob), ErrCommitFailed)
	assert.Equal(t, owner, f.e.Owner())
}

type flakyLedger struct {
	*ledger.Memory
	fail bool
}

func (l *flakyLedger) Transfer(ctx context.Context, from, to common.Address, v amount.Amount) error {
	if l.fail {
		return errors.New("node unavailable")
	}
	return l.Memory.Transfer(ctx, from, to, v)
}

func TestTokenTransferFailureRefundsPayment(t *testing.T) {
	cfg := baseConfig()
	mem := ledger.NewMemory("Sale Token", "SALE")
	require.NoError(t, mem.Mint(cfg.Custodian, cfg.TotalSupply))
	tokens := &flakyLedger{Memory: mem}
	native := ledger.NewMemory("Ether", "ETH")
	require.NoError(t, native.Mint(alice, amount.Whole(50)))

	e, err := New(cfg, tokens, native, WithClock(&FixedClock{T: opening}))
	require.NoError(t, err)
	_, err = e.AddToWhitelist(context.Background(), owner, []common.Address{alice})
	require.NoError(t, err)

	tokens.fail = true
	_, err = e.BuyTokens(context.Background(), alice, amount.Whole(10), amount.Whole(10))
	require.ErrorIs(t, err, ErrTransferFailed)

	bal, _ := native.BalanceOf(context.Background(), alice)
	assert.Equal(t, amount.Whole(50), bal)
	assert.True(t, e.TokensSold().IsZero())
}

// stuckTx is a transfer that was handed to the ledger with no outcome yet.
type stuckTx struct{}

func (stuckTx) Error() string { return "transaction 0xfeed not confirmed" }
func (stuckTx) Pending() bool { return true }

type stuckLedger struct {
	*ledger.Memory
	stuck bool
}

func (l *stuckLedger) Transfer(ctx context.Context, from, to common.Address, v amount.Amount) error {
	if l.stuck {
		return stuckTx{}
	}
	return l.Memory.Transfer(ctx, from, to, v)
}

func TestUnconfirmedTokenLegKeepsPayment(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, alice)
	f.open()
	tokens := &stuckLedger{Memory: f.tokens, stuck: true}
	e, err := Restore(f.e.Snapshot(), tokens, f.native, WithClock(f.clock), WithCommitter(f.commits))
	require.NoError(t, err)
	commits := len(f.commits.snaps)

	_, err = e.BuyTokens(context.Background(), alice, amount.Whole(10), amount.Whole(10))
	require.ErrorIs(t, err, ErrTransferPending)
	assert.NotErrorIs(t, err, ErrTransferFailed)
	assert.Equal(t, "TransferPending", Kind(err))
	assert.False(t, IsRejection(err))
	assert.Contains(t, err.Error(), "0xfeed")

	// No refund: the token transfer may still land.
	assert.Equal(t, amount.Whole(990), f.balance(f.native, alice))
	assert.Equal(t, amount.Whole(10), f.balance(f.native, f.custodian))
	assert.True(t, e.TokensSold().IsZero())
	assert.True(t, e.CustodiedPayment().IsZero())
	assert.Len(t, f.commits.snaps, commits)
}

func TestUnconfirmedPaymentLegMovesNothingElse(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, alice)
	f.open()
	native := &stuckLedger{Memory: f.native, stuck: true}
	e, err := Restore(f.e.Snapshot(), f.tokens, native, WithClock(f.clock))
	require.NoError(t, err)

	_, err = e.BuyTokens(context.Background(), alice, amount.Whole(10), amount.Whole(10))
	require.ErrorIs(t, err, ErrTransferPending)
	assert.True(t, f.balance(f.tokens, alice).IsZero())
	assert.Equal(t, amount.Whole(10_000_000), f.balance(f.tokens, f.custodian))
}

func TestUnconfirmedFinalizeSweepIsNotReversed(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, alice)
	f.open()
	ctx := context.Background()
	_, err := f.e.BuyTokens(ctx, alice, amount.Whole(10), amount.Whole(10))
	require.NoError(t, err)

	native := &stuckLedger{Memory: f.native, stuck: true}
	e, err := Restore(f.e.Snapshot(), f.tokens, native, WithClock(f.clock), WithCommitter(f.commits))
	require.NoError(t, err)

	require.ErrorIs(t, e.Finalize(ctx, owner), ErrTransferPending)
	assert.False(t, e.Finalized())
	assert.Equal(t, amount.Whole(9_999_990), f.balance(f.tokens, owner), "token sweep stays with the owner")
	assert.True(t, f.balance(f.tokens, f.custodian).IsZero())
	assert.Equal(t, amount.Whole(10), e.CustodiedPayment())

	// Once the node answers again, finalize only has the payment left to move.
	native.stuck = false
	require.NoError(t, e.Finalize(ctx, owner))
	assert.True(t, e.Finalized())
	assert.Equal(t, amount.Whole(10), f.balance(f.native, owner))
	assert.Equal(t, amount.Whole(9_999_990), f.balance(f.tokens, owner))
}

func TestBuyerWithoutFunds(t *testing.T) {
	f := newFixture(t)
	dave := common.HexToAddress("0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65")
	f.whitelist(t, dave)
	f.open()

	_, err := f.e.BuyTokens(context.Background(), dave, amount.Whole(10), amount.Whole(10))
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.True(t, f.e.TokensSold().IsZero())
	assert.Equal(t, amount.Whole(10_000_000), f.balance(f.tokens, f.custodian))
}

// --- restore ---

func TestRestoreRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, alice, bob)
	f.open()
	ctx := context.Background()
	_, err := f.e.BuyTokens(ctx, alice, amount.Whole(7), amount.Whole(7))
	require.NoError(t, err)

	snap := f.e.Snapshot()
	e2, err := Restore(snap, f.tokens, f.native, WithClock(f.clock))
	require.NoError(t, err)

	assert.Equal(t, snap, e2.Snapshot())
	assert.True(t, e2.IsWhitelisted(bob))
	assert.Equal(t, amount.Whole(7), e2.TokensSold())

	_, err = e2.BuyTokens(ctx, bob, amount.Whole(3), amount.Whole(3))
	require.NoError(t, err)
	assert.Equal(t, amount.Whole(10), e2.TokensSold())
	assert.Equal(t, snap.Sequence+1, e2.Sequence())
	assert.Equal(t, PhaseOpen, e2.Snapshot().PhaseAt(f.clock.Now()))
}

func TestRestoreRejectsOversold(t *testing.T) {
	snap := Snapshot{Config: baseConfig()}
	snap.State.TokensSold = amount.Whole(10_000_001)
	l := ledger.NewMemory("x", "X")
	_, err := Restore(snap, l, l)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
