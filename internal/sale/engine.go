// Package sale implements a whitelisted, fixed-price token sale.
//
// An Engine owns the sale parameters, the whitelist and the sale bookkeeping.
// Token custody and payment custody live on two external Ledgers; the engine
// moves value between buyer, custodian and owner and keeps its counters in
// step with those movements. Every mutating call is serialized, validated in
// full before anything moves, and published to a Committer before the new
// state becomes visible.
package sale

import (
	"context"
	"sync"
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/Mohsinsiddi/w3ico/internal/whitelist"
	"github.com/ethereum/go-ethereum/common"
	logging "github.com/op/go-logging"
)

var log = logging.MustGetLogger("sale")

// Ledger is a balance book the engine moves value on. The token ledger holds
// the sold token, the payment ledger holds the native coin.
type Ledger interface {
	BalanceOf(ctx context.Context, account common.Address) (amount.Amount, error)
	Transfer(ctx context.Context, from, to common.Address, value amount.Amount) error
}

// Committer persists the sale after a mutation. The engine only exposes the
// new state after Commit returns nil.
type Committer interface {
	Commit(ctx context.Context, snap Snapshot, events []Event) error
}

// CommitFunc adapts a function to Committer.
type CommitFunc func(ctx context.Context, snap Snapshot, events []Event) error

// Commit calls f.
func (f CommitFunc) Commit(ctx context.Context, snap Snapshot, events []Event) error {
	return f(ctx, snap, events)
}

type nopCommitter struct{}

func (nopCommitter) Commit(context.Context, Snapshot, []Event) error { return nil }

// Engine is a single token sale.
type Engine struct {
	mu sync.RWMutex

	cfg   Config
	state State
	list  *whitelist.Registry
	seq   int64

	tokens   Ledger
	payments Ledger
	clock    Clock
	commit   Committer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithCommitter sets the persistence hook run inside every mutation.
func WithCommitter(c Committer) Option {
	return func(e *Engine) { e.commit = c }
}

// New creates a sale in its initial state: nothing sold, nobody whitelisted.
// The custodian is expected to already hold the sale inventory on tokens.
func New(cfg Config, tokens, payments Ledger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tokens == nil || payments == nil {
		return nil, ConfigError{Field: "ledger", Message: "token and payment ledgers are required"}
	}
	e := &Engine{
		cfg:      cfg,
		list:     whitelist.New(),
		tokens:   tokens,
		payments: payments,
		clock:    SystemClock{},
		commit:   nopCommitter{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns a copy of the current parameters.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// State returns a copy of the current bookkeeping.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Price is the payment for one whole token.
func (e *Engine) Price() amount.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Price
}

// TokensSold is the running total of tokens delivered to buyers.
func (e *Engine) TokensSold() amount.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.TokensSold
}

// MaxTokens is the total token supply.
func (e *Engine) MaxTokens() amount.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.TotalSupply
}

func (e *Engine) OpeningTime() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.OpeningTime
}

func (e *Engine) MinContribution() amount.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.MinContribution
}

func (e *Engine) MaxContribution() amount.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.MaxContribution
}

func (e *Engine) Owner() common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Owner
}

func (e *Engine) Custodian() common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Custodian
}

// CustodiedPayment is the payment collected and not yet swept to the owner.
func (e *Engine) CustodiedPayment() amount.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.CustodiedPayment
}

// Finalized reports whether Finalize has completed.
func (e *Engine) Finalized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Finalized
}

// Phase is the lifecycle phase at the engine clock's current time.
func (e *Engine) Phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return PhaseAt(e.clock.Now(), e.cfg.OpeningTime, e.state.Finalized)
}

// IsWhitelisted reports whether account may buy.
func (e *Engine) IsWhitelisted(account common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.list.IsWhitelisted(account)
}

// Whitelist returns every address the whitelist has seen and its flag.
func (e *Engine) Whitelist() []whitelist.Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.list.Entries()
}

// Inventory is the custodian's token balance, i.e. tokens still for sale.
func (e *Engine) Inventory(ctx context.Context) (amount.Amount, error) {
	return e.tokens.BalanceOf(ctx, e.Custodian())
}

// Sequence is the sequence number of the last recorded event.
func (e *Engine) Sequence() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.seq
}

// stamp assigns sequence numbers to events in order, starting after the
// current sequence, and returns the last one assigned.
func (e *Engine) stamp(events []Event) int64 {
	seq := e.seq
	for i := range events {
		seq++
		events[i].Seq = seq
	}
	return seq
}

// publish runs the committer with the candidate state. On success the
// candidate becomes current.
func (e *Engine) publish(ctx context.Context, cfg Config, state State, list *whitelist.Registry, events []Event) error {
	seq := e.stamp(events)
	snap := Snapshot{
		Config:    cfg,
		State:     state,
		Whitelist: list.Entries(),
		Sequence:  seq,
	}
	if err := e.commit.Commit(ctx, snap, events); err != nil {
		for i := range events {
			events[i].Seq = 0
		}
		return wrapErr(ErrCommitFailed, err)
	}
	e.cfg = cfg
	e.state = state
	e.list = list
	e.seq = seq
	return nil
}
