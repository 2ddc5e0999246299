package sale

import (
	"context"
	"fmt"
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/ethereum/go-ethereum/common"
)

// BuyTokens sells quantity token base units to buyer for exactly
// quantity*price/10^18 payment base units.
func (e *Engine) BuyTokens(ctx context.Context, buyer common.Address, quantity, payment amount.Amount) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if err := e.checkBuyer(now, buyer); err != nil {
		return nil, e.reject("buy", buyer, err)
	}
	if quantity.IsZero() {
		return nil, e.reject("buy", buyer, ErrInvalidAmount)
	}
	required, err := quantity.MulUnit(e.cfg.Price)
	if err != nil {
		return nil, e.reject("buy", buyer, fmt.Errorf("%w: quantity %s at price %s: %v", ErrInvalidAmount, quantity, e.cfg.Price, err))
	}
	if !payment.Eq(required) {
		return nil, e.reject("buy", buyer, fmt.Errorf("%w: paid %s, required %s", ErrInsufficientPayment, payment.Format(), required.Format()))
	}
	return e.purchase(ctx, now, buyer, quantity, payment)
}

// SendPayment handles a plain payment: it buys payment*10^18/price token base
// units, which must come out exact, then runs the same checks as BuyTokens.
func (e *Engine) SendPayment(ctx context.Context, buyer common.Address, payment amount.Amount) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if err := e.checkBuyer(now, buyer); err != nil {
		return nil, e.reject("pay", buyer, err)
	}
	if payment.IsZero() {
		return nil, e.reject("pay", buyer, ErrInvalidAmount)
	}
	quantity, err := payment.DivUnit(e.cfg.Price)
	if err != nil {
		return nil, e.reject("pay", buyer, fmt.Errorf("%w: payment %s does not buy a whole number of base units at price %s", ErrInvalidAmount, payment.Format(), e.cfg.Price.Format()))
	}
	if quantity.IsZero() {
		return nil, e.reject("pay", buyer, ErrInvalidAmount)
	}
	return e.purchase(ctx, now, buyer, quantity, payment)
}

// Quote returns the payment BuyTokens requires for quantity.
func (e *Engine) Quote(quantity amount.Amount) (amount.Amount, error) {
	if quantity.IsZero() {
		return amount.Zero(), ErrInvalidAmount
	}
	p, err := quantity.MulUnit(e.Price())
	if err != nil {
		return amount.Zero(), fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return p, nil
}

// CanPurchase reports whether account may buy right now.
func (e *Engine) CanPurchase(account common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.checkBuyer(e.clock.Now(), account) == nil
}

// IsValidContribution reports whether payment lies within the bounds.
func (e *Engine) IsValidContribution(payment amount.Amount) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.inBounds(payment)
}

func (e *Engine) inBounds(payment amount.Amount) bool {
	return !payment.Lt(e.cfg.MinContribution) && !payment.Gt(e.cfg.MaxContribution)
}

func (e *Engine) checkBuyer(now time.Time, buyer common.Address) error {
	switch PhaseAt(now, e.cfg.OpeningTime, e.state.Finalized) {
	case PhaseFinalized:
		return ErrAlreadyFinalized
	case PhaseNotOpen:
		return fmt.Errorf("%w: opens at %s", ErrSaleNotOpen, e.cfg.OpeningTime.UTC().Format(time.RFC3339))
	}
	if !e.list.IsWhitelisted(buyer) {
		return fmt.Errorf("%w: %s", ErrNotWhitelisted, buyer.Hex())
	}
	return nil
}

// purchase runs the bounds and inventory checks, then moves value and
// commits. Caller holds the write lock.
func (e *Engine) purchase(ctx context.Context, now time.Time, buyer common.Address, quantity, payment amount.Amount) (*Receipt, error) {
	if !e.inBounds(payment) {
		return nil, e.reject("buy", buyer, fmt.Errorf("%w: %s not in [%s, %s]",
			ErrContributionOutOfBounds, payment.Format(), e.cfg.MinContribution.Format(), e.cfg.MaxContribution.Format()))
	}

	sold, err := e.state.TokensSold.Add(quantity)
	if err != nil || sold.Gt(e.cfg.TotalSupply) {
		return nil, e.reject("buy", buyer, fmt.Errorf("%w: %s would exceed total supply %s",
			ErrInsufficientInventory, quantity.Format(), e.cfg.TotalSupply.Format()))
	}
	custody, err := e.tokens.BalanceOf(ctx, e.cfg.Custodian)
	if err != nil {
		return nil, fmt.Errorf("reading custodial balance: %w", err)
	}
	if custody.Lt(quantity) {
		return nil, e.reject("buy", buyer, fmt.Errorf("%w: %s requested, %s available",
			ErrInsufficientInventory, quantity.Format(), custody.Format()))
	}
	custodied, err := e.state.CustodiedPayment.Add(payment)
	if err != nil {
		return nil, fmt.Errorf("%w: custodied payment: %v", ErrInvalidAmount, err)
	}

	var undo undoStack
	if err := e.payments.Transfer(ctx, buyer, e.cfg.Custodian, payment); err != nil {
		return nil, undo.fail(ctx, "buy", err)
	}
	undo.push(e.payments, e.cfg.Custodian, buyer, payment)

	if err := e.tokens.Transfer(ctx, e.cfg.Custodian, buyer, quantity); err != nil {
		return nil, undo.fail(ctx, "buy", err)
	}
	undo.push(e.tokens, buyer, e.cfg.Custodian, quantity)

	state := e.state
	state.TokensSold = sold
	state.CustodiedPayment = custodied

	ev := newEvent(EventPurchase, buyer, now)
	ev.Account = buyer
	ev.Quantity = quantity
	ev.Payment = payment
	events := []Event{ev}

	if err := e.publish(ctx, e.cfg, state, e.list, events); err != nil {
		undo.run(ctx)
		log.Errorf("purchase by %s rolled back: %v", buyer.Hex(), err)
		return nil, err
	}

	log.Infof("purchase: %s bought %s for %s (sold %s)", buyer.Hex(), quantity.Format(), payment.Format(), sold.Format())
	return &Receipt{
		ID:         ev.ID,
		Buyer:      buyer,
		Quantity:   quantity,
		Payment:    payment,
		TokensSold: sold,
		At:         ev.At,
	}, nil
}

func (e *Engine) reject(op string, who common.Address, err error) error {
	log.Debugf("%s rejected for %s: %v", op, who.Hex(), err)
	return err
}

type reversal struct {
	ledger   Ledger
	from, to common.Address
	value    amount.Amount
}

// undoStack records compensating transfers, newest last.
type undoStack []reversal

func (u *undoStack) push(l Ledger, from, to common.Address, v amount.Amount) {
	*u = append(*u, reversal{ledger: l, from: from, to: to, value: v})
}

// fail handles a failed transfer leg. A leg that may still complete leaves
// the earlier legs in place, since reversing them could pay out twice.
func (u undoStack) fail(ctx context.Context, op string, err error) error {
	if pending(err) {
		log.Errorf("%s: transfer outcome unknown, keeping %d completed leg(s): %v", op, len(u), err)
		return wrapErr(ErrTransferPending, err)
	}
	u.run(ctx)
	return wrapErr(ErrTransferFailed, err)
}

// run applies the reversals newest first. Failures are logged; there is
// nothing left to roll back to.
func (u undoStack) run(ctx context.Context) {
	for i := len(u) - 1; i >= 0; i-- {
		r := u[i]
		if err := r.ledger.Transfer(ctx, r.from, r.to, r.value); err != nil {
			log.Errorf("compensating transfer %s -> %s of %s failed: %v", r.from.Hex(), r.to.Hex(), r.value.Format(), err)
		}
	}
}
