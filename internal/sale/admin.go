package sale

import (
	"context"
	"fmt"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/ethereum/go-ethereum/common"
)

func (e *Engine) authorize(op string, caller common.Address) error {
	if caller != e.cfg.Owner {
		return e.reject(op, caller, fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex()))
	}
	return nil
}

// AddToWhitelist marks accounts eligible to buy. Already-whitelisted
// accounts are left as they are.
func (e *Engine) AddToWhitelist(ctx context.Context, caller common.Address, accounts []common.Address) ([]common.Address, error) {
	return e.updateWhitelist(ctx, caller, accounts, true)
}

// RemoveFromWhitelist revokes eligibility. Unknown accounts are recorded as
// not whitelisted.
func (e *Engine) RemoveFromWhitelist(ctx context.Context, caller common.Address, accounts []common.Address) ([]common.Address, error) {
	return e.updateWhitelist(ctx, caller, accounts, false)
}

func (e *Engine) updateWhitelist(ctx context.Context, caller common.Address, accounts []common.Address, add bool) ([]common.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	op, kind := "whitelist add", EventWhitelistAdd
	if !add {
		op, kind = "whitelist remove", EventWhitelistRemove
	}
	if err := e.authorize(op, caller); err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, e.reject(op, caller, fmt.Errorf("%w: empty batch", ErrInvalidInput))
	}
	for _, a := range accounts {
		if a == (common.Address{}) {
			return nil, e.reject(op, caller, fmt.Errorf("%w: zero address in batch", ErrInvalidInput))
		}
	}

	list := e.list.Clone()
	var changed []common.Address
	if add {
		changed = list.Add(accounts)
	} else {
		changed = list.Remove(accounts)
	}

	if len(changed) == 0 && len(list.Entries()) == len(e.list.Entries()) {
		log.Debugf("%s: nothing to change", op)
		return changed, nil
	}
	var events []Event
	if len(changed) > 0 {
		ev := newEvent(kind, caller, e.clock.Now())
		ev.Addresses = changed
		events = append(events, ev)
	}
	if err := e.publish(ctx, e.cfg, e.state, list, events); err != nil {
		return nil, err
	}
	log.Infof("%s: %d requested, %d changed", op, len(accounts), len(changed))
	return changed, nil
}

// SetPrice changes the payment for one whole token. It applies to later
// purchases only.
func (e *Engine) SetPrice(ctx context.Context, caller common.Address, price amount.Amount) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.authorize("set price", caller); err != nil {
		return err
	}
	if err := validatePrice(price); err != nil {
		return e.reject("set price", caller, err)
	}
	cfg := e.cfg
	cfg.Price = price
	ev := newEvent(EventPriceChanged, caller, e.clock.Now())
	ev.Value = price
	if err := e.publish(ctx, cfg, e.state, e.list, []Event{ev}); err != nil {
		return err
	}
	log.Infof("price set to %s", price.Format())
	return nil
}

// SetMinContribution changes the smallest accepted payment.
func (e *Engine) SetMinContribution(ctx context.Context, caller common.Address, v amount.Amount) error {
	return e.setBound(ctx, caller, v, true)
}

// SetMaxContribution changes the largest accepted payment.
func (e *Engine) SetMaxContribution(ctx context.Context, caller common.Address, v amount.Amount) error {
	return e.setBound(ctx, caller, v, false)
}

func (e *Engine) setBound(ctx context.Context, caller common.Address, v amount.Amount, isMin bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	op, kind := "set max contribution", EventMaxContribution
	if isMin {
		op, kind = "set min contribution", EventMinContribution
	}
	if err := e.authorize(op, caller); err != nil {
		return err
	}
	cfg := e.cfg
	if isMin {
		cfg.MinContribution = v
	} else {
		cfg.MaxContribution = v
	}
	if err := validateBounds(cfg.MinContribution, cfg.MaxContribution); err != nil {
		return e.reject(op, caller, err)
	}
	ev := newEvent(kind, caller, e.clock.Now())
	ev.Value = v
	if err := e.publish(ctx, cfg, e.state, e.list, []Event{ev}); err != nil {
		return err
	}
	log.Infof("%s: %s", op, v.Format())
	return nil
}

// TransferOwnership hands the owner role to newOwner.
func (e *Engine) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.authorize("transfer ownership", caller); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return e.reject("transfer ownership", caller, fmt.Errorf("%w: zero address", ErrInvalidInput))
	}
	if newOwner == e.cfg.Custodian {
		return e.reject("transfer ownership", caller, fmt.Errorf("%w: custodian cannot own the sale", ErrInvalidInput))
	}
	cfg := e.cfg
	cfg.Owner = newOwner
	ev := newEvent(EventOwnershipTransferred, caller, e.clock.Now())
	ev.Account = newOwner
	if err := e.publish(ctx, cfg, e.state, e.list, []Event{ev}); err != nil {
		return err
	}
	log.Infof("ownership transferred %s -> %s", caller.Hex(), newOwner.Hex())
	return nil
}

// Finalize closes the sale: the unsold tokens and all custodied payment go
// to the owner. It can only succeed once.
func (e *Engine) Finalize(ctx context.Context, caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.authorize("finalize", caller); err != nil {
		return err
	}
	if e.state.Finalized {
		return e.reject("finalize", caller, ErrAlreadyFinalized)
	}

	owner, custodian := e.cfg.Owner, e.cfg.Custodian
	remaining, err := e.tokens.BalanceOf(ctx, custodian)
	if err != nil {
		return fmt.Errorf("reading custodial balance: %w", err)
	}
	payment := e.state.CustodiedPayment

	var undo undoStack
	if !remaining.IsZero() {
		if err := e.tokens.Transfer(ctx, custodian, owner, remaining); err != nil {
			return undo.fail(ctx, "finalize", err)
		}
		undo.push(e.tokens, owner, custodian, remaining)
	}
	if !payment.IsZero() {
		if err := e.payments.Transfer(ctx, custodian, owner, payment); err != nil {
			return undo.fail(ctx, "finalize", err)
		}
		undo.push(e.payments, owner, custodian, payment)
	}

	now := e.clock.Now()
	state := e.state
	state.CustodiedPayment = amount.Zero()
	state.Finalized = true
	state.FinalizedAt = now.UTC()

	ev := newEvent(EventFinalize, caller, now)
	ev.Account = owner
	ev.Quantity = e.state.TokensSold
	ev.Payment = payment
	ev.Value = remaining
	if err := e.publish(ctx, e.cfg, state, e.list, []Event{ev}); err != nil {
		undo.run(ctx)
		log.Errorf("finalize rolled back: %v", err)
		return err
	}
	log.Infof("finalized: sold %s, swept %s tokens and %s payment to %s",
		e.state.TokensSold.Format(), remaining.Format(), payment.Format(), owner.Hex())
	return nil
}
