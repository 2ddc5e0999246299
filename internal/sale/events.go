package sale

import (
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventKind names a recorded sale event.
type EventKind string

// Event kinds.
const (
	EventPurchase             EventKind = "purchase"
	EventFinalize             EventKind = "finalize"
	EventWhitelistAdd         EventKind = "whitelist_add"
	EventWhitelistRemove      EventKind = "whitelist_remove"
	EventPriceChanged         EventKind = "price_changed"
	EventMinContribution      EventKind = "min_contribution_changed"
	EventMaxContribution      EventKind = "max_contribution_changed"
	EventOwnershipTransferred EventKind = "ownership_transferred"
)

// Event is one entry of the sale's append-only audit trail.
//
// Purchase: Account=buyer, Quantity=tokens bought, Payment=payment taken.
// Finalize: Quantity=tokens sold over the sale, Payment=payment swept,
// Value=unsold tokens swept. Whitelist changes list the changed Addresses.
// Price and bound changes carry the new Value; ownership carries the new
// owner in Account.
type Event struct {
	Seq       int64            `json:"seq"`
	ID        string           `json:"id"`
	Kind      EventKind        `json:"kind"`
	At        time.Time        `json:"at"`
	Actor     common.Address   `json:"actor"`
	Account   common.Address   `json:"account"`
	Quantity  amount.Amount    `json:"quantity"`
	Payment   amount.Amount    `json:"payment"`
	Value     amount.Amount    `json:"value"`
	Addresses []common.Address `json:"addresses,omitempty"`
}

// Receipt is returned for a successful purchase.
type Receipt struct {
	ID         string         `json:"id"`
	Buyer      common.Address `json:"buyer"`
	Quantity   amount.Amount  `json:"quantity"`
	Payment    amount.Amount  `json:"payment"`
	TokensSold amount.Amount  `json:"tokens_sold"`
	At         time.Time      `json:"at"`
}

func newEvent(kind EventKind, actor common.Address, at time.Time) Event {
	return Event{
		ID:    uuid.NewString(),
		Kind:  kind,
		At:    at.UTC(),
		Actor: actor,
	}
}
