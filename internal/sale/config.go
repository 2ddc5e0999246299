package sale

import (
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/ethereum/go-ethereum/common"
)

// TokenInfo describes the token being sold.
type TokenInfo struct {
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	Address  common.Address `json:"address"`
}

// Config holds the sale parameters.
//
// Price is the payment, in base units of the native coin, for one whole token
// (10^18 token base units). Token, Custodian, OpeningTime and TotalSupply are
// fixed at construction; Owner changes only through TransferOwnership and
// Price/MinContribution/MaxContribution through the owner setters.
type Config struct {
	Token           TokenInfo      `json:"token"`
	Owner           common.Address `json:"owner"`
	Custodian       common.Address `json:"custodian"`
	Price           amount.Amount  `json:"price"`
	OpeningTime     time.Time      `json:"opening_time"`
	MinContribution amount.Amount  `json:"min_contribution"`
	MaxContribution amount.Amount  `json:"max_contribution"`
	TotalSupply     amount.Amount  `json:"total_supply"`
}

// Validate checks the construction-time invariants.
func (c Config) Validate() error {
	if c.Owner == (common.Address{}) {
		return ConfigError{Field: "owner", Message: "must not be the zero address"}
	}
	if c.Custodian == (common.Address{}) {
		return ConfigError{Field: "custodian", Message: "must not be the zero address"}
	}
	if c.Custodian == c.Owner {
		return ConfigError{Field: "custodian", Message: "must differ from the owner"}
	}
	if c.OpeningTime.IsZero() {
		return ConfigError{Field: "opening_time", Message: "must be set"}
	}
	if c.TotalSupply.IsZero() {
		return ConfigError{Field: "total_supply", Message: "must be greater than zero"}
	}
	if err := validatePrice(c.Price); err != nil {
		return err
	}
	return validateBounds(c.MinContribution, c.MaxContribution)
}

func validatePrice(p amount.Amount) error {
	if p.IsZero() {
		return ConfigError{Field: "price", Message: "must be greater than zero"}
	}
	return nil
}

func validateBounds(min, max amount.Amount) error {
	if max.IsZero() {
		return ConfigError{Field: "max_contribution", Message: "must be greater than zero"}
	}
	if min.Gt(max) {
		return ConfigError{
			Field:   "min_contribution",
			Message: "min " + min.Format() + " exceeds max " + max.Format(),
		}
	}
	return nil
}

// State is the mutable bookkeeping of a sale.
type State struct {
	TokensSold       amount.Amount `json:"tokens_sold"`
	CustodiedPayment amount.Amount `json:"custodied_payment"`
	Finalized        bool          `json:"finalized"`
	FinalizedAt      time.Time     `json:"finalized_at,omitempty"`
}
