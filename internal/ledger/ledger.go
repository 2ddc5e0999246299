// Package ledger provides the balance books a sale moves value on: an
// in-memory ERC-20 style ledger for local deployments and JSON-RPC backed
// ledgers for a deployed token contract and the chain's native coin.
package ledger

import (
	"errors"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/ethereum/go-ethereum/common"
	logging "github.com/op/go-logging"
)

var log = logging.MustGetLogger("ledger")

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrZeroAddress         = errors.New("ledger: zero address")
)

// Balance is one holder's balance.
type Balance struct {
	Address common.Address `json:"address"`
	Amount  amount.Amount  `json:"amount"`
}

// Snapshot is the persistent form of a Memory ledger.
type Snapshot struct {
	Name        string        `json:"name"`
	Symbol      string        `json:"symbol"`
	Decimals    uint8         `json:"decimals"`
	TotalSupply amount.Amount `json:"total_supply"`
	Balances    []Balance     `json:"balances"`
}
