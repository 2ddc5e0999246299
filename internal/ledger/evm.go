package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/Mohsinsiddi/w3ico/internal/chain"
	"github.com/Mohsinsiddi/w3ico/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultReceiptTimeout bounds how long a transfer waits to be mined.
const DefaultReceiptTimeout = 2 * time.Minute

// nativeTransferGas is the intrinsic gas of a plain value transfer.
const nativeTransferGas = 21000

// SignerFunc returns the signer for transactions sent from an address.
type SignerFunc func(from common.Address) (*wallet.Signer, error)

// EVMOption configures an EVM-backed ledger.
type EVMOption func(*transactor)

// WithReceiptTimeout overrides DefaultReceiptTimeout.
func WithReceiptTimeout(d time.Duration) EVMOption {
	return func(t *transactor) { t.timeout = d }
}

// WithChainID pins the chain ID instead of asking the node.
func WithChainID(id *big.Int) EVMOption {
	return func(t *transactor) { t.chainID = id }
}

// transactor signs, broadcasts and waits for transactions on behalf of the
// EVM ledgers.
type transactor struct {
	client  *chain.EVMClient
	signer  SignerFunc
	timeout time.Duration

	mu      sync.Mutex
	chainID *big.Int
}

func newTransactor(client *chain.EVMClient, signer SignerFunc, opts []EVMOption) *transactor {
	t := &transactor{client: client, signer: signer, timeout: DefaultReceiptTimeout}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *transactor) chainIDFor(ctx context.Context) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.chainID != nil {
		return t.chainID, nil
	}
	id, err := t.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting chain id: %w", err)
	}
	t.chainID = id
	return id, nil
}

// send builds, signs and broadcasts a transaction from -> to and blocks until
// it is mined. A gas of 0 means estimate.
func (t *transactor) send(ctx context.Context, from, to common.Address, data []byte, value *big.Int, gas uint64) (common.Hash, error) {
	if t.signer == nil {
		return common.Hash{}, fmt.Errorf("no signer configured for %s", from.Hex())
	}
	s, err := t.signer(from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("signer for %s: %w", from.Hex(), err)
	}
	chainID, err := t.chainIDFor(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	fees, err := t.client.SuggestFees(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("getting fees: %w", err)
	}
	nonce, err := t.client.PendingNonce(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("getting nonce: %w", err)
	}
	if gas == 0 {
		gas, err = t.client.EstimateGas(ctx, from, to, data, value)
		if err != nil {
			return common.Hash{}, fmt.Errorf("estimating gas: %w", err)
		}
	}

	var tx *types.Transaction
	if fees.IsEIP1559 {
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: fees.TipCap,
			GasFeeCap: fees.FeeCap,
			Gas:       gas,
			To:        &to,
			Value:     value,
			Data:      data,
		})
	} else {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fees.GasPrice,
			Gas:      gas,
			To:       &to,
			Value:    value,
			Data:     data,
		})
	}

	raw, err := s.SignTx(tx, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := t.client.SendRawTransaction(ctx, raw)
	if err != nil {
		var rpcErr *chain.RPCError
		if errors.As(err, &rpcErr) {
			return common.Hash{}, fmt.Errorf("broadcasting transaction: %w", err)
		}
		// The node may have taken the transaction before the connection failed.
		hash = crypto.Keccak256Hash(raw)
		return hash, &chain.UnconfirmedError{Hash: hash, Err: fmt.Errorf("broadcasting: %w", err)}
	}
	log.Infof("sent tx %s from %s to %s (nonce %d, gas %d)", hash.Hex(), from.Hex(), to.Hex(), nonce, gas)

	rcpt, err := t.client.WaitForReceipt(ctx, hash, t.timeout)
	if errors.Is(err, chain.ErrUnconfirmed) {
		log.Warningf("tx %s from %s is still pending: %v", hash.Hex(), from.Hex(), err)
		return hash, err
	}
	if err != nil {
		return hash, fmt.Errorf("tx %s: %w", hash.Hex(), err)
	}
	log.Debugf("tx %s mined in block %d, gas used %d", hash.Hex(), rcpt.BlockNumber, rcpt.GasUsed)
	return hash, nil
}

// Native is the chain's native coin as a Ledger.
type Native struct {
	tx *transactor
}

// NewNative creates a native-coin ledger over client.
func NewNative(client *chain.EVMClient, signer SignerFunc, opts ...EVMOption) *Native {
	return &Native{tx: newTransactor(client, signer, opts)}
}

// BalanceOf returns the wei balance of account.
func (n *Native) BalanceOf(ctx context.Context, account common.Address) (amount.Amount, error) {
	b, err := n.tx.client.Balance(ctx, account)
	if err != nil {
		return amount.Zero(), err
	}
	return amount.FromBig(b)
}

// Transfer sends value wei from -> to. Gas is paid by from on top of value.
func (n *Native) Transfer(ctx context.Context, from, to common.Address, value amount.Amount) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if value.IsZero() || from == to {
		return nil
	}
	bal, err := n.BalanceOf(ctx, from)
	if err != nil {
		return err
	}
	if bal.Lt(value) {
		return fmt.Errorf("%w: %s holds %s wei, needs %s", ErrInsufficientBalance, from.Hex(), bal, value)
	}
	_, err = n.tx.send(ctx, from, to, nil, value.Big(), nativeTransferGas)
	return err
}
