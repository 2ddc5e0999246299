package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/Mohsinsiddi/w3ico/internal/chain"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// ERC-20 function signatures used by the token ledger.
const (
	sigName        = "name()"
	sigSymbol      = "symbol()"
	sigDecimals    = "decimals()"
	sigTotalSupply = "totalSupply()"
	sigBalanceOf   = "balanceOf(address)"
	sigTransfer    = "transfer(address,uint256)"
)

var (
	addressType, _ = abi.NewType("address", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	uint8Type, _   = abi.NewType("uint8", "", nil)
	stringType, _  = abi.NewType("string", "", nil)
)

// ERC20 is a deployed ERC-20 token contract as a Ledger.
type ERC20 struct {
	tx    *transactor
	token common.Address
}

// TokenMetadata is what an ERC-20 contract reports about itself.
type TokenMetadata struct {
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply amount.Amount
}

// NewERC20 creates a token ledger for the contract at token.
func NewERC20(client *chain.EVMClient, token common.Address, signer SignerFunc, opts ...EVMOption) *ERC20 {
	return &ERC20{tx: newTransactor(client, signer, opts), token: token}
}

// Address returns the token contract address.
func (e *ERC20) Address() common.Address { return e.token }

// BalanceOf calls balanceOf(account).
func (e *ERC20) BalanceOf(ctx context.Context, account common.Address) (amount.Amount, error) {
	out, err := e.call(ctx, sigBalanceOf, abi.Arguments{{Type: uint256Type}}, abi.Arguments{{Type: addressType}}, account)
	if err != nil {
		return amount.Zero(), err
	}
	return amount.FromBig(out.(*big.Int))
}

// Transfer sends transfer(to, value) signed by from and waits for it to be
// mined. A reverted receipt is an error.
func (e *ERC20) Transfer(ctx context.Context, from, to common.Address, value amount.Amount) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if value.IsZero() || from == to {
		return nil
	}
	bal, err := e.BalanceOf(ctx, from)
	if err != nil {
		return err
	}
	if bal.Lt(value) {
		return fmt.Errorf("%w: %s holds %s units, needs %s", ErrInsufficientBalance, from.Hex(), bal, value)
	}
	data, err := encodeCall(sigTransfer, abi.Arguments{{Type: addressType}, {Type: uint256Type}}, to, value.Big())
	if err != nil {
		return err
	}
	_, err = e.tx.send(ctx, from, e.token, data, big.NewInt(0), 0)
	return err
}

// Metadata reads name, symbol, decimals and totalSupply.
func (e *ERC20) Metadata(ctx context.Context) (*TokenMetadata, error) {
	name, err := e.call(ctx, sigName, abi.Arguments{{Type: stringType}}, nil)
	if err != nil {
		return nil, err
	}
	symbol, err := e.call(ctx, sigSymbol, abi.Arguments{{Type: stringType}}, nil)
	if err != nil {
		return nil, err
	}
	decimals, err := e.call(ctx, sigDecimals, abi.Arguments{{Type: uint8Type}}, nil)
	if err != nil {
		return nil, err
	}
	supply, err := e.call(ctx, sigTotalSupply, abi.Arguments{{Type: uint256Type}}, nil)
	if err != nil {
		return nil, err
	}
	total, err := amount.FromBig(supply.(*big.Int))
	if err != nil {
		return nil, err
	}
	return &TokenMetadata{
		Name:        name.(string),
		Symbol:      symbol.(string),
		Decimals:    decimals.(uint8),
		TotalSupply: total,
	}, nil
}

// call runs a single-output view function via eth_call.
func (e *ERC20) call(ctx context.Context, sig string, outputs, inputs abi.Arguments, args ...interface{}) (interface{}, error) {
	data, err := encodeCall(sig, inputs, args...)
	if err != nil {
		return nil, err
	}
	raw, err := e.tx.client.Call(ctx, e.token, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", sig, err)
	}
	vals, err := outputs.Unpack(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", sig, err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("decoding %s: expected 1 value, got %d", sig, len(vals))
	}
	return vals[0], nil
}

// encodeCall builds calldata: 4-byte selector + ABI-encoded args.
func encodeCall(sig string, inputs abi.Arguments, args ...interface{}) ([]byte, error) {
	packed, err := inputs.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", sig, err)
	}
	return append(selector(sig), packed...), nil
}

// selector returns the first 4 bytes of keccak256(sig).
func selector(sig string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(sig))
	return h.Sum(nil)[:4]
}
