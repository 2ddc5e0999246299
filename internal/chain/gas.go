package chain

import (
	"context"
	"encoding/json"
	"math/big"
)

// DefaultTip is the priority fee used when the node offers no suggestion.
var DefaultTip = big.NewInt(1_500_000_000) // 1.5 gwei

// Fees holds EIP-1559 fee parameters for a new transaction.
type Fees struct {
	BaseFee   *big.Int // nil on legacy chains
	TipCap    *big.Int
	FeeCap    *big.Int
	GasPrice  *big.Int
	IsEIP1559 bool
}

// SuggestFees reads the gas price and the latest base fee and derives a
// tip/fee cap pair: feeCap = 2*baseFee + tip. On chains without a base fee
// both caps fall back to the legacy gas price.
func (c *EVMClient) SuggestFees(ctx context.Context) (*Fees, error) {
	gp, err := c.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	fees := &Fees{GasPrice: gp, TipCap: gp, FeeCap: gp}

	blockResult, err := c.call(ctx, "eth_getBlockByNumber", "latest", false)
	if err != nil || blockResult == nil {
		return fees, nil
	}
	raw, _ := json.Marshal(blockResult)
	var rb struct {
		BaseFeePerGas string `json:"baseFeePerGas"`
	}
	if json.Unmarshal(raw, &rb) != nil || rb.BaseFeePerGas == "" {
		return fees, nil
	}
	bf, ok := parseBigHex(rb.BaseFeePerGas)
	if !ok {
		return fees, nil
	}

	tip := new(big.Int).Sub(gp, bf)
	if tip.Sign() <= 0 {
		tip = new(big.Int).Set(DefaultTip)
	}
	fees.BaseFee = bf
	fees.TipCap = tip
	fees.FeeCap = new(big.Int).Add(new(big.Int).Mul(bf, big.NewInt(2)), tip)
	fees.IsEIP1559 = true
	return fees, nil
}

// WeiToGwei converts a Wei value to Gwei as float64.
func WeiToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(wei),
		new(big.Float).SetFloat64(1e9),
	).Float64()
	return f
}
