package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ValidationError reports a bad value in a config or params file.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ExampleParams is a complete params file for a local deployment.
const ExampleParams = `token:
  name: Genesis Token
  symbol: GEN
  supply: "10000000"

sale:
  opens_in: 1h              # or opening_time: 2026-03-01T12:00:00Z
  price: "1"                # native coin per whole token
  min_contribution: "1"
  max_contribution: "1000"
  whitelist:
    - "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
    - "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
    - "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"

ledger:
  backend: memory           # memory | evm
  funds:                    # memory only: starting native balances
    "0x70997970C51812dc3A010C7d01b50e0d17dc79C8": "5000"
    "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC": "5000"
  # evm only:
  # token_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  # custodian: "0x90F79bf6EB2c4f870365E785982E1f101E93b906"
  # rpc_url: http://127.0.0.1:8545
  # chain_id: 31337
`

// Resolved is a validated Params with typed values.
type Resolved struct {
	TokenName       string
	TokenSymbol     string
	Supply          amount.Amount
	OpeningTime     time.Time
	Price           amount.Amount
	MinContribution amount.Amount
	MaxContribution amount.Amount
	Whitelist       []common.Address

	Backend      string
	TokenAddress common.Address
	Custodian    common.Address // zero: derive from the owner
	RPCURL       string
	ChainID      int64
	Funds        map[common.Address]amount.Amount
}

// LoadParams reads and parses a params file.
func LoadParams(path string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading params: %w", err)
	}
	return ParseParams(data)
}

// ParseParams parses YAML params. Unknown keys are rejected.
func ParseParams(data []byte) (*Params, error) {
	var p Params
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parsing params: %w", err)
	}
	return &p, nil
}

// ParseAddress accepts a 0x-prefixed 40 hex digit address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, fmt.Errorf("invalid address %q: missing 0x prefix", s)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// Resolve validates p. now anchors opens_in.
func (p *Params) Resolve(now time.Time) (*Resolved, error) {
	r := &Resolved{
		TokenName:   strings.TrimSpace(p.Token.Name),
		TokenSymbol: strings.TrimSpace(p.Token.Symbol),
		Backend:     p.Ledger.Backend,
		RPCURL:      p.Ledger.RPCURL,
		ChainID:     p.Ledger.ChainID,
	}
	if r.TokenName == "" {
		return nil, &ValidationError{Field: "token.name", Message: "is required"}
	}
	if r.TokenSymbol == "" {
		return nil, &ValidationError{Field: "token.symbol", Message: "is required"}
	}

	var err error
	if r.Supply, err = positive("token.supply", p.Token.Supply); err != nil {
		return nil, err
	}

	switch {
	case p.Sale.OpeningTime != "" && p.Sale.OpensIn != "":
		return nil, &ValidationError{Field: "sale.opening_time", Message: "set opening_time or opens_in, not both"}
	case p.Sale.OpeningTime != "":
		t, err := time.Parse(time.RFC3339, p.Sale.OpeningTime)
		if err != nil {
			return nil, &ValidationError{Field: "sale.opening_time", Message: "must be RFC3339, e.g. 2026-03-01T12:00:00Z"}
		}
		r.OpeningTime = t.UTC()
	case p.Sale.OpensIn != "":
		d, err := time.ParseDuration(p.Sale.OpensIn)
		if err != nil {
			return nil, &ValidationError{Field: "sale.opens_in", Message: "must be a duration, e.g. 1h30m"}
		}
		r.OpeningTime = now.Add(d).UTC().Truncate(time.Second)
	default:
		return nil, &ValidationError{Field: "sale.opening_time", Message: "opening_time or opens_in is required"}
	}

	if r.Price, err = positive("sale.price", p.Sale.Price); err != nil {
		return nil, err
	}
	if r.MaxContribution, err = positive("sale.max_contribution", p.Sale.MaxContribution); err != nil {
		return nil, err
	}
	if p.Sale.MinContribution != "" {
		if r.MinContribution, err = amount.Parse(p.Sale.MinContribution); err != nil {
			return nil, &ValidationError{Field: "sale.min_contribution", Message: err.Error()}
		}
	}
	if r.MinContribution.Gt(r.MaxContribution) {
		return nil, &ValidationError{Field: "sale.min_contribution", Message: "must not exceed max_contribution"}
	}

	for i, s := range p.Sale.Whitelist {
		a, err := ParseAddress(s)
		if err != nil {
			return nil, &ValidationError{Field: fmt.Sprintf("sale.whitelist[%d]", i), Message: err.Error()}
		}
		if a == (common.Address{}) {
			return nil, &ValidationError{Field: fmt.Sprintf("sale.whitelist[%d]", i), Message: "zero address"}
		}
		r.Whitelist = append(r.Whitelist, a)
	}

	if r.Backend == "" {
		r.Backend = LedgerMemory
	}
	switch r.Backend {
	case LedgerMemory:
		if p.Ledger.TokenAddress != "" {
			return nil, &ValidationError{Field: "ledger.token_address", Message: "only valid with the evm backend"}
		}
		r.Funds = make(map[common.Address]amount.Amount, len(p.Ledger.Funds))
		for k, v := range p.Ledger.Funds {
			a, err := ParseAddress(k)
			if err != nil {
				return nil, &ValidationError{Field: "ledger.funds", Message: err.Error()}
			}
			if r.Funds[a], err = amount.Parse(v); err != nil {
				return nil, &ValidationError{Field: "ledger.funds." + k, Message: err.Error()}
			}
		}
	case LedgerEVM:
		if len(p.Ledger.Funds) > 0 {
			return nil, &ValidationError{Field: "ledger.funds", Message: "only valid with the memory backend"}
		}
		if r.TokenAddress, err = ParseAddress(p.Ledger.TokenAddress); err != nil {
			return nil, &ValidationError{Field: "ledger.token_address", Message: err.Error()}
		}
		if r.Custodian, err = ParseAddress(p.Ledger.Custodian); err != nil {
			return nil, &ValidationError{Field: "ledger.custodian", Message: "the evm backend needs a signing custodian wallet: " + err.Error()}
		}
	default:
		return nil, &ValidationError{Field: "ledger.backend", Message: fmt.Sprintf("must be %q or %q", LedgerMemory, LedgerEVM)}
	}
	return r, nil
}

func positive(field, s string) (amount.Amount, error) {
	if s == "" {
		return amount.Zero(), &ValidationError{Field: field, Message: "is required"}
	}
	v, err := amount.Parse(s)
	if err != nil {
		return amount.Zero(), &ValidationError{Field: field, Message: err.Error()}
	}
	if v.IsZero() {
		return amount.Zero(), &ValidationError{Field: field, Message: "must be greater than zero"}
	}
	return v, nil
}
