package config

// Config holds all w3ico CLI configuration.
type Config struct {
	DefaultDeployment string `json:"default_deployment"`
	DefaultWallet     string `json:"default_wallet"`
	StoreBackend      string `json:"store_backend"` // "json" | "sqlite"
	LogLevel          string `json:"log_level"`
	RPCURL            string `json:"rpc_url"`
	ChainID           int64  `json:"chain_id"`

	// internal: config dir path used for Save()
	configDir string
}

// Params is a deployment parameter file, as read by `w3ico init --params`.
type Params struct {
	Token  TokenParams  `yaml:"token"`
	Sale   SaleParams   `yaml:"sale"`
	Ledger LedgerParams `yaml:"ledger"`
}

// TokenParams describes the token put up for sale. Supply is in whole tokens.
type TokenParams struct {
	Name   string `yaml:"name"`
	Symbol string `yaml:"symbol"`
	Supply string `yaml:"supply"`
}

// SaleParams holds the sale terms. Amounts are decimal whole units
// ("0.5" = half a token or half a coin). Exactly one of OpeningTime
// (RFC3339) and OpensIn (Go duration, relative to init) is set.
type SaleParams struct {
	OpeningTime     string   `yaml:"opening_time"`
	OpensIn         string   `yaml:"opens_in"`
	Price           string   `yaml:"price"`
	MinContribution string   `yaml:"min_contribution"`
	MaxContribution string   `yaml:"max_contribution"`
	Whitelist       []string `yaml:"whitelist"`
}

// LedgerParams selects where tokens and payments live.
type LedgerParams struct {
	Backend      string            `yaml:"backend"` // "memory" | "evm"
	TokenAddress string            `yaml:"token_address"`
	Custodian    string            `yaml:"custodian"`
	RPCURL       string            `yaml:"rpc_url"`
	ChainID      int64             `yaml:"chain_id"`
	Funds        map[string]string `yaml:"funds"` // memory backend: initial native balances
}
