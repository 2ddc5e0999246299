package config

import "time"

// Timeouts for EVM-backed deployments.
const (
	RPCTimeout       = 15 * time.Second // single JSON-RPC round trip
	TxConfirmTimeout = 3 * time.Minute  // transfer confirmation wait
)

// Backends.
const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"

	LedgerMemory = "memory"
	LedgerEVM    = "evm"
)

// Local dev chain defaults (anvil / hardhat node).
const (
	DefaultRPCURL  = "http://127.0.0.1:8545"
	DefaultChainID = int64(31337)
)
