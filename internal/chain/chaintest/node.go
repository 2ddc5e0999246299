// Package chaintest runs an in-process JSON-RPC node for tests of code that
// talks to an EVM chain.
package chaintest

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Mohsinsiddi/w3ico/internal/chain"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// DefaultToken is where the node's single ERC-20 contract lives unless
// NewNode is given another address.
var DefaultToken = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

var (
	addressType, _ = abi.NewType("address", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	uint8Type, _   = abi.NewType("uint8", "", nil)
	stringType, _  = abi.NewType("string", "", nil)
)

func selector(sig string) []byte { return crypto.Keccak256([]byte(sig))[:4] }

// Node holds native balances and one ERC-20 token's balances. Signed
// transactions are applied as soon as they are received unless Hold keeps
// them back. Lock Mu before touching the maps while the node is serving.
type Node struct {
	Mu      sync.Mutex
	ChainID *big.Int
	Legacy  bool // no baseFeePerGas: clients must fall back to legacy txs
	Revert  bool // mine every tx with status 0 and apply nothing
	// Hold, when it returns true, accepts a tx without mining it: the
	// nonce advances but no receipt exists until Mine is called.
	Hold func(tx *types.Transaction) bool

	Token       common.Address
	TokenName   string
	TokenSymbol string

	Native map[common.Address]*big.Int
	Tokens map[common.Address]*big.Int
	Sent   []*types.Transaction

	URL string

	t        *testing.T
	receipts map[common.Hash]bool
	held     []*types.Transaction
}

// NewNode starts a node serving the GEN token at token (DefaultToken when
// zero). It stops when the test ends.
func NewNode(t *testing.T, token common.Address) *Node {
	t.Helper()
	if token == (common.Address{}) {
		token = DefaultToken
	}
	n := &Node{
		ChainID:     big.NewInt(31337),
		Token:       token,
		TokenName:   "Genesis Token",
		TokenSymbol: "GEN",
		Native:      make(map[common.Address]*big.Int),
		Tokens:      make(map[common.Address]*big.Int),
		t:           t,
		receipts:    make(map[common.Hash]bool),
	}
	srv := httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(srv.Close)
	n.URL = srv.URL
	return n
}

// Client returns an EVM client pointed at the node.
func (n *Node) Client() *chain.EVMClient { return chain.NewEVMClient(n.URL) }

// Fund sets native and token balances of account.
func (n *Node) Fund(account common.Address, native, tokens *big.Int) {
	n.Mu.Lock()
	defer n.Mu.Unlock()
	if native != nil {
		n.Native[account] = new(big.Int).Set(native)
	}
	if tokens != nil {
		n.Tokens[account] = new(big.Int).Set(tokens)
	}
}

// NativeOf returns the native balance of account.
func (n *Node) NativeOf(account common.Address) *big.Int {
	n.Mu.Lock()
	defer n.Mu.Unlock()
	return new(big.Int).Set(bigOr0(n.Native[account]))
}

// TokensOf returns the token balance of account.
func (n *Node) TokensOf(account common.Address) *big.Int {
	n.Mu.Lock()
	defer n.Mu.Unlock()
	return new(big.Int).Set(bigOr0(n.Tokens[account]))
}

// SentCount returns how many transactions the node received.
func (n *Node) SentCount() int {
	n.Mu.Lock()
	defer n.Mu.Unlock()
	return len(n.Sent)
}

func (n *Node) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
		ID     int               `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	n.Mu.Lock()
	result, rpcErr := n.handle(req.Method, req.Params)
	n.Mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != "" {
		resp["error"] = map[string]interface{}{"code": -32000, "message": rpcErr}
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp) //nolint:errcheck
}

func (n *Node) handle(method string, params []json.RawMessage) (interface{}, string) {
	switch method {
	case "eth_chainId":
		return hexutil.EncodeBig(n.ChainID), ""
	case "eth_gasPrice":
		return "0x3b9aca00", ""
	case "eth_blockNumber":
		return "0x10", ""
	case "eth_getBlockByNumber":
		if n.Legacy {
			return map[string]string{"number": "0x10"}, ""
		}
		return map[string]string{"number": "0x10", "baseFeePerGas": "0x3b9aca00"}, ""
	case "eth_getTransactionCount":
		var a common.Address
		require.NoError(n.t, json.Unmarshal(params[0], &a))
		return hexutil.EncodeUint64(n.nonce(a)), ""
	case "eth_estimateGas":
		return "0xea60", ""
	case "eth_getBalance":
		var a common.Address
		require.NoError(n.t, json.Unmarshal(params[0], &a))
		return hexutil.EncodeBig(bigOr0(n.Native[a])), ""
	case "eth_getCode":
		var a common.Address
		require.NoError(n.t, json.Unmarshal(params[0], &a))
		if a == n.Token {
			return "0x6080", ""
		}
		return "0x", ""
	case "eth_call":
		var call struct {
			To   common.Address `json:"to"`
			Data string         `json:"data"`
		}
		require.NoError(n.t, json.Unmarshal(params[0], &call))
		return n.ethCall(call.To, common.FromHex(call.Data))
	case "eth_sendRawTransaction":
		var raw string
		require.NoError(n.t, json.Unmarshal(params[0], &raw))
		return n.apply(common.FromHex(raw))
	case "eth_getTransactionReceipt":
		var h common.Hash
		require.NoError(n.t, json.Unmarshal(params[0], &h))
		ok, found := n.receipts[h]
		if !found {
			return nil, ""
		}
		status := "0x1"
		if !ok {
			status = "0x0"
		}
		return map[string]string{"status": status, "blockNumber": "0x11", "gasUsed": "0x5208"}, ""
	}
	return nil, "method not found: " + method
}

func (n *Node) nonce(a common.Address) uint64 {
	signer := types.LatestSignerForChainID(n.ChainID)
	var count uint64
	for _, tx := range n.Sent {
		if from, err := types.Sender(signer, tx); err == nil && from == a {
			count++
		}
	}
	return count
}

func (n *Node) ethCall(to common.Address, data []byte) (interface{}, string) {
	if to != n.Token || len(data) < 4 {
		return "0x", ""
	}
	pack := func(t abi.Type, v interface{}) (interface{}, string) {
		out, err := abi.Arguments{{Type: t}}.Pack(v)
		require.NoError(n.t, err)
		return hexutil.Encode(out), ""
	}
	switch sel := data[:4]; {
	case bytes.Equal(sel, selector("balanceOf(address)")) && len(data) >= 36:
		return pack(uint256Type, bigOr0(n.Tokens[common.BytesToAddress(data[4:36])]))
	case bytes.Equal(sel, selector("name()")):
		return pack(stringType, n.TokenName)
	case bytes.Equal(sel, selector("symbol()")):
		return pack(stringType, n.TokenSymbol)
	case bytes.Equal(sel, selector("decimals()")):
		return pack(uint8Type, uint8(18))
	case bytes.Equal(sel, selector("totalSupply()")):
		total := new(big.Int)
		for _, v := range n.Tokens {
			total.Add(total, v)
		}
		return pack(uint256Type, total)
	}
	return nil, "execution reverted"
}

func (n *Node) apply(raw []byte) (interface{}, string) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, err.Error()
	}
	from, err := types.Sender(types.LatestSignerForChainID(n.ChainID), &tx)
	if err != nil {
		return nil, err.Error()
	}
	n.Sent = append(n.Sent, &tx)
	if n.Hold != nil && n.Hold(&tx) {
		n.held = append(n.held, &tx)
		return tx.Hash().Hex(), ""
	}
	if msg := n.execute(&tx, from); msg != "" {
		return nil, msg
	}
	return tx.Hash().Hex(), ""
}

// Mine applies the transactions Hold kept back and returns how many there were.
func (n *Node) Mine() int {
	n.Mu.Lock()
	defer n.Mu.Unlock()
	signer := types.LatestSignerForChainID(n.ChainID)
	held := n.held
	n.held = nil
	for _, tx := range held {
		from, err := types.Sender(signer, tx)
		require.NoError(n.t, err)
		n.execute(tx, from)
	}
	return len(held)
}

func (n *Node) execute(tx *types.Transaction, from common.Address) string {
	n.receipts[tx.Hash()] = !n.Revert
	if n.Revert {
		return ""
	}

	if *tx.To() == n.Token {
		if len(tx.Data()) < 4 || !bytes.Equal(tx.Data()[:4], selector("transfer(address,uint256)")) {
			n.receipts[tx.Hash()] = false
			return ""
		}
		args, err := abi.Arguments{{Type: addressType}, {Type: uint256Type}}.Unpack(tx.Data()[4:])
		if err != nil {
			return err.Error()
		}
		to, v := args[0].(common.Address), args[1].(*big.Int)
		if bigOr0(n.Tokens[from]).Cmp(v) < 0 {
			n.receipts[tx.Hash()] = false
			return ""
		}
		n.Tokens[from] = new(big.Int).Sub(bigOr0(n.Tokens[from]), v)
		n.Tokens[to] = new(big.Int).Add(bigOr0(n.Tokens[to]), v)
	} else {
		n.Native[from] = new(big.Int).Sub(bigOr0(n.Native[from]), tx.Value())
		n.Native[*tx.To()] = new(big.Int).Add(bigOr0(n.Native[*tx.To()]), tx.Value())
	}
	return ""
}

func bigOr0(b *big.Int) *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return b
}
