// Package rpc checks the JSON-RPC node an EVM deployment talks to.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/chain"
)

// ErrWrongChain is returned when a node serves a different chain than the
// deployment was created on.
var ErrWrongChain = errors.New("rpc: node serves a different chain")

const checkTimeout = 5 * time.Second

// Endpoint is the measured state of one node.
type Endpoint struct {
	URL         string
	Latency     time.Duration
	BlockNumber uint64
	ChainID     int64
	Healthy     bool
}

// String renders the endpoint for status output.
func (e Endpoint) String() string {
	if !e.Healthy {
		return e.URL + " (unreachable)"
	}
	return fmt.Sprintf("%s (chain %d, block %d, %dms)", e.URL, e.ChainID, e.BlockNumber, e.Latency.Milliseconds())
}

// HealthCheck pings url and reads its chain ID. wantChainID 0 skips the chain
// comparison; a mismatch returns ErrWrongChain with Healthy false.
func HealthCheck(ctx context.Context, url string, wantChainID int64) (Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	c := chain.NewEVMClient(url)
	ep := Endpoint{URL: url}

	var (
		wg       sync.WaitGroup
		pingErr  error
		chainErr error
		id       int64
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		ep.Latency, ep.BlockNumber, pingErr = c.Ping(ctx)
	}()
	go func() {
		defer wg.Done()
		v, err := c.ChainID(ctx)
		if err != nil {
			chainErr = err
			return
		}
		id = v.Int64()
	}()
	wg.Wait()

	if pingErr != nil {
		return ep, pingErr
	}
	if chainErr != nil {
		return ep, fmt.Errorf("reading chain id: %w", chainErr)
	}
	ep.ChainID = id
	if wantChainID != 0 && id != wantChainID {
		return ep, fmt.Errorf("%w: %s is on chain %d, expected %d", ErrWrongChain, url, id, wantChainID)
	}
	ep.Healthy = true
	return ep, nil
}
