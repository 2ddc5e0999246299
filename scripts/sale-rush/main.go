// sale-rush: races a crowd of whitelisted buyers into an in-memory sale whose
// supply is smaller than the demand, then prints who got in and whether the
// books still balance.
//
// Run from the module root:
//
//	go run ./scripts/sale-rush
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/Mohsinsiddi/w3ico/internal/ledger"
	"github.com/Mohsinsiddi/w3ico/internal/sale"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ── config ────────────────────────────────────────────────────────────────────

const (
	buyers = 40
	supply = 100 // whole tokens
	price  = "0.01"
)

var owner = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

// ── types ─────────────────────────────────────────────────────────────────────

type result struct {
	buyer    common.Address
	quantity amount.Amount
	latency  time.Duration
	err      string
}

// ── main ──────────────────────────────────────────────────────────────────────

func main() {
	ctx := context.Background()
	opening := time.Now().UTC()
	custodian := crypto.CreateAddress(owner, 0)

	tokens := ledger.NewMemory("Rush Token", "RUSH")
	native := ledger.NewMemory("Ether", "ETH")
	must(tokens.Mint(custodian, amount.Whole(supply)))

	crowd := make([]common.Address, buyers)
	for i := range crowd {
		crowd[i] = crypto.CreateAddress(owner, uint64(i+1))
		must(native.Mint(crowd[i], amount.Whole(1)))
	}

	eng, err := sale.New(sale.Config{
		Token:           sale.TokenInfo{Name: "Rush Token", Symbol: "RUSH", Decimals: amount.Decimals},
		Owner:           owner,
		Custodian:       custodian,
		Price:           amount.MustParse(price),
		OpeningTime:     opening,
		MinContribution: amount.MustParse("0.01"),
		MaxContribution: amount.MustParse("0.05"),
		TotalSupply:     amount.Whole(supply),
	}, tokens, native)
	if err != nil {
		fail(err)
	}
	if _, err := eng.AddToWhitelist(ctx, owner, crowd); err != nil {
		fail(err)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []result
	)

	for i, buyer := range crowd {
		wg.Add(1)
		go func(buyer common.Address, want uint64) {
			defer wg.Done()

			r := result{buyer: buyer}
			qty := amount.Whole(want)
			start := time.Now()
			pay, err := eng.Quote(qty)
			if err == nil {
				_, err = eng.BuyTokens(ctx, buyer, qty, pay)
			}
			r.latency = time.Since(start)
			if err != nil {
				r.err = sale.Kind(err)
			} else {
				r.quantity = qty
			}

			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}(buyer, uint64(1+i%5))
	}

	wg.Wait()

	printTable(results)
	os.Exit(printSummary(ctx, eng, tokens, native, crowd))
}

// ── output ────────────────────────────────────────────────────────────────────

func printTable(results []result) {
	// Winners first, then by address.
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if (a.err == "") != (b.err == "") {
			return a.err == ""
		}
		return a.buyer.Hex() < b.buyer.Hex()
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "BUYER\tBOUGHT\tLATENCY\tNOTE")
	fmt.Fprintln(w, strings.Repeat("-", 14)+"\t"+
		strings.Repeat("-", 8)+"\t"+
		strings.Repeat("-", 10)+"\t"+
		strings.Repeat("-", 22))

	for _, r := range results {
		bought := "—"
		if r.err == "" {
			bought = r.quantity.Format()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			shortAddr(r.buyer.Hex()), bought, r.latency.Round(time.Microsecond), r.err)
	}
	w.Flush()
}

// printSummary checks conservation across both ledgers and returns the exit
// status.
func printSummary(ctx context.Context, eng *sale.Engine, tokens, native *ledger.Memory, crowd []common.Address) int {
	held := amount.Zero()
	for _, b := range crowd {
		bal, err := tokens.BalanceOf(ctx, b)
		must(err)
		held = mustAdd(held, bal)
	}
	custody, err := tokens.BalanceOf(ctx, eng.Custodian())
	must(err)

	fmt.Println()
	fmt.Printf("sold %s of %s RUSH, custodian holds %s, %s ETH custodied\n",
		eng.TokensSold().Format(), eng.MaxTokens().Format(), custody.Format(), eng.CustodiedPayment().Format())

	if !held.Eq(eng.TokensSold()) || !mustAdd(held, custody).Eq(tokens.TotalSupply()) {
		fmt.Println("MISMATCH: token balances do not add up")
		return 1
	}
	paid, err := native.BalanceOf(ctx, eng.Custodian())
	must(err)
	if !paid.Eq(eng.CustodiedPayment()) {
		fmt.Println("MISMATCH: custodied payment does not match the custodian's balance")
		return 1
	}
	fmt.Println("books balance")
	return 0
}

// ── helpers ───────────────────────────────────────────────────────────────────

func shortAddr(addr string) string {
	if len(addr) < 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

func mustAdd(a, b amount.Amount) amount.Amount {
	v, err := a.Add(b)
	must(err)
	return v
}

func must(err error) {
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "sale-rush:", err)
	os.Exit(1)
}
