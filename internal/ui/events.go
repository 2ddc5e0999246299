package ui

import (
	"fmt"

	"github.com/Mohsinsiddi/w3ico/internal/sale"
)

// EventSummary is a one-line human description of a sale event. symbol is
// the sale token's symbol, native the payment currency's.
func EventSummary(ev sale.Event, symbol, native string) string {
	switch ev.Kind {
	case sale.EventPurchase:
		return fmt.Sprintf("%s bought %s %s for %s %s",
			TruncateAddr(ev.Account.Hex()), ev.Quantity.Format(), symbol, ev.Payment.Format(), native)
	case sale.EventFinalize:
		return fmt.Sprintf("finalized: %s %s sold, %s %s swept, %s %s unsold returned",
			ev.Quantity.Format(), symbol, ev.Payment.Format(), native, ev.Value.Format(), symbol)
	case sale.EventWhitelistAdd:
		return fmt.Sprintf("whitelisted %s", plural(len(ev.Addresses), "address", "addresses"))
	case sale.EventWhitelistRemove:
		return fmt.Sprintf("removed %s from whitelist", plural(len(ev.Addresses), "address", "addresses"))
	case sale.EventPriceChanged:
		return fmt.Sprintf("price set to %s %s per %s", ev.Value.Format(), native, symbol)
	case sale.EventMinContribution:
		return fmt.Sprintf("minimum contribution set to %s %s", ev.Value.Format(), native)
	case sale.EventMaxContribution:
		return fmt.Sprintf("maximum contribution set to %s %s", ev.Value.Format(), native)
	case sale.EventOwnershipTransferred:
		return fmt.Sprintf("ownership transferred to %s", ev.Account.Hex())
	}
	return string(ev.Kind)
}

// eventStyle picks the colour for an event kind in lists.
func eventStyle(k sale.EventKind) func(...string) string {
	switch k {
	case sale.EventPurchase:
		return StyleSuccess.Render
	case sale.EventFinalize:
		return StyleError.Render
	case sale.EventWhitelistAdd, sale.EventWhitelistRemove:
		return StyleInfo.Render
	}
	return StyleWarning.Render
}

// EventTable renders events oldest first.
func EventTable(events []sale.Event, symbol, native string) string {
	t := NewTable([]Column{
		{Title: "SEQ", Width: 5},
		{Title: "TIME", Width: 20},
		{Title: "KIND", Width: 24},
		{Title: "DETAIL", Width: 72},
	})
	for _, ev := range events {
		t.AddRow(Row{
			fmt.Sprintf("%d", ev.Seq),
			ev.At.Format("2006-01-02 15:04:05"),
			eventStyle(ev.Kind)(string(ev.Kind)),
			EventSummary(ev, symbol, native),
		})
	}
	return t.Render()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}
