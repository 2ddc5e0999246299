package cmd

import (
	"fmt"

	"github.com/Mohsinsiddi/w3ico/internal/rpc"
	"github.com/Mohsinsiddi/w3ico/internal/store"
	"github.com/Mohsinsiddi/w3ico/internal/ui"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sale's parameters, phase and progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		eng := s.engine
		c := eng.Config()
		st := eng.State()
		sym, native := s.symbols()

		inventory := "unavailable"
		if inv, err := eng.Inventory(ctx); err == nil {
			inventory = inv.Format() + " " + sym
		} else {
			log.Warningf("reading inventory: %v", err)
		}

		pairs := [][2]string{
			{"Deployment", s.name + " (" + s.deployment().Backend + ")"},
			{"Token", fmt.Sprintf("%s (%s)", c.Token.Name, c.Token.Symbol)},
			{"Phase", ui.Phase(eng.Phase().String())},
			{"Opens", c.OpeningTime.Format("2006-01-02 15:04:05 MST")},
			{"Price", fmt.Sprintf("%s %s per %s", c.Price.Format(), native, sym)},
			{"Contribution", fmt.Sprintf("%s … %s %s", c.MinContribution.Format(), c.MaxContribution.Format(), native)},
			{"Sold", fmt.Sprintf("%s / %s %s", st.TokensSold.Format(), c.TotalSupply.Format(), sym)},
			{"Progress", ui.ProgressBar(st.TokensSold, c.TotalSupply, 24)},
			{"Inventory", inventory},
			{"Custodied payment", st.CustodiedPayment.Format() + " " + native},
			{"Whitelisted", fmt.Sprintf("%d", countWhitelisted(s))},
			{"Owner", c.Owner.Hex()},
			{"Custodian", c.Custodian.Hex()},
			{"Events", fmt.Sprintf("%d", eng.Sequence())},
		}
		if c.Token.Address != (common.Address{}) {
			pairs = append(pairs, [2]string{"Token contract", c.Token.Address.Hex()})
		}
		if dep := s.deployment(); dep.Backend == store.BackendEVM {
			ep, err := rpc.HealthCheck(ctx, dep.RPCURL, dep.ChainID)
			node := ep.String()
			if err != nil {
				log.Warningf("node check: %v", err)
				node = ui.Err(err.Error())
			}
			pairs = append(pairs, [2]string{"Node", node})
		}
		if st.Finalized {
			pairs = append(pairs, [2]string{"Finalized", st.FinalizedAt.Format("2006-01-02 15:04:05 MST")})
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.KeyValueBlock("Sale", pairs))
		return nil
	},
}

func countWhitelisted(s *session) int {
	n := 0
	for _, e := range s.engine.Whitelist() {
		if e.Whitelisted {
			n++
		}
	}
	return n
}
