package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/config"
	"github.com/Mohsinsiddi/w3ico/internal/sale"
	"github.com/Mohsinsiddi/w3ico/internal/store"
	"github.com/Mohsinsiddi/w3ico/internal/ui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

const watchBackfill = 20

var watchIntervalFlag time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream sale events live",
	Long: `Follow the selected deployment in a live view.

The store is polled every --interval for newly committed events, so
purchases made from other terminals show up as they land. The header
tracks the phase, the price and how much of the supply is sold.

Keyboard controls:
  ↑↓ / j k   navigate rows
  c          copy the selected event id
  q          quit`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchIntervalFlag <= 0 {
			return fmt.Errorf("--interval must be positive, got %s", watchIntervalFlag)
		}
		ctx, cancel := commandContext()
		s, err := openSession(ctx)
		cancel()
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		sym, native := s.symbols()
		m := ui.NewWatchModel(s.name, sym, native)
		prog := tea.NewProgram(m, tea.WithInput(cmd.InOrStdin()), tea.WithOutput(cmd.OutOrStdout()))

		after := s.engine.Sequence() - watchBackfill
		if after < 0 {
			after = 0
		}
		pollCtx, stop := context.WithCancel(context.Background())
		defer stop()
		go func() {
			ticker := time.NewTicker(watchIntervalFlag)
			defer ticker.Stop()
			for {
				prog.Send(ui.WatchStatusMsg{Polling: true})
				status, events, next := pollSale(pollCtx, s.store, s.name, after, s.clock)
				if len(events) > 0 {
					prog.Send(ui.WatchEventsMsg(events))
				}
				prog.Send(status)
				after = next
				select {
				case <-pollCtx.Done():
					return
				case <-ticker.C:
				}
			}
		}()

		_, err = prog.Run()
		return err
	},
}

// pollSale reloads the deployment and reads the events committed after
// after. The returned sequence is where the next poll should resume.
func pollSale(ctx context.Context, st store.Store, name string, after int64, clock sale.Clock) (ui.WatchStatusMsg, []sale.Event, int64) {
	ctx, cancel := context.WithTimeout(ctx, config.RPCTimeout)
	defer cancel()

	dep, err := st.Load(ctx, name)
	if err != nil {
		log.Warningf("watch %s: %v", name, err)
		return ui.WatchStatusMsg{Err: err.Error()}, nil, after
	}
	events, err := st.Events(ctx, name, after)
	if err != nil {
		log.Warningf("watch %s: %v", name, err)
		return ui.WatchStatusMsg{Err: err.Error()}, nil, after
	}
	if n := len(events); n > 0 {
		after = events[n-1].Seq
	}
	snap := dep.Sale
	return ui.WatchStatusMsg{
		Phase:      snap.PhaseAt(clock.Now()).String(),
		TokensSold: snap.State.TokensSold,
		MaxTokens:  snap.Config.TotalSupply,
		Price:      snap.Config.Price,
	}, events, after
}

func init() {
	watchCmd.Flags().DurationVar(&watchIntervalFlag, "interval", 2*time.Second, "how often to poll the store")
}
