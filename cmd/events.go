package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Mohsinsiddi/w3ico/internal/audit"
	"github.com/Mohsinsiddi/w3ico/internal/sale"
	"github.com/Mohsinsiddi/w3ico/internal/ui"
	"github.com/spf13/cobra"
)

var (
	eventsAfterFlag int64
	eventsKindFlag  string
	eventsLimitFlag int
	eventsJSONFlag  bool
	eventsCIDFlag   bool
	eventsVerify    string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the sale's event log",
	Long: `List the recorded events of the selected deployment, oldest first.

Every committed purchase, whitelist change, setting change and the final
sweep is recorded with a sequence number.

Examples:
  w3ico events
  w3ico events --after 12
  w3ico events --kind purchase --limit 20
  w3ico events --json
  w3ico events --cid                 # fingerprint of the whole log
  w3ico events --verify bafkrei...   # compare against a saved fingerprint`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		out := cmd.OutOrStdout()
		if eventsCIDFlag || eventsVerify != "" {
			return printLogCID(ctx, out, s)
		}

		events, err := s.store.Events(ctx, s.name, eventsAfterFlag)
		if err != nil {
			return err
		}
		events = filterEvents(events, sale.EventKind(eventsKindFlag), eventsLimitFlag)

		if eventsJSONFlag {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if events == nil {
				events = []sale.Event{}
			}
			return enc.Encode(events)
		}
		if len(events) == 0 {
			fmt.Fprintln(out, ui.Info("No events recorded."))
			return nil
		}
		sym, native := s.symbols()
		fmt.Fprint(out, ui.EventTable(events, sym, native))
		fmt.Fprintln(out, ui.Meta(fmt.Sprintf("%d event(s)", len(events))))
		return nil
	},
}

// printLogCID fingerprints the whole log, or checks it against --verify.
func printLogCID(ctx context.Context, out io.Writer, s *session) error {
	all, err := s.store.Events(ctx, s.name, 0)
	if err != nil {
		return err
	}
	if eventsVerify == "" {
		c, err := audit.LogCID(all)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, c.String())
		return nil
	}
	ok, err := audit.Verify(all, eventsVerify)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("event log of %s (%d events) does not match %s", s.name, len(all), eventsVerify)
	}
	fmt.Fprintln(out, ui.Success(fmt.Sprintf("Event log of %s matches (%d events)", s.name, len(all))))
	return nil
}

// filterEvents keeps events of kind (all when empty) and then the last
// limit of them (all when limit <= 0).
func filterEvents(events []sale.Event, kind sale.EventKind, limit int) []sale.Event {
	if kind != "" {
		kept := events[:0:0]
		for _, ev := range events {
			if ev.Kind == kind {
				kept = append(kept, ev)
			}
		}
		events = kept
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events
}

func init() {
	eventsCmd.Flags().Int64Var(&eventsAfterFlag, "after", 0, "only events with a sequence number above this")
	eventsCmd.Flags().StringVar(&eventsKindFlag, "kind", "", "only events of this kind (e.g. purchase, finalize)")
	eventsCmd.Flags().IntVarP(&eventsLimitFlag, "limit", "n", 0, "show only the last n events")
	eventsCmd.Flags().BoolVar(&eventsJSONFlag, "json", false, "print events as JSON")
	eventsCmd.Flags().BoolVar(&eventsCIDFlag, "cid", false, "print the content ID of the whole event log")
	eventsCmd.Flags().StringVar(&eventsVerify, "verify", "", "check the event log against a content ID")
}
