package cmd

import (
	"context"
	"fmt"

	"github.com/Mohsinsiddi/w3ico/internal/config"
	"github.com/Mohsinsiddi/w3ico/internal/store"
	"github.com/Mohsinsiddi/w3ico/internal/ui"
	"github.com/spf13/cobra"
)

var deploymentsCmd = &cobra.Command{
	Use:     "deployments",
	Aliases: []string{"ls"},
	Short:   "List stored sales",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), config.RPCTimeout)
		defer cancel()
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		names, err := st.List(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(names) == 0 {
			fmt.Fprintln(out, ui.Info("No deployments yet."))
			fmt.Fprintln(out, ui.Hint("Create one with: w3ico init <name> --params sale.yaml"))
			return nil
		}

		clock, err := saleClock()
		if err != nil {
			return err
		}
		t := ui.NewTable([]ui.Column{
			{Title: "NAME", Width: 20},
			{Title: "TOKEN", Width: 8},
			{Title: "BACKEND", Width: 8},
			{Title: "PHASE", Width: 10},
			{Title: "SOLD", Width: 34},
			{Title: "DEFAULT", Width: 8},
		})
		for _, name := range names {
			dep, err := st.Load(ctx, name)
			if err != nil {
				log.Warningf("skipping %s: %v", name, err)
				t.AddRow(ui.Row{name, "", "", ui.Err("unreadable")})
				continue
			}
			def := ""
			if name == cfg.DefaultDeployment {
				def = ui.StyleSuccess.Render("✓")
			}
			snap := dep.Sale
			t.AddRow(ui.Row{
				ui.Val(name),
				ui.Token(snap.Config.Token.Symbol),
				dep.Backend,
				ui.Phase(snap.PhaseAt(clock.Now()).String()),
				ui.ProgressBar(snap.State.TokensSold, snap.Config.TotalSupply, 20),
				def,
			})
		}
		fmt.Fprint(out, t.Render())
		fmt.Fprintln(out, ui.Meta(fmt.Sprintf("%d deployment(s) in %s store", len(names), cfg.StoreBackend)))
		return nil
	},
}

var deploymentsUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Select the deployment commands act on by default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if err := store.ValidName(name); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), config.RPCTimeout)
		defer cancel()
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if _, err := st.Load(ctx, name); err != nil {
			return err
		}

		cfg.DefaultDeployment = name
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Success(fmt.Sprintf("Default deployment set to %q.", name)))
		return nil
	},
}

func init() {
	deploymentsCmd.AddCommand(deploymentsUseCmd)
}
