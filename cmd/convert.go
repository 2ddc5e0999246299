package cmd

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/Mohsinsiddi/w3ico/internal/ui"
	"github.com/spf13/cobra"
)

var gweiPerWhole = amount.New(1_000_000_000)

var convertCmd = &cobra.Command{
	Use:   "convert <amount> [unit]",
	Short: "Convert between whole units, gwei, base units and hex",
	Long: `Convert amounts between the notations used by w3ico.

Sale tokens and the native coin both have 18 decimals, so "eth" and
"token" are the same whole unit. Base units are wei.

Units: eth (or token), gwei, wei (or units), hex
If no unit is given the value is read as whole units, or as hex when it
starts with 0x.

Examples:
  w3ico convert 1.5            # → gwei, wei, hex
  w3ico convert 50 gwei        # → eth, wei
  w3ico convert 1000000000 wei # → eth, gwei
  w3ico convert 0xde0b6b3a7640000`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		unit := ""
		if len(args) > 1 {
			unit = args[1]
		}
		v, err := parseUnit(args[0], unit)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.KeyValueBlock("Unit Conversion", conversionRows(v)))
		return nil
	},
}

// parseUnit reads s in the given unit and returns it in base units.
func parseUnit(s, unit string) (amount.Amount, error) {
	unit = strings.ToLower(unit)
	if unit == "" && strings.HasPrefix(strings.ToLower(s), "0x") {
		unit = "hex"
	}
	switch unit {
	case "", "eth", "ether", "token", "tokens":
		return amount.Parse(s)
	case "gwei":
		g, err := amount.Parse(s)
		if err != nil {
			return amount.Amount{}, err
		}
		v, err := g.MulDivExact(amount.New(1), gweiPerWhole)
		if err != nil {
			return amount.Amount{}, fmt.Errorf("%s gwei is not a whole number of wei: %w", s, err)
		}
		return v, nil
	case "wei", "unit", "units", "hex":
		return amount.ParseUnits(s)
	}
	return amount.Amount{}, fmt.Errorf("unknown unit %q: use eth, token, gwei, wei or hex", unit)
}

func conversionRows(v amount.Amount) [][2]string {
	return [][2]string{
		{"Whole units", ui.Val(v.Format())},
		{"Gwei", ui.Val(formatGwei(v) + " gwei")},
		{"Wei", ui.Val(v.String() + " wei")},
		{"Hex", ui.Val("0x" + v.Big().Text(16))},
	}
}

// formatGwei renders base units as gwei with trailing zeros trimmed.
func formatGwei(v amount.Amount) string {
	q, r := new(big.Int).QuoRem(v.Big(), gweiPerWhole.Big(), new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	rs := r.String()
	frac := strings.Repeat("0", 9-len(rs)) + rs
	return q.String() + "." + strings.TrimRight(frac, "0")
}
