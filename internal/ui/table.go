package ui

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/charmbracelet/lipgloss"
)

// Column defines a table column.
type Column struct {
	Title string
	Width int
}

// Row is a slice of cell values.
type Row []string

// Table renders a lipgloss-styled table.
type Table struct {
	Columns []Column
	Rows    []Row
}

// NewTable creates a new table.
func NewTable(cols []Column) *Table {
	return &Table{Columns: cols}
}

// AddRow appends a row.
func (t *Table) AddRow(r Row) {
	t.Rows = append(t.Rows, r)
}

// Render returns the full table as a string. Cells are padded by visible
// width so styled values keep their columns.
func (t *Table) Render() string {
	var sb strings.Builder

	headerStyle := lipgloss.NewStyle().Foreground(ColorHighlight).Bold(true)

	cell := func(s string, width int) string {
		if r := []rune(s); width > 1 && len(r) > width && !strings.Contains(s, "\x1b") {
			s = string(r[:width-1]) + "…"
		}
		return padR(s, width)
	}

	var headers, divider []string
	for _, col := range t.Columns {
		headers = append(headers, headerStyle.Render(cell(col.Title, col.Width)))
		divider = append(divider, StyleDim.Render(strings.Repeat("-", col.Width)))
	}
	sb.WriteString(strings.Join(headers, " ") + "\n")
	sb.WriteString(strings.Join(divider, " ") + "\n")

	for _, row := range t.Rows {
		cells := make([]string, len(t.Columns))
		for j, col := range t.Columns {
			val := ""
			if j < len(row) {
				val = row[j]
			}
			cells[j] = cell(val, col.Width)
		}
		sb.WriteString(strings.TrimRight(strings.Join(cells, " "), " ") + "\n")
	}
	return sb.String()
}

// KeyValueBlock renders key-value pairs in a bordered box.
func KeyValueBlock(title string, pairs [][2]string) string {
	var sb strings.Builder
	if title != "" {
		sb.WriteString(StyleTitle.Render(title))
		sb.WriteString("\n")
	}
	for _, p := range pairs {
		key := StyleMeta.Render(fmt.Sprintf("%-20s", p[0]+":"))
		sb.WriteString("  " + key + " " + StyleValue.Render(p[1]) + "\n")
	}
	return StyleBorder.Render(sb.String())
}

// ProgressBar draws sold/total as a bar of the given width with a
// percentage to one decimal place.
func ProgressBar(sold, total amount.Amount, width int) string {
	if width < 1 {
		width = 1
	}
	permille := int64(0)
	if !total.IsZero() {
		p := new(big.Int).Mul(sold.Big(), big.NewInt(1000))
		p.Quo(p, total.Big())
		permille = p.Int64()
		if permille > 1000 {
			permille = 1000
		}
	}
	filled := int(permille) * width / 1000
	bar := StyleSuccess.Render(strings.Repeat("█", filled)) +
		StyleDim.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %d.%d%%", bar, permille/10, permille%10)
}
