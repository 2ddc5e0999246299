package ui

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/Mohsinsiddi/w3ico/internal/sale"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqEvents(from, n int) WatchEventsMsg {
	out := make(WatchEventsMsg, n)
	for i := range out {
		seq := int64(from + i)
		out[i] = sale.Event{Seq: seq, ID: fmt.Sprintf("ev-%d", seq), Kind: sale.EventPriceChanged, Value: amount.Whole(1)}
	}
	return out
}

func update(t *testing.T, m WatchModel, msg tea.Msg) WatchModel {
	t.Helper()
	next, _ := m.Update(msg)
	wm, ok := next.(WatchModel)
	require.True(t, ok)
	return wm
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestWatchNewestFirst(t *testing.T) {
	m := NewWatchModel("genesis", "GEN", "ETH")
	m = update(t, m, seqEvents(1, 2))
	m = update(t, m, seqEvents(3, 1))

	require.Len(t, m.Rows, 3)
	assert.Equal(t, int64(3), m.Rows[0].Seq)
	assert.Equal(t, int64(1), m.Rows[2].Seq)
}

func TestWatchCapsRows(t *testing.T) {
	m := NewWatchModel("genesis", "GEN", "ETH")
	m = update(t, m, seqEvents(1, maxWatchRows+25))
	assert.Len(t, m.Rows, maxWatchRows)
	assert.Equal(t, int64(maxWatchRows+25), m.Rows[0].Seq)
}

func TestWatchCursorStaysOnSelectedEvent(t *testing.T) {
	m := NewWatchModel("genesis", "GEN", "ETH")
	m = update(t, m, seqEvents(1, 3))
	m = update(t, m, key("j"))
	selected := m.Rows[m.cursor].Seq

	m = update(t, m, seqEvents(4, 2))
	assert.Equal(t, selected, m.Rows[m.cursor].Seq)

	m = update(t, m, key("k"))
	m = update(t, m, key("k"))
	m = update(t, m, key("k"))
	m = update(t, m, key("k"))
	assert.Equal(t, 0, m.cursor)
}

func TestWatchCopyEventID(t *testing.T) {
	var copied string
	m := NewWatchModel("genesis", "GEN", "ETH")
	m.copy = func(s string) error { copied = s; return nil }
	m = update(t, m, seqEvents(1, 1))
	m = update(t, m, key("c"))
	assert.Equal(t, "ev-1", copied)
	assert.Contains(t, m.View(), "Copied event ev-1")

	m.copy = func(string) error { return errors.New("no clipboard") }
	m = update(t, m, key("c"))
	assert.Contains(t, m.View(), "Copy failed")
}

func TestWatchQuit(t *testing.T) {
	m := NewWatchModel("genesis", "GEN", "ETH")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.True(t, next.(WatchModel).Quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, next.View())
}

func TestWatchView(t *testing.T) {
	m := NewWatchModel("genesis", "GEN", "ETH")
	assert.Contains(t, m.View(), "loading")
	assert.Contains(t, m.View(), "Waiting for events")

	m = update(t, m, WatchStatusMsg{
		Phase:      "open",
		TokensSold: amount.Whole(250),
		MaxTokens:  amount.Whole(1000),
		Price:      amount.MustParse("0.001"),
	})
	m = update(t, m, seqEvents(1, 1))
	view := m.View()
	assert.Contains(t, view, "genesis")
	assert.Contains(t, view, "open")
	assert.Contains(t, view, "25.0%")
	assert.Contains(t, view, "price set to 1 ETH per GEN")

	m = update(t, m, WatchStatusMsg{Err: "store unavailable"})
	assert.Contains(t, m.View(), "store unavailable")
}
