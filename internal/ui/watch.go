package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/Mohsinsiddi/w3ico/internal/sale"
	tea "github.com/charmbracelet/bubbletea"
)

const maxWatchRows = 200

// WatchEventsMsg delivers newly committed sale events, oldest first.
type WatchEventsMsg []sale.Event

// WatchStatusMsg updates the header after each poll.
type WatchStatusMsg struct {
	Phase      string
	TokensSold amount.Amount
	MaxTokens  amount.Amount
	Price      amount.Amount
	Polling    bool
	Err        string
}

// WatchModel is the Bubble Tea model for the live sale event stream.
type WatchModel struct {
	Deployment string
	Symbol     string
	Native     string
	Rows       []sale.Event // newest first
	Status     WatchStatusMsg
	Quitting   bool

	cursor int
	frame  int
	flash  string
	copy   func(string) error
}

// NewWatchModel returns a model for deployment's event stream.
func NewWatchModel(deployment, symbol, native string) WatchModel {
	return WatchModel{
		Deployment: deployment,
		Symbol:     symbol,
		Native:     native,
		copy:       copyToClipboard,
	}
}

type watchTickMsg struct{}

func watchSpinTick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(time.Time) tea.Msg {
		return watchTickMsg{}
	})
}

func (m WatchModel) Init() tea.Cmd { return watchSpinTick() }

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		m.flash = ""
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.Quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.Rows)-1 {
				m.cursor++
			}
		case "c":
			if m.cursor >= len(m.Rows) || m.copy == nil {
				break
			}
			id := m.Rows[m.cursor].ID
			if err := m.copy(id); err != nil {
				m.flash = "Copy failed"
			} else {
				m.flash = "Copied event " + id
			}
		}

	case watchTickMsg:
		m.frame = (m.frame + 1) % len(spinFrames)
		return m, watchSpinTick()

	case WatchEventsMsg:
		rows := make([]sale.Event, 0, len(msg)+len(m.Rows))
		for i := len(msg) - 1; i >= 0; i-- {
			rows = append(rows, msg[i])
		}
		rows = append(rows, m.Rows...)
		if len(rows) > maxWatchRows {
			rows = rows[:maxWatchRows]
		}
		if m.cursor > 0 {
			m.cursor += len(rows) - len(m.Rows)
			if m.cursor >= len(rows) {
				m.cursor = len(rows) - 1
			}
		}
		m.Rows = rows

	case WatchStatusMsg:
		m.Status = msg
	}
	return m, nil
}

func (m WatchModel) View() string {
	if m.Quitting {
		return ""
	}
	var sb strings.Builder

	sb.WriteString(StyleTitle.Render(fmt.Sprintf("Live sale  ·  %s  ·  %s", m.Deployment, m.Symbol)) + "\n")

	switch {
	case m.Status.Err != "":
		sb.WriteString(Err(m.Status.Err) + "\n\n")
	case m.Status.Phase == "":
		sb.WriteString(StyleMeta.Render("  loading…") + "\n\n")
	default:
		spin := " "
		if m.Status.Polling {
			spin = spinFrames[m.frame]
		}
		sb.WriteString(fmt.Sprintf("%s %s  price %s %s  %s\n\n",
			StyleInfo.Render(spin),
			Phase(m.Status.Phase),
			Val(m.Status.Price.Format()), m.Native,
			ProgressBar(m.Status.TokensSold, m.Status.MaxTokens, 24)))
	}

	const (
		wSeq  = 5
		wTime = 9
		wKind = 24
	)
	sb.WriteString(padR(StyleDim.Render("SEQ"), wSeq) + " " +
		padR(StyleDim.Render("TIME"), wTime) + " " +
		padR(StyleDim.Render("KIND"), wKind) + " " +
		StyleDim.Render("DETAIL") + "\n")
	sb.WriteString(StyleMeta.Render(strings.Repeat("─", 96)) + "\n")

	if len(m.Rows) == 0 {
		sb.WriteString(StyleMeta.Render("  Waiting for events…") + "\n")
	}
	for i, ev := range m.Rows {
		line := padR(fmt.Sprintf("%d", ev.Seq), wSeq) + " " +
			padR(StyleMeta.Render(ev.At.Format("15:04:05")), wTime) + " " +
			padR(eventStyle(ev.Kind)(string(ev.Kind)), wKind) + " " +
			EventSummary(ev, m.Symbol, m.Native)
		if i == m.cursor {
			line = StyleSelected.Render(line)
		}
		sb.WriteString(line + "\n")
	}

	sb.WriteString("\n")
	if m.flash != "" {
		sb.WriteString(Success(m.flash))
	} else {
		sb.WriteString(StyleMeta.Render("[ ↑↓ ] navigate   [ c ] copy event id   [ q ] quit"))
	}
	sb.WriteString("\n")
	return sb.String()
}
