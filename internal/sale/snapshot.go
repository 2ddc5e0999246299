package sale

import (
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/whitelist"
)

// Snapshot is the complete persistent form of a sale.
type Snapshot struct {
	Config    Config            `json:"config"`
	State     State             `json:"state"`
	Whitelist []whitelist.Entry `json:"whitelist"`
	Sequence  int64             `json:"sequence"`
}

// PhaseAt is the phase of the snapshotted sale at now.
func (s Snapshot) PhaseAt(now time.Time) Phase {
	return PhaseAt(now, s.Config.OpeningTime, s.State.Finalized)
}

// Snapshot captures the current sale.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{
		Config:    e.cfg,
		State:     e.state,
		Whitelist: e.list.Entries(),
		Sequence:  e.seq,
	}
}

// Restore rebuilds an engine from a snapshot taken earlier. The ledgers must
// be the ones the snapshot's sale was running against.
func Restore(snap Snapshot, tokens, payments Ledger, opts ...Option) (*Engine, error) {
	e, err := New(snap.Config, tokens, payments, opts...)
	if err != nil {
		return nil, err
	}
	if snap.State.TokensSold.Gt(snap.Config.TotalSupply) {
		return nil, ConfigError{Field: "tokens_sold", Message: "exceeds total supply"}
	}
	e.state = snap.State
	e.list.Restore(snap.Whitelist)
	e.seq = snap.Sequence
	return e, nil
}
