// Package store persists sale deployments: the sale snapshot, the in-memory
// ledgers of a local deployment and the append-only event log.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/ledger"
	"github.com/Mohsinsiddi/w3ico/internal/sale"
	logging "github.com/op/go-logging"
)

var log = logging.MustGetLogger("store")

// Ledger backends a deployment can run against.
const (
	BackendMemory = "memory"
	BackendEVM    = "evm"
)

var (
	ErrNotFound    = errors.New("store: deployment not found")
	ErrInvalidName = errors.New("store: invalid deployment name")
	ErrConflict    = errors.New("store: deployment changed since it was loaded")
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidName reports whether name can be used as a deployment name.
func ValidName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Deployment is everything needed to bring a sale back up.
type Deployment struct {
	Name    string        `json:"name"`
	Backend string        `json:"backend"`
	Sale    sale.Snapshot `json:"sale"`

	// Memory backend only.
	Token  *ledger.Snapshot `json:"token,omitempty"`
	Native *ledger.Snapshot `json:"native,omitempty"`

	// EVM backend only.
	RPCURL  string `json:"rpc_url,omitempty"`
	ChainID int64  `json:"chain_id,omitempty"`

	// Revision counts successful saves. Zero means never saved.
	Revision int64 `json:"revision"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists deployments. Save writes the deployment and appends events
// as one unit: either both land or neither does.
//
// Save only succeeds when the stored revision still equals d.Revision (no
// stored record for zero); otherwise it returns ErrConflict and writes
// nothing. On success d.Revision is advanced to the stored revision.
type Store interface {
	Load(ctx context.Context, name string) (*Deployment, error)
	Save(ctx context.Context, d *Deployment, events []sale.Event) error
	Events(ctx context.Context, name string, after int64) ([]sale.Event, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Snapshotter is a ledger whose balances are stored with the deployment.
type Snapshotter interface {
	Snapshot() ledger.Snapshot
}

// Committer persists a deployment each time its sale engine commits.
type Committer struct {
	store  Store
	dep    *Deployment
	token  Snapshotter
	native Snapshotter
	now    func() time.Time
}

// NewCommitter binds d to s. token and native are the in-memory ledgers of a
// memory deployment and nil otherwise.
func NewCommitter(s Store, d *Deployment, token, native Snapshotter) *Committer {
	return &Committer{store: s, dep: d, token: token, native: native, now: time.Now}
}

// Commit implements sale.Committer. The bound deployment is only updated
// once the store accepted it.
func (c *Committer) Commit(ctx context.Context, snap sale.Snapshot, events []sale.Event) error {
	next := *c.dep
	next.Sale = snap
	if c.token != nil {
		ts := c.token.Snapshot()
		next.Token = &ts
	}
	if c.native != nil {
		ns := c.native.Snapshot()
		next.Native = &ns
	}
	next.UpdatedAt = c.now().UTC()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = next.UpdatedAt
	}
	if err := c.store.Save(ctx, &next, events); err != nil {
		return err
	}
	*c.dep = next
	log.Debugf("committed %s at seq %d with %d events", next.Name, snap.Sequence, len(events))
	return nil
}

// Deployment returns the last committed record.
func (c *Committer) Deployment() *Deployment { return c.dep }
