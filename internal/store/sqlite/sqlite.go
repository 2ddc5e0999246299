// Package sqlite is a store.Store on a SQLite database. Each Save runs in a
// single SQL transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/Mohsinsiddi/w3ico/internal/sale"
	"github.com/Mohsinsiddi/w3ico/internal/store"
	"github.com/Mohsinsiddi/w3ico/internal/whitelist"
	"github.com/ethereum/go-ethereum/common"
	sqlite3 "github.com/mattn/go-sqlite3"
	logging "github.com/op/go-logging"
)

var log = logging.MustGetLogger("sqlite")

var schema = []string{
	`create table if not exists deployments (name text primary key not null, backend text not null, record blob not null, sequence integer not null, revision integer not null, updated_at text not null);`,
	`create table if not exists whitelist (deployment text not null, address text not null, whitelisted integer not null, primary key (deployment, address));`,
	`create table if not exists events (deployment text not null, seq integer not null, id text not null, kind text not null, at text not null, actor text not null, account text not null, quantity text not null, payment text not null, value text not null, addresses text not null, primary key (deployment, seq));`,
}

// Store is a SQLite-backed store.Store.
type Store struct {
	db   *sql.DB
	lock sync.RWMutex
}

// Open opens (and creates) the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// A second pooled connection to ":memory:" would see a different database.
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	log.Debugf("opened %s", path)
	return &Store{db: db}, nil
}

// Load reads a deployment; the whitelist comes from the whitelist table,
// whose lower-case addresses sort in byte order.
func (s *Store) Load(ctx context.Context, name string) (*store.Deployment, error) {
	if err := store.ValidName(name); err != nil {
		return nil, err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()

	var (
		record   []byte
		revision int64
	)
	err := s.db.QueryRowContext(ctx, "select record, revision from deployments where name=?", name).Scan(&record, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	var d store.Deployment
	if err := json.Unmarshal(record, &d); err != nil {
		return nil, fmt.Errorf("decoding deployment %s: %w", name, err)
	}
	d.Revision = revision

	rows, err := s.db.QueryContext(ctx, "select address, whitelisted from whitelist where deployment=? order by address", name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	d.Sale.Whitelist = nil
	for rows.Next() {
		var addr string
		var on bool
		if err := rows.Scan(&addr, &on); err != nil {
			return nil, err
		}
		d.Sale.Whitelist = append(d.Sale.Whitelist, whitelist.Entry{Address: common.HexToAddress(addr), Whitelisted: on})
	}
	return &d, rows.Err()
}

// Save replaces the deployment row and its whitelist rows and appends events
// in one transaction. The row is only replaced while its revision still
// matches d.Revision.
func (s *Store) Save(ctx context.Context, d *store.Deployment, events []sale.Event) error {
	if err := store.ValidName(d.Name); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	rec := *d
	rec.Sale.Whitelist = nil
	rec.Revision++
	record, err := json.Marshal(&rec)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := save(ctx, tx, d, record, events); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	d.Revision++
	return nil
}

func save(ctx context.Context, tx *sql.Tx, d *store.Deployment, record []byte, events []sale.Event) error {
	updated := d.UpdatedAt.UTC().Format(time.RFC3339Nano)
	if d.Revision == 0 {
		_, err := tx.ExecContext(ctx,
			"insert into deployments(name, backend, record, sequence, revision, updated_at) values(?,?,?,?,1,?)",
			d.Name, d.Backend, record, d.Sale.Sequence, updated)
		var serr sqlite3.Error
		if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: %s already exists", store.ErrConflict, d.Name)
		}
		if err != nil {
			return fmt.Errorf("writing deployment: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx,
			"update deployments set backend=?, record=?, sequence=?, revision=revision+1, updated_at=? where name=? and revision=?",
			d.Backend, record, d.Sale.Sequence, updated, d.Name, d.Revision)
		if err != nil {
			return fmt.Errorf("writing deployment: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s is no longer at revision %d", store.ErrConflict, d.Name, d.Revision)
		}
	}

	if _, err := tx.ExecContext(ctx, "delete from whitelist where deployment=?", d.Name); err != nil {
		return err
	}
	if len(d.Sale.Whitelist) > 0 {
		stmt, err := tx.PrepareContext(ctx, "insert into whitelist(deployment, address, whitelisted) values(?,?,?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range d.Sale.Whitelist {
			if _, err := stmt.ExecContext(ctx, d.Name, strings.ToLower(e.Address.Hex()), e.Whitelisted); err != nil {
				return fmt.Errorf("writing whitelist: %w", err)
			}
		}
	}

	if len(events) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `insert into events(deployment, seq, id, kind, at, actor, account, quantity, payment, value, addresses)
		values(?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, ev := range events {
		addrs := make([]string, len(ev.Addresses))
		for i, a := range ev.Addresses {
			addrs[i] = a.Hex()
		}
		addrJSON, err := json.Marshal(addrs)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx, d.Name, ev.Seq, ev.ID, string(ev.Kind), ev.At.UTC().Format(time.RFC3339Nano),
			ev.Actor.Hex(), ev.Account.Hex(), ev.Quantity, ev.Payment, ev.Value, string(addrJSON))
		if err != nil {
			return fmt.Errorf("writing event %d: %w", ev.Seq, err)
		}
	}
	return nil
}

// Events returns the events with seq > after in order.
func (s *Store) Events(ctx context.Context, name string, after int64) ([]sale.Event, error) {
	if err := store.ValidName(name); err != nil {
		return nil, err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, "select count(*) from deployments where name=?", name).Scan(&n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}

	rows, err := s.db.QueryContext(ctx, `select seq, id, kind, at, actor, account, quantity, payment, value, addresses
		from events where deployment=? and seq>? order by seq`, name, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sale.Event
	for rows.Next() {
		var (
			ev                       sale.Event
			kind, at                 string
			actor, account, addrJSON string
			quantity, payment, value amount.Amount
		)
		if err := rows.Scan(&ev.Seq, &ev.ID, &kind, &at, &actor, &account, &quantity, &payment, &value, &addrJSON); err != nil {
			return nil, err
		}
		ev.Kind = sale.EventKind(kind)
		if ev.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		ev.Actor = common.HexToAddress(actor)
		ev.Account = common.HexToAddress(account)
		ev.Quantity, ev.Payment, ev.Value = quantity, payment, value
		var addrs []string
		if err := json.Unmarshal([]byte(addrJSON), &addrs); err != nil {
			return nil, fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		for _, a := range addrs {
			ev.Addresses = append(ev.Addresses, common.HexToAddress(a))
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// List returns deployment names sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	rows, err := s.db.QueryContext(ctx, "select name from deployments order by name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
