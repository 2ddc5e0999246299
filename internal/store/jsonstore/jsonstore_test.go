package jsonstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/sale"
	"github.com/Mohsinsiddi/w3ico/internal/store"
	"github.com/Mohsinsiddi/w3ico/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	d := &store.Deployment{Name: "genesis", Backend: store.BackendMemory}
	require.NoError(t, s.Save(context.Background(), d, []sale.Event{{Seq: 1, Kind: sale.EventFinalize}}))

	for _, f := range []string{"genesis.json", "genesis.events.jsonl"} {
		info, err := os.Stat(filepath.Join(dir, "deployments", f))
		require.NoError(t, err, f)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), f)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "deployments"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "no temp files left behind")
	}
}

func TestEventsCorruptLine(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, &store.Deployment{Name: "genesis"}, nil))

	path := filepath.Join(dir, "deployments", "genesis.events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"seq\":1}\n\nnot json\n"), 0o600))

	_, err = s.Events(ctx, "genesis", 0)
	assert.ErrorContains(t, err, "line 3")
}

func TestFailedRenameRollsBackEvents(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()
	d := &store.Deployment{Name: "genesis"}
	require.NoError(t, s.Save(ctx, d, []sale.Event{{Seq: 1, Kind: sale.EventPurchase}}))

	s.rename = func(string, string) error { return errors.New("disk full") }
	assert.Error(t, s.Save(ctx, d, []sale.Event{{Seq: 2, Kind: sale.EventPurchase}}))
	assert.Equal(t, int64(1), d.Revision)

	s.rename = os.Rename
	require.NoError(t, s.Save(ctx, d, nil))
	evs, err := s.Events(ctx, "genesis", 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, int64(1), evs[0].Seq)
}

func TestSecondProcessCannotOverwrite(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	a, err := Open(dir)
	require.NoError(t, err)
	b, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, a.Save(ctx, &store.Deployment{Name: "genesis"}, nil))
	fromA, err := a.Load(ctx, "genesis")
	require.NoError(t, err)
	fromB, err := b.Load(ctx, "genesis")
	require.NoError(t, err)

	fromA.Sale.Sequence = 1
	require.NoError(t, a.Save(ctx, fromA, []sale.Event{{Seq: 1, Kind: sale.EventPurchase}}))
	fromB.Sale.Sequence = 1
	assert.ErrorIs(t, b.Save(ctx, fromB, []sale.Event{{Seq: 1, Kind: sale.EventPurchase}}), store.ErrConflict)

	evs, err := b.Events(ctx, "genesis", 0)
	require.NoError(t, err)
	assert.Len(t, evs, 1, "no duplicate sequence numbers")
}

func TestLockHeldElsewhereTimesOut(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), &store.Deployment{Name: "genesis"}, nil))

	held, err := s.lockRecord(context.Background(), "genesis")
	require.NoError(t, err)
	defer held.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d, err := s.Load(ctx, "genesis")
	require.NoError(t, err, "reads of the record do not wait for the lock")
	assert.ErrorContains(t, s.Save(ctx, d, nil), "locking genesis")
}
