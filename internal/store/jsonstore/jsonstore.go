// Package jsonstore keeps deployments as JSON files:
//
//	<dir>/deployments/<name>.json          current deployment record
//	<dir>/deployments/<name>.events.jsonl  one sale event per line
//	<dir>/deployments/<name>.lock          held while the record is written
//
// The lock file serializes writers across processes sharing the directory.
package jsonstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/sale"
	"github.com/Mohsinsiddi/w3ico/internal/store"
	logging "github.com/op/go-logging"
	"go4.org/lock"
)

var log = logging.MustGetLogger("jsonstore")

const (
	recordExt = ".json"
	eventsExt = ".events.jsonl"
	lockExt   = ".lock"

	lockRetry   = 10 * time.Millisecond
	lockTimeout = 5 * time.Second
)

// Store is a file-backed store.Store.
type Store struct {
	mu     sync.Mutex
	dir    string
	rename func(oldpath, newpath string) error
}

// Open creates <dir>/deployments if needed.
func Open(dir string) (*Store, error) {
	d := filepath.Join(dir, "deployments")
	if err := os.MkdirAll(d, 0o700); err != nil {
		return nil, fmt.Errorf("creating %s: %w", d, err)
	}
	return &Store{dir: d, rename: os.Rename}, nil
}

func (s *Store) recordPath(name string) string { return filepath.Join(s.dir, name+recordExt) }
func (s *Store) eventsPath(name string) string { return filepath.Join(s.dir, name+eventsExt) }
func (s *Store) lockPath(name string) string { return filepath.Join(s.dir, name+lockExt) }

// lockRecord takes the cross-process lock of a deployment, retrying while
// another holder has it.
func (s *Store) lockRecord(ctx context.Context, name string) (io.Closer, error) {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	for {
		l, err := lock.Lock(s.lockPath(name))
		if err == nil {
			return l, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("locking %s: %w", name, err)
		case <-time.After(lockRetry):
		}
	}
}

// revision returns the revision of the stored record, 0 when there is none.
func (s *Store) revision(name string) (int64, error) {
	data, err := os.ReadFile(s.recordPath(name))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var head struct {
		Revision int64 `json:"revision"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("parsing %s: %w", s.recordPath(name), err)
	}
	return head.Revision, nil
}

// Load reads a deployment record.
func (s *Store) Load(_ context.Context, name string) (*store.Deployment, error) {
	if err := store.ValidName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.recordPath(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	var d store.Deployment
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.recordPath(name), err)
	}
	return &d, nil
}

// Save writes the record to a temp file, appends the events, then renames
// the temp file into place. A failed rename truncates the appended events.
// All of it happens under the deployment's lock file, after checking that
// the stored revision is still the one d was loaded at.
func (s *Store) Save(ctx context.Context, d *store.Deployment, events []sale.Event) error {
	if err := store.ValidName(d.Name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.lockRecord(ctx, d.Name)
	if err != nil {
		return err
	}
	defer l.Close() //nolint:errcheck

	current, err := s.revision(d.Name)
	if err != nil {
		return err
	}
	if current != d.Revision {
		return fmt.Errorf("%w: %s is at revision %d, not %d", store.ErrConflict, d.Name, current, d.Revision)
	}

	rec := *d
	rec.Revision++
	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, d.Name+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	restore, err := s.appendEvents(d.Name, events)
	if err != nil {
		return fmt.Errorf("appending events: %w", err)
	}
	if err := s.rename(tmpName, s.recordPath(d.Name)); err != nil {
		if terr := restore(); terr != nil {
			log.Errorf("truncating %s after failed save: %v", s.eventsPath(d.Name), terr)
		}
		return err
	}
	d.Revision = rec.Revision
	return nil
}

// appendEvents appends events as JSON lines and returns a function that
// truncates the file back to its previous length.
func (s *Store) appendEvents(name string, events []sale.Event) (func() error, error) {
	path := s.eventsPath(name)
	if len(events) == 0 {
		return func() error { return nil }, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if _, err := f.Write(buf.Bytes()); err != nil {
		os.Truncate(path, size) //nolint:errcheck
		return nil, err
	}
	if err := f.Sync(); err != nil {
		os.Truncate(path, size) //nolint:errcheck
		return nil, err
	}
	return func() error { return os.Truncate(path, size) }, nil
}

// Events returns the events with Seq > after in order. It holds the lock
// file so a concurrent append is never read half-written.
func (s *Store) Events(ctx context.Context, name string, after int64) ([]sale.Event, error) {
	if err := store.ValidName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.recordPath(name)); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	l, err := s.lockRecord(ctx, name)
	if err != nil {
		return nil, err
	}
	defer l.Close() //nolint:errcheck

	f, err := os.Open(s.eventsPath(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []sale.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var ev sale.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", s.eventsPath(name), line, err)
		}
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out, sc.Err()
}

// List returns deployment names sorted.
func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasSuffix(n, recordExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(n, recordExt))
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
