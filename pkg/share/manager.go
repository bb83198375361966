// Package share tracks the shares a user has added and whether they are
// mounted.
//
// A share is added with an optional credential and a checker that proves it
// can be reached. The credential goes to the native credential cache; the
// record (without the password) goes to a Store so the list survives
// restarts.
package share

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marmos91/dittosmb/internal/logger"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

// ErrAlreadyMounted is returned by Add for a share that is already mounted.
var ErrAlreadyMounted = errors.New("share: already mounted")

// Credentials receives credentials for shares. facade.Credentials
// implements it.
type Credentials interface {
	Put(ctx context.Context, id smburi.ID, domain, username, password string) error
	Remove(ctx context.Context, id smburi.ID) error
}

// Checker verifies that a share is reachable with the credential just
// registered.
type Checker func(ctx context.Context) error

// Manager is the in-memory view of the share store.
//
// Thread Safety: Safe for concurrent use. Add and Update are serialized,
// including their checker.
type Manager struct {
	mu      sync.RWMutex
	store   Store
	creds   Credentials
	records map[smburi.ID]Record

	lmu       sync.RWMutex
	listeners []func()
}

// NewManager loads the records from store.
func NewManager(ctx context.Context, store Store, creds Credentials) (*Manager, error) {
	recs, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load shares: %w", err)
	}
	m := &Manager{
		store:   store,
		creds:   creds,
		records: make(map[smburi.ID]Record, len(recs)),
	}
	for _, r := range recs {
		m.records[r.ID] = r
	}
	logger.Info("Loaded %d shares", len(recs))
	return m, nil
}

// Add registers a share that is not mounted yet. See Update.
func (m *Manager) Add(ctx context.Context, rec Record, password string, check Checker) error {
	m.mu.RLock()
	existing, ok := m.records[rec.ID]
	m.mu.RUnlock()
	if ok && existing.Mounted {
		return fmt.Errorf("%w: %s", ErrAlreadyMounted, rec.ID)
	}
	return m.Update(ctx, rec, password, check)
}

// Update registers or replaces a share. The credential is handed to the
// native cache when both username and password are set, then check runs.
// If check fails the credential is removed again and nothing is stored.
func (m *Manager) Update(ctx context.Context, rec Record, password string, check Checker) error {
	if !rec.ID.IsShare() {
		return fmt.Errorf("share: %s is not a share", rec.ID)
	}
	if rec.Username == "" || password == "" {
		rec.Domain, rec.Username, password = "", "", ""
	}

	m.mu.Lock()
	err := m.register(ctx, rec, password, check)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if rec.Mounted {
		m.notify()
	}
	return nil
}

func (m *Manager) register(ctx context.Context, rec Record, password string, check Checker) error {
	if password != "" {
		if err := m.creds.Put(ctx, rec.ID, rec.Domain, rec.Username, password); err != nil {
			return fmt.Errorf("failed to register credential for %s: %w", rec.ID, err)
		}
	}

	if check != nil {
		if err := check(ctx); err != nil {
			logger.Info("Failed to mount %s: %v", rec.ID, err)
			if rerr := m.creds.Remove(context.WithoutCancel(ctx), rec.ID); rerr != nil {
				logger.Warn("Failed to drop credential for %s: %v", rec.ID, rerr)
			}
			return err
		}
	}

	if err := m.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist share %s: %w", rec.ID, err)
	}
	m.records[rec.ID] = rec
	return nil
}

// Unmount forgets a share and drops its credential. Unknown shares are
// ignored.
func (m *Manager) Unmount(ctx context.Context, id smburi.ID) error {
	m.mu.Lock()
	if _, ok := m.records[id]; !ok {
		m.mu.Unlock()
		return nil
	}
	if err := m.store.Delete(ctx, id); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to remove share %s: %w", id, err)
	}
	delete(m.records, id)
	m.mu.Unlock()

	if err := m.creds.Remove(ctx, id); err != nil {
		logger.Warn("Failed to drop credential for %s: %v", id, err)
	}
	logger.Info("Unmounted %s", id)
	m.notify()
	return nil
}

// Contains reports whether id is a known share, mounted or not.
func (m *Manager) Contains(id smburi.ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[id]
	return ok
}

func (m *Manager) IsMounted(id smburi.ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[id].Mounted
}

// List returns a snapshot of all records ordered by id.
func (m *Manager) List() []Record {
	m.mu.RLock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	m.mu.RUnlock()
	sortRecords(out)
	return out
}

// Len returns the number of known shares.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// AddListener registers fn to run after the set of mounted shares changes.
// Listeners run most recent first.
func (m *Manager) AddListener(fn func()) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) notify() {
	m.lmu.RLock()
	ls := m.listeners
	m.lmu.RUnlock()
	for i := len(ls) - 1; i >= 0; i-- {
		ls[i]()
	}
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
