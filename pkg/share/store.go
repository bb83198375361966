package share

import (
	"context"
	"sort"
	"sync"

	"github.com/marmos91/dittosmb/pkg/smburi"
)

// Record is the persisted description of a known share. Passwords are never
// part of a record; they only reach the native credential cache.
type Record struct {
	ID       smburi.ID `json:"id"`
	Domain   string    `json:"domain,omitempty"`
	Username string    `json:"username,omitempty"`
	Mounted  bool      `json:"mounted"`
}

// Store persists share records.
//
// Thread Safety: implementations must be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id smburi.ID) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}

// MemoryStore keeps records in process memory. Records are lost on exit.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[smburi.ID]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[smburi.ID]Record)}
}

func (s *MemoryStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id smburi.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sortRecords(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func sortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
}
