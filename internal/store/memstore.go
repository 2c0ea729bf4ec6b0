package store

import (
	"context"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemStore: in-memory реализация Repository.
type MemStore struct {
	mu      sync.RWMutex
	data    map[string]map[string]*Record // FQN -> id -> запись
	entropy io.Reader
	now     func() time.Time
}

func NewMemStore() *MemStore {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &MemStore{
		data:    make(map[string]map[string]*Record),
		entropy: ulid.Monotonic(src, 0),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// newID вызывается под write-lock: ulid.Monotonic не потокобезопасен.
func (s *MemStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

func (s *MemStore) Get(_ context.Context, entity, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.data[entity][id]
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// sortedLocked: записи сущности по возрастанию id (ulid = порядок создания).
func (s *MemStore) sortedLocked(entity string) []*Record {
	recMap := s.data[entity]
	out := make([]*Record, 0, len(recMap))
	for _, r := range recMap {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemStore) FindFirst(_ context.Context, entity string, match Match) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.sortedLocked(entity) {
		if match.Matches(r) {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemStore) Count(_ context.Context, entity string, match Match, excludeID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for id, r := range s.data[entity] {
		if id == excludeID {
			continue
		}
		if match.Matches(r) {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) Save(_ context.Context, entity string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data[entity] == nil {
		s.data[entity] = make(map[string]*Record)
	}
	now := s.now()
	if rec.ID == "" {
		rec.ID = s.newID()
		rec.Version = 1
		rec.CreatedAt = now
		rec.UpdatedAt = now
	} else {
		cur, ok := s.data[entity][rec.ID]
		if !ok {
			return ErrNotFound
		}
		rec.Version = cur.Version + 1
		rec.CreatedAt = cur.CreatedAt
		rec.UpdatedAt = now
	}
	s.data[entity][rec.ID] = rec.Clone()
	return nil
}

func (s *MemStore) List(_ context.Context, entity string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.sortedLocked(entity)
	out := make([]*Record, 0, len(all))
	for _, r := range all {
		out = append(out, r.Clone())
	}
	return out, nil
}
