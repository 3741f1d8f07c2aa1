package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/haldenlabs/mandate/pkg/contracts"
)

// versioned pairs a stored value with its CAS version.
type versioned[T any] struct {
	value   T
	version uint64
}

// MemoryStore is the in-process Store used for tests and single-instance
// deployments. All operations are O(1) under one mutex; version counters
// give the same lost-update protection as the SQL backends.
type MemoryStore struct {
	mu      sync.Mutex
	trust   map[TrustKey]versioned[contracts.TrustProfile]
	actions map[string]versioned[contracts.Action]
	skills  map[SkillKey]versioned[contracts.SkillTrustRecord]
	history map[TrustKey][]*ChainedTrustChange
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trust:   make(map[TrustKey]versioned[contracts.TrustProfile]),
		actions: make(map[string]versioned[contracts.Action]),
		skills:  make(map[SkillKey]versioned[contracts.SkillTrustRecord]),
		history: make(map[TrustKey][]*ChainedTrustChange),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) GetTrustProfile(_ context.Context, key TrustKey) (contracts.TrustProfile, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.trust[key]
	if !ok {
		return contracts.TrustProfile{}, 0, fmt.Errorf("trust profile %s/%s: %w", key.UserID, key.Category, ErrNotFound)
	}
	return v.value, v.version, nil
}

func (s *MemoryStore) PutTrustProfile(_ context.Context, p contracts.TrustProfile) error {
	key := TrustKey{UserID: p.UserID, Category: p.Category}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trust[key]; ok {
		return fmt.Errorf("trust profile %s/%s: %w", key.UserID, key.Category, ErrDuplicateKey)
	}
	s.trust[key] = versioned[contracts.TrustProfile]{value: p, version: 1}
	return nil
}

func (s *MemoryStore) CompareAndSwapTrustProfile(_ context.Context, p contracts.TrustProfile, expectedVersion uint64) error {
	key := TrustKey{UserID: p.UserID, Category: p.Category}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.trust[key]
	if !ok {
		return fmt.Errorf("trust profile %s/%s: %w", key.UserID, key.Category, ErrNotFound)
	}
	if cur.version != expectedVersion {
		return fmt.Errorf("trust profile %s/%s: %w", key.UserID, key.Category, ErrVersionConflict)
	}
	s.trust[key] = versioned[contracts.TrustProfile]{value: p, version: expectedVersion + 1}
	return nil
}

func (s *MemoryStore) GetAction(_ context.Context, id string) (contracts.Action, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.actions[id]
	if !ok {
		return contracts.Action{}, 0, fmt.Errorf("action %q: %w", id, ErrNotFound)
	}
	return v.value, v.version, nil
}

func (s *MemoryStore) PutAction(_ context.Context, a contracts.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[a.ID]; ok {
		return fmt.Errorf("action %q: %w", a.ID, ErrDuplicateKey)
	}
	s.actions[a.ID] = versioned[contracts.Action]{value: a, version: 1}
	return nil
}

func (s *MemoryStore) CompareAndSwapAction(_ context.Context, a contracts.Action, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.actions[a.ID]
	if !ok {
		return fmt.Errorf("action %q: %w", a.ID, ErrNotFound)
	}
	if cur.version != expectedVersion {
		return fmt.Errorf("action %q: %w", a.ID, ErrVersionConflict)
	}
	s.actions[a.ID] = versioned[contracts.Action]{value: a, version: expectedVersion + 1}
	return nil
}

func (s *MemoryStore) GetSkillRecord(_ context.Context, key SkillKey) (contracts.SkillTrustRecord, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.skills[key]
	if !ok {
		return contracts.SkillTrustRecord{}, 0, fmt.Errorf("skill record %s/%s: %w", key.UserID, key.SkillID, ErrNotFound)
	}
	return v.value, v.version, nil
}

func (s *MemoryStore) PutSkillRecord(_ context.Context, r contracts.SkillTrustRecord) error {
	key := SkillKey{UserID: r.UserID, SkillID: r.SkillID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.skills[key]; ok {
		return fmt.Errorf("skill record %s/%s: %w", key.UserID, key.SkillID, ErrDuplicateKey)
	}
	s.skills[key] = versioned[contracts.SkillTrustRecord]{value: r, version: 1}
	return nil
}

func (s *MemoryStore) CompareAndSwapSkillRecord(_ context.Context, r contracts.SkillTrustRecord, expectedVersion uint64) error {
	key := SkillKey{UserID: r.UserID, SkillID: r.SkillID}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.skills[key]
	if !ok {
		return fmt.Errorf("skill record %s/%s: %w", key.UserID, key.SkillID, ErrNotFound)
	}
	if cur.version != expectedVersion {
		return fmt.Errorf("skill record %s/%s: %w", key.UserID, key.SkillID, ErrVersionConflict)
	}
	s.skills[key] = versioned[contracts.SkillTrustRecord]{value: r, version: expectedVersion + 1}
	return nil
}

func (s *MemoryStore) AppendTrustChange(_ context.Context, rec contracts.TrustChangeRecord) (*ChainedTrustChange, error) {
	key := TrustKey{UserID: rec.UserID, Category: rec.Category}
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.history[key]
	prev := genesisHash
	if n := len(chain); n > 0 {
		prev = chain[n-1].EntryHash
	}
	seq := uint64(len(chain) + 1)
	hash, err := chainEntryHash(seq, rec, prev)
	if err != nil {
		return nil, err
	}
	entry := &ChainedTrustChange{Sequence: seq, Record: rec, PrevHash: prev, EntryHash: hash}
	s.history[key] = append(chain, entry)
	return entry, nil
}

func (s *MemoryStore) ListTrustChanges(_ context.Context, key TrustKey, limit int) ([]*ChainedTrustChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.history[key]
	if limit <= 0 || limit > len(chain) {
		limit = len(chain)
	}
	out := make([]*ChainedTrustChange, limit)
	copy(out, chain[:limit])
	return out, nil
}
