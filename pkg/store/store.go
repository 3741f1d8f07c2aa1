// Package store implements the keyed persistence layer backing trust
// profiles, actions and skill trust records, plus an append-only,
// hash-chained trust-change history.
//
// Every mutable record family carries a version counter; writers use
// compare-and-swap so concurrent updates never lose an increment. Backends:
// in-memory (tests, single process), SQLite and Postgres.
package store

import (
	"context"
	"errors"

	"github.com/haldenlabs/mandate/pkg/contracts"
)

var (
	// ErrNotFound means the key has no record.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey means an insert hit an existing key.
	ErrDuplicateKey = errors.New("record already exists")
	// ErrVersionConflict means a compare-and-swap lost the race.
	ErrVersionConflict = errors.New("version conflict")
	// ErrUnavailable wraps transient backend failures. It is the only
	// error category the trust and capability layers may degrade on.
	ErrUnavailable = errors.New("store unavailable")
)

// TrustKey identifies a trust profile row.
type TrustKey struct {
	UserID   string
	Category contracts.ActionKind
}

// SkillKey identifies a skill trust row.
type SkillKey struct {
	UserID  string
	SkillID string
}

// Store is the keyed persistence contract. Get returns the current record
// and its version; CompareAndSwap succeeds only when the caller still holds
// the current version.
type Store interface {
	GetTrustProfile(ctx context.Context, key TrustKey) (contracts.TrustProfile, uint64, error)
	PutTrustProfile(ctx context.Context, p contracts.TrustProfile) error
	CompareAndSwapTrustProfile(ctx context.Context, p contracts.TrustProfile, expectedVersion uint64) error

	GetAction(ctx context.Context, id string) (contracts.Action, uint64, error)
	PutAction(ctx context.Context, a contracts.Action) error
	CompareAndSwapAction(ctx context.Context, a contracts.Action, expectedVersion uint64) error

	GetSkillRecord(ctx context.Context, key SkillKey) (contracts.SkillTrustRecord, uint64, error)
	PutSkillRecord(ctx context.Context, r contracts.SkillTrustRecord) error
	CompareAndSwapSkillRecord(ctx context.Context, r contracts.SkillTrustRecord, expectedVersion uint64) error

	AppendTrustChange(ctx context.Context, rec contracts.TrustChangeRecord) (*ChainedTrustChange, error)
	ListTrustChanges(ctx context.Context, key TrustKey, limit int) ([]*ChainedTrustChange, error)
}
