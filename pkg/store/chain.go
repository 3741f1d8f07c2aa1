package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/haldenlabs/mandate/pkg/contracts"
)

// genesisHash seeds each (user, category) trust history chain.
const genesisHash = "genesis"

// ChainedTrustChange is a trust history entry with its chain linkage.
// EntryHash covers the RFC 8785 canonical JSON of {sequence, record,
// prev_hash}, so any mutation or reordering breaks verification.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ChainedTrustChange struct {
	Sequence  uint64                      `json:"sequence"`
	Record    contracts.TrustChangeRecord `json:"record"`
	PrevHash  string                      `json:"prev_hash"`
	EntryHash string                      `json:"entry_hash"`
}

func chainEntryHash(seq uint64, rec contracts.TrustChangeRecord, prevHash string) (string, error) {
	hashable := struct {
		Sequence uint64                      `json:"sequence"`
		Record   contracts.TrustChangeRecord `json:"record"`
		PrevHash string                      `json:"prev_hash"`
	}{Sequence: seq, Record: rec, PrevHash: prevHash}

	raw, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("chain hash: marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("chain hash: canonicalize: %w", err)
	}
	h := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

// VerifyChain checks linkage and hashes of a history slice in order.
// Entries must be the full chain for one (user, category), oldest first.
func VerifyChain(entries []*ChainedTrustChange) error {
	prev := genesisHash
	for i, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("entry %d: prev hash mismatch: got %q want %q", i, e.PrevHash, prev)
		}
		want, err := chainEntryHash(e.Sequence, e.Record, e.PrevHash)
		if err != nil {
			return err
		}
		if e.EntryHash != want {
			return fmt.Errorf("entry %d: entry hash mismatch", i)
		}
		prev = e.EntryHash
	}
	return nil
}
