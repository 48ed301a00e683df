package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"shipit/internal/security"
)

// VerifyChain re-computes each record hash and link to detect tampering.
func (l *Ledger) VerifyChain() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, rec := range l.records {
		h, err := rec.ComputeHash()
		if err != nil {
			return fmt.Errorf("compute hash for index %d: %w", rec.Index, err)
		}
		if h != rec.Hash {
			return fmt.Errorf("hash mismatch at index %d", rec.Index)
		}
		if i > 0 && rec.PrevHash != l.records[i-1].Hash {
			return fmt.Errorf("prev hash mismatch at index %d", rec.Index)
		}
		if rec.Index != i {
			return fmt.Errorf("index mismatch: expected %d got %d", i, rec.Index)
		}
	}
	return nil
}

// VerifySignatures checks that every record is signed by pub. Unsigned
// records fail verification.
func (l *Ledger) VerifySignatures(pub ed25519.PublicKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	want := hex.EncodeToString(pub)
	for _, rec := range l.records {
		if rec.Signature == "" {
			return fmt.Errorf("record %d is not signed", rec.Index)
		}
		if rec.PubKey != want {
			return fmt.Errorf("record %d signed by a different key", rec.Index)
		}
		ok, err := security.VerifySignature(pub, []byte(rec.Hash), rec.Signature)
		if err != nil {
			return fmt.Errorf("record %d: %w", rec.Index, err)
		}
		if !ok {
			return fmt.Errorf("bad signature at index %d", rec.Index)
		}
	}
	return nil
}
