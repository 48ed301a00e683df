package ledger

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"shipit/internal/security"
)

// Ledger is an append-only, hash-chained log of step outcomes kept as
// JSON lines (one record per line).
type Ledger struct {
	mu      sync.Mutex
	records []*Record
	path    string
}

// OpenLedger loads an existing ledger file or creates an empty one.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		_ = f.Close()
		return l, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode ledger entry %d: %w", len(l.records), err)
		}
		l.records = append(l.records, &rec)
	}
	return l, nil
}

// Path is the backing file.
func (l *Ledger) Path() string { return l.path }

// Append links rec to the current tail, optionally signs its hash with
// priv, persists it and keeps it in memory. A nil priv leaves the
// record unsigned.
func (l *Ledger) Append(rec *Record, priv ed25519.PrivateKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.records); n > 0 {
		last := l.records[n-1]
		if rec.PrevHash != last.Hash {
			return fmt.Errorf("prevHash mismatch: expected %s, got %s", last.Hash, rec.PrevHash)
		}
		if rec.Index != last.Index+1 {
			return fmt.Errorf("index mismatch: expected %d, got %d", last.Index+1, rec.Index)
		}
	}

	// recompute so canonical fields and hash always agree
	h, err := rec.ComputeHash()
	if err != nil {
		return fmt.Errorf("recompute record hash: %w", err)
	}
	rec.Hash = h

	if len(priv) > 0 {
		rec.Signature = security.SignData(priv, []byte(rec.Hash))
		rec.PubKey = hex.EncodeToString(priv.Public().(ed25519.PublicKey))
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		return fmt.Errorf("write ledger file: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write ledger file: %w", err)
	}

	l.records = append(l.records, rec)
	return nil
}

// Add builds the next record for e and appends it.
func (l *Ledger) Add(e Entry, priv ed25519.PrivateKey) (*Record, error) {
	rec, err := NewRecord(l.NextIndex(), l.LastHash(), e)
	if err != nil {
		return nil, err
	}
	if err := l.Append(rec, priv); err != nil {
		return nil, err
	}
	return rec, nil
}

// Records returns a snapshot of the loaded records.
func (l *Ledger) Records() []*Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Record, len(l.records))
	copy(out, l.records)
	return out
}

// NextIndex returns the next record index.
func (l *Ledger) NextIndex() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// LastHash returns the last record hash (or empty if none)
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) == 0 {
		return ""
	}
	return l.records[len(l.records)-1].Hash
}
