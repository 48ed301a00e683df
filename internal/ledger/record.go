package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Status is the outcome of one step.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Record is a tamper-evident entry for one pipeline step.
type Record struct {
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"`
	RunID     string `json:"runId"`
	Step      string `json:"step"`
	Status    Status `json:"status"`
	Attempts  int    `json:"attempts"`
	LogPath   string `json:"logPath,omitempty"`
	LogHash   string `json:"logHash,omitempty"`
	PrevHash  string `json:"prevHash"`
	Hash      string `json:"hash"`
	Signature string `json:"signature,omitempty"`
	PubKey    string `json:"pubKey,omitempty"`
}

// canonicalData returns the JSON bytes used to compute the record hash.
// It excludes Hash, Signature and PubKey.
func (r *Record) canonicalData() ([]byte, error) {
	view := struct {
		Index     int    `json:"index"`
		Timestamp string `json:"timestamp"`
		RunID     string `json:"runId"`
		Step      string `json:"step"`
		Status    Status `json:"status"`
		Attempts  int    `json:"attempts"`
		LogPath   string `json:"logPath"`
		LogHash   string `json:"logHash"`
		PrevHash  string `json:"prevHash"`
	}{
		Index:     r.Index,
		Timestamp: r.Timestamp,
		RunID:     r.RunID,
		Step:      r.Step,
		Status:    r.Status,
		Attempts:  r.Attempts,
		LogPath:   r.LogPath,
		LogHash:   r.LogHash,
		PrevHash:  r.PrevHash,
	}
	return json.Marshal(view)
}

// ComputeHash calculates SHA256 over canonicalData
func (r *Record) ComputeHash() (string, error) {
	data, err := r.canonicalData()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Entry holds the step fields of a new record.
type Entry struct {
	RunID    string
	Step     string
	Status   Status
	Attempts int
	LogPath  string
	LogHash  string
}

// NewRecord constructs a record and computes its hash (no signature yet).
func NewRecord(index int, prevHash string, e Entry) (*Record, error) {
	rec := &Record{
		Index:     index,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RunID:     e.RunID,
		Step:      e.Step,
		Status:    e.Status,
		Attempts:  e.Attempts,
		LogPath:   e.LogPath,
		LogHash:   e.LogHash,
		PrevHash:  prevHash,
	}

	h, err := rec.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("compute record hash: %w", err)
	}
	rec.Hash = h
	return rec, nil
}
