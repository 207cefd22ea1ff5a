// Package storage holds the advisory, append-only audit trail of
// committed lock operations. It is never consulted to decide a lock
// operation's outcome — that's lockstore/lockfsm's job, replicated
// through the Raft log — it exists purely for operator visibility.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/lockring/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketAudit = []byte("audit")

// AuditEntry records one committed lock operation for later inspection.
type AuditEntry struct {
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Op        types.Op        `json:"op"`
	LockID    string          `json:"lock_id"`
	ClientID  string          `json:"client_id,omitempty"`
	Status    types.LockStatus `json:"status"`
}

// AuditStore is a bbolt-backed append-only log of AuditEntry records.
type AuditStore struct {
	db *bolt.DB
}

// NewAuditStore opens (creating if necessary) a bbolt database at path
// and ensures the audit bucket exists.
func NewAuditStore(path string) (*AuditStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAudit)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit bucket: %w", err)
	}

	return &AuditStore{db: db}, nil
}

// Append records one entry, assigning it the next sequence number.
func (a *AuditStore) Append(entry AuditEntry) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry.Seq = seq
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now()
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// Tail returns the last n entries, oldest first.
func (a *AuditStore) Tail(n int) ([]AuditEntry, error) {
	var out []AuditEntry
	err := a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		c := b.Cursor()
		count := 0
		for k, v := c.Last(); k != nil && count < n; k, v = c.Prev() {
			var e AuditEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			count++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close closes the underlying database file.
func (a *AuditStore) Close() error {
	return a.db.Close()
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}
