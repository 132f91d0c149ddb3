// Package history is a durable, non-authoritative record of completed
// task runs, stored in BoltDB. It exists purely for operator visibility
// (a "what ran recently" view); nothing in the at-least-once status
// reporting path depends on it, and a write failure here never changes a
// task's outcome.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/swarmguard/worker/internal/task"
)

var bucketTerminalRecords = []byte("terminal_records")

// Store persists task.TerminalRecord values keyed by a time-ordered index
// so ListRecent can return the newest N without scanning the whole bucket.
type Store struct {
	db *bbolt.DB
	mu sync.Mutex
}

// Open creates/opens the BoltDB file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("history: open boltdb: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTerminalRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// record is the on-disk shape; TerminalRecord itself carries time.Time
// fields that json handles fine, kept as a distinct type in case the
// wire shape needs to diverge from the in-memory one later.
type record struct {
	TaskInstanceID    int64       `json:"taskInstanceId"`
	ProcessInstanceID int64       `json:"processInstanceId"`
	TaskAppID         string      `json:"taskAppId"`
	TaskType          string      `json:"taskType"`
	Status            task.Status `json:"status"`
	StartTime         time.Time   `json:"startTime"`
	EndTime           time.Time   `json:"endTime"`
	ProcessID         int         `json:"processId"`
	AppIDs            string      `json:"appIds"`
}

// PutTerminal stores rec, keyed by end time so byte order is completion
// order, oldest first (ListRecent walks it backwards for newest-first). It
// logs and swallows any I/O error: history is enrichment, not the source
// of truth.
func (s *Store) PutTerminal(rec task.TerminalRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(record(rec))
	if err != nil {
		slog.Warn("history: marshal terminal record failed", "task_app_id", rec.TaskAppID, "error", err)
		return
	}

	key := fmt.Sprintf("%020d:%s", rec.EndTime.UnixNano(), rec.TaskAppID)
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTerminalRecords).Put([]byte(key), data)
	})
	if err != nil {
		slog.Warn("history: write terminal record failed", "task_app_id", rec.TaskAppID, "error", err)
	}
}

// PruneOlderThan deletes every record whose EndTime is before cutoff,
// returning the number removed. Keys are zero-padded nanosecond
// timestamps, so byte order matches time order and pruning can stop at
// the first key at or past cutoff instead of scanning the whole bucket.
func (s *Store) PruneOlderThan(cutoff time.Time) (int, error) {
	cutoffKey := []byte(fmt.Sprintf("%020d", cutoff.UnixNano()))

	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTerminalRecords)
		cursor := bucket.Cursor()
		var stale [][]byte
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			if bytes.Compare(k, cutoffKey) >= 0 {
				break
			}
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return removed, nil
}

// ListRecent returns up to limit terminal records, most recently
// completed first.
func (s *Store) ListRecent(limit int) ([]task.TerminalRecord, error) {
	var out []task.TerminalRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketTerminalRecords).Cursor()
		count := 0
		for k, v := cursor.Last(); k != nil && count < limit; k, v = cursor.Prev() {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			out = append(out, task.TerminalRecord(rec))
			count++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: list recent: %w", err)
	}
	return out, nil
}
