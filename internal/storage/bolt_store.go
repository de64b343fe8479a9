// Package storage keeps finished run reports in a bbolt file so that past
// verdicts can be listed and compared.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"vugate/internal/report"
)

const (
	BucketRuns = "runs"
)

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// HistoryItem is the listing view of a stored run.
type HistoryItem struct {
	ID          string        `json:"id"`
	Target      string        `json:"target"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Passed      bool          `json:"passed"`
	Interrupted bool          `json:"interrupted"`
	Requests    uint64        `json:"requests"`
	FailureRate float64       `json:"failure_rate"`
	P95Ms       float64       `json:"p95_ms"`
}

type Store struct {
	db *bbolt.DB
}

// Open creates path and its directory when missing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "create history directory")
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open history %s", path)
	}

	// Initialize Buckets
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init history")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores rep under its ID. IDs are UUIDv7, so key order is start order.
func (s *Store) Save(rep report.Report) error {
	if rep.ID == "" {
		return errors.New("report has no id")
	}
	data, err := json.Marshal(rep)
	if err != nil {
		return errors.Wrap(err, "encode report")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketRuns)).Put([]byte(rep.ID), data)
	})
}

// List returns up to limit runs, newest first. limit <= 0 lists everything.
// Entries that fail to decode are skipped.
func (s *Store) List(limit int) ([]HistoryItem, error) {
	var items []HistoryItem

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(items) >= limit {
				break
			}
			var rep report.Report
			if err := json.Unmarshal(v, &rep); err != nil {
				continue
			}
			items = append(items, itemOf(rep))
		}
		return nil
	})
	return items, err
}

// Get loads the full report of one run.
func (s *Store) Get(id string) (report.Report, error) {
	var rep report.Report
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(BucketRuns)).Get([]byte(id))
		if v == nil {
			return errors.Wrap(ErrNotFound, id)
		}
		return json.Unmarshal(v, &rep)
	})
	return rep, err
}

func itemOf(rep report.Report) HistoryItem {
	return HistoryItem{
		ID:          rep.ID,
		Target:      rep.Target,
		StartedAt:   rep.StartedAt,
		Duration:    rep.Duration,
		Passed:      rep.Passed,
		Interrupted: rep.Interrupted,
		Requests:    rep.Metrics.HTTPReqs.Count,
		FailureRate: rep.Metrics.HTTPReqFailed.Rate,
		P95Ms:       rep.Metrics.HTTPReqDuration.P95,
	}
}
