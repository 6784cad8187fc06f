// Package history records generation and churn runs in a pebble database.
package history

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
)

type Kind string

const (
	KindGenerate  Kind = "generate"
	KindChurn     Kind = "churn"
	KindAuthority Kind = "authority"
)

// Run is one recorded invocation.
type Run struct {
	ID         uuid.UUID `yaml:"id"`
	Kind       Kind      `yaml:"kind"`
	Directory  string    `yaml:"directory,omitempty"`
	ValidAfter time.Time `yaml:"valid_after,omitempty"`
	Relays     int       `yaml:"relays,omitempty"`
	Churned    int       `yaml:"churned,omitempty"`
	Time       time.Time `yaml:"time"`
}

var runPrefix = []byte("run/")

// Store keeps runs ordered by time.
type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open history at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// key is runPrefix, the big-endian run time, then the id, so iteration order
// is chronological.
func key(r Run) []byte {
	k := make([]byte, 0, len(runPrefix)+8+16)
	k = append(k, runPrefix...)
	k = binary.BigEndian.AppendUint64(k, uint64(r.Time.UnixNano()))
	return append(k, r.ID[:]...)
}

// Record stores run, assigning an id and time when unset, and returns it.
func (s *Store) Record(run Run) (Run, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Time.IsZero() {
		run.Time = time.Now().UTC()
	}
	value, err := yaml.Marshal(run)
	if err != nil {
		return run, err
	}
	if err := s.db.Set(key(run), value, pebble.Sync); err != nil {
		return run, fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return run, nil
}

// List returns up to limit runs, newest first. limit <= 0 returns all runs.
func (s *Store) List(limit int) ([]Run, error) {
	upper := append([]byte{}, runPrefix...)
	upper[len(upper)-1]++
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: runPrefix,
		UpperBound: upper,
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var runs []Run
	for iter.Last(); iter.Valid(); iter.Prev() {
		if limit > 0 && len(runs) >= limit {
			break
		}
		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}
		var run Run
		if err := yaml.Unmarshal(value, &run); err != nil {
			return nil, fmt.Errorf("corrupt history entry %x: %w", iter.Key(), err)
		}
		runs = append(runs, run)
	}
	return runs, iter.Error()
}
