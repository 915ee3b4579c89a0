package scene

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"
)

const (
	sceneBucket     = "scene"
	historyBucket   = "history"
	currentKey      = "current"
	defaultKeepLast = 10
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no saved scene")

// Store persists scene snapshots in a bbolt database.
type Store struct {
	db       *bbolt.DB
	keepLast int
}

// OpenStore opens or creates the scene database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{sceneBucket, historyBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, keepLast: defaultKeepLast}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes snap as the current scene and appends it to the history,
// trimming the history to the most recent entries.
func (s *Store) Save(snap Snapshot) error {
	data, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(sceneBucket)).Put([]byte(currentKey), data); err != nil {
			return err
		}

		hist := tx.Bucket([]byte(historyBucket))
		seq, err := hist.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := hist.Put(key, data); err != nil {
			return err
		}

		var keys [][]byte
		c := hist.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for i := 0; i < len(keys)-s.keepLast; i++ {
			if err := hist.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load returns the current scene snapshot.
func (s *Store) Load() (Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(sceneBucket)).Get([]byte(currentKey))
		if data == nil {
			return ErrNoSnapshot
		}
		if err := cbor.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("failed to decode snapshot: %w", err)
		}
		return nil
	})
	return snap, err
}

// History returns saved snapshots, oldest first.
func (s *Store) History() ([]Snapshot, error) {
	var out []Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(historyBucket)).ForEach(func(_, v []byte) error {
			var snap Snapshot
			if err := cbor.Unmarshal(v, &snap); err != nil {
				return fmt.Errorf("failed to decode snapshot: %w", err)
			}
			out = append(out, snap)
			return nil
		})
	})
	return out, err
}
