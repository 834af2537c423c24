// Package boltdb owns the single BoltDB file shared by every durable store.
// Bolt holds an exclusive file lock, so stores never open the file themselves.
package boltdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/kiosk404/cohort/pkg/utils/json"
)

const lockTimeout = 2 * time.Second

// ErrExists is returned by Insert when the key is already taken.
var ErrExists = errors.New("record already exists")

// DB is the shared database handle. Records are stored as JSON, one bucket
// per record kind.
type DB struct {
	bolt      *bolt.DB
	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates the file at path, then creates any missing bucket.
func Open(path string, buckets ...[]byte) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	d := &DB{bolt: bdb}
	if err := d.EnsureBuckets(buckets...); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return d, nil
}

// EnsureBuckets creates the given buckets if they are missing.
func (d *DB) EnsureBuckets(buckets ...[]byte) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close may be called more than once.
func (d *DB) Close() error {
	d.closeOnce.Do(func() { d.closeErr = d.bolt.Close() })
	return d.closeErr
}

// Bolt exposes the raw handle for stores that need cursors or sequences.
func (d *DB) Bolt() *bolt.DB {
	return d.bolt
}

// Put stores v under key, replacing any previous record.
func (d *DB) Put(bucket []byte, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", bucket, key, err)
	}
	return d.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

// Insert stores v under key unless the key is taken.
func (d *DB) Insert(bucket []byte, key string, v any) error {
	return d.write(bucket, key, v, func(exists bool) error {
		if exists {
			return fmt.Errorf("%s/%s: %w", bucket, key, ErrExists)
		}
		return nil
	})
}

// Replace stores v under key only if a record is already there; otherwise it
// returns missing.
func (d *DB) Replace(bucket []byte, key string, v any, missing error) error {
	return d.write(bucket, key, v, func(exists bool) error {
		if !exists {
			return missing
		}
		return nil
	})
}

func (d *DB) write(bucket []byte, key string, v any, check func(exists bool) error) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", bucket, key, err)
	}
	return d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if err := check(b.Get([]byte(key)) != nil); err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// Get decodes the record under key into v and reports whether it existed.
func (d *DB) Get(bucket []byte, key string, v any) (bool, error) {
	found := false
	err := d.bolt.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("decode %s/%s: %w", bucket, key, err)
		}
		return nil
	})
	return found, err
}

// Scan decodes every record of bucket and returns those keep accepts, in key
// order. A nil keep accepts everything.
func Scan[T any](d *DB, bucket []byte, keep func(*T) bool) ([]*T, error) {
	var out []*T
	err := d.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			rec := new(T)
			if err := json.Unmarshal(v, rec); err != nil {
				return fmt.Errorf("decode %s/%s: %w", bucket, k, err)
			}
			if keep == nil || keep(rec) {
				out = append(out, rec)
			}
			return nil
		})
	})
	return out, err
}
