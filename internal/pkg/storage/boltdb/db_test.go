package boltdb

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/boltdb/bolt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesBuckets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cohort.db")

	db, err := Open(path, []byte("tasks"), []byte("events"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.EnsureBuckets([]byte("batch_jobs")))

	err = db.Bolt().View(func(tx *bolt.Tx) error {
		for _, name := range []string{"tasks", "events", "batch_jobs"} {
			assert.NotNil(t, tx.Bucket([]byte(name)), name)
		}
		return nil
	})
	require.NoError(t, err)

	assert.NoError(t, db.Close())
	assert.NoError(t, db.Close())
}

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestRecords(t *testing.T) {
	bucket := []byte("records")
	db, err := Open(filepath.Join(t.TempDir(), "cohort.db"), bucket)
	require.NoError(t, err)
	defer db.Close()

	missing := errors.New("missing")
	assert.ErrorIs(t, db.Replace(bucket, "a", &record{Name: "a"}, missing), missing)

	require.NoError(t, db.Insert(bucket, "a", &record{Name: "a", Count: 1}))
	assert.ErrorIs(t, db.Insert(bucket, "a", &record{Name: "a"}), ErrExists)
	require.NoError(t, db.Replace(bucket, "a", &record{Name: "a", Count: 2}, missing))
	require.NoError(t, db.Put(bucket, "b", &record{Name: "b", Count: 5}))

	var got record
	found, err := db.Get(bucket, "a", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, got.Count)

	found, err = db.Get(bucket, "zzz", &got)
	require.NoError(t, err)
	assert.False(t, found)

	all, err := Scan[record](db, bucket, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)

	big, err := Scan(db, bucket, func(r *record) bool { return r.Count > 3 })
	require.NoError(t, err)
	require.Len(t, big, 1)
	assert.Equal(t, "b", big[0].Name)
}
