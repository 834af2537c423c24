package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/boltdb/bolt"
	"github.com/kiosk404/cohort/internal/cohortd/service/events/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/events/domain/repo"
	"github.com/kiosk404/cohort/internal/pkg/storage/boltdb"
	"github.com/kiosk404/cohort/pkg/utils/json"
)

// BucketEvents holds every event keyed by "<taskID>\x00<seq big-endian>".
var BucketEvents = []byte("events")

var _ repo.EventRepository = (*EventStore)(nil)

// EventStore is a BoltDB-backed event log.
type EventStore struct {
	db *bolt.DB
}

// NewEventStore creates the events bucket if needed.
func NewEventStore(db *boltdb.DB) (*EventStore, error) {
	if err := db.EnsureBuckets(BucketEvents); err != nil {
		return nil, err
	}
	return &EventStore{db: db.Bolt()}, nil
}

func eventKey(taskID string, seq uint64) []byte {
	key := make([]byte, 0, len(taskID)+9)
	key = append(key, taskID...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint64(key, seq)
}

func (s *EventStore) Append(_ context.Context, event *entity.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketEvents)
		if err := b.Put(eventKey(event.TaskID, event.Seq), data); err != nil {
			return err
		}
		if event.Seq > b.Sequence() {
			return b.SetSequence(event.Seq)
		}
		return nil
	})
}

func (s *EventStore) History(_ context.Context, taskID string) ([]*entity.Event, error) {
	var events []*entity.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(BucketEvents).Cursor()
		decode := func(v []byte) error {
			var e entity.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to unmarshal event: %w", err)
			}
			events = append(events, &e)
			return nil
		}
		if taskID == "" {
			for k, v := c.First(); k != nil; k, v = c.Next() {
				if err := decode(v); err != nil {
					return err
				}
			}
			return nil
		}
		prefix := append([]byte(taskID), 0)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := decode(v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read events of %q: %w", taskID, err)
	}
	if taskID == "" {
		sortBySeq(events)
	}
	return events, nil
}

func (s *EventStore) LastSeq(_ context.Context) (uint64, error) {
	var seq uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		seq = tx.Bucket(BucketEvents).Sequence()
		return nil
	})
	return seq, err
}

// Keys group by task, so the full log needs reordering.
func sortBySeq(events []*entity.Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
}
