package bridge

import (
	"errors"
	"testing"

	"github.com/kiosk404/cohort/internal/cohortd/service/events/domain/entity"
	"github.com/kiosk404/cohort/pkg/utils/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return p.err
}

func TestForwardPublishesPerTaskSubject(t *testing.T) {
	pub := &fakePublisher{}
	b := New(pub, "")

	b.Forward(&entity.Event{Seq: 7, TaskID: "task-1", Type: entity.EventTypeCost, CostDelta: 0.25})

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "cohort.events.task-1", pub.subjects[0])
	var got entity.Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, uint64(7), got.Seq)
	assert.Equal(t, 0.25, got.CostDelta)
}

func TestForwardSwallowsPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	b := New(pub, "org")
	assert.NotPanics(t, func() { b.Forward(&entity.Event{TaskID: "t"}) })
	assert.Equal(t, []string{"org.t"}, pub.subjects)
	b.Close()
}
