package message_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nimbusgw/smppsim/internal/message"
)

func TestIDAllocatorMonotonic(t *testing.T) {
	a := message.NewIDAllocator(100)
	assert.Equal(t, "100", a.Next())
	assert.Equal(t, "101", a.Next())
	assert.Equal(t, "102", a.Next())
}

func TestIDAllocatorSeedsFromEpochWhenZero(t *testing.T) {
	a := message.NewIDAllocator(0)
	first := a.Next()
	second := a.Next()
	assert.NotEqual(t, first, second)
}

func TestQueuePush(t *testing.T) {
	q := message.NewQueue(2)
	q.Push(&message.Message{ID: "1"})
	q.Push(&message.Message{ID: "2"})

	assert.Equal(t, 2, q.Len())
	assert.EqualValues(t, 2, q.SubmittedTotal)
}

func TestQueueEvictsOldestOnOverflow(t *testing.T) {
	q := message.NewQueue(2)
	q.Push(&message.Message{ID: "1"})
	q.Push(&message.Message{ID: "2"})
	q.Push(&message.Message{ID: "3"})

	assert.Equal(t, 2, q.Len())
	assert.EqualValues(t, 1, q.EvictedTotal)

	snap := q.Snapshot()
	assert.Equal(t, "2", snap[0].ID)
	assert.Equal(t, "3", snap[1].ID)
}

func TestQueueSetCapacityEvictsImmediately(t *testing.T) {
	q := message.NewQueue(3)
	q.Push(&message.Message{ID: "1"})
	q.Push(&message.Message{ID: "2"})
	q.Push(&message.Message{ID: "3"})

	q.SetCapacity(1)
	assert.Equal(t, 1, q.Len())
	assert.EqualValues(t, 2, q.EvictedTotal)
	assert.Equal(t, "3", q.Snapshot()[0].ID)
}

func TestQueueSnapshotOrder(t *testing.T) {
	q := message.NewQueue(10)
	q.Push(&message.Message{ID: "1"})
	q.Push(&message.Message{ID: "2"})
	q.Push(&message.Message{ID: "3"})

	snap := q.Snapshot()
	assert.Len(t, snap, 3)
	assert.Equal(t, "1", snap[0].ID)
	assert.Equal(t, "3", snap[2].ID)
}

func TestStateString(t *testing.T) {
	tt := []struct {
		state message.State
		want  string
	}{
		{message.Enroute, "ENROUTE"},
		{message.Delivered, "DELIVRD"},
		{message.Undeliverable, "UNDELIV"},
		{message.Accepted, "ACCEPTD"},
		{message.Rejected, "REJECTD"},
		{message.Expired, "EXPIRED"},
		{message.Unknown, "UNKNOWN"},
	}
	for _, tc := range tt {
		assert.Equal(t, tc.want, tc.state.String())
	}
}
