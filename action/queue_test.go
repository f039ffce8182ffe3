package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueKeepsOneEntryPerField(t *testing.T) {
	q := NewQueue(0)

	assert.Equal(t, 0, q.Enqueue(Command{"0001", "1"}, Command{"0003", "2"}))
	assert.Equal(t, 1, q.Enqueue(Command{"0001", "0"}))
	assert.Equal(t, 1, q.Enqueue(Command{"0003", "5"}))

	pending := q.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, Command{"0001", "0"}, pending[0].Command)
	assert.Equal(t, Command{"0003", "5"}, pending[1].Command)
}

func TestEnqueueOverrideLeavesSkips(t *testing.T) {
	q := NewQueue(0)
	q.Enqueue(Command{"0001", "1"})
	q.Reconcile(Status{"0001": "0"})

	q.Enqueue(Command{"0001", "1"})
	require.Len(t, q.Pending(), 1)
	assert.Equal(t, 1, q.Pending()[0].Skips)
}

func TestReconcileFlushesMatchingCommand(t *testing.T) {
	q := NewQueue(0)
	q.Enqueue(Command{"0001", "1"})

	status := Status{"0001": "1", "0002": "2"}
	out := q.Reconcile(status)

	assert.Equal(t, Outcome{Flushed: 1}, out)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, Status{"0001": "1", "0002": "2"}, status)
}

func TestReconcileOverlaysUntilPurged(t *testing.T) {
	q := NewQueue(0)
	q.Enqueue(Command{"0001", "1"})

	for i := 1; i < MaximumSkips; i++ {
		status := Status{"0001": "0"}
		out := q.Reconcile(status)
		assert.Equal(t, Outcome{Kept: 1}, out, "pass %d", i)
		assert.Equal(t, "1", status["0001"], "pass %d", i)
		require.Len(t, q.Pending(), 1)
		assert.Equal(t, i, q.Pending()[0].Skips)
	}

	status := Status{"0001": "0"}
	out := q.Reconcile(status)
	assert.Equal(t, Outcome{Purged: 1}, out)
	assert.Equal(t, "0", status["0001"])
	assert.Equal(t, 0, q.Len())

	status = Status{"0001": "0"}
	assert.Equal(t, Outcome{}, q.Reconcile(status))
	assert.Equal(t, "0", status["0001"])
}

func TestReconcileMixedOutcome(t *testing.T) {
	q := NewQueue(2)
	q.Enqueue(Command{"0001", "1"}, Command{"0002", "5"}, Command{"0007", "3"})
	q.Reconcile(Status{"0001": "0", "0002": "5", "0007": "0"})

	q.Enqueue(Command{"0003", "2"})
	status := Status{"0001": "0", "0003": "1", "0007": "3"}
	out := q.Reconcile(status)

	assert.Equal(t, Outcome{Flushed: 1, Purged: 1, Kept: 1}, out)
	assert.Equal(t, "2", status["0003"])
	assert.Equal(t, "0", status["0001"])
	require.Len(t, q.Pending(), 1)
	assert.Equal(t, Field("0003"), q.Pending()[0].Field)
}

func TestReconcileMissingFieldCountsAsSkip(t *testing.T) {
	q := NewQueue(0)
	q.Enqueue(Command{"0031", "2"})

	status := Status{}
	q.Reconcile(status)
	assert.Equal(t, "2", status["0031"])
	assert.Equal(t, 1, q.Pending()[0].Skips)
}

func TestCommands(t *testing.T) {
	assert.Equal(t, []Command{{"0001", "1"}, {"0031", "2"}}, Commands("0001", "1", "0031", "2"))
}
