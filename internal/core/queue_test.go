package core

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravaka/cardline/internal/db"
)

func queuePositions(t *testing.T, w *Workflow, locationID string) map[string]int {
	t.Helper()
	queue, err := w.Queue(context.Background(), locationID)
	require.NoError(t, err)
	positions := make(map[string]int, len(queue.Jobs))
	for _, job := range queue.Jobs {
		require.NotNil(t, job.QueuePosition)
		positions[job.ID] = *job.QueuePosition
	}
	return positions
}

func TestQueueForUnknownLocationIsEmpty(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})

	queue, err := w.Queue(context.Background(), uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, queue.Jobs)
	assert.Equal(t, 0, queue.CurrentQueueSize)
	assert.Equal(t, 1, queue.NextQueuePosition)
}

func TestMoveToTopShiftsJobsAhead(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()
	locationID := uuid.NewString()

	var jobs []*db.PrintJob
	for i := 0; i < 3; i++ {
		job, err := w.CreateJob(ctx, newJobRequest(locationID, "R01"))
		require.NoError(t, err)
		jobs = append(jobs, job)
	}

	moved, err := w.MoveToTop(ctx, jobs[2].ID, "person waiting at counter", "supervisor-1")
	require.NoError(t, err)
	assert.Equal(t, 1, *moved.QueuePosition)
	assert.Equal(t, PriorityHigh, moved.Priority)
	assert.Equal(t, StatusQueued, moved.Status)

	positions := queuePositions(t, w, locationID)
	assert.Equal(t, 1, positions[jobs[2].ID])
	assert.Equal(t, 2, positions[jobs[0].ID])
	assert.Equal(t, 3, positions[jobs[1].ID])

	changes, err := w.QueueChangeLog(ctx, jobs[2].ID)
	require.NoError(t, err)
	last := changes[len(changes)-1]
	assert.Equal(t, "MOVE_TO_TOP", last.Action)
	require.NotNil(t, last.OldPosition)
	assert.Equal(t, 3, *last.OldPosition)
	require.NotNil(t, last.NewPosition)
	assert.Equal(t, 1, *last.NewPosition)
}

func TestMoveToTopAlreadyFirstKeepsOrder(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()
	locationID := uuid.NewString()

	first, err := w.CreateJob(ctx, newJobRequest(locationID, "R02"))
	require.NoError(t, err)
	second, err := w.CreateJob(ctx, newJobRequest(locationID, "R02"))
	require.NoError(t, err)

	moved, err := w.MoveToTop(ctx, first.ID, "expedite", "supervisor-1")
	require.NoError(t, err)
	assert.Equal(t, 1, *moved.QueuePosition)

	positions := queuePositions(t, w, locationID)
	assert.Equal(t, 1, positions[first.ID])
	assert.Equal(t, 2, positions[second.ID])
}

func TestMoveToTopRejectsJobsOutsideQueue(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()

	job, err := w.CreateJob(ctx, newJobRequest(uuid.NewString(), "R03"))
	require.NoError(t, err)
	_, err = w.Assign(ctx, job.ID, "operator-1", "test-operator")
	require.NoError(t, err)
	printer := "printer-hw-1"
	_, err = w.StartPrinting(ctx, job.ID, &printer, "operator-1")
	require.NoError(t, err)

	_, err = w.MoveToTop(ctx, job.ID, "too late", "supervisor-1")
	var te *TransitionError
	require.ErrorAs(t, err, &te)
}

func TestRecalculateQueueOrdersByPriorityThenSubmission(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()
	locationID := uuid.NewString()

	mkJob := func(priority string) *db.PrintJob {
		req := newJobRequest(locationID, "R04")
		req.Priority = priority
		job, err := w.CreateJob(ctx, req)
		require.NoError(t, err)
		// Distinct submission instants keep FIFO ties deterministic.
		time.Sleep(2 * time.Millisecond)
		return job
	}

	normalA := mkJob(PriorityNormal)
	urgent := mkJob(PriorityUrgent)
	normalB := mkJob(PriorityNormal)
	high := mkJob(PriorityHigh)

	updated, err := w.RecalculateQueue(ctx, locationID)
	require.NoError(t, err)
	assert.Equal(t, 4, updated)

	positions := queuePositions(t, w, locationID)
	assert.Equal(t, 1, positions[urgent.ID])
	assert.Equal(t, 2, positions[high.ID])
	assert.Equal(t, 3, positions[normalA.ID])
	assert.Equal(t, 4, positions[normalB.ID])

	queue, err := w.Queue(ctx, locationID)
	require.NoError(t, err)
	assert.Equal(t, 4, queue.CurrentQueueSize)
	assert.Equal(t, 5, queue.NextQueuePosition)
}

func TestRecalculateQueuePutsReprintsFirst(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()
	locationID := uuid.NewString()

	urgent, err := w.CreateJob(ctx, func() CreateJobRequest {
		req := newJobRequest(locationID, "R05")
		req.Priority = PriorityUrgent
		return req
	}())
	require.NoError(t, err)

	original, err := w.CreateJob(ctx, newJobRequest(locationID, "R05"))
	require.NoError(t, err)
	advanceToQualityCheck(t, w, original.ID)
	notes := "wrong name encoded in the data zone"
	_, err = w.CompleteQualityCheck(ctx, original.ID, QAFailedData, &notes, "inspector-1")
	require.NoError(t, err)

	_, err = w.RecalculateQueue(ctx, locationID)
	require.NoError(t, err)

	queue, err := w.Queue(ctx, locationID)
	require.NoError(t, err)
	require.Len(t, queue.Jobs, 2)
	assert.Equal(t, PriorityReprint, queue.Jobs[0].Priority)
	assert.Equal(t, urgent.ID, queue.Jobs[1].ID)
}

// A drifted queue (gap left by a bad write) is repaired back to 1..N and
// every repositioned job gets an audit entry.
func TestRecalculateQueueRepairsDriftWithAudit(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()
	locationID := uuid.NewString()

	first, err := w.CreateJob(ctx, newJobRequest(locationID, "R06"))
	require.NoError(t, err)
	second, err := w.CreateJob(ctx, newJobRequest(locationID, "R06"))
	require.NoError(t, err)

	// Tear a gap into the position range.
	require.NoError(t, db.WithTx(ctx, func(tx *sql.Tx) error {
		return db.Jobs.SetPositionTx(ctx, tx, second.ID, intPtr(5))
	}))

	size, err := w.RecalculateQueue(ctx, locationID)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	positions := queuePositions(t, w, locationID)
	assert.Equal(t, 1, positions[first.ID])
	assert.Equal(t, 2, positions[second.ID])

	changes, err := w.QueueChangeLog(ctx, second.ID)
	require.NoError(t, err)
	last := changes[len(changes)-1]
	assert.Equal(t, "REBALANCED", last.Action)
	require.NotNil(t, last.OldPosition)
	assert.Equal(t, 5, *last.OldPosition)
	require.NotNil(t, last.NewPosition)
	assert.Equal(t, 2, *last.NewPosition)

	// The untouched job keeps its position and gains no audit entry.
	changes, err = w.QueueChangeLog(ctx, first.ID)
	require.NoError(t, err)
	for _, c := range changes {
		assert.NotEqual(t, "REBALANCED", c.Action)
	}
}
