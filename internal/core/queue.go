package core

import (
	"context"
	"database/sql"
	"sort"

	"github.com/ravaka/cardline/internal/db"
)

// QueueStatus is the operator view of one location's queue.
type QueueStatus struct {
	LocationID         string         `json:"location_id"`
	CurrentQueueSize   int            `json:"current_queue_size"`
	NextQueuePosition  int            `json:"next_queue_position"`
	TotalJobsProcessed int64          `json:"total_jobs_processed"`
	Jobs               []*db.PrintJob `json:"jobs"`
}

// Queue returns the active jobs for a location ordered by position.
func (w *Workflow) Queue(ctx context.Context, locationID string) (*QueueStatus, error) {
	jobs, err := db.Jobs.GetQueued(ctx, locationID)
	if err != nil {
		return nil, err
	}
	status := &QueueStatus{LocationID: locationID, Jobs: jobs}
	if status.Jobs == nil {
		status.Jobs = []*db.PrintJob{}
	}

	queue, err := db.Queues.Get(ctx, locationID)
	if err != nil {
		if err == sql.ErrNoRows {
			status.NextQueuePosition = 1
			return status, nil
		}
		return nil, err
	}
	status.CurrentQueueSize = queue.CurrentQueueSize
	status.NextQueuePosition = queue.NextQueuePosition
	status.TotalJobsProcessed = queue.TotalJobsProcessed
	return status, nil
}

// MoveToTop bumps an active job to position 1 at HIGH priority. Jobs that
// were ahead of it shift down one place each; jobs behind it keep their
// positions, so the range stays contiguous.
func (w *Workflow) MoveToTop(ctx context.Context, jobID, reason, actor string) (*db.PrintJob, error) {
	var job *db.PrintJob
	now := w.now().UTC()
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		job, err = w.getTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != StatusQueued && job.Status != StatusAssigned {
			return transitionErr(job.ID, job.Status, "cannot move to top: job is not in the active queue")
		}
		if job.QueuePosition == nil {
			return transitionErr(job.ID, job.Status, "cannot move to top: job has no queue position")
		}

		old := *job.QueuePosition
		if old > 1 {
			if err := db.Jobs.ShiftPositionsUpTx(ctx, tx, job.LocationID, old, job.ID); err != nil {
				return err
			}
			if err := db.Jobs.SetPositionTx(ctx, tx, job.ID, intPtr(1)); err != nil {
				return err
			}
		}
		if err := db.Jobs.SetPriorityTx(ctx, tx, job.ID, PriorityHigh); err != nil {
			return err
		}

		if err := db.QueueChanges.AddTx(ctx, tx, &db.QueueChange{
			JobID:       job.ID,
			Action:      "MOVE_TO_TOP",
			Reason:      &reason,
			Actor:       actor,
			OldPosition: &old,
			NewPosition: intPtr(1),
			ChangedAt:   now,
		}); err != nil {
			return err
		}

		// Status does not change; the history row records the reorder.
		return db.History.AddTx(ctx, tx, &db.StatusHistory{
			JobID:      job.ID,
			FromStatus: &job.Status,
			ToStatus:   job.Status,
			ChangedBy:  actor,
			Reason:     strPtr("moved to top of queue: " + reason),
			ChangedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}

	job.QueuePosition = intPtr(1)
	job.Priority = PriorityHigh
	return job, nil
}

// RecalculateQueue reassigns positions 1..N for a location, priority first
// and FIFO within equal priority. It is the repair operation for a queue
// whose positions have drifted.
func (w *Workflow) RecalculateQueue(ctx context.Context, locationID string) (int, error) {
	var size, moved int
	var drifted bool
	now := w.now().UTC()
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		jobs, err := db.Jobs.GetQueuedTx(ctx, tx, locationID)
		if err != nil {
			return err
		}
		drifted = positionsDrifted(jobs)

		sort.SliceStable(jobs, func(i, j int) bool {
			wi, wj := PriorityWeight(jobs[i].Priority), PriorityWeight(jobs[j].Priority)
			if wi != wj {
				return wi > wj
			}
			return jobs[i].SubmittedAt.Before(jobs[j].SubmittedAt)
		})

		for i, job := range jobs {
			position := i + 1
			if job.QueuePosition != nil && *job.QueuePosition == position {
				continue
			}
			old := job.QueuePosition
			if err := db.Jobs.SetPositionTx(ctx, tx, job.ID, &position); err != nil {
				return err
			}
			if err := db.QueueChanges.AddTx(ctx, tx, &db.QueueChange{
				JobID:       job.ID,
				Action:      "REBALANCED",
				Actor:       "system",
				OldPosition: old,
				NewPosition: &position,
				ChangedAt:   now,
			}); err != nil {
				return err
			}
			moved++
		}

		size = len(jobs)
		if err := db.Queues.EnsureTx(ctx, tx, locationID); err != nil {
			return err
		}
		return db.Queues.SetCountersTx(ctx, tx, locationID, size, size+1)
	})
	if err != nil {
		return 0, err
	}
	if drifted {
		w.log.Warn("queue positions had drifted, repaired",
			"location_id", locationID, "size", size, "moved", moved)
	} else {
		w.log.Info("queue recalculated", "location_id", locationID, "size", size, "moved", moved)
	}
	return size, nil
}

// positionsDrifted reports whether the stored positions fail to form a
// contiguous 1..N range.
func positionsDrifted(jobs []*db.PrintJob) bool {
	seen := make(map[int]bool, len(jobs))
	for _, job := range jobs {
		p := job.QueuePosition
		if p == nil || *p < 1 || *p > len(jobs) || seen[*p] {
			return true
		}
		seen[*p] = true
	}
	return false
}

// QueueChangeLog returns the audit trail of queue movements for a job.
func (w *Workflow) QueueChangeLog(ctx context.Context, jobID string) ([]*db.QueueChange, error) {
	if _, err := w.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return db.QueueChanges.ListForJob(ctx, jobID)
}
