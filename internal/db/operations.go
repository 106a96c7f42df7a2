package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// WithTx runs fn inside a transaction, rolling back on error.
func WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := GetDB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*PrintJob, error) {
	j := &PrintJob{}
	err := row.Scan(
		&j.ID, &j.JobNumber, &j.Status, &j.Priority, &j.QueuePosition,
		&j.PersonID, &j.LocationID, &j.LocationCode,
		&j.PrimaryApplicationID, &j.CardNumber, &j.CardTemplate, &j.LicenseData, &j.PersonData,
		&j.AssignedTo, &j.AssignedAt, &j.PrinterHardwareID, &j.PrintingStartedAt, &j.PrintingCompletedAt,
		&j.QAStartedAt, &j.QACompletedAt, &j.QAResult, &j.QABy, &j.QANotes,
		&j.OriginalJobID, &j.ReprintReason, &j.ReprintCount,
		&j.ArtifactsGenerated, &j.ArtifactError, &j.RendererVersion, &j.ArtifactsGeneratedAt,
		&j.FrontImagePath, &j.BackImagePath, &j.FrontPDFPath, &j.BackPDFPath, &j.CombinedPDFPath,
		&j.ArtifactBytes, &j.ArtifactsDeleted, &j.BytesFreed, &j.CleanupVerified, &j.ManualCleanupNeeded,
		&j.ProductionNotes, &j.SubmittedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func scanJobs(rows *sql.Rows) ([]*PrintJob, error) {
	var jobs []*PrintJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type JobOperations struct{}

func (o *JobOperations) CreateTx(ctx context.Context, tx *sql.Tx, j *PrintJob) error {
	_, err := tx.ExecContext(ctx, InsertJob,
		j.ID, j.JobNumber, j.Status, j.Priority, j.QueuePosition,
		j.PersonID, j.LocationID, j.LocationCode,
		j.PrimaryApplicationID, j.CardNumber, j.CardTemplate, j.LicenseData, j.PersonData,
		j.OriginalJobID, j.ReprintReason, j.ReprintCount,
		j.ArtifactsGenerated, j.ArtifactError, j.RendererVersion, j.ArtifactsGeneratedAt,
		j.FrontImagePath, j.BackImagePath, j.FrontPDFPath, j.BackPDFPath, j.CombinedPDFPath,
		j.ArtifactBytes, j.SubmittedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByIDTx exists because the pool is capped at one connection: any read
// issued outside an open transaction would deadlock waiting for it.
func (o *JobOperations) GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (*PrintJob, error) {
	j, err := scanJob(tx.QueryRowContext(ctx, GetJobByID, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (o *JobOperations) GetByID(ctx context.Context, id string) (*PrintJob, error) {
	j, err := scanJob(GetDB().QueryRowContext(ctx, GetJobByID, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (o *JobOperations) GetByNumber(ctx context.Context, number string) (*PrintJob, error) {
	j, err := scanJob(GetDB().QueryRowContext(ctx, GetJobByNumber, number))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job by number: %w", err)
	}
	return j, nil
}

func (o *JobOperations) GetQueued(ctx context.Context, locationID string) ([]*PrintJob, error) {
	rows, err := GetDB().QueryContext(ctx, GetQueuedJobs, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get queued jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (o *JobOperations) GetQueuedTx(ctx context.Context, tx *sql.Tx, locationID string) ([]*PrintJob, error) {
	rows, err := tx.QueryContext(ctx, GetQueuedJobs, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get queued jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (o *JobOperations) GetActiveForPerson(ctx context.Context, personID string) (*PrintJob, error) {
	j, err := scanJob(GetDB().QueryRowContext(ctx, GetActiveJobForPerson, personID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get active job for person: %w", err)
	}
	return j, nil
}

func (o *JobOperations) CountForDayTx(ctx context.Context, tx *sql.Tx, locationCode, numberPrefix string) (int64, error) {
	var count int64
	err := tx.QueryRowContext(ctx, CountJobsForDay, locationCode, numberPrefix+"%").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs for day: %w", err)
	}
	return count, nil
}

func (o *JobOperations) List(ctx context.Context, filter JobFilter) ([]*PrintJob, error) {
	var conditions []string
	var args []interface{}

	if filter.LocationID != "" {
		conditions = append(conditions, "location_id = ?")
		args = append(args, filter.LocationID)
	}
	if filter.PersonID != "" {
		conditions = append(conditions, "person_id = ?")
		args = append(args, filter.PersonID)
	}
	if filter.ApplicationID != "" {
		conditions = append(conditions, "id IN (SELECT job_id FROM print_job_applications WHERE application_id = ?)")
		args = append(args, filter.ApplicationID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, filter.Priority)
	}
	if filter.JobNumber != "" {
		conditions = append(conditions, "job_number = ?")
		args = append(args, filter.JobNumber)
	}
	if filter.CardNumber != "" {
		conditions = append(conditions, "card_number = ?")
		args = append(args, filter.CardNumber)
	}
	if filter.FromDate != nil {
		conditions = append(conditions, "submitted_at >= ?")
		args = append(args, filter.FromDate)
	}
	if filter.ToDate != nil {
		conditions = append(conditions, "submitted_at <= ?")
		args = append(args, filter.ToDate)
	}

	query := "SELECT " + jobColumns + " FROM print_jobs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY submitted_at DESC"

	limit := 100
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (o *JobOperations) CountByStatus(ctx context.Context, locationID string) ([]*StatusCount, error) {
	query := "SELECT status, COUNT(*) FROM print_jobs"
	var args []interface{}
	if locationID != "" {
		query += " WHERE location_id = ?"
		args = append(args, locationID)
	}
	query += " GROUP BY status"

	rows, err := GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	defer rows.Close()

	var counts []*StatusCount
	for rows.Next() {
		c := &StatusCount{}
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (o *JobOperations) AssignTx(ctx context.Context, tx *sql.Tx, id, operator string, at time.Time) error {
	_, err := tx.ExecContext(ctx, UpdateJobAssignment, operator, at, id)
	if err != nil {
		return fmt.Errorf("failed to assign job: %w", err)
	}
	return nil
}

func (o *JobOperations) StartPrintingTx(ctx context.Context, tx *sql.Tx, id string, hardwareID *string, at time.Time) error {
	_, err := tx.ExecContext(ctx, UpdateJobPrintingStarted, hardwareID, at, id)
	if err != nil {
		return fmt.Errorf("failed to start printing: %w", err)
	}
	return nil
}

func (o *JobOperations) CompletePrintingTx(ctx context.Context, tx *sql.Tx, id string, notes *string, at time.Time) error {
	_, err := tx.ExecContext(ctx, UpdateJobPrintingCompleted, at, notes, id)
	if err != nil {
		return fmt.Errorf("failed to complete printing: %w", err)
	}
	return nil
}

func (o *JobOperations) StartQATx(ctx context.Context, tx *sql.Tx, id, operator string, at time.Time) error {
	_, err := tx.ExecContext(ctx, UpdateJobQAStarted, at, operator, id)
	if err != nil {
		return fmt.Errorf("failed to start quality check: %w", err)
	}
	return nil
}

func (o *JobOperations) CompleteQATx(ctx context.Context, tx *sql.Tx, id, status, result, operator string, notes *string, at time.Time, completedAt *time.Time) error {
	_, err := tx.ExecContext(ctx, UpdateJobQACompleted, status, at, result, operator, notes, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to complete quality check: %w", err)
	}
	return nil
}

func (o *JobOperations) RequeueTx(ctx context.Context, tx *sql.Tx, id, priority string, position int) error {
	_, err := tx.ExecContext(ctx, UpdateJobRequeued, priority, position, id)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	return nil
}

func (o *JobOperations) CancelTx(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	_, err := tx.ExecContext(ctx, UpdateJobCancelled, at, id)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	return nil
}

func (o *JobOperations) FailTx(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	_, err := tx.ExecContext(ctx, UpdateJobFailed, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

func (o *JobOperations) SetStatusTx(ctx context.Context, tx *sql.Tx, id, status string) error {
	_, err := tx.ExecContext(ctx, UpdateJobStatus, status, id)
	if err != nil {
		return fmt.Errorf("failed to set job status: %w", err)
	}
	return nil
}

func (o *JobOperations) SetPriorityTx(ctx context.Context, tx *sql.Tx, id, priority string) error {
	_, err := tx.ExecContext(ctx, UpdateJobPriority, priority, id)
	if err != nil {
		return fmt.Errorf("failed to set job priority: %w", err)
	}
	return nil
}

func (o *JobOperations) SetPositionTx(ctx context.Context, tx *sql.Tx, id string, position *int) error {
	_, err := tx.ExecContext(ctx, UpdateJobPosition, position, id)
	if err != nil {
		return fmt.Errorf("failed to set queue position: %w", err)
	}
	return nil
}

func (o *JobOperations) ShiftPositionsDownTx(ctx context.Context, tx *sql.Tx, locationID string, above int) error {
	_, err := tx.ExecContext(ctx, ShiftPositionsDown, locationID, above)
	if err != nil {
		return fmt.Errorf("failed to shift queue positions down: %w", err)
	}
	return nil
}

func (o *JobOperations) ShiftPositionsUpTx(ctx context.Context, tx *sql.Tx, locationID string, below int, excludeJobID string) error {
	_, err := tx.ExecContext(ctx, ShiftPositionsUp, locationID, below, excludeJobID)
	if err != nil {
		return fmt.Errorf("failed to shift queue positions up: %w", err)
	}
	return nil
}

func (o *JobOperations) ShiftAllPositionsUpTx(ctx context.Context, tx *sql.Tx, locationID, excludeJobID string) error {
	_, err := tx.ExecContext(ctx, ShiftAllPositionsUp, locationID, excludeJobID)
	if err != nil {
		return fmt.Errorf("failed to shift queue positions up: %w", err)
	}
	return nil
}

func (o *JobOperations) UpdateArtifacts(ctx context.Context, j *PrintJob) error {
	_, err := GetDB().ExecContext(ctx, UpdateJobArtifacts,
		j.ArtifactsGenerated, j.ArtifactError, j.RendererVersion, j.ArtifactsGeneratedAt,
		j.FrontImagePath, j.BackImagePath, j.FrontPDFPath, j.BackPDFPath, j.CombinedPDFPath,
		j.ArtifactBytes, j.ID)
	if err != nil {
		return fmt.Errorf("failed to update job artifacts: %w", err)
	}
	return nil
}

func (o *JobOperations) UpdateCleanup(ctx context.Context, id string, deleted bool, bytesFreed int64, verified, manualNeeded bool) error {
	_, err := GetDB().ExecContext(ctx, UpdateJobCleanup, deleted, bytesFreed, verified, manualNeeded, id)
	if err != nil {
		return fmt.Errorf("failed to update job cleanup: %w", err)
	}
	return nil
}

type ApplicationOperations struct{}

func (o *ApplicationOperations) AddTx(ctx context.Context, tx *sql.Tx, a *JobApplication) error {
	_, err := tx.ExecContext(ctx, InsertJobApplication, a.JobID, a.ApplicationID, a.IsPrimary, a.AddedBy)
	if err != nil {
		return fmt.Errorf("failed to add job application: %w", err)
	}
	return nil
}

func (o *ApplicationOperations) ListForJobTx(ctx context.Context, tx *sql.Tx, jobID string) ([]*JobApplication, error) {
	rows, err := tx.QueryContext(ctx, GetJobApplications, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job applications: %w", err)
	}
	defer rows.Close()

	var apps []*JobApplication
	for rows.Next() {
		a := &JobApplication{}
		if err := rows.Scan(&a.JobID, &a.ApplicationID, &a.IsPrimary, &a.AddedBy, &a.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job application: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

func (o *ApplicationOperations) ListForJob(ctx context.Context, jobID string) ([]*JobApplication, error) {
	rows, err := GetDB().QueryContext(ctx, GetJobApplications, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job applications: %w", err)
	}
	defer rows.Close()

	var apps []*JobApplication
	for rows.Next() {
		a := &JobApplication{}
		if err := rows.Scan(&a.JobID, &a.ApplicationID, &a.IsPrimary, &a.AddedBy, &a.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job application: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

type HistoryOperations struct{}

func (o *HistoryOperations) AddTx(ctx context.Context, tx *sql.Tx, h *StatusHistory) error {
	result, err := tx.ExecContext(ctx, InsertStatusHistory,
		h.JobID, h.FromStatus, h.ToStatus, h.ChangedBy, h.Reason, h.Notes, h.ChangedAt)
	if err != nil {
		return fmt.Errorf("failed to add status history: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get status history id: %w", err)
	}
	h.ID = id
	return nil
}

func (o *HistoryOperations) ListForJob(ctx context.Context, jobID string) ([]*StatusHistory, error) {
	rows, err := GetDB().QueryContext(ctx, GetStatusHistory, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list status history: %w", err)
	}
	defer rows.Close()

	var entries []*StatusHistory
	for rows.Next() {
		h := &StatusHistory{}
		if err := rows.Scan(&h.ID, &h.JobID, &h.FromStatus, &h.ToStatus,
			&h.ChangedBy, &h.Reason, &h.Notes, &h.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status history: %w", err)
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

type QueueChangeOperations struct{}

func (o *QueueChangeOperations) AddTx(ctx context.Context, tx *sql.Tx, c *QueueChange) error {
	_, err := tx.ExecContext(ctx, InsertQueueChange,
		c.JobID, c.Action, c.Reason, c.Actor, c.OldPosition, c.NewPosition, c.ChangedAt)
	if err != nil {
		return fmt.Errorf("failed to add queue change: %w", err)
	}
	return nil
}

func (o *QueueChangeOperations) ListForJob(ctx context.Context, jobID string) ([]*QueueChange, error) {
	rows, err := GetDB().QueryContext(ctx, GetQueueChanges, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue changes: %w", err)
	}
	defer rows.Close()

	var changes []*QueueChange
	for rows.Next() {
		c := &QueueChange{}
		if err := rows.Scan(&c.ID, &c.JobID, &c.Action, &c.Reason,
			&c.Actor, &c.OldPosition, &c.NewPosition, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue change: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

type QueueOperations struct{}

func (o *QueueOperations) EnsureTx(ctx context.Context, tx *sql.Tx, locationID string) error {
	_, err := tx.ExecContext(ctx, UpsertQueueRow, locationID)
	if err != nil {
		return fmt.Errorf("failed to ensure queue row: %w", err)
	}
	return nil
}

// AllocatePositionTx hands out the next tail position for the location and
// grows the active set by one. Must run inside the same transaction as the
// job insert so a failed insert never leaks a position.
func (o *QueueOperations) AllocatePositionTx(ctx context.Context, tx *sql.Tx, locationID string) (int, error) {
	if err := o.EnsureTx(ctx, tx, locationID); err != nil {
		return 0, err
	}
	var position int
	err := tx.QueryRowContext(ctx, AllocateQueuePosition, locationID).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate queue position: %w", err)
	}
	return position, nil
}

// GrowHeadTx grows the active set by one without handing out a tail
// position, for jobs inserted at the head of the queue.
func (o *QueueOperations) GrowHeadTx(ctx context.Context, tx *sql.Tx, locationID string) error {
	if err := o.EnsureTx(ctx, tx, locationID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, GrowQueueHead, locationID)
	if err != nil {
		return fmt.Errorf("failed to grow queue: %w", err)
	}
	return nil
}

func (o *QueueOperations) ReleaseSlotTx(ctx context.Context, tx *sql.Tx, locationID string, processed bool) error {
	processedDelta := 0
	if processed {
		processedDelta = 1
	}
	_, err := tx.ExecContext(ctx, ReleaseQueueSlot, processedDelta, locationID)
	if err != nil {
		return fmt.Errorf("failed to release queue slot: %w", err)
	}
	return nil
}

func (o *QueueOperations) Get(ctx context.Context, locationID string) (*PrintQueue, error) {
	q := &PrintQueue{}
	err := GetDB().QueryRowContext(ctx, GetQueueRow, locationID).Scan(
		&q.LocationID, &q.CurrentQueueSize, &q.NextQueuePosition, &q.TotalJobsProcessed, &q.LastUpdated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get queue: %w", err)
	}
	return q, nil
}

func (o *QueueOperations) SetCountersTx(ctx context.Context, tx *sql.Tx, locationID string, size, nextPosition int) error {
	_, err := tx.ExecContext(ctx, SetQueueCounters, size, nextPosition, locationID)
	if err != nil {
		return fmt.Errorf("failed to set queue counters: %w", err)
	}
	return nil
}

type SequenceOperations struct{}

// NextTx increments and returns the per-location card sequence.
func (o *SequenceOperations) NextTx(ctx context.Context, tx *sql.Tx, locationCode string) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, NextCardSequence, locationCode).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to advance card sequence: %w", err)
	}
	return seq, nil
}

type SettingsOperations struct{}

func (o *SettingsOperations) GetSetting(ctx context.Context, key string) (*Setting, error) {
	s := &Setting{Key: key}
	err := GetDB().QueryRowContext(ctx, GetSetting, key).Scan(&s.Value, &s.Encrypted)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return s, nil
}

func (o *SettingsOperations) SetSetting(ctx context.Context, key, value string, encrypted bool) error {
	_, err := GetDB().ExecContext(ctx, SetSetting, key, value, encrypted, value, encrypted)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func (o *SettingsOperations) DeleteSetting(ctx context.Context, key string) error {
	_, err := GetDB().ExecContext(ctx, DeleteSetting, key)
	if err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}

var (
	Jobs         = &JobOperations{}
	Applications = &ApplicationOperations{}
	History      = &HistoryOperations{}
	QueueChanges = &QueueChangeOperations{}
	Queues       = &QueueOperations{}
	Sequences    = &SequenceOperations{}
	Settings     = &SettingsOperations{}
)
