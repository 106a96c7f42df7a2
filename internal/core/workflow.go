package core

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ravaka/cardline/internal/cardnum"
	"github.com/ravaka/cardline/internal/db"
	"github.com/ravaka/cardline/internal/storage"
)

// Workflow drives print jobs through the production state machine. Every
// transition writes a status history row inside the same transaction as
// the job mutation; webhooks fire only after commit.
type Workflow struct {
	store     *storage.Store
	renderer  Renderer
	notifier  Notifier
	qaNoteMin int
	log       *slog.Logger
	now       func() time.Time
}

func NewWorkflow(store *storage.Store, renderer Renderer, notifier Notifier, qaNoteMin int, log *slog.Logger) *Workflow {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Workflow{
		store:     store,
		renderer:  renderer,
		notifier:  notifier,
		qaNoteMin: qaNoteMin,
		log:       log.With("component", "workflow"),
		now:       time.Now,
	}
}

// CreateJob queues a new card production job: card number from the location
// sequence, job number from the daily counter, queue position at the tail.
// Artifact rendering happens after commit and a renderer failure leaves the
// job queued with the error recorded.
func (w *Workflow) CreateJob(ctx context.Context, req CreateJobRequest) (*db.PrintJob, error) {
	if req.PersonID == "" || req.LocationID == "" || req.ApplicationID == "" {
		return nil, &ValidationError{Field: "request", Message: "person_id, location_id and application_id are required"}
	}
	priority := req.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !ValidPriority(priority) {
		return nil, ErrInvalidPriority
	}
	actor := req.Actor
	if actor == "" {
		actor = "system"
	}

	if _, err := db.Jobs.GetActiveForPerson(ctx, req.PersonID); err == nil {
		return nil, ErrActiveJobExists
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	locationCode, err := cardnum.NormalizeLocationCode(req.LocationCode)
	if err != nil {
		return nil, &ValidationError{Field: "location_code", Message: err.Error()}
	}

	now := w.now().UTC()
	template := req.CardTemplate
	if template == "" {
		template = "STANDARD"
	}

	job := &db.PrintJob{
		ID:                   uuid.NewString(),
		Status:               StatusQueued,
		Priority:             priority,
		PersonID:             req.PersonID,
		LocationID:           req.LocationID,
		LocationCode:         locationCode,
		PrimaryApplicationID: req.ApplicationID,
		CardTemplate:         template,
		LicenseData:          string(req.LicenseData),
		PersonData:           string(req.PersonData),
		SubmittedAt:          now,
	}
	if job.LicenseData == "" {
		job.LicenseData = "{}"
	}
	if job.PersonData == "" {
		job.PersonData = "{}"
	}

	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		seq, err := db.Sequences.NextTx(ctx, tx, locationCode)
		if err != nil {
			return err
		}
		cardNumber, err := cardnum.Generate(locationCode, seq)
		if err != nil {
			return err
		}
		job.CardNumber = cardNumber

		jobNumber, err := w.nextJobNumberTx(ctx, tx, locationCode, now)
		if err != nil {
			return err
		}
		job.JobNumber = jobNumber

		position, err := db.Queues.AllocatePositionTx(ctx, tx, req.LocationID)
		if err != nil {
			return err
		}
		job.QueuePosition = &position

		if err := db.Jobs.CreateTx(ctx, tx, job); err != nil {
			return err
		}

		applicationIDs := append([]string{req.ApplicationID}, req.AdditionalApplicationIDs...)
		for i, appID := range applicationIDs {
			if err := db.Applications.AddTx(ctx, tx, &db.JobApplication{
				JobID:         job.ID,
				ApplicationID: appID,
				IsPrimary:     i == 0,
				AddedBy:       actor,
			}); err != nil {
				return err
			}
		}

		if err := db.History.AddTx(ctx, tx, &db.StatusHistory{
			JobID:     job.ID,
			ToStatus:  StatusQueued,
			ChangedBy: actor,
			Reason:    strPtr("print job created"),
			Notes:     strPtr("created from application " + req.ApplicationID),
			ChangedAt: now,
		}); err != nil {
			return err
		}

		return db.QueueChanges.AddTx(ctx, tx, &db.QueueChange{
			JobID:       job.ID,
			Action:      "ADDED",
			Actor:       actor,
			NewPosition: &position,
			ChangedAt:   now,
		})
	})
	if err != nil {
		return nil, err
	}

	w.generateArtifacts(ctx, job)
	w.notifier.JobQueued(job)
	w.log.Info("print job queued",
		"job_id", job.ID, "job_number", job.JobNumber, "card_number", job.CardNumber,
		"location_id", job.LocationID, "position", *job.QueuePosition)
	return job, nil
}

// Assign hands a queued job to a printer operator. The job keeps its queue
// position so the active set stays contiguous.
func (w *Workflow) Assign(ctx context.Context, jobID, operatorID, actor string) (*db.PrintJob, error) {
	var job *db.PrintJob
	now := w.now().UTC()
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		job, err = w.getTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != StatusQueued {
			return transitionErr(job.ID, job.Status, "cannot assign: job is not queued")
		}
		if err := db.Jobs.AssignTx(ctx, tx, job.ID, operatorID, now); err != nil {
			return err
		}
		return w.recordTransitionTx(ctx, tx, job, StatusAssigned, actor, "assigned to printer operator", strPtr("assigned to "+operatorID), now)
	})
	if err != nil {
		return nil, err
	}

	from := job.Status
	job.Status = StatusAssigned
	job.AssignedTo = &operatorID
	job.AssignedAt = &now
	w.notifier.JobStatusChanged(job, from)
	return job, nil
}

// StartPrinting moves an assigned job onto the printer. The job leaves the
// active queue: higher positions compact down by one and the tail counter
// shrinks, so positions stay contiguous from 1.
func (w *Workflow) StartPrinting(ctx context.Context, jobID string, printerHardwareID *string, actor string) (*db.PrintJob, error) {
	var job *db.PrintJob
	now := w.now().UTC()
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		job, err = w.getTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != StatusAssigned {
			return transitionErr(job.ID, job.Status, "cannot start printing: job is not assigned")
		}
		if !job.ArtifactsGenerated {
			return transitionErr(job.ID, job.Status, "cannot start printing: artifacts not generated")
		}
		if err := db.Jobs.StartPrintingTx(ctx, tx, job.ID, printerHardwareID, now); err != nil {
			return err
		}
		if err := w.leaveQueueTx(ctx, tx, job, "STARTED_PRINTING", actor, now); err != nil {
			return err
		}
		notes := "printing started"
		if printerHardwareID != nil {
			notes = "printer: " + *printerHardwareID
		}
		return w.recordTransitionTx(ctx, tx, job, StatusPrinting, actor, "printing started", strPtr(notes), now)
	})
	if err != nil {
		return nil, err
	}

	from := job.Status
	job.Status = StatusPrinting
	job.QueuePosition = nil
	job.PrinterHardwareID = printerHardwareID
	job.PrintingStartedAt = &now
	w.notifier.JobStatusChanged(job, from)
	return job, nil
}

// CompletePrinting marks the physical card as printed, pending QA.
func (w *Workflow) CompletePrinting(ctx context.Context, jobID string, productionNotes *string, actor string) (*db.PrintJob, error) {
	var job *db.PrintJob
	now := w.now().UTC()
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		job, err = w.getTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != StatusPrinting {
			return transitionErr(job.ID, job.Status, "cannot complete printing: job is not printing")
		}
		if err := db.Jobs.CompletePrintingTx(ctx, tx, job.ID, productionNotes, now); err != nil {
			return err
		}
		return w.recordTransitionTx(ctx, tx, job, StatusPrinted, actor, "printing completed", productionNotes, now)
	})
	if err != nil {
		return nil, err
	}

	from := job.Status
	job.Status = StatusPrinted
	job.PrintingCompletedAt = &now
	if productionNotes != nil {
		job.ProductionNotes = productionNotes
	}
	w.notifier.JobStatusChanged(job, from)
	return job, nil
}

// StartQualityCheck begins the QA review of a printed card.
func (w *Workflow) StartQualityCheck(ctx context.Context, jobID, inspectorID, actor string) (*db.PrintJob, error) {
	var job *db.PrintJob
	now := w.now().UTC()
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		job, err = w.getTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != StatusPrinted {
			return transitionErr(job.ID, job.Status, "cannot start quality check: job is not printed")
		}
		if err := db.Jobs.StartQATx(ctx, tx, job.ID, inspectorID, now); err != nil {
			return err
		}
		return w.recordTransitionTx(ctx, tx, job, StatusQualityCheck, actor, "quality check started", nil, now)
	})
	if err != nil {
		return nil, err
	}

	from := job.Status
	job.Status = StatusQualityCheck
	job.QAStartedAt = &now
	job.QABy = &inspectorID
	w.notifier.JobStatusChanged(job, from)
	return job, nil
}

// CompleteQualityCheck resolves QA three ways. PASSED completes the job and
// purges its artifacts. FAILED_PRINTING sends the same job back to the head
// of the queue at HIGH priority. FAILED_DATA and FAILED_DAMAGE retire the
// job as REPRINT_REQUIRED and mint a replacement at the head of the queue.
func (w *Workflow) CompleteQualityCheck(ctx context.Context, jobID, outcome string, notes *string, actor string) (*db.PrintJob, error) {
	if !ValidQAOutcome(outcome) {
		return nil, ErrInvalidOutcome
	}
	if outcome != QAPassed {
		if notes == nil || len(*notes) < w.qaNoteMin {
			return nil, &ValidationError{
				Field:   "qa_notes",
				Message: fmt.Sprintf("a note of at least %d characters is required when quality check fails", w.qaNoteMin),
			}
		}
	}

	var job, reprint *db.PrintJob
	now := w.now().UTC()
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		job, err = w.getTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != StatusQualityCheck {
			return transitionErr(job.ID, job.Status, "cannot complete quality check: job is not under quality check")
		}

		qaBy := actor
		if job.QABy != nil {
			qaBy = *job.QABy
		}

		switch outcome {
		case QAPassed:
			if err := db.Jobs.CompleteQATx(ctx, tx, job.ID, StatusCompleted, outcome, qaBy, notes, now, &now); err != nil {
				return err
			}
			return w.recordTransitionTx(ctx, tx, job, StatusCompleted, actor, "quality check passed, ready for collection", notes, now)

		case QAFailedPrinting:
			if err := db.Jobs.CompleteQATx(ctx, tx, job.ID, StatusQueued, outcome, qaBy, notes, now, nil); err != nil {
				return err
			}
			if err := db.Jobs.RequeueTx(ctx, tx, job.ID, PriorityHigh, 1); err != nil {
				return err
			}
			if err := db.Jobs.ShiftAllPositionsUpTx(ctx, tx, job.LocationID, job.ID); err != nil {
				return err
			}
			if err := db.Queues.GrowHeadTx(ctx, tx, job.LocationID); err != nil {
				return err
			}
			if err := db.QueueChanges.AddTx(ctx, tx, &db.QueueChange{
				JobID:       job.ID,
				Action:      "REQUEUED_TOP",
				Reason:      notes,
				Actor:       actor,
				NewPosition: intPtr(1),
				ChangedAt:   now,
			}); err != nil {
				return err
			}
			return w.recordTransitionTx(ctx, tx, job, StatusQueued, actor, "quality check failed: "+outcome, notes, now)

		default: // FAILED_DATA, FAILED_DAMAGE
			if err := db.Jobs.CompleteQATx(ctx, tx, job.ID, StatusReprintRequired, outcome, qaBy, notes, now, nil); err != nil {
				return err
			}
			if err := w.recordTransitionTx(ctx, tx, job, StatusReprintRequired, actor, "quality check failed: "+outcome, notes, now); err != nil {
				return err
			}
			reason := "QA failed: " + outcome
			if notes != nil {
				reason += " - " + *notes
			}
			reprint, err = w.createReprintTx(ctx, tx, job, reason, actor, now)
			return err
		}
	})
	if err != nil {
		return nil, err
	}

	from := job.Status
	job.QACompletedAt = &now
	job.QAResult = &outcome
	job.QANotes = notes

	switch outcome {
	case QAPassed:
		job.Status = StatusCompleted
		job.CompletedAt = &now
		w.cleanupArtifacts(ctx, job)
		w.notifier.JobCompleted(job)
	case QAFailedPrinting:
		job.Status = StatusQueued
		job.Priority = PriorityHigh
		job.QueuePosition = intPtr(1)
		job.AssignedTo = nil
		job.AssignedAt = nil
		job.PrinterHardwareID = nil
		job.PrintingStartedAt = nil
		job.PrintingCompletedAt = nil
		w.notifier.JobStatusChanged(job, from)
	default:
		job.Status = StatusReprintRequired
		w.generateArtifacts(ctx, reprint)
		w.notifier.JobStatusChanged(job, from)
		w.notifier.ReprintCreated(job, reprint)
		w.log.Info("reprint job created",
			"original_job_id", job.ID, "reprint_job_id", reprint.ID,
			"reprint_count", reprint.ReprintCount, "outcome", outcome)
	}
	return job, nil
}

// Cancel aborts a job still waiting in the queue. Once the card is on the
// printer it has to run through QA or be marked failed. Artifacts are kept
// for audit; regular storage maintenance reclaims them later.
func (w *Workflow) Cancel(ctx context.Context, jobID, reason, actor string) (*db.PrintJob, error) {
	var job *db.PrintJob
	now := w.now().UTC()
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		job, err = w.getTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != StatusQueued && job.Status != StatusAssigned {
			return transitionErr(job.ID, job.Status, "cannot cancel: job already left the queue")
		}
		if err := db.Jobs.CancelTx(ctx, tx, job.ID, now); err != nil {
			return err
		}
		if job.QueuePosition != nil {
			if err := w.leaveQueueTx(ctx, tx, job, "CANCELLED", actor, now); err != nil {
				return err
			}
		}
		return w.recordTransitionTx(ctx, tx, job, StatusCancelled, actor, "job cancelled", strPtr(reason), now)
	})
	if err != nil {
		return nil, err
	}

	from := job.Status
	job.Status = StatusCancelled
	job.QueuePosition = nil
	job.CompletedAt = &now
	w.notifier.JobStatusChanged(job, from)
	return job, nil
}

// MarkFailed moves any non-terminal job to FAILED, for unrecoverable
// hardware or data problems outside the QA flow.
func (w *Workflow) MarkFailed(ctx context.Context, jobID, reason, actor string) (*db.PrintJob, error) {
	var job *db.PrintJob
	now := w.now().UTC()
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		job, err = w.getTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if IsTerminal(job.Status) {
			return transitionErr(job.ID, job.Status, "cannot fail: job already finished")
		}
		if err := db.Jobs.FailTx(ctx, tx, job.ID, now); err != nil {
			return err
		}
		if job.QueuePosition != nil {
			if err := w.leaveQueueTx(ctx, tx, job, "FAILED", actor, now); err != nil {
				return err
			}
		}
		return w.recordTransitionTx(ctx, tx, job, StatusFailed, actor, "job failed", strPtr(reason), now)
	})
	if err != nil {
		return nil, err
	}

	from := job.Status
	job.Status = StatusFailed
	job.QueuePosition = nil
	job.CompletedAt = &now
	w.notifier.JobStatusChanged(job, from)
	return job, nil
}

// RegenerateArtifacts re-renders a job's artifacts. Only legal before
// printing starts, the card on the printer must match what was reviewed.
func (w *Workflow) RegenerateArtifacts(ctx context.Context, jobID, actor string) (*db.PrintJob, error) {
	job, err := w.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusQueued && job.Status != StatusAssigned {
		return nil, transitionErr(job.ID, job.Status, "cannot regenerate artifacts: printing already started")
	}
	if actor == "" {
		actor = "system"
	}
	if err := w.generateArtifacts(ctx, job); err != nil {
		return nil, err
	}

	// Status does not change; the history row records the regeneration.
	now := w.now().UTC()
	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		return db.History.AddTx(ctx, tx, &db.StatusHistory{
			JobID:      job.ID,
			FromStatus: &job.Status,
			ToStatus:   job.Status,
			ChangedBy:  actor,
			Reason:     strPtr("artifacts regenerated"),
			ChangedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (w *Workflow) GetJob(ctx context.Context, jobID string) (*db.PrintJob, error) {
	job, err := db.Jobs.GetByID(ctx, jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

func (w *Workflow) SearchJobs(ctx context.Context, filter db.JobFilter) ([]*db.PrintJob, error) {
	return db.Jobs.List(ctx, filter)
}

func (w *Workflow) JobHistory(ctx context.Context, jobID string) ([]*db.StatusHistory, error) {
	if _, err := w.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return db.History.ListForJob(ctx, jobID)
}

func (w *Workflow) JobApplications(ctx context.Context, jobID string) ([]*db.JobApplication, error) {
	return db.Applications.ListForJob(ctx, jobID)
}

// Artifact returns the bytes and content type for one of the retrievable
// artifact kinds: front, back or combined. Once a passed quality check has
// purged the files the caller gets ErrArtifactsGone, distinct from a plain
// not found.
func (w *Workflow) Artifact(ctx context.Context, jobID, kind string) ([]byte, string, error) {
	job, err := w.GetJob(ctx, jobID)
	if err != nil {
		return nil, "", err
	}
	if job.ArtifactsDeleted {
		return nil, "", ErrArtifactsGone
	}

	var path *string
	var contentType string
	switch kind {
	case "front":
		path, contentType = job.FrontImagePath, "image/png"
	case "back":
		path, contentType = job.BackImagePath, "image/png"
	case "combined":
		path, contentType = job.CombinedPDFPath, "application/pdf"
	default:
		return nil, "", storage.ErrArtifactNotFound
	}
	if path == nil {
		return nil, "", storage.ErrArtifactNotFound
	}

	data, err := w.store.Read(*path)
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}

// Statistics aggregates production counts for a location over the trailing
// number of days.
func (w *Workflow) Statistics(ctx context.Context, locationID string, days int) (*Statistics, error) {
	now := w.now().UTC()
	start := now.AddDate(0, 0, -days)
	jobs, err := db.Jobs.List(ctx, db.JobFilter{
		LocationID: locationID,
		FromDate:   &start,
		Limit:      100000,
	})
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		LocationID:  locationID,
		TotalJobs:   len(jobs),
		PeriodStart: start,
		PeriodEnd:   now,
	}

	var qaJobs, qaPassed int
	var completionHours float64
	today := now.Format("2006-01-02")
	for _, job := range jobs {
		switch job.Status {
		case StatusQueued:
			stats.QueuedJobs++
		case StatusAssigned, StatusPrinting, StatusPrinted, StatusQualityCheck:
			stats.InProgressJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusFailed:
			stats.FailedJobs++
		}
		if job.OriginalJobID != nil {
			stats.ReprintJobs++
		}
		if job.QAResult != nil {
			qaJobs++
			if *job.QAResult == QAPassed {
				qaPassed++
			}
		}
		if job.Status == StatusCompleted && job.CompletedAt != nil {
			completionHours += job.CompletedAt.Sub(job.SubmittedAt).Hours()
			if job.CompletedAt.Format("2006-01-02") == today {
				stats.JobsCompletedToday++
			}
		}
		if job.SubmittedAt.Format("2006-01-02") == today {
			stats.JobsSubmittedToday++
		}
	}

	if qaJobs > 0 {
		stats.QAPassRate = float64(qaPassed) / float64(qaJobs) * 100
	}
	if stats.CompletedJobs > 0 {
		avg := completionHours / float64(stats.CompletedJobs)
		stats.AverageCompletionTimeHours = &avg
	}
	return stats, nil
}

// createReprintTx mints the replacement job for a data or damage failure.
// It inherits the original's card number and rendered payload, jumps to the
// head of the queue at REPRINT priority and records its lineage.
func (w *Workflow) createReprintTx(ctx context.Context, tx *sql.Tx, original *db.PrintJob, reason, actor string, now time.Time) (*db.PrintJob, error) {
	jobNumber, err := w.nextJobNumberTx(ctx, tx, original.LocationCode, now)
	if err != nil {
		return nil, err
	}

	reprint := &db.PrintJob{
		ID:                   uuid.NewString(),
		JobNumber:            jobNumber,
		Status:               StatusQueued,
		Priority:             PriorityReprint,
		QueuePosition:        intPtr(1),
		PersonID:             original.PersonID,
		LocationID:           original.LocationID,
		LocationCode:         original.LocationCode,
		PrimaryApplicationID: original.PrimaryApplicationID,
		CardNumber:           original.CardNumber,
		CardTemplate:         original.CardTemplate,
		LicenseData:          original.LicenseData,
		PersonData:           original.PersonData,
		OriginalJobID:        &original.ID,
		ReprintReason:        &reason,
		ReprintCount:         original.ReprintCount + 1,
		SubmittedAt:          now,
	}

	if err := db.Jobs.ShiftAllPositionsUpTx(ctx, tx, original.LocationID, reprint.ID); err != nil {
		return nil, err
	}
	if err := db.Queues.GrowHeadTx(ctx, tx, original.LocationID); err != nil {
		return nil, err
	}
	if err := db.Jobs.CreateTx(ctx, tx, reprint); err != nil {
		return nil, err
	}

	apps, err := db.Applications.ListForJobTx(ctx, tx, original.ID)
	if err != nil {
		return nil, err
	}
	for _, app := range apps {
		if err := db.Applications.AddTx(ctx, tx, &db.JobApplication{
			JobID:         reprint.ID,
			ApplicationID: app.ApplicationID,
			IsPrimary:     app.IsPrimary,
			AddedBy:       actor,
		}); err != nil {
			return nil, err
		}
	}

	if err := db.History.AddTx(ctx, tx, &db.StatusHistory{
		JobID:     reprint.ID,
		ToStatus:  StatusQueued,
		ChangedBy: actor,
		Reason:    strPtr("reprint job created"),
		Notes:     strPtr("reprint of job " + original.JobNumber + ": " + reason),
		ChangedAt: now,
	}); err != nil {
		return nil, err
	}

	if err := db.QueueChanges.AddTx(ctx, tx, &db.QueueChange{
		JobID:       reprint.ID,
		Action:      "REPRINT_CREATED",
		Reason:      &reason,
		Actor:       actor,
		NewPosition: intPtr(1),
		ChangedAt:   now,
	}); err != nil {
		return nil, err
	}
	return reprint, nil
}

// leaveQueueTx compacts positions after a job departs the active set.
func (w *Workflow) leaveQueueTx(ctx context.Context, tx *sql.Tx, job *db.PrintJob, action, actor string, now time.Time) error {
	if job.QueuePosition == nil {
		return nil
	}
	old := *job.QueuePosition
	if err := db.Jobs.ShiftPositionsDownTx(ctx, tx, job.LocationID, old); err != nil {
		return err
	}
	if err := db.Queues.ReleaseSlotTx(ctx, tx, job.LocationID, action == "STARTED_PRINTING"); err != nil {
		return err
	}
	return db.QueueChanges.AddTx(ctx, tx, &db.QueueChange{
		JobID:       job.ID,
		Action:      action,
		Actor:       actor,
		OldPosition: &old,
		ChangedAt:   now,
	})
}

// generateArtifacts renders and stores card artifacts for a job, updating
// the artifact metadata either way. The returned error is informational for
// explicit regeneration; queue flow ignores it.
func (w *Workflow) generateArtifacts(ctx context.Context, job *db.PrintJob) error {
	result, err := w.renderer.Render(ctx, job)
	if err != nil {
		return w.recordArtifactError(ctx, job, fmt.Errorf("rendering failed: %w", err))
	}

	paths, total, saveErr := w.store.Save(job.ID, job.SubmittedAt, result.Files)
	if result.Version != "" {
		job.RendererVersion = &result.Version
	}
	job.FrontImagePath = pathPtr(paths, "front_image")
	job.BackImagePath = pathPtr(paths, "back_image")
	job.FrontPDFPath = pathPtr(paths, "front_pdf")
	job.BackPDFPath = pathPtr(paths, "back_pdf")
	job.CombinedPDFPath = pathPtr(paths, "combined_pdf")
	job.ArtifactBytes = total
	if saveErr != nil {
		return w.recordArtifactError(ctx, job, fmt.Errorf("storing artifacts failed: %w", saveErr))
	}
	if missing := missingKinds(paths); len(missing) > 0 {
		return w.recordArtifactError(ctx, job, fmt.Errorf("artifacts incomplete, missing %s", strings.Join(missing, ", ")))
	}

	now := w.now().UTC()
	generatedAt := result.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = now
	}

	job.ArtifactsGenerated = true
	job.ArtifactError = nil
	job.ArtifactsGeneratedAt = &generatedAt

	if err := db.Jobs.UpdateArtifacts(ctx, job); err != nil {
		w.log.Error("failed to persist artifact metadata", "job_id", job.ID, "error", err)
		return err
	}
	w.log.Info("card artifacts generated", "job_id", job.ID, "files", len(paths), "bytes", total)
	return nil
}

// missingKinds lists the artifact kinds a complete card still lacks.
func missingKinds(paths map[string]string) []string {
	var missing []string
	for _, kind := range storage.Kinds {
		if _, ok := paths[kind]; !ok {
			missing = append(missing, kind)
		}
	}
	return missing
}

func (w *Workflow) recordArtifactError(ctx context.Context, job *db.PrintJob, genErr error) error {
	w.log.Error("card artifact generation failed", "job_id", job.ID, "error", genErr)
	msg := genErr.Error()
	job.ArtifactsGenerated = false
	job.ArtifactError = &msg
	if err := db.Jobs.UpdateArtifacts(ctx, job); err != nil {
		w.log.Error("failed to persist artifact error", "job_id", job.ID, "error", err)
	}
	return genErr
}

// cleanupArtifacts purges a completed job's files and persists the verified
// result. A failed deletion leaves the job COMPLETED but flagged for manual
// cleanup.
func (w *Workflow) cleanupArtifacts(ctx context.Context, job *db.PrintJob) {
	result := w.store.Delete(job.ID, job.SubmittedAt)
	verify := w.store.VerifyCleanup(job.ID, job.SubmittedAt)

	deleted := result.Status == "success"
	manualNeeded := !deleted || !verify.CompletelyRemoved

	if err := db.Jobs.UpdateCleanup(ctx, job.ID, deleted, result.BytesFreed, verify.CompletelyRemoved, manualNeeded); err != nil {
		w.log.Error("failed to persist cleanup result", "job_id", job.ID, "error", err)
	}

	job.ArtifactsDeleted = deleted
	job.BytesFreed = result.BytesFreed
	job.CleanupVerified = verify.CompletelyRemoved
	job.ManualCleanupNeeded = manualNeeded

	if deleted && verify.CompletelyRemoved {
		job.ArtifactsGenerated = false
		job.FrontImagePath = nil
		job.BackImagePath = nil
		job.FrontPDFPath = nil
		job.BackPDFPath = nil
		job.CombinedPDFPath = nil
		job.ArtifactBytes = 0
		if err := db.Jobs.UpdateArtifacts(ctx, job); err != nil {
			w.log.Error("failed to clear artifact metadata", "job_id", job.ID, "error", err)
		}
		w.log.Info("artifacts purged after quality check",
			"job_id", job.ID, "files_deleted", result.FilesDeleted, "bytes_freed", result.BytesFreed)
		return
	}
	w.log.Warn("artifact cleanup needs manual attention",
		"job_id", job.ID, "delete_status", result.Status, "verified", verify.CompletelyRemoved)
}

// VerifyCleanup re-checks the on disk state for a job and persists the
// outcome, for after the fact audits.
func (w *Workflow) VerifyCleanup(ctx context.Context, jobID string) (*storage.VerifyResult, error) {
	job, err := w.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	verify := w.store.VerifyCleanup(job.ID, job.SubmittedAt)
	if job.ArtifactsDeleted {
		manualNeeded := !verify.CompletelyRemoved
		if err := db.Jobs.UpdateCleanup(ctx, job.ID, job.ArtifactsDeleted, job.BytesFreed, verify.CompletelyRemoved, manualNeeded); err != nil {
			return nil, err
		}
	}
	return verify, nil
}

func (w *Workflow) getTx(ctx context.Context, tx *sql.Tx, jobID string) (*db.PrintJob, error) {
	job, err := db.Jobs.GetByIDTx(ctx, tx, jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

func (w *Workflow) recordTransitionTx(ctx context.Context, tx *sql.Tx, job *db.PrintJob, to, actor, reason string, notes *string, at time.Time) error {
	from := job.Status
	return db.History.AddTx(ctx, tx, &db.StatusHistory{
		JobID:      job.ID,
		FromStatus: &from,
		ToStatus:   to,
		ChangedBy:  actor,
		Reason:     &reason,
		Notes:      notes,
		ChangedAt:  at,
	})
}

func (w *Workflow) nextJobNumberTx(ctx context.Context, tx *sql.Tx, locationCode string, now time.Time) (string, error) {
	prefix := "PJ" + now.Format("20060102") + locationCode
	count, err := db.Jobs.CountForDayTx(ctx, tx, locationCode, prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%03d", prefix, count+1), nil
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func pathPtr(paths map[string]string, kind string) *string {
	if p, ok := paths[kind]; ok {
		return &p
	}
	return nil
}
