package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ravaka/cardline/internal/db"
)

// Job statuses. QUEUED is initial; COMPLETED, CANCELLED and FAILED are
// terminal. REPRINT_REQUIRED is terminal for the record itself, the
// replacement job carries the work forward.
const (
	StatusQueued          = "QUEUED"
	StatusAssigned        = "ASSIGNED"
	StatusPrinting        = "PRINTING"
	StatusPrinted         = "PRINTED"
	StatusQualityCheck    = "QUALITY_CHECK"
	StatusCompleted       = "COMPLETED"
	StatusReprintRequired = "REPRINT_REQUIRED"
	StatusCancelled       = "CANCELLED"
	StatusFailed          = "FAILED"
)

const (
	PriorityNormal  = "NORMAL"
	PriorityHigh    = "HIGH"
	PriorityUrgent  = "URGENT"
	PriorityReprint = "REPRINT"
)

const (
	QAPassed         = "PASSED"
	QAFailedPrinting = "FAILED_PRINTING"
	QAFailedData     = "FAILED_DATA"
	QAFailedDamage   = "FAILED_DAMAGE"
)

func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusCancelled, StatusFailed, StatusReprintRequired:
		return true
	}
	return false
}

func ValidPriority(p string) bool {
	switch p {
	case PriorityNormal, PriorityHigh, PriorityUrgent, PriorityReprint:
		return true
	}
	return false
}

func ValidQAOutcome(r string) bool {
	switch r {
	case QAPassed, QAFailedPrinting, QAFailedData, QAFailedDamage:
		return true
	}
	return false
}

// PriorityWeight orders priorities for queue recalculation, highest first.
func PriorityWeight(p string) int {
	switch p {
	case PriorityReprint:
		return 4
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	default:
		return 1
	}
}

// RenderResult is the renderer's output: raw artifact bytes keyed by kind
// (front_image, back_image, front_pdf, back_pdf, combined_pdf).
type RenderResult struct {
	Files       map[string][]byte
	Version     string
	GeneratedAt time.Time
}

// Renderer produces card artifacts for a job. Implementations are external
// services; failures must not block job creation.
type Renderer interface {
	Render(ctx context.Context, job *db.PrintJob) (*RenderResult, error)
}

// Notifier receives lifecycle events after the owning transaction commits.
type Notifier interface {
	JobQueued(job *db.PrintJob)
	JobStatusChanged(job *db.PrintJob, fromStatus string)
	JobCompleted(job *db.PrintJob)
	ReprintCreated(original, reprint *db.PrintJob)
}

// NopNotifier is used when no webhook endpoints are configured.
type NopNotifier struct{}

func (NopNotifier) JobQueued(*db.PrintJob)                    {}
func (NopNotifier) JobStatusChanged(*db.PrintJob, string)     {}
func (NopNotifier) JobCompleted(*db.PrintJob)                 {}
func (NopNotifier) ReprintCreated(*db.PrintJob, *db.PrintJob) {}

// CreateJobRequest carries everything needed to queue a card for
// production, normally sourced from an application approved event.
type CreateJobRequest struct {
	PersonID                 string
	LocationID               string
	LocationCode             string
	ApplicationID            string
	AdditionalApplicationIDs []string
	CardTemplate             string
	Priority                 string
	LicenseData              json.RawMessage
	PersonData               json.RawMessage
	Actor                    string
}

// Statistics summarizes production activity for a location over a period.
type Statistics struct {
	LocationID                 string     `json:"location_id"`
	TotalJobs                  int        `json:"total_jobs"`
	QueuedJobs                 int        `json:"queued_jobs"`
	InProgressJobs             int        `json:"in_progress_jobs"`
	CompletedJobs              int        `json:"completed_jobs"`
	FailedJobs                 int        `json:"failed_jobs"`
	ReprintJobs                int        `json:"reprint_jobs"`
	QAPassRate                 float64    `json:"qa_pass_rate"`
	AverageCompletionTimeHours *float64   `json:"average_completion_time_hours"`
	JobsCompletedToday         int        `json:"jobs_completed_today"`
	JobsSubmittedToday         int        `json:"jobs_submitted_today"`
	PeriodStart                time.Time  `json:"period_start"`
	PeriodEnd                  time.Time  `json:"period_end"`
}
