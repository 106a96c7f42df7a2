package db

import (
	"time"
)

type PrintJob struct {
	ID                   string     `json:"id"`
	JobNumber            string     `json:"job_number"`
	Status               string     `json:"status"`
	Priority             string     `json:"priority"`
	QueuePosition        *int       `json:"queue_position"`
	PersonID             string     `json:"person_id"`
	LocationID           string     `json:"location_id"`
	LocationCode         string     `json:"location_code"`
	PrimaryApplicationID string     `json:"primary_application_id"`
	CardNumber           string     `json:"card_number"`
	CardTemplate         string     `json:"card_template"`
	LicenseData          string     `json:"license_data"`
	PersonData           string     `json:"person_data"`
	AssignedTo           *string    `json:"assigned_to"`
	AssignedAt           *time.Time `json:"assigned_at"`
	PrinterHardwareID    *string    `json:"printer_hardware_id"`
	PrintingStartedAt    *time.Time `json:"printing_started_at"`
	PrintingCompletedAt  *time.Time `json:"printing_completed_at"`
	QAStartedAt          *time.Time `json:"qa_started_at"`
	QACompletedAt        *time.Time `json:"qa_completed_at"`
	QAResult             *string    `json:"qa_result"`
	QABy                 *string    `json:"qa_by"`
	QANotes              *string    `json:"qa_notes"`
	OriginalJobID        *string    `json:"original_job_id"`
	ReprintReason        *string    `json:"reprint_reason"`
	ReprintCount         int        `json:"reprint_count"`
	ArtifactsGenerated   bool       `json:"artifacts_generated"`
	ArtifactError        *string    `json:"artifact_error"`
	RendererVersion      *string    `json:"renderer_version"`
	ArtifactsGeneratedAt *time.Time `json:"artifacts_generated_at"`
	FrontImagePath       *string    `json:"front_image_path"`
	BackImagePath        *string    `json:"back_image_path"`
	FrontPDFPath         *string    `json:"front_pdf_path"`
	BackPDFPath          *string    `json:"back_pdf_path"`
	CombinedPDFPath      *string    `json:"combined_pdf_path"`
	ArtifactBytes        int64      `json:"artifact_bytes"`
	ArtifactsDeleted     bool       `json:"artifacts_deleted"`
	BytesFreed           int64      `json:"bytes_freed"`
	CleanupVerified      bool       `json:"cleanup_verified"`
	ManualCleanupNeeded  bool       `json:"manual_cleanup_needed"`
	ProductionNotes      *string    `json:"production_notes"`
	SubmittedAt          time.Time  `json:"submitted_at"`
	CompletedAt          *time.Time `json:"completed_at"`
}

type JobApplication struct {
	JobID         string    `json:"job_id"`
	ApplicationID string    `json:"application_id"`
	IsPrimary     bool      `json:"is_primary"`
	AddedBy       string    `json:"added_by"`
	AddedAt       time.Time `json:"added_at"`
}

type StatusHistory struct {
	ID         int64     `json:"id"`
	JobID      string    `json:"job_id"`
	FromStatus *string   `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	ChangedBy  string    `json:"changed_by"`
	Reason     *string   `json:"reason"`
	Notes      *string   `json:"notes"`
	ChangedAt  time.Time `json:"changed_at"`
}

type QueueChange struct {
	ID          int64     `json:"id"`
	JobID       string    `json:"job_id"`
	Action      string    `json:"action"`
	Reason      *string   `json:"reason"`
	Actor       string    `json:"actor"`
	OldPosition *int      `json:"old_position"`
	NewPosition *int      `json:"new_position"`
	ChangedAt   time.Time `json:"changed_at"`
}

type PrintQueue struct {
	LocationID         string    `json:"location_id"`
	CurrentQueueSize   int       `json:"current_queue_size"`
	NextQueuePosition  int       `json:"next_queue_position"`
	TotalJobsProcessed int64     `json:"total_jobs_processed"`
	LastUpdated        time.Time `json:"last_updated"`
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Encrypted bool      `json:"encrypted"`
	UpdatedAt time.Time `json:"updated_at"`
}

type JobFilter struct {
	LocationID    string
	PersonID      string
	ApplicationID string
	Status        string
	Priority      string
	JobNumber     string
	CardNumber    string
	FromDate      *time.Time
	ToDate        *time.Time
	Limit         int
	Offset        int
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}
