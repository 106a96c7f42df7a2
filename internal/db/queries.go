package db

const jobColumns = `id, job_number, status, priority, queue_position, person_id, location_id, location_code,
	primary_application_id, card_number, card_template, license_data, person_data,
	assigned_to, assigned_at, printer_hardware_id, printing_started_at, printing_completed_at,
	qa_started_at, qa_completed_at, qa_result, qa_by, qa_notes,
	original_job_id, reprint_reason, reprint_count,
	artifacts_generated, artifact_error, renderer_version, artifacts_generated_at,
	front_image_path, back_image_path, front_pdf_path, back_pdf_path, combined_pdf_path,
	artifact_bytes, artifacts_deleted, bytes_freed, cleanup_verified, manual_cleanup_needed,
	production_notes, submitted_at, completed_at`

const (
	InsertJob = `
		INSERT INTO print_jobs (
			id, job_number, status, priority, queue_position, person_id, location_id, location_code,
			primary_application_id, card_number, card_template, license_data, person_data,
			original_job_id, reprint_reason, reprint_count,
			artifacts_generated, artifact_error, renderer_version, artifacts_generated_at,
			front_image_path, back_image_path, front_pdf_path, back_pdf_path, combined_pdf_path,
			artifact_bytes, submitted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	GetJobByID = `SELECT ` + jobColumns + ` FROM print_jobs WHERE id = ?`

	GetJobByNumber = `SELECT ` + jobColumns + ` FROM print_jobs WHERE job_number = ?`

	GetQueuedJobs = `
		SELECT ` + jobColumns + ` FROM print_jobs
		WHERE location_id = ? AND status IN ('QUEUED', 'ASSIGNED')
		ORDER BY queue_position ASC
	`

	GetActiveJobForPerson = `
		SELECT ` + jobColumns + ` FROM print_jobs
		WHERE person_id = ? AND status NOT IN ('COMPLETED', 'CANCELLED', 'FAILED', 'REPRINT_REQUIRED')
		LIMIT 1
	`

	CountJobsForDay = `
		SELECT COUNT(*) FROM print_jobs
		WHERE location_code = ? AND job_number LIKE ?
	`

	UpdateJobStatus = `
		UPDATE print_jobs SET status = ? WHERE id = ?
	`

	UpdateJobAssignment = `
		UPDATE print_jobs SET status = 'ASSIGNED', assigned_to = ?, assigned_at = ? WHERE id = ?
	`

	UpdateJobPrintingStarted = `
		UPDATE print_jobs SET status = 'PRINTING', printer_hardware_id = ?, printing_started_at = ?,
			queue_position = NULL
		WHERE id = ?
	`

	UpdateJobPrintingCompleted = `
		UPDATE print_jobs SET status = 'PRINTED', printing_completed_at = ?,
			production_notes = COALESCE(?, production_notes)
		WHERE id = ?
	`

	UpdateJobQAStarted = `
		UPDATE print_jobs SET status = 'QUALITY_CHECK', qa_started_at = ?, qa_by = ? WHERE id = ?
	`

	UpdateJobQACompleted = `
		UPDATE print_jobs SET status = ?, qa_completed_at = ?, qa_result = ?, qa_by = ?, qa_notes = ?,
			completed_at = ?
		WHERE id = ?
	`

	UpdateJobRequeued = `
		UPDATE print_jobs SET status = 'QUEUED', priority = ?, queue_position = ?,
			assigned_to = NULL, assigned_at = NULL, printer_hardware_id = NULL,
			printing_started_at = NULL, printing_completed_at = NULL
		WHERE id = ?
	`

	UpdateJobCancelled = `
		UPDATE print_jobs SET status = 'CANCELLED', queue_position = NULL, completed_at = ? WHERE id = ?
	`

	UpdateJobFailed = `
		UPDATE print_jobs SET status = 'FAILED', queue_position = NULL, completed_at = ? WHERE id = ?
	`

	UpdateJobPosition = `
		UPDATE print_jobs SET queue_position = ? WHERE id = ?
	`

	UpdateJobPriority = `
		UPDATE print_jobs SET priority = ? WHERE id = ?
	`

	UpdateJobArtifacts = `
		UPDATE print_jobs SET artifacts_generated = ?, artifact_error = ?, renderer_version = ?,
			artifacts_generated_at = ?,
			front_image_path = ?, back_image_path = ?, front_pdf_path = ?, back_pdf_path = ?,
			combined_pdf_path = ?, artifact_bytes = ?
		WHERE id = ?
	`

	UpdateJobCleanup = `
		UPDATE print_jobs SET artifacts_deleted = ?, bytes_freed = ?, cleanup_verified = ?,
			manual_cleanup_needed = ?
		WHERE id = ?
	`

	ShiftPositionsDown = `
		UPDATE print_jobs SET queue_position = queue_position - 1
		WHERE location_id = ? AND queue_position > ?
		  AND status IN ('QUEUED', 'ASSIGNED')
	`

	ShiftPositionsUp = `
		UPDATE print_jobs SET queue_position = queue_position + 1
		WHERE location_id = ? AND queue_position < ? AND queue_position >= 1
		  AND status IN ('QUEUED', 'ASSIGNED') AND id != ?
	`

	ShiftAllPositionsUp = `
		UPDATE print_jobs SET queue_position = queue_position + 1
		WHERE location_id = ? AND status IN ('QUEUED', 'ASSIGNED') AND id != ?
	`
)

const (
	InsertJobApplication = `
		INSERT INTO print_job_applications (job_id, application_id, is_primary, added_by)
		VALUES (?, ?, ?, ?)
	`

	GetJobApplications = `
		SELECT job_id, application_id, is_primary, added_by, added_at
		FROM print_job_applications WHERE job_id = ? ORDER BY is_primary DESC, added_at ASC
	`

	GetJobIDsForApplication = `
		SELECT job_id FROM print_job_applications WHERE application_id = ?
	`
)

const (
	InsertStatusHistory = `
		INSERT INTO print_job_status_history (job_id, from_status, to_status, changed_by, reason, notes, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	GetStatusHistory = `
		SELECT id, job_id, from_status, to_status, changed_by, reason, notes, changed_at
		FROM print_job_status_history WHERE job_id = ? ORDER BY changed_at ASC, id ASC
	`
)

const (
	InsertQueueChange = `
		INSERT INTO queue_changes (job_id, action, reason, actor, old_position, new_position, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	GetQueueChanges = `
		SELECT id, job_id, action, reason, actor, old_position, new_position, changed_at
		FROM queue_changes WHERE job_id = ? ORDER BY changed_at ASC, id ASC
	`
)

const (
	UpsertQueueRow = `
		INSERT INTO print_queues (location_id, current_queue_size, next_queue_position)
		VALUES (?, 0, 1)
		ON CONFLICT(location_id) DO NOTHING
	`

	AllocateQueuePosition = `
		UPDATE print_queues SET
			next_queue_position = next_queue_position + 1,
			current_queue_size = current_queue_size + 1,
			last_updated = CURRENT_TIMESTAMP
		WHERE location_id = ?
		RETURNING next_queue_position - 1
	`

	GrowQueueHead = `
		UPDATE print_queues SET
			next_queue_position = next_queue_position + 1,
			current_queue_size = current_queue_size + 1,
			last_updated = CURRENT_TIMESTAMP
		WHERE location_id = ?
	`

	ReleaseQueueSlot = `
		UPDATE print_queues SET
			next_queue_position = next_queue_position - 1,
			current_queue_size = current_queue_size - 1,
			total_jobs_processed = total_jobs_processed + ?,
			last_updated = CURRENT_TIMESTAMP
		WHERE location_id = ? AND next_queue_position > 1
	`

	GetQueueRow = `
		SELECT location_id, current_queue_size, next_queue_position, total_jobs_processed, last_updated
		FROM print_queues WHERE location_id = ?
	`

	SetQueueCounters = `
		UPDATE print_queues SET current_queue_size = ?, next_queue_position = ?,
			last_updated = CURRENT_TIMESTAMP
		WHERE location_id = ?
	`
)

const (
	NextCardSequence = `
		INSERT INTO card_sequences (location_code, current_sequence)
		VALUES (?, 1)
		ON CONFLICT(location_code) DO UPDATE SET
			current_sequence = current_sequence + 1,
			updated_at = CURRENT_TIMESTAMP
		RETURNING current_sequence
	`
)

const (
	GetSetting = `SELECT value, encrypted FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, encrypted) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = ?, encrypted = ?, updated_at = CURRENT_TIMESTAMP
	`

	DeleteSetting = `DELETE FROM settings WHERE key = ?`
)
