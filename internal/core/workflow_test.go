package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravaka/cardline/internal/cardnum"
	"github.com/ravaka/cardline/internal/db"
	"github.com/ravaka/cardline/internal/storage"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "cardline-core-test")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := db.Init(db.Config{Path: filepath.Join(dir, "test.db")}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	code := m.Run()
	db.Close()
	os.RemoveAll(dir)
	os.Exit(code)
}

type fakeRenderer struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (r *fakeRenderer) Render(_ context.Context, _ *db.PrintJob) (*RenderResult, error) {
	r.mu.Lock()
	r.calls++
	fail := r.fail
	r.mu.Unlock()
	if fail {
		return nil, errors.New("renderer unavailable")
	}
	return &RenderResult{
		Files: map[string][]byte{
			"front_image":  []byte("front-png"),
			"back_image":   []byte("back-png"),
			"front_pdf":    []byte("front-pdf"),
			"back_pdf":     []byte("back-pdf"),
			"combined_pdf": []byte("combined-pdf"),
		},
		Version:     "renderer-test",
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func (r *fakeRenderer) renderCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type recordedEvent struct {
	name  string
	jobID string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) record(name, jobID string) {
	n.mu.Lock()
	n.events = append(n.events, recordedEvent{name: name, jobID: jobID})
	n.mu.Unlock()
}

func (n *recordingNotifier) JobQueued(job *db.PrintJob) { n.record("job_queued", job.ID) }
func (n *recordingNotifier) JobStatusChanged(job *db.PrintJob, _ string) {
	n.record("job_status_changed", job.ID)
}
func (n *recordingNotifier) JobCompleted(job *db.PrintJob) { n.record("job_completed", job.ID) }
func (n *recordingNotifier) ReprintCreated(_, reprint *db.PrintJob) {
	n.record("reprint_created", reprint.ID)
}

func (n *recordingNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.name
	}
	return out
}

func newTestWorkflow(t *testing.T, renderer Renderer) (*Workflow, *recordingNotifier, *storage.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.New(t.TempDir(), 50, log)
	notifier := &recordingNotifier{}
	return NewWorkflow(store, renderer, notifier, 10, log), notifier, store
}

func newJobRequest(locationID, locationCode string) CreateJobRequest {
	return CreateJobRequest{
		PersonID:      uuid.NewString(),
		LocationID:    locationID,
		LocationCode:  locationCode,
		ApplicationID: uuid.NewString(),
		LicenseData:   json.RawMessage(`{"license_class":"B"}`),
		PersonData:    json.RawMessage(`{"first_name":"Naina"}`),
		Actor:         "test-operator",
	}
}

// advanceToQualityCheck walks a fresh job to QUALITY_CHECK.
func advanceToQualityCheck(t *testing.T, w *Workflow, jobID string) {
	t.Helper()
	ctx := context.Background()
	_, err := w.Assign(ctx, jobID, "operator-1", "test-operator")
	require.NoError(t, err)
	printer := "printer-hw-1"
	_, err = w.StartPrinting(ctx, jobID, &printer, "operator-1")
	require.NoError(t, err)
	_, err = w.CompletePrinting(ctx, jobID, nil, "operator-1")
	require.NoError(t, err)
	_, err = w.StartQualityCheck(ctx, jobID, "inspector-1", "inspector-1")
	require.NoError(t, err)
}

func TestCreateJobQueuesAtTail(t *testing.T) {
	w, notifier, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()
	locationID := uuid.NewString()

	var jobs []*db.PrintJob
	for i := 0; i < 3; i++ {
		job, err := w.CreateJob(ctx, newJobRequest(locationID, "Q01"))
		require.NoError(t, err)
		jobs = append(jobs, job)
	}

	for i, job := range jobs {
		require.NotNil(t, job.QueuePosition)
		assert.Equal(t, i+1, *job.QueuePosition)
		assert.Equal(t, StatusQueued, job.Status)
		assert.Equal(t, PriorityNormal, job.Priority)
		assert.True(t, cardnum.IsValid(job.CardNumber), "card number %q", job.CardNumber)
		assert.Equal(t, "Q01", job.CardNumber[:3])
		assert.True(t, job.ArtifactsGenerated)
	}

	// Card numbers come off the per-location sequence, never repeating.
	assert.NotEqual(t, jobs[0].CardNumber, jobs[1].CardNumber)

	prefix := "PJ" + time.Now().UTC().Format("20060102") + "Q01"
	assert.Equal(t, prefix+"001", jobs[0].JobNumber)
	assert.Equal(t, prefix+"002", jobs[1].JobNumber)

	queue, err := w.Queue(ctx, locationID)
	require.NoError(t, err)
	assert.Equal(t, 3, queue.CurrentQueueSize)
	assert.Equal(t, 4, queue.NextQueuePosition)
	require.Len(t, queue.Jobs, 3)

	assert.Contains(t, notifier.names(), "job_queued")
}

func TestCreateJobRejectsSecondActiveJobForPerson(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()

	req := newJobRequest(uuid.NewString(), "Q02")
	_, err := w.CreateJob(ctx, req)
	require.NoError(t, err)

	req.ApplicationID = uuid.NewString()
	_, err = w.CreateJob(ctx, req)
	assert.ErrorIs(t, err, ErrActiveJobExists)
}

func TestCreateJobValidation(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()

	req := newJobRequest(uuid.NewString(), "Q03")
	req.Priority = "WHENEVER"
	_, err := w.CreateJob(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidPriority)

	req = newJobRequest(uuid.NewString(), "Q03")
	req.PersonID = ""
	_, err = w.CreateJob(ctx, req)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestCreateJobSurvivesRendererFailure(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{fail: true})
	ctx := context.Background()

	job, err := w.CreateJob(ctx, newJobRequest(uuid.NewString(), "Q04"))
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.False(t, job.ArtifactsGenerated)
	require.NotNil(t, job.ArtifactError)
	assert.Contains(t, *job.ArtifactError, "rendering failed")

	// The queued job cannot reach the printer without artifacts.
	_, err = w.Assign(ctx, job.ID, "operator-1", "test-operator")
	require.NoError(t, err)
	_, err = w.StartPrinting(ctx, job.ID, nil, "operator-1")
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Guard, "artifacts not generated")
}

func TestRegenerateArtifactsAfterRendererRecovers(t *testing.T) {
	renderer := &fakeRenderer{fail: true}
	w, _, _ := newTestWorkflow(t, renderer)
	ctx := context.Background()

	job, err := w.CreateJob(ctx, newJobRequest(uuid.NewString(), "Q05"))
	require.NoError(t, err)
	assert.False(t, job.ArtifactsGenerated)

	renderer.mu.Lock()
	renderer.fail = false
	renderer.mu.Unlock()

	job, err = w.RegenerateArtifacts(ctx, job.ID, "operator-2")
	require.NoError(t, err)
	assert.True(t, job.ArtifactsGenerated)
	assert.Nil(t, job.ArtifactError)
	require.NotNil(t, job.RendererVersion)
	assert.Equal(t, "renderer-test", *job.RendererVersion)

	// The regeneration leaves a from==to audit row behind the creation row.
	history, err := w.JobHistory(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	last := history[len(history)-1]
	require.NotNil(t, last.FromStatus)
	assert.Equal(t, StatusQueued, *last.FromStatus)
	assert.Equal(t, StatusQueued, last.ToStatus)
	assert.Equal(t, "operator-2", last.ChangedBy)
	require.NotNil(t, last.Reason)
	assert.Contains(t, *last.Reason, "regenerated")
}

func TestCreateJobRejectsMalformedLocationCode(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()

	for _, code := range []string{"", "!!", "1AB", "ZZZZ"} {
		req := newJobRequest(uuid.NewString(), code)
		_, err := w.CreateJob(ctx, req)

		var ve *ValidationError
		require.ErrorAs(t, err, &ve, "location code %q accepted", code)
		assert.Equal(t, "location_code", ve.Field)

		// Nothing was persisted for the person.
		jobs, err := w.SearchJobs(ctx, db.JobFilter{PersonID: req.PersonID})
		require.NoError(t, err)
		assert.Empty(t, jobs)
	}

	// The rejection happens before a sequence is consumed, so the first
	// accepted job still gets sequence 1.
	job, err := w.CreateJob(ctx, newJobRequest(uuid.NewString(), "S07"))
	require.NoError(t, err)
	assert.Equal(t, "S0700000001", job.CardNumber[:11])
}

func TestPartialArtifactSaveBlocksPrinting(t *testing.T) {
	w, _, store := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()

	job, err := w.CreateJob(ctx, newJobRequest(uuid.NewString(), "S08"))
	require.NoError(t, err)
	require.True(t, job.ArtifactsGenerated)

	// A directory where back.png belongs makes that single write fail on
	// the next render.
	backPath := filepath.Join(store.Root(), store.JobDir(job.ID, job.SubmittedAt), "back.png")
	require.NoError(t, os.RemoveAll(backPath))
	require.NoError(t, os.MkdirAll(backPath, 0o755))

	_, err = w.RegenerateArtifacts(ctx, job.ID, "operator-1")
	require.Error(t, err)

	stored, err := w.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, stored.ArtifactsGenerated)
	require.NotNil(t, stored.ArtifactError)
	assert.Contains(t, *stored.ArtifactError, "back_image")
	assert.Nil(t, stored.BackImagePath)

	// A job with an incomplete artifact set must not reach the printer.
	_, err = w.Assign(ctx, job.ID, "operator-1", "test-operator")
	require.NoError(t, err)
	_, err = w.StartPrinting(ctx, job.ID, nil, "operator-1")
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Guard, "artifacts not generated")
}

func TestHappyPathThroughCompletion(t *testing.T) {
	w, notifier, store := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()
	locationID := uuid.NewString()

	job, err := w.CreateJob(ctx, newJobRequest(locationID, "Q06"))
	require.NoError(t, err)
	frontPath := *job.FrontImagePath

	advanceToQualityCheck(t, w, job.ID)

	// During QA the artifacts are still retrievable for comparison.
	data, contentType, err := w.Artifact(ctx, job.ID, "front")
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)
	assert.Equal(t, []byte("front-png"), data)

	job, err = w.CompleteQualityCheck(ctx, job.ID, QAPassed, nil, "inspector-1")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	require.NotNil(t, job.QAResult)
	assert.Equal(t, QAPassed, *job.QAResult)

	// Passing QA purges the artifacts and verifies the removal.
	stored, err := w.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, stored.ArtifactsDeleted)
	assert.True(t, stored.CleanupVerified)
	assert.False(t, stored.ManualCleanupNeeded)
	assert.False(t, stored.ArtifactsGenerated)
	assert.Nil(t, stored.FrontImagePath)
	assert.Equal(t, int64(0), stored.ArtifactBytes)
	assert.Positive(t, stored.BytesFreed)
	assert.False(t, store.Exists(frontPath))

	_, _, err = w.Artifact(ctx, job.ID, "front")
	assert.ErrorIs(t, err, ErrArtifactsGone)

	history, err := w.JobHistory(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, history, 6)
	assert.Equal(t, StatusQueued, history[0].ToStatus)
	assert.Equal(t, StatusCompleted, history[5].ToStatus)

	// Starting the print removed the job from the active queue.
	queue, err := w.Queue(ctx, locationID)
	require.NoError(t, err)
	assert.Equal(t, 0, queue.CurrentQueueSize)
	assert.Equal(t, int64(1), queue.TotalJobsProcessed)

	names := notifier.names()
	assert.Equal(t, "job_queued", names[0])
	assert.Equal(t, "job_completed", names[len(names)-1])
}

func TestFailedPrintingRequeuesSameJobAtHead(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()
	locationID := uuid.NewString()

	first, err := w.CreateJob(ctx, newJobRequest(locationID, "Q07"))
	require.NoError(t, err)
	second, err := w.CreateJob(ctx, newJobRequest(locationID, "Q07"))
	require.NoError(t, err)

	advanceToQualityCheck(t, w, first.ID)

	notes := "toner smear across the photo area"
	job, err := w.CompleteQualityCheck(ctx, first.ID, QAFailedPrinting, &notes, "inspector-1")
	require.NoError(t, err)

	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, PriorityHigh, job.Priority)
	require.NotNil(t, job.QueuePosition)
	assert.Equal(t, 1, *job.QueuePosition)
	assert.Nil(t, job.AssignedTo)
	assert.Nil(t, job.PrintingStartedAt)

	// The failed QA verdict stays on the record for audit.
	stored, err := w.GetJob(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.QAResult)
	assert.Equal(t, QAFailedPrinting, *stored.QAResult)
	require.NotNil(t, stored.QANotes)
	assert.Equal(t, notes, *stored.QANotes)
	assert.Equal(t, 0, stored.ReprintCount)

	// No reprint record: the same physical job goes around again, and its
	// artifacts survive for the second print run.
	_, _, err = w.Artifact(ctx, first.ID, "front")
	require.NoError(t, err)

	otherJob, err := w.GetJob(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, otherJob.QueuePosition)
	assert.Equal(t, 2, *otherJob.QueuePosition)
}

func TestFailedDataCreatesReprintJob(t *testing.T) {
	renderer := &fakeRenderer{}
	w, notifier, _ := newTestWorkflow(t, renderer)
	ctx := context.Background()
	locationID := uuid.NewString()

	req := newJobRequest(locationID, "Q08")
	req.AdditionalApplicationIDs = []string{uuid.NewString()}
	original, err := w.CreateJob(ctx, req)
	require.NoError(t, err)
	waiting, err := w.CreateJob(ctx, newJobRequest(locationID, "Q08"))
	require.NoError(t, err)

	advanceToQualityCheck(t, w, original.ID)

	notes := "date of birth printed incorrectly"
	job, err := w.CompleteQualityCheck(ctx, original.ID, QAFailedData, &notes, "inspector-1")
	require.NoError(t, err)
	assert.Equal(t, StatusReprintRequired, job.Status)

	reprints, err := w.SearchJobs(ctx, db.JobFilter{LocationID: locationID, Priority: PriorityReprint})
	require.NoError(t, err)
	require.Len(t, reprints, 1)
	reprint := reprints[0]

	require.NotNil(t, reprint.OriginalJobID)
	assert.Equal(t, original.ID, *reprint.OriginalJobID)
	assert.Equal(t, 1, reprint.ReprintCount)
	assert.Equal(t, original.CardNumber, reprint.CardNumber)
	assert.Equal(t, original.PersonID, reprint.PersonID)
	assert.NotEqual(t, original.JobNumber, reprint.JobNumber)
	require.NotNil(t, reprint.ReprintReason)
	assert.Contains(t, *reprint.ReprintReason, QAFailedData)
	require.NotNil(t, reprint.QueuePosition)
	assert.Equal(t, 1, *reprint.QueuePosition)
	assert.True(t, reprint.ArtifactsGenerated)

	// Applications carry over to the replacement.
	apps, err := w.JobApplications(ctx, reprint.ID)
	require.NoError(t, err)
	assert.Len(t, apps, 2)

	// The waiting job yields the head slot to the reprint.
	moved, err := w.GetJob(ctx, waiting.ID)
	require.NoError(t, err)
	require.NotNil(t, moved.QueuePosition)
	assert.Equal(t, 2, *moved.QueuePosition)

	assert.Contains(t, notifier.names(), "reprint_created")
}

func TestChainedReprintsTrackDirectPredecessor(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()
	locationID := uuid.NewString()

	original, err := w.CreateJob(ctx, newJobRequest(locationID, "Q09"))
	require.NoError(t, err)

	notes := "visible damage on the card surface"

	advanceToQualityCheck(t, w, original.ID)
	_, err = w.CompleteQualityCheck(ctx, original.ID, QAFailedDamage, &notes, "inspector-1")
	require.NoError(t, err)

	reprints, err := w.SearchJobs(ctx, db.JobFilter{LocationID: locationID, Priority: PriorityReprint})
	require.NoError(t, err)
	require.Len(t, reprints, 1)
	first := reprints[0]

	advanceToQualityCheck(t, w, first.ID)
	_, err = w.CompleteQualityCheck(ctx, first.ID, QAFailedDamage, &notes, "inspector-1")
	require.NoError(t, err)

	queued, err := w.SearchJobs(ctx, db.JobFilter{LocationID: locationID, Status: StatusQueued})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	second := queued[0]

	require.NotNil(t, second.OriginalJobID)
	assert.Equal(t, first.ID, *second.OriginalJobID)
	assert.Equal(t, 2, second.ReprintCount)
	assert.Equal(t, original.CardNumber, second.CardNumber)
}

func TestQualityCheckValidation(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()

	job, err := w.CreateJob(ctx, newJobRequest(uuid.NewString(), "Q10"))
	require.NoError(t, err)
	advanceToQualityCheck(t, w, job.ID)

	_, err = w.CompleteQualityCheck(ctx, job.ID, "MAYBE", nil, "inspector-1")
	assert.ErrorIs(t, err, ErrInvalidOutcome)

	short := "too short"
	_, err = w.CompleteQualityCheck(ctx, job.ID, QAFailedData, &short, "inspector-1")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "qa_notes", ve.Field)

	_, err = w.CompleteQualityCheck(ctx, job.ID, QAFailedData, nil, "inspector-1")
	require.ErrorAs(t, err, &ve)
}

func TestTransitionGuards(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()

	job, err := w.CreateJob(ctx, newJobRequest(uuid.NewString(), "Q11"))
	require.NoError(t, err)

	var te *TransitionError

	// Queued jobs cannot start printing without an assignment.
	_, err = w.StartPrinting(ctx, job.ID, nil, "operator-1")
	require.ErrorAs(t, err, &te)

	_, err = w.CompletePrinting(ctx, job.ID, nil, "operator-1")
	require.ErrorAs(t, err, &te)

	_, err = w.StartQualityCheck(ctx, job.ID, "inspector-1", "inspector-1")
	require.ErrorAs(t, err, &te)

	_, err = w.Assign(ctx, uuid.NewString(), "operator-1", "test-operator")
	assert.ErrorIs(t, err, ErrJobNotFound)

	// A cancelled job is terminal.
	_, err = w.Cancel(ctx, job.ID, "applicant withdrew", "test-operator")
	require.NoError(t, err)
	_, err = w.Cancel(ctx, job.ID, "again", "test-operator")
	require.ErrorAs(t, err, &te)
	_, err = w.Assign(ctx, job.ID, "operator-1", "test-operator")
	require.ErrorAs(t, err, &te)
}

func TestCancelCompactsQueue(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()
	locationID := uuid.NewString()

	var jobs []*db.PrintJob
	for i := 0; i < 3; i++ {
		job, err := w.CreateJob(ctx, newJobRequest(locationID, "Q12"))
		require.NoError(t, err)
		jobs = append(jobs, job)
	}

	cancelled, err := w.Cancel(ctx, jobs[1].ID, "duplicate request", "test-operator")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.QueuePosition)

	// Artifacts are kept on cancellation for audit.
	stored, err := w.GetJob(ctx, jobs[1].ID)
	require.NoError(t, err)
	assert.False(t, stored.ArtifactsDeleted)
	assert.True(t, stored.ArtifactsGenerated)

	queue, err := w.Queue(ctx, locationID)
	require.NoError(t, err)
	assert.Equal(t, 2, queue.CurrentQueueSize)
	assert.Equal(t, 3, queue.NextQueuePosition)
	require.Len(t, queue.Jobs, 2)
	assert.Equal(t, jobs[0].ID, queue.Jobs[0].ID)
	assert.Equal(t, 1, *queue.Jobs[0].QueuePosition)
	assert.Equal(t, jobs[2].ID, queue.Jobs[1].ID)
	assert.Equal(t, 2, *queue.Jobs[1].QueuePosition)
}

// A card on the printer or under inspection can no longer be cancelled; it
// has to finish through QA or be marked failed.
func TestCancelRejectedOncePrinting(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()

	job, err := w.CreateJob(ctx, newJobRequest(uuid.NewString(), "S09"))
	require.NoError(t, err)
	_, err = w.Assign(ctx, job.ID, "operator-1", "test-operator")
	require.NoError(t, err)
	_, err = w.StartPrinting(ctx, job.ID, nil, "operator-1")
	require.NoError(t, err)

	var te *TransitionError
	_, err = w.Cancel(ctx, job.ID, "changed my mind", "test-operator")
	require.ErrorAs(t, err, &te)

	_, err = w.CompletePrinting(ctx, job.ID, nil, "operator-1")
	require.NoError(t, err)
	_, err = w.StartQualityCheck(ctx, job.ID, "inspector-1", "inspector-1")
	require.NoError(t, err)
	_, err = w.Cancel(ctx, job.ID, "still no", "test-operator")
	require.ErrorAs(t, err, &te)

	stored, err := w.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQualityCheck, stored.Status)
}

func TestMarkFailedLeavesQueueContiguous(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()
	locationID := uuid.NewString()

	first, err := w.CreateJob(ctx, newJobRequest(locationID, "Q13"))
	require.NoError(t, err)
	second, err := w.CreateJob(ctx, newJobRequest(locationID, "Q13"))
	require.NoError(t, err)

	failed, err := w.MarkFailed(ctx, first.ID, "card stock jammed beyond recovery", "test-operator")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)

	queue, err := w.Queue(ctx, locationID)
	require.NoError(t, err)
	require.Len(t, queue.Jobs, 1)
	assert.Equal(t, second.ID, queue.Jobs[0].ID)
	assert.Equal(t, 1, *queue.Jobs[0].QueuePosition)
}

func TestStatisticsAggregation(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()
	locationID := uuid.NewString()

	completed, err := w.CreateJob(ctx, newJobRequest(locationID, "Q14"))
	require.NoError(t, err)
	advanceToQualityCheck(t, w, completed.ID)
	_, err = w.CompleteQualityCheck(ctx, completed.ID, QAPassed, nil, "inspector-1")
	require.NoError(t, err)

	_, err = w.CreateJob(ctx, newJobRequest(locationID, "Q14"))
	require.NoError(t, err)

	stats, err := w.Statistics(ctx, locationID, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalJobs)
	assert.Equal(t, 1, stats.CompletedJobs)
	assert.Equal(t, 1, stats.QueuedJobs)
	assert.Equal(t, float64(100), stats.QAPassRate)
	assert.Equal(t, 1, stats.JobsCompletedToday)
	assert.Equal(t, 2, stats.JobsSubmittedToday)
	require.NotNil(t, stats.AverageCompletionTimeHours)
}

func TestArtifactKindMapping(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeRenderer{})
	ctx := context.Background()

	job, err := w.CreateJob(ctx, newJobRequest(uuid.NewString(), "Q15"))
	require.NoError(t, err)

	_, contentType, err := w.Artifact(ctx, job.ID, "combined")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", contentType)

	_, _, err = w.Artifact(ctx, job.ID, "hologram")
	assert.ErrorIs(t, err, storage.ErrArtifactNotFound)

	_, _, err = w.Artifact(ctx, uuid.NewString(), "front")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
