package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ravaka/cardline/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	body      []byte
	event     string
	signature string
}

func newTestNotifier(t *testing.T, endpoints []Endpoint, cfg Config) *Notifier {
	t.Helper()
	cfg.WorkerCount = 1
	n := NewNotifier(endpoints, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n.Start()
	t.Cleanup(n.Stop)
	return n
}

func sampleJob() *db.PrintJob {
	pos := 3
	return &db.PrintJob{
		ID:            "job-1",
		JobNumber:     "PJ20260315T01001",
		CardNumber:    "T01000000018",
		Status:        "QUEUED",
		Priority:      "NORMAL",
		PersonID:      "person-1",
		LocationID:    "loc-1",
		QueuePosition: &pos,
	}
}

func TestNotifierDeliversSignedPayload(t *testing.T) {
	var mu sync.Mutex
	var got []received

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, received{
			body:      body,
			event:     r.Header.Get("X-Cardline-Event"),
			signature: r.Header.Get("X-Cardline-Signature"),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newTestNotifier(t, []Endpoint{
		{Name: "test", URL: srv.URL, Secret: "s3cret"},
	}, Config{Timeout: time.Second, RetryDelay: time.Millisecond})

	n.JobQueued(sampleJob())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, EventJobQueued, got[0].event)
	assert.Equal(t, Sign(got[0].body, "s3cret"), got[0].signature)

	var payload Payload
	require.NoError(t, json.Unmarshal(got[0].body, &payload))
	assert.Equal(t, EventJobQueued, payload.Event)

	data, err := json.Marshal(payload.Data)
	require.NoError(t, err)
	var job JobEventData
	require.NoError(t, json.Unmarshal(data, &job))
	assert.Equal(t, "PJ20260315T01001", job.JobNumber)
	assert.Equal(t, "T01000000018", job.CardNumber)
	require.NotNil(t, job.QueuePosition)
	assert.Equal(t, 3, *job.QueuePosition)
}

func TestNotifierRetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newTestNotifier(t, []Endpoint{
		{Name: "flaky", URL: srv.URL},
	}, Config{Timeout: time.Second, MaxRetries: 3, RetryDelay: time.Millisecond})

	n.JobCompleted(sampleJob())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotifierDoesNotRetryClientErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := newTestNotifier(t, []Endpoint{
		{Name: "rejecting", URL: srv.URL},
	}, Config{Timeout: time.Second, MaxRetries: 3, RetryDelay: time.Millisecond})

	n.JobQueued(sampleJob())

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts)
}

func TestNotifierFiltersByEventSubscription(t *testing.T) {
	var mu sync.Mutex
	var events []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		events = append(events, r.Header.Get("X-Cardline-Event"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newTestNotifier(t, []Endpoint{
		{Name: "completions-only", URL: srv.URL, Events: []string{EventJobCompleted}},
	}, Config{Timeout: time.Second, RetryDelay: time.Millisecond})

	n.JobQueued(sampleJob())
	n.JobStatusChanged(sampleJob(), "QUEUED")
	n.JobCompleted(sampleJob())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, EventJobCompleted, events[0])
}

func TestNotifierReprintEvent(t *testing.T) {
	var mu sync.Mutex
	var bodies [][]byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newTestNotifier(t, []Endpoint{
		{Name: "test", URL: srv.URL},
	}, Config{Timeout: time.Second, RetryDelay: time.Millisecond})

	original := sampleJob()
	reason := "FAILED_DATA"
	reprint := &db.PrintJob{
		ID:            "job-2",
		JobNumber:     "PJ20260315T01002",
		ReprintCount:  1,
		ReprintReason: &reason,
	}
	n.ReprintCreated(original, reprint)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bodies) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	var payload Payload
	require.NoError(t, json.Unmarshal(bodies[0], &payload))
	assert.Equal(t, EventReprintCreated, payload.Event)

	data, err := json.Marshal(payload.Data)
	require.NoError(t, err)
	var rd ReprintEventData
	require.NoError(t, json.Unmarshal(data, &rd))
	assert.Equal(t, "job-1", rd.OriginalJobID)
	assert.Equal(t, "job-2", rd.ReprintJobID)
	assert.Equal(t, 1, rd.ReprintCount)
	assert.Equal(t, "FAILED_DATA", rd.ReprintReason)
}
