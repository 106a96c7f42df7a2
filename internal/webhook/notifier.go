// Package webhook delivers job lifecycle events to configured HTTP
// endpoints, signing payloads with a per endpoint shared secret.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ravaka/cardline/internal/db"
)

const (
	EventJobQueued        = "job_queued"
	EventJobStatusChanged = "job_status_changed"
	EventJobCompleted     = "job_completed"
	EventReprintCreated   = "reprint_created"
)

type Endpoint struct {
	Name   string
	URL    string
	Secret string
	Events []string
}

type Payload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type JobEventData struct {
	JobID         string  `json:"job_id"`
	JobNumber     string  `json:"job_number"`
	CardNumber    string  `json:"card_number"`
	Status        string  `json:"status"`
	FromStatus    string  `json:"from_status,omitempty"`
	Priority      string  `json:"priority"`
	PersonID      string  `json:"person_id"`
	LocationID    string  `json:"location_id"`
	QueuePosition *int    `json:"queue_position,omitempty"`
	QAResult      *string `json:"qa_result,omitempty"`
}

type ReprintEventData struct {
	OriginalJobID     string `json:"original_job_id"`
	OriginalJobNumber string `json:"original_job_number"`
	ReprintJobID      string `json:"reprint_job_id"`
	ReprintJobNumber  string `json:"reprint_job_number"`
	ReprintCount      int    `json:"reprint_count"`
	ReprintReason     string `json:"reprint_reason,omitempty"`
}

type Config struct {
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	WorkerCount int
	QueueSize   int
}

type task struct {
	endpoint Endpoint
	payload  *Payload
	attempt  int
}

// Notifier fans lifecycle events out to all subscribed endpoints through a
// small worker pool. Enqueueing never blocks the workflow; a full queue
// drops the delivery with a log line.
type Notifier struct {
	endpoints  []Endpoint
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	workers    int
	queue      chan *task
	stopCh     chan struct{}
	wg         sync.WaitGroup
	log        *slog.Logger
}

func NewNotifier(endpoints []Endpoint, cfg Config, log *slog.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	return &Notifier{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		workers:    cfg.WorkerCount,
		queue:      make(chan *task, cfg.QueueSize),
		stopCh:     make(chan struct{}),
		log:        log.With("component", "webhook"),
	}
}

func (n *Notifier) Start() {
	for i := 0; i < n.workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
}

func (n *Notifier) Stop() {
	close(n.stopCh)
	n.wg.Wait()
}

func (n *Notifier) JobQueued(job *db.PrintJob) {
	n.enqueue(EventJobQueued, jobData(job, ""))
}

func (n *Notifier) JobStatusChanged(job *db.PrintJob, fromStatus string) {
	n.enqueue(EventJobStatusChanged, jobData(job, fromStatus))
}

func (n *Notifier) JobCompleted(job *db.PrintJob) {
	n.enqueue(EventJobCompleted, jobData(job, ""))
}

func (n *Notifier) ReprintCreated(original, reprint *db.PrintJob) {
	data := &ReprintEventData{
		OriginalJobID:     original.ID,
		OriginalJobNumber: original.JobNumber,
		ReprintJobID:      reprint.ID,
		ReprintJobNumber:  reprint.JobNumber,
		ReprintCount:      reprint.ReprintCount,
	}
	if reprint.ReprintReason != nil {
		data.ReprintReason = *reprint.ReprintReason
	}
	n.enqueue(EventReprintCreated, data)
}

func jobData(job *db.PrintJob, fromStatus string) *JobEventData {
	return &JobEventData{
		JobID:         job.ID,
		JobNumber:     job.JobNumber,
		CardNumber:    job.CardNumber,
		Status:        job.Status,
		FromStatus:    fromStatus,
		Priority:      job.Priority,
		PersonID:      job.PersonID,
		LocationID:    job.LocationID,
		QueuePosition: job.QueuePosition,
		QAResult:      job.QAResult,
	}
}

func (n *Notifier) enqueue(event string, data interface{}) {
	payload := &Payload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	for _, endpoint := range n.endpoints {
		if !subscribed(endpoint, event) {
			continue
		}
		select {
		case n.queue <- &task{endpoint: endpoint, payload: payload}:
		default:
			n.log.Warn("webhook queue full, dropping delivery", "endpoint", endpoint.Name, "event", event)
		}
	}
}

// subscribed treats an empty event list as a subscription to everything.
func subscribed(endpoint Endpoint, event string) bool {
	if len(endpoint.Events) == 0 {
		return true
	}
	for _, e := range endpoint.Events {
		if e == event {
			return true
		}
	}
	return false
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stopCh:
			return
		case t := <-n.queue:
			if err := n.sendWithRetry(t); err != nil {
				n.log.Error("webhook delivery failed",
					"endpoint", t.endpoint.Name, "event", t.payload.Event,
					"attempts", t.attempt, "error", err)
			}
		}
	}
}

func (n *Notifier) sendWithRetry(t *task) error {
	var lastErr error
	for t.attempt < n.maxRetries {
		t.attempt++

		status, err := n.send(t.endpoint, t.payload)
		if err == nil {
			return nil
		}
		lastErr = err

		// 4xx responses will not improve on retry.
		if status >= 400 && status < 500 {
			return err
		}

		if t.attempt < n.maxRetries {
			backoff := n.retryDelay * time.Duration(1<<(t.attempt-1))
			select {
			case <-n.stopCh:
				return fmt.Errorf("shutdown requested")
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (n *Notifier) send(endpoint Endpoint, payload *Payload) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Cardline-Event", payload.Event)
	if endpoint.Secret != "" {
		req.Header.Set("X-Cardline-Signature", Sign(body, endpoint.Secret))
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("http error: %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Sign computes the hex HMAC-SHA256 of body under the endpoint secret.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
