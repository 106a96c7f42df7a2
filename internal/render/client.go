// Package render calls the external card renderer service that turns a
// job's license and person payload into print ready images and PDFs.
package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ravaka/cardline/internal/core"
	"github.com/ravaka/cardline/internal/db"
)

type Client struct {
	url        string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(url string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With("component", "render"),
	}
}

type renderRequest struct {
	JobID        string          `json:"job_id"`
	JobNumber    string          `json:"job_number"`
	CardNumber   string          `json:"card_number"`
	CardTemplate string          `json:"card_template"`
	LicenseData  json.RawMessage `json:"license_data"`
	PersonData   json.RawMessage `json:"person_data"`
}

type renderResponse struct {
	FrontImage      string    `json:"front_image"`
	BackImage       string    `json:"back_image"`
	FrontPDF        string    `json:"front_pdf"`
	BackPDF         string    `json:"back_pdf"`
	CombinedPDF     string    `json:"combined_pdf"`
	RendererVersion string    `json:"renderer_version"`
	GeneratedAt     time.Time `json:"generated_at"`
}

func (c *Client) Render(ctx context.Context, job *db.PrintJob) (*core.RenderResult, error) {
	body, err := json.Marshal(renderRequest{
		JobID:        job.ID,
		JobNumber:    job.JobNumber,
		CardNumber:   job.CardNumber,
		CardTemplate: job.CardTemplate,
		LicenseData:  json.RawMessage(job.LicenseData),
		PersonData:   json.RawMessage(job.PersonData),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call renderer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("renderer returned status %d", resp.StatusCode)
	}

	var decoded renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode render response: %w", err)
	}

	files := make(map[string][]byte)
	for kind, encoded := range map[string]string{
		"front_image":  decoded.FrontImage,
		"back_image":   decoded.BackImage,
		"front_pdf":    decoded.FrontPDF,
		"back_pdf":     decoded.BackPDF,
		"combined_pdf": decoded.CombinedPDF,
	} {
		if encoded == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		files[kind] = data
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("renderer returned no artifacts")
	}

	c.log.Info("card rendered",
		"job_id", job.ID, "files", len(files),
		"renderer_version", decoded.RendererVersion,
		"duration_ms", time.Since(started).Milliseconds())

	return &core.RenderResult{
		Files:       files,
		Version:     decoded.RendererVersion,
		GeneratedAt: decoded.GeneratedAt,
	}, nil
}
