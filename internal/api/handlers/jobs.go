package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ravaka/cardline/internal/core"
	"github.com/ravaka/cardline/internal/db"
)

type CreateJobRequest struct {
	PersonID                 string          `json:"person_id" binding:"required"`
	LocationID               string          `json:"location_id" binding:"required"`
	LocationCode             string          `json:"location_code" binding:"required"`
	ApplicationID            string          `json:"application_id" binding:"required"`
	AdditionalApplicationIDs []string        `json:"additional_application_ids"`
	CardTemplate             string          `json:"card_template"`
	Priority                 string          `json:"priority"`
	LicenseData              json.RawMessage `json:"license_data"`
	PersonData               json.RawMessage `json:"person_data"`
}

type AssignRequest struct {
	OperatorID string `json:"operator_id" binding:"required"`
}

type StartPrintingRequest struct {
	OperatorID        string  `json:"operator_id" binding:"required"`
	PrinterHardwareID *string `json:"printer_hardware_id"`
}

type CompletePrintingRequest struct {
	OperatorID      string  `json:"operator_id" binding:"required"`
	ProductionNotes *string `json:"production_notes"`
}

type StartQARequest struct {
	InspectorID string `json:"inspector_id" binding:"required"`
}

type CompleteQARequest struct {
	InspectorID string  `json:"inspector_id" binding:"required"`
	Outcome     string  `json:"outcome" binding:"required"`
	Notes       *string `json:"notes"`
}

type ReasonRequest struct {
	Reason string `json:"reason" binding:"required"`
	Actor  string `json:"actor" binding:"required"`
}

type RegenerateRequest struct {
	Actor string `json:"actor" binding:"required"`
}

type ListJobsQuery struct {
	LocationID    string `form:"location_id"`
	PersonID      string `form:"person_id"`
	ApplicationID string `form:"application_id"`
	Status        string `form:"status"`
	Priority      string `form:"priority"`
	JobNumber     string `form:"job_number"`
	CardNumber    string `form:"card_number"`
	FromDate      string `form:"from_date"`
	ToDate        string `form:"to_date"`
	Limit         int    `form:"limit" binding:"max=200"`
	Offset        int    `form:"offset"`
}

type JobHandler struct {
	workflow *core.Workflow
}

func NewJobHandler(workflow *core.Workflow) *JobHandler {
	return &JobHandler{workflow: workflow}
}

func jobID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return "", false
	}
	return id, true
}

func (h *JobHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.workflow.CreateJob(c.Request.Context(), core.CreateJobRequest{
		PersonID:                 req.PersonID,
		LocationID:               req.LocationID,
		LocationCode:             req.LocationCode,
		ApplicationID:            req.ApplicationID,
		AdditionalApplicationIDs: req.AdditionalApplicationIDs,
		CardTemplate:             req.CardTemplate,
		Priority:                 req.Priority,
		LicenseData:              req.LicenseData,
		PersonData:               req.PersonData,
		Actor:                    "api",
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	var query ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if query.Limit <= 0 {
		query.Limit = 50
	}

	filter := db.JobFilter{
		LocationID:    query.LocationID,
		PersonID:      query.PersonID,
		ApplicationID: query.ApplicationID,
		Status:        query.Status,
		Priority:      query.Priority,
		JobNumber:     query.JobNumber,
		CardNumber:    query.CardNumber,
		Limit:         query.Limit,
		Offset:        query.Offset,
	}

	if query.FromDate != "" {
		if t, err := time.Parse("2006-01-02", query.FromDate); err == nil {
			filter.FromDate = &t
		}
	}
	if query.ToDate != "" {
		if t, err := time.Parse("2006-01-02", query.ToDate); err == nil {
			endOfDay := t.Add(24*time.Hour - time.Second)
			filter.ToDate = &endOfDay
		}
	}

	jobs, err := h.workflow.SearchJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"limit":  query.Limit,
		"offset": query.Offset,
		"count":  len(jobs),
	})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	job, err := h.workflow.GetJob(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) GetJobHistory(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	history, err := h.workflow.JobHistory(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (h *JobHandler) GetJobApplications(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	applications, err := h.workflow.JobApplications(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"applications": applications})
}

func (h *JobHandler) GetQueueChanges(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	changes, err := h.workflow.QueueChangeLog(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"changes": changes})
}

func (h *JobHandler) AssignJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.workflow.Assign(c.Request.Context(), id, req.OperatorID, req.OperatorID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) StartPrinting(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	var req StartPrintingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.workflow.StartPrinting(c.Request.Context(), id, req.PrinterHardwareID, req.OperatorID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) CompletePrinting(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	var req CompletePrintingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.workflow.CompletePrinting(c.Request.Context(), id, req.ProductionNotes, req.OperatorID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) StartQualityCheck(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	var req StartQARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.workflow.StartQualityCheck(c.Request.Context(), id, req.InspectorID, req.InspectorID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) CompleteQualityCheck(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	var req CompleteQARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.workflow.CompleteQualityCheck(c.Request.Context(), id, req.Outcome, req.Notes, req.InspectorID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) CancelJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.workflow.Cancel(c.Request.Context(), id, req.Reason, req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) FailJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.workflow.MarkFailed(c.Request.Context(), id, req.Reason, req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) MoveToTop(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.workflow.MoveToTop(c.Request.Context(), id, req.Reason, req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) RegenerateArtifacts(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	var req RegenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.workflow.RegenerateArtifacts(c.Request.Context(), id, req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) GetArtifact(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	kind := c.Param("kind")
	data, contentType, err := h.workflow.Artifact(c.Request.Context(), id, kind)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Data(http.StatusOK, contentType, data)
}

func (h *JobHandler) VerifyCleanup(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	result, err := h.workflow.VerifyCleanup(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *JobHandler) GetStatistics(c *gin.Context) {
	locationID := c.Query("location_id")
	if locationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "location_id is required"})
		return
	}

	days := 30
	if v := c.Query("days"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 1 || d > 365 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
			return
		}
		days = d
	}

	stats, err := h.workflow.Statistics(c.Request.Context(), locationID, days)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *JobHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/jobs", h.ListJobs)
	r.POST("/jobs", h.CreateJob)
	r.GET("/jobs/statistics", h.GetStatistics)
	r.GET("/jobs/:id", h.GetJob)
	r.GET("/jobs/:id/history", h.GetJobHistory)
	r.GET("/jobs/:id/applications", h.GetJobApplications)
	r.GET("/jobs/:id/queue-changes", h.GetQueueChanges)
	r.GET("/jobs/:id/artifacts/:kind", h.GetArtifact)
	r.POST("/jobs/:id/assign", h.AssignJob)
	r.POST("/jobs/:id/start-printing", h.StartPrinting)
	r.POST("/jobs/:id/complete-printing", h.CompletePrinting)
	r.POST("/jobs/:id/start-qa", h.StartQualityCheck)
	r.POST("/jobs/:id/complete-qa", h.CompleteQualityCheck)
	r.POST("/jobs/:id/cancel", h.CancelJob)
	r.POST("/jobs/:id/fail", h.FailJob)
	r.POST("/jobs/:id/move-to-top", h.MoveToTop)
	r.POST("/jobs/:id/regenerate-artifacts", h.RegenerateArtifacts)
	r.POST("/jobs/:id/verify-cleanup", h.VerifyCleanup)
}
