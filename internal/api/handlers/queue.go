package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ravaka/cardline/internal/core"
)

type QueueHandler struct {
	workflow *core.Workflow
}

func NewQueueHandler(workflow *core.Workflow) *QueueHandler {
	return &QueueHandler{workflow: workflow}
}

func (h *QueueHandler) GetQueue(c *gin.Context) {
	locationID := c.Param("locationId")

	status, err := h.workflow.Queue(c.Request.Context(), locationID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *QueueHandler) RecalculateQueue(c *gin.Context) {
	locationID := c.Param("locationId")

	size, err := h.workflow.RecalculateQueue(c.Request.Context(), locationID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"location_id": locationID,
		"queue_size":  size,
		"message":     "queue positions recalculated",
	})
}

func (h *QueueHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/queue/:locationId", h.GetQueue)
	r.POST("/queue/:locationId/recalculate", h.RecalculateQueue)
}
