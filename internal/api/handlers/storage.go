package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ravaka/cardline/internal/storage"
)

type StorageHandler struct {
	store *storage.Store
}

func NewStorageHandler(store *storage.Store) *StorageHandler {
	return &StorageHandler{store: store}
}

func (h *StorageHandler) GetStats(c *gin.Context) {
	stats, err := h.store.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to collect storage statistics"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *StorageHandler) GetBloatReport(c *gin.Context) {
	report, err := h.store.Bloat()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to scan storage"})
		return
	}

	c.JSON(http.StatusOK, report)
}

func (h *StorageHandler) ForceCleanupEmptyDirs(c *gin.Context) {
	removed, err := h.store.ForceCleanupEmptyDirs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clean up directories"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"directories_removed": removed,
		"message":             "empty directories removed",
	})
}

func (h *StorageHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/storage/stats", h.GetStats)
	r.GET("/storage/bloat-report", h.GetBloatReport)
	r.POST("/storage/force-cleanup-empty-dirs", h.ForceCleanupEmptyDirs)
}
