package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ravaka/cardline/internal/core"
	"github.com/ravaka/cardline/internal/storage"
)

// respondError maps workflow errors onto HTTP statuses. Guard violations are
// conflicts, bad input is a 400, deleted artifacts are 410 Gone.
func respondError(c *gin.Context, err error) {
	var te *core.TransitionError
	var ve *core.ValidationError

	switch {
	case errors.Is(err, core.ErrJobNotFound), errors.Is(err, sql.ErrNoRows):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, storage.ErrArtifactNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
	case errors.Is(err, core.ErrArtifactsGone):
		c.JSON(http.StatusGone, gin.H{"error": "artifacts have been deleted"})
	case errors.Is(err, core.ErrActiveJobExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &te):
		c.JSON(http.StatusConflict, gin.H{"error": te.Error()})
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field})
	case errors.Is(err, core.ErrInvalidPriority), errors.Is(err, core.ErrInvalidOutcome):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
