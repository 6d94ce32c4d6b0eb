package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/vault-pipeline/internal/api/dto"
)

// RetentionHandler exposes the on-demand retention sweep
type RetentionHandler struct {
	logger *slog.Logger
	purger Purger
}

// NewRetentionHandler creates a new RetentionHandler instance
func NewRetentionHandler(deps *Dependencies) *RetentionHandler {
	return &RetentionHandler{
		logger: deps.Logger,
		purger: deps.Retention,
	}
}

// Purge handles POST /api/v1/retention/purge
func (h *RetentionHandler) Purge(c *gin.Context) {
	purged, err := h.purger.Run(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to purge expired jobs", err)
		return
	}

	counts := make(map[string]int64, len(purged))
	for tier, n := range purged {
		counts[string(tier)] = n
	}

	c.JSON(http.StatusOK, dto.PurgeResponse{Purged: counts})
}
