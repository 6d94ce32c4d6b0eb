package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/vault-pipeline/internal/api/dto"
	"github.com/cuongbtq/vault-pipeline/internal/domain"
)

const submittedViaBulk = "bulk_api"

// ReprocessContent handles POST /api/v1/contents/:content_id/reprocess
// Submits a stored content item under its resource key
func (h *JobHandler) ReprocessContent(c *gin.Context) {
	contentID := c.Param("content_id")

	if !h.jobs.Enabled() {
		c.JSON(http.StatusOK, disabledResponse())
		return
	}

	job, created, err := h.jobs.Reprocess(c.Request.Context(), contentID, submittedViaAPI)
	if err != nil {
		respondError(c, h.logger, "Failed to reprocess content", err)
		return
	}
	if job == nil {
		c.JSON(http.StatusOK, disabledResponse())
		return
	}

	h.respondSubmitted(c, job, created)
}

// BulkReprocess handles POST /api/v1/contents/reprocess
// Queues one reprocess message per content id for the worker service
func (h *JobHandler) BulkReprocess(c *gin.Context) {
	if h.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "bulk reprocessing requires rabbitmq",
		})
		return
	}

	var req dto.BulkReprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	queued := 0
	for _, id := range req.ContentIDs {
		body, err := json.Marshal(domain.ReprocessMessage{ContentID: id, SubmittedVia: submittedViaBulk})
		if err != nil {
			respondError(c, h.logger, "Failed to encode reprocess message", err)
			return
		}

		if err := h.publisher.Publish(c.Request.Context(), body, "application/json"); err != nil {
			h.logger.Error("Failed to queue reprocess request",
				slog.String("content_id", id),
				slog.Int("queued", queued),
				slog.Any("error", err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  "Failed to queue reprocess requests",
				"queued": queued,
			})
			return
		}
		queued++
	}

	h.logger.Info("Bulk reprocess queued",
		slog.Int("queued", queued),
	)

	c.JSON(http.StatusAccepted, dto.BulkReprocessResponse{Queued: queued})
}
