package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"jobboard/src/core/sponsorship"
	"jobboard/src/infrastructure/log"
)

// viewRateLimit is the per-IP cap on impression events per window.
const viewRateLimit = 60

type impressionRequest struct {
	UserID *int64 `json:"userId"`
}

type impressionResponse struct {
	Success bool `json:"success"`
	sponsorship.ImpressionResult
}

// RecordImpression handles one view of a job detail page. The body is
// optional; guests send no userId. The viewer's address and user agent
// come from the request itself.
func (h *Handler) RecordImpression(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req impressionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}

	ip := c.ClientIP()
	if h.cache != nil {
		count, err := h.cache.IncrementViewRate(c.Request.Context(), ip)
		if err != nil {
			// The limiter is advisory; never block views on cache trouble.
			log.Debug("view rate limiter unavailable", "error", err.Error())
		} else if count > viewRateLimit {
			c.JSON(http.StatusTooManyRequests, ErrorResponse{Code: "RATE_LIMITED", Message: "too many views from this address"})
			return
		}
	}

	result, err := h.ledger.RecordImpression(c.Request.Context(), sponsorship.ImpressionInput{
		JobID:     id,
		UserID:    req.UserID,
		IPAddress: ip,
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		sendError(c, err)
		return
	}

	sendJSON(c, http.StatusOK, impressionResponse{Success: true, ImpressionResult: *result})
}
