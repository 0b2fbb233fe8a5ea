package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"jobboard/src/core/sponsorship"
)

type sponsorJobRequest struct {
	ImpressionLimit  int64  `json:"impressionLimit" binding:"required"`
	TargetLocation   string `json:"targetLocation"`
	TargetExperience string `json:"targetExperience"`
	TargetEducation  string `json:"targetEducation"`
}

type sponsorJobResponse struct {
	Job              jobView `json:"job"`
	Cost             float64 `json:"cost"`
	RemainingBalance float64 `json:"remainingBalance"`
}

// SponsorJob converts an approved listing into a sponsored one, debiting
// the full impression-quota value up front.
func (h *Handler) SponsorJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	employer, ok := requesterID(c)
	if !ok {
		return
	}

	var req sponsorJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}

	result, err := h.ledger.Sponsor(c.Request.Context(), sponsorship.SponsorInput{
		EmployerID:       employer,
		JobID:            id,
		ImpressionLimit:  req.ImpressionLimit,
		TargetLocation:   req.TargetLocation,
		TargetExperience: req.TargetExperience,
		TargetEducation:  req.TargetEducation,
	})
	if err != nil {
		sendError(c, err)
		return
	}

	sendJSON(c, http.StatusOK, sponsorJobResponse{
		Job:              toJobView(result.Job),
		Cost:             result.Cost.Dollars(),
		RemainingBalance: result.Balance.Dollars(),
	})
}

type stopSponsorshipResponse struct {
	Job              jobView `json:"job"`
	RefundAmount     float64 `json:"refundAmount"`
	RemainingBalance float64 `json:"remainingBalance"`
}

// StopSponsorship ends a sponsorship early, refunding the value of
// unused impressions.
func (h *Handler) StopSponsorship(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	employer, ok := requesterID(c)
	if !ok {
		return
	}

	result, err := h.ledger.Stop(c.Request.Context(), employer, id)
	if err != nil {
		sendError(c, err)
		return
	}

	sendJSON(c, http.StatusOK, stopSponsorshipResponse{
		Job:              toJobView(result.Job),
		RefundAmount:     result.Refund.Dollars(),
		RemainingBalance: result.Balance.Dollars(),
	})
}
