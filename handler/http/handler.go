package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"jobboard/src/core/sponsorship"
	"jobboard/src/storage/postgres/jobctrl"
	"jobboard/src/storage/postgres/userctrl"
	rediscache "jobboard/src/storage/redis"
)

type Handler struct {
	jobs   *jobctrl.JobService
	users  *userctrl.UserService
	ledger *sponsorship.Service
	cache  *rediscache.Cache
}

// NewHandler wires the REST surface. cache may be nil; the per-IP view
// limiter is then disabled.
func NewHandler(jobs *jobctrl.JobService, users *userctrl.UserService, ledger *sponsorship.Service, cache *rediscache.Cache) *Handler {
	return &Handler{
		jobs:   jobs,
		users:  users,
		ledger: ledger,
		cache:  cache,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")

	// Job routes
	api.GET("/jobs", h.ListJobs)
	api.POST("/jobs", h.CreateJob)
	api.GET("/jobs/:id", h.GetJob)
	api.DELETE("/jobs/:id", h.DeleteJob)
	api.PATCH("/jobs/:id/status", h.SetJobStatus)

	// Sponsorship routes
	api.POST("/jobs/:id/impressions", h.RecordImpression)
	api.POST("/jobs/:id/sponsor", h.SponsorJob)
	api.DELETE("/jobs/:id/sponsor", h.StopSponsorship)

	// Balance routes
	api.POST("/employers/:id/balance/topup", h.TopUpBalance)
	api.GET("/employers/:id/balance/transactions", h.ListTransactions)

	// System routes
	api.GET("/health", h.CheckHealth)
}

// Common error response structure
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func sendError(c *gin.Context, err error) {
	var insufficient *sponsorship.InsufficientFundsError
	switch {
	case errors.Is(err, sponsorship.ErrJobNotFound), errors.Is(err, sponsorship.ErrEmployerNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "NOT_FOUND", Message: err.Error()})
	case errors.Is(err, sponsorship.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Code: "FORBIDDEN", Message: err.Error()})
	case errors.Is(err, sponsorship.ErrInvalidState):
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_STATE", Message: err.Error()})
	case errors.As(err, &insufficient):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":    insufficient.Error(),
			"required": insufficient.Required.Dollars(),
			"current":  insufficient.Current.Dollars(),
		})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "INTERNAL_ERROR", Message: err.Error()})
	}
}

func sendJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

func (h *Handler) CheckHealth(c *gin.Context) {
	sendJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

// pathID parses the numeric :id path parameter.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "BAD_REQUEST", Message: "invalid id"})
		return 0, false
	}
	return id, true
}

// requesterID reads the employer identity resolved by the (external)
// auth layer and forwarded in the X-Employer-ID header.
func requesterID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.GetHeader("X-Employer-ID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Code: "UNAUTHENTICATED", Message: "missing or invalid X-Employer-ID header"})
		return 0, false
	}
	return id, true
}

// jobView is the JSON shape of a job with money fields in dollars.
type jobView struct {
	ID                int64      `json:"id"`
	EmployerID        int64      `json:"employerId"`
	Status            string     `json:"status"`
	IsSponsored       bool       `json:"isSponsored"`
	SponsoredUntil    *time.Time `json:"sponsoredUntil,omitempty"`
	ImpressionLimit   *int64     `json:"impressionLimit,omitempty"`
	ImpressionsUsed   int64      `json:"impressionsUsed"`
	CostPerImpression float64    `json:"costPerImpression"`
	TargetLocation    string     `json:"targetLocation,omitempty"`
	TargetExperience  string     `json:"targetExperience,omitempty"`
	TargetEducation   string     `json:"targetEducation,omitempty"`
	ViewsCount        int64      `json:"viewsCount"`
	CreatedAt         time.Time  `json:"createdAt"`
}

func toJobView(j *sponsorship.Job) jobView {
	return jobView{
		ID:                j.ID,
		EmployerID:        j.EmployerID,
		Status:            string(j.Status),
		IsSponsored:       j.Sponsored,
		SponsoredUntil:    j.SponsoredUntil,
		ImpressionLimit:   j.ImpressionLimit,
		ImpressionsUsed:   j.ImpressionsUsed,
		CostPerImpression: j.CostPerImpression.Dollars(),
		TargetLocation:    j.TargetLocation,
		TargetExperience:  j.TargetExperience,
		TargetEducation:   j.TargetEducation,
		ViewsCount:        j.ViewsCount,
		CreatedAt:         j.CreatedAt,
	}
}
