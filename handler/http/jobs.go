package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jobboard/src/core/ranking"
	"jobboard/src/core/sponsorship"
	"jobboard/src/storage/postgres/userctrl"
)

type createJobRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

type setJobStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// rankedJobView is one entry of the listing, annotated with its score.
type rankedJobView struct {
	ID            int64     `json:"id"`
	EmployerID    int64     `json:"employerId"`
	CreatedAt     time.Time `json:"createdAt"`
	LikesCount    int       `json:"likesCount"`
	CommentsCount int       `json:"commentsCount"`
	IsSponsored   bool      `json:"isSponsored"`
	RankingScore  float64   `json:"rankingScore"`
}

// ListJobs returns approved jobs in display order: active sponsored
// listings first, then organically ranked ones, capped at one page.
func (h *Handler) ListJobs(c *gin.Context) {
	jobs, err := h.jobs.ListApprovedForRanking(c.Request.Context())
	if err != nil {
		sendError(c, err)
		return
	}

	now := time.Now()
	ranked := ranking.Rank(jobs, now)

	views := make([]rankedJobView, 0, len(ranked))
	for _, r := range ranked {
		views = append(views, rankedJobView{
			ID:            r.ID,
			EmployerID:    r.EmployerID,
			CreatedAt:     r.CreatedAt,
			LikesCount:    r.LikesCount,
			CommentsCount: r.CommentsCount,
			IsSponsored:   ranking.SponsoredActive(r.Job, now),
			RankingScore:  r.RankingScore,
		})
	}

	sendJSON(c, http.StatusOK, views)
}

func (h *Handler) CreateJob(c *gin.Context) {
	employer, ok := requesterID(c)
	if !ok {
		return
	}

	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}

	job, err := h.jobs.Create(c.Request.Context(), employer, req.Title, req.Description, req.Location)
	if err != nil {
		sendError(c, err)
		return
	}

	sendJSON(c, http.StatusCreated, toJobView(job.Domain()))
}

func (h *Handler) GetJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	job, err := h.jobs.GetByID(c.Request.Context(), id)
	if err != nil {
		sendError(c, err)
		return
	}
	if job == nil {
		sendError(c, sponsorship.ErrJobNotFound)
		return
	}

	sendJSON(c, http.StatusOK, toJobView(job.Domain()))
}

// DeleteJob removes a posting. Only the owning employer may delete it;
// admin deletion goes through the same header identity.
func (h *Handler) DeleteJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	requester, ok := requesterID(c)
	if !ok {
		return
	}

	job, err := h.jobs.GetByID(c.Request.Context(), id)
	if err != nil {
		sendError(c, err)
		return
	}
	if job == nil {
		sendError(c, sponsorship.ErrJobNotFound)
		return
	}
	if job.UserID != requester && !h.isAdmin(c, requester) {
		sendError(c, sponsorship.ErrForbidden)
		return
	}

	if err := h.jobs.Delete(c.Request.Context(), id); err != nil {
		sendError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// SetJobStatus applies an admin approve/reject decision.
func (h *Handler) SetJobStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	requester, ok := requesterID(c)
	if !ok {
		return
	}
	if !h.isAdmin(c, requester) {
		sendError(c, sponsorship.ErrForbidden)
		return
	}

	var req setJobStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}

	job, err := h.jobs.SetStatus(c.Request.Context(), id, sponsorship.JobStatus(req.Status))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_STATE", Message: err.Error()})
		return
	}
	if job == nil {
		sendError(c, sponsorship.ErrJobNotFound)
		return
	}

	sendJSON(c, http.StatusOK, toJobView(job.Domain()))
}

func (h *Handler) isAdmin(c *gin.Context, requester int64) bool {
	user, err := h.users.GetByID(c.Request.Context(), requester)
	if err != nil || user == nil {
		return false
	}
	return user.Role == string(userctrl.RoleAdmin)
}
