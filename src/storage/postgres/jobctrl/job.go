package jobctrl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"jobboard/src/core/money"
	"jobboard/src/core/ranking"
	"jobboard/src/core/sponsorship"
)

// Job is a posting. Sponsorship fields are mutated only inside the
// ledger's atomic units; the engagement counters are maintained
// incrementally by the (external) like/comment handlers.
type Job struct {
	ID          int64  `gorm:"primaryKey" json:"id"`
	UserID      int64  `gorm:"not null;index" json:"user_id"`
	Title       string `gorm:"not null" json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Status      string `gorm:"not null;default:pending;index" json:"status"`

	LikesCount    int   `gorm:"not null;default:0" json:"likes_count"`
	CommentsCount int   `gorm:"not null;default:0" json:"comments_count"`
	ViewsCount    int64 `gorm:"not null;default:0" json:"views_count"`

	IsSponsored       bool       `gorm:"not null;default:false;index" json:"is_sponsored"`
	SponsoredUntil    *time.Time `json:"sponsored_until,omitempty"`
	ImpressionLimit   *int64     `json:"impression_limit,omitempty"`
	ImpressionsUsed   int64      `gorm:"not null;default:0" json:"impressions_used"`
	CostPerImpression int64      `gorm:"not null;default:0" json:"cost_per_impression"` // micro-dollars
	TargetLocation    string     `json:"target_location,omitempty"`
	TargetExperience  string     `json:"target_experience,omitempty"`
	TargetEducation   string     `json:"target_education,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Domain converts the row to the ledger's view of the job.
func (j *Job) Domain() *sponsorship.Job {
	return &sponsorship.Job{
		ID:                j.ID,
		EmployerID:        j.UserID,
		Status:            sponsorship.JobStatus(j.Status),
		CreatedAt:         j.CreatedAt,
		Sponsored:         j.IsSponsored,
		SponsoredUntil:    j.SponsoredUntil,
		ImpressionLimit:   j.ImpressionLimit,
		ImpressionsUsed:   j.ImpressionsUsed,
		CostPerImpression: money.Money(j.CostPerImpression),
		TargetLocation:    j.TargetLocation,
		TargetExperience:  j.TargetExperience,
		TargetEducation:   j.TargetEducation,
		ViewsCount:        j.ViewsCount,
	}
}

type JobService struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

func NewJobService(db *gorm.DB) (*JobService, error) {
	// Initialize snowflake node
	node, err := snowflake.NewNode(1) // Node number 1 for jobs
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	return &JobService{
		db:        db,
		snowflake: node,
	}, nil
}

func (s *JobService) Create(ctx context.Context, userID int64, title, description, location string) (*Job, error) {
	job := &Job{
		ID:          s.snowflake.Generate().Int64(),
		UserID:      userID,
		Title:       title,
		Description: description,
		Location:    location,
		Status:      string(sponsorship.JobStatusPending),
	}

	result := s.db.WithContext(ctx).Create(job)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to create job: %v", result.Error)
	}

	return job, nil
}

func (s *JobService) GetByID(ctx context.Context, id int64) (*Job, error) {
	var job Job
	result := s.db.WithContext(ctx).First(&job, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %v", result.Error)
	}
	return &job, nil
}

// SetStatus applies an admin moderation decision.
func (s *JobService) SetStatus(ctx context.Context, id int64, status sponsorship.JobStatus) (*Job, error) {
	switch status {
	case sponsorship.JobStatusPending, sponsorship.JobStatusApproved, sponsorship.JobStatusRejected:
	default:
		return nil, fmt.Errorf("invalid job status: %q", status)
	}

	result := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).Update("status", string(status))
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update job status: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	return s.GetByID(ctx, id)
}

func (s *JobService) Delete(ctx context.Context, id int64) error {
	result := s.db.WithContext(ctx).Delete(&Job{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete job: %v", result.Error)
	}
	return nil
}

// IncrementViews counts a plain view of a non-sponsored job. The
// increment happens in SQL so concurrent views are not lost.
func (s *JobService) IncrementViews(ctx context.Context, id int64) error {
	result := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).
		UpdateColumn("views_count", gorm.Expr("views_count + 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to increment views: %v", result.Error)
	}
	return nil
}

// rankedJobRow is the flat scan target for the approved-jobs join.
type rankedJobRow struct {
	ID              int64
	UserID          int64
	CreatedAt       time.Time
	LikesCount      int
	CommentsCount   int
	IsSponsored     bool
	SponsoredUntil  *time.Time
	ImpressionLimit *int64
	ImpressionsUsed int64
	AverageRating   float64
	ResponseRate    float64
	CompletedHires  int
	Verified        bool
}

// ListApprovedForRanking returns all approved jobs joined with the
// owning employer's reputation, newest first. This is the ranking
// engine's input snapshot and the fetch order its stable sort preserves.
func (s *JobService) ListApprovedForRanking(ctx context.Context) ([]ranking.Job, error) {
	var rows []rankedJobRow
	result := s.db.WithContext(ctx).
		Table("jobs").
		Select(`jobs.id, jobs.user_id, jobs.created_at, jobs.likes_count, jobs.comments_count,
			jobs.is_sponsored, jobs.sponsored_until, jobs.impression_limit, jobs.impressions_used,
			users.average_rating, users.response_rate, users.completed_hires, users.verified`).
		Joins("JOIN users ON users.id = jobs.user_id").
		Where("jobs.status = ?", string(sponsorship.JobStatusApproved)).
		Order("jobs.created_at DESC").
		Scan(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list approved jobs: %v", result.Error)
	}

	jobs := make([]ranking.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, ranking.Job{
			ID:              row.ID,
			EmployerID:      row.UserID,
			CreatedAt:       row.CreatedAt,
			LikesCount:      row.LikesCount,
			CommentsCount:   row.CommentsCount,
			Sponsored:       row.IsSponsored,
			SponsoredUntil:  row.SponsoredUntil,
			ImpressionLimit: row.ImpressionLimit,
			ImpressionsUsed: row.ImpressionsUsed,
			Reputation: ranking.EmployerReputation{
				AverageRating:  row.AverageRating,
				ResponseRate:   row.ResponseRate,
				CompletedHires: row.CompletedHires,
				Verified:       row.Verified,
			},
		})
	}

	return jobs, nil
}
