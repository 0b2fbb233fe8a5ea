package sponsorship

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobboard/src/core/money"
	"jobboard/src/infrastructure/log"
)

// Service implements the sponsorship ledger: impression counting with
// deduplication and audience targeting, prepaid sponsorship purchases,
// refunds and top-ups. All balance math runs inside the Store's atomic
// units; the service makes the decisions.
type Service struct {
	store    Store
	notifier Notifier
}

func NewService(store Store, notifier Notifier) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
	}
}

// ImpressionInput identifies one view of a job detail page. UserID is
// nil for guests.
type ImpressionInput struct {
	JobID     int64
	UserID    *int64
	IPAddress string
	UserAgent string
}

// ImpressionResult reports what the ledger did with a view.
type ImpressionResult struct {
	Sponsored            bool   `json:"sponsored"`
	Counted              bool   `json:"counted"`
	Duplicate            bool   `json:"duplicate,omitempty"`
	Targeted             bool   `json:"isTargeted,omitempty"`
	ImpressionsRemaining *int64 `json:"impressionsRemaining,omitempty"`
}

// RecordImpression handles one view event. Missing or unapproved jobs
// are a silent no-op; non-sponsored jobs count a plain view; sponsored
// jobs go through quota, dedup and targeting checks before the atomic
// impression/debit/append unit runs. An impression that fails targeting
// costs the employer nothing.
func (s *Service) RecordImpression(ctx context.Context, in ImpressionInput) (*ImpressionResult, error) {
	job, err := s.store.GetJob(ctx, in.JobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil || job.Status != JobStatusApproved {
		return &ImpressionResult{}, nil
	}

	if !job.Sponsored {
		if err := s.store.RecordView(ctx, job.ID); err != nil {
			return nil, fmt.Errorf("failed to record view: %w", err)
		}
		return &ImpressionResult{Counted: true}, nil
	}

	if job.ImpressionLimit != nil && job.ImpressionsUsed >= *job.ImpressionLimit {
		return s.expireSponsorship(ctx, job)
	}

	dup, err := s.store.HasRecentImpression(ctx, job.ID, in.UserID, in.IPAddress, in.UserAgent, time.Now().Add(-DedupWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicate impression: %w", err)
	}
	if dup {
		return &ImpressionResult{Sponsored: true, Duplicate: true}, nil
	}

	targeted, err := s.matchesTargeting(ctx, job, in.UserID)
	if err != nil {
		return nil, err
	}
	if !targeted {
		return &ImpressionResult{Sponsored: true}, nil
	}

	cost := job.CostPerImpression
	if cost == 0 {
		cost = CostPerImpression
	}
	outcome, err := s.store.ApplyImpression(ctx, Impression{
		JobID:     job.ID,
		UserID:    in.UserID,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
		Targeted:  true,
	}, cost)
	if errors.Is(err, ErrQuotaExhausted) {
		return s.expireSponsorship(ctx, job)
	}
	if err != nil {
		return nil, err
	}

	if outcome.Remaining != nil && *outcome.Remaining > 0 && *outcome.Remaining <= LowImpressionsThreshold {
		s.notify(ctx, Event{
			Kind:       EventImpressionsLow,
			EmployerID: job.EmployerID,
			JobID:      &job.ID,
			Remaining:  outcome.Remaining,
		})
	}

	return &ImpressionResult{
		Sponsored:            true,
		Counted:              true,
		Targeted:             true,
		ImpressionsRemaining: outcome.Remaining,
	}, nil
}

// expireSponsorship flips an exhausted job back to a free listing. No
// refund, no impression: the view that detected exhaustion is not
// charged.
func (s *Service) expireSponsorship(ctx context.Context, job *Job) (*ImpressionResult, error) {
	if _, err := s.store.ClearSponsorship(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("failed to expire sponsorship: %w", err)
	}
	s.notify(ctx, Event{
		Kind:       EventSponsorshipExpired,
		EmployerID: job.EmployerID,
		JobID:      &job.ID,
	})
	return &ImpressionResult{Sponsored: false}, nil
}

// matchesTargeting applies the job's audience criteria. An unset field
// always matches; all set fields must match. Guests only match jobs
// with no criteria at all.
func (s *Service) matchesTargeting(ctx context.Context, job *Job, userID *int64) (bool, error) {
	noCriteria := job.TargetLocation == "" && job.TargetExperience == "" && job.TargetEducation == ""
	if userID == nil {
		return noCriteria, nil
	}

	profile, err := s.store.GetViewerProfile(ctx, *userID)
	if err != nil {
		return false, fmt.Errorf("failed to load viewer profile: %w", err)
	}
	if profile == nil {
		return noCriteria, nil
	}

	return fieldMatches(job.TargetLocation, profile.Location) &&
		fieldMatches(job.TargetExperience, profile.ExperienceLevel) &&
		fieldMatches(job.TargetEducation, profile.Education), nil
}

func fieldMatches(target, actual string) bool {
	if target == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(target), strings.TrimSpace(actual))
}

// SponsorInput is an employer's purchase request.
type SponsorInput struct {
	EmployerID       int64
	JobID            int64
	ImpressionLimit  int64
	TargetLocation   string
	TargetExperience string
	TargetEducation  string
}

// SponsorResult is the committed purchase.
type SponsorResult struct {
	Job     *Job
	Cost    money.Money
	Balance money.Money
}

// Sponsor converts an approved free listing into a sponsored one. The
// full quota value is debited up front. The balance is checked here for
// a useful error payload and re-checked inside the atomic unit, so two
// concurrent purchases cannot drain the balance below zero.
func (s *Service) Sponsor(ctx context.Context, in SponsorInput) (*SponsorResult, error) {
	job, err := s.store.GetJob(ctx, in.JobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if job.EmployerID != in.EmployerID {
		return nil, ErrForbidden
	}
	if job.Status != JobStatusApproved {
		return nil, fmt.Errorf("%w: job is not approved", ErrInvalidState)
	}
	if job.Sponsored {
		return nil, fmt.Errorf("%w: job is already sponsored", ErrInvalidState)
	}
	if in.ImpressionLimit < MinImpressionLimit {
		return nil, fmt.Errorf("%w: impression limit must be at least %d", ErrInvalidState, MinImpressionLimit)
	}

	cost := CostPerImpression.MulCount(in.ImpressionLimit)

	employer, err := s.store.GetEmployer(ctx, in.EmployerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load employer: %w", err)
	}
	if employer == nil {
		return nil, ErrEmployerNotFound
	}
	if employer.Balance < cost {
		return nil, &InsufficientFundsError{Required: cost, Current: employer.Balance}
	}

	job, employer, err = s.store.ApplySponsorship(ctx, SponsorParams{
		JobID:            in.JobID,
		EmployerID:       in.EmployerID,
		ImpressionLimit:  in.ImpressionLimit,
		TargetLocation:   in.TargetLocation,
		TargetExperience: in.TargetExperience,
		TargetEducation:  in.TargetEducation,
	}, cost)
	if err != nil {
		return nil, err
	}

	return &SponsorResult{Job: job, Cost: cost, Balance: employer.Balance}, nil
}

// StopResult is a voluntary sponsorship stop.
type StopResult struct {
	Job     *Job
	Refund  money.Money
	Balance money.Money
}

// Stop ends a sponsorship early and refunds the unused-impression value.
// A zero refund still clears the sponsorship state, without a ledger
// entry.
func (s *Service) Stop(ctx context.Context, employerID, jobID int64) (*StopResult, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if job.EmployerID != employerID {
		return nil, ErrForbidden
	}
	if !job.Sponsored {
		return nil, fmt.Errorf("%w: job is not sponsored", ErrInvalidState)
	}

	var refund money.Money
	if job.ImpressionLimit != nil && *job.ImpressionLimit > job.ImpressionsUsed {
		perImpression := job.CostPerImpression
		if perImpression == 0 {
			perImpression = CostPerImpression
		}
		refund = perImpression.MulCount(*job.ImpressionLimit - job.ImpressionsUsed)
	}

	if refund > 0 {
		job, employer, err := s.store.ApplyRefund(ctx, jobID, employerID, refund)
		if err != nil {
			return nil, err
		}
		return &StopResult{Job: job, Refund: refund, Balance: employer.Balance}, nil
	}

	job, err = s.store.ClearSponsorship(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to clear sponsorship: %w", err)
	}
	employer, err := s.store.GetEmployer(ctx, employerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load employer: %w", err)
	}
	var balance money.Money
	if employer != nil {
		balance = employer.Balance
	}
	return &StopResult{Job: job, Refund: 0, Balance: balance}, nil
}

// TopUp adds prepaid funds to an employer's ad balance.
func (s *Service) TopUp(ctx context.Context, employerID int64, amount money.Money) (*Employer, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: top-up amount must be positive", ErrInvalidState)
	}

	employer, err := s.store.GetEmployer(ctx, employerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load employer: %w", err)
	}
	if employer == nil {
		return nil, ErrEmployerNotFound
	}

	employer, err = s.store.ApplyTopUp(ctx, employerID, amount)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, Event{
		Kind:       EventBalanceTopUp,
		EmployerID: employerID,
		Amount:     &amount,
	})

	return employer, nil
}

// Transactions returns a page of the employer's append-only ledger.
func (s *Service) Transactions(ctx context.Context, employerID int64, limit, offset int) ([]Transaction, error) {
	employer, err := s.store.GetEmployer(ctx, employerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load employer: %w", err)
	}
	if employer == nil {
		return nil, ErrEmployerNotFound
	}
	return s.store.ListTransactions(ctx, employerID, limit, offset)
}

// notify emits an event without letting delivery problems fail the
// ledger operation that triggered it.
func (s *Service) notify(ctx context.Context, event Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		log.Error(err, "failed to publish notification",
			"kind", event.Kind,
			"employer_id", event.EmployerID,
		)
	}
}
