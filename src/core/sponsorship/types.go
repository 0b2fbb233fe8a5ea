package sponsorship

import (
	"context"
	"time"

	"jobboard/src/core/money"
)

const (
	// CostPerImpression is fixed at $0.001, i.e. $1 per 1000 impressions.
	CostPerImpression = 1000 * money.Micro

	// MinImpressionLimit is the smallest quota an employer can buy.
	MinImpressionLimit = 1000

	// LowImpressionsThreshold triggers the running-low notification when
	// the remaining quota falls into (0, threshold].
	LowImpressionsThreshold = 100

	// DedupWindow is how long a repeat view from the same viewer stays a
	// duplicate.
	DedupWindow = time.Hour
)

// JobStatus is the moderation state of a posting.
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusApproved JobStatus = "approved"
	JobStatusRejected JobStatus = "rejected"
)

// Job is the ledger's view of a posting. Empty target fields mean the
// employer set no criterion for that dimension.
type Job struct {
	ID                int64
	EmployerID        int64
	Status            JobStatus
	CreatedAt         time.Time
	Sponsored         bool
	SponsoredUntil    *time.Time
	ImpressionLimit   *int64
	ImpressionsUsed   int64
	CostPerImpression money.Money
	TargetLocation    string
	TargetExperience  string
	TargetEducation   string
	ViewsCount        int64
}

// Employer is the prepaid-balance side of the ledger.
type Employer struct {
	ID      int64
	Balance money.Money
}

// ViewerProfile is the audience data of an authenticated viewer, matched
// against a job's targeting criteria.
type ViewerProfile struct {
	Location        string
	ExperienceLevel string
	Education       string
}

// Impression is one counted ad view.
type Impression struct {
	JobID     int64
	UserID    *int64
	IPAddress string
	UserAgent string
	Targeted  bool
	CreatedAt time.Time
}

// TransactionType classifies a balance mutation.
type TransactionType string

const (
	TransactionTopUp     TransactionType = "topup"
	TransactionDeduction TransactionType = "deduction"
	TransactionRefund    TransactionType = "refund"
)

// Transaction is one immutable row of the append-only balance ledger.
// For any employer the rows chain: BalanceAfter == BalanceBefore + Amount
// and each row's BalanceBefore equals the previous row's BalanceAfter.
type Transaction struct {
	ID            int64
	EmployerID    int64
	Type          TransactionType
	Amount        money.Money // signed
	BalanceBefore money.Money
	BalanceAfter  money.Money
	RelatedJobID  *int64
	CreatedAt     time.Time
}

// ImpressionOutcome is what the atomic impression unit reports back.
type ImpressionOutcome struct {
	ImpressionsUsed int64
	Remaining       *int64 // nil when the job has no quota
	Balance         money.Money
}

// SponsorParams are the sponsorship fields applied to a job when the
// purchase commits.
type SponsorParams struct {
	JobID            int64
	EmployerID       int64
	ImpressionLimit  int64
	TargetLocation   string
	TargetExperience string
	TargetEducation  string
}

// Store is the persistence boundary of the ledger. Get* methods return
// (nil, nil) for missing records. Every Apply* method is a single atomic
// unit: it re-reads the rows it mutates under a write lock, re-validates
// balance and quota, and either commits all of its writes or none.
type Store interface {
	GetJob(ctx context.Context, jobID int64) (*Job, error)
	GetEmployer(ctx context.Context, employerID int64) (*Employer, error)
	GetViewerProfile(ctx context.Context, userID int64) (*ViewerProfile, error)

	// HasRecentImpression reports whether the job already counted an
	// impression since the given time for this viewer: matched by user ID
	// when present, by (ip, userAgent) for guests.
	HasRecentImpression(ctx context.Context, jobID int64, userID *int64, ip, userAgent string, since time.Time) (bool, error)

	// RecordView counts a plain (non-sponsored) view. No ledger mutation.
	RecordView(ctx context.Context, jobID int64) error

	// ApplyImpression inserts the impression row, increments the job's
	// used counter, debits the employer and appends the deduction
	// transaction. Returns ErrQuotaExhausted if the quota was spent by a
	// concurrent request, or an *InsufficientFundsError if the balance
	// no longer covers the cost.
	ApplyImpression(ctx context.Context, imp Impression, cost money.Money) (*ImpressionOutcome, error)

	// ApplySponsorship debits the upfront cost, appends the deduction
	// transaction and flips the job to sponsored with a fresh counter.
	ApplySponsorship(ctx context.Context, p SponsorParams, cost money.Money) (*Job, *Employer, error)

	// ApplyRefund credits the unused-impression value, appends the refund
	// transaction and clears the job's sponsorship fields.
	ApplyRefund(ctx context.Context, jobID, employerID int64, refund money.Money) (*Job, *Employer, error)

	// ApplyTopUp credits the employer and appends the topup transaction.
	ApplyTopUp(ctx context.Context, employerID int64, amount money.Money) (*Employer, error)

	// ClearSponsorship resets the job's sponsorship fields without any
	// balance movement (quota exhaustion, zero-value stop).
	ClearSponsorship(ctx context.Context, jobID int64) (*Job, error)

	ListTransactions(ctx context.Context, employerID int64, limit, offset int) ([]Transaction, error)
}

// EventKind names a user-facing notification. Delivery is external; the
// ledger only emits the event.
type EventKind string

const (
	EventSponsorshipExpired EventKind = "sponsorship.expired"
	EventImpressionsLow     EventKind = "impressions.low"
	EventBalanceTopUp       EventKind = "balance.topup"
)

// Event is a notification emitted by the ledger.
type Event struct {
	Kind       EventKind
	EmployerID int64
	JobID      *int64
	Amount     *money.Money
	Remaining  *int64
}

// Notifier delivers ledger events to the outside world.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}
