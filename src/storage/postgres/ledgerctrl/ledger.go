package ledgerctrl

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"jobboard/src/core/money"
	"jobboard/src/core/sponsorship"
	"jobboard/src/infrastructure/log"
	"jobboard/src/storage/postgres/jobctrl"
	"jobboard/src/storage/postgres/userctrl"
)

// JobImpression is one counted ad view, append-only. It doubles as the
// deduplication source: same user, or same ip+user-agent for guests,
// within the last hour counts once.
type JobImpression struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	JobID      int64     `gorm:"not null;index:idx_job_impressions_job_created" json:"job_id"`
	UserID     *int64    `gorm:"index" json:"user_id,omitempty"`
	IPAddress  string    `gorm:"not null" json:"ip_address"`
	UserAgent  string    `gorm:"not null" json:"user_agent"`
	IsTargeted bool      `gorm:"not null;default:false" json:"is_targeted"`
	CreatedAt  time.Time `gorm:"index:idx_job_impressions_job_created" json:"created_at"`
}

// BalanceTransaction is one immutable row of an employer's balance
// ledger. Amounts are signed micro-dollars.
type BalanceTransaction struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	UserID        int64     `gorm:"not null;index" json:"user_id"`
	Type          string    `gorm:"not null" json:"type"`
	Amount        int64     `gorm:"not null" json:"amount"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	RelatedJobID  *int64    `json:"related_job_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (t *BalanceTransaction) domain() sponsorship.Transaction {
	return sponsorship.Transaction{
		ID:            t.ID,
		EmployerID:    t.UserID,
		Type:          sponsorship.TransactionType(t.Type),
		Amount:        money.Money(t.Amount),
		BalanceBefore: money.Money(t.BalanceBefore),
		BalanceAfter:  money.Money(t.BalanceAfter),
		RelatedJobID:  t.RelatedJobID,
		CreatedAt:     t.CreatedAt,
	}
}

// DedupCache is an optional TTL cache consulted before the impression
// dedup query. The database stays the source of truth; cache failures
// fall through to the query.
type DedupCache interface {
	SeenImpression(ctx context.Context, key string) (bool, error)
	MarkImpression(ctx context.Context, key string, ttl time.Duration) error
}

// LedgerService implements sponsorship.Store on PostgreSQL. Every
// Apply* method runs in one transaction with SELECT ... FOR UPDATE row
// locks, recomputing the before/after balances under the lock so the
// transaction chain stays consistent under concurrent requests.
type LedgerService struct {
	db        *gorm.DB
	snowflake *snowflake.Node
	jobs      *jobctrl.JobService
	users     *userctrl.UserService
	cache     DedupCache
}

// NewLedgerService builds the store. cache may be nil.
func NewLedgerService(db *gorm.DB, jobs *jobctrl.JobService, users *userctrl.UserService, cache DedupCache) (*LedgerService, error) {
	// Initialize snowflake node
	node, err := snowflake.NewNode(3) // Node number 3 for ledger rows
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	return &LedgerService{
		db:        db,
		snowflake: node,
		jobs:      jobs,
		users:     users,
		cache:     cache,
	}, nil
}

func (s *LedgerService) GetJob(ctx context.Context, jobID int64) (*sponsorship.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil || job == nil {
		return nil, err
	}
	return job.Domain(), nil
}

func (s *LedgerService) GetEmployer(ctx context.Context, employerID int64) (*sponsorship.Employer, error) {
	return s.users.GetEmployer(ctx, employerID)
}

func (s *LedgerService) GetViewerProfile(ctx context.Context, userID int64) (*sponsorship.ViewerProfile, error) {
	return s.users.GetViewerProfile(ctx, userID)
}

func (s *LedgerService) RecordView(ctx context.Context, jobID int64) error {
	return s.jobs.IncrementViews(ctx, jobID)
}

func (s *LedgerService) HasRecentImpression(ctx context.Context, jobID int64, userID *int64, ip, userAgent string, since time.Time) (bool, error) {
	key := dedupKey(jobID, userID, ip, userAgent)
	if s.cache != nil {
		seen, err := s.cache.SeenImpression(ctx, key)
		if err != nil {
			log.Debug("impression dedup cache unavailable", "error", err.Error())
		} else if seen {
			return true, nil
		}
	}

	query := s.db.WithContext(ctx).Model(&JobImpression{}).
		Where("job_id = ? AND created_at >= ?", jobID, since)
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	} else {
		query = query.Where("ip_address = ? AND user_agent = ?", ip, userAgent)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check recent impressions: %v", err)
	}
	return count > 0, nil
}

func (s *LedgerService) ApplyImpression(ctx context.Context, imp sponsorship.Impression, cost money.Money) (*sponsorship.ImpressionOutcome, error) {
	var outcome sponsorship.ImpressionOutcome

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job jobctrl.Job
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&job, imp.JobID).Error; err != nil {
			return fmt.Errorf("failed to lock job: %v", err)
		}
		if !job.IsSponsored {
			return sponsorship.ErrQuotaExhausted
		}
		if job.ImpressionLimit != nil && job.ImpressionsUsed >= *job.ImpressionLimit {
			return sponsorship.ErrQuotaExhausted
		}

		var user userctrl.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, job.UserID).Error; err != nil {
			return fmt.Errorf("failed to lock employer: %v", err)
		}
		if user.AdBalance < int64(cost) {
			return &sponsorship.InsufficientFundsError{
				Required: cost,
				Current:  money.Money(user.AdBalance),
			}
		}

		record := JobImpression{
			ID:         s.snowflake.Generate().Int64(),
			JobID:      job.ID,
			UserID:     imp.UserID,
			IPAddress:  imp.IPAddress,
			UserAgent:  imp.UserAgent,
			IsTargeted: imp.Targeted,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to create impression: %v", err)
		}

		used := job.ImpressionsUsed + 1
		if err := tx.Model(&job).UpdateColumn("impressions_used", used).Error; err != nil {
			return fmt.Errorf("failed to increment impressions: %v", err)
		}

		before := user.AdBalance
		after := before - int64(cost)
		if err := tx.Model(&user).UpdateColumn("ad_balance", after).Error; err != nil {
			return fmt.Errorf("failed to debit balance: %v", err)
		}

		txn := BalanceTransaction{
			ID:            s.snowflake.Generate().Int64(),
			UserID:        user.ID,
			Type:          string(sponsorship.TransactionDeduction),
			Amount:        -int64(cost),
			BalanceBefore: before,
			BalanceAfter:  after,
			RelatedJobID:  &job.ID,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return fmt.Errorf("failed to append transaction: %v", err)
		}

		outcome = sponsorship.ImpressionOutcome{
			ImpressionsUsed: used,
			Balance:         money.Money(after),
		}
		if job.ImpressionLimit != nil {
			remaining := *job.ImpressionLimit - used
			outcome.Remaining = &remaining
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		key := dedupKey(imp.JobID, imp.UserID, imp.IPAddress, imp.UserAgent)
		if err := s.cache.MarkImpression(ctx, key, sponsorship.DedupWindow); err != nil {
			log.Debug("failed to mark impression in cache", "error", err.Error())
		}
	}

	return &outcome, nil
}

func (s *LedgerService) ApplySponsorship(ctx context.Context, p sponsorship.SponsorParams, cost money.Money) (*sponsorship.Job, *sponsorship.Employer, error) {
	var (
		job  jobctrl.Job
		user userctrl.User
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&job, p.JobID).Error; err != nil {
			return fmt.Errorf("failed to lock job: %v", err)
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, p.EmployerID).Error; err != nil {
			return fmt.Errorf("failed to lock employer: %v", err)
		}
		if user.AdBalance < int64(cost) {
			return &sponsorship.InsufficientFundsError{
				Required: cost,
				Current:  money.Money(user.AdBalance),
			}
		}

		perImpression := int64(cost) / p.ImpressionLimit
		updates := map[string]interface{}{
			"is_sponsored":        true,
			"sponsored_until":     nil,
			"impression_limit":    p.ImpressionLimit,
			"impressions_used":    0,
			"cost_per_impression": perImpression,
			"target_location":     p.TargetLocation,
			"target_experience":   p.TargetExperience,
			"target_education":    p.TargetEducation,
		}
		if err := tx.Model(&job).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update job sponsorship: %v", err)
		}

		before := user.AdBalance
		after := before - int64(cost)
		if err := tx.Model(&user).UpdateColumn("ad_balance", after).Error; err != nil {
			return fmt.Errorf("failed to debit balance: %v", err)
		}
		user.AdBalance = after

		txn := BalanceTransaction{
			ID:            s.snowflake.Generate().Int64(),
			UserID:        user.ID,
			Type:          string(sponsorship.TransactionDeduction),
			Amount:        -int64(cost),
			BalanceBefore: before,
			BalanceAfter:  after,
			RelatedJobID:  &job.ID,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return fmt.Errorf("failed to append transaction: %v", err)
		}

		return tx.First(&job, p.JobID).Error
	})
	if err != nil {
		return nil, nil, err
	}

	return job.Domain(), &sponsorship.Employer{ID: user.ID, Balance: money.Money(user.AdBalance)}, nil
}

func (s *LedgerService) ApplyRefund(ctx context.Context, jobID, employerID int64, refund money.Money) (*sponsorship.Job, *sponsorship.Employer, error) {
	var (
		job  jobctrl.Job
		user userctrl.User
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&job, jobID).Error; err != nil {
			return fmt.Errorf("failed to lock job: %v", err)
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, employerID).Error; err != nil {
			return fmt.Errorf("failed to lock employer: %v", err)
		}

		if err := clearSponsorshipTx(tx, &job); err != nil {
			return err
		}

		before := user.AdBalance
		after := before + int64(refund)
		if err := tx.Model(&user).UpdateColumn("ad_balance", after).Error; err != nil {
			return fmt.Errorf("failed to credit balance: %v", err)
		}
		user.AdBalance = after

		txn := BalanceTransaction{
			ID:            s.snowflake.Generate().Int64(),
			UserID:        user.ID,
			Type:          string(sponsorship.TransactionRefund),
			Amount:        int64(refund),
			BalanceBefore: before,
			BalanceAfter:  after,
			RelatedJobID:  &job.ID,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return fmt.Errorf("failed to append transaction: %v", err)
		}

		return tx.First(&job, jobID).Error
	})
	if err != nil {
		return nil, nil, err
	}

	return job.Domain(), &sponsorship.Employer{ID: user.ID, Balance: money.Money(user.AdBalance)}, nil
}

func (s *LedgerService) ApplyTopUp(ctx context.Context, employerID int64, amount money.Money) (*sponsorship.Employer, error) {
	var user userctrl.User

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, employerID).Error; err != nil {
			return fmt.Errorf("failed to lock employer: %v", err)
		}

		before := user.AdBalance
		after := before + int64(amount)
		if err := tx.Model(&user).UpdateColumn("ad_balance", after).Error; err != nil {
			return fmt.Errorf("failed to credit balance: %v", err)
		}
		user.AdBalance = after

		txn := BalanceTransaction{
			ID:            s.snowflake.Generate().Int64(),
			UserID:        user.ID,
			Type:          string(sponsorship.TransactionTopUp),
			Amount:        int64(amount),
			BalanceBefore: before,
			BalanceAfter:  after,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return fmt.Errorf("failed to append transaction: %v", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &sponsorship.Employer{ID: user.ID, Balance: money.Money(user.AdBalance)}, nil
}

func (s *LedgerService) ClearSponsorship(ctx context.Context, jobID int64) (*sponsorship.Job, error) {
	var job jobctrl.Job

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&job, jobID).Error; err != nil {
			return fmt.Errorf("failed to lock job: %v", err)
		}
		if err := clearSponsorshipTx(tx, &job); err != nil {
			return err
		}
		return tx.First(&job, jobID).Error
	})
	if err != nil {
		return nil, err
	}

	return job.Domain(), nil
}

// clearSponsorshipTx resets the sponsorship fields. ImpressionsUsed is
// kept as a historical counter; a new purchase resets it.
func clearSponsorshipTx(tx *gorm.DB, job *jobctrl.Job) error {
	updates := map[string]interface{}{
		"is_sponsored":        false,
		"sponsored_until":     nil,
		"impression_limit":    nil,
		"cost_per_impression": 0,
		"target_location":     "",
		"target_experience":   "",
		"target_education":    "",
	}
	if err := tx.Model(job).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to clear sponsorship: %v", err)
	}
	return nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, employerID int64, limit, offset int) ([]sponsorship.Transaction, error) {
	var rows []BalanceTransaction
	result := s.db.WithContext(ctx).
		Where("user_id = ?", employerID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list transactions: %v", result.Error)
	}

	txns := make([]sponsorship.Transaction, 0, len(rows))
	for i := range rows {
		txns = append(txns, rows[i].domain())
	}
	return txns, nil
}

// dedupKey builds the cache key for one viewer of one job: user ID when
// authenticated, a hash of ip+user-agent for guests.
func dedupKey(jobID int64, userID *int64, ip, userAgent string) string {
	if userID != nil {
		return fmt.Sprintf("imp:%d:u:%d", jobID, *userID)
	}
	h := fnv.New64a()
	h.Write([]byte(ip))
	h.Write([]byte{0})
	h.Write([]byte(userAgent))
	return fmt.Sprintf("imp:%d:g:%x", jobID, h.Sum64())
}
