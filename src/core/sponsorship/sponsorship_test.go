package sponsorship_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"jobboard/src/core/money"
	"jobboard/src/core/sponsorship"
)

// fakeStore is an in-memory Store. Its Apply* methods mirror the
// postgres implementation: re-validate quota and balance, then apply
// impression, counters, balance and ledger rows together.
type fakeStore struct {
	jobs        map[int64]*sponsorship.Job
	employers   map[int64]*sponsorship.Employer
	profiles    map[int64]*sponsorship.ViewerProfile
	impressions []sponsorship.Impression
	txns        []sponsorship.Transaction
	views       map[int64]int
	nextID      int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:      make(map[int64]*sponsorship.Job),
		employers: make(map[int64]*sponsorship.Employer),
		profiles:  make(map[int64]*sponsorship.ViewerProfile),
		views:     make(map[int64]int),
	}
}

func (f *fakeStore) GetJob(_ context.Context, id int64) (*sponsorship.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (f *fakeStore) GetEmployer(_ context.Context, id int64) (*sponsorship.Employer, error) {
	emp, ok := f.employers[id]
	if !ok {
		return nil, nil
	}
	cp := *emp
	return &cp, nil
}

func (f *fakeStore) GetViewerProfile(_ context.Context, id int64) (*sponsorship.ViewerProfile, error) {
	profile, ok := f.profiles[id]
	if !ok {
		return nil, nil
	}
	cp := *profile
	return &cp, nil
}

func (f *fakeStore) HasRecentImpression(_ context.Context, jobID int64, userID *int64, ip, ua string, since time.Time) (bool, error) {
	for _, imp := range f.impressions {
		if imp.JobID != jobID || imp.CreatedAt.Before(since) {
			continue
		}
		if userID != nil {
			if imp.UserID != nil && *imp.UserID == *userID {
				return true, nil
			}
			continue
		}
		if imp.IPAddress == ip && imp.UserAgent == ua {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) RecordView(_ context.Context, jobID int64) error {
	f.views[jobID]++
	return nil
}

func (f *fakeStore) appendTxn(employerID int64, kind sponsorship.TransactionType, amount money.Money, jobID *int64) {
	emp := f.employers[employerID]
	before := emp.Balance
	after := before + amount
	emp.Balance = after
	f.nextID++
	f.txns = append(f.txns, sponsorship.Transaction{
		ID:            f.nextID,
		EmployerID:    employerID,
		Type:          kind,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		RelatedJobID:  jobID,
		CreatedAt:     time.Now(),
	})
}

func (f *fakeStore) ApplyImpression(_ context.Context, imp sponsorship.Impression, cost money.Money) (*sponsorship.ImpressionOutcome, error) {
	job := f.jobs[imp.JobID]
	if !job.Sponsored {
		return nil, sponsorship.ErrQuotaExhausted
	}
	if job.ImpressionLimit != nil && job.ImpressionsUsed >= *job.ImpressionLimit {
		return nil, sponsorship.ErrQuotaExhausted
	}
	emp := f.employers[job.EmployerID]
	if emp.Balance < cost {
		return nil, &sponsorship.InsufficientFundsError{Required: cost, Current: emp.Balance}
	}

	imp.CreatedAt = time.Now()
	f.impressions = append(f.impressions, imp)
	job.ImpressionsUsed++
	f.appendTxn(job.EmployerID, sponsorship.TransactionDeduction, -cost, &job.ID)

	outcome := &sponsorship.ImpressionOutcome{
		ImpressionsUsed: job.ImpressionsUsed,
		Balance:         emp.Balance,
	}
	if job.ImpressionLimit != nil {
		remaining := *job.ImpressionLimit - job.ImpressionsUsed
		outcome.Remaining = &remaining
	}
	return outcome, nil
}

func (f *fakeStore) ApplySponsorship(_ context.Context, p sponsorship.SponsorParams, cost money.Money) (*sponsorship.Job, *sponsorship.Employer, error) {
	job := f.jobs[p.JobID]
	emp := f.employers[p.EmployerID]
	if emp.Balance < cost {
		return nil, nil, &sponsorship.InsufficientFundsError{Required: cost, Current: emp.Balance}
	}

	limit := p.ImpressionLimit
	job.Sponsored = true
	job.SponsoredUntil = nil
	job.ImpressionLimit = &limit
	job.ImpressionsUsed = 0
	job.CostPerImpression = cost / money.Money(limit)
	job.TargetLocation = p.TargetLocation
	job.TargetExperience = p.TargetExperience
	job.TargetEducation = p.TargetEducation

	f.appendTxn(p.EmployerID, sponsorship.TransactionDeduction, -cost, &job.ID)

	jobCopy := *job
	empCopy := *emp
	return &jobCopy, &empCopy, nil
}

func (f *fakeStore) ApplyRefund(_ context.Context, jobID, employerID int64, refund money.Money) (*sponsorship.Job, *sponsorship.Employer, error) {
	job := f.jobs[jobID]
	f.clear(job)
	f.appendTxn(employerID, sponsorship.TransactionRefund, refund, &job.ID)

	jobCopy := *job
	empCopy := *f.employers[employerID]
	return &jobCopy, &empCopy, nil
}

func (f *fakeStore) ApplyTopUp(_ context.Context, employerID int64, amount money.Money) (*sponsorship.Employer, error) {
	f.appendTxn(employerID, sponsorship.TransactionTopUp, amount, nil)
	cp := *f.employers[employerID]
	return &cp, nil
}

func (f *fakeStore) ClearSponsorship(_ context.Context, jobID int64) (*sponsorship.Job, error) {
	job := f.jobs[jobID]
	f.clear(job)
	cp := *job
	return &cp, nil
}

func (f *fakeStore) clear(job *sponsorship.Job) {
	job.Sponsored = false
	job.SponsoredUntil = nil
	job.ImpressionLimit = nil
	job.CostPerImpression = 0
	job.TargetLocation = ""
	job.TargetExperience = ""
	job.TargetEducation = ""
}

func (f *fakeStore) ListTransactions(_ context.Context, employerID int64, limit, offset int) ([]sponsorship.Transaction, error) {
	var out []sponsorship.Transaction
	for _, t := range f.txns {
		if t.EmployerID == employerID {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	events []sponsorship.Event
}

func (n *fakeNotifier) Notify(_ context.Context, event sponsorship.Event) error {
	n.events = append(n.events, event)
	return nil
}

func i64(v int64) *int64 { return &v }

func seedEmployer(store *fakeStore, id int64, balance money.Money) {
	store.employers[id] = &sponsorship.Employer{ID: id, Balance: balance}
}

func seedApprovedJob(store *fakeStore, id, employerID int64) *sponsorship.Job {
	job := &sponsorship.Job{
		ID:         id,
		EmployerID: employerID,
		Status:     sponsorship.JobStatusApproved,
		CreatedAt:  time.Now().Add(-24 * time.Hour),
	}
	store.jobs[id] = job
	return job
}

func seedSponsoredJob(store *fakeStore, id, employerID, limit, used int64) *sponsorship.Job {
	job := seedApprovedJob(store, id, employerID)
	job.Sponsored = true
	job.ImpressionLimit = &limit
	job.ImpressionsUsed = used
	job.CostPerImpression = sponsorship.CostPerImpression
	return job
}

func newService(store *fakeStore) (*sponsorship.Service, *fakeNotifier) {
	notifier := &fakeNotifier{}
	return sponsorship.NewService(store, notifier), notifier
}

func TestSponsor_DebitsFullCostUpfront(t *testing.T) {
	store := newFakeStore()
	seedEmployer(store, 1, money.FromDollars(10))
	seedApprovedJob(store, 100, 1)
	svc, _ := newService(store)

	result, err := svc.Sponsor(context.Background(), sponsorship.SponsorInput{
		EmployerID:      1,
		JobID:           100,
		ImpressionLimit: 5000,
	})
	if err != nil {
		t.Fatalf("Sponsor() error = %v", err)
	}

	if result.Cost != money.FromDollars(5) {
		t.Errorf("cost = %v, want $5", result.Cost)
	}
	if result.Balance != money.FromDollars(5) {
		t.Errorf("balance = %v, want $5", result.Balance)
	}
	if !result.Job.Sponsored || result.Job.ImpressionsUsed != 0 {
		t.Errorf("job = %+v, want sponsored with zero impressions used", result.Job)
	}

	if len(store.txns) != 1 {
		t.Fatalf("got %d transactions, want 1", len(store.txns))
	}
	txn := store.txns[0]
	if txn.Type != sponsorship.TransactionDeduction ||
		txn.Amount != money.FromDollars(-5) ||
		txn.BalanceBefore != money.FromDollars(10) ||
		txn.BalanceAfter != money.FromDollars(5) {
		t.Errorf("transaction = %+v, want -$5 deduction from $10 to $5", txn)
	}
}

func TestSponsor_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		seed    func(store *fakeStore)
		input   sponsorship.SponsorInput
		wantErr error
	}{
		{
			name:    "unknown job",
			seed:    func(store *fakeStore) { seedEmployer(store, 1, money.FromDollars(10)) },
			input:   sponsorship.SponsorInput{EmployerID: 1, JobID: 404, ImpressionLimit: 5000},
			wantErr: sponsorship.ErrJobNotFound,
		},
		{
			name: "not the owner",
			seed: func(store *fakeStore) {
				seedEmployer(store, 1, money.FromDollars(10))
				seedApprovedJob(store, 100, 2)
			},
			input:   sponsorship.SponsorInput{EmployerID: 1, JobID: 100, ImpressionLimit: 5000},
			wantErr: sponsorship.ErrForbidden,
		},
		{
			name: "job not approved",
			seed: func(store *fakeStore) {
				seedEmployer(store, 1, money.FromDollars(10))
				job := seedApprovedJob(store, 100, 1)
				job.Status = sponsorship.JobStatusPending
			},
			input:   sponsorship.SponsorInput{EmployerID: 1, JobID: 100, ImpressionLimit: 5000},
			wantErr: sponsorship.ErrInvalidState,
		},
		{
			name: "already sponsored",
			seed: func(store *fakeStore) {
				seedEmployer(store, 1, money.FromDollars(10))
				seedSponsoredJob(store, 100, 1, 5000, 0)
			},
			input:   sponsorship.SponsorInput{EmployerID: 1, JobID: 100, ImpressionLimit: 5000},
			wantErr: sponsorship.ErrInvalidState,
		},
		{
			name: "limit below minimum",
			seed: func(store *fakeStore) {
				seedEmployer(store, 1, money.FromDollars(10))
				seedApprovedJob(store, 100, 1)
			},
			input:   sponsorship.SponsorInput{EmployerID: 1, JobID: 100, ImpressionLimit: 999},
			wantErr: sponsorship.ErrInvalidState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			tt.seed(store)
			svc, _ := newService(store)

			_, err := svc.Sponsor(context.Background(), tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Sponsor() error = %v, want %v", err, tt.wantErr)
			}
			if len(store.txns) != 0 {
				t.Errorf("failed sponsor must not touch the ledger, got %d transactions", len(store.txns))
			}
		})
	}
}

func TestSponsor_InsufficientFunds(t *testing.T) {
	store := newFakeStore()
	seedEmployer(store, 1, money.FromDollars(1))
	seedApprovedJob(store, 100, 1)
	svc, _ := newService(store)

	_, err := svc.Sponsor(context.Background(), sponsorship.SponsorInput{
		EmployerID:      1,
		JobID:           100,
		ImpressionLimit: 5000,
	})

	var insufficient *sponsorship.InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Sponsor() error = %v, want InsufficientFundsError", err)
	}
	if insufficient.Required != money.FromDollars(5) || insufficient.Current != money.FromDollars(1) {
		t.Errorf("error = %+v, want required $5 current $1", insufficient)
	}
	if store.jobs[100].Sponsored {
		t.Error("job must stay free after a failed sponsor")
	}
}

func TestRecordImpression_GuestOnUntargetedJob(t *testing.T) {
	store := newFakeStore()
	seedEmployer(store, 1, money.FromDollars(5))
	seedSponsoredJob(store, 100, 1, 5000, 0)
	svc, _ := newService(store)

	result, err := svc.RecordImpression(context.Background(), sponsorship.ImpressionInput{
		JobID:     100,
		IPAddress: "203.0.113.7",
		UserAgent: "Mozilla/5.0",
	})
	if err != nil {
		t.Fatalf("RecordImpression() error = %v", err)
	}

	if !result.Sponsored || !result.Counted || !result.Targeted {
		t.Errorf("result = %+v, want counted targeted sponsored impression", result)
	}
	if result.ImpressionsRemaining == nil || *result.ImpressionsRemaining != 4999 {
		t.Errorf("remaining = %v, want 4999", result.ImpressionsRemaining)
	}

	if store.jobs[100].ImpressionsUsed != 1 {
		t.Errorf("impressions used = %d, want 1", store.jobs[100].ImpressionsUsed)
	}
	if store.employers[1].Balance != money.FromDollars(4.999) {
		t.Errorf("balance = %v, want $4.999", store.employers[1].Balance)
	}
	if len(store.txns) != 1 || store.txns[0].Amount != money.FromDollars(-0.001) {
		t.Fatalf("transactions = %+v, want one -$0.001 deduction", store.txns)
	}
}

func TestRecordImpression_DuplicateWithinWindow(t *testing.T) {
	store := newFakeStore()
	seedEmployer(store, 1, money.FromDollars(5))
	seedSponsoredJob(store, 100, 1, 5000, 0)
	svc, _ := newService(store)

	input := sponsorship.ImpressionInput{
		JobID:     100,
		IPAddress: "203.0.113.7",
		UserAgent: "Mozilla/5.0",
	}

	if _, err := svc.RecordImpression(context.Background(), input); err != nil {
		t.Fatalf("first RecordImpression() error = %v", err)
	}
	result, err := svc.RecordImpression(context.Background(), input)
	if err != nil {
		t.Fatalf("second RecordImpression() error = %v", err)
	}

	if !result.Duplicate || result.Counted {
		t.Errorf("result = %+v, want duplicate and not counted", result)
	}
	if store.jobs[100].ImpressionsUsed != 1 {
		t.Errorf("impressions used = %d, want 1 after replay", store.jobs[100].ImpressionsUsed)
	}
	if len(store.txns) != 1 {
		t.Errorf("got %d transactions, want 1 after replay", len(store.txns))
	}
}

func TestRecordImpression_AuthenticatedDedupByUser(t *testing.T) {
	store := newFakeStore()
	seedEmployer(store, 1, money.FromDollars(5))
	seedSponsoredJob(store, 100, 1, 5000, 0)
	svc, _ := newService(store)

	first := sponsorship.ImpressionInput{JobID: 100, UserID: i64(7), IPAddress: "198.51.100.1", UserAgent: "A"}
	// Same user from a different device must still be a duplicate.
	second := sponsorship.ImpressionInput{JobID: 100, UserID: i64(7), IPAddress: "198.51.100.2", UserAgent: "B"}

	if _, err := svc.RecordImpression(context.Background(), first); err != nil {
		t.Fatalf("first RecordImpression() error = %v", err)
	}
	result, err := svc.RecordImpression(context.Background(), second)
	if err != nil {
		t.Fatalf("second RecordImpression() error = %v", err)
	}
	if !result.Duplicate {
		t.Errorf("result = %+v, want duplicate", result)
	}
}

func TestRecordImpression_QuotaExhaustedAutoExpires(t *testing.T) {
	store := newFakeStore()
	seedEmployer(store, 1, money.FromDollars(5))
	seedSponsoredJob(store, 100, 1, 1000, 1000)
	svc, notifier := newService(store)

	result, err := svc.RecordImpression(context.Background(), sponsorship.ImpressionInput{
		JobID:     100,
		IPAddress: "203.0.113.7",
		UserAgent: "Mozilla/5.0",
	})
	if err != nil {
		t.Fatalf("RecordImpression() error = %v", err)
	}

	if result.Sponsored || result.Counted {
		t.Errorf("result = %+v, want free and not counted", result)
	}
	if store.jobs[100].Sponsored {
		t.Error("job should auto-convert to a free listing")
	}
	if store.jobs[100].ImpressionsUsed != 1000 {
		t.Errorf("impressions used = %d, counter must not move on expiry", store.jobs[100].ImpressionsUsed)
	}
	if len(store.txns) != 0 {
		t.Errorf("got %d transactions, expiry must not touch the ledger", len(store.txns))
	}
	if len(notifier.events) != 1 || notifier.events[0].Kind != sponsorship.EventSponsorshipExpired {
		t.Errorf("events = %+v, want one sponsorship.expired", notifier.events)
	}
}

func TestRecordImpression_Targeting(t *testing.T) {
	tests := []struct {
		name        string
		target      [3]string // location, experience, education
		userID      *int64
		profile     *sponsorship.ViewerProfile
		wantCounted bool
	}{
		{
			name:        "guest matches untargeted job",
			userID:      nil,
			wantCounted: true,
		},
		{
			name:        "guest never matches targeted job",
			target:      [3]string{"Berlin", "", ""},
			userID:      nil,
			wantCounted: false,
		},
		{
			name:        "all criteria match case-insensitively",
			target:      [3]string{"berlin", "Senior", "Masters"},
			userID:      i64(7),
			profile:     &sponsorship.ViewerProfile{Location: "Berlin", ExperienceLevel: "senior", Education: "masters"},
			wantCounted: true,
		},
		{
			name:        "one mismatch fails the whole match",
			target:      [3]string{"Berlin", "Senior", "Masters"},
			userID:      i64(7),
			profile:     &sponsorship.ViewerProfile{Location: "Paris", ExperienceLevel: "Senior", Education: "Masters"},
			wantCounted: false,
		},
		{
			name:        "unset criteria always match",
			target:      [3]string{"", "Senior", ""},
			userID:      i64(7),
			profile:     &sponsorship.ViewerProfile{Location: "Anywhere", ExperienceLevel: "Senior"},
			wantCounted: true,
		},
		{
			name:        "unknown viewer treated as guest",
			target:      [3]string{"Berlin", "", ""},
			userID:      i64(99),
			wantCounted: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			seedEmployer(store, 1, money.FromDollars(5))
			job := seedSponsoredJob(store, 100, 1, 5000, 0)
			job.TargetLocation = tt.target[0]
			job.TargetExperience = tt.target[1]
			job.TargetEducation = tt.target[2]
			if tt.userID != nil && tt.profile != nil {
				store.profiles[*tt.userID] = tt.profile
			}
			svc, _ := newService(store)

			result, err := svc.RecordImpression(context.Background(), sponsorship.ImpressionInput{
				JobID:     100,
				UserID:    tt.userID,
				IPAddress: "203.0.113.7",
				UserAgent: "Mozilla/5.0",
			})
			if err != nil {
				t.Fatalf("RecordImpression() error = %v", err)
			}

			if result.Counted != tt.wantCounted {
				t.Errorf("counted = %v, want %v", result.Counted, tt.wantCounted)
			}
			wantTxns := 0
			if tt.wantCounted {
				wantTxns = 1
			}
			if len(store.txns) != wantTxns {
				t.Errorf("got %d transactions, want %d: untargeted impressions are free", len(store.txns), wantTxns)
			}
		})
	}
}

func TestRecordImpression_FreeJobCountsPlainView(t *testing.T) {
	store := newFakeStore()
	seedEmployer(store, 1, money.FromDollars(5))
	seedApprovedJob(store, 100, 1)
	svc, _ := newService(store)

	result, err := svc.RecordImpression(context.Background(), sponsorship.ImpressionInput{
		JobID:     100,
		IPAddress: "203.0.113.7",
		UserAgent: "Mozilla/5.0",
	})
	if err != nil {
		t.Fatalf("RecordImpression() error = %v", err)
	}

	if result.Sponsored || !result.Counted {
		t.Errorf("result = %+v, want plain counted view", result)
	}
	if store.views[100] != 1 {
		t.Errorf("views = %d, want 1", store.views[100])
	}
	if len(store.txns) != 0 || len(store.impressions) != 0 {
		t.Error("plain views must not create impressions or ledger rows")
	}
}

func TestRecordImpression_MissingOrUnapprovedJobIsNoOp(t *testing.T) {
	store := newFakeStore()
	seedEmployer(store, 1, money.FromDollars(5))
	pending := seedApprovedJob(store, 200, 1)
	pending.Status = sponsorship.JobStatusPending
	svc, _ := newService(store)

	for _, jobID := range []int64{404, 200} {
		result, err := svc.RecordImpression(context.Background(), sponsorship.ImpressionInput{
			JobID:     jobID,
			IPAddress: "203.0.113.7",
			UserAgent: "Mozilla/5.0",
		})
		if err != nil {
			t.Fatalf("RecordImpression(%d) error = %v", jobID, err)
		}
		if result.Counted || result.Sponsored {
			t.Errorf("RecordImpression(%d) = %+v, want silent no-op", jobID, result)
		}
	}
	if store.views[200] != 0 {
		t.Error("unapproved jobs must not count views")
	}
}

func TestRecordImpression_LowQuotaNotification(t *testing.T) {
	tests := []struct {
		name       string
		used       int64
		wantEvents int
	}{
		{name: "drops to threshold", used: 899, wantEvents: 1},
		{name: "still above threshold", used: 898, wantEvents: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			seedEmployer(store, 1, money.FromDollars(5))
			seedSponsoredJob(store, 100, 1, 1000, tt.used)
			svc, notifier := newService(store)

			if _, err := svc.RecordImpression(context.Background(), sponsorship.ImpressionInput{
				JobID:     100,
				IPAddress: "203.0.113.7",
				UserAgent: "Mozilla/5.0",
			}); err != nil {
				t.Fatalf("RecordImpression() error = %v", err)
			}

			if len(notifier.events) != tt.wantEvents {
				t.Fatalf("got %d events, want %d", len(notifier.events), tt.wantEvents)
			}
			if tt.wantEvents == 1 {
				event := notifier.events[0]
				if event.Kind != sponsorship.EventImpressionsLow || event.Remaining == nil || *event.Remaining != 100 {
					t.Errorf("event = %+v, want impressions.low with 100 remaining", event)
				}
			}
		})
	}
}

func TestRecordImpression_InsufficientBalance(t *testing.T) {
	store := newFakeStore()
	seedEmployer(store, 1, 0)
	seedSponsoredJob(store, 100, 1, 5000, 10)
	svc, _ := newService(store)

	_, err := svc.RecordImpression(context.Background(), sponsorship.ImpressionInput{
		JobID:     100,
		IPAddress: "203.0.113.7",
		UserAgent: "Mozilla/5.0",
	})

	var insufficient *sponsorship.InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("RecordImpression() error = %v, want InsufficientFundsError", err)
	}
	if store.jobs[100].ImpressionsUsed != 10 {
		t.Error("a failed debit must not count the impression")
	}
	if len(store.impressions) != 0 {
		t.Error("a failed debit must not record the impression")
	}
}

func TestStop_RefundsUnusedValue(t *testing.T) {
	store := newFakeStore()
	seedEmployer(store, 1, 0)
	seedSponsoredJob(store, 100, 1, 5000, 1000)
	svc, _ := newService(store)

	result, err := svc.Stop(context.Background(), 1, 100)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if result.Refund != money.FromDollars(4) {
		t.Errorf("refund = %v, want $4", result.Refund)
	}
	if result.Balance != money.FromDollars(4) {
		t.Errorf("balance = %v, want $4", result.Balance)
	}
	if result.Job.Sponsored || result.Job.ImpressionLimit != nil {
		t.Errorf("job = %+v, want sponsorship cleared", result.Job)
	}

	if len(store.txns) != 1 {
		t.Fatalf("got %d transactions, want 1", len(store.txns))
	}
	txn := store.txns[0]
	if txn.Type != sponsorship.TransactionRefund || txn.Amount != money.FromDollars(4) {
		t.Errorf("transaction = %+v, want +$4 refund", txn)
	}
}

func TestStop_ZeroRefundSkipsLedger(t *testing.T) {
	store := newFakeStore()
	seedEmployer(store, 1, 0)
	seedSponsoredJob(store, 100, 1, 1000, 1000)
	svc, _ := newService(store)

	result, err := svc.Stop(context.Background(), 1, 100)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if result.Refund != 0 {
		t.Errorf("refund = %v, want 0", result.Refund)
	}
	if result.Job.Sponsored {
		t.Error("sponsorship must still be cleared")
	}
	if len(store.txns) != 0 {
		t.Errorf("got %d transactions, want none for a zero refund", len(store.txns))
	}
}

func TestStop_Preconditions(t *testing.T) {
	store := newFakeStore()
	seedEmployer(store, 1, 0)
	seedApprovedJob(store, 100, 1)
	seedSponsoredJob(store, 200, 2, 5000, 0)
	seedEmployer(store, 2, 0)
	svc, _ := newService(store)

	if _, err := svc.Stop(context.Background(), 1, 404); !errors.Is(err, sponsorship.ErrJobNotFound) {
		t.Errorf("Stop(missing) error = %v, want ErrJobNotFound", err)
	}
	if _, err := svc.Stop(context.Background(), 1, 200); !errors.Is(err, sponsorship.ErrForbidden) {
		t.Errorf("Stop(other employer's job) error = %v, want ErrForbidden", err)
	}
	if _, err := svc.Stop(context.Background(), 1, 100); !errors.Is(err, sponsorship.ErrInvalidState) {
		t.Errorf("Stop(free job) error = %v, want ErrInvalidState", err)
	}
}

func TestTopUp(t *testing.T) {
	store := newFakeStore()
	seedEmployer(store, 1, money.FromDollars(1.5))
	svc, notifier := newService(store)

	employer, err := svc.TopUp(context.Background(), 1, money.FromDollars(25))
	if err != nil {
		t.Fatalf("TopUp() error = %v", err)
	}

	if employer.Balance != money.FromDollars(26.5) {
		t.Errorf("balance = %v, want $26.50", employer.Balance)
	}
	if len(store.txns) != 1 || store.txns[0].Type != sponsorship.TransactionTopUp {
		t.Fatalf("transactions = %+v, want one topup", store.txns)
	}
	if len(notifier.events) != 1 || notifier.events[0].Kind != sponsorship.EventBalanceTopUp {
		t.Errorf("events = %+v, want one balance.topup", notifier.events)
	}
}

func TestTopUp_Validation(t *testing.T) {
	store := newFakeStore()
	seedEmployer(store, 1, 0)
	svc, _ := newService(store)

	if _, err := svc.TopUp(context.Background(), 1, 0); !errors.Is(err, sponsorship.ErrInvalidState) {
		t.Errorf("TopUp(0) error = %v, want ErrInvalidState", err)
	}
	if _, err := svc.TopUp(context.Background(), 1, money.FromDollars(-3)); !errors.Is(err, sponsorship.ErrInvalidState) {
		t.Errorf("TopUp(-3) error = %v, want ErrInvalidState", err)
	}
	if _, err := svc.TopUp(context.Background(), 404, money.FromDollars(3)); !errors.Is(err, sponsorship.ErrEmployerNotFound) {
		t.Errorf("TopUp(unknown employer) error = %v, want ErrEmployerNotFound", err)
	}
}

// TestLedgerChain drives a realistic sequence through the service and
// checks the ledger invariant: every row satisfies after == before +
// amount, and consecutive rows chain.
func TestLedgerChain(t *testing.T) {
	store := newFakeStore()
	seedEmployer(store, 1, 0)
	seedApprovedJob(store, 100, 1)
	svc, _ := newService(store)
	ctx := context.Background()

	if _, err := svc.TopUp(ctx, 1, money.FromDollars(10)); err != nil {
		t.Fatalf("TopUp() error = %v", err)
	}
	if _, err := svc.Sponsor(ctx, sponsorship.SponsorInput{EmployerID: 1, JobID: 100, ImpressionLimit: 5000}); err != nil {
		t.Fatalf("Sponsor() error = %v", err)
	}
	viewers := []sponsorship.ImpressionInput{
		{JobID: 100, UserID: i64(7), IPAddress: "198.51.100.1", UserAgent: "A"},
		{JobID: 100, IPAddress: "203.0.113.7", UserAgent: "Mozilla/5.0"},
	}
	for _, in := range viewers {
		if _, err := svc.RecordImpression(ctx, in); err != nil {
			t.Fatalf("RecordImpression() error = %v", err)
		}
	}
	if _, err := svc.Stop(ctx, 1, 100); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	txns, err := svc.Transactions(ctx, 1, 50, 0)
	if err != nil {
		t.Fatalf("Transactions() error = %v", err)
	}
	if len(txns) != 5 {
		t.Fatalf("got %d transactions, want 5 (topup, sponsor, 2 impressions, refund)", len(txns))
	}

	for i, txn := range txns {
		if txn.BalanceAfter != txn.BalanceBefore+txn.Amount {
			t.Errorf("row %d: after (%v) != before (%v) + amount (%v)", i, txn.BalanceAfter, txn.BalanceBefore, txn.Amount)
		}
		if i > 0 && txn.BalanceBefore != txns[i-1].BalanceAfter {
			t.Errorf("row %d: before (%v) does not chain with previous after (%v)", i, txn.BalanceBefore, txns[i-1].BalanceAfter)
		}
	}

	// 0 +10 -5 -0.001 -0.001 +4.998 refund for 4998 unused impressions
	final := txns[len(txns)-1].BalanceAfter
	if final != money.FromDollars(9.998) {
		t.Errorf("final balance = %v, want $9.998", final)
	}
	if store.employers[1].Balance != final {
		t.Errorf("employer balance %v diverges from ledger %v", store.employers[1].Balance, final)
	}
}
