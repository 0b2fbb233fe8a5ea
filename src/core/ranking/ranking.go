package ranking

import (
	"math"
	"sort"
	"time"
)

const (
	// PageSize caps the merged listing after ranking.
	PageSize = 50

	// sponsoredScore is the sentinel assigned to active sponsored
	// listings so they always sort above any organic score.
	sponsoredScore = 1e9

	recencyWindowDays = 7
	recencyBonusStep  = 5
)

// EmployerReputation carries the reputation signals of the employer that
// owns a job. Zero values contribute nothing to the score, so missing
// reputation data needs no special handling.
type EmployerReputation struct {
	AverageRating  float64 // 0-5 scale
	ResponseRate   float64 // 0-100
	CompletedHires int
	Verified       bool
}

// Job is the ranking engine's view of an approved posting, joined with
// the owning employer's reputation.
type Job struct {
	ID              int64
	EmployerID      int64
	CreatedAt       time.Time
	LikesCount      int
	CommentsCount   int
	Sponsored       bool
	SponsoredUntil  *time.Time
	ImpressionLimit *int64
	ImpressionsUsed int64
	Reputation      EmployerReputation
}

// RankedJob is a job annotated with its placement score.
type RankedJob struct {
	Job
	RankingScore float64
}

// SponsoredActive reports whether a job still qualifies for sponsored
// placement: the flag is set, the end date (if any) has not passed, and
// the impression quota (if any) is not exhausted. Lapsed sponsorships
// rank organically.
func SponsoredActive(j Job, now time.Time) bool {
	if !j.Sponsored {
		return false
	}
	if j.SponsoredUntil != nil && !j.SponsoredUntil.After(now) {
		return false
	}
	if j.ImpressionLimit != nil && j.ImpressionsUsed >= *j.ImpressionLimit {
		return false
	}
	return true
}

// EngagementScore is likes*2 + comments*1.
func EngagementScore(j Job) float64 {
	return float64(j.LikesCount)*2 + float64(j.CommentsCount)
}

// ReputationScore normalizes the employer's reputation to roughly 0-110:
// rating (0-5) scaled to 0-100 at 40% weight, response rate at 30%,
// completed hires (5 points each, capped at 100) at 20%, plus a flat 10
// for verified employers.
func ReputationScore(r EmployerReputation) float64 {
	score := r.AverageRating*20*0.4 +
		r.ResponseRate*0.3 +
		math.Min(float64(r.CompletedHires)*5, 100)*0.2
	if r.Verified {
		score += 10
	}
	return score
}

// RecencyBonus rewards jobs posted within the last 7 days, 5 points per
// remaining day. Days are counted in whole elapsed days.
func RecencyBonus(postedAt, now time.Time) float64 {
	days := int(now.Sub(postedAt).Hours() / 24)
	if days < 0 {
		days = 0
	}
	if days >= recencyWindowDays {
		return 0
	}
	return float64(recencyWindowDays-days) * recencyBonusStep
}

// TotalScore is the composite organic score.
func TotalScore(j Job, now time.Time) float64 {
	return EngagementScore(j)*0.4 + ReputationScore(j.Reputation)*0.4 + RecencyBonus(j.CreatedAt, now)
}

// Rank orders a candidate set for display: active sponsored listings
// first (most recent first), then free listings by composite score
// descending, capped at PageSize. Ties keep the input (fetch) order via
// the stable sort; no secondary tie-break key is defined. Rank never
// mutates its input and has no side effects.
func Rank(jobs []Job, now time.Time) []RankedJob {
	var sponsored, free []RankedJob
	for _, j := range jobs {
		if SponsoredActive(j, now) {
			sponsored = append(sponsored, RankedJob{Job: j, RankingScore: sponsoredScore})
		} else {
			free = append(free, RankedJob{Job: j, RankingScore: TotalScore(j, now)})
		}
	}

	sort.SliceStable(sponsored, func(i, k int) bool {
		return sponsored[i].CreatedAt.After(sponsored[k].CreatedAt)
	})
	sort.SliceStable(free, func(i, k int) bool {
		return free[i].RankingScore > free[k].RankingScore
	})

	ranked := append(sponsored, free...)
	if len(ranked) > PageSize {
		ranked = ranked[:PageSize]
	}
	return ranked
}
