package sponsorship

import (
	"errors"
	"fmt"

	"jobboard/src/core/money"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrEmployerNotFound = errors.New("employer not found")

	// ErrForbidden means the requester does not own the job.
	ErrForbidden = errors.New("job belongs to another employer")

	// ErrInvalidState covers precondition failures: job not approved,
	// already or not sponsored, quota below minimum, non-positive amount.
	ErrInvalidState = errors.New("invalid state")

	// ErrQuotaExhausted is returned by the atomic impression unit when
	// the quota was spent between the eligibility check and the commit.
	ErrQuotaExhausted = errors.New("impression quota exhausted")
)

// InsufficientFundsError reports a balance too low for a debit, with
// enough context for the employer to act.
type InsufficientFundsError struct {
	Required money.Money
	Current  money.Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s, current %s", e.Required, e.Current)
}
