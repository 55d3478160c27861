package renewal

import (
	"fmt"
	"time"

	"certhub/internal/model"
)

// IntervalMode selects how renewal due-ness is computed
type IntervalMode string

const (
	// IntervalDaysAfterLastRenewal renews N days after the last successful renewal
	IntervalDaysAfterLastRenewal IntervalMode = "days_after_last_renewal"
	// IntervalDaysBeforeExpiry renews when N days or less remain before expiry
	IntervalDaysBeforeExpiry IntervalMode = "days_before_expiry"
)

// Failure backoff: each failure adds failureBackoffStep of hold before the
// next attempt, capped at failureBackoffMax.
const (
	failureBackoffStep = 30 * time.Minute
	failureBackoffMax  = 48 * time.Hour
)

// assumedLastRenewal is used when a certificate has never been renewed: it is
// treated as renewed 30 days ago so new items become due promptly but not all
// at once.
const assumedLastRenewalDays = 30

// RenewalDueCheck is the result of a due-ness calculation
type RenewalDueCheck struct {
	IsRenewalDue bool
	Reason       string
	// HoldUntil is set when a failure backoff is the reason renewal is not due
	HoldUntil *time.Time
}

// CalculateNextRenewalAttempt decides whether a certificate is due for
// renewal at the given instant. It is a pure function of its inputs: the
// caller supplies now, which keeps the calculation deterministic for tests.
func CalculateNextRenewalAttempt(cert *model.ManagedCertificate, now time.Time, intervalDays int, mode IntervalMode, checkFailureStatus bool) RenewalDueCheck {
	// An explicitly scheduled attempt in the past forces due-ness regardless
	// of interval mode and failure backoff (used for scheduled retries).
	if cert.DateNextScheduledRenewalAttempt != nil && !cert.DateNextScheduledRenewalAttempt.After(now) {
		return RenewalDueCheck{
			IsRenewalDue: true,
			Reason:       "scheduled renewal attempt is due",
		}
	}

	due := RenewalDueCheck{}

	switch mode {
	case IntervalDaysBeforeExpiry:
		if cert.DateExpiry == nil {
			due.IsRenewalDue = true
			due.Reason = "certificate has no expiry date recorded"
			break
		}
		remaining := cert.DateExpiry.Sub(now)
		if remaining <= time.Duration(intervalDays)*24*time.Hour {
			due.IsRenewalDue = true
			due.Reason = fmt.Sprintf("%.0f days remaining until expiry (threshold %d)", remaining.Hours()/24, intervalDays)
		} else {
			due.Reason = fmt.Sprintf("%.0f days remaining until expiry, renewal not required yet", remaining.Hours()/24)
		}

	default: // IntervalDaysAfterLastRenewal
		lastRenewed := now.AddDate(0, 0, -assumedLastRenewalDays)
		if cert.DateRenewed != nil {
			lastRenewed = *cert.DateRenewed
		}
		elapsed := now.Sub(lastRenewed)
		if elapsed >= time.Duration(intervalDays)*24*time.Hour {
			due.IsRenewalDue = true
			due.Reason = fmt.Sprintf("%.0f days since last renewal (interval %d)", elapsed.Hours()/24, intervalDays)
		} else {
			due.Reason = fmt.Sprintf("renewed %.0f days ago, interval is %d days", elapsed.Hours()/24, intervalDays)
		}
	}

	if !due.IsRenewalDue {
		return due
	}

	// A certificate in error state is held back with an escalating backoff so
	// a CA that keeps rejecting the request is not hammered every batch.
	if checkFailureStatus && cert.LastRenewalStatus == model.RenewalStatusError && cert.RenewalFailureCount > 0 {
		hold := time.Duration(cert.RenewalFailureCount) * failureBackoffStep
		if hold > failureBackoffMax {
			hold = failureBackoffMax
		}

		lastAttempt := now
		if cert.DateLastRenewalAttempt != nil {
			lastAttempt = *cert.DateLastRenewalAttempt
		}

		holdUntil := lastAttempt.Add(hold)
		if holdUntil.After(now) {
			return RenewalDueCheck{
				IsRenewalDue: false,
				Reason:       fmt.Sprintf("renewal held until %s after %d failed attempts", holdUntil.Format(time.RFC3339), cert.RenewalFailureCount),
				HoldUntil:    &holdUntil,
			}
		}
	}

	return due
}
