package renewal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"certhub/internal/model"
)

// Mode selects which certificates a batch considers and in which order
type Mode string

const (
	// ModeAuto renews auto-renew items that are due
	ModeAuto Mode = "auto"
	// ModeRenewalsDue also includes manually-controlled items that are due
	ModeRenewalsDue Mode = "renewals_due"
	// ModeNewItems renews items that have never been renewed
	ModeNewItems Mode = "new_items"
	// ModeRenewalsWithErrors renews items whose last attempt failed
	ModeRenewalsWithErrors Mode = "renewals_with_errors"
	// ModeAll renews every candidate, bypassing the due-ness check
	ModeAll Mode = "all"
)

// Settings carries the per-batch scheduling policy. It replaces global
// mutable state: callers construct one and pass it into PerformRenewAll.
type Settings struct {
	IntervalDays       int
	IntervalMode       IntervalMode
	CheckFailureStatus bool // apply escalating backoff to items in error state
	MaxTasksPerBatch   int  // successful-dispatch cap, 0 = unlimited
	Parallel           bool // sequential by default: deployment targets rarely tolerate concurrent writers
	MaxConcurrent      int
	SkipStoppedTargets bool
}

// SchedulerConfig wires the scheduler's collaborators
type SchedulerConfig struct {
	Store     CertificateStore
	Attempts  AttemptStore
	Requester CertificateRequester
	Target    TargetStateChecker // optional
	Sink      ProgressSink       // optional
	Logger    *logrus.Entry
}

// Scheduler is the top-level batch renewal driver. One scheduler instance is
// shared process-wide so its progress tracker can enforce at-most-one
// in-flight attempt per certificate across concurrent batch invocations.
type Scheduler struct {
	store     CertificateStore
	attempts  AttemptStore
	requester CertificateRequester
	target    TargetStateChecker
	sink      ProgressSink
	tracker   *ProgressTracker
	logger    *logrus.Entry
}

// NewScheduler creates a scheduler with an empty progress tracker
func NewScheduler(cfg *SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Scheduler{
		store:     cfg.Store,
		attempts:  cfg.Attempts,
		requester: cfg.Requester,
		target:    cfg.Target,
		sink:      cfg.Sink,
		tracker:   NewProgressTracker(),
		logger:    logger.WithField("component", "renewal-scheduler"),
	}
}

// Tracker exposes the progress tracker for read-only progress queries
func (s *Scheduler) Tracker() *ProgressTracker {
	return s.tracker
}

// PerformRenewAll runs one renewal batch. Candidates are selected and ordered
// by mode, checked for due-ness (except under ModeAll), throttled by the
// batch cap and dispatched one attempt per certificate. Every terminal
// outcome is persisted onto the certificate record before the results are
// returned.
func (s *Scheduler) PerformRenewAll(ctx context.Context, mode Mode, targetIDs []string, settings Settings) ([]CertificateRequestResult, error) {
	items, err := s.store.Find(ctx, StoreFilter{IDs: targetIDs})
	if err != nil {
		return nil, err
	}

	candidates := selectCandidates(items, mode)
	s.logger.Infof("Renewal batch starting: mode=%s, candidates=%d", mode, len(candidates))

	now := time.Now()
	var (
		mu           sync.Mutex
		results      []CertificateRequestResult
		successCount int
		inFlight     int
	)

	// In-flight dispatches reserve cap slots, otherwise a parallel batch
	// could overshoot the cap before the first results come back.
	capReached := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return settings.MaxTasksPerBatch > 0 && successCount+inFlight >= settings.MaxTasksPerBatch
	}
	markDispatched := func() {
		mu.Lock()
		defer mu.Unlock()
		inFlight++
	}
	complete := func(r *CertificateRequestResult) {
		mu.Lock()
		defer mu.Unlock()
		inFlight--
		if r == nil {
			return
		}
		results = append(results, *r)
		if r.IsSuccess && !r.Aborted {
			successCount++
		}
	}

	concurrency := 1
	if settings.Parallel && settings.MaxConcurrent > 1 {
		concurrency = settings.MaxConcurrent
	}
	semaphore := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := range candidates {
		if ctx.Err() != nil {
			s.logger.Warn("Renewal batch cancelled, remaining candidates skipped")
			break
		}

		cert := candidates[i]

		if mode != ModeAll {
			check := CalculateNextRenewalAttempt(&cert, now, settings.IntervalDays, settings.IntervalMode, settings.CheckFailureStatus)
			if !check.IsRenewalDue {
				s.logger.Debugf("Skipping %s: %s", cert.ID, check.Reason)
				continue
			}
		}

		if settings.SkipStoppedTargets && s.target != nil && s.target.IsStopped(ctx, &cert) {
			s.logger.Infof("Skipping %s: deployment target is stopped", cert.ID)
			continue
		}

		if capReached() {
			// Overflow items are reported, not counted as failures, so a
			// backlog of failing items cannot starve new attempts.
			s.report(RequestProgressState{
				ManagedCertificateID: cert.ID,
				CurrentState:         StateNotRunning,
				Message:              "skipped: max batch size reached",
				UpdatedAt:            time.Now(),
			})
			continue
		}

		wg.Add(1)
		semaphore <- struct{}{}
		markDispatched()
		run := func(c model.ManagedCertificate) {
			defer wg.Done()
			defer func() { <-semaphore }()
			complete(s.renewOne(ctx, &c))
		}
		if concurrency == 1 {
			run(cert)
		} else {
			go run(cert)
		}
	}

	wg.Wait()

	s.logger.Infof("Renewal batch finished: results=%d, successes=%d", len(results), successCount)
	return results, nil
}

// renewOne dispatches a single renewal attempt and persists its outcome.
// Returns nil when the item was skipped because an attempt is already in
// flight (concurrency violation, never fatal to the batch).
func (s *Scheduler) renewOne(ctx context.Context, cert *model.ManagedCertificate) *CertificateRequestResult {
	attemptID := uuid.NewString()

	// Registration before dispatch guarantees at-most-one-in-flight: a
	// concurrent batch hitting the same certificate is rejected here.
	state, err := s.tracker.Register(cert.ID, attemptID)
	if err != nil {
		s.logger.Warnf("Skipping %s: %v", cert.ID, err)
		return nil
	}
	defer s.tracker.Release(cert.ID)
	s.report(*state)

	if s.attempts != nil {
		attempt := &model.RenewalAttempt{
			AttemptID:              attemptID,
			ManagedCertificateID:   cert.ID,
			CertificateAuthorityID: cert.CertificateAuthorityID,
			Status:                 model.RenewalAttemptStatusRunning,
		}
		if err := s.attempts.CreateAttempt(ctx, attempt); err != nil {
			s.logger.Errorf("Failed to record attempt for %s: %v", cert.ID, err)
		}
	}

	progress := func(currentState, message string) {
		if updated, ok := s.tracker.Update(cert.ID, currentState, message); ok {
			s.report(updated)
		}
	}

	result := s.requester.Run(ctx, cert, attemptID, progress)

	s.persistOutcome(ctx, cert, result)

	terminalState := StateError
	attemptStatus := model.RenewalAttemptStatusFailed
	if result.IsSuccess {
		terminalState = StateSuccess
		attemptStatus = model.RenewalAttemptStatusSuccess
	} else if result.Aborted {
		attemptStatus = model.RenewalAttemptStatusAborted
	}

	if updated, ok := s.tracker.Update(cert.ID, terminalState, result.Message); ok {
		s.report(updated)
	}
	if s.attempts != nil {
		if err := s.attempts.CompleteAttempt(ctx, attemptID, attemptStatus, result.Message); err != nil {
			s.logger.Errorf("Failed to complete attempt %s: %v", attemptID, err)
		}
	}

	return result
}

// persistOutcome feeds the terminal outcome back into the certificate record
func (s *Scheduler) persistOutcome(ctx context.Context, cert *model.ManagedCertificate, result *CertificateRequestResult) {
	now := time.Now()
	cert.DateLastRenewalAttempt = &now
	cert.LastRenewalMessage = truncate(result.Message, 500)

	// An attempt that failed before CA selection carries no CA id; keep the
	// persisted failover walk position in that case.
	if result.CertificateAuthorityID != "" {
		cert.LastAttemptedCA = result.CertificateAuthorityID
	}

	switch {
	case result.IsSuccess:
		cert.LastRenewalStatus = model.RenewalStatusSuccess
		cert.RenewalFailureCount = 0
		cert.FailoverAttemptedCAs = nil
		cert.DateRenewed = &now
		cert.DateNextScheduledRenewalAttempt = nil
		cert.CertificatePath = result.CertificatePath
		cert.DateStart = result.NotBefore
		cert.DateExpiry = result.NotAfter
	case result.Aborted:
		// Cancelled attempts are recorded as incomplete, never as success,
		// and do not escalate the failure counter.
	default:
		cert.LastRenewalStatus = model.RenewalStatusError
		cert.RenewalFailureCount++
		if result.IsFailover {
			cert.RecordFailoverAttempt(result.CertificateAuthorityID)
		}
	}

	if err := s.store.Update(ctx, cert); err != nil {
		s.logger.Errorf("Failed to persist renewal outcome for %s: %v", cert.ID, err)
	}
}

func (s *Scheduler) report(state RequestProgressState) {
	if s.sink != nil {
		s.sink.Report(state)
	}
}

// selectCandidates filters and orders the loaded items per mode
func selectCandidates(items []model.ManagedCertificate, mode Mode) []model.ManagedCertificate {
	var out []model.ManagedCertificate

	for _, item := range items {
		switch mode {
		case ModeAuto:
			if item.IncludeInAutoRenew {
				out = append(out, item)
			}
		case ModeRenewalsDue:
			out = append(out, item)
		case ModeNewItems:
			if item.DateRenewed == nil {
				out = append(out, item)
			}
		case ModeRenewalsWithErrors:
			if item.LastRenewalStatus == model.RenewalStatusError {
				out = append(out, item)
			}
		case ModeAll:
			out = append(out, item)
		}
	}

	switch mode {
	case ModeAuto, ModeRenewalsDue:
		// Oldest-renewed first; never-renewed items sort before everything
		sort.SliceStable(out, func(i, j int) bool {
			return timeBefore(out[i].DateRenewed, out[j].DateRenewed)
		})
	case ModeNewItems, ModeRenewalsWithErrors:
		// Oldest-attempt first
		sort.SliceStable(out, func(i, j int) bool {
			return timeBefore(out[i].DateLastRenewalAttempt, out[j].DateLastRenewalAttempt)
		})
	}

	return out
}

// timeBefore orders nil timestamps first
func timeBefore(a, b *time.Time) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
