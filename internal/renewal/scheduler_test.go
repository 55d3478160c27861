package renewal

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"certhub/internal/model"
)

type fakeStore struct {
	mu      sync.Mutex
	items   []model.ManagedCertificate
	updated []model.ManagedCertificate
}

func (s *fakeStore) Find(ctx context.Context, filter StoreFilter) ([]model.ManagedCertificate, error) {
	if len(filter.IDs) == 0 {
		return append([]model.ManagedCertificate(nil), s.items...), nil
	}
	var out []model.ManagedCertificate
	for _, item := range s.items {
		for _, id := range filter.IDs {
			if item.ID == id {
				out = append(out, item)
			}
		}
	}
	return out, nil
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (*model.ManagedCertificate, error) {
	for i := range s.items {
		if s.items[i].ID == id {
			return &s.items[i], nil
		}
	}
	return nil, nil
}

func (s *fakeStore) Update(ctx context.Context, cert *model.ManagedCertificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = append(s.updated, *cert)
	return nil
}

func (s *fakeStore) lastUpdate(certID string) *model.ManagedCertificate {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.updated) - 1; i >= 0; i-- {
		if s.updated[i].ID == certID {
			return &s.updated[i]
		}
	}
	return nil
}

type fakeAttempts struct {
	mu        sync.Mutex
	created   []model.RenewalAttempt
	completed map[string]string // attemptID -> status
}

func (a *fakeAttempts) CreateAttempt(ctx context.Context, attempt *model.RenewalAttempt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.created = append(a.created, *attempt)
	return nil
}

func (a *fakeAttempts) CompleteAttempt(ctx context.Context, attemptID, status, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed == nil {
		a.completed = make(map[string]string)
	}
	a.completed[attemptID] = status
	return nil
}

// fakeRequester returns the configured outcome per certificate id; anything
// not configured succeeds.
type fakeRequester struct {
	mu       sync.Mutex
	outcomes map[string]*CertificateRequestResult
	ran      []string
	block    chan struct{} // when set, Run waits until closed
}

func (r *fakeRequester) Run(ctx context.Context, cert *model.ManagedCertificate, attemptID string, progress ProgressFunc) *CertificateRequestResult {
	r.mu.Lock()
	r.ran = append(r.ran, cert.ID)
	block := r.block
	outcome := r.outcomes[cert.ID]
	r.mu.Unlock()

	if block != nil {
		<-block
	}
	progress(StateRunning, "requesting certificate")

	if outcome != nil {
		result := *outcome
		result.ManagedCertificateID = cert.ID
		result.AttemptID = attemptID
		return &result
	}
	return &CertificateRequestResult{
		ManagedCertificateID:   cert.ID,
		AttemptID:              attemptID,
		IsSuccess:              true,
		Message:                "certificate issued",
		CertificateAuthorityID: cert.CertificateAuthorityID,
	}
}

type recordingSink struct {
	mu     sync.Mutex
	states []RequestProgressState
}

func (s *recordingSink) Report(state RequestProgressState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func (s *recordingSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.states))
	for i, st := range s.states {
		out[i] = st.Message
	}
	return out
}

type stoppedChecker struct {
	stopped map[string]bool
}

func (c *stoppedChecker) IsStopped(ctx context.Context, cert *model.ManagedCertificate) bool {
	return c.stopped[cert.ID]
}

func schedulerCert(id string, renewedDaysAgo int) model.ManagedCertificate {
	cert := model.ManagedCertificate{
		ID:                     id,
		CertificateAuthorityID: "letscertify",
		IncludeInAutoRenew:     true,
	}
	if renewedDaysAgo >= 0 {
		renewed := time.Now().Add(-time.Duration(renewedDaysAgo) * 24 * time.Hour)
		cert.DateRenewed = &renewed
	}
	return cert
}

func defaultSettings() Settings {
	return Settings{
		IntervalDays: 14,
		IntervalMode: IntervalDaysAfterLastRenewal,
	}
}

func newTestScheduler(store *fakeStore, requester *fakeRequester, sink ProgressSink, target TargetStateChecker) (*Scheduler, *fakeAttempts) {
	attempts := &fakeAttempts{}
	s := NewScheduler(&SchedulerConfig{
		Store:     store,
		Attempts:  attempts,
		Requester: requester,
		Target:    target,
		Sink:      sink,
	})
	return s, attempts
}

func TestPerformRenewAllRenewsDueItems(t *testing.T) {
	store := &fakeStore{items: []model.ManagedCertificate{
		schedulerCert("due-30d", 30),
		schedulerCert("fresh-1d", 1),
		schedulerCert("due-20d", 20),
	}}
	requester := &fakeRequester{}
	sched, attempts := newTestScheduler(store, requester, nil, nil)

	results, err := sched.PerformRenewAll(context.Background(), ModeAuto, nil, defaultSettings())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (fresh item not due)", len(results))
	}

	// Oldest-renewed first
	if len(requester.ran) != 2 || requester.ran[0] != "due-30d" || requester.ran[1] != "due-20d" {
		t.Errorf("dispatch order = %v, want [due-30d due-20d]", requester.ran)
	}

	for _, r := range results {
		if !r.IsSuccess {
			t.Errorf("result for %s not successful: %s", r.ManagedCertificateID, r.Message)
		}
	}
	if len(attempts.created) != 2 {
		t.Errorf("%d attempts recorded, want 2", len(attempts.created))
	}
	for _, status := range attempts.completed {
		if status != model.RenewalAttemptStatusSuccess {
			t.Errorf("attempt completed with status %s, want success", status)
		}
	}
}

func TestPerformRenewAllModeAllBypassesDueCheck(t *testing.T) {
	store := &fakeStore{items: []model.ManagedCertificate{
		schedulerCert("fresh-1d", 1),
	}}
	requester := &fakeRequester{}
	sched, _ := newTestScheduler(store, requester, nil, nil)

	results, err := sched.PerformRenewAll(context.Background(), ModeAll, []string{"fresh-1d"}, defaultSettings())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (ModeAll ignores due-ness)", len(results))
	}
}

func TestPerformRenewAllBatchCapCountsSuccessesOnly(t *testing.T) {
	store := &fakeStore{items: []model.ManagedCertificate{
		schedulerCert("fail-a", 40),
		schedulerCert("fail-b", 35),
		schedulerCert("ok-c", 30),
		schedulerCert("ok-d", 25),
		schedulerCert("overflow-e", 20),
	}}
	requester := &fakeRequester{outcomes: map[string]*CertificateRequestResult{
		"fail-a": {IsSuccess: false, Message: "authorization failed"},
		"fail-b": {IsSuccess: false, Message: "authorization failed"},
	}}
	sink := &recordingSink{}
	sched, _ := newTestScheduler(store, requester, sink, nil)

	settings := defaultSettings()
	settings.MaxTasksPerBatch = 2

	results, err := sched.PerformRenewAll(context.Background(), ModeAuto, nil, settings)
	if err != nil {
		t.Fatal(err)
	}

	// Failures must not consume the cap: both failing items run, then two
	// successes fill the batch, then overflow-e is skipped.
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	for _, id := range requester.ran {
		if id == "overflow-e" {
			t.Error("overflow item must not be dispatched once the cap is reached")
		}
	}

	var overflowReported bool
	for _, msg := range sink.messages() {
		if strings.Contains(msg, "max batch size reached") {
			overflowReported = true
		}
	}
	if !overflowReported {
		t.Error("overflow item should be reported as skipped, not silently dropped")
	}
}

func TestPerformRenewAllPersistsFailureOutcome(t *testing.T) {
	store := &fakeStore{items: []model.ManagedCertificate{
		schedulerCert("cert-1", 30),
	}}
	store.items[0].RenewalFailureCount = 1
	requester := &fakeRequester{outcomes: map[string]*CertificateRequestResult{
		"cert-1": {IsSuccess: false, Message: "order finalization failed", CertificateAuthorityID: "letsfallback"},
	}}
	sched, attempts := newTestScheduler(store, requester, nil, nil)

	if _, err := sched.PerformRenewAll(context.Background(), ModeAuto, nil, defaultSettings()); err != nil {
		t.Fatal(err)
	}

	updated := store.lastUpdate("cert-1")
	if updated == nil {
		t.Fatal("outcome was not persisted")
	}
	if updated.LastRenewalStatus != model.RenewalStatusError {
		t.Errorf("LastRenewalStatus = %s, want error", updated.LastRenewalStatus)
	}
	if updated.RenewalFailureCount != 2 {
		t.Errorf("RenewalFailureCount = %d, want 2", updated.RenewalFailureCount)
	}
	if updated.LastAttemptedCA != "letsfallback" {
		t.Errorf("LastAttemptedCA = %s, want letsfallback", updated.LastAttemptedCA)
	}
	if updated.DateLastRenewalAttempt == nil {
		t.Error("DateLastRenewalAttempt should be set")
	}
	if updated.DateRenewed != nil && !updated.DateRenewed.Before(time.Now().Add(-time.Hour)) {
		t.Error("DateRenewed must not be touched on failure")
	}
	for _, status := range attempts.completed {
		if status != model.RenewalAttemptStatusFailed {
			t.Errorf("attempt status = %s, want failed", status)
		}
	}
}

func TestPerformRenewAllPersistsSuccessOutcome(t *testing.T) {
	notBefore := time.Now()
	notAfter := notBefore.Add(90 * 24 * time.Hour)
	store := &fakeStore{items: []model.ManagedCertificate{
		schedulerCert("cert-1", 30),
	}}
	store.items[0].RenewalFailureCount = 4
	store.items[0].LastRenewalStatus = model.RenewalStatusError
	scheduled := time.Now().Add(-time.Hour)
	store.items[0].DateNextScheduledRenewalAttempt = &scheduled

	requester := &fakeRequester{outcomes: map[string]*CertificateRequestResult{
		"cert-1": {
			IsSuccess:              true,
			Message:                "certificate issued",
			CertificatePath:        "/var/lib/certhub/certs/cert-1.pem",
			NotBefore:              &notBefore,
			NotAfter:               &notAfter,
			CertificateAuthorityID: "letscertify",
		},
	}}
	sched, _ := newTestScheduler(store, requester, nil, nil)

	if _, err := sched.PerformRenewAll(context.Background(), ModeAll, nil, defaultSettings()); err != nil {
		t.Fatal(err)
	}

	updated := store.lastUpdate("cert-1")
	if updated == nil {
		t.Fatal("outcome was not persisted")
	}
	if updated.LastRenewalStatus != model.RenewalStatusSuccess {
		t.Errorf("LastRenewalStatus = %s, want success", updated.LastRenewalStatus)
	}
	if updated.RenewalFailureCount != 0 {
		t.Errorf("RenewalFailureCount = %d, want 0 (reset on success)", updated.RenewalFailureCount)
	}
	if updated.DateRenewed == nil {
		t.Error("DateRenewed should be set on success")
	}
	if updated.DateNextScheduledRenewalAttempt != nil {
		t.Error("scheduled override should be cleared after a successful renewal")
	}
	if updated.CertificatePath != "/var/lib/certhub/certs/cert-1.pem" {
		t.Errorf("CertificatePath = %s", updated.CertificatePath)
	}
	if updated.DateExpiry == nil || !updated.DateExpiry.Equal(notAfter) {
		t.Error("DateExpiry should carry the issued certificate's expiry")
	}
}

func TestPerformRenewAllFailedFailoverAdvancesWalk(t *testing.T) {
	store := &fakeStore{items: []model.ManagedCertificate{
		schedulerCert("cert-1", 30),
	}}
	store.items[0].LastRenewalStatus = model.RenewalStatusError
	store.items[0].RenewalFailureCount = FailoverThreshold
	requester := &fakeRequester{outcomes: map[string]*CertificateRequestResult{
		"cert-1": {IsSuccess: false, IsFailover: true, Message: "CA unreachable", CertificateAuthorityID: "letsfallback"},
	}}
	sched, _ := newTestScheduler(store, requester, nil, nil)

	if _, err := sched.PerformRenewAll(context.Background(), ModeAll, nil, defaultSettings()); err != nil {
		t.Fatal(err)
	}

	updated := store.lastUpdate("cert-1")
	if updated == nil {
		t.Fatal("outcome was not persisted")
	}
	if !updated.HasAttemptedFailoverCA("letsfallback") {
		t.Error("failed failover CA must be recorded on the certificate so the walk advances")
	}
	if updated.LastAttemptedCA != "letsfallback" {
		t.Errorf("LastAttemptedCA = %s, want letsfallback", updated.LastAttemptedCA)
	}
}

func TestPerformRenewAllSuccessClearsFailoverHistory(t *testing.T) {
	store := &fakeStore{items: []model.ManagedCertificate{
		schedulerCert("cert-1", 30),
	}}
	store.items[0].LastRenewalStatus = model.RenewalStatusError
	store.items[0].RenewalFailureCount = FailoverThreshold + 1
	store.items[0].FailoverAttemptedCAs = []string{"letsfallback"}
	requester := &fakeRequester{outcomes: map[string]*CertificateRequestResult{
		"cert-1": {IsSuccess: true, IsFailover: true, Message: "certificate issued", CertificateAuthorityID: "megacert"},
	}}
	sched, _ := newTestScheduler(store, requester, nil, nil)

	if _, err := sched.PerformRenewAll(context.Background(), ModeAll, nil, defaultSettings()); err != nil {
		t.Fatal(err)
	}

	updated := store.lastUpdate("cert-1")
	if updated == nil {
		t.Fatal("outcome was not persisted")
	}
	if len(updated.FailoverAttemptedCAs) != 0 {
		t.Errorf("FailoverAttemptedCAs = %v, want empty after success", updated.FailoverAttemptedCAs)
	}
	if updated.RenewalFailureCount != 0 {
		t.Errorf("RenewalFailureCount = %d, want 0", updated.RenewalFailureCount)
	}
}

func TestPerformRenewAllPreservesWalkOnPreSelectionFailure(t *testing.T) {
	store := &fakeStore{items: []model.ManagedCertificate{
		schedulerCert("cert-1", 30),
	}}
	store.items[0].LastRenewalStatus = model.RenewalStatusError
	store.items[0].RenewalFailureCount = FailoverThreshold
	store.items[0].LastAttemptedCA = "letsfallback"
	store.items[0].FailoverAttemptedCAs = []string{"letsfallback"}
	// Attempt fails before account selection, so the result carries no CA
	requester := &fakeRequester{outcomes: map[string]*CertificateRequestResult{
		"cert-1": {IsSuccess: false, Message: "invalid request config"},
	}}
	sched, _ := newTestScheduler(store, requester, nil, nil)

	if _, err := sched.PerformRenewAll(context.Background(), ModeAll, nil, defaultSettings()); err != nil {
		t.Fatal(err)
	}

	updated := store.lastUpdate("cert-1")
	if updated == nil {
		t.Fatal("outcome was not persisted")
	}
	if updated.LastAttemptedCA != "letsfallback" {
		t.Errorf("LastAttemptedCA = %q, want letsfallback preserved", updated.LastAttemptedCA)
	}
	if !updated.HasAttemptedFailoverCA("letsfallback") {
		t.Error("failover history must survive a pre-selection failure")
	}
}

func TestPerformRenewAllParallelRespectsBatchCap(t *testing.T) {
	store := &fakeStore{items: []model.ManagedCertificate{
		schedulerCert("cert-1", 30),
		schedulerCert("cert-2", 25),
		schedulerCert("cert-3", 20),
	}}
	requester := &fakeRequester{}
	sink := &recordingSink{}
	sched, _ := newTestScheduler(store, requester, sink, nil)

	settings := defaultSettings()
	settings.Parallel = true
	settings.MaxConcurrent = 3
	settings.MaxTasksPerBatch = 1

	results, err := sched.PerformRenewAll(context.Background(), ModeAll, nil, settings)
	if err != nil {
		t.Fatal(err)
	}

	// In-flight dispatches reserve cap slots, so a parallel batch must not
	// dispatch more than the cap even before results come back.
	if len(requester.ran) != 1 {
		t.Errorf("%d items dispatched, want 1 (cap must hold under parallel dispatch)", len(requester.ran))
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}

	var overflow int
	for _, msg := range sink.messages() {
		if strings.Contains(msg, "max batch size reached") {
			overflow++
		}
	}
	if overflow != 2 {
		t.Errorf("%d overflow reports, want 2", overflow)
	}
}

func TestPerformRenewAllAbortedDoesNotEscalate(t *testing.T) {
	store := &fakeStore{items: []model.ManagedCertificate{
		schedulerCert("cert-1", 30),
	}}
	store.items[0].RenewalFailureCount = 2
	requester := &fakeRequester{outcomes: map[string]*CertificateRequestResult{
		"cert-1": {IsSuccess: false, Aborted: true, Message: "attempt aborted: context canceled"},
	}}
	sched, attempts := newTestScheduler(store, requester, nil, nil)

	if _, err := sched.PerformRenewAll(context.Background(), ModeAll, nil, defaultSettings()); err != nil {
		t.Fatal(err)
	}

	updated := store.lastUpdate("cert-1")
	if updated == nil {
		t.Fatal("outcome was not persisted")
	}
	if updated.RenewalFailureCount != 2 {
		t.Errorf("RenewalFailureCount = %d, want 2 (aborted attempts do not escalate)", updated.RenewalFailureCount)
	}
	if updated.LastRenewalStatus == model.RenewalStatusSuccess {
		t.Error("aborted attempt must never be recorded as success")
	}
	for _, status := range attempts.completed {
		if status != model.RenewalAttemptStatusAborted {
			t.Errorf("attempt status = %s, want aborted", status)
		}
	}
}

func TestPerformRenewAllSkipsInFlightCertificate(t *testing.T) {
	store := &fakeStore{items: []model.ManagedCertificate{
		schedulerCert("cert-1", 30),
	}}
	requester := &fakeRequester{}
	sched, _ := newTestScheduler(store, requester, nil, nil)

	// Simulate a concurrent batch holding the slot
	if _, err := sched.Tracker().Register("cert-1", "other-attempt"); err != nil {
		t.Fatal(err)
	}

	results, err := sched.PerformRenewAll(context.Background(), ModeAll, nil, defaultSettings())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0 (in-flight certificate skipped)", len(results))
	}
	if len(requester.ran) != 0 {
		t.Error("requester must not run while another attempt is in flight")
	}

	// Tracker entry released only by the owning attempt
	if _, ok := sched.Tracker().Get("cert-1"); !ok {
		t.Error("foreign tracker entry must survive the skipped batch")
	}
}

func TestPerformRenewAllSkipsStoppedTargets(t *testing.T) {
	store := &fakeStore{items: []model.ManagedCertificate{
		schedulerCert("stopped", 30),
		schedulerCert("running", 30),
	}}
	requester := &fakeRequester{}
	checker := &stoppedChecker{stopped: map[string]bool{"stopped": true}}
	sched, _ := newTestScheduler(store, requester, nil, checker)

	settings := defaultSettings()
	settings.SkipStoppedTargets = true

	results, err := sched.PerformRenewAll(context.Background(), ModeAll, nil, settings)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ManagedCertificateID != "running" {
		t.Errorf("expected only the running target to be renewed, got %+v", results)
	}
}

func TestPerformRenewAllCancelledContextStopsDispatch(t *testing.T) {
	store := &fakeStore{items: []model.ManagedCertificate{
		schedulerCert("cert-1", 30),
		schedulerCert("cert-2", 25),
	}}
	requester := &fakeRequester{}
	sched, _ := newTestScheduler(store, requester, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := sched.PerformRenewAll(ctx, ModeAll, nil, defaultSettings())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0 after cancellation", len(results))
	}
}

func TestSelectCandidatesModes(t *testing.T) {
	renewed := time.Now().Add(-10 * 24 * time.Hour)
	items := []model.ManagedCertificate{
		{ID: "auto", IncludeInAutoRenew: true, DateRenewed: &renewed},
		{ID: "manual", IncludeInAutoRenew: false, DateRenewed: &renewed},
		{ID: "never-renewed", IncludeInAutoRenew: true},
		{ID: "errored", IncludeInAutoRenew: true, DateRenewed: &renewed, LastRenewalStatus: model.RenewalStatusError},
	}

	tests := []struct {
		mode Mode
		want []string
	}{
		// never-renewed sorts first (nil DateRenewed)
		{ModeAuto, []string{"never-renewed", "auto", "errored"}},
		{ModeRenewalsDue, []string{"never-renewed", "auto", "manual", "errored"}},
		{ModeNewItems, []string{"never-renewed"}},
		{ModeRenewalsWithErrors, []string{"errored"}},
		{ModeAll, []string{"auto", "manual", "never-renewed", "errored"}},
	}

	for _, tt := range tests {
		got := selectCandidates(items, tt.mode)
		ids := make([]string, len(got))
		for i, c := range got {
			ids[i] = c.ID
		}
		if len(ids) != len(tt.want) {
			t.Errorf("mode %s: got %v, want %v", tt.mode, ids, tt.want)
			continue
		}
		for i := range ids {
			if ids[i] != tt.want[i] {
				t.Errorf("mode %s: got %v, want %v", tt.mode, ids, tt.want)
				break
			}
		}
	}
}
