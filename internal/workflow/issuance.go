package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"certhub/internal/acmeclient"
	"certhub/internal/challenge"
	"certhub/internal/deploy"
	"certhub/internal/model"
	"certhub/internal/renewal"
)

// IssuanceConfig wires the issuance workflow's collaborators
type IssuanceConfig struct {
	Factory    acmeclient.Factory
	Catalog    renewal.CatalogStore
	Responders *challenge.Registry
	Deployer   *deploy.Manager // optional
	Hooks      *HookRunner     // optional
	Logger     *logrus.Entry
}

// IssuanceWorkflow requests one certificate end to end: account selection
// (with CA failover), per-domain authorization, CSR finalization, issuance
// polling and export. It implements renewal.CertificateRequester.
//
// Deployment, scripts and webhooks run after issuance; once the certificate
// is exported their failures are logged into the attempt but the attempt
// stays successful.
type IssuanceWorkflow struct {
	factory    acmeclient.Factory
	catalog    renewal.CatalogStore
	responders *challenge.Registry
	deployer   *deploy.Manager
	hooks      *HookRunner
	logger     *logrus.Entry

	pollAttempts int
	pollDelay    time.Duration
}

// NewIssuanceWorkflow creates the workflow
func NewIssuanceWorkflow(cfg *IssuanceConfig) *IssuanceWorkflow {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &IssuanceWorkflow{
		factory:      cfg.Factory,
		catalog:      cfg.Catalog,
		responders:   cfg.Responders,
		deployer:     cfg.Deployer,
		hooks:        cfg.Hooks,
		logger:       logger.WithField("component", "issuance-workflow"),
		pollAttempts: defaultStatusPollAttempts,
		pollDelay:    defaultStatusPollDelay,
	}
}

// Run implements renewal.CertificateRequester
func (w *IssuanceWorkflow) Run(ctx context.Context, cert *model.ManagedCertificate, attemptID string, progress renewal.ProgressFunc) *renewal.CertificateRequestResult {
	result := &renewal.CertificateRequestResult{
		ManagedCertificateID: cert.ID,
		AttemptID:            attemptID,
	}

	logStep := func(msg string) {
		result.ActionLog = append(result.ActionLog, msg)
		if progress != nil {
			progress(renewal.StateRunning, msg)
		}
	}

	cfg, err := cert.GetRequestConfig()
	if err != nil {
		return w.fail(ctx, result, fmt.Errorf("invalid request config: %w", err))
	}

	domains := cfg.Domains()
	if len(domains) == 0 {
		return w.fail(ctx, result, fmt.Errorf("certificate %s has no domains configured", cert.ID))
	}

	account, ca, isFailover, err := w.selectAccount(ctx, cert)
	if err != nil {
		return w.fail(ctx, result, err)
	}

	result.CertificateAuthorityID = ca.ID
	result.AccountID = account.ID
	result.IsFailover = isFailover

	if result.IsFailover {
		logStep(fmt.Sprintf("failing over from %s to %s", cert.CertificateAuthorityID, ca.ID))
	}

	w.runPreHooks(ctx, cfg, logStep)

	provider, err := w.factory.NewClient(ctx, ca, account, domains)
	if err != nil {
		return w.fail(ctx, result, fmt.Errorf("failed to open ACME session with %s: %w", ca.ID, err))
	}

	auth := NewAuthorizationWorkflow(provider, w.responders)
	auth.pollAttempts = w.pollAttempts
	auth.pollDelay = w.pollDelay

	validated := 0
	for _, domain := range domains {
		chCfg, err := challenge.ForDomain(cfg.Challenges, domain)
		if err != nil {
			return w.fail(ctx, result, err)
		}

		state, err := auth.Authorize(ctx, attemptID, domain, chCfg, logStep)
		if err != nil {
			// The first failing domain aborts the whole attempt; pending
			// sibling authorizations expire at the CA.
			return w.fail(ctx, result, fmt.Errorf("domain %s failed in state %s: %w", domain, state, err))
		}
		validated++
	}

	if validated != len(domains) {
		return w.fail(ctx, result, fmt.Errorf("only %d of %d domains validated", validated, len(domains)))
	}

	logStep("submitting CSR")
	if err := provider.SubmitCSR(ctx, cfg); err != nil {
		return w.fail(ctx, result, err)
	}

	if err := w.awaitIssuance(ctx, provider, logStep); err != nil {
		return w.fail(ctx, result, err)
	}

	export, err := provider.ExportCertificate(ctx, cert.ID)
	if err != nil {
		return w.fail(ctx, result, fmt.Errorf("certificate export failed: %w", err))
	}

	result.IsSuccess = true
	result.Message = fmt.Sprintf("certificate issued by %s, valid until %s", ca.ID, export.NotAfter.Format(time.RFC3339))
	result.CertificatePath = export.Path
	notBefore, notAfter := export.NotBefore, export.NotAfter
	result.NotBefore = &notBefore
	result.NotAfter = &notAfter

	logStep(result.Message)

	w.deployCertificate(ctx, cert, cfg, export, logStep)
	w.runPostHooks(ctx, cfg, result, logStep)

	return result
}

// selectAccount resolves the account for this attempt, applying CA failover
// once the certificate has crossed the failure threshold. The failover flag
// is derived from the selection itself, never from persisted account state.
func (w *IssuanceWorkflow) selectAccount(ctx context.Context, cert *model.ManagedCertificate) (*model.AcmeAccount, *model.CertificateAuthority, bool, error) {
	catalog, err := w.catalog.ListAuthorities(ctx)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to load CA catalog: %w", err)
	}
	accounts, err := w.catalog.ListAccounts(ctx)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to load accounts: %w", err)
	}

	var defaultAccount *model.AcmeAccount
	for i := range accounts {
		if accounts[i].UsableFor(cert.CertificateAuthorityID, cert.UseStagingMode) {
			defaultAccount = &accounts[i]
			break
		}
	}

	account := renewal.SelectCAWithFailover(catalog, accounts, cert, defaultAccount)
	if account == nil {
		return nil, nil, false, fmt.Errorf("no usable account for CA %s", cert.CertificateAuthorityID)
	}
	isFailover := account != defaultAccount

	for i := range catalog {
		if catalog[i].ID == account.CertificateAuthorityID {
			return account, &catalog[i], isFailover, nil
		}
	}
	return nil, nil, false, fmt.Errorf("account %d references unknown CA %s", account.ID, account.CertificateAuthorityID)
}

// awaitIssuance polls the order a bounded number of times until the
// certificate is issued.
func (w *IssuanceWorkflow) awaitIssuance(ctx context.Context, provider acmeclient.Provider, logStep func(string)) error {
	for attempt := 1; attempt <= w.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pollDelay):
		}

		issued, err := provider.PollCertificateStatus(ctx)
		if err != nil {
			return fmt.Errorf("issuance poll failed: %w", err)
		}
		if issued {
			return nil
		}

		logStep(fmt.Sprintf("certificate not issued yet (poll %d/%d)", attempt, w.pollAttempts))
	}

	return fmt.Errorf("certificate not issued after %d polls", w.pollAttempts)
}

// deployCertificate installs the issued certificate on the configured target.
// Failures are appended to the action log only.
func (w *IssuanceWorkflow) deployCertificate(ctx context.Context, cert *model.ManagedCertificate, cfg *model.CertRequestConfig, export *acmeclient.ExportedCertificate, logStep func(string)) {
	if w.deployer == nil || cfg.DeploymentTargetID == "" {
		return
	}

	target, ok := w.deployer.Get(cfg.DeploymentTargetID)
	if !ok {
		logStep(fmt.Sprintf("deployment skipped: unknown target %s", cfg.DeploymentTargetID))
		return
	}

	if cfg.SkipDeploymentIfStopped && target.IsStopped(ctx) {
		logStep(fmt.Sprintf("deployment skipped: target %s is stopped", cfg.DeploymentTargetID))
		return
	}

	steps, err := target.Deploy(ctx, cert, export)
	for _, step := range steps {
		logStep(step)
	}
	if err != nil {
		logStep(fmt.Sprintf("deployment failed: %v", err))
		w.logger.WithField("certId", cert.ID).Warnf("deployment failed: %v", err)
	}
}

func (w *IssuanceWorkflow) runPreHooks(ctx context.Context, cfg *model.CertRequestConfig, logStep func(string)) {
	if w.hooks == nil || cfg.PreRequestScript == "" {
		return
	}

	output, err := w.hooks.RunScript(ctx, cfg.PreRequestScript)
	if output != "" {
		logStep("pre-request script: " + output)
	}
	if err != nil {
		logStep(fmt.Sprintf("pre-request script failed: %v", err))
	}
}

func (w *IssuanceWorkflow) runPostHooks(ctx context.Context, cfg *model.CertRequestConfig, result *renewal.CertificateRequestResult, logStep func(string)) {
	if w.hooks == nil {
		return
	}

	if cfg.PostRequestScript != "" {
		output, err := w.hooks.RunScript(ctx, cfg.PostRequestScript)
		if output != "" {
			logStep("post-request script: " + output)
		}
		if err != nil {
			logStep(fmt.Sprintf("post-request script failed: %v", err))
		}
	}

	if cfg.WebhookURL != "" {
		if err := w.hooks.CallWebhook(ctx, cfg.WebhookURL, result); err != nil {
			logStep(fmt.Sprintf("webhook failed: %v", err))
		}
	}
}

// fail finalizes a failed attempt. A context cancellation is recorded as an
// abort. The result keeps the selected CA and failover flag so the scheduler
// can record the walked-through CA on the certificate's failover history.
func (w *IssuanceWorkflow) fail(ctx context.Context, result *renewal.CertificateRequestResult, err error) *renewal.CertificateRequestResult {
	result.IsSuccess = false
	result.Message = err.Error()
	result.ActionLog = append(result.ActionLog, err.Error())

	if ctx.Err() != nil {
		result.Aborted = true
	}

	return result
}
