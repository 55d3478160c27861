package workflow

import (
	"context"
	"fmt"
	"time"

	"certhub/internal/acmeclient"
	"certhub/internal/challenge"
	"certhub/internal/model"
)

// AuthState is the per-domain position in the authorization state machine
type AuthState string

const (
	AuthStateUnregistered         AuthState = "unregistered"
	AuthStatePendingAuthorization AuthState = "pending_authorization"
	AuthStateChallengeReady       AuthState = "challenge_ready"
	AuthStateChallengeSubmitted   AuthState = "challenge_submitted"
	AuthStateValid                AuthState = "valid"
	AuthStateInvalid              AuthState = "invalid"
)

const (
	defaultStatusPollAttempts = 3
	defaultStatusPollDelay    = 2 * time.Second
)

// AuthorizationWorkflow drives one domain of one attempt from identifier
// registration to a terminal authorization state. Responder cleanup runs on
// every path out of Authorize once a challenge was decoded, including errors
// during submit or polling.
type AuthorizationWorkflow struct {
	provider   acmeclient.Provider
	responders *challenge.Registry

	pollAttempts int
	pollDelay    time.Duration
}

// NewAuthorizationWorkflow creates a workflow over one ACME session
func NewAuthorizationWorkflow(provider acmeclient.Provider, responders *challenge.Registry) *AuthorizationWorkflow {
	return &AuthorizationWorkflow{
		provider:     provider,
		responders:   responders,
		pollAttempts: defaultStatusPollAttempts,
		pollDelay:    defaultStatusPollDelay,
	}
}

// Authorize validates control over one domain. The returned state is either
// AuthStateValid or AuthStateInvalid; any error carries the failing step.
// Progress lines are appended through logStep.
func (w *AuthorizationWorkflow) Authorize(ctx context.Context, attemptID, domain string, chCfg *model.ChallengeConfig, logStep func(string)) (AuthState, error) {
	logStep(fmt.Sprintf("registering identifier for %s", domain))

	authz, err := w.provider.RegisterIdentifier(ctx, domain)
	if err != nil {
		return AuthStateUnregistered, fmt.Errorf("identifier registration failed for %s: %w", domain, err)
	}

	logStep(fmt.Sprintf("decoding %s challenge for %s", chCfg.ChallengeType, domain))

	ch, err := w.provider.DecodeChallenge(ctx, authz, chCfg.ChallengeType)
	if err != nil {
		return AuthStatePendingAuthorization, fmt.Errorf("challenge decode failed for %s: %w", domain, err)
	}

	responder, err := w.responders.For(ch.Type)
	if err != nil {
		return AuthStateChallengeReady, err
	}

	// From here on the responder may have provisioned state; tear it down on
	// every exit path.
	defer func() {
		if cleanupErr := responder.Cleanup(context.WithoutCancel(ctx), attemptID, ch); cleanupErr != nil {
			logStep(fmt.Sprintf("challenge cleanup failed for %s: %v", domain, cleanupErr))
		}
	}()

	if err := responder.Prepare(ctx, attemptID, ch); err != nil {
		return AuthStateChallengeReady, fmt.Errorf("challenge preparation failed for %s: %w", domain, err)
	}

	logStep(fmt.Sprintf("submitting %s challenge for %s", ch.Type, domain))

	if err := w.provider.SubmitChallenge(ctx, ch); err != nil {
		return AuthStateChallengeReady, fmt.Errorf("challenge submit failed for %s: %w", domain, err)
	}

	return w.pollAuthorization(ctx, authz, domain, logStep)
}

// pollAuthorization polls the CA a bounded number of times. An authorization
// still pending after the last poll counts as invalid; the next renewal
// attempt starts over.
func (w *AuthorizationWorkflow) pollAuthorization(ctx context.Context, authz *acmeclient.PendingAuthorization, domain string, logStep func(string)) (AuthState, error) {
	for attempt := 1; attempt <= w.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return AuthStateChallengeSubmitted, ctx.Err()
		case <-time.After(w.pollDelay):
		}

		status, err := w.provider.PollIdentifierStatus(ctx, authz)
		if err != nil {
			return AuthStateChallengeSubmitted, fmt.Errorf("status poll failed for %s: %w", domain, err)
		}

		switch status {
		case acmeclient.IdentifierValid:
			logStep(fmt.Sprintf("authorization valid for %s", domain))
			return AuthStateValid, nil
		case acmeclient.IdentifierInvalid:
			return AuthStateInvalid, fmt.Errorf("authorization rejected by CA for %s", domain)
		}

		logStep(fmt.Sprintf("authorization pending for %s (poll %d/%d)", domain, attempt, w.pollAttempts))
	}

	return AuthStateInvalid, fmt.Errorf("authorization still pending for %s after %d polls", domain, w.pollAttempts)
}
