package acmeclient

import (
	"context"
	"time"

	"certhub/internal/model"
)

// IdentifierStatus is the CA-side status of a domain authorization
type IdentifierStatus string

const (
	IdentifierPending IdentifierStatus = "pending"
	IdentifierValid   IdentifierStatus = "valid"
	IdentifierInvalid IdentifierStatus = "invalid"
)

// AuthChallenge is one decoded proof-of-control task for a domain
type AuthChallenge struct {
	Type             string `json:"type"` // http-01 | dns-01
	Domain           string `json:"domain"`
	Token            string `json:"token"`
	KeyAuthorization string `json:"keyAuthorization"`
	Value            string `json:"value"` // TXT record value (dns-01) or response body (http-01)
	URL              string `json:"url"`   // challenge URL at the CA
}

// PendingAuthorization is the transient per-domain state of one attempt. It
// is owned exclusively by the workflow invocation that created it and
// discarded once the domain reaches a terminal state.
type PendingAuthorization struct {
	Domain          string         `json:"domain"`
	IdentifierAlias string         `json:"identifierAlias"` // authorization URL assigned by the CA
	IsWildcard      bool           `json:"isWildcard"`
	Challenge       *AuthChallenge `json:"challenge"`
}

// ExportedCertificate describes an issued certificate written to disk
type ExportedCertificate struct {
	Path      string
	KeyPath   string
	NotBefore time.Time
	NotAfter  time.Time
}

// Provider is one ACME session bound to a single account and one certificate
// order. The issuance workflow drives it through identifier registration,
// challenge submission, CSR finalization and certificate export.
type Provider interface {
	// RegisterIdentifier creates (or reuses) the authorization for a domain.
	// A stale authorization cached for the same DNS name is deactivated first.
	RegisterIdentifier(ctx context.Context, domain string) (*PendingAuthorization, error)

	// DecodeChallenge resolves the challenge of the requested type into a
	// ready-to-respond AuthChallenge (key authorization computed).
	DecodeChallenge(ctx context.Context, authz *PendingAuthorization, challengeType string) (*AuthChallenge, error)

	// SubmitChallenge tells the CA the challenge response is in place
	SubmitChallenge(ctx context.Context, challenge *AuthChallenge) error

	// PollIdentifierStatus fetches the current authorization status
	PollIdentifierStatus(ctx context.Context, authz *PendingAuthorization) (IdentifierStatus, error)

	// SubmitCSR finalizes the order with a CSR covering all identifiers
	SubmitCSR(ctx context.Context, cfg *model.CertRequestConfig) error

	// PollCertificateStatus reports whether the certificate has been issued
	PollCertificateStatus(ctx context.Context) (bool, error)

	// ExportCertificate downloads the issued certificate and writes the PEM
	// bundle and private key under the export directory, keyed by certID.
	ExportCertificate(ctx context.Context, certID string) (*ExportedCertificate, error)
}

// Factory creates a Provider session for one CA account and domain set.
// Account registration (including External Account Binding) happens here, so
// a Provider always starts from a usable registered account.
type Factory interface {
	NewClient(ctx context.Context, ca *model.CertificateAuthority, account *model.AcmeAccount, domains []string) (Provider, error)
}
