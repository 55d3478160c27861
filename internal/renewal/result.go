package renewal

import (
	"context"
	"time"

	"certhub/internal/model"
)

// CertificateRequestResult is the terminal outcome of one renewal attempt.
// Every attempt, successful or not, produces exactly one result; collaborator
// failures (scripts, webhooks, deployment) are appended to ActionLog and never
// flip IsSuccess back to false once the certificate itself was issued.
type CertificateRequestResult struct {
	ManagedCertificateID   string     `json:"managedCertificateId"`
	AttemptID              string     `json:"attemptId"`
	IsSuccess              bool       `json:"isSuccess"`
	Aborted                bool       `json:"aborted"` // cancelled before reaching a terminal CA state
	Message                string     `json:"message"`
	ActionLog              []string   `json:"actionLog"`
	CertificatePath        string     `json:"certificatePath"`
	NotBefore              *time.Time `json:"notBefore"`
	NotAfter               *time.Time `json:"notAfter"`
	CertificateAuthorityID string     `json:"certificateAuthorityId"`
	AccountID              int        `json:"accountId"`
	IsFailover             bool       `json:"isFailover"`
}

// ProgressFunc receives intermediate progress from a running attempt
type ProgressFunc func(currentState, message string)

// CertificateRequester drives one certificate through authorization, CSR
// submission and issuance. Implemented by the issuance workflow; the
// scheduler only depends on this interface.
type CertificateRequester interface {
	Run(ctx context.Context, cert *model.ManagedCertificate, attemptID string, progress ProgressFunc) *CertificateRequestResult
}

// CertificateStore is the managed-certificate store collaborator
type CertificateStore interface {
	Find(ctx context.Context, filter StoreFilter) ([]model.ManagedCertificate, error)
	GetByID(ctx context.Context, id string) (*model.ManagedCertificate, error)
	Update(ctx context.Context, cert *model.ManagedCertificate) error
}

// StoreFilter narrows a certificate store query
type StoreFilter struct {
	IDs []string
}

// AttemptStore records the per-attempt audit trail
type AttemptStore interface {
	CreateAttempt(ctx context.Context, attempt *model.RenewalAttempt) error
	CompleteAttempt(ctx context.Context, attemptID, status, message string) error
}

// CatalogStore provides the CA catalog and account set, read-only during a
// batch. Catalog order is stable across calls.
type CatalogStore interface {
	ListAuthorities(ctx context.Context) ([]model.CertificateAuthority, error)
	ListAccounts(ctx context.Context) ([]model.AcmeAccount, error)
}

// TargetStateChecker reports whether a certificate's deployment target is
// currently stopped. A nil checker means targets are always considered
// running.
type TargetStateChecker interface {
	IsStopped(ctx context.Context, cert *model.ManagedCertificate) bool
}
