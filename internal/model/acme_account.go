package model

import "time"

// AcmeAccount represents a registered account with one certificate authority
type AcmeAccount struct {
	ID                     int        `gorm:"primaryKey;autoIncrement" json:"id"`
	CertificateAuthorityID string     `gorm:"type:varchar(64);not null;index:idx_ca_email" json:"certificateAuthorityId"`
	Email                  string     `gorm:"type:varchar(255);not null;index:idx_ca_email" json:"email"`
	AccountKeyPem          string     `gorm:"type:text" json:"accountKeyPem"` // Private key for the ACME account
	RegistrationURI        string     `gorm:"type:varchar(500)" json:"registrationUri"`
	EabKid                 string     `gorm:"type:varchar(255)" json:"eabKid"` // External Account Binding Key ID
	EabHmacKey             string     `gorm:"type:text" json:"eabHmacKey"`     // External Account Binding HMAC Key
	EabExpiresAt           *time.Time `json:"eabExpiresAt"`
	IsStagingAccount       bool       `gorm:"not null;default:false" json:"isStagingAccount"`
	Status                 string     `gorm:"type:varchar(20);not null;default:pending" json:"status"` // pending|active|inactive
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`

	// IsFailoverSelection marks the in-memory copy returned by the failover
	// selector for the current attempt. It is never persisted: which CAs a
	// certificate has already failed over through is tracked on the
	// certificate itself, so one certificate's failover history cannot affect
	// account selection for any other certificate.
	IsFailoverSelection bool `gorm:"-" json:"isFailoverSelection"`
}

// TableName specifies the table name for AcmeAccount
func (AcmeAccount) TableName() string {
	return "acme_accounts"
}

// AcmeAccount status constants
const (
	AcmeAccountStatusPending  = "pending"
	AcmeAccountStatusActive   = "active"
	AcmeAccountStatusInactive = "inactive"
)

// UsableFor reports whether the account can serve an attempt for the given
// CA in the given environment
func (a *AcmeAccount) UsableFor(caID string, staging bool) bool {
	return a.CertificateAuthorityID == caID &&
		a.IsStagingAccount == staging &&
		a.Status != AcmeAccountStatusInactive
}
