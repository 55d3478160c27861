package model

// RenewalAttempt is the audit record for one renewal attempt of a managed
// certificate. Terminal rows keep the failure message that drives the
// backoff and failover logic; old failed rows are pruned by the cleaner.
type RenewalAttempt struct {
	BaseModel
	AttemptID              string `gorm:"type:varchar(36);not null;uniqueIndex" json:"attemptId"`
	ManagedCertificateID   string `gorm:"type:varchar(36);not null;index" json:"managedCertificateId"`
	CertificateAuthorityID string `gorm:"type:varchar(64);not null" json:"certificateAuthorityId"`
	AccountID              int    `gorm:"not null" json:"accountId"`
	IsFailover             bool   `gorm:"not null;default:false" json:"isFailover"`
	Status                 string `gorm:"type:varchar(20);not null;default:running;index" json:"status"` // running|success|failed|aborted
	Message                string `gorm:"type:varchar(500)" json:"message"`
}

// TableName specifies the table name for RenewalAttempt
func (RenewalAttempt) TableName() string {
	return "renewal_attempts"
}

// RenewalAttempt status constants
const (
	RenewalAttemptStatusRunning = "running"
	RenewalAttemptStatusSuccess = "success"
	RenewalAttemptStatusFailed  = "failed"
	RenewalAttemptStatusAborted = "aborted"
)
