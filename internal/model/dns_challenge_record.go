package model

// DNSDesiredState represents the desired presence of a challenge record
type DNSDesiredState string

const (
	DNSDesiredStatePresent DNSDesiredState = "present"
	DNSDesiredStateAbsent  DNSDesiredState = "absent"
)

// DNSChallengeRecord is a desired-state row for an ACME dns-01 TXT record.
// The core only writes desired state; an external DNS worker reconciles the
// rows against the authoritative DNS provider.
type DNSChallengeRecord struct {
	BaseModel
	AttemptID    string          `gorm:"type:varchar(36);not null;index" json:"attemptId"`
	FQDN         string          `gorm:"type:varchar(255);not null" json:"fqdn"` // _acme-challenge.<domain>
	Value        string          `gorm:"type:varchar(2048);not null" json:"value"`
	TTL          int             `gorm:"default:60" json:"ttl"`
	DesiredState DNSDesiredState `gorm:"type:enum('present','absent');default:'present';index" json:"desiredState"`
	LastError    string          `gorm:"type:varchar(255)" json:"lastError"`
}

// TableName specifies the table name for DNSChallengeRecord
func (DNSChallengeRecord) TableName() string {
	return "dns_challenge_records"
}
