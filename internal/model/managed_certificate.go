package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// ManagedCertificate represents a user-configured certificate target whose
// lifecycle (issuance, renewal, failover) is driven by the renewal scheduler.
type ManagedCertificate struct {
	ID            string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name          string         `gorm:"type:varchar(255);not null" json:"name"`
	RequestConfig datatypes.JSON `gorm:"type:json;not null" json:"requestConfig"`

	// Preferred CA and environment
	CertificateAuthorityID string `gorm:"type:varchar(64);not null;index" json:"certificateAuthorityId"`
	UseStagingMode         bool   `gorm:"not null;default:false" json:"useStagingMode"`

	// Renewal policy
	IncludeInAutoRenew bool `gorm:"not null;default:true;index" json:"includeInAutoRenew"`

	// Renewal history, mutated by the scheduler after every attempt
	DateRenewed                     *time.Time `gorm:"index" json:"dateRenewed"`
	DateLastRenewalAttempt          *time.Time `gorm:"index" json:"dateLastRenewalAttempt"`
	DateNextScheduledRenewalAttempt *time.Time `json:"dateNextScheduledRenewalAttempt"`
	LastRenewalStatus               string     `gorm:"type:varchar(20);index" json:"lastRenewalStatus"` // ""|success|error
	LastRenewalMessage              string     `gorm:"type:varchar(500)" json:"lastRenewalMessage"`
	RenewalFailureCount             int        `gorm:"not null;default:0" json:"renewalFailureCount"`
	LastAttemptedCA                 string     `gorm:"type:varchar(64)" json:"lastAttemptedCa"`

	// CAs this certificate has already failed over through during the current
	// failure streak. Cleared on success; used to walk the candidate list
	// forward without touching shared account state.
	FailoverAttemptedCAs datatypes.JSONSlice[string] `gorm:"type:json" json:"failoverAttemptedCas"`

	// Issued certificate metadata
	CertificatePath string     `gorm:"type:varchar(500)" json:"certificatePath"`
	DateStart       *time.Time `json:"dateStart"`
	DateExpiry      *time.Time `gorm:"index" json:"dateExpiry"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName specifies the table name for ManagedCertificate
func (ManagedCertificate) TableName() string {
	return "managed_certificates"
}

// Renewal status constants
const (
	RenewalStatusSuccess = "success"
	RenewalStatusError   = "error"
)

// HasAttemptedFailoverCA reports whether the certificate already failed over
// through the given CA during the current failure streak
func (m *ManagedCertificate) HasAttemptedFailoverCA(caID string) bool {
	for _, id := range m.FailoverAttemptedCAs {
		if id == caID {
			return true
		}
	}
	return false
}

// RecordFailoverAttempt appends a CA to the certificate's failover history
func (m *ManagedCertificate) RecordFailoverAttempt(caID string) {
	if caID == "" || m.HasAttemptedFailoverCA(caID) {
		return
	}
	m.FailoverAttemptedCAs = append(m.FailoverAttemptedCAs, caID)
}

// ClearFailoverHistory resets the failover walk, typically after a success
// or an operator intervention
func (m *ManagedCertificate) ClearFailoverHistory() {
	m.FailoverAttemptedCAs = nil
	m.LastAttemptedCA = ""
}

// GetRequestConfig decodes the JSON request config column
func (m *ManagedCertificate) GetRequestConfig() (*CertRequestConfig, error) {
	var cfg CertRequestConfig
	if len(m.RequestConfig) == 0 {
		return nil, fmt.Errorf("certificate %s has no request config", m.ID)
	}
	if err := json.Unmarshal(m.RequestConfig, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode request config for %s: %w", m.ID, err)
	}
	return &cfg, nil
}

// SetRequestConfig encodes the request config into the JSON column
func (m *ManagedCertificate) SetRequestConfig(cfg *CertRequestConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode request config: %w", err)
	}
	m.RequestConfig = datatypes.JSON(data)
	return nil
}
