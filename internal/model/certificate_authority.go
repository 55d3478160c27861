package model

import (
	"time"

	"gorm.io/datatypes"
)

// CertificateAuthority represents a catalog entry for an ACME certificate
// authority (Let's Encrypt, ZeroSSL, Google Public CA, ...)
type CertificateAuthority struct {
	ID                  string                       `gorm:"type:varchar(64);primaryKey" json:"id"`
	Title               string                       `gorm:"type:varchar(255);not null" json:"title"`
	DirectoryURL        string                       `gorm:"type:varchar(500);not null" json:"directoryUrl"`
	StagingDirectoryURL string                       `gorm:"type:varchar(500)" json:"stagingDirectoryUrl"`
	RequiresEAB         bool                         `gorm:"not null;default:false" json:"requiresEab"` // External Account Binding
	Enabled             bool                         `gorm:"not null;default:true" json:"enabled"`
	SupportedFeatures   datatypes.JSONSlice[string]  `gorm:"type:json" json:"supportedFeatures"`
	CreatedAt           time.Time                    `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt           time.Time                    `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName specifies the table name for CertificateAuthority
func (CertificateAuthority) TableName() string {
	return "certificate_authorities"
}

// CA capability tags
const (
	FeatureDomainValidation = "DOMAIN_VALIDATION"
	FeatureMultipleSAN      = "MULTIPLE_SAN"
	FeatureWildcard         = "WILDCARD"
	FeatureIPSingle         = "IP_SINGLE"
	FeatureIPMultiple       = "IP_MULTIPLE"
	FeatureTNAuthList       = "TNAUTHLIST"
	FeatureOptionalLifetime = "OPTIONAL_LIFETIME_DAYS"
)

// Supports reports whether the CA supports every feature in the given set
func (ca *CertificateAuthority) Supports(features []string) bool {
	supported := make(map[string]bool, len(ca.SupportedFeatures))
	for _, f := range ca.SupportedFeatures {
		supported[f] = true
	}

	for _, f := range features {
		if !supported[f] {
			return false
		}
	}
	return true
}
