package model

import "strings"

// CertRequestConfig is the immutable-per-attempt snapshot of what to request.
// It is stored as a JSON column on ManagedCertificate and decoded once at the
// start of each renewal attempt.
type CertRequestConfig struct {
	PrimaryDomain           string            `json:"primaryDomain"`
	SubjectAlternativeNames []string          `json:"subjectAlternativeNames"`
	SubjectIPAddresses      []string          `json:"subjectIpAddresses"`
	Challenges              []ChallengeConfig `json:"challenges"`
	PreferredKeyType        string            `json:"preferredKeyType"`    // ECDSA256 (default) | RSA2048
	PreferredExpiryDays     int               `json:"preferredExpiryDays"` // 0 = CA default
	AuthorityTokens         []string          `json:"authorityTokens"`     // TNAuthList tokens

	// Hooks run around the attempt; their output is captured into the attempt
	// log and their failures never change the attempt outcome.
	PreRequestScript  string `json:"preRequestScript"`
	PostRequestScript string `json:"postRequestScript"`
	WebhookURL        string `json:"webhookUrl"`

	// Deployment
	DeploymentTargetID     string `json:"deploymentTargetId"`
	SkipDeploymentIfStopped bool  `json:"skipDeploymentIfStopped"`
}

// ChallengeConfig assigns a challenge type (and provider parameters) to one or
// more domains of the request.
type ChallengeConfig struct {
	ChallengeType   string            `json:"challengeType"` // http-01 | dns-01
	DomainMatch     string            `json:"domainMatch"`     // exact or wildcard domain, empty = default entry
	DomainMatchList []string          `json:"domainMatchList"` // explicit list, takes effect when DomainMatch is empty
	Provider        string            `json:"provider"`
	Parameters      map[string]string `json:"parameters"`
}

// Challenge type constants
const (
	ChallengeTypeHTTP01 = "http-01"
	ChallengeTypeDNS01  = "dns-01"
)

// Domains returns the distinct set of domains to request, primary first.
// Distinctness is case-sensitive; duplicates are processed once.
func (c *CertRequestConfig) Domains() []string {
	seen := make(map[string]bool)
	domains := []string{}

	for _, d := range append([]string{c.PrimaryDomain}, c.SubjectAlternativeNames...) {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		domains = append(domains, d)
	}

	return domains
}

// HasWildcard reports whether any requested domain is a wildcard
func (c *CertRequestConfig) HasWildcard() bool {
	for _, d := range c.Domains() {
		if strings.HasPrefix(d, "*.") {
			return true
		}
	}
	return false
}

// RequiredFeatures derives the CA capability tags this request needs.
// The result drives CA failover selection: only CAs whose SupportedFeatures
// is a superset of this set are failover candidates.
func (c *CertRequestConfig) RequiredFeatures() []string {
	features := []string{FeatureDomainValidation}

	if len(c.Domains()) > 1 {
		features = append(features, FeatureMultipleSAN)
	}
	if c.HasWildcard() {
		features = append(features, FeatureWildcard)
	}
	if len(c.SubjectIPAddresses) == 1 {
		features = append(features, FeatureIPSingle)
	}
	if len(c.SubjectIPAddresses) > 1 {
		features = append(features, FeatureIPSingle, FeatureIPMultiple)
	}
	if len(c.AuthorityTokens) > 0 {
		features = append(features, FeatureTNAuthList)
	}
	if c.PreferredExpiryDays > 0 {
		features = append(features, FeatureOptionalLifetime)
	}

	return features
}
