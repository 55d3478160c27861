package challenge

import (
	"fmt"
	"strings"

	"certhub/internal/model"
)

// ForDomain selects the challenge configuration responsible for a domain.
// Precedence: exact DomainMatch, then DomainMatchList membership, then
// wildcard DomainMatch, then the default entry (no match criteria at all).
func ForDomain(configs []model.ChallengeConfig, domain string) (*model.ChallengeConfig, error) {
	var listMatch, wildcardMatch, defaultMatch *model.ChallengeConfig

	for i := range configs {
		cfg := &configs[i]

		if cfg.DomainMatch != "" {
			if cfg.DomainMatch == domain {
				return cfg, nil
			}
			if strings.HasPrefix(cfg.DomainMatch, "*.") && wildcardMatch == nil && MatchWildcard(cfg.DomainMatch, domain) {
				wildcardMatch = cfg
			}
			continue
		}

		if len(cfg.DomainMatchList) > 0 {
			if listMatch == nil && containsDomain(cfg.DomainMatchList, domain) {
				listMatch = cfg
			}
			continue
		}

		if defaultMatch == nil {
			defaultMatch = cfg
		}
	}

	for _, match := range []*model.ChallengeConfig{listMatch, wildcardMatch, defaultMatch} {
		if match != nil {
			return match, nil
		}
	}

	return nil, fmt.Errorf("no challenge configuration matches domain %s", domain)
}

func containsDomain(list []string, domain string) bool {
	for _, d := range list {
		if d == domain {
			return true
		}
	}
	return false
}

// MatchDomain checks if a configured domain pattern matches a target domain.
// Supports exact match and wildcard match.
func MatchDomain(pattern, targetDomain string) bool {
	if pattern == targetDomain {
		return true
	}

	if strings.HasPrefix(pattern, "*.") {
		return MatchWildcard(pattern, targetDomain)
	}

	return false
}

// MatchWildcard checks if a wildcard pattern matches a target domain
// Rules:
// - *.example.com matches a.example.com, b.example.com
// - *.example.com does NOT match example.com (apex domain)
// - *.example.com does NOT match a.b.example.com (second-level subdomain)
func MatchWildcard(wildcardDomain, targetDomain string) bool {
	baseDomain := strings.TrimPrefix(wildcardDomain, "*.")

	if !strings.HasSuffix(targetDomain, "."+baseDomain) {
		return false
	}

	prefix := strings.TrimSuffix(targetDomain, "."+baseDomain)

	// Empty prefix would match the apex domain
	if prefix == "" {
		return false
	}

	// A dotted prefix would match second-level subdomains
	if strings.Contains(prefix, ".") {
		return false
	}

	return true
}
