package challenge

import (
	"testing"

	"certhub/internal/model"
)

func TestForDomain(t *testing.T) {
	configs := []model.ChallengeConfig{
		{ChallengeType: model.ChallengeTypeHTTP01}, // default entry
		{ChallengeType: model.ChallengeTypeDNS01, DomainMatch: "*.internal.example.com"},
		{ChallengeType: model.ChallengeTypeDNS01, DomainMatch: "api.internal.example.com", Provider: "route53"},
		{ChallengeType: model.ChallengeTypeHTTP01, DomainMatchList: []string{"www.example.com", "app.internal.example.com"}},
	}

	tests := []struct {
		name         string
		domain       string
		wantType     string
		wantProvider string
		wantErr      bool
	}{
		{
			name:         "exact match wins over wildcard and list",
			domain:       "api.internal.example.com",
			wantType:     model.ChallengeTypeDNS01,
			wantProvider: "route53",
		},
		{
			name:     "list match wins over wildcard",
			domain:   "app.internal.example.com",
			wantType: model.ChallengeTypeHTTP01,
		},
		{
			name:     "wildcard match",
			domain:   "db.internal.example.com",
			wantType: model.ChallengeTypeDNS01,
		},
		{
			name:     "falls back to default entry",
			domain:   "example.com",
			wantType: model.ChallengeTypeHTTP01,
		},
		{
			name:     "list membership",
			domain:   "www.example.com",
			wantType: model.ChallengeTypeHTTP01,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ForDomain(configs, tt.domain)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.ChallengeType != tt.wantType {
				t.Errorf("ChallengeType = %s, want %s", got.ChallengeType, tt.wantType)
			}
			if tt.wantProvider != "" && got.Provider != tt.wantProvider {
				t.Errorf("Provider = %s, want %s", got.Provider, tt.wantProvider)
			}
		})
	}
}

func TestForDomainNoMatch(t *testing.T) {
	configs := []model.ChallengeConfig{
		{ChallengeType: model.ChallengeTypeDNS01, DomainMatch: "*.example.com"},
	}

	if _, err := ForDomain(configs, "other.org"); err == nil {
		t.Fatal("expected error for unmatched domain without default entry")
	}
}

func TestMatchWildcard(t *testing.T) {
	tests := []struct {
		name     string
		wildcard string
		target   string
		want     bool
	}{
		{"first level subdomain", "*.example.com", "a.example.com", true},
		{"apex domain not matched", "*.example.com", "example.com", false},
		{"second level subdomain not matched", "*.example.com", "a.b.example.com", false},
		{"different base domain", "*.example.com", "a.example.org", false},
		{"suffix only is not a subdomain", "*.example.com", "badexample.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchWildcard(tt.wildcard, tt.target); got != tt.want {
				t.Errorf("MatchWildcard(%s, %s) = %v, want %v", tt.wildcard, tt.target, got, tt.want)
			}
		})
	}
}

func TestMatchDomain(t *testing.T) {
	if !MatchDomain("www.example.com", "www.example.com") {
		t.Error("exact match should succeed")
	}
	if !MatchDomain("*.example.com", "www.example.com") {
		t.Error("wildcard pattern should match subdomain")
	}
	if MatchDomain("www.example.com", "app.example.com") {
		t.Error("different domains should not match")
	}
}
