package challenge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/challenge/http01"
	"gorm.io/gorm"

	"certhub/internal/acmeclient"
	"certhub/internal/model"
)

// Responder provisions and tears down the proof for one challenge.
// Cleanup must be safe to call even when Prepare failed partway.
type Responder interface {
	Prepare(ctx context.Context, attemptID string, ch *acmeclient.AuthChallenge) error
	Cleanup(ctx context.Context, attemptID string, ch *acmeclient.AuthChallenge) error
}

// Registry maps challenge types to responders
type Registry struct {
	responders map[string]Responder
}

// NewRegistry creates an empty responder registry
func NewRegistry() *Registry {
	return &Registry{responders: make(map[string]Responder)}
}

// Register adds a responder for a challenge type
func (r *Registry) Register(challengeType string, responder Responder) {
	r.responders[challengeType] = responder
}

// For returns the responder for a challenge type
func (r *Registry) For(challengeType string) (Responder, error) {
	responder, ok := r.responders[challengeType]
	if !ok {
		return nil, fmt.Errorf("no responder registered for challenge type %s", challengeType)
	}
	return responder, nil
}

// HTTP01Responder answers http-01 challenges by writing the key authorization
// into the well-known path under a shared webroot.
type HTTP01Responder struct {
	webroot string
}

// NewHTTP01Responder creates a webroot-based http-01 responder
func NewHTTP01Responder(webroot string) *HTTP01Responder {
	return &HTTP01Responder{webroot: webroot}
}

// Prepare implements Responder
func (r *HTTP01Responder) Prepare(ctx context.Context, attemptID string, ch *acmeclient.AuthChallenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := r.tokenPath(ch.Token)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create challenge dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(ch.KeyAuthorization), 0o644); err != nil {
		return fmt.Errorf("failed to write challenge file: %w", err)
	}
	return nil
}

// Cleanup implements Responder
func (r *HTTP01Responder) Cleanup(ctx context.Context, attemptID string, ch *acmeclient.AuthChallenge) error {
	err := os.Remove(r.tokenPath(ch.Token))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove challenge file: %w", err)
	}
	return nil
}

func (r *HTTP01Responder) tokenPath(token string) string {
	return filepath.Join(r.webroot, filepath.FromSlash(http01.ChallengePath(token)))
}

// DNS01Responder answers dns-01 challenges by writing desired-state TXT rows.
// The external DNS worker reconciles the rows against the provider; this
// responder never talks to DNS itself.
type DNS01Responder struct {
	db  *gorm.DB
	ttl int
}

// NewDNS01Responder creates a desired-state dns-01 responder
func NewDNS01Responder(db *gorm.DB, ttl int) *DNS01Responder {
	if ttl <= 0 {
		ttl = 60
	}
	return &DNS01Responder{db: db, ttl: ttl}
}

// Prepare implements Responder
func (r *DNS01Responder) Prepare(ctx context.Context, attemptID string, ch *acmeclient.AuthChallenge) error {
	fqdn := challengeFQDN(ch)

	var record model.DNSChallengeRecord
	err := r.db.WithContext(ctx).
		Where("attempt_id = ? AND fqdn = ? AND value = ?", attemptID, fqdn, ch.Value).
		First(&record).Error

	if err == nil {
		return r.db.WithContext(ctx).Model(&record).
			Updates(map[string]interface{}{
				"desired_state": model.DNSDesiredStatePresent,
				"last_error":    "",
			}).Error
	}
	if err != gorm.ErrRecordNotFound {
		return fmt.Errorf("failed to query challenge record: %w", err)
	}

	record = model.DNSChallengeRecord{
		AttemptID:    attemptID,
		FQDN:         fqdn,
		Value:        ch.Value,
		TTL:          r.ttl,
		DesiredState: model.DNSDesiredStatePresent,
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to create challenge record: %w", err)
	}
	return nil
}

// Cleanup implements Responder
func (r *DNS01Responder) Cleanup(ctx context.Context, attemptID string, ch *acmeclient.AuthChallenge) error {
	err := r.db.WithContext(ctx).Model(&model.DNSChallengeRecord{}).
		Where("attempt_id = ? AND fqdn = ?", attemptID, challengeFQDN(ch)).
		Update("desired_state", model.DNSDesiredStateAbsent).Error
	if err != nil {
		return fmt.Errorf("failed to mark challenge record absent: %w", err)
	}
	return nil
}

// challengeFQDN derives the _acme-challenge name for the challenge domain.
// Wildcard requests validate against the base domain.
func challengeFQDN(ch *acmeclient.AuthChallenge) string {
	domain := strings.TrimPrefix(ch.Domain, "*.")
	info := dns01.GetChallengeInfo(domain, ch.KeyAuthorization)
	return info.FQDN
}
