package acmeclient

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/acme/api"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"gorm.io/gorm"

	"certhub/internal/model"
)

const clientUserAgent = "certhub/1.0"

// LegoFactory creates ACME sessions backed by go-acme/lego. One registered
// account yields one long-lived session; registration (including External
// Account Binding) is performed lazily on first use and persisted.
type LegoFactory struct {
	db         *gorm.DB
	exportDir  string
	httpClient *http.Client
}

// NewLegoFactory creates a new factory writing exported certificates under exportDir
func NewLegoFactory(db *gorm.DB, exportDir string) *LegoFactory {
	return &LegoFactory{
		db:         db,
		exportDir:  exportDir,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClient implements Factory
func (f *LegoFactory) NewClient(ctx context.Context, ca *model.CertificateAuthority, account *model.AcmeAccount, domains []string) (Provider, error) {
	if err := f.ensureAccount(ca, account); err != nil {
		return nil, err
	}

	privateKey, err := parsePrivateKey(account.AccountKeyPem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse account key: %w", err)
	}

	core, err := api.New(f.httpClient, clientUserAgent, directoryURL(ca, account.IsStagingAccount), account.RegistrationURI, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create ACME session: %w", err)
	}

	return &LegoClient{
		core:      core,
		exportDir: f.exportDir,
		domains:   domains,
		authzs:    make(map[string]*PendingAuthorization),
		rawAuthzs: make(map[string]acme.Authorization),
	}, nil
}

// ensureAccount registers the account with the CA if it is not registered yet
func (f *LegoFactory) ensureAccount(ca *model.CertificateAuthority, account *model.AcmeAccount) error {
	if account.Status == model.AcmeAccountStatusActive && account.RegistrationURI != "" {
		return nil
	}

	var privateKey crypto.PrivateKey
	var err error

	if account.AccountKeyPem != "" {
		privateKey, err = parsePrivateKey(account.AccountKeyPem)
		if err != nil {
			return fmt.Errorf("failed to parse account key: %w", err)
		}
	} else {
		privateKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return fmt.Errorf("failed to generate account key: %w", err)
		}

		keyPem, err := encodePrivateKey(privateKey)
		if err != nil {
			return fmt.Errorf("failed to encode account key: %w", err)
		}
		account.AccountKeyPem = keyPem
	}

	config := lego.NewConfig(&registrationUser{
		email: account.Email,
		key:   privateKey,
	})
	config.CADirURL = directoryURL(ca, account.IsStagingAccount)
	config.UserAgent = clientUserAgent

	client, err := lego.NewClient(config)
	if err != nil {
		return fmt.Errorf("failed to create lego client: %w", err)
	}

	var reg *registration.Resource
	if ca.RequiresEAB {
		if account.EabKid == "" || account.EabHmacKey == "" {
			return errors.New("EAB credentials required but not provided")
		}
		reg, err = client.Registration.RegisterWithExternalAccountBinding(registration.RegisterEABOptions{
			TermsOfServiceAgreed: true,
			Kid:                  account.EabKid,
			HmacEncoded:          account.EabHmacKey,
		})
	} else {
		reg, err = client.Registration.Register(registration.RegisterOptions{
			TermsOfServiceAgreed: true,
		})
	}

	if err != nil {
		return fmt.Errorf("failed to register ACME account with %s: %w", ca.ID, err)
	}

	account.RegistrationURI = reg.URI
	account.Status = model.AcmeAccountStatusActive

	if f.db != nil {
		if err := f.db.Save(account).Error; err != nil {
			return fmt.Errorf("failed to save account: %w", err)
		}
	}

	return nil
}

// directoryURL selects the production or staging directory for the account
func directoryURL(ca *model.CertificateAuthority, staging bool) string {
	if staging && ca.StagingDirectoryURL != "" {
		return ca.StagingDirectoryURL
	}
	return ca.DirectoryURL
}

// registrationUser implements registration.User for lego
type registrationUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *registrationUser) GetEmail() string {
	return u.email
}

func (u *registrationUser) GetRegistration() *registration.Resource {
	return u.registration
}

func (u *registrationUser) GetPrivateKey() crypto.PrivateKey {
	return u.key
}

// LegoClient implements Provider on top of lego's low-level ACME API. It is
// bound to one account session and owns one order for the attempt's domain
// set; it is not safe for concurrent use and is discarded after the attempt.
type LegoClient struct {
	core      *api.Core
	exportDir string
	domains   []string

	order     *acme.ExtendedOrder
	orderURL  string
	authzs    map[string]*PendingAuthorization // by requested domain
	rawAuthzs map[string]acme.Authorization    // by authorization URL
	certKey   crypto.Signer
}

// RegisterIdentifier implements Provider
func (c *LegoClient) RegisterIdentifier(ctx context.Context, domain string) (*PendingAuthorization, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A prior authorization for the same DNS name is deactivated and the
	// order restarted, so the attempt never continues against an ambiguous
	// identifier.
	if prior, ok := c.authzs[domain]; ok {
		_ = c.core.Authorizations.Deactivate(prior.IdentifierAlias)
		delete(c.authzs, domain)
		c.order = nil
	}

	if err := c.ensureOrder(); err != nil {
		return nil, err
	}

	authz, ok := c.authzs[domain]
	if !ok {
		return nil, fmt.Errorf("CA order contains no authorization for %s", domain)
	}
	return authz, nil
}

// ensureOrder creates the order for the attempt's domain set and loads all
// of its authorizations into the domain-keyed cache.
func (c *LegoClient) ensureOrder() error {
	if c.order != nil {
		return nil
	}

	order, err := c.core.Orders.New(c.domains)
	if err != nil {
		return fmt.Errorf("failed to create ACME order: %w", err)
	}
	c.order = &order
	c.orderURL = order.Location

	for _, authzURL := range order.Authorizations {
		raw, err := c.core.Authorizations.Get(authzURL)
		if err != nil {
			return fmt.Errorf("failed to fetch authorization %s: %w", authzURL, err)
		}
		c.rawAuthzs[authzURL] = raw

		domain := raw.Identifier.Value
		if raw.Wildcard {
			domain = "*." + domain
		}
		c.authzs[domain] = &PendingAuthorization{
			Domain:          domain,
			IdentifierAlias: authzURL,
			IsWildcard:      raw.Wildcard,
		}
	}

	return nil
}

// DecodeChallenge implements Provider
func (c *LegoClient) DecodeChallenge(ctx context.Context, authz *PendingAuthorization, challengeType string) (*AuthChallenge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, ok := c.rawAuthzs[authz.IdentifierAlias]
	if !ok {
		return nil, fmt.Errorf("unknown authorization %s", authz.IdentifierAlias)
	}

	var chosen *acme.Challenge
	for i := range raw.Challenges {
		if raw.Challenges[i].Type == challengeType {
			chosen = &raw.Challenges[i]
			break
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("CA offered no %s challenge for %s", challengeType, authz.Domain)
	}

	keyAuth, err := c.core.GetKeyAuthorization(chosen.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to compute key authorization: %w", err)
	}

	// http-01 serves the key authorization itself; dns-01 publishes its
	// base64url SHA-256 digest as a TXT record.
	value := keyAuth
	if challengeType == model.ChallengeTypeDNS01 {
		info := dns01.GetChallengeInfo(raw.Identifier.Value, keyAuth)
		value = info.Value
	}

	challenge := &AuthChallenge{
		Type:             challengeType,
		Domain:           authz.Domain,
		Token:            chosen.Token,
		KeyAuthorization: keyAuth,
		Value:            value,
		URL:              chosen.URL,
	}
	authz.Challenge = challenge
	return challenge, nil
}

// SubmitChallenge implements Provider
func (c *LegoClient) SubmitChallenge(ctx context.Context, challenge *AuthChallenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := c.core.Challenges.New(challenge.URL); err != nil {
		return fmt.Errorf("failed to submit %s challenge for %s: %w", challenge.Type, challenge.Domain, err)
	}
	return nil
}

// PollIdentifierStatus implements Provider
func (c *LegoClient) PollIdentifierStatus(ctx context.Context, authz *PendingAuthorization) (IdentifierStatus, error) {
	if err := ctx.Err(); err != nil {
		return IdentifierPending, err
	}

	raw, err := c.core.Authorizations.Get(authz.IdentifierAlias)
	if err != nil {
		return IdentifierPending, fmt.Errorf("failed to poll authorization for %s: %w", authz.Domain, err)
	}
	c.rawAuthzs[authz.IdentifierAlias] = raw

	switch raw.Status {
	case acme.StatusValid:
		return IdentifierValid, nil
	case acme.StatusInvalid, acme.StatusDeactivated, acme.StatusExpired, acme.StatusRevoked:
		return IdentifierInvalid, nil
	default:
		return IdentifierPending, nil
	}
}

// SubmitCSR implements Provider
func (c *LegoClient) SubmitCSR(ctx context.Context, cfg *model.CertRequestConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.order == nil {
		return errors.New("no open order to finalize")
	}

	key, err := generateCertKey(cfg.PreferredKeyType)
	if err != nil {
		return err
	}
	c.certKey = key

	var ips []net.IP
	for _, raw := range cfg.SubjectIPAddresses {
		if ip := net.ParseIP(raw); ip != nil {
			ips = append(ips, ip)
		}
	}

	template := x509.CertificateRequest{
		Subject:     pkix.Name{CommonName: cfg.PrimaryDomain},
		DNSNames:    cfg.Domains(),
		IPAddresses: ips,
	}

	csr, err := x509.CreateCertificateRequest(rand.Reader, &template, key)
	if err != nil {
		return fmt.Errorf("failed to create CSR: %w", err)
	}

	order, err := c.core.Orders.UpdateForCSR(c.order.Finalize, csr)
	if err != nil {
		return fmt.Errorf("failed to finalize order: %w", err)
	}
	c.order = &order

	return nil
}

// PollCertificateStatus implements Provider
func (c *LegoClient) PollCertificateStatus(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if c.order == nil {
		return false, errors.New("no open order to poll")
	}

	order, err := c.core.Orders.Get(c.orderURL)
	if err != nil {
		return false, fmt.Errorf("failed to poll order: %w", err)
	}
	c.order = &order

	return order.Status == acme.StatusValid && order.Certificate != "", nil
}

// ExportCertificate implements Provider
func (c *LegoClient) ExportCertificate(ctx context.Context, certID string) (*ExportedCertificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.order == nil || c.order.Certificate == "" {
		return nil, errors.New("no issued certificate available")
	}
	if c.certKey == nil {
		return nil, errors.New("no certificate key available")
	}

	certPem, issuerPem, err := c.core.Certificates.Get(c.order.Certificate, true)
	if err != nil {
		return nil, fmt.Errorf("failed to download certificate: %w", err)
	}
	_ = issuerPem // issuer chain is already bundled

	block, _ := pem.Decode(certPem)
	if block == nil {
		return nil, errors.New("failed to decode certificate PEM")
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	if err := os.MkdirAll(c.exportDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}

	certPath := filepath.Join(c.exportDir, certID+".pem")
	if err := os.WriteFile(certPath, certPem, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write certificate: %w", err)
	}

	keyPem, err := encodePrivateKey(c.certKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode certificate key: %w", err)
	}
	keyPath := filepath.Join(c.exportDir, certID+".key")
	if err := os.WriteFile(keyPath, []byte(keyPem), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write certificate key: %w", err)
	}

	return &ExportedCertificate{
		Path:      certPath,
		KeyPath:   keyPath,
		NotBefore: leaf.NotBefore,
		NotAfter:  leaf.NotAfter,
	}, nil
}

// generateCertKey creates the certificate private key for the CSR
func generateCertKey(preferredKeyType string) (crypto.Signer, error) {
	switch strings.ToUpper(preferredKeyType) {
	case "", "ECDSA256":
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case "RSA2048":
		return rsa.GenerateKey(rand.Reader, 2048)
	default:
		return nil, fmt.Errorf("unsupported key type %q", preferredKeyType)
	}
}

// parsePrivateKey parses a PEM-encoded private key
func parsePrivateKey(keyPem string) (crypto.PrivateKey, error) {
	block, _ := pem.Decode([]byte(keyPem))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	return nil, errors.New("unsupported private key type")
}

// encodePrivateKey encodes a private key to PEM format
func encodePrivateKey(key crypto.PrivateKey) (string, error) {
	var block *pem.Block

	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		keyBytes, err := x509.MarshalECPrivateKey(k)
		if err != nil {
			return "", err
		}
		block = &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes}
	case *rsa.PrivateKey:
		block = &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(k)}
	default:
		return "", errors.New("unsupported private key type")
	}

	return string(pem.EncodeToMemory(block)), nil
}
