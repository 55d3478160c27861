package certstore

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"certhub/internal/model"
	"certhub/internal/renewal"
)

// Store is the gorm-backed persistence layer for managed certificates, their
// renewal attempts and the CA catalog. It implements renewal.CertificateStore,
// renewal.AttemptStore and renewal.CatalogStore.
type Store struct {
	db *gorm.DB
}

// New creates a store over an open database handle
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Find implements renewal.CertificateStore
func (s *Store) Find(ctx context.Context, filter renewal.StoreFilter) ([]model.ManagedCertificate, error) {
	query := s.db.WithContext(ctx).Model(&model.ManagedCertificate{})

	if len(filter.IDs) > 0 {
		query = query.Where("id IN ?", filter.IDs)
	}

	var certs []model.ManagedCertificate
	if err := query.Order("created_at ASC, id ASC").Find(&certs).Error; err != nil {
		return nil, fmt.Errorf("failed to query certificates: %w", err)
	}
	return certs, nil
}

// GetByID implements renewal.CertificateStore
func (s *Store) GetByID(ctx context.Context, id string) (*model.ManagedCertificate, error) {
	var cert model.ManagedCertificate
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&cert).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("certificate %s not found", id)
		}
		return nil, fmt.Errorf("failed to load certificate %s: %w", id, err)
	}
	return &cert, nil
}

// Update implements renewal.CertificateStore
func (s *Store) Update(ctx context.Context, cert *model.ManagedCertificate) error {
	if err := s.db.WithContext(ctx).Save(cert).Error; err != nil {
		return fmt.Errorf("failed to update certificate %s: %w", cert.ID, err)
	}
	return nil
}

// Create persists a new managed certificate
func (s *Store) Create(ctx context.Context, cert *model.ManagedCertificate) error {
	if err := s.db.WithContext(ctx).Create(cert).Error; err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}
	return nil
}

// Delete removes a managed certificate and its attempt history
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("managed_certificate_id = ?", id).Delete(&model.RenewalAttempt{}).Error; err != nil {
			return fmt.Errorf("failed to delete attempt history: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&model.ManagedCertificate{}).Error; err != nil {
			return fmt.Errorf("failed to delete certificate %s: %w", id, err)
		}
		return nil
	})
}

// CreateAttempt implements renewal.AttemptStore
func (s *Store) CreateAttempt(ctx context.Context, attempt *model.RenewalAttempt) error {
	if err := s.db.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to create renewal attempt: %w", err)
	}
	return nil
}

// CompleteAttempt implements renewal.AttemptStore. Only running attempts can
// be completed; completing an already-terminal attempt is a no-op.
func (s *Store) CompleteAttempt(ctx context.Context, attemptID, status, message string) error {
	err := s.db.WithContext(ctx).Model(&model.RenewalAttempt{}).
		Where("attempt_id = ? AND status = ?", attemptID, model.RenewalAttemptStatusRunning).
		Updates(map[string]interface{}{
			"status":  status,
			"message": message,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to complete attempt %s: %w", attemptID, err)
	}
	return nil
}

// ListAttempts returns the attempt history for one certificate, newest first
func (s *Store) ListAttempts(ctx context.Context, certID string, limit int) ([]model.RenewalAttempt, error) {
	if limit <= 0 {
		limit = 50
	}

	var attempts []model.RenewalAttempt
	err := s.db.WithContext(ctx).
		Where("managed_certificate_id = ?", certID).
		Order("created_at DESC").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts for %s: %w", certID, err)
	}
	return attempts, nil
}

// ListAuthorities implements renewal.CatalogStore. The id ordering keeps the
// failover walk deterministic across calls.
func (s *Store) ListAuthorities(ctx context.Context) ([]model.CertificateAuthority, error) {
	var authorities []model.CertificateAuthority
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&authorities).Error; err != nil {
		return nil, fmt.Errorf("failed to list certificate authorities: %w", err)
	}
	return authorities, nil
}

// ListAccounts implements renewal.CatalogStore
func (s *Store) ListAccounts(ctx context.Context) ([]model.AcmeAccount, error) {
	var accounts []model.AcmeAccount
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}
