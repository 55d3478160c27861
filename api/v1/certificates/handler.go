package certificates

import (
	"errors"
	"strconv"

	"certhub/internal/httpx"
	"certhub/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Handler handles managed certificate API requests
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// CreateRequest represents the request to create a managed certificate
type CreateRequest struct {
	Name                   string                   `json:"name" binding:"required"`
	CertificateAuthorityID string                   `json:"certificateAuthorityId" binding:"required"`
	UseStagingMode         bool                     `json:"useStagingMode"`
	IncludeInAutoRenew     *bool                    `json:"includeInAutoRenew"`
	RequestConfig          *model.CertRequestConfig `json:"requestConfig" binding:"required"`
}

// UpdateRequest represents the request to update a managed certificate
type UpdateRequest struct {
	ID                     string                   `json:"id" binding:"required"`
	Name                   string                   `json:"name"`
	CertificateAuthorityID string                   `json:"certificateAuthorityId"`
	UseStagingMode         *bool                    `json:"useStagingMode"`
	IncludeInAutoRenew     *bool                    `json:"includeInAutoRenew"`
	RequestConfig          *model.CertRequestConfig `json:"requestConfig"`
}

// List handles GET /api/v1/certificates
func (h *Handler) List(c *gin.Context) {
	page := 1
	if val := c.Query("page"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			page = parsed
		}
	}

	pageSize := 20
	if val := c.Query("pageSize"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			pageSize = parsed
		}
	}

	query := h.db.Model(&model.ManagedCertificate{})
	if status := c.Query("status"); status != "" {
		query = query.Where("last_renewal_status = ?", status)
	}
	if ca := c.Query("certificateAuthorityId"); ca != "" {
		query = query.Where("certificate_authority_id = ?", ca)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to count certificates", err))
		return
	}

	var certs []model.ManagedCertificate
	err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&certs).Error
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list certificates", err))
		return
	}

	httpx.OKItems(c, certs, total, page, pageSize)
}

// Get handles GET /api/v1/certificates/:id
func (h *Handler) Get(c *gin.Context) {
	id := c.Param("id")

	var cert model.ManagedCertificate
	if err := h.db.Where("id = ?", id).First(&cert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("certificate not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load certificate", err))
		return
	}

	httpx.OK(c, cert)
}

// Create handles POST /api/v1/certificates/create
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	if req.RequestConfig.PrimaryDomain == "" {
		httpx.FailErr(c, httpx.ErrParamMissing("requestConfig.primaryDomain is required"))
		return
	}
	if len(req.RequestConfig.Challenges) == 0 {
		httpx.FailErr(c, httpx.ErrParamMissing("requestConfig.challenges is required"))
		return
	}

	var ca model.CertificateAuthority
	if err := h.db.Where("id = ?", req.CertificateAuthorityID).First(&ca).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrParamIllegal("unknown certificate authority"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load certificate authority", err))
		return
	}

	if !ca.Supports(req.RequestConfig.RequiredFeatures()) {
		httpx.FailErr(c, httpx.ErrParamIllegal("certificate authority does not support the requested features"))
		return
	}

	cert := model.ManagedCertificate{
		ID:                     uuid.NewString(),
		Name:                   req.Name,
		CertificateAuthorityID: req.CertificateAuthorityID,
		UseStagingMode:         req.UseStagingMode,
		IncludeInAutoRenew:     true,
	}
	if req.IncludeInAutoRenew != nil {
		cert.IncludeInAutoRenew = *req.IncludeInAutoRenew
	}
	if err := cert.SetRequestConfig(req.RequestConfig); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request config"))
		return
	}

	if err := h.db.Create(&cert).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to create certificate", err))
		return
	}

	httpx.OK(c, cert)
}

// Update handles POST /api/v1/certificates/update
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	var cert model.ManagedCertificate
	if err := h.db.Where("id = ?", req.ID).First(&cert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("certificate not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load certificate", err))
		return
	}

	if req.Name != "" {
		cert.Name = req.Name
	}
	if req.CertificateAuthorityID != "" && req.CertificateAuthorityID != cert.CertificateAuthorityID {
		cert.CertificateAuthorityID = req.CertificateAuthorityID
		// Switching the preferred CA resets the failover history
		cert.ClearFailoverHistory()
		cert.RenewalFailureCount = 0
	}
	if req.UseStagingMode != nil {
		cert.UseStagingMode = *req.UseStagingMode
	}
	if req.IncludeInAutoRenew != nil {
		cert.IncludeInAutoRenew = *req.IncludeInAutoRenew
	}
	if req.RequestConfig != nil {
		if err := cert.SetRequestConfig(req.RequestConfig); err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid("invalid request config"))
			return
		}
	}

	if err := h.db.Save(&cert).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to update certificate", err))
		return
	}

	httpx.OK(c, cert)
}

// ResetFailover handles POST /api/v1/certificates/reset-failover. Clears the
// certificate's failover walk and failure counter so the next attempt starts
// from the preferred CA again.
func (h *Handler) ResetFailover(c *gin.Context) {
	var req struct {
		ID string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	var cert model.ManagedCertificate
	if err := h.db.Where("id = ?", req.ID).First(&cert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("certificate not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load certificate", err))
		return
	}

	cert.ClearFailoverHistory()
	cert.RenewalFailureCount = 0
	if err := h.db.Save(&cert).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to update certificate", err))
		return
	}

	httpx.OK(c, cert)
}

// Delete handles POST /api/v1/certificates/delete
func (h *Handler) Delete(c *gin.Context) {
	var req struct {
		ID string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("managed_certificate_id = ?", req.ID).Delete(&model.RenewalAttempt{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", req.ID).Delete(&model.ManagedCertificate{}).Error
	})
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to delete certificate", err))
		return
	}

	httpx.OK(c, gin.H{"deleted": req.ID})
}
