package accounts

import (
	"errors"

	"certhub/internal/httpx"
	"certhub/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler handles ACME account API requests
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// AccountInfo is the API view of an account; key material is never returned
type AccountInfo struct {
	ID                     int    `json:"id"`
	CertificateAuthorityID string `json:"certificateAuthorityId"`
	Email                  string `json:"email"`
	RegistrationURI        string `json:"registrationUri"`
	IsStagingAccount       bool   `json:"isStagingAccount"`
	Status                 string `json:"status"`
}

// CreateRequest represents the request to create an account
type CreateRequest struct {
	CertificateAuthorityID string `json:"certificateAuthorityId" binding:"required"`
	Email                  string `json:"email" binding:"required"`
	EabKid                 string `json:"eabKid"`
	EabHmacKey             string `json:"eabHmacKey"`
	IsStagingAccount       bool   `json:"isStagingAccount"`
}

// List handles GET /api/v1/accounts
func (h *Handler) List(c *gin.Context) {
	query := h.db.Model(&model.AcmeAccount{})
	if ca := c.Query("certificateAuthorityId"); ca != "" {
		query = query.Where("certificate_authority_id = ?", ca)
	}

	var accounts []model.AcmeAccount
	if err := query.Order("id ASC").Find(&accounts).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list accounts", err))
		return
	}

	infos := make([]AccountInfo, len(accounts))
	for i, account := range accounts {
		infos[i] = AccountInfo{
			ID:                     account.ID,
			CertificateAuthorityID: account.CertificateAuthorityID,
			Email:                  account.Email,
			RegistrationURI:        account.RegistrationURI,
			IsStagingAccount:       account.IsStagingAccount,
			Status:                 account.Status,
		}
	}

	httpx.OK(c, infos)
}

// Create handles POST /api/v1/accounts/create. Registration with the CA
// happens lazily on the account's first renewal attempt.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
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

	if ca.RequiresEAB && (req.EabKid == "" || req.EabHmacKey == "") {
		httpx.FailErr(c, httpx.ErrParamMissing("this certificate authority requires EAB credentials"))
		return
	}

	account := model.AcmeAccount{
		CertificateAuthorityID: req.CertificateAuthorityID,
		Email:                  req.Email,
		EabKid:                 req.EabKid,
		EabHmacKey:             req.EabHmacKey,
		IsStagingAccount:       req.IsStagingAccount,
		Status:                 model.AcmeAccountStatusPending,
	}

	if err := h.db.Create(&account).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to create account", err))
		return
	}

	httpx.OK(c, AccountInfo{
		ID:                     account.ID,
		CertificateAuthorityID: account.CertificateAuthorityID,
		Email:                  account.Email,
		IsStagingAccount:       account.IsStagingAccount,
		Status:                 account.Status,
	})
}

// SetStatus handles POST /api/v1/accounts/set-status
func (h *Handler) SetStatus(c *gin.Context) {
	var req struct {
		ID     int    `json:"id" binding:"required"`
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	switch req.Status {
	case model.AcmeAccountStatusPending, model.AcmeAccountStatusActive, model.AcmeAccountStatusInactive:
	default:
		httpx.FailErr(c, httpx.ErrParamIllegal("unknown account status"))
		return
	}

	result := h.db.Model(&model.AcmeAccount{}).
		Where("id = ?", req.ID).
		Update("status", req.Status)
	if result.Error != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to update account", result.Error))
		return
	}
	if result.RowsAffected == 0 {
		httpx.FailErr(c, httpx.ErrNotFound("account not found"))
		return
	}

	httpx.OK(c, gin.H{"id": req.ID, "status": req.Status})
}
