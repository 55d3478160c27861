package authorities

import (
	"errors"

	"certhub/internal/httpx"
	"certhub/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler handles certificate authority catalog API requests
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// UpsertRequest represents the request to create or update a CA entry
type UpsertRequest struct {
	ID                  string   `json:"id" binding:"required"`
	Title               string   `json:"title" binding:"required"`
	DirectoryURL        string   `json:"directoryUrl" binding:"required"`
	StagingDirectoryURL string   `json:"stagingDirectoryUrl"`
	RequiresEAB         bool     `json:"requiresEab"`
	Enabled             *bool    `json:"enabled"`
	SupportedFeatures   []string `json:"supportedFeatures"`
}

// List handles GET /api/v1/authorities
func (h *Handler) List(c *gin.Context) {
	var authorities []model.CertificateAuthority
	if err := h.db.Order("id ASC").Find(&authorities).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list certificate authorities", err))
		return
	}
	httpx.OK(c, authorities)
}

// Upsert handles POST /api/v1/authorities/upsert
func (h *Handler) Upsert(c *gin.Context) {
	var req UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	features := req.SupportedFeatures
	if len(features) == 0 {
		features = []string{model.FeatureDomainValidation}
	}

	var ca model.CertificateAuthority
	err := h.db.Where("id = ?", req.ID).First(&ca).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load certificate authority", err))
		return
	}

	ca.ID = req.ID
	ca.Title = req.Title
	ca.DirectoryURL = req.DirectoryURL
	ca.StagingDirectoryURL = req.StagingDirectoryURL
	ca.RequiresEAB = req.RequiresEAB
	ca.SupportedFeatures = features
	if req.Enabled != nil {
		ca.Enabled = *req.Enabled
	} else if errors.Is(err, gorm.ErrRecordNotFound) {
		ca.Enabled = true
	}

	if err := h.db.Save(&ca).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to save certificate authority", err))
		return
	}

	httpx.OK(c, ca)
}

// SetEnabled handles POST /api/v1/authorities/set-enabled
func (h *Handler) SetEnabled(c *gin.Context) {
	var req struct {
		ID      string `json:"id" binding:"required"`
		Enabled bool   `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	result := h.db.Model(&model.CertificateAuthority{}).
		Where("id = ?", req.ID).
		Update("enabled", req.Enabled)
	if result.Error != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to update certificate authority", result.Error))
		return
	}
	if result.RowsAffected == 0 {
		httpx.FailErr(c, httpx.ErrNotFound("certificate authority not found"))
		return
	}

	httpx.OK(c, gin.H{"id": req.ID, "enabled": req.Enabled})
}
