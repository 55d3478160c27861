package renewals

import (
	"context"
	"errors"
	"time"

	"certhub/internal/cache"
	"certhub/internal/certstore"
	"certhub/internal/httpx"
	"certhub/internal/model"
	"certhub/internal/renewal"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Handler handles renewal API requests
type Handler struct {
	db        *gorm.DB
	store     *certstore.Store
	scheduler *renewal.Scheduler
	progress  *cache.ProgressStore // optional
	settings  renewal.Settings
	logger    *logrus.Entry
}

// NewHandler creates a new handler. settings is the default batch policy;
// manual triggers reuse it.
func NewHandler(db *gorm.DB, store *certstore.Store, scheduler *renewal.Scheduler, progress *cache.ProgressStore, settings renewal.Settings) *Handler {
	return &Handler{
		db:        db,
		store:     store,
		scheduler: scheduler,
		progress:  progress,
		settings:  settings,
		logger:    logrus.WithField("component", "renewal-api"),
	}
}

// TriggerRequest represents the request to trigger a renewal
type TriggerRequest struct {
	CertificateID string `json:"certificateId" binding:"required"`
}

// RunBatchRequest represents the request to run a renewal batch
type RunBatchRequest struct {
	Mode           string   `json:"mode"` // auto|renewals_due|new_items|renewals_with_errors|all
	CertificateIDs []string `json:"certificateIds"`
}

// CandidateInfo describes one certificate's renewal due-ness
type CandidateInfo struct {
	Certificate model.ManagedCertificate `json:"certificate"`
	IsDue       bool                     `json:"isDue"`
	Reason      string                   `json:"reason"`
	HoldUntil   *time.Time               `json:"holdUntil,omitempty"`
}

// Trigger handles POST /api/v1/renewals/trigger. The attempt runs in the
// background under ModeAll, bypassing the due-ness check; progress is
// observable via the progress endpoint and the websocket feed.
func (h *Handler) Trigger(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	cert, err := h.store.GetByID(c.Request.Context(), req.CertificateID)
	if err != nil {
		httpx.FailErr(c, httpx.ErrNotFound("certificate not found"))
		return
	}

	if _, running := h.scheduler.Tracker().Get(cert.ID); running {
		httpx.FailErr(c, httpx.ErrRenewalInFlight(""))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		if _, err := h.scheduler.PerformRenewAll(ctx, renewal.ModeAll, []string{cert.ID}, h.settings); err != nil {
			h.logger.Errorf("Manual renewal of %s failed to start: %v", cert.ID, err)
		}
	}()

	httpx.OKMsg(c, "renewal started", gin.H{"certificateId": cert.ID})
}

// RunBatch handles POST /api/v1/renewals/run
func (h *Handler) RunBatch(c *gin.Context) {
	var req RunBatchRequest
	_ = c.ShouldBindJSON(&req)

	mode := renewal.Mode(req.Mode)
	switch mode {
	case "":
		mode = renewal.ModeRenewalsDue
	case renewal.ModeAuto, renewal.ModeRenewalsDue, renewal.ModeNewItems, renewal.ModeRenewalsWithErrors, renewal.ModeAll:
	default:
		httpx.FailErr(c, httpx.ErrParamIllegal("unknown renewal mode"))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()

		if _, err := h.scheduler.PerformRenewAll(ctx, mode, req.CertificateIDs, h.settings); err != nil {
			h.logger.Errorf("Renewal batch (mode=%s) failed to start: %v", mode, err)
		}
	}()

	httpx.OKMsg(c, "renewal batch started", gin.H{"mode": string(mode)})
}

// Candidates handles GET /api/v1/renewals/candidates
func (h *Handler) Candidates(c *gin.Context) {
	certs, err := h.store.Find(c.Request.Context(), renewal.StoreFilter{})
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list certificates", err))
		return
	}

	now := time.Now()
	infos := make([]CandidateInfo, 0, len(certs))
	for i := range certs {
		check := renewal.CalculateNextRenewalAttempt(&certs[i], now, h.settings.IntervalDays, h.settings.IntervalMode, h.settings.CheckFailureStatus)
		infos = append(infos, CandidateInfo{
			Certificate: certs[i],
			IsDue:       check.IsRenewalDue,
			Reason:      check.Reason,
			HoldUntil:   check.HoldUntil,
		})
	}

	httpx.OK(c, infos)
}

// Progress handles GET /api/v1/renewals/progress/:id. The in-memory tracker
// answers for running attempts; Redis keeps the last terminal state.
func (h *Handler) Progress(c *gin.Context) {
	certID := c.Param("id")

	if state, ok := h.scheduler.Tracker().Get(certID); ok {
		httpx.OK(c, state)
		return
	}

	if h.progress != nil {
		state, err := h.progress.Get(c.Request.Context(), certID)
		if err == nil && state != nil {
			httpx.OK(c, state)
			return
		}
	}

	httpx.OK(c, renewal.RequestProgressState{
		ManagedCertificateID: certID,
		CurrentState:         renewal.StateNotRunning,
	})
}

// Attempts handles GET /api/v1/renewals/attempts/:id
func (h *Handler) Attempts(c *gin.Context) {
	certID := c.Param("id")

	var cert model.ManagedCertificate
	if err := h.db.Where("id = ?", certID).First(&cert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("certificate not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load certificate", err))
		return
	}

	attempts, err := h.store.ListAttempts(c.Request.Context(), certID, 50)
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list attempts", err))
		return
	}

	httpx.OK(c, attempts)
}
