package v1

import (
	"certhub/api/v1/accounts"
	"certhub/api/v1/auth"
	"certhub/api/v1/authorities"
	"certhub/api/v1/certificates"
	"certhub/api/v1/middleware"
	"certhub/api/v1/renewals"
	"certhub/internal/cache"
	"certhub/internal/certstore"
	"certhub/internal/config"
	"certhub/internal/httpx"
	"certhub/internal/renewal"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps carries the collaborators the API layer needs beyond the database
type Deps struct {
	Scheduler *renewal.Scheduler
	Progress  *cache.ProgressStore // optional
	Settings  renewal.Settings
}

// SetupRouter sets up the API v1 routes
func SetupRouter(r *gin.Engine, db *gorm.DB, cfg *config.Config, deps Deps) {
	store := certstore.New(db)

	v1 := r.Group("/api/v1")
	{
		// Public routes (no authentication required)
		v1.GET("/ping", pingHandler)

		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", auth.LoginHandler(db, cfg))
		}

		// Protected routes (authentication required)
		protected := v1.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/me", meHandler)

			// Managed certificates
			certsHandler := certificates.NewHandler(db)
			certsGroup := protected.Group("/certificates")
			{
				certsGroup.GET("", certsHandler.List)
				certsGroup.GET("/:id", certsHandler.Get)
				certsGroup.POST("/create", certsHandler.Create)
				certsGroup.POST("/update", certsHandler.Update)
				certsGroup.POST("/reset-failover", certsHandler.ResetFailover)
				certsGroup.POST("/delete", certsHandler.Delete)
			}

			// Renewal operations
			renewalsHandler := renewals.NewHandler(db, store, deps.Scheduler, deps.Progress, deps.Settings)
			renewalsGroup := protected.Group("/renewals")
			{
				renewalsGroup.POST("/trigger", renewalsHandler.Trigger)
				renewalsGroup.POST("/run", renewalsHandler.RunBatch)
				renewalsGroup.GET("/candidates", renewalsHandler.Candidates)
				renewalsGroup.GET("/progress/:id", renewalsHandler.Progress)
				renewalsGroup.GET("/attempts/:id", renewalsHandler.Attempts)
			}

			// CA catalog
			authoritiesHandler := authorities.NewHandler(db)
			authoritiesGroup := protected.Group("/authorities")
			{
				authoritiesGroup.GET("", authoritiesHandler.List)
				authoritiesGroup.POST("/upsert", authoritiesHandler.Upsert)
				authoritiesGroup.POST("/set-enabled", authoritiesHandler.SetEnabled)
			}

			// ACME accounts
			accountsHandler := accounts.NewHandler(db)
			accountsGroup := protected.Group("/accounts")
			{
				accountsGroup.GET("", accountsHandler.List)
				accountsGroup.POST("/create", accountsHandler.Create)
				accountsGroup.POST("/set-status", accountsHandler.SetStatus)
			}
		}
	}
}

// pingHandler handles the ping request using unified response
func pingHandler(c *gin.Context) {
	httpx.OK(c, gin.H{
		"pong": true,
	})
}

// meHandler returns current user information
func meHandler(c *gin.Context) {
	uid, _ := c.Get("uid")
	username, _ := c.Get("username")
	role, _ := c.Get("role")

	httpx.OK(c, gin.H{
		"uid":      uid,
		"username": username,
		"role":     role,
	})
}
