package main

import (
	"flag"
	"log"
	"time"

	v1 "certhub/api/v1"
	"certhub/internal/acmeclient"
	"certhub/internal/auth"
	"certhub/internal/cache"
	"certhub/internal/certstore"
	"certhub/internal/challenge"
	"certhub/internal/config"
	"certhub/internal/db"
	"certhub/internal/deploy"
	"certhub/internal/model"
	"certhub/internal/renewal"
	"certhub/internal/workflow"
	"certhub/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to INI config file (environment variables take precedence)")
	flag.Parse()

	// 1. Load configuration
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromINI(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("✓ Configuration loaded")

	// 2. Initialize MySQL
	if err := db.InitMySQL(cfg.MySQL.DSN); err != nil {
		log.Fatalf("Failed to initialize MySQL: %v", err)
	}
	defer db.Close()

	if cfg.Migrate {
		if err := db.Migrate(db.GetDB()); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
	}

	// 3. Initialize Redis
	if err := cache.InitRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		log.Fatalf("Failed to initialize Redis: %v", err)
	}
	defer cache.Close()

	// 4. Initialize JWT
	auth.InitJWT(cfg.JWT.Secret)

	// 5. Wire the renewal pipeline
	store := certstore.New(db.GetDB())

	responders := challenge.NewRegistry()
	responders.Register(model.ChallengeTypeHTTP01, challenge.NewHTTP01Responder(cfg.ACME.HTTP01Webroot))
	responders.Register(model.ChallengeTypeDNS01, challenge.NewDNS01Responder(db.GetDB(), cfg.ACME.DNSRecordTTL))

	var targets []deploy.Target
	for _, t := range cfg.DeployTargets {
		targets = append(targets, &deploy.ScriptTarget{
			TargetID:     t.ID,
			DeployScript: t.DeployScript,
			StatusScript: t.StatusScript,
		})
	}
	deployer := deploy.NewManager(targets...)

	requester := workflow.NewIssuanceWorkflow(&workflow.IssuanceConfig{
		Factory:    acmeclient.NewLegoFactory(db.GetDB(), cfg.ACME.ExportDir),
		Catalog:    store,
		Responders: responders,
		Deployer:   deployer,
		Hooks:      workflow.NewHookRunner(60 * time.Second),
	})

	progressStore := cache.NewProgressStore(cache.Client, 24*time.Hour)
	sinks := renewal.ProgressSinks{progressStore, ws.NewProgressBroadcaster()}

	scheduler := renewal.NewScheduler(&renewal.SchedulerConfig{
		Store:     store,
		Attempts:  store,
		Requester: requester,
		Target:    deployer,
		Sink:      sinks,
	})

	settings := renewal.Settings{
		IntervalDays:       cfg.RenewalWorker.RenewIntervalDays,
		IntervalMode:       renewal.IntervalMode(cfg.RenewalWorker.IntervalMode),
		CheckFailureStatus: cfg.RenewalWorker.CheckFailureStatus,
		MaxTasksPerBatch:   cfg.RenewalWorker.MaxTasksPerBatch,
		Parallel:           cfg.RenewalWorker.Parallel,
		MaxConcurrent:      cfg.RenewalWorker.MaxConcurrent,
		SkipStoppedTargets: cfg.RenewalWorker.SkipStoppedTargets,
	}

	// 6. Start background workers
	worker := renewal.NewWorker(scheduler, renewal.WorkerConfig{
		Enabled:     cfg.RenewalWorker.Enabled,
		IntervalSec: cfg.RenewalWorker.IntervalSec,
		Settings:    settings,
	}, logrus.NewEntry(logrus.StandardLogger()))
	worker.Start()
	defer worker.Stop()

	cleaner := renewal.NewCleaner(db.GetDB(), renewal.CleanerConfig{
		Enabled:        cfg.AttemptCleaner.Enabled,
		IntervalSec:    cfg.AttemptCleaner.IntervalSec,
		FailedKeepDays: cfg.AttemptCleaner.FailedKeepDays,
	})
	cleaner.Start()
	defer cleaner.Stop()

	// 7. Initialize Socket.IO progress feed
	if err := ws.InitServer(func(certID string) (renewal.RequestProgressState, bool) {
		return scheduler.Tracker().Get(certID)
	}); err != nil {
		log.Fatalf("Failed to initialize WebSocket server: %v", err)
	}

	// 8. Initialize Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	// Socket.IO endpoint with JWT handshake auth
	r.Any("/socket.io/*any", gin.WrapH(ws.WrapWithAuth(ws.Server)))

	// Setup API v1 routes
	v1.SetupRouter(r, db.GetDB(), cfg, v1.Deps{
		Scheduler: scheduler,
		Progress:  progressStore,
		Settings:  settings,
	})

	log.Printf("✓ Server starting on %s", cfg.HTTPAddr)

	// Start server
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
