package main

import (
	"github.com/huangang/claimwatch/internal/config"
	"github.com/huangang/claimwatch/internal/handlers"
	"github.com/huangang/claimwatch/internal/models"
	"github.com/huangang/claimwatch/internal/services"
	"github.com/huangang/claimwatch/internal/services/github"
	"github.com/huangang/claimwatch/internal/services/webhook"
	"github.com/huangang/claimwatch/internal/utils"
	"github.com/huangang/claimwatch/pkg/logger"
	"gorm.io/gorm"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	cfg       *config.Config
	db        *gorm.DB
	monitor   *services.Monitor
	taskQueue services.TaskQueue
	worker    *services.Worker
	hub       *services.SSEHub

	assignmentHandler   *handlers.AssignmentHandler
	notificationHandler *handlers.NotificationHandler
	policyHandler       *handlers.PolicyHandler
	monitorHandler      *handlers.MonitorHandler
	webhookHandler      *handlers.WebhookHandler
	healthHandler       *handlers.HealthHandler
	sseHandler          *handlers.SSEHandler
	authHandler         *handlers.AuthHandler
	llmConfigHandler    *handlers.LLMConfigHandler
	imBotHandler        *handlers.IMBotHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	db, err := models.Open(&cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	if err := models.Migrate(db); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	if err := models.SeedFromConfig(db, cfg); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed LLM providers and notification channels")
	}

	holidays := services.NewHolidayService()
	if country := cfg.Monitor.HolidayCountry; country != "" && !holidays.Supports(country) {
		logger.Fatalf("Unsupported holiday country: %s", country)
	}
	clock := services.NewElapsedClock(holidays, cfg.Monitor.HolidayCountry)
	policy, err := services.NewThresholdPolicy(cfg.Thresholds, clock)
	if err != nil {
		logger.Fatalf("Invalid threshold policy: %v", err)
	}

	gh := github.NewClient(cfg.GitHub)
	store := services.NewAssignmentStore(db)
	hub := services.NewSSEHub()
	sink := services.NewIMNotificationSink(db)
	llm := services.NewLLMClassifier(db, &cfg.OpenAI)

	monitor := services.NewMonitor(services.MonitorDeps{
		Store:      store,
		Leases:     services.NewLeaseManager(db),
		Merger:     services.NewActivityMerger(gh, gh, services.NewDBForkCache(db, cfg.Monitor.ForkCacheTTL)),
		Classifier: services.NewChainClassifier(llm, services.KeywordClassifier{}),
		Policy:     policy,
		Platform:   gh,
		Sink:       sink,
		Events:     hub,
	}, cfg.Monitor)

	// Initialize task queue (uses Redis if enabled, otherwise sync mode)
	taskQueue := services.NewTaskQueue(cfg)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(monitor.ProcessCheckTask)
	}

	// Start async worker if Redis is enabled
	var worker *services.Worker
	if taskQueue.IsAsync() {
		worker = services.NewWorker(&cfg.Redis, cfg.Monitor)
		if worker != nil {
			worker.SetProcessor(monitor.ProcessCheckTask)
			if err := worker.Start(); err != nil {
				logger.Error().Err(err).Msg("Failed to start worker")
			}
		}
	}

	if cfg.Monitor.Enabled {
		if err := monitor.Start(); err != nil {
			logger.Fatalf("Failed to start monitor: %v", err)
		}
	} else {
		logger.Info().Msg("Monitor schedule disabled; cycles run only on demand")
	}

	manual := services.NewManualActions(store, sink, hub).WithLeases(services.NewLeaseManager(db))
	manual.LeaseTTL = cfg.Monitor.LeaseTTL
	hookService := webhook.NewService(store, taskQueue, hub, cfg.Monitor.BotLogin)
	auth := services.NewMaintainerAuth(cfg)

	return &appServices{
		cfg:       cfg,
		db:        db,
		monitor:   monitor,
		taskQueue: taskQueue,
		worker:    worker,
		hub:       hub,

		assignmentHandler:   handlers.NewAssignmentHandler(store, policy, manual, taskQueue),
		notificationHandler: handlers.NewNotificationHandler(store),
		policyHandler:       handlers.NewPolicyHandler(policy, holidays),
		monitorHandler:      handlers.NewMonitorHandler(monitor, cfg.Monitor.RunDeadline),
		webhookHandler:      handlers.NewWebhookHandler(hookService, cfg.GitHub.WebhookSecret),
		healthHandler:       handlers.NewHealthHandler(db, taskQueue, store, hub, monitor),
		sseHandler:          handlers.NewSSEHandler(hub),
		authHandler:         handlers.NewAuthHandler(auth),
		llmConfigHandler:    handlers.NewLLMConfigHandler(services.NewLLMConfigService(db, llm)),
		imBotHandler:        handlers.NewIMBotHandler(services.NewIMBotService(db)),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.monitor.Stop()
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}
