package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-guard-api/api/swagger"
	"github.com/noah-isme/sma-guard-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-guard-api/internal/middleware"
	"github.com/noah-isme/sma-guard-api/internal/models"
	"github.com/noah-isme/sma-guard-api/internal/repository"
	"github.com/noah-isme/sma-guard-api/internal/service"
	"github.com/noah-isme/sma-guard-api/pkg/cache"
	"github.com/noah-isme/sma-guard-api/pkg/config"
	"github.com/noah-isme/sma-guard-api/pkg/database"
	"github.com/noah-isme/sma-guard-api/pkg/jobs"
	"github.com/noah-isme/sma-guard-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-guard-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-guard-api/pkg/middleware/requestid"
)

// @title SMA Guard Duty API
// @version 1.0.0
// @description Timetable conflict detection and automatic substitute assignment for supervised activities.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, continuing without cache and event fan-out", zap.Error(err))
		redisClient = nil
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	scheduleRepo := repository.NewScheduleRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	classRepo := repository.NewClassRepository(db)
	guardRepo := repository.NewGuardDutyRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.GuardDuty.StatsCacheTTL, logr, redisClient != nil)

	mailer := service.NewMailNotifier(service.MailConfig{
		APIKey:     cfg.Mail.SendGridAPIKey,
		From:       cfg.Mail.From,
		AppName:    cfg.Mail.AppName,
		Recipients: cfg.Mail.EscalationEmails,
	})
	var publisher *repository.CacheRepository
	if redisClient != nil {
		publisher = cacheRepo
	}
	sender := service.NewNotificationSender(notificationRepo, eventPublisherOrNil(publisher), mailer, metricsSvc, service.NotificationSenderConfig{
		RatePerSec:   cfg.GuardDuty.NotificationRatePerSec,
		EventChannel: cfg.GuardDuty.EventChannel,
	}, logr)
	notificationQueue := jobs.NewQueue("guard-notifications", service.NotificationJobHandler(sender), jobs.QueueConfig{
		Workers:    cfg.GuardDuty.NotificationWorkers,
		MaxRetries: cfg.GuardDuty.NotificationRetries,
		Logger:     logr,
	})
	notificationQueue.Start(ctx)
	defer notificationQueue.Stop()
	dispatcher := service.NewNotificationDispatcher(notificationQueue, logr)

	scheduleSvc := service.NewScheduleService(scheduleRepo, cacheSvc, cfg.GuardDuty.StatsCacheTTL, validate, logr)
	finder := service.NewSubstituteFinder(teacherRepo, scheduleRepo, validate, logr)
	guardSvc := service.NewGuardDutyService(service.GuardDutyDeps{
		Activities: activityRepo,
		Roster:     enrollmentRepo,
		Teachers:   teacherRepo,
		Schedules:  scheduleRepo,
		Duties:     guardRepo,
		Finder:     finder,
		Classes:    classRepo,
		Subjects:   subjectRepo,
		Notifier:   dispatcher,
		Cache:      cacheSvc,
		Metrics:    metricsSvc,
	}, service.GuardDutyConfig{
		RunTimeout:    cfg.GuardDuty.RunTimeout,
		StatsCacheTTL: cfg.GuardDuty.StatsCacheTTL,
	}, logr)

	if cfg.GuardDuty.ReminderEnabled {
		reminder := service.NewPendingGuardReminder(guardRepo, dispatcher, service.PendingReminderConfig{
			Spec:     cfg.GuardDuty.ReminderCron,
			Timezone: cfg.GuardDuty.Timezone,
		}, logr)
		if err := reminder.Start(ctx); err != nil {
			logr.Error("pending guard reminder disabled", zap.Error(err))
		} else {
			defer reminder.Stop()
		}
	}

	verifier := service.NewTokenVerifier(cfg.JWT.Secret)
	scheduleHandler := handler.NewScheduleHandler(scheduleSvc)
	guardHandler := handler.NewGuardDutyHandler(guardSvc, finder)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(verifier))
	manage := internalmiddleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)

	api.GET("/schedules", scheduleHandler.List)
	api.GET("/schedules/availability", scheduleHandler.Availability)
	api.GET("/schedules/:id", scheduleHandler.Get)
	api.POST("/schedules", manage, scheduleHandler.Create)
	api.POST("/schedules/bulk", manage, scheduleHandler.BulkCreate)
	api.PATCH("/schedules/:id", manage, scheduleHandler.Update)
	api.DELETE("/schedules/:id", manage, scheduleHandler.Delete)
	api.GET("/teachers/:id/schedules", scheduleHandler.ListByTeacher)
	api.GET("/classes/:id/schedules", scheduleHandler.ListByClass)
	api.GET("/rooms/:room/schedules", scheduleHandler.ListByRoom)
	api.GET("/institutes/:id/schedule-stats", scheduleHandler.Stats)

	api.POST("/activities/:id/guard-duties", manage, guardHandler.Assign)
	api.GET("/activities/:id/guard-duties", guardHandler.ListByActivity)
	api.GET("/institutes/:id/guard-duties", guardHandler.ListByInstitute)
	api.GET("/institutes/:id/guard-duties/stats", guardHandler.Stats)
	api.POST("/guard-duties/substitutes/search", manage, guardHandler.SearchSubstitute)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

// eventPublisherOrNil keeps a nil *CacheRepository from becoming a non-nil interface.
func eventPublisherOrNil(repo *repository.CacheRepository) interface {
	Publish(ctx context.Context, channel string, payload []byte) error
} {
	if repo == nil {
		return nil
	}
	return repo
}
