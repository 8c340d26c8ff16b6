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

	_ "github.com/volunteerhub/vms-api/api/swagger"
	"github.com/volunteerhub/vms-api/internal/handler"
	"github.com/volunteerhub/vms-api/internal/middleware"
	"github.com/volunteerhub/vms-api/internal/models"
	"github.com/volunteerhub/vms-api/internal/repository"
	"github.com/volunteerhub/vms-api/internal/service"
	"github.com/volunteerhub/vms-api/pkg/cache"
	"github.com/volunteerhub/vms-api/pkg/certificate"
	"github.com/volunteerhub/vms-api/pkg/config"
	"github.com/volunteerhub/vms-api/pkg/database"
	"github.com/volunteerhub/vms-api/pkg/logger"
	"github.com/volunteerhub/vms-api/pkg/mailer"
	corsmiddleware "github.com/volunteerhub/vms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/volunteerhub/vms-api/pkg/middleware/requestid"
	"github.com/volunteerhub/vms-api/pkg/storage"
)

// @title VolunteerHub API
// @version 1.0.0
// @description Volunteer and event management service
// @BasePath /api/v1
// @schemes http

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	certStore, err := storage.NewLocalStorage(cfg.Certificates.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init certificate storage", "error", err)
	}

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	eventRepo := repository.NewEventRepository(db)
	registrationRepo := repository.NewRegistrationRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	feedbackRepo := repository.NewFeedbackRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()

	// The notifier owns the async email queue; everything downstream of a
	// state change goes through it.
	notifier := service.NewNotifier(notificationRepo, mailer.New(cfg.SMTP), cfg.Notifications, logr)
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	notifier.Start(rootCtx)
	defer notifier.Stop()

	// Services.
	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "vms-api",
	})
	eventSvc := service.NewEventService(eventRepo, registrationRepo, userRepo, cacheRepo, notifier, cfg.Events.CacheTTL, validate, logr)
	registrationSvc := service.NewRegistrationService(registrationRepo, eventRepo, userRepo, notifier, validate, logr)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, registrationRepo, notifier, cfg.Points.AttendanceAward, validate, logr)
	certificateSvc := service.NewCertificateService(
		registrationRepo,
		attendanceRepo,
		certificate.NewPDFRenderer(),
		certStore,
		storage.NewSignedURLSigner(cfg.Certificates.SignedURLSecret, cfg.Certificates.SignedURLTTL),
		notifier,
		cfg.Certificates.AttendanceThreshold,
		logr,
	)
	feedbackSvc := service.NewFeedbackService(feedbackRepo, registrationRepo, validate, logr)
	notificationSvc := service.NewNotificationService(notificationRepo, logr)

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	eventHandler := handler.NewEventHandler(eventSvc)
	registrationHandler := handler.NewRegistrationHandler(registrationSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc)
	certificateHandler := handler.NewCertificateHandler(certificateSvc)
	feedbackHandler := handler.NewFeedbackHandler(feedbackSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	events := api.Group("/events")
	{
		events.GET("", eventHandler.List)
		events.GET("/:id", eventHandler.Get)
		events.GET("/:id/feedback", feedbackHandler.ListByEvent)

		organizerOrAdmin := middleware.RequireRoles(models.RoleOrganizer, models.RoleAdmin)
		events.POST("", middleware.JWT(authSvc), organizerOrAdmin, eventHandler.Create)
		events.PUT("/:id", middleware.JWT(authSvc), organizerOrAdmin, eventHandler.Update)
		events.DELETE("/:id", middleware.JWT(authSvc), organizerOrAdmin, eventHandler.Delete)
		events.POST("/:id/publish", middleware.JWT(authSvc), organizerOrAdmin, eventHandler.Publish)
		events.POST("/:id/complete", middleware.JWT(authSvc), organizerOrAdmin, eventHandler.Complete)
		events.POST("/:id/cancel", middleware.JWT(authSvc), organizerOrAdmin, eventHandler.Cancel)

		adminOnly := middleware.RequireRoles(models.RoleAdmin)
		events.POST("/:id/approve", middleware.JWT(authSvc), adminOnly, eventHandler.Approve)
		events.POST("/:id/reject", middleware.JWT(authSvc), adminOnly, eventHandler.Reject)

		events.POST("/:id/join", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleVolunteer), registrationHandler.Join)
		events.GET("/:id/registrations", middleware.JWT(authSvc), organizerOrAdmin, registrationHandler.ListByEvent)
	}

	registrations := api.Group("/registrations", middleware.JWT(authSvc))
	{
		registrations.GET("", registrationHandler.History)
		registrations.GET("/pending", middleware.RequireRoles(models.RoleOrganizer, models.RoleAdmin), registrationHandler.Pending)
		registrations.GET("/:id", registrationHandler.Get)
		registrations.DELETE("/:id", registrationHandler.Cancel)

		organizerOrAdmin := middleware.RequireRoles(models.RoleOrganizer, models.RoleAdmin)
		registrations.POST("/:id/approve", organizerOrAdmin, registrationHandler.Approve)
		registrations.POST("/:id/reject", organizerOrAdmin, registrationHandler.Reject)
		registrations.POST("/:id/remove", organizerOrAdmin, registrationHandler.Remove)

		registrations.POST("/:id/attendance", organizerOrAdmin, attendanceHandler.Mark)
		registrations.GET("/:id/attendance", attendanceHandler.List)
		registrations.GET("/:id/attendance/summary", attendanceHandler.Summary)

		registrations.POST("/:id/certificate", organizerOrAdmin, certificateHandler.Issue)
		registrations.GET("/:id/certificate", certificateHandler.Link)

		registrations.POST("/:id/feedback", middleware.RequireRoles(models.RoleVolunteer), feedbackHandler.Submit)
	}

	// Token-authenticated, no JWT: the signed token is the credential.
	api.GET("/certificates/download", certificateHandler.Download)

	feedback := api.Group("/feedback", middleware.JWT(authSvc))
	{
		feedback.PUT("/:id", feedbackHandler.Update)
		feedback.DELETE("/:id", feedbackHandler.Delete)
	}

	notifications := api.Group("/notifications", middleware.JWT(authSvc))
	{
		notifications.GET("", notificationHandler.List)
		notifications.POST("/:id/read", notificationHandler.MarkRead)
		notifications.POST("/read-all", notificationHandler.MarkAllRead)
	}

	admin := api.Group("/admin", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	{
		admin.GET("/metrics", metricsHandler.Snapshot)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
