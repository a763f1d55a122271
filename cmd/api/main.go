package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/mentorloop/lms-api/api/swagger"
	"github.com/mentorloop/lms-api/internal/handler"
	"github.com/mentorloop/lms-api/internal/middleware"
	"github.com/mentorloop/lms-api/internal/models"
	"github.com/mentorloop/lms-api/internal/repository"
	"github.com/mentorloop/lms-api/internal/service"
	"github.com/mentorloop/lms-api/pkg/cache"
	"github.com/mentorloop/lms-api/pkg/config"
	"github.com/mentorloop/lms-api/pkg/database"
	"github.com/mentorloop/lms-api/pkg/export"
	"github.com/mentorloop/lms-api/pkg/jobs"
	"github.com/mentorloop/lms-api/pkg/logger"
	corsmiddleware "github.com/mentorloop/lms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/mentorloop/lms-api/pkg/middleware/requestid"
	"github.com/mentorloop/lms-api/pkg/storage"
)

// @title LMS API
// @version 1.0.0
// @description Learning management backend: courses, sequential chapter progress and completion certificates
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, progress cache disabled", "error", err)
			redisClient = nil
		}
	}

	artifacts, err := storage.NewLocalStorage(cfg.Certificates.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare certificate storage", "error", err)
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	progressRepo := repository.NewProgressRepository(db)
	certificateRepo := repository.NewCertificateRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	signer := storage.NewSignedURLSigner(cfg.Certificates.SignedURLSecret, cfg.Certificates.SignedURLTTL)
	renderer := export.NewCertificateRenderer()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, export.NewCSVExporter(), validate, logr)
	courseSvc := service.NewCourseService(courseRepo, enrollmentRepo, userRepo, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courseRepo, userRepo, metricsSvc, logr)
	certificateSvc := service.NewCertificateService(certificateRepo, courseRepo, progressRepo, enrollmentRepo, userRepo, artifacts, renderer, signer, metricsSvc, logr)
	progressSvc := service.NewProgressService(progressRepo, courseRepo, enrollmentRepo, cacheRepo, certificateSvc, metricsSvc, cfg.Progress.CacheTTL, logr)

	renderQueue := jobs.NewQueue("certificate-render", certificateSvc.HandleRenderJob, jobs.QueueConfig{
		Workers:    cfg.Certificates.RenderWorkers,
		MaxRetries: cfg.Certificates.RenderRetries,
		Logger:     logr,
	})
	renderQueue.Start(context.Background())
	defer renderQueue.Stop()
	certificateSvc.SetQueue(renderQueue)

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	progressHandler := handler.NewProgressHandler(progressSvc)
	certificateHandler := handler.NewCertificateHandler(certificateSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
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
		auth.POST("/register", middleware.Audit(userRepo, models.AuditActionRegister, "auth"), authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	users := api.Group("/users", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	{
		users.GET("", userHandler.List)
		users.GET("/export", userHandler.ExportCSV)
		users.GET("/:id", userHandler.Get)
		users.POST("/:id/approve-mentor", userHandler.ApproveMentor)
		users.DELETE("/:id", userHandler.Delete)
	}

	courses := api.Group("/courses", middleware.JWT(authSvc))
	{
		courses.GET("", middleware.RequireRoles(models.RoleAdmin), courseHandler.List)
		courses.GET("/my", courseHandler.ListMine)
		courses.GET("/:id", courseHandler.Get)
		courses.GET("/:id/chapters", courseHandler.ListChapters)

		mentorOnly := middleware.RequireRoles(models.RoleMentor)
		courses.POST("", mentorOnly, courseHandler.Create)
		courses.PUT("/:id", mentorOnly, courseHandler.Update)
		courses.DELETE("/:id", mentorOnly, courseHandler.Delete)
		courses.POST("/:id/chapters", mentorOnly, courseHandler.AddChapter)
		courses.POST("/:id/assign", mentorOnly, enrollmentHandler.Assign)
		courses.GET("/:id/assignments", mentorOnly, enrollmentHandler.Roster)
	}

	progress := api.Group("/progress", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleStudent))
	{
		progress.POST("/:chapterId/complete", progressHandler.CompleteChapter)
		progress.GET("/my", progressHandler.MyProgress)
		progress.GET("/courses/:courseId", progressHandler.CourseProgress)
	}

	certificates := api.Group("/certificates")
	{
		certificates.GET("/download", certificateHandler.DownloadSigned)
		certificates.GET("/verify/:certificateId", certificateHandler.Verify)

		studentOnly := certificates.Group("", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleStudent))
		studentOnly.GET("/:courseId", certificateHandler.Download)
		studentOnly.POST("/:courseId/link", certificateHandler.SignedLink)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
