package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/sister-kampus/sister-api/api/swagger"
	"github.com/sister-kampus/sister-api/internal/handler"
	internalmiddleware "github.com/sister-kampus/sister-api/internal/middleware"
	"github.com/sister-kampus/sister-api/internal/repository"
	"github.com/sister-kampus/sister-api/internal/service"
	"github.com/sister-kampus/sister-api/pkg/cache"
	"github.com/sister-kampus/sister-api/pkg/config"
	"github.com/sister-kampus/sister-api/pkg/database"
	"github.com/sister-kampus/sister-api/pkg/logger"
	corsmiddleware "github.com/sister-kampus/sister-api/pkg/middleware/cors"
	reqidmiddleware "github.com/sister-kampus/sister-api/pkg/middleware/requestid"
	"github.com/sister-kampus/sister-api/pkg/storage"
)

// @title Sister Kampus API
// @version 1.0.0
// @description Academic portal: KRS registration, validation, grading and transcripts
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
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, continuing without cache", "error", err)
		redisClient = nil
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)
	termRepo := repository.NewTermRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	notificationSvc := service.NewNotificationService(cfg.Notifications, logr)

	authSvc := service.NewAuthService(userRepo, studentRepo, validate, logr, service.AuthConfig{
		Secret:             cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "sister-api",
	})
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, termRepo, cacheRepo, metricsSvc, cfg.KRS, validate, logr)
	validationSvc := service.NewValidationService(enrollmentRepo, cacheRepo, notificationSvc, cfg.KRS, logr)
	transcriptSvc := service.NewTranscriptService(enrollmentRepo, cacheRepo, cfg.GPA, logr)
	gradeSvc := service.NewGradeService(enrollmentRepo, termRepo, cacheRepo, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, termRepo, validate, logr)
	scheduleSvc := service.NewScheduleService(scheduleRepo, courseRepo, validate, logr)
	termSvc := service.NewTermService(termRepo, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, userRepo, validate, logr)

	archive, err := storage.NewArchive(cfg.Export.Dir)
	if err != nil {
		logr.Sugar().Warnw("document archive unavailable, exports will not be retained", "error", err)
		archive = nil
	}
	var signer *storage.ShareSigner
	if archive != nil {
		signer = storage.NewShareSigner(cfg.JWT.Secret, cfg.Export.ShareTTL)
	}
	exportSvc := service.NewExportService(enrollmentRepo, studentRepo, archive, signer, logr)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notificationSvc.Start(rootCtx)
	defer notificationSvc.Stop()

	if archive != nil {
		go sweepArchive(rootCtx, archive, cfg.Export.ShareTTL, logr)
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r, cfg.APIPrefix, handler.Handlers{
		Auth:       handler.NewAuthHandler(authSvc),
		Enrollment: handler.NewEnrollmentHandler(enrollmentSvc, validationSvc, gradeSvc, exportSvc),
		Transcript: handler.NewTranscriptHandler(transcriptSvc, exportSvc),
		Course:     handler.NewCourseHandler(courseSvc),
		Schedule:   handler.NewScheduleHandler(scheduleSvc),
		Term:       handler.NewTermHandler(termSvc),
		Student:    handler.NewStudentHandler(studentSvc),
		Document:   handler.NewDocumentHandler(exportSvc),
	}, authSvc, metricsSvc, userRepo)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

// sweepArchive removes archived documents whose share links can no
// longer be valid.
func sweepArchive(ctx context.Context, archive *storage.Archive, retention time.Duration, logr *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := archive.Sweep(retention)
			if err != nil {
				logr.Sugar().Warnw("archive sweep failed", "error", err)
				continue
			}
			if len(deleted) > 0 {
				logr.Sugar().Infow("archive swept", "deleted", len(deleted))
			}
		}
	}
}
