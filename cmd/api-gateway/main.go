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
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/cohort-recruitment-api/api/swagger"
	"github.com/noah-isme/cohort-recruitment-api/internal/handler"
	"github.com/noah-isme/cohort-recruitment-api/internal/middleware"
	"github.com/noah-isme/cohort-recruitment-api/internal/models"
	"github.com/noah-isme/cohort-recruitment-api/internal/repository"
	"github.com/noah-isme/cohort-recruitment-api/internal/service"
	"github.com/noah-isme/cohort-recruitment-api/pkg/cache"
	"github.com/noah-isme/cohort-recruitment-api/pkg/config"
	"github.com/noah-isme/cohort-recruitment-api/pkg/database"
	"github.com/noah-isme/cohort-recruitment-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/cohort-recruitment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/cohort-recruitment-api/pkg/middleware/requestid"
)

// @title Cohort Recruitment API
// @version 0.1.0
// @description Recruitment windows, cohorts and kit shipping for research studies
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type stores struct {
	studies interface {
		FindByStudyID(ctx context.Context, studyID string) (*models.StudyRecruitmentState, error)
		Insert(ctx context.Context, state *models.StudyRecruitmentState) (bool, error)
		Save(ctx context.Context, state *models.StudyRecruitmentState) error
		List(ctx context.Context, filter models.StudyFilter) ([]models.StudyRecruitmentState, int, error)
		ListExpiredWindows(ctx context.Context, now time.Time) ([]string, error)
	}
	shipping interface {
		InsertMany(ctx context.Context, records []models.ParticipantShipping) error
		FindByParticipantID(ctx context.Context, participantID string) (*models.ParticipantShipping, error)
		Update(ctx context.Context, record *models.ParticipantShipping) error
		ListByCohort(ctx context.Context, cohortID string) ([]models.ParticipantShipping, error)
	}
	operators interface {
		FindByEmail(ctx context.Context, email string) (*models.Operator, error)
		Create(ctx context.Context, operator *models.Operator) error
		UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	}
	locker interface {
		WithStudyLock(ctx context.Context, studyID string, fn func(ctx context.Context) error) error
	}
}

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]handler.ReadinessCheck{}

	var db *sqlx.DB
	var st stores
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		st.studies = repository.NewMemoryStudyRepository()
		st.shipping = repository.NewMemoryShippingRepository()
		st.operators = repository.NewMemoryOperatorRepository()
		st.locker = repository.NewKeyedLocker()
		logr.Warn("using in-memory store; state is lost on restart")
	default:
		db, err = database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			logr.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer db.Close()
		st.studies = repository.NewStudyRepository(db)
		st.shipping = repository.NewShippingRepository(db)
		st.operators = repository.NewOperatorRepository(db)
		st.locker = repository.NewStudyLocker(db)
		checks["postgres"] = db.PingContext
	}

	metricsSvc := service.NewMetricsService()

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, study view cache disabled", zap.Error(err))
			redisClient = nil
		} else {
			checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		}
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.StudyTTL, logr, cfg.Cache.Enabled && redisClient != nil)

	validate := validator.New()

	authSvc := service.NewAuthService(st.operators, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	if cfg.Bootstrap.AdminEmail != "" {
		if _, err := authSvc.EnsureOperator(ctx, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword, "Administrator", models.RoleAdmin); err != nil {
			logr.Fatal("failed to provision bootstrap admin", zap.Error(err))
		}
	}

	recruitmentSvc := service.NewRecruitmentService(
		st.studies,
		st.shipping,
		st.locker,
		service.NewCohortFactory(nil),
		cacheSvc,
		metricsSvc,
		validate,
		logr,
		service.RecruitmentConfig{
			DefaultWindowDuration: cfg.Recruitment.WindowDuration,
			ViewCacheTTL:          cfg.Cache.StudyTTL,
		},
	)
	manifestSvc := service.NewManifestService(recruitmentSvc, nil)

	if cfg.Sweeper.Enabled {
		sweeper := service.NewWindowSweeper(st.studies, recruitmentSvc, service.SweeperConfig{
			Interval:   cfg.Sweeper.Interval,
			Workers:    cfg.Sweeper.Workers,
			MaxRetries: cfg.Sweeper.MaxRetries,
		}, logr)
		go sweeper.Run(ctx)
		logr.Info("window sweeper enabled", zap.Duration("interval", cfg.Sweeper.Interval))
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	handler.RegisterRoutes(r, cfg.APIPrefix, authSvc, handler.Handlers{
		Auth:      handler.NewAuthHandler(authSvc),
		Studies:   handler.NewStudyHandler(recruitmentSvc, logr),
		Shipments: handler.NewShipmentHandler(recruitmentSvc, manifestSvc),
		Metrics:   handler.NewMetricsHandler(metricsSvc, checks),
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
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
