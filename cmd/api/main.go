package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/medsolicita/case-api/internal/config"
	"github.com/medsolicita/case-api/internal/gateway/mercadopago"
	"github.com/medsolicita/case-api/internal/handler"
	authHandler "github.com/medsolicita/case-api/internal/handler/auth"
	caseflowHandler "github.com/medsolicita/case-api/internal/handler/caseflow"
	webhookHandler "github.com/medsolicita/case-api/internal/handler/webhook"
	"github.com/medsolicita/case-api/internal/middleware"
	"github.com/medsolicita/case-api/internal/model"
	"github.com/medsolicita/case-api/internal/repository/postgres"
	"github.com/medsolicita/case-api/internal/router"
	authService "github.com/medsolicita/case-api/internal/service/auth"
	"github.com/medsolicita/case-api/internal/service/caseflow"
	"github.com/medsolicita/case-api/internal/service/notification"
	pkgauth "github.com/medsolicita/case-api/pkg/auth"
	"github.com/medsolicita/case-api/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := model.RegisterValidators(v); err != nil {
			log.Fatal().Err(err).Msg("failed to register validators")
		}
	}

	// Repositories
	baseRepo := postgres.NewBaseRepository(db)
	userRepo := postgres.NewUserRepository(baseRepo)
	caseRepo := postgres.NewCaseRepository(baseRepo)
	docRepo := postgres.NewDocumentRepository(baseRepo)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)

	// Services
	jwtSvc := pkgauth.NewJWTService(cfg.JWT)
	authSvc := authService.NewService(userRepo, jwtSvc)
	notifier := notification.NewService(cfg.SMTP)
	gateway := mercadopago.NewClient(cfg.MercadoPago)
	caseflowSvc := caseflow.NewService(
		caseRepo,
		userRepo,
		docRepo,
		outboxRepo,
		gateway,
		notifier,
		cfg.Server.BaseURL,
		appLogger,
	)

	// Middleware and handlers
	authMiddleware := middleware.NewAuthMiddleware(authSvc)
	h := handler.NewHandler()
	authH := authHandler.NewHandler(authSvc)
	caseflowH := caseflowHandler.NewHandler(caseflowSvc)
	webhookH := webhookHandler.NewHandler(caseflowSvc, appLogger)

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.Server.CORSAllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Server.CORSAllowOrigins
	}

	r := router.NewRouter(
		authMiddleware,
		authH,
		caseflowH,
		webhookH,
		h,
		router.Config{
			RateLimit:     rate.Limit(cfg.Server.RateLimit),
			RateBurst:     cfg.Server.RateBurst,
			CORSConfig:    corsConfig,
			MetricsPrefix: cfg.Server.MetricsPrefix,
		},
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Server.Port).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
