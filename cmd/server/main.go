// Command server runs the self-care verification API. main wires the
// stores, collaborators, and HTTP surface; business logic lives in the
// internal service packages.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"selfcare/internal/audit"
	"selfcare/internal/heatmeter/handler"
	heatmetrics "selfcare/internal/heatmeter/metrics"
	"selfcare/internal/heatmeter/service"
	attemptstore "selfcare/internal/heatmeter/store/attempt"
	claimstore "selfcare/internal/heatmeter/store/claim"
	"selfcare/internal/jwtauth"
	"selfcare/internal/ocr"
	"selfcare/internal/platform/config"
	"selfcare/internal/platform/database"
	"selfcare/internal/platform/httpserver"
	"selfcare/internal/platform/logger"
	"selfcare/internal/platform/metrics"
	platformredis "selfcare/internal/platform/redis"
	"selfcare/internal/ratelimit"
	"selfcare/internal/sms"
	"selfcare/internal/storage"
)

const (
	jwtIssuer   = "selfcare"
	jwtAudience = "selfcare-portal"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		claims   service.ClaimStore
		attempts service.AttemptStore
		auditSto audit.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		claims = claimstore.NewPostgres(db)
		attempts = attemptstore.NewPostgres(db)
		auditSto = audit.NewPostgres(db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		claims = claimstore.NewInMemory()
		attempts = attemptstore.NewInMemory()
		auditSto = audit.NewInMemoryStore()
	}

	var limiter ratelimit.Limiter = ratelimit.NewInMemory()
	if cfg.RedisURL != "" {
		rdb, err := platformredis.New(ctx, cfg.RedisURL)
		if err != nil {
			log.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		limiter = ratelimit.NewRedis(rdb)
	}

	files, err := storage.NewLocal(cfg.UploadDir)
	if err != nil {
		log.Error("upload directory unavailable", "error", err)
		os.Exit(1)
	}

	var sender sms.Sender
	if cfg.SMSGatewayURL != "" {
		gwCfg := sms.DefaultGatewayConfig()
		gwCfg.URL = cfg.SMSGatewayURL
		gwCfg.APIKey = cfg.SMSAPIKey
		gwCfg.Sender = cfg.SMSSender
		sender = sms.NewGateway(gwCfg, log)
	} else {
		log.Warn("SMS_GATEWAY_URL not set, codes will be logged instead of delivered")
		sender = sms.NewLogSender(log)
	}

	var extractor ocr.Extractor = ocr.Disabled{}
	if cfg.OCRServiceURL != "" {
		extractor = ocr.NewRecognizer(cfg.OCRServiceURL, files, cfg.OCRTimeout)
	} else {
		log.Warn("OCR_SERVICE_URL not set, all invoice uploads go to manual review")
	}

	svc := service.New(claims, attempts, sender, extractor, files,
		service.WithLogger(log),
		service.WithAuditPublisher(audit.NewPublisher(auditSto, log)),
		service.WithMetrics(heatmetrics.New()),
	)

	jwtService := jwtauth.New(cfg.JWTSigningKey, jwtIssuer, jwtAudience)
	throttle := ratelimit.Middleware(limiter, cfg.RateLimit, cfg.RateLimitWindow, log)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	handler.New(svc, log, jwtService, cfg.AdminToken, handler.WithThrottle(throttle)).Register(router)

	apiServer := httpserver.New(cfg.Addr, router)
	metricsServer := metrics.NewServer(cfg.MetricsAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting selfcare API", "addr", cfg.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("starting metrics listener", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error("api shutdown failed", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}
