package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xela07ax/modbridge/internal/audit"
	"github.com/xela07ax/modbridge/internal/hma"
	"github.com/xela07ax/modbridge/internal/host"
	"github.com/xela07ax/modbridge/internal/infra"
	"github.com/xela07ax/modbridge/internal/infra/auth"
	"github.com/xela07ax/modbridge/internal/pipeline"
	"github.com/xela07ax/modbridge/internal/repository/postgres"
	"github.com/xela07ax/modbridge/internal/review"
	"github.com/xela07ax/modbridge/internal/server"
	"github.com/xela07ax/modbridge/internal/server/handler"
	"github.com/xela07ax/modbridge/internal/server/service"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла фоновых горутин: cancel() остановит слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	repo, err := postgres.NewEventRepo(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer repo.Close()

	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := repo.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	if err := repo.InitSchema(appCtx); err != nil {
		logger.Fatal("schema init failed", zap.Error(err))
	}

	// Аудит-трейл: отдельное соединение, данные летят в базу пачками
	trailRepo, err := postgres.NewTrailRepo(cfg.Database.URL)
	if err != nil {
		logger.Fatal("audit storage init failed", zap.Error(err))
	}
	defer trailRepo.Close()

	trail := audit.NewTrail(trailRepo, logger, cfg.Audit.BufferSize, cfg.Audit.FlushInterval)
	trail.Start()

	// 3. Watchlist авторов (L1 RAM + Redis set + Pub/Sub)
	watchlist := pipeline.NewWatchlist(rdb, repo, cfg.Pipeline.WatchlistBlockThreshold, logger)
	if err := watchlist.Init(appCtx); err != nil {
		// Redis может быть недоступен на старте: работаем без watchlist-кэша
		logger.Warn("watchlist warm-up failed", zap.Error(err))
	}
	go watchlist.StartListener(appCtx)

	// 4. Метрики
	reg := prometheus.NewRegistry()
	metrics := pipeline.NewMetrics(reg)

	// 5. Шлюзы внешних систем
	engineClient := hma.NewClient(cfg.Engine.BaseURL, cfg.Engine.APIKey,
		cfg.Engine.MatchThreshold, cfg.Engine.Timeout, logger)
	// Оборачиваем в Reliability (Retries, Circuit Breaker, Rate Limit)
	safeEngine := hma.NewReliable(engineClient, hma.ReliabilitySettings{
		CallTimeout: cfg.Engine.Timeout,
		OnStateChange: func(_ string, _, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.CircuitBreakerState.Set(1)
			} else {
				metrics.CircuitBreakerState.Set(0)
			}
		},
	})

	reviewClient := review.NewClient(cfg.Review.BaseURL, cfg.Review.APIKey, cfg.Review.Timeout, logger)
	hostClient := host.NewClient(cfg.Host.BaseURL, cfg.Host.APIKey, cfg.Host.Timeout, logger)

	go func() {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		log.Fatal(http.ListenAndServe(":9090", nil))
	}()

	// Наполнение аудит-буфера как gauge (backpressure-сигнал)
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-appCtx.Done():
				return
			case <-ticker.C:
				metrics.AuditBufferFill.Set(float64(trail.BufferFill()))
			}
		}
	}()

	// 6. Ядро конвейера
	orchestrator := pipeline.NewOrchestrator(repo, safeEngine, reviewClient, watchlist,
		trail, metrics, logger, pipeline.Settings{
			EscalationThreshold:    cfg.Pipeline.EscalationThreshold,
			DegradeOnEngineFailure: cfg.Pipeline.DegradeOnEngineFailure,
			RequestTimeout:         cfg.Pipeline.RequestTimeout,
		})

	reconciler := pipeline.NewReconciler(repo, hostClient, watchlist, rdb, trail, metrics, logger)

	// 7. HTTP-поверхность
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key", zap.Error(err))
	}
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("auth private key", zap.Error(err))
	}

	validator := auth.NewBaseValidator(pubKey)
	authService := service.NewAuthService(repo, privKey, cfg.Auth.TokenTTL)

	srvHandler := server.NewBridgeServer(
		cfg,
		logger,
		validator,
		handler.NewAuthHandler(authService),
		handler.NewSubmissionHandler(orchestrator, logger),
		handler.NewCallbackHandler(reconciler, logger),
		handler.NewEventHandler(repo),
		handler.NewDashboardHandler(repo),
		handler.NewStatusHandler(engineClient, hostClient, repo),
		handler.NewWatchlistHandler(watchlist, logger),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srvHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("moderation bridge started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("moderation bridge stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Останавливаем слушателей и дописываем аудит-буфер
	cancel()
	trail.Stop()
}
