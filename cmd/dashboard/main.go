package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/xela07ax/promptguard-dashboard/internal/console/handler"
	"github.com/xela07ax/promptguard-dashboard/internal/console/server"
	"github.com/xela07ax/promptguard-dashboard/internal/engine"
	"github.com/xela07ax/promptguard-dashboard/internal/events"
	"github.com/xela07ax/promptguard-dashboard/internal/gateway"
	"github.com/xela07ax/promptguard-dashboard/internal/infra"
	"github.com/xela07ax/promptguard-dashboard/internal/review"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 2. Health и шлюз
	healthSrv := infra.NewHealth()
	gw := gateway.NewClient(gateway.Config{
		BaseURL:            cfg.Gateway.BaseURL,
		Timeout:            cfg.Gateway.Timeout,
		AnalyzeRPS:         cfg.Gateway.AnalyzeRPS,
		AnalyzeBurst:       cfg.Gateway.AnalyzeBurst,
		BreakerMaxRequests: cfg.Gateway.CBMaxRequests,
		BreakerInterval:    cfg.Gateway.CBInterval,
		BreakerTimeout:     cfg.Gateway.CBTimeout,
		BreakerFailures:    cfg.Gateway.CBFailures,
		OnBreakerChange: func(from, to gobreaker.State) {
			metrics.BreakerState.Set(float64(to))
			healthSrv.OnBreakerChange(from, to)
		},
	}, logger)

	// 3. События прогонов: Redis Pub/Sub или никуда
	var sink events.Sink = events.NopSink{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, run events will be retried on flush", zap.Error(err))
		}
		pingCancel()
		sink = events.NewRedisSink(rdb, infra.RedisChanRuns, logger)

		go events.Follow(appCtx, rdb, infra.RedisChanRuns, logger, func(ev events.RunEvent) {
			metrics.FleetRuns.WithLabelValues(ev.Source, ev.Result).Inc()
		})
	}
	recorder := events.NewRecorder(sink, cfg.Events.BufferSize, cfg.Events.FlushInterval, logger)
	recorder.Start()

	// 4. Ядро оркестратора
	agg := engine.NewAggregator(metrics)
	board := engine.NewBoard(agg,
		engine.WithLogCapacity(cfg.Engine.LogSize),
		engine.WithHistorySize(cfg.Engine.HistorySize),
	)
	seq := engine.NewSequencer(board, cfg.Engine.LayerDelay, metrics, recorder, logger)
	dispatcher := engine.NewDispatcher(gw, board, seq, logger)

	reviewQueue := review.NewQueue(cfg.Engine.ReviewBacklog, logger)
	poller := engine.NewPoller(gw, board, seq, cfg.Engine.PollInterval, metrics, logger)
	poller.OnFresh(reviewQueue.Add)

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		poller.Run(appCtx)
	}()

	// 5. HTTP API консоли
	console := server.NewConsoleServer(logger, reg,
		handler.NewDashboardHandler(board, dispatcher, logger),
		handler.NewReviewHandler(reviewQueue),
	)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      console,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 6. gRPC health (опционально)
	var grpcSrv *grpc.Server
	if cfg.GRPC.HealthPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.HealthPort))
		if err != nil {
			logger.Fatal("failed to listen gRPC", zap.Error(err))
		}
		grpcSrv = grpc.NewServer()
		healthSrv.Register(grpcSrv)
		go func() {
			logger.Info("gRPC health started", zap.String("addr", lis.Addr().String()))
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("gRPC health stopped", zap.Error(err))
			}
		}()
	}

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("dashboard started",
			zap.String("addr", srv.Addr),
			zap.String("gateway", cfg.Gateway.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("dashboard stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Останавливаем опрос и ждем текущий прогон, затем сливаем события
	cancel()
	<-pollDone
	recorder.Stop()

	healthSrv.Shutdown()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	logger.Info("dashboard exited properly")
}
