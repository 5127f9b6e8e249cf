package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"runbox/internal/relay/handler"
	"runbox/internal/relay/middleware"
	"runbox/internal/relay/repository"
	"runbox/internal/relay/service"
	"runbox/internal/remote"
	"runbox/internal/remote/discovery"
	"runbox/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/relay.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	var endpointStore discovery.Store
	if appCfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     appCfg.Redis.Addr,
			Password: appCfg.Redis.Password,
			DB:       appCfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Error(context.Background(), "init redis failed", zap.Error(err))
			return
		}
		defer func() {
			_ = redisClient.Close()
		}()
		endpointStore = repository.NewRedisEndpointCache(redisClient)
	}

	// A typed nil must not reach the service, it checks for interface nil.
	var history service.History
	if appCfg.Database.DSN != "" {
		historyRepo, err := repository.NewHistoryRepository(appCfg.Database.DSN)
		if err != nil {
			logger.Error(context.Background(), "init database failed", zap.Error(err))
			return
		}
		defer func() {
			_ = historyRepo.Close()
		}()
		history = historyRepo
	}

	client, err := remote.New(remote.Config{
		BaseURL:     appCfg.Upstream.BaseURL,
		Timeout:     appCfg.Upstream.Timeout,
		EndpointTTL: appCfg.Upstream.EndpointTTL,
		Store:       endpointStore,
	})
	if err != nil {
		logger.Error(context.Background(), "init execution client failed", zap.Error(err))
		return
	}

	relaySvc := service.NewRelayService(client, history, service.Config{
		MaxConcurrent: appCfg.Limits.MaxConcurrent,
		AdmissionWait: appCfg.Limits.AdmissionWait,
	})

	httpServer := buildHTTPServer(appCfg, relaySvc)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "relay http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	if n := relaySvc.CancelActive(); n > 0 {
		logger.Info(context.Background(), "aborted in-flight runs", zap.Int("count", n))
	}
}

func buildHTTPServer(cfg *AppConfig, relaySvc *service.RelayService) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceContextMiddleware())
	router.Use(requestLogger())
	router.Use(middleware.CORSMiddleware(cfg.CORS.AllowedOrigins))

	relayController := handler.NewRelayController(relaySvc)
	router.GET("/healthz", relayController.Health)

	authCfg := cfg.Auth.toMiddlewareConfig()
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(authCfg))
	api.POST("/run", relayController.Run)
	api.GET("/languages", relayController.Languages)
	api.GET("/executions", relayController.History)

	admin := router.Group("/api/v1")
	admin.Use(middleware.AuthMiddleware(authCfg, "admin"))
	admin.POST("/cancel", relayController.Cancel)

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		log := logger.Info
		if c.Writer.Status() >= http.StatusInternalServerError {
			log = logger.Warn
		}
		log(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
