package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v6"
	glog "github.com/Laisky/go-utils/v5/log"
	"github.com/Laisky/zap"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridianhq/ai-gateway/authz"
	"github.com/meridianhq/ai-gateway/cache"
	"github.com/meridianhq/ai-gateway/common/client"
	"github.com/meridianhq/ai-gateway/common/config"
	"github.com/meridianhq/ai-gateway/common/graceful"
	"github.com/meridianhq/ai-gateway/common/logger"
	"github.com/meridianhq/ai-gateway/limiter"
	"github.com/meridianhq/ai-gateway/logsink"
	"github.com/meridianhq/ai-gateway/middleware"
	"github.com/meridianhq/ai-gateway/relay/dispatcher"
	"github.com/meridianhq/ai-gateway/relay/keystore"
	"github.com/meridianhq/ai-gateway/relay/mapper"
	"github.com/meridianhq/ai-gateway/relay/metrics"
	"github.com/meridianhq/ai-gateway/relay/router"
)

var (
	configPath = flag.String("config", "", "path to the YAML config file")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Logger.Fatal("load config", zap.Error(err))
	}
	logger.Setup(cfg.Debug)
	logger.Logger.Info("ai-gateway starting",
		zap.String("deployment_target", string(cfg.DeploymentTarget)))

	if os.Getenv("GIN_MODE") != gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	// Shared process state.
	registry := metrics.NewRegistry(cfg.Monitor.RollingWindow)
	keys := keystore.FromConfig(cfg.Providers)
	oracle := authz.NewStaticOracle(cfg.Auth.Keys)
	requestMapper := mapper.New(cfg.Providers, cfg.DefaultModelMapping)

	var cacheBytes int64
	if cfg.Global.Cache != nil {
		cacheBytes = cfg.Global.Cache.MaxSizeBytes
	}
	buckets := cache.NewBuckets(cache.NewMemoryStore(cacheBytes))

	resolve := buildStoreResolver()

	opts := &dispatcher.Options{
		Dispatcher:   cfg.Dispatcher,
		Providers:    cfg.Providers,
		Mapper:       requestMapper,
		Metrics:      registry,
		LogWorker:    logsink.NewWorker(logsink.ZapSink{}, 0),
		Client:       client.New(cfg.Dispatcher.ConnectionTimeout, cfg.Dispatcher.Timeout),
		StreamClient: client.New(cfg.Dispatcher.ConnectionTimeout, 0),
	}

	meta, err := router.NewMetaRouter(cfg, opts, keys, oracle, buckets, resolve, registry)
	if err != nil {
		logger.Logger.Fatal("build meta router", zap.Error(err))
	}

	monitorCtx, stopMonitors := context.WithCancel(context.Background())
	meta.StartMonitors(monitorCtx)

	logLevel := glog.LevelInfo
	if cfg.Debug {
		logLevel = glog.LevelDebug
	}

	engine := gin.New()
	engine.RedirectTrailingSlash = false
	engine.Use(
		middleware.RelayPanicRecover(),
		gmw.NewLoggerMiddleware(
			gmw.WithLoggerMwColored(),
			gmw.WithLevel(logLevel.String()),
			gmw.WithLogger(logger.Logger.Named("gin")),
		),
		cors.Default(),
		middleware.RequestId(),
		middleware.Tracing(cfg.Telemetry.Propagate),
		graceful.GinRequestTracker(),
	)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	meta.Register(engine)

	addr := cfg.Server.Address + ":" + strconv.Itoa(cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: engine}

	go func() {
		var err error
		if cfg.Server.TLS != nil {
			err = server.ListenAndServeTLS(cfg.Server.TLS.Cert, cfg.Server.TLS.Key)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal("http server", zap.Error(err))
		}
	}()
	logger.Logger.Info("server started", zap.String("address", addr))

	// Block until a shutdown signal, then drain.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Logger.Info("shutting down",
		zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	graceful.SetDraining()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error("server shutdown", zap.Error(err))
	}
	if err := graceful.Drain(shutdownCtx); err != nil {
		logger.Logger.Error("drain", zap.Error(err))
	}
	stopMonitors()
	logger.Logger.Info("shutdown complete")
	// Give the monitors a beat to observe cancellation before exit.
	time.Sleep(50 * time.Millisecond)
}

// buildStoreResolver shares limiter state between every layer that names
// the same backend: one in-process memory store, one Redis client per URL.
func buildStoreResolver() middleware.StoreResolver {
	memory := limiter.NewMemoryStore()
	var mu sync.Mutex
	redisStores := make(map[string]limiter.Store)

	return func(cfg *config.RateLimitConfig) limiter.Store {
		switch cfg.Store {
		case "redis":
			mu.Lock()
			defer mu.Unlock()
			if s, ok := redisStores[cfg.RedisURL]; ok {
				return s
			}
			s, err := limiter.NewRedisStoreFromURL(cfg.RedisURL)
			if err != nil {
				logger.Logger.Error("redis rate-limit store unavailable, falling back to memory",
					zap.Error(err))
				redisStores[cfg.RedisURL] = memory
				return memory
			}
			redisStores[cfg.RedisURL] = s
			return s
		case "disabled":
			return limiter.Disabled{}
		default:
			return memory
		}
	}
}
