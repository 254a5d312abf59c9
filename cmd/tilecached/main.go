package main

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/handlers"
	"github.com/namsral/flag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	metrics "github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/akhenakh/tilecache/cache"
	"github.com/akhenakh/tilecache/fetch"
	"github.com/akhenakh/tilecache/loglevel"
	"github.com/akhenakh/tilecache/server"
)

const appName = "tilecached"

var (
	version = "no version from LDFLAGS"

	logLevel        = flag.String("logLevel", "INFO", "DEBUG|INFO|WARN|ERROR")
	httpMetricsPort = flag.Int("httpMetricsPort", 8088, "http port")
	httpAPIPort     = flag.Int("httpAPIPort", 8080, "http API port")
	healthPort      = flag.Int("healthPort", 6666, "grpc health port")
	tilesKey        = flag.String("tilesKey", "", "A key to protect your tiles access")
	allowOrigin     = flag.String("allowOrigin", "*", "Access-Control-Allow-Origin")

	cacheMaxSize    = flag.Int("cacheMaxSize", cache.DefaultMaxSize, "max cached tiles before eviction")
	cacheMaxAge     = flag.Duration("cacheMaxAge", cache.DefaultMaxAge, "age after which a cached tile is refetched")
	cacheEvictBatch = flag.Int("cacheEvictBatch", cache.DefaultEvictBatch, "tiles evicted below max size at once")

	fetchTimeout = flag.Duration("fetchTimeout", fetch.DefaultTimeout, "upstream tile fetch timeout")
	userAgent    = flag.String("userAgent", fetch.DefaultUserAgent, "User-Agent sent to tile servers")
	referer      = flag.String("referer", "", "Referer sent to tile servers")

	logProviderUse      = flag.Bool("logProviderUse", true, "log the first use of each tile provider")
	placeholderTiles    = flag.Bool("placeholderTiles", false, "serve a placeholder instead of 404 for unavailable tiles")
	prefetchConcurrency = flag.Int("prefetchConcurrency", 4, "concurrent loads per prefetch request")

	//go:embed static/*
	staticFS embed.FS

	httpServer        *http.Server
	grpcHealthServer  *grpc.Server
	httpMetricsServer *http.Server
)

func main() {
	flag.Parse()

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "caller", log.Caller(5), "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "app", appName)
	logger = loglevel.NewLevelFilterFromString(logger, *logLevel)

	stdlog.SetOutput(log.NewStdlibAdapter(logger))

	level.Info(logger).Log("msg", "Starting app", "version", version)

	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)

	// catch termination
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)

	fetcher := fetch.New(logger,
		fetch.WithTimeout(*fetchTimeout),
		fetch.WithUserAgent(*userAgent),
		fetch.WithReferer(*referer),
	)

	tileCache := cache.New(fetcher, logger,
		cache.WithMaxSize(*cacheMaxSize),
		cache.WithMaxAge(*cacheMaxAge),
		cache.WithEvictBatch(*cacheEvictBatch),
		cache.WithProviderLog(*logProviderUse),
	)
	defer tileCache.Close()

	prometheus.MustRegister(cache.NewCollector(tileCache, appName))

	// gRPC Health Server
	healthServer := health.NewServer()
	g.Go(func() error {
		grpcHealthServer = grpc.NewServer()

		healthpb.RegisterHealthServer(grpcHealthServer, healthServer)

		haddr := fmt.Sprintf(":%d", *healthPort)
		hln, err := net.Listen("tcp", haddr)
		if err != nil {
			level.Error(logger).Log("msg", "gRPC Health server: failed to listen", "error", err)
			os.Exit(2)
		}
		level.Info(logger).Log("msg", fmt.Sprintf("gRPC health server listening at %s", haddr))

		return grpcHealthServer.Serve(hln)
	})

	// server
	srv, err := server.New(appName, *tilesKey, staticFS, tileCache, logger, healthServer,
		server.WithPlaceholderTiles(*placeholderTiles),
		server.WithPrefetchConcurrency(*prefetchConcurrency),
	)
	if err != nil {
		level.Error(logger).Log("msg", "can't get a working server", "error", err)
		os.Exit(2)
	}

	// web server metrics
	g.Go(func() error {
		httpMetricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", *httpMetricsPort),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		level.Info(logger).Log("msg", fmt.Sprintf("HTTP Metrics server listening at :%d", *httpMetricsPort))

		versionGauge.WithLabelValues(version).Add(1)

		// Register Prometheus metrics handler.
		http.Handle("/metrics", promhttp.Handler())

		if err := httpMetricsServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}

		return nil
	})

	// web server
	g.Go(func() error {
		// metrics middleware.
		metricsMwr := middleware.New(middleware.Config{
			Recorder: metrics.NewRecorder(metrics.Config{Prefix: appName}),
		})

		r := srv.Router(func(handlerID string, h http.Handler) http.Handler {
			return std.Handler(handlerID, metricsMwr, h)
		})

		r.HandleFunc("/version", func(w http.ResponseWriter, request *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			m := map[string]interface{}{"version": version, "cache": tileCache.Stats()}
			b, _ := json.Marshal(m)
			w.Write(b)
		})

		// a tile may wait for a fetch and its fallback
		writeTimeout := 2*(*fetchTimeout) + 10*time.Second

		httpServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", *httpAPIPort),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: writeTimeout,
			Handler: handlers.CORS(
				handlers.AllowedOrigins([]string{*allowOrigin}),
				handlers.AllowedMethods([]string{"GET", "POST"}))(r),
		}
		level.Info(logger).Log("msg", fmt.Sprintf("HTTP API server listening at :%d", *httpAPIPort))

		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}

		return nil
	})

	healthServer.SetServingStatus(server.HealthServiceName(appName), healthpb.HealthCheckResponse_SERVING)
	level.Info(logger).Log("msg", "serving status to SERVING")

	select {
	case <-interrupt:
		cancel()

		break
	case <-ctx.Done():
		break
	}

	level.Warn(logger).Log("msg", "received shutdown signal")

	healthServer.SetServingStatus(server.HealthServiceName(appName), healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if httpMetricsServer != nil {
		_ = httpMetricsServer.Shutdown(shutdownCtx)
	}

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	if grpcHealthServer != nil {
		grpcHealthServer.GracefulStop()
	}

	err = g.Wait()
	if err != nil {
		level.Error(logger).Log("msg", "server returning an error", "error", err)
		os.Exit(2)
	}
}
