package server

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	log "github.com/go-kit/log"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/akhenakh/tilecache/cache"
	"github.com/akhenakh/tilecache/provider"
	"github.com/akhenakh/tilecache/tile"
)

const (
	defaultPrefetchConcurrency = 4
	maxPrefetchRadius          = 3
)

// TileCache is the tile source used by the Server.
type TileCache interface {
	LoadTile(ctx context.Context, mode provider.Mode, x, y, z int) (*cache.Tile, error)
	LoadSatelliteWithLabels(ctx context.Context, x, y, z int) (cache.Hybrid, error)
	Prefetch(ctx context.Context, mode provider.Mode, coords []tile.Coord, concurrency int) int
	Attribution(mode provider.Mode) string
	Stats() cache.Stats
	Clear()
}

// Server exposes the tile cache over HTTP.
type Server struct {
	appName      string
	tilesKey     string
	tiles        TileCache
	logger       log.Logger
	healthServer *health.Server

	templates   *template.Template
	fileHandler http.Handler

	placeholder         bool
	prefetchConcurrency int
}

// Option configures a Server.
type Option func(*Server)

// WithPlaceholderTiles serves a generated tile instead of a 404 when a tile is unavailable.
func WithPlaceholderTiles(enabled bool) Option {
	return func(s *Server) { s.placeholder = enabled }
}

// WithPrefetchConcurrency bounds the number of concurrent loads of a prefetch request.
func WithPrefetchConcurrency(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.prefetchConcurrency = n
		}
	}
}

// New returns a Server, staticFS must contain a static/ directory.
func New(appName, tilesKey string, staticFS fs.FS, tiles TileCache,
	logger log.Logger, healthServer *health.Server, opts ...Option) (*Server, error) {
	logger = log.With(logger, "component", "server")

	templates, err := template.ParseFS(staticFS, "static/*.html")
	if err != nil {
		return nil, fmt.Errorf("can't parse templates: %w", err)
	}

	s := &Server{
		appName:             appName,
		tilesKey:            tilesKey,
		tiles:               tiles,
		logger:              logger,
		healthServer:        healthServer,
		templates:           templates,
		fileHandler:         http.FileServer(http.FS(staticFS)),
		prefetchConcurrency: defaultPrefetchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// HealthServiceName is the service name reported by the gRPC health server.
func HealthServiceName(appName string) string {
	return fmt.Sprintf("grpc.health.v1.%s", appName)
}

// HealthHandler answers 200 while the health server reports SERVING.
func (s *Server) HealthHandler(w http.ResponseWriter, req *http.Request) {
	resp, err := s.healthServer.Check(req.Context(), &healthpb.HealthCheckRequest{
		Service: HealthServiceName(s.appName),
	})
	if err != nil || resp.Status != healthpb.HealthCheckResponse_SERVING {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)

		return
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) authorized(req *http.Request) bool {
	if s.tilesKey == "" {
		return true
	}

	return req.URL.Query().Get("key") == s.tilesKey
}
