package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	log "github.com/go-kit/log"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/akhenakh/tilecache/cache"
	"github.com/akhenakh/tilecache/fetch"
	"github.com/akhenakh/tilecache/provider"
)

const testApp = "tilecached-test"

// rewriteTransport sends every request to target, keeping the path.
type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	r.Host = rt.target.Host

	return http.DefaultTransport.RoundTrip(r)
}

// upstream fakes the public tile servers.
type upstream struct {
	mu      sync.Mutex
	failAll bool
	hits    int
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.hits++
	fail := u.failAll
	u.mu.Unlock()

	if fail {
		http.NotFound(w, r)

		return
	}

	c := color.RGBA{R: 200, G: 220, B: 255, A: 255}
	if strings.Contains(r.URL.Path, "/World_Boundaries_and_Places/") {
		c = color.RGBA{A: 0}
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(encodePNG(c))
}

func (u *upstream) fail() {
	u.mu.Lock()
	u.failAll = true
	u.mu.Unlock()
}

func (u *upstream) Hits() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.hits
}

func encodePNG(c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	_ = png.Encode(&buf, img)

	return buf.Bytes()
}

type testEnv struct {
	handler  http.Handler
	cache    *cache.Cache
	upstream *upstream
	health   *health.Server
}

func setup(t *testing.T, tilesKey string, opts ...Option) *testEnv {
	up := &upstream{}
	ts := httptest.NewServer(up)
	t.Cleanup(ts.Close)

	target, err := url.Parse(ts.URL)
	require.NoError(t, err)

	logger := log.NewNopLogger()
	fetcher := fetch.New(logger, fetch.WithClient(&http.Client{Transport: rewriteTransport{target: target}}))

	c := cache.New(fetcher, logger)
	t.Cleanup(c.Close)

	staticFS := fstest.MapFS{
		"static/index.html": {Data: []byte(`<html><script>var base = {{.TilesBaseURL}}; var a = {{.Attributions}};</script></html>`)},
		"static/app.css":    {Data: []byte(`body { margin: 0; }`)},
	}

	hs := health.NewServer()
	hs.SetServingStatus(HealthServiceName(testApp), healthpb.HealthCheckResponse_SERVING)

	s, err := New(testApp, tilesKey, staticFS, c, logger, hs, opts...)
	require.NoError(t, err)

	return &testEnv{
		handler:  s.Router(nil),
		cache:    c,
		upstream: up,
		health:   hs,
	}
}

func (e *testEnv) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	return rec
}

func TestServer_Tiles(t *testing.T) {
	env := setup(t, "")

	tests := []struct {
		name         string
		path         string
		wantStatus   int
		wantProvider string
	}{
		{"standard", "/tiles/standard/5/10/20.png", http.StatusOK, "osm-standard"},
		{"satellite", "/tiles/satellite/5/10/20.png", http.StatusOK, "esri-satellite"},
		{"dark", "/tiles/dark/5/10/20.png", http.StatusOK, "cartodb-dark"},
		{"unknown mode", "/tiles/terrain/5/10/20.png", http.StatusOK, "osm-standard"},
		{"out of range", "/tiles/standard/1/5/0.png", http.StatusBadRequest, ""},
		{"not a tile", "/tiles/standard/1/a/0.png", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path)
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
			require.Equal(t, tt.wantProvider, rec.Header().Get("X-Tile-Provider"))
			require.NotEmpty(t, rec.Header().Get("Cache-Control"))
			require.NotEmpty(t, rec.Header().Get(requestIDHeader))

			_, err := png.Decode(rec.Body)
			require.NoError(t, err)
		})
	}

	// standard and unknown share the same entry
	require.Equal(t, 3, env.upstream.Hits())
	require.Equal(t, 3, env.cache.Stats().Size)
}

func TestServer_TileUnavailable(t *testing.T) {
	env := setup(t, "")
	env.upstream.fail()

	rec := env.do(t, http.MethodGet, "/tiles/dark/5/10/20.png")
	require.Equal(t, http.StatusNotFound, rec.Code)

	// the dark provider then the fallback
	require.Equal(t, 2, env.upstream.Hits())

	placeholderEnv := setup(t, "", WithPlaceholderTiles(true))
	placeholderEnv.upstream.fail()

	rec = placeholderEnv.do(t, http.MethodGet, "/tiles/standard/5/10/20.png")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	require.Equal(t, tileSize, img.Bounds().Dx())
}

func TestServer_Hybrid(t *testing.T) {
	env := setup(t, "")

	rec := env.do(t, http.MethodGet, "/tiles/hybrid/5/10/20.png")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Equal(t, "esri-satellite", rec.Header().Get("X-Tile-Provider"))

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	require.Equal(t, 8, img.Bounds().Dx())

	// transparent labels leave the base untouched
	r, g, b, _ := img.At(3, 3).RGBA()
	require.Equal(t, uint32(200), r>>8)
	require.Equal(t, uint32(220), g>>8)
	require.Equal(t, uint32(255), b>>8)

	require.Equal(t, 2, env.upstream.Hits())
}

func TestServer_TilesKey(t *testing.T) {
	env := setup(t, "secret")

	require.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/tiles/standard/1/0/0.png").Code)
	require.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/tiles/hybrid/1/0/0.png").Code)
	require.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/cache/clear").Code)
	require.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/").Code)
	require.Equal(t, 0, env.upstream.Hits())

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/tiles/standard/1/0/0.png?key=secret").Code)
}

func TestServer_Attribution(t *testing.T) {
	env := setup(t, "")

	rec := env.do(t, http.MethodGet, "/attribution/satellite")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, "satellite", got["mode"])
	require.Equal(t, "esri-satellite", got["provider"])
	require.Equal(t, provider.Lookup(provider.EsriSatellite).Attribution, got["attribution"])

	rec = env.do(t, http.MethodGet, "/attribution/whatever")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, "standard", got["mode"])
	require.Equal(t, "osm-standard", got["provider"])
}

func TestServer_Providers(t *testing.T) {
	env := setup(t, "")

	rec := env.do(t, http.MethodGet, "/providers")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []providerInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 5)
	require.Equal(t, "esri-labels", got[4].ID)
}

func TestServer_StatsPrefetchClear(t *testing.T) {
	env := setup(t, "")

	rec := env.do(t, http.MethodPost, "/prefetch?mode=dark&lat=21.315603&lng=-157.858093&zoom=11&radius=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var pf struct {
		Mode      string `json:"mode"`
		Requested int    `json:"requested"`
		Loaded    int    `json:"loaded"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pf))
	require.Equal(t, "dark", pf.Mode)
	require.Equal(t, 9, pf.Requested)
	require.Equal(t, 9, pf.Loaded)

	require.True(t, env.cache.IsLoaded(provider.Dark, 125, 899, 11))

	rec = env.do(t, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats cache.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	require.Equal(t, 9, stats.Size)
	require.Equal(t, cache.DefaultMaxSize, stats.MaxSize)
	require.Equal(t, 1.0, stats.HealthyRatio)

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/cache/clear").Code)
	require.Equal(t, 0, env.cache.Stats().Size)

	for _, q := range []string{
		"/prefetch?lat=91&lng=0&zoom=3",
		"/prefetch?lat=0&lng=0&zoom=40",
		"/prefetch?lat=0&lng=0&zoom=3&radius=10",
		"/prefetch?lng=0&zoom=3",
	} {
		require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, q).Code, q)
	}

	require.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodGet, "/prefetch?lat=0&lng=0&zoom=3").Code)
}

func TestServer_Health(t *testing.T) {
	env := setup(t, "")

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz").Code)

	env.health.SetServingStatus(HealthServiceName(testApp), healthpb.HealthCheckResponse_NOT_SERVING)
	require.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/healthz").Code)
}

func TestServer_Static(t *testing.T) {
	env := setup(t, "")

	rec := env.do(t, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Body.String(), "example.com")
	require.Contains(t, rec.Body.String(), "satellite")

	rec = env.do(t, http.MethodGet, "/static/app.css")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "margin")
}
