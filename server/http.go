package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	"github.com/akhenakh/tilecache/cache"
	"github.com/akhenakh/tilecache/provider"
	"github.com/akhenakh/tilecache/tile"
)

var templatesNames = []string{"index.html"}

var tileCacheControl = fmt.Sprintf("public, max-age=%d", int(cache.DefaultMaxAge.Seconds()))

// ServeHTTP serves tiles for URL such as /tiles/dark/11/618/722.png
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	logger := log.With(s.logger, "component", "tile_server")

	if !s.authorized(req) {
		level.Debug(logger).Log("err", "unauthorized tile request")
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)

		return
	}

	co, ok := coordFromVars(mux.Vars(req))
	if !ok {
		http.Error(w, "invalid tile coordinates", http.StatusBadRequest)

		return
	}

	mode := provider.ParseMode(mux.Vars(req)["mode"])

	t, err := s.tiles.LoadTile(req.Context(), mode, co.X, co.Y, co.Z)
	if err != nil {
		level.Debug(logger).Log(
			"err", err.Error(),
			"mode", mode,
			"x", co.X,
			"z", co.Z,
			"y", co.Y,
		)
		s.unavailable(w, req, co, err)

		return
	}

	w.Header().Set("Content-Type", t.ContentType)
	w.Header().Set("Cache-Control", tileCacheControl)
	w.Header().Set("X-Tile-Provider", t.Source.String())
	_, _ = w.Write(t.Data)
}

// HybridHandler serves satellite tiles with labels at /tiles/hybrid/11/618/722.png
func (s *Server) HybridHandler(w http.ResponseWriter, req *http.Request) {
	if !s.authorized(req) {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)

		return
	}

	co, ok := coordFromVars(mux.Vars(req))
	if !ok {
		http.Error(w, "invalid tile coordinates", http.StatusBadRequest)

		return
	}

	h, err := s.tiles.LoadSatelliteWithLabels(req.Context(), co.X, co.Y, co.Z)
	if err != nil {
		level.Debug(s.logger).Log("msg", "hybrid tile unavailable", "tile", co, "error", err)
		s.unavailable(w, req, co, err)

		return
	}

	w.Header().Set("Cache-Control", tileCacheControl)
	w.Header().Set("X-Tile-Provider", h.Base.Source.String())

	if h.Labels == nil {
		w.Header().Set("Content-Type", h.Base.ContentType)
		_, _ = w.Write(h.Base.Data)

		return
	}

	data, err := composite(h.Base.Image, h.Labels.Image)
	if err != nil {
		level.Error(s.logger).Log("msg", "can't composite hybrid tile", "tile", co, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(data)
}

func (s *Server) unavailable(w http.ResponseWriter, req *http.Request, co tile.Coord, err error) {
	// client went away
	if !errors.Is(err, cache.ErrTileUnavailable) && req.Context().Err() != nil {
		return
	}

	if !s.placeholder {
		http.NotFound(w, req)

		return
	}

	data, perr := placeholder(co)
	if perr != nil {
		http.Error(w, perr.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

// AttributionHandler returns the attribution for /attribution/{mode}
func (s *Server) AttributionHandler(w http.ResponseWriter, req *http.Request) {
	mode := provider.ParseMode(mux.Vars(req)["mode"])
	p := provider.Resolve(mode)

	writeJSON(w, map[string]string{
		"mode":        mode.String(),
		"provider":    p.ID.String(),
		"name":        p.Name,
		"attribution": s.tiles.Attribution(mode),
	})
}

type providerInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Attribution string `json:"attribution"`
	HasLabels   bool   `json:"has_labels"`
	MaxZoom     int    `json:"max_zoom"`
}

// ProvidersHandler lists the known providers.
func (s *Server) ProvidersHandler(w http.ResponseWriter, req *http.Request) {
	ps := provider.All()
	infos := make([]providerInfo, 0, len(ps))
	for _, p := range ps {
		infos = append(infos, providerInfo{
			ID:          p.ID.String(),
			Name:        p.Name,
			Attribution: p.Attribution,
			HasLabels:   p.HasLabels,
			MaxZoom:     p.MaxZoom,
		})
	}

	writeJSON(w, infos)
}

// StatsHandler returns the cache statistics.
func (s *Server) StatsHandler(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, s.tiles.Stats())
}

// PrefetchHandler warms the cache around a point,
// /prefetch?mode=dark&lat=21.3&lng=-157.8&zoom=14&radius=1
func (s *Server) PrefetchHandler(w http.ResponseWriter, req *http.Request) {
	if !s.authorized(req) {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)

		return
	}

	q := req.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil || lat < -85.0511 || lat > 85.0511 {
		http.Error(w, "invalid lat", http.StatusBadRequest)

		return
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil || lng < -180 || lng > 180 {
		http.Error(w, "invalid lng", http.StatusBadRequest)

		return
	}
	zoom, err := strconv.Atoi(q.Get("zoom"))
	if err != nil || zoom < 0 || zoom > tile.MaxZoom {
		http.Error(w, "invalid zoom", http.StatusBadRequest)

		return
	}

	radius := 1
	if r := q.Get("radius"); r != "" {
		radius, err = strconv.Atoi(r)
		if err != nil || radius < 0 || radius > maxPrefetchRadius {
			http.Error(w, fmt.Sprintf("radius must be between 0 and %d", maxPrefetchRadius), http.StatusBadRequest)

			return
		}
	}

	mode := provider.ParseMode(q.Get("mode"))
	coords := tile.Around(tile.FromLatLng(lat, lng, zoom), radius)
	loaded := s.tiles.Prefetch(req.Context(), mode, coords, s.prefetchConcurrency)

	level.Debug(s.logger).Log("msg", "prefetch", "mode", mode, "requested", len(coords), "loaded", loaded)

	writeJSON(w, map[string]interface{}{
		"mode":      mode.String(),
		"requested": len(coords),
		"loaded":    loaded,
	})
}

// ClearHandler empties the cache.
func (s *Server) ClearHandler(w http.ResponseWriter, req *http.Request) {
	if !s.authorized(req) {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)

		return
	}

	s.tiles.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// StaticHandler serves templates and other static files
func (s *Server) StaticHandler(w http.ResponseWriter, req *http.Request) {
	path := strings.TrimPrefix(req.URL.Path, "/static/")
	if path == "" || req.URL.Path == "/" {
		path = "index.html"
	}

	// serve file normally
	if !isTpl(path) {
		s.fileHandler.ServeHTTP(w, req)

		return
	}

	// check for key if needed
	if !s.authorized(req) {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)

		return
	}

	// Templates variables
	proto := "http"
	if req.Header.Get("X-Forwarded-Proto") == "https" {
		proto = "https"
	}

	attributions := make(map[string]string)
	maxZooms := make(map[string]int)
	for _, m := range []provider.Mode{provider.Standard, provider.Satellite, provider.Dark} {
		attributions[m.String()] = s.tiles.Attribution(m)
		maxZooms[m.String()] = provider.Resolve(m).MaxZoom
	}

	p := map[string]interface{}{
		"TilesBaseURL": fmt.Sprintf("%s://%s", proto, req.Host),
		"TilesKey":     s.tilesKey,
		"Attributions": attributions,
		"MaxZooms":     maxZooms,
	}

	// change header base on content-type
	ctype := mime.TypeByExtension(filepath.Ext(path))
	w.Header().Set("Content-Type", ctype)

	err := s.templates.ExecuteTemplate(w, path, p)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		level.Error(s.logger).Log("msg", "can't execute template", "error", err, "path", path)

		return
	}
}

func isTpl(path string) bool {
	for _, p := range templatesNames {
		if p == path {
			return true
		}
	}

	return false
}

func coordFromVars(vars map[string]string) (tile.Coord, bool) {
	z, errZ := strconv.Atoi(vars["z"])
	x, errX := strconv.Atoi(vars["x"])
	y, errY := strconv.Atoi(vars["y"])
	if errZ != nil || errX != nil || errY != nil {
		return tile.Coord{}, false
	}

	co := tile.Coord{X: x, Y: y, Z: z}

	return co, co.Valid()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
