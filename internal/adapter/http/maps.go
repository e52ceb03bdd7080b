package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/couchcryptid/emissions-equity-map/internal/catalog"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/couchcryptid/emissions-equity-map/internal/tiles"
	"github.com/go-chi/chi/v5"
)

// handleRegions serves the in-memory backend: every loaded boundary styled
// with the bound rank set.
func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	scale, err := scaleParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.deps.Store.Regions() == nil {
		writeError(w, http.StatusServiceUnavailable, tiles.ErrNoBoundaries)
		return
	}
	writeBody(w, http.StatusOK, contentTypeGeoJSON, s.deps.Memory.Styled(scale))
}

func tileParam(r *http.Request) (tiles.TileID, error) {
	var id tiles.TileID
	for _, p := range []struct {
		name string
		dst  *int
	}{{"z", &id.Z}, {"x", &id.X}, {"y", &id.Y}} {
		v, err := strconv.Atoi(chi.URLParam(r, p.name))
		if err != nil {
			return id, fmt.Errorf("%w: %s", tiles.ErrInvalidTile, p.name)
		}
		*p.dst = v
	}
	return id, id.Validate()
}

// tileCacheKey identifies an encoded tile. Every state commit or boundary
// load changes the key, so stale renderings are never served.
func (s *Server) tileCacheKey(id tiles.TileID, scale domain.Scale) string {
	var boundaries uint64
	if b := s.deps.Store.Boundaries.Current(); b != nil {
		boundaries = b.Seq
	}
	return fmt.Sprintf("%s/%s@%d.%d", scale, id, s.deps.Tiles.StateVersion(), boundaries)
}

// handleTile serves the tiled backend. Encoded tiles are cached by scale,
// coordinates, state version, and boundary generation.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	id, err := tileParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	scale, err := scaleParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	version := s.deps.Tiles.StateVersion()
	key := s.tileCacheKey(id, scale)
	w.Header().Set(headerStateVersion, strconv.FormatUint(version, 10))

	if data, err := s.responses.Get(key); err == nil {
		s.deps.Metrics.TileCacheHit("response", true)
		writeRaw(w, contentTypeGeoJSON, data)
		return
	}
	s.deps.Metrics.TileCacheHit("response", false)

	fc, err := s.deps.Tiles.Tile(r.Context(), id, scale)
	if err != nil {
		s.logger.Warn("tile failed", "tile", id.String(), "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	data, err := json.Marshal(fc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.responses.Set(key, data); err != nil {
		s.logger.Debug("tile not cached", "tile", id.String(), "error", err)
	}
	writeRaw(w, contentTypeGeoJSON, data)
}

func writeRaw(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Backend names used in color responses.
const (
	backendMemory = "memory"
	backendTiles  = "tiles"
)

type colorResponse struct {
	Score  *float64      `json:"score"`
	Scale  string        `json:"scale"`
	Bucket domain.Bucket `json:"bucket"`
	Color  string        `json:"color"`

	// Set when a region key is given: the color each backend renders for it.
	Key      string            `json:"key,omitempty"`
	Backends map[string]string `json:"backends,omitempty"`
}

// handleColor bins a single score. Missing or non-numeric scores get the
// no-data color. With a key, the joined color of that region on both
// backends is reported as well.
func (s *Server) handleColor(w http.ResponseWriter, r *http.Request) {
	scale, err := scaleParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q := r.URL.Query()
	raw := strings.TrimSpace(q.Get("score"))
	resp := colorResponse{Scale: scale.String(), Bucket: domain.BinValue(raw, scale)}
	if resp.Bucket != domain.NoData {
		v, _ := strconv.ParseFloat(raw, 64)
		resp.Score = &v
	}
	resp.Color = s.deps.Palette.Hex(resp.Bucket)

	if key := q.Get("key"); key != "" {
		resp.Key = key
		resp.Backends = map[string]string{
			backendMemory: s.deps.Memory.ColorFor(key, scale),
			backendTiles:  s.deps.Tiles.ColorFor(key, scale),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePurgeTiles drops cached tile responses and, for a remote tile
// server, the decoded tiles it returned.
func (s *Server) handlePurgeTiles(w http.ResponseWriter, _ *http.Request) {
	if err := s.responses.Reset(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s.deps.TileCache != nil {
		s.deps.TileCache.Purge()
	}
	s.logger.Info("tile caches purged")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLegend(w http.ResponseWriter, r *http.Request) {
	scale, err := domain.ParseScale(chi.URLParam(r, "scale"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	data, err := s.deps.Legend.Render(scale)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeRaw(w, "image/png", data)
}

// handleLayers lists the boundary overlay layers of the catalog.
func (s *Server) handleLayers(w http.ResponseWriter, _ *http.Request) {
	layers := s.deps.Loader.Catalog().Layers
	if len(layers) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"error":   errors.New("no boundary layers configured").Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool                     `json:"success"`
		Data    map[string]catalog.Layer `json:"data"`
	}{Success: true, Data: layers})
}
