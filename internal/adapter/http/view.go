package http

import (
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/couchcryptid/emissions-equity-map/internal/cluster"
	"github.com/couchcryptid/emissions-equity-map/internal/dataset"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/couchcryptid/emissions-equity-map/internal/lod"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// maxViewZoom bounds the zoom accepted from clients.
const maxViewZoom = 30

// session is one viewer's level-of-detail state.
type session struct {
	mu    sync.Mutex
	frame *lod.Frame
	ctrl  *lod.Controller
}

func (s *Server) newSession() (string, *session) {
	frame := &lod.Frame{}
	sess := &session{frame: frame, ctrl: lod.NewController(s.threshold, frame, s.logger)}
	id := uuid.NewString()
	s.sessions.Add(id, sess)
	return id, sess
}

// session returns the viewer session named by the request, creating one when
// the id is missing or has been evicted.
func (s *Server) session(r *http.Request) (string, *session) {
	if id := r.URL.Query().Get("session"); id != "" {
		if sess, ok := s.sessions.Get(id); ok {
			return id, sess
		}
	}
	return s.newSession()
}

type viewResponse struct {
	Session    string                 `json:"session"`
	Year       int                    `json:"year"`
	Generation uint64                 `json:"generation"`
	Mode       lod.Mode               `json:"mode"`
	Zoom       float64                `json:"zoom"`
	Threshold  int                    `json:"threshold"`
	Points     []domain.FacilityPoint `json:"points"`
	Clusters   []cluster.Feature      `json:"clusters"`
}

func parseViewport(r *http.Request) (domain.Viewport, error) {
	var vp domain.Viewport
	var err error
	fields := []struct {
		name string
		dst  *float64
		def  float64
	}{
		{"west", &vp.Bounds.West, domain.World.West},
		{"south", &vp.Bounds.South, domain.World.South},
		{"east", &vp.Bounds.East, domain.World.East},
		{"north", &vp.Bounds.North, domain.World.North},
		{"zoom", &vp.Zoom, 0},
	}
	for _, f := range fields {
		if *f.dst, err = queryFloat(r, f.name, f.def); err != nil {
			return vp, err
		}
	}
	if !vp.Bounds.Valid() {
		return vp, errors.New("invalid viewport bounds")
	}
	if vp.Zoom < 0 || vp.Zoom > maxViewZoom {
		return vp, errors.New("zoom out of range")
	}
	return vp, nil
}

// handleView runs the level-of-detail controller for a viewport change and
// returns the resulting layers. format=geojson returns a FeatureCollection.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	vp, err := parseViewport(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f := s.deps.Store.Facilities.Current()
	if f == nil {
		writeError(w, http.StatusServiceUnavailable, errNoData)
		return
	}

	id, sess := s.session(r)
	sess.mu.Lock()
	mode := sess.ctrl.Update(f, vp)
	points, clusters := sess.frame.Layers()
	sess.mu.Unlock()

	s.deps.Metrics.ClusterQueries.WithLabelValues(mode.String()).Inc()
	w.Header().Set(headerSession, id)

	if r.URL.Query().Get("format") == "geojson" {
		writeBody(w, http.StatusOK, contentTypeGeoJSON, layersToGeoJSON(points, clusters))
		return
	}
	writeJSON(w, http.StatusOK, viewResponse{
		Session:    id,
		Year:       f.Year,
		Generation: f.Seq,
		Mode:       mode,
		Zoom:       vp.Zoom,
		Threshold:  s.threshold,
		Points:     points,
		Clusters:   clusters,
	})
}

// layersToGeoJSON encodes whichever layer is populated as point features.
func layersToGeoJSON(points []domain.FacilityPoint, clusters []cluster.Feature) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(points)+len(clusters))}
	for _, p := range points {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       p.ID,
			Geometry: geom.NewPointFlat(geom.XY, []float64{p.Lng, p.Lat}),
			Properties: map[string]any{
				"name":      p.Name,
				"emissions": p.Emissions,
				"pollutant": p.Pollutant,
				"risk":      p.Risk.String(),
			},
		})
	}
	for _, c := range clusters {
		props := map[string]any{
			"cluster":   c.Cluster,
			"count":     c.Count,
			"emissions": c.Emissions,
			"risk":      c.Risks.Dominant().String(),
		}
		id := ""
		if c.Cluster {
			id = strconv.Itoa(c.ClusterID)
			props["cluster_id"] = c.ClusterID
			props["expansion_zoom"] = c.ExpansionZoom
		} else if c.Point != nil {
			id = c.Point.ID
			props["name"] = c.Point.Name
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         id,
			Geometry:   geom.NewPointFlat(geom.XY, []float64{c.Lng, c.Lat}),
			Properties: props,
		})
	}
	return fc
}

type filterResponse struct {
	Filter     string `json:"filter"`
	Visible    int    `json:"visible"`
	Total      int    `json:"total"`
	Generation uint64 `json:"generation"`
}

func filterState(filter domain.RiskFilter, f *dataset.Facilities) filterResponse {
	resp := filterResponse{Filter: filter.String()}
	if f != nil {
		resp.Visible = len(f.Points())
		resp.Total = len(f.All())
		resp.Generation = f.Seq
	}
	return resp
}

func (s *Server) handleGetFilter(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, filterState(s.deps.Store.RiskFilter(), s.deps.Store.Facilities.Current()))
}

// handleSetFilter replaces the risk filter. An empty risk list admits every category.
func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	filter := domain.ParseRiskFilter(r.URL.Query().Get("risk"))
	f := s.deps.Loader.SetRiskFilter(filter)
	writeJSON(w, http.StatusOK, filterState(filter, f))
}

// clusterRequest resolves the cluster id path parameter against the current index.
func (s *Server) clusterRequest(w http.ResponseWriter, r *http.Request) (*cluster.Index, int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid cluster id"))
		return nil, 0, false
	}
	f := s.deps.Store.Facilities.Current()
	if f == nil {
		writeError(w, http.StatusServiceUnavailable, errNoData)
		return nil, 0, false
	}
	return f.Index(), id, true
}

func (s *Server) handleExpansionZoom(w http.ResponseWriter, r *http.Request) {
	ix, id, ok := s.clusterRequest(w, r)
	if !ok {
		return
	}
	zoom, err := ix.ExpansionZoom(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cluster_id": id, "expansion_zoom": zoom})
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	ix, id, ok := s.clusterRequest(w, r)
	if !ok {
		return
	}
	children, err := ix.Children(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cluster_id": id, "features": children})
}

func (s *Server) handleLeaves(w http.ResponseWriter, r *http.Request) {
	ix, id, ok := s.clusterRequest(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	leaves, err := ix.Leaves(id, limit, offset)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cluster_id": id,
		"limit":      limit,
		"offset":     offset,
		"points":     leaves,
	})
}
