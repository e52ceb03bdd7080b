package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/couchcryptid/emissions-equity-map/internal/catalog"
	"github.com/couchcryptid/emissions-equity-map/internal/cluster"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/couchcryptid/emissions-equity-map/internal/pipeline"
	"github.com/couchcryptid/emissions-equity-map/internal/tiles"
)

const (
	headerSession      = "X-Session-Id"
	headerStateVersion = "X-State-Version"

	contentTypeJSON    = "application/json"
	contentTypeGeoJSON = "application/geo+json"
)

var errNoData = errors.New("no facility data loaded")

func writeJSON(w http.ResponseWriter, status int, v any) {
	writeBody(w, status, contentTypeJSON, v)
}

func writeBody(w http.ResponseWriter, status int, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrUnknownYear),
		errors.Is(err, cluster.ErrClusterNotFound):
		return http.StatusNotFound
	case errors.Is(err, tiles.ErrInvalidTile):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrNoRows),
		errors.Is(err, domain.ErrMissingColumn):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errNoData),
		errors.Is(err, tiles.ErrNoBoundaries):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// queryFloat parses a float query parameter, returning def when absent.
func queryFloat(r *http.Request, name string, def float64) (float64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.New("invalid " + name + ": " + s)
	}
	return v, nil
}

// queryInt parses a non-negative integer query parameter, returning def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, errors.New("invalid " + name + ": " + s)
	}
	return v, nil
}

func scaleParam(r *http.Request) (domain.Scale, error) {
	return domain.ParseScale(r.URL.Query().Get("scale"))
}
