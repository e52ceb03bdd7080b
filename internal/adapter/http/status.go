package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleYears(w http.ResponseWriter, _ *http.Request) {
	cat := s.deps.Loader.Catalog()
	loaded := 0
	if f := s.deps.Store.Facilities.Current(); f != nil {
		loaded = f.Year
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"years":   cat.Years(),
		"default": cat.DefaultYear,
		"loaded":  loaded,
	})
}

// handleLoadYear loads every dataset of a year and joins its ranks.
func (s *Server) handleLoadYear(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid year"))
		return
	}
	sum, err := s.deps.Loader.LoadYear(r.Context(), year)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type generationStatus struct {
	Seq      uint64    `json:"seq"`
	Year     int       `json:"year"`
	LoadedAt time.Time `json:"loaded_at"`
	Count    int       `json:"count"`
	Detail   any       `json:"detail,omitempty"`
}

type readinessStatus struct {
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
	Pending  int    `json:"pending"`
	Error    string `json:"error,omitempty"`
}

type statusResponse struct {
	Backend     string                       `json:"backend"`
	Filter      string                       `json:"filter"`
	Readiness   readinessStatus              `json:"readiness"`
	Generations map[string]*generationStatus `json:"generations"`
	Tiles       map[string]uint64            `json:"tiles"`
}

// handleStatus reports the tile source handshake and the committed generations.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Backend:     "local",
		Filter:      s.deps.Store.RiskFilter().String(),
		Generations: map[string]*generationStatus{},
		Tiles: map[string]uint64{
			"state_version": s.deps.Tiles.StateVersion(),
			"states":        uint64(s.deps.Tiles.StateCount()),
		},
	}
	if s.deps.RemoteTiles {
		resp.Backend = "remote"
	}
	if c := s.deps.Readiness; c != nil {
		resp.Readiness = readinessStatus{State: c.State().String(), Attempts: c.Attempts(), Pending: c.Pending()}
		if err := c.Err(); err != nil {
			resp.Readiness.Error = err.Error()
		}
	}

	if f := s.deps.Store.Facilities.Current(); f != nil {
		resp.Generations["facilities"] = &generationStatus{
			Seq: f.Seq, Year: f.Year, LoadedAt: f.LoadedAt, Count: len(f.All()),
			Detail: map[string]any{"visible": len(f.Points()), "report": f.Report},
		}
	}
	if rk := s.deps.Store.Ranks.Current(); rk != nil {
		resp.Generations["ranks"] = &generationStatus{
			Seq: rk.Seq, Year: rk.Year, LoadedAt: rk.LoadedAt, Count: rk.Set.Len(),
			Detail: map[string]any{"report": rk.Report},
		}
	}
	if b := s.deps.Store.Boundaries.Current(); b != nil {
		resp.Generations["boundaries"] = &generationStatus{
			Seq: b.Seq, Year: b.Year, LoadedAt: b.LoadedAt, Count: b.Collection.Len(),
			Detail: map[string]any{"source": b.Source},
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
