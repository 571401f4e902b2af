package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Sternrassler/fleet-activity-sync/internal/config"
	"github.com/Sternrassler/fleet-activity-sync/internal/device"
	"github.com/Sternrassler/fleet-activity-sync/internal/ingest"
	"github.com/Sternrassler/fleet-activity-sync/internal/progress"
	"github.com/Sternrassler/fleet-activity-sync/internal/storage"
	"github.com/Sternrassler/fleet-activity-sync/pkg/client"
	"github.com/rs/zerolog/hlog"
)

// DevicesResponse is the body of /api/devices.
type DevicesResponse struct {
	Devices         []device.Record         `json:"devices"`
	Page            int                     `json:"page"`
	Limit           int                     `json:"limit"`
	TotalPages      int                     `json:"totalPages"`
	TotalDevices    int64                   `json:"totalDevices"`
	ActiveDevices   int64                   `json:"activeDevices"`
	InactiveDevices int64                   `json:"inactiveDevices"`
	DistrictData    []storage.DistrictCount `json:"districtData"`
}

// FetchResponse is the body of a successful /api/fetchActiveStatusData.
type FetchResponse struct {
	Message         string `json:"message"`
	RunID           string `json:"runId"`
	TotalPages      int    `json:"totalPages"`
	ActiveDevices   int    `json:"activeDevices"`
	InactiveDevices int    `json:"inactiveDevices"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// project resolves the path's project, writing 404 when it is unknown.
func (s *Server) project(w http.ResponseWriter, r *http.Request) (*config.Project, bool) {
	p, err := s.cfg.Project(r.PathValue("projectId"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "Unknown project", Error: err.Error()})
		return nil, false
	}
	return p, true
}

func filterFrom(r *http.Request) storage.Filter {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return storage.Filter{
		Search:   q.Get("searchTerm"),
		District: q.Get("district"),
		Status:   storage.ParseStatus(q.Get("status")),
		Page:     page,
		Limit:    limit,
	}.Normalize()
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	table := p.Table()
	filter := filterFrom(r)

	devices, total, err := s.store.ListDevices(ctx, table, filter)
	if err != nil {
		s.internalError(w, r, "list devices", err)
		return
	}
	stats, err := s.store.Stats(ctx, table)
	if err != nil {
		s.internalError(w, r, "device stats", err)
		return
	}
	districts, err := s.store.DistrictBreakdown(ctx, table)
	if err != nil {
		s.internalError(w, r, "district breakdown", err)
		return
	}

	writeJSON(w, http.StatusOK, DevicesResponse{
		Devices:         nonNil(devices),
		Page:            filter.Page,
		Limit:           filter.Limit,
		TotalPages:      int((total + int64(filter.Limit) - 1) / int64(filter.Limit)),
		TotalDevices:    total,
		ActiveDevices:   stats.Active,
		InactiveDevices: stats.Inactive,
		DistrictData:    nonNil(districts),
	})
}

func (s *Server) handleAllDevices(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(w, r)
	if !ok {
		return
	}
	devices, err := s.store.AllDevices(r.Context(), p.Table(), filterFrom(r))
	if err != nil {
		s.internalError(w, r, "all devices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": nonNil(devices)})
}

func (s *Server) handleDeviceStats(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(w, r)
	if !ok {
		return
	}
	stats, err := s.store.Stats(r.Context(), p.Table())
	if err != nil {
		s.internalError(w, r, "device stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.progress.Snapshot(p.ID))
}

func (s *Server) handleFetchActivity(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	from, to := q.Get("fromDate"), q.Get("toDate")
	if from == "" || to == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "fromDate and toDate are required"})
		return
	}
	window, err := client.ParseDateRange(from, to)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Invalid date", Error: err.Error()})
		return
	}
	if !window.Valid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "fromDate must not be after toDate"})
		return
	}

	// The run outlives a client that stops waiting.
	summary, err := s.runner.Run(context.WithoutCancel(r.Context()), p, window)
	switch {
	case errors.Is(err, progress.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{Message: "A run is already in progress", Error: err.Error()})
		return
	case errors.Is(err, ingest.ErrInvalidWindow):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Invalid date range", Error: err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusBadGateway, errorResponse{Message: "Failed to fetch active status data", Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, FetchResponse{
		Message:         "Active status data updated",
		RunID:           summary.RunID,
		TotalPages:      summary.TotalPages,
		ActiveDevices:   summary.ActiveDevices,
		InactiveDevices: summary.InactiveDevices,
	})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	hlog.FromRequest(r).Error().Err(err).Str("op", op).Str("project", r.PathValue("projectId")).Msg("Request failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "Internal server error", Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
