package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"mileage/internal/model"
	"mileage/internal/store"
	"mileage/internal/tracking"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// recordProblem is returned when a trip was built but could not be saved.
type recordProblem struct {
	Problem
	Record *model.TripRecord `json:"record,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps domain errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error, rec *model.TripRecord) {
	switch {
	case errors.Is(err, tracking.ErrPermissionDenied):
		writeProblem(w, http.StatusForbidden, "Location permission required", err.Error(), r.URL.Path)
	case errors.Is(err, tracking.ErrAlreadyTracking):
		writeProblem(w, http.StatusConflict, "Already tracking", err.Error(), r.URL.Path)
	case errors.Is(err, tracking.ErrInvalidManualEntry):
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid manual entry", err.Error(), r.URL.Path)
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
	case errors.Is(err, tracking.ErrPersistence):
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(recordProblem{
			Problem: Problem{Type: "about:blank", Title: "Trip not saved", Status: http.StatusBadGateway, Detail: err.Error(), Instance: r.URL.Path},
			Record:  rec,
		})
	case errors.Is(err, tracking.ErrTrackerClosed):
		writeProblem(w, http.StatusServiceUnavailable, "Tracker unavailable", err.Error(), r.URL.Path)
	default:
		writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error(), r.URL.Path)
	}
}

func queryLimit(r *http.Request) int {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	return limit
}
