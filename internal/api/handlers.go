package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mileage/internal/authz"
	"mileage/internal/geo"
	"mileage/internal/model"
	"mileage/internal/tracking"
)

// TrackingStartHandler handles POST /v1/tracking/start
func (s *Server) TrackingStartHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Category model.Category `json:"category"`
	}
	// body is optional; category defaults to personal
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
	}
	if err := s.Tracker.Start(r.Context(), req.Category); err != nil {
		writeError(w, r, err, nil)
		return
	}
	st, err := s.Tracker.Status(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

type stopResponse struct {
	tracking.Outcome
	Notice string `json:"notice,omitempty"`
}

// TrackingStopHandler handles POST /v1/tracking/stop
func (s *Server) TrackingStopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	out, err := s.Tracker.Stop(r.Context())
	switch {
	case err == nil && out.Discarded:
		writeJSON(w, http.StatusOK, stopResponse{Outcome: out, Notice: tracking.DiscardNotice})
	case err == nil:
		writeJSON(w, http.StatusCreated, stopResponse{Outcome: out})
	case errors.Is(err, tracking.ErrNotTracking):
		writeJSON(w, http.StatusOK, stopResponse{Outcome: out, Notice: err.Error()})
	default:
		writeError(w, r, err, out.Record)
	}
}

// decodeFixes accepts a single fix, an array of fixes, or {"fixes": [...]}.
func decodeFixes(body []byte) ([]model.TimedFix, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	if body[0] == '[' {
		var fixes []model.TimedFix
		err := json.Unmarshal(body, &fixes)
		return fixes, err
	}
	var wrapper struct {
		Fixes []model.TimedFix `json:"fixes"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Fixes != nil {
		return wrapper.Fixes, nil
	}
	var fix model.TimedFix
	if err := json.Unmarshal(body, &fix); err != nil {
		return nil, err
	}
	return []model.TimedFix{fix}, nil
}

// TrackingFixesHandler handles POST /v1/tracking/fixes
func (s *Server) TrackingFixesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", err.Error(), r.URL.Path)
		return
	}
	fixes, err := decodeFixes(body)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if len(fixes) > s.fixLimiter.Burst() {
		writeProblem(w, http.StatusRequestEntityTooLarge, "Batch too large", "split the batch into at most "+strconv.Itoa(s.fixLimiter.Burst())+" fixes", r.URL.Path)
		return
	}
	if !s.fixLimiter.AllowN(time.Now(), len(fixes)) {
		w.Header().Set("Retry-After", "1")
		writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "fix rate limit exceeded", r.URL.Path)
		return
	}
	n, err := s.submitFixes(r.Context(), fixes)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": n})
}

func (s *Server) submitFixes(ctx context.Context, fixes []model.TimedFix) (int, error) {
	for i, f := range fixes {
		if f.Timestamp.IsZero() {
			f.Timestamp = time.Now().UTC()
		}
		s.Location.Update(f)
		if err := s.Tracker.SubmitFix(ctx, f); err != nil {
			return i, err
		}
	}
	return len(fixes), nil
}

// TrackingStatusHandler handles GET /v1/tracking/status
func (s *Server) TrackingStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	st, err := s.Tracker.Status(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// TrackingLocationHandler handles GET /v1/tracking/location
func (s *Server) TrackingLocationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	loc, ok := s.Location.Latest()
	if !ok {
		writeProblem(w, http.StatusNotFound, "No location yet", "", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

type authorizationView struct {
	State          model.AuthorizationState `json:"state"`
	Label          string                   `json:"label"`
	HasPermission  bool                     `json:"hasPermission"`
	NeedsElevation bool                     `json:"needsElevation"`
}

func viewAuthorization(st model.AuthorizationState) authorizationView {
	return authorizationView{State: st, Label: authz.Describe(st), HasPermission: authz.HasPermission(st), NeedsElevation: authz.NeedsElevation(st)}
}

// AuthorizationHandler handles GET/PUT /v1/authorization. PUT is how the host
// device reports a permission change.
func (s *Server) AuthorizationHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, viewAuthorization(s.Device.State()))
	case http.MethodPut:
		var req struct {
			State string `json:"state"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		st, err := model.ParseAuthorizationState(req.State)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid authorization state", err.Error(), r.URL.Path)
			return
		}
		s.Device.Set(st)
		writeJSON(w, http.StatusOK, viewAuthorization(st))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// AuthorizationRequestHandler handles POST /v1/authorization/request. The
// prompt resolves asynchronously; clients watch authorization.changed events.
func (s *Server) AuthorizationRequestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Elevated bool `json:"elevated"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
	}
	if req.Elevated {
		s.Device.RequestElevatedPermission()
	} else {
		s.Device.RequestPermission()
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"requested": true, "elevated": req.Elevated})
}

type manualRequest struct {
	Date          string         `json:"date"`
	StartOdometer *float64       `json:"startOdometer"`
	EndOdometer   *float64       `json:"endOdometer"`
	Category      model.Category `json:"category"`
	Purpose       string         `json:"purpose"`
}

// parseDate accepts a calendar date or a full RFC3339 timestamp.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// ManualTripHandler handles POST /v1/trips/manual
func (s *Server) ManualTripHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req manualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	entry := tracking.ManualEntry{StartOdometer: req.StartOdometer, EndOdometer: req.EndOdometer, Category: req.Category, Purpose: req.Purpose}
	entry.Date = time.Now().UTC().Truncate(24 * time.Hour)
	if req.Date != "" {
		d, err := parseDate(req.Date)
		if err != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "Invalid manual entry", "date must be YYYY-MM-DD or RFC3339", r.URL.Path)
			return
		}
		entry.Date = d
	}
	rec, err := s.Tracker.RecordManual(r.Context(), entry)
	if err != nil {
		var recp *model.TripRecord
		if rec.ID != "" {
			recp = &rec
		}
		writeError(w, r, err, recp)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type tripView struct {
	model.TripRecord
	CategoryLabel string  `json:"categoryLabel"`
	Distance      float64 `json:"distance"`
	Units         string  `json:"units"`
}

func viewTrip(t model.TripRecord, units string) tripView {
	v := tripView{TripRecord: t, CategoryLabel: t.Category.DisplayName(), Distance: t.DistanceMiles, Units: "mi"}
	if units == "km" {
		v.Distance = geo.MilesToKilometers(t.DistanceMiles)
		v.Units = "km"
	}
	return v
}

func parseTripFilter(r *http.Request) (model.TripFilter, error) {
	q := r.URL.Query()
	var f model.TripFilter
	if v := q.Get("category"); v != "" {
		c, err := model.ParseCategory(v)
		if err != nil {
			return f, err
		}
		f.Category = &c
	}
	if v := q.Get("manual"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, err
		}
		f.Manual = &b
	}
	for key, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if v := q.Get(key); v != "" {
			t, err := parseDate(v)
			if err != nil {
				return f, errors.New(key + ": expected YYYY-MM-DD or RFC3339")
			}
			*dst = t
		}
	}
	return f, nil
}

// TripsHandler handles GET /v1/trips
func (s *Server) TripsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/trips" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	f, err := parseTripFilter(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid filter", err.Error(), r.URL.Path)
		return
	}
	units := r.URL.Query().Get("units")
	items, next, err := s.Store.ListTrips(r.Context(), f, r.URL.Query().Get("cursor"), queryLimit(r))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List trips failed", err.Error(), r.URL.Path)
		return
	}
	out := make([]tripView, 0, len(items))
	for _, t := range items {
		out = append(out, viewTrip(t, units))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "nextCursor": next})
}

// TripTotalsHandler handles GET /v1/trips/totals
func (s *Server) TripTotalsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	f, err := parseTripFilter(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid filter", err.Error(), r.URL.Path)
		return
	}
	tot, err := s.Store.TripTotals(r.Context(), f)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Totals failed", err.Error(), r.URL.Path)
		return
	}
	units := "mi"
	if r.URL.Query().Get("units") == "km" {
		units = "km"
		tot.TotalMiles = geo.MilesToKilometers(tot.TotalMiles)
		tot.PersonalMiles = geo.MilesToKilometers(tot.PersonalMiles)
		tot.BusinessMiles = geo.MilesToKilometers(tot.BusinessMiles)
	}
	writeJSON(w, http.StatusOK, map[string]any{"totals": tot, "units": units})
}

// TripByIDHandler handles GET/DELETE /v1/trips/{id}
func (s *Server) TripByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/trips/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		t, err := s.Store.GetTrip(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, viewTrip(t, r.URL.Query().Get("units")))
	case http.MethodDelete:
		if err := s.Store.DeleteTrip(r.Context(), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// LedgerDeliveriesHandler handles GET /v1/ledger/deliveries
func (s *Server) LedgerDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	items, next, err := s.Store.ListDeliveries(r.Context(), r.URL.Query().Get("status"), r.URL.Query().Get("cursor"), queryLimit(r))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// LedgerDeliveryRetryHandler handles POST /v1/ledger/deliveries/{id}/retry
func (s *Server) LedgerDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/retry") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/ledger/deliveries/"), "/retry")
	if err := s.Store.RetryDelivery(r.Context(), id); err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "store: "+err.Error(), r.URL.Path)
		return
	}
	type pinger interface{ Ping(ctx context.Context) error }
	if p, ok := s.Broker.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "broker: "+err.Error(), r.URL.Path)
			return
		}
	}
	if _, err := s.Tracker.Status(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "tracker: "+err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
