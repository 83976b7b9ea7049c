package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mileage/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu    sync.Mutex
	trips map[string]model.TripRecord // id -> trip
	// Ledger queue state
	deliveries map[string]*Delivery // id -> delivery
	order      []string             // enqueue order
	dedup      map[string]string    // eventType|url|key -> delivery id
}

func NewMemory() *Memory {
	return &Memory{
		trips:      map[string]model.TripRecord{},
		deliveries: map[string]*Delivery{},
		dedup:      map[string]string{},
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) InsertTrip(ctx context.Context, trip model.TripRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[trip.ID]; ok {
		return ErrDuplicate
	}
	if trip.Route != nil {
		trip.Route = append([]model.RoutePoint(nil), trip.Route...)
	}
	m.trips[trip.ID] = trip
	return nil
}

func (m *Memory) GetTrip(ctx context.Context, id string) (model.TripRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return model.TripRecord{}, ErrNotFound
	}
	return cloneTrip(t), nil
}

// cloneTrip detaches the route so callers cannot edit a stored record.
func cloneTrip(t model.TripRecord) model.TripRecord {
	if t.Route != nil {
		t.Route = append([]model.RoutePoint(nil), t.Route...)
	}
	return t
}

func (m *Memory) DeleteTrip(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[id]; !ok {
		return ErrNotFound
	}
	delete(m.trips, id)
	return nil
}

// sorted returns matching trips newest first, ties broken by id.
func (m *Memory) sorted(f model.TripFilter) []model.TripRecord {
	out := make([]model.TripRecord, 0, len(m.trips))
	for _, t := range m.trips {
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (m *Memory) ListTrips(ctx context.Context, f model.TripFilter, cursor string, limit int) ([]model.TripRecord, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	all := m.sorted(f)
	start := 0
	if cursor != "" {
		// a stale cursor yields an empty page, matching the keyset query
		start = len(all)
		for i, t := range all {
			if t.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []model.TripRecord{}
	var next string
	for i := start; i < len(all) && len(out) < limit; i++ {
		out = append(out, cloneTrip(all[i]))
		next = all[i].ID
	}
	if start+len(out) >= len(all) {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) TripTotals(ctx context.Context, f model.TripFilter) (model.Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tot model.Totals
	for _, t := range m.trips {
		if f.Matches(t) {
			tot.Add(t)
		}
	}
	return tot, nil
}

// Ledger deliveries
func (m *Memory) EnqueueDelivery(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := eventType + "|" + url + "|" + dedupKey(payload)
	if id, ok := m.dedup[key]; ok {
		return id, nil
	}
	id := uuid.New().String()
	m.deliveries[id] = &Delivery{ID: id, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending, NextAttemptAt: time.Now()}
	m.order = append(m.order, id)
	m.dedup[key] = id
	return id, nil
}

func (m *Memory) FetchDueDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []Delivery{}
	for _, id := range m.order {
		d := m.deliveries[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListDeliveries(ctx context.Context, status, cursor string, limit int) ([]Delivery, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := 0
	if cursor != "" {
		start = len(m.order)
		for i, id := range m.order {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []Delivery{}
	var next string
	for i := start; i < len(m.order) && len(out) < limit; i++ {
		d := m.deliveries[m.order[i]]
		if status == "" || d.Status == status {
			out = append(out, *d)
		}
		next = d.ID
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

// RetryDelivery puts a dead-lettered or retrying delivery back at the head of the queue.
func (m *Memory) RetryDelivery(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Status = DeliveryRetry
	d.Attempts = 0
	d.NextAttemptAt = time.Now()
	return nil
}
