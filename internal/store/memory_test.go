package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"mileage/internal/model"
)

func seedTrips(t *testing.T, m *Memory, n int) time.Time {
	t.Helper()
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		cat := model.CategoryPersonal
		if i%2 == 0 {
			cat = model.CategoryBusiness
		}
		trip := model.TripRecord{
			ID:            fmt.Sprintf("trip-%02d", i),
			StartTime:     base.Add(time.Duration(i) * time.Hour),
			EndTime:       base.Add(time.Duration(i)*time.Hour + 20*time.Minute),
			DistanceMiles: float64(i + 1),
			Category:      cat,
			IsManualEntry: i == 3,
		}
		if err := m.InsertTrip(context.Background(), trip); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return base
}

func TestMemoryTripLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	trip := model.TripRecord{ID: "a", StartTime: time.Now(), DistanceMiles: 3.2, Route: []model.RoutePoint{{Point: model.GeoPoint{Lat: 1, Lng: 2}}}}
	if err := m.InsertTrip(ctx, trip); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := m.InsertTrip(ctx, trip); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	got, err := m.GetTrip(ctx, "a")
	if err != nil || got.DistanceMiles != 3.2 || len(got.Route) != 1 {
		t.Fatalf("get: %+v %v", got, err)
	}
	if err := m.DeleteTrip(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.GetTrip(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.DeleteTrip(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemoryListTripsPaginates(t *testing.T) {
	m := NewMemory()
	seedTrips(t, m, 5)
	ctx := context.Background()

	page, next, err := m.ListTrips(ctx, model.TripFilter{}, "", 2)
	if err != nil || len(page) != 2 || next == "" {
		t.Fatalf("page 1: %d %q %v", len(page), next, err)
	}
	if page[0].ID != "trip-04" || page[1].ID != "trip-03" {
		t.Fatalf("expected newest first, got %s, %s", page[0].ID, page[1].ID)
	}
	var seen []string
	for _, p := range page {
		seen = append(seen, p.ID)
	}
	for next != "" {
		page, next, err = m.ListTrips(ctx, model.TripFilter{}, next, 2)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, p := range page {
			seen = append(seen, p.ID)
		}
	}
	if len(seen) != 5 || seen[4] != "trip-00" {
		t.Fatalf("walked %v", seen)
	}
}

func TestMemoryReadsReturnDetachedRoutes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	trip := model.TripRecord{ID: "a", StartTime: time.Now(), DistanceMiles: 1, Route: []model.RoutePoint{{Point: model.GeoPoint{Lat: 1, Lng: 2}}}}
	if err := m.InsertTrip(ctx, trip); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, _ := m.GetTrip(ctx, "a")
	got.Route[0].Point.Lat = 99
	page, _, _ := m.ListTrips(ctx, model.TripFilter{}, "", 10)
	page[0].Route[0].Point.Lng = 99
	stored, _ := m.GetTrip(ctx, "a")
	if stored.Route[0].Point != (model.GeoPoint{Lat: 1, Lng: 2}) {
		t.Fatalf("stored route was modified through a read: %+v", stored.Route[0].Point)
	}
}

func TestMemoryStaleCursorReturnsEmptyPage(t *testing.T) {
	m := NewMemory()
	seedTrips(t, m, 5)
	ctx := context.Background()

	page, next, err := m.ListTrips(ctx, model.TripFilter{}, "", 2)
	if err != nil || next == "" {
		t.Fatalf("page 1: %q %v", next, err)
	}
	if err := m.DeleteTrip(ctx, next); err != nil {
		t.Fatalf("delete: %v", err)
	}
	page, next, err = m.ListTrips(ctx, model.TripFilter{}, page[1].ID, 2)
	if err != nil || len(page) != 0 || next != "" {
		t.Fatalf("deleted cursor: %d %q %v", len(page), next, err)
	}
	page, _, _ = m.ListTrips(ctx, model.TripFilter{}, "nope", 2)
	if len(page) != 0 {
		t.Fatalf("unknown cursor restarted the listing: %d items", len(page))
	}

	if _, err := m.EnqueueDelivery(ctx, "trip.recorded", "http://x", "", []byte(`{"id":"e1"}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	items, _, _ := m.ListDeliveries(ctx, "", "nope", 10)
	if len(items) != 0 {
		t.Fatalf("unknown delivery cursor restarted the listing: %d items", len(items))
	}
}

func TestMemoryListTripsFilters(t *testing.T) {
	m := NewMemory()
	base := seedTrips(t, m, 6)
	ctx := context.Background()
	biz := model.CategoryBusiness
	items, _, _ := m.ListTrips(ctx, model.TripFilter{Category: &biz}, "", 0)
	if len(items) != 3 {
		t.Fatalf("business trips: %d", len(items))
	}
	manual := true
	items, _, _ = m.ListTrips(ctx, model.TripFilter{Manual: &manual}, "", 0)
	if len(items) != 1 || items[0].ID != "trip-03" {
		t.Fatalf("manual trips: %+v", items)
	}
	items, _, _ = m.ListTrips(ctx, model.TripFilter{From: base.Add(2 * time.Hour), To: base.Add(4 * time.Hour)}, "", 0)
	if len(items) != 2 {
		t.Fatalf("range: %d", len(items))
	}
}

func TestMemoryTripTotals(t *testing.T) {
	m := NewMemory()
	seedTrips(t, m, 4) // business: 1+3, personal: 2+4
	tot, err := m.TripTotals(context.Background(), model.TripFilter{})
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if tot.Count != 4 || tot.TotalMiles != 10 || tot.BusinessMiles != 4 || tot.PersonalMiles != 6 {
		t.Fatalf("unexpected totals: %+v", tot)
	}
}

func TestMemoryDeliveryQueue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	body := []byte(`{"id":"evt-1","type":"trip.recorded"}`)
	id, err := m.EnqueueDelivery(ctx, "trip.recorded", "http://ledger", "s", body)
	if err != nil || id == "" {
		t.Fatalf("enqueue: %v", err)
	}
	again, _ := m.EnqueueDelivery(ctx, "trip.recorded", "http://ledger", "s", body)
	if again != id {
		t.Fatalf("same event should dedupe, got %s and %s", id, again)
	}

	due, _ := m.FetchDueDeliveries(ctx, 10)
	if len(due) != 1 || due[0].Status != DeliveryPending {
		t.Fatalf("due: %+v", due)
	}
	later := time.Now().Add(time.Hour)
	if err := m.MarkDelivery(ctx, id, false, &later, "boom", 500, 12); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if due, _ = m.FetchDueDeliveries(ctx, 10); len(due) != 0 {
		t.Fatalf("retry scheduled in the future should not be due: %+v", due)
	}
	if err := m.FailDelivery(ctx, id, "boom", 500, 10); err != nil {
		t.Fatalf("fail: %v", err)
	}
	dead, _, _ := m.ListDeliveries(ctx, DeliveryFailed, "", 10)
	if len(dead) != 1 || dead[0].Attempts != 2 || dead[0].LastError != "boom" {
		t.Fatalf("dead letters: %+v", dead)
	}
	if err := m.RetryDelivery(ctx, id); err != nil {
		t.Fatalf("retry: %v", err)
	}
	due, _ = m.FetchDueDeliveries(ctx, 10)
	if len(due) != 1 || due[0].Attempts != 0 {
		t.Fatalf("requeued: %+v", due)
	}
	if err := m.MarkDelivery(ctx, id, true, nil, "", 200, 5); err != nil {
		t.Fatalf("mark ok: %v", err)
	}
	done, _, _ := m.ListDeliveries(ctx, DeliveryDelivered, "", 10)
	if len(done) != 1 || done[0].DeliveredAt == nil {
		t.Fatalf("delivered: %+v", done)
	}
	if err := m.RetryDelivery(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDedupKey(t *testing.T) {
	if got := dedupKey([]byte(`{"id":"evt_123"}`)); got != "evt_123" {
		t.Fatalf("want evt_123, got %s", got)
	}
	if got := dedupKey([]byte(`{"notId":"x"}`)); len(got) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", got)
	}
}
