package webhooks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"mileage/internal/model"
	"mileage/internal/store"
)

func TestLedgerStoreEnqueuesOnWrite(t *testing.T) {
	mem := store.NewMemory()
	ls := NewLedgerStore(mem, NewPublisher(mem, Target{URL: "http://ledger.local/a", Secret: "s"}, Target{URL: "http://ledger.local/b"}))
	ctx := context.Background()
	trip := model.TripRecord{ID: "t-1", StartTime: time.Date(2025, 7, 4, 10, 0, 0, 0, time.UTC), DistanceMiles: 8.5, Category: model.CategoryBusiness}

	if err := ls.InsertTrip(ctx, trip); err != nil {
		t.Fatalf("insert: %v", err)
	}
	due, _ := mem.FetchDueDeliveries(ctx, 10)
	if len(due) != 2 {
		t.Fatalf("expected a delivery per target, got %d", len(due))
	}
	var env Envelope
	if err := json.Unmarshal(due[0].Payload, &env); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if env.Type != EventTripRecorded || env.Data.Category != 1 || env.Data.Date != "2025-07-04" || env.Data.DistanceMiles != 8.5 {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	// a second insert of the same id fails and enqueues nothing
	if err := ls.InsertTrip(ctx, trip); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if due, _ = mem.FetchDueDeliveries(ctx, 10); len(due) != 2 {
		t.Fatalf("duplicate insert enqueued deliveries: %d", len(due))
	}

	if err := ls.DeleteTrip(ctx, "t-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	due, _ = mem.FetchDueDeliveries(ctx, 10)
	if len(due) != 4 || due[3].EventType != EventTripDeleted {
		t.Fatalf("expected delete deliveries, got %+v", due)
	}
	if err := ls.DeleteTrip(ctx, "t-1"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPublisherWithoutTargets(t *testing.T) {
	mem := store.NewMemory()
	NewPublisher(mem).Emit(context.Background(), EventTripRecorded, model.LedgerEntry{TripID: "x"})
	if due, _ := mem.FetchDueDeliveries(context.Background(), 10); len(due) != 0 {
		t.Fatalf("expected nothing queued, got %d", len(due))
	}
}
