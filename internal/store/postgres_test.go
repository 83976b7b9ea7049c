package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"

	"mileage/internal/model"
)

var tripCols = []string{"id", "start_time", "end_time", "distance_miles", "category", "purpose", "is_manual_entry", "route"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestPostgresMigrate(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS trips`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	if err := NewPostgresWithQuerier(mock).Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresInsertAndGetTrip(t *testing.T) {
	mock := newMock(t)
	p := NewPostgresWithQuerier(mock)
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	trip := model.TripRecord{
		ID: "trip-1", StartTime: start, EndTime: start.Add(20 * time.Minute), DistanceMiles: 4.2,
		Category: model.CategoryBusiness, Purpose: model.OptionalText("site visit"),
		Route: []model.RoutePoint{{Point: model.GeoPoint{Lat: 37, Lng: -122}, Timestamp: start}},
	}

	mock.ExpectExec(`INSERT INTO trips`).
		WithArgs("trip-1", start, trip.EndTime, 4.2, 1, "site visit", false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if err := p.InsertTrip(context.Background(), trip); err != nil {
		t.Fatalf("insert: %v", err)
	}

	mock.ExpectExec(`INSERT INTO trips`).
		WithArgs("trip-1", start, trip.EndTime, 4.2, 1, "site visit", false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	if err := p.InsertTrip(context.Background(), trip); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	mock.ExpectQuery(`SELECT id, start_time, end_time, distance_miles, category`).
		WithArgs("trip-1").
		WillReturnRows(pgxmock.NewRows(tripCols).
			AddRow("trip-1", start, trip.EndTime, 4.2, 1, "site visit", false, []byte(`[{"point":{"lat":37,"lng":-122},"ts":"2025-06-01T08:00:00Z"}]`)))
	got, err := p.GetTrip(context.Background(), "trip-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Category != model.CategoryBusiness || got.Purpose == nil || *got.Purpose != "site visit" || len(got.Route) != 1 {
		t.Fatalf("unexpected trip: %+v", got)
	}

	mock.ExpectQuery(`SELECT id, start_time`).WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	if _, err := p.GetTrip(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresManualTripWithoutRoute(t *testing.T) {
	mock := newMock(t)
	p := NewPostgresWithQuerier(mock)
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, start_time`).
		WithArgs("m-1").
		WillReturnRows(pgxmock.NewRows(tripCols).AddRow("m-1", day, day, 12.0, 0, "", true, []byte(nil)))
	got, err := p.GetTrip(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsManualEntry || got.Route != nil || got.Purpose != nil || got.Category != model.CategoryPersonal {
		t.Fatalf("unexpected manual trip: %+v", got)
	}
}

func TestPostgresDeleteTrip(t *testing.T) {
	mock := newMock(t)
	p := NewPostgresWithQuerier(mock)
	mock.ExpectExec(`DELETE FROM trips`).WithArgs("trip-1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM trips`).WithArgs("trip-1").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	if err := p.DeleteTrip(context.Background(), "trip-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := p.DeleteTrip(context.Background(), "trip-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresListTripsFilterAndCursor(t *testing.T) {
	mock := newMock(t)
	p := NewPostgresWithQuerier(mock)
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	biz := model.CategoryBusiness

	rows := pgxmock.NewRows(tripCols).
		AddRow("c", start.Add(2*time.Hour), start.Add(3*time.Hour), 3.0, 1, "", false, []byte(nil)).
		AddRow("b", start.Add(time.Hour), start.Add(2*time.Hour), 2.0, 1, "", false, []byte(nil)).
		AddRow("a", start, start.Add(time.Hour), 1.0, 1, "", false, []byte(nil))
	mock.ExpectQuery(`FROM trips WHERE category=\$1 AND \(start_time, id\) < \(SELECT start_time, id FROM trips WHERE id=\$2\) ORDER BY start_time DESC, id DESC LIMIT \$3`).
		WithArgs(1, "d", 3).
		WillReturnRows(rows)

	items, next, err := p.ListTrips(context.Background(), model.TripFilter{Category: &biz}, "d", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || next != "b" {
		t.Fatalf("page: %d items, next %q", len(items), next)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresTripTotals(t *testing.T) {
	mock := newMock(t)
	p := NewPostgresWithQuerier(mock)
	manual := false
	mock.ExpectQuery(`SELECT count\(\*\).+FROM trips WHERE is_manual_entry=\$1`).
		WithArgs(false).
		WillReturnRows(pgxmock.NewRows([]string{"count", "total", "business"}).AddRow(3, 10.0, 4.0))
	tot, err := p.TripTotals(context.Background(), model.TripFilter{Manual: &manual})
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if tot.Count != 3 || tot.PersonalMiles != 6 || tot.BusinessMiles != 4 {
		t.Fatalf("unexpected totals: %+v", tot)
	}
}

func TestPostgresDeliveryQueue(t *testing.T) {
	mock := newMock(t)
	p := NewPostgresWithQuerier(mock)
	ctx := context.Background()
	body := []byte(`{"id":"evt-9"}`)

	mock.ExpectExec(`INSERT INTO ledger_deliveries`).
		WithArgs(pgxmock.AnyArg(), "trip.recorded", "http://ledger", "s", body, "evt-9").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if _, err := p.EnqueueDelivery(ctx, "trip.recorded", "http://ledger", "s", body); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	now := time.Now()
	mock.ExpectQuery(`FROM ledger_deliveries WHERE status IN`).
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "event_type", "url", "secret", "payload", "status", "attempts", "next_attempt_at", "last_error", "response_code", "latency_ms", "delivered_at"}).
			AddRow("d-1", "trip.recorded", "http://ledger", "s", body, "pending", 0, now, "", 0, 0, (*time.Time)(nil)))
	due, err := p.FetchDueDeliveries(ctx, 50)
	if err != nil || len(due) != 1 || due[0].ID != "d-1" || string(due[0].Payload) != string(body) {
		t.Fatalf("due: %+v %v", due, err)
	}

	mock.ExpectExec(`UPDATE ledger_deliveries SET attempts=attempts\+1, status='retry'`).
		WithArgs("d-1", "boom", pgxmock.AnyArg(), 500, 7).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := p.MarkDelivery(ctx, "d-1", false, nil, "boom", 500, 7); err != nil {
		t.Fatalf("mark: %v", err)
	}

	mock.ExpectExec(`UPDATE ledger_deliveries SET attempts=attempts\+1, status='failed'`).
		WithArgs("gone", pgxmock.AnyArg(), 0, 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := p.FailDelivery(ctx, "gone", "", 0, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectExec(`UPDATE ledger_deliveries SET status='retry', attempts=0`).
		WithArgs("d-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := p.RetryDelivery(ctx, "d-1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
