package store

import (
	"context"
	"errors"
	"time"

	"mileage/internal/model"
)

// Store is the persistence interface used by the tracker and the API server.
type Store interface {
	// Trips
	InsertTrip(ctx context.Context, trip model.TripRecord) error
	GetTrip(ctx context.Context, id string) (model.TripRecord, error)
	DeleteTrip(ctx context.Context, id string) error
	ListTrips(ctx context.Context, filter model.TripFilter, cursor string, limit int) (items []model.TripRecord, nextCursor string, err error)
	TripTotals(ctx context.Context, filter model.TripFilter) (model.Totals, error)

	// Ledger deliveries
	EnqueueDelivery(ctx context.Context, eventType, url, secret string, payload []byte) (string, error)
	FetchDueDeliveries(ctx context.Context, limit int) ([]Delivery, error)
	MarkDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListDeliveries(ctx context.Context, status, cursor string, limit int) ([]Delivery, string, error)
	RetryDelivery(ctx context.Context, id string) error

	Ping(ctx context.Context) error
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate trip id")
)

const defaultLimit = 100

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultLimit
	}
	return limit
}
