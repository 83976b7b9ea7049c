package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"mileage/internal/model"
	"mileage/internal/store"
)

const (
	EventTripRecorded = "trip.recorded"
	EventTripDeleted  = "trip.deleted"
)

// Target is one ledger endpoint. An empty secret sends unsigned payloads.
type Target struct {
	URL    string
	Secret string
}

type Publisher struct {
	Store   store.Store
	Targets []Target
}

func NewPublisher(s store.Store, targets ...Target) *Publisher {
	return &Publisher{Store: s, Targets: targets}
}

// Envelope is the body POSTed to ledger targets.
type Envelope struct {
	ID   string            `json:"id"`
	Type string            `json:"type"`
	TS   string            `json:"ts"`
	Data model.LedgerEntry `json:"data"`
}

// Emit enqueues the entry for every target. The envelope id is derived from the
// event type and trip id, so emitting the same event twice is deduplicated by the queue.
func (p *Publisher) Emit(ctx context.Context, eventType string, entry model.LedgerEntry) {
	if len(p.Targets) == 0 {
		return
	}
	env := Envelope{
		ID:   uuid.NewSHA1(uuid.NameSpaceURL, []byte(eventType+"/"+entry.TripID)).String(),
		Type: eventType,
		TS:   time.Now().UTC().Format(time.RFC3339),
		Data: entry,
	}
	body, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("tripId", entry.TripID).Msg("ledger envelope encode failed")
		return
	}
	for _, t := range p.Targets {
		if _, err := p.Store.EnqueueDelivery(ctx, eventType, t.URL, t.Secret, body); err != nil {
			log.Error().Err(err).Str("url", t.URL).Str("event", eventType).Msg("ledger enqueue failed")
		}
	}
}

// LedgerStore mirrors trip writes into the ledger delivery queue.
// A queue failure is logged and never fails the trip write itself.
type LedgerStore struct {
	store.Store
	Pub *Publisher
}

func NewLedgerStore(s store.Store, pub *Publisher) *LedgerStore {
	return &LedgerStore{Store: s, Pub: pub}
}

func (l *LedgerStore) InsertTrip(ctx context.Context, trip model.TripRecord) error {
	if err := l.Store.InsertTrip(ctx, trip); err != nil {
		return err
	}
	l.Pub.Emit(ctx, EventTripRecorded, model.NewLedgerEntry(trip))
	return nil
}

func (l *LedgerStore) DeleteTrip(ctx context.Context, id string) error {
	trip, err := l.Store.GetTrip(ctx, id)
	if err != nil {
		return err
	}
	if err := l.Store.DeleteTrip(ctx, id); err != nil {
		return err
	}
	l.Pub.Emit(ctx, EventTripDeleted, model.NewLedgerEntry(trip))
	return nil
}
