package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"mileage/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Querier represents the minimal database operations used by the store.
// Both *pgxpool.Pool and pgxmock pools satisfy this interface.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Postgres struct {
	db   Querier
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{db: pool, pool: pool}, nil
}

// NewPostgresWithQuerier wraps an existing connection, e.g. a pgxmock pool.
func NewPostgresWithQuerier(q Querier) *Postgres { return &Postgres{db: q} }

func (p *Postgres) Ping(ctx context.Context) error {
	if p.pool == nil {
		return nil
	}
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Migrate applies the embedded schema files in lexical order. Every statement is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return err
	}
	for _, e := range entries {
		b, err := migrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("migration %s: %w", e.Name(), err)
		}
		log.Debug().Str("file", e.Name()).Msg("migration applied")
	}
	return nil
}

const tripColumns = `id, start_time, end_time, distance_miles, category, COALESCE(purpose,''), is_manual_entry, route`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(r rowScanner) (model.TripRecord, error) {
	var (
		t       model.TripRecord
		cat     int
		purpose string
		route   []byte
	)
	if err := r.Scan(&t.ID, &t.StartTime, &t.EndTime, &t.DistanceMiles, &cat, &purpose, &t.IsManualEntry, &route); err != nil {
		return model.TripRecord{}, err
	}
	t.Category = model.CategoryFromLedger(cat)
	t.Purpose = model.OptionalText(purpose)
	if len(route) > 0 && string(route) != "null" {
		if err := json.Unmarshal(route, &t.Route); err != nil {
			return model.TripRecord{}, fmt.Errorf("decode route for %s: %w", t.ID, err)
		}
	}
	return t, nil
}

func routeJSON(r []model.RoutePoint) (any, error) {
	if len(r) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (p *Postgres) InsertTrip(ctx context.Context, t model.TripRecord) error {
	route, err := routeJSON(t.Route)
	if err != nil {
		return err
	}
	var purpose any
	if t.Purpose != nil {
		purpose = *t.Purpose
	}
	tag, err := p.db.Exec(ctx, `INSERT INTO trips (id, start_time, end_time, distance_miles, category, purpose, is_manual_entry, route)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8) ON CONFLICT (id) DO NOTHING`,
		t.ID, t.StartTime, t.EndTime, t.DistanceMiles, t.Category.LedgerValue(), purpose, t.IsManualEntry, route)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (p *Postgres) GetTrip(ctx context.Context, id string) (model.TripRecord, error) {
	t, err := scanTrip(p.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TripRecord{}, ErrNotFound
	}
	return t, err
}

func (p *Postgres) DeleteTrip(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM trips WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// tripWhere renders the filter as a WHERE clause with positional args.
func tripWhere(f model.TripFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Category != nil {
		add("category=$%d", f.Category.LedgerValue())
	}
	if f.Manual != nil {
		add("is_manual_entry=$%d", *f.Manual)
	}
	if !f.From.IsZero() {
		add("start_time >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("start_time < $%d", f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (p *Postgres) ListTrips(ctx context.Context, f model.TripFilter, cursor string, limit int) ([]model.TripRecord, string, error) {
	limit = clampLimit(limit)
	where, args := tripWhere(f)
	if cursor != "" {
		args = append(args, cursor)
		keyset := fmt.Sprintf("(start_time, id) < (SELECT start_time, id FROM trips WHERE id=$%d)", len(args))
		if where == "" {
			where = " WHERE " + keyset
		} else {
			where += " AND " + keyset
		}
	}
	args = append(args, limit+1)
	q := fmt.Sprintf(`SELECT %s FROM trips%s ORDER BY start_time DESC, id DESC LIMIT $%d`, tripColumns, where, len(args))
	rows, err := p.db.Query(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.TripRecord{}
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	var next string
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

func (p *Postgres) TripTotals(ctx context.Context, f model.TripFilter) (model.Totals, error) {
	where, args := tripWhere(f)
	var tot model.Totals
	err := p.db.QueryRow(ctx, `SELECT count(*), COALESCE(sum(distance_miles),0), COALESCE(sum(distance_miles) FILTER (WHERE category=1),0) FROM trips`+where, args...).
		Scan(&tot.Count, &tot.TotalMiles, &tot.BusinessMiles)
	if err != nil {
		return model.Totals{}, err
	}
	tot.PersonalMiles = tot.TotalMiles - tot.BusinessMiles
	return tot, nil
}

// Ledger deliveries
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (p *Postgres) EnqueueDelivery(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.Exec(ctx, `INSERT INTO ledger_deliveries (id, event_type, url, secret, payload, dedup_key, status, attempts, next_attempt_at)
		VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now())
		ON CONFLICT (event_type, url, dedup_key) DO NOTHING`, id, eventType, url, nullIfEmpty(secret), payload, dedupKey(payload))
	if err != nil {
		return "", err
	}
	return id, nil
}

const deliveryColumns = `id, event_type, url, COALESCE(secret,''), payload, status, attempts, next_attempt_at, COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0), delivered_at`

func scanDelivery(r rowScanner) (Delivery, error) {
	var d Delivery
	err := r.Scan(&d.ID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts, &d.NextAttemptAt, &d.LastError, &d.ResponseCode, &d.LatencyMs, &d.DeliveredAt)
	return d, err
}

func (p *Postgres) FetchDueDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	rows, err := p.db.Query(ctx, `SELECT `+deliveryColumns+`
		FROM ledger_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.db.Exec(ctx, `UPDATE ledger_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
			id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
		return err
	}
	_, err := p.db.Exec(ctx, `UPDATE ledger_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`,
		id, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	tag, err := p.db.Exec(ctx, `UPDATE ledger_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListDeliveries(ctx context.Context, status, cursor string, limit int) ([]Delivery, string, error) {
	limit = clampLimit(limit)
	rows, err := p.db.Query(ctx, `SELECT `+deliveryColumns+` FROM ledger_deliveries
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR (created_at, id) > (SELECT created_at, id FROM ledger_deliveries WHERE id = $2))
		ORDER BY created_at, id LIMIT $3`, status, cursor, limit+1)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	var next string
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

func (p *Postgres) RetryDelivery(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `UPDATE ledger_deliveries SET status='retry', attempts=0, next_attempt_at=now(), updated_at=now() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
