package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Core domain types for trip tracking.

type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// TimedFix is one raw location sample as delivered by the location source.
// A negative AccuracyM marks the fix invalid; a negative SpeedMps means unknown.
type TimedFix struct {
	Point     GeoPoint  `json:"point" yaml:"point"`
	Timestamp time.Time `json:"ts" yaml:"ts"`
	AccuracyM float64   `json:"accuracyM" yaml:"accuracyM"`
	SpeedMps  float64   `json:"speedMps" yaml:"speedMps"`
}

type RoutePoint struct {
	Point     GeoPoint  `json:"point"`
	Timestamp time.Time `json:"ts"`
}

// RoutePointFromFix keeps the persisted subset of a fix.
func RoutePointFromFix(f TimedFix) RoutePoint {
	return RoutePoint{Point: f.Point, Timestamp: f.Timestamp}
}

// Summary is the snapshot handed out when a tracking session ends.
type Summary struct {
	StartedAt     time.Time    `json:"startedAt"`
	EndedAt       time.Time    `json:"endedAt"`
	DistanceMiles float64      `json:"distanceMiles"`
	Route         []RoutePoint `json:"route"`
}

// TripRecord is the finalized trip. It is never mutated after creation.
type TripRecord struct {
	ID            string       `json:"id"`
	StartTime     time.Time    `json:"startTime"`
	EndTime       time.Time    `json:"endTime"`
	DistanceMiles float64      `json:"distanceMiles"`
	Category      Category     `json:"category"`
	Purpose       *string      `json:"purpose,omitempty"`
	IsManualEntry bool         `json:"isManualEntry"`
	Route         []RoutePoint `json:"route,omitempty"` // nil unless GPS-derived with accepted points
}

// Duration is zero for manual entries, which carry a single date.
func (t TripRecord) Duration() time.Duration {
	if t.EndTime.Before(t.StartTime) {
		return 0
	}
	return t.EndTime.Sub(t.StartTime)
}

// OptionalText returns nil for blank input.
func OptionalText(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Category classifies a trip. Ledger values are a fixed contract: personal=0, business=1.
type Category int

const (
	CategoryPersonal Category = 0
	CategoryBusiness Category = 1
)

func (c Category) String() string {
	switch c {
	case CategoryBusiness:
		return "business"
	default:
		return "personal"
	}
}

// DisplayName is the label shown in trip lists.
func (c Category) DisplayName() string {
	switch c {
	case CategoryBusiness:
		return "Business"
	default:
		return "Personal"
	}
}

// LedgerValue is the integer written to the external ledger format.
func (c Category) LedgerValue() int { return int(c) }

// CategoryFromLedger maps a ledger integer back; unknown values fall back to personal.
func CategoryFromLedger(v int) Category {
	if v == 1 {
		return CategoryBusiness
	}
	return CategoryPersonal
}

func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "personal":
		return CategoryPersonal, nil
	case "business":
		return CategoryBusiness, nil
	}
	return CategoryPersonal, fmt.Errorf("unknown category: %q", s)
}

func (c Category) MarshalJSON() ([]byte, error) { return json.Marshal(c.String()) }

func (c *Category) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int
		if err2 := json.Unmarshal(b, &n); err2 != nil {
			return err
		}
		*c = CategoryFromLedger(n)
		return nil
	}
	v, err := ParseCategory(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// AuthorizationState mirrors the location permission reported by the host platform.
type AuthorizationState string

const (
	AuthNotDetermined AuthorizationState = "not-determined"
	AuthDenied        AuthorizationState = "denied"
	AuthRestricted    AuthorizationState = "restricted"
	AuthWhenInUse     AuthorizationState = "when-in-use"
	AuthAlways        AuthorizationState = "always"
)

func ParseAuthorizationState(s string) (AuthorizationState, error) {
	st := AuthorizationState(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case AuthNotDetermined, AuthDenied, AuthRestricted, AuthWhenInUse, AuthAlways:
		return st, nil
	}
	return AuthNotDetermined, fmt.Errorf("unknown authorization state: %q", s)
}

// TripFilter narrows ListTrips results. Zero values mean "any".
type TripFilter struct {
	Category *Category
	Manual   *bool
	From     time.Time
	To       time.Time
}

// Matches reports whether a trip passes the filter. From/To bound the start time.
func (f TripFilter) Matches(t TripRecord) bool {
	if f.Category != nil && t.Category != *f.Category {
		return false
	}
	if f.Manual != nil && t.IsManualEntry != *f.Manual {
		return false
	}
	if !f.From.IsZero() && t.StartTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.StartTime.Before(f.To) {
		return false
	}
	return true
}

// LedgerEntry is the export shape consumed by the accounting ledger.
type LedgerEntry struct {
	TripID        string  `json:"tripId"`
	Date          string  `json:"date"`
	DistanceMiles float64 `json:"miles"`
	Category      int     `json:"category"`
	Purpose       string  `json:"purpose,omitempty"`
	Manual        bool    `json:"manual"`
}

func NewLedgerEntry(t TripRecord) LedgerEntry {
	e := LedgerEntry{
		TripID:        t.ID,
		Date:          t.StartTime.UTC().Format("2006-01-02"),
		DistanceMiles: t.DistanceMiles,
		Category:      t.Category.LedgerValue(),
		Manual:        t.IsManualEntry,
	}
	if t.Purpose != nil {
		e.Purpose = *t.Purpose
	}
	return e
}

// Totals sums trip distance per category for the trip list header.
type Totals struct {
	Count         int     `json:"count"`
	TotalMiles    float64 `json:"totalMiles"`
	PersonalMiles float64 `json:"personalMiles"`
	BusinessMiles float64 `json:"businessMiles"`
}

func (t *Totals) Add(trip TripRecord) {
	t.Count++
	t.TotalMiles += trip.DistanceMiles
	if trip.Category == CategoryBusiness {
		t.BusinessMiles += trip.DistanceMiles
	} else {
		t.PersonalMiles += trip.DistanceMiles
	}
}
