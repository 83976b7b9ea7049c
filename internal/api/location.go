package api

import (
	"sync"
	"time"

	"mileage/internal/model"
)

// LatestLocation is the most recent position reported by the device, kept even
// while idle so clients can show where the device is before a trip starts.
type LatestLocation struct {
	Point      model.GeoPoint `json:"point"`
	AccuracyM  float64        `json:"accuracyM"`
	SpeedMps   float64        `json:"speedMps"`
	TS         time.Time      `json:"ts"`
	ReceivedAt time.Time      `json:"receivedAt"`
}

// LocationCache stores the latest reported location.
type LocationCache struct {
	mu   sync.Mutex
	last *LatestLocation
}

func NewLocationCache() *LocationCache { return &LocationCache{} }

// Update stores the fix unless an equally new or newer one is already held.
func (c *LocationCache) Update(f model.TimedFix) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last != nil && !f.Timestamp.After(c.last.TS) {
		return
	}
	c.last = &LatestLocation{Point: f.Point, AccuracyM: f.AccuracyM, SpeedMps: f.SpeedMps, TS: f.Timestamp, ReceivedAt: time.Now().UTC()}
}

func (c *LocationCache) Latest() (LatestLocation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return LatestLocation{}, false
	}
	return *c.last, true
}
