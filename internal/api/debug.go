package api

import (
	"encoding/json"
	"net/http"
	"time"

	"mileage/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Config
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":                  c.Port,
			"LOG_FORMAT":            c.LogFormat,
			"MAX_ACCURACY_M":        c.MaxAccuracyM,
			"MIN_MOVING_SPEED_MPS":  c.MinMovingSpeedMps,
			"UNKNOWN_SPEED_POLICY":  c.UnknownSpeedPolicy,
			"FIX_QUEUE_SIZE":        c.FixQueueSize,
			"RATE_RPS":              c.RateRPS,
			"RATE_BURST":            c.RateBurst,
			"WEBHOOK_MAX_ATTEMPTS":  c.WebhookMaxAttempts,
			"LEDGER_TARGETS":        len(c.LedgerURLs()),
			"AUTO_GRANT_PERMISSION": c.AutoGrantPermission,
			"HAS_DATABASE_URL":      c.DatabaseURL != "",
			"HAS_REDIS_URL":         c.RedisURL != "",
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
