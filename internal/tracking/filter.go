package tracking

import (
	"fmt"

	"mileage/internal/model"
)

// UnknownSpeedPolicy decides what happens to fixes that report no speed.
type UnknownSpeedPolicy string

const (
	// AssumeMoving lets unknown-speed fixes through the stationary check.
	AssumeMoving UnknownSpeedPolicy = "assume-moving"
	// RejectUnknown treats unknown speed like stationary noise once a previous fix exists.
	RejectUnknown UnknownSpeedPolicy = "reject"
)

func ParseUnknownSpeedPolicy(s string) (UnknownSpeedPolicy, error) {
	switch UnknownSpeedPolicy(s) {
	case "", AssumeMoving:
		return AssumeMoving, nil
	case RejectUnknown:
		return RejectUnknown, nil
	}
	return AssumeMoving, fmt.Errorf("unknown speed policy %q (want %s or %s)", s, AssumeMoving, RejectUnknown)
}

// Verdict is the outcome of running one fix through the filter.
type Verdict string

const (
	Accepted           Verdict = "accepted"
	RejectedAccuracy   Verdict = "accuracy"
	RejectedStationary Verdict = "stationary"
	RejectedNoSpeed    Verdict = "unknown-speed"
	DroppedIdle        Verdict = "idle"
)

func (v Verdict) Accepted() bool { return v == Accepted }

type FilterConfig struct {
	MaxAccuracyM      float64
	MinMovingSpeedMps float64
	UnknownSpeed      UnknownSpeedPolicy
}

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{MaxAccuracyM: 50, MinMovingSpeedMps: 1.0, UnknownSpeed: AssumeMoving}
}

// Evaluate checks accuracy first, then (only when a previous fix exists) speed.
func (c FilterConfig) Evaluate(last *model.TimedFix, fix model.TimedFix) Verdict {
	if fix.AccuracyM > c.MaxAccuracyM || fix.AccuracyM < 0 {
		return RejectedAccuracy
	}
	if last == nil {
		return Accepted
	}
	if fix.SpeedMps >= 0 {
		if fix.SpeedMps < c.MinMovingSpeedMps {
			return RejectedStationary
		}
		return Accepted
	}
	if c.UnknownSpeed == RejectUnknown {
		return RejectedNoSpeed
	}
	return Accepted
}
