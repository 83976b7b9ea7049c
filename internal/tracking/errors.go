package tracking

import "errors"

var (
	// ErrPermissionDenied is returned by Start when location access has not been granted.
	ErrPermissionDenied = errors.New("location permission required")
	// ErrAlreadyTracking is returned by Start while a session is open.
	ErrAlreadyTracking = errors.New("a trip is already being tracked")
	// ErrNotTracking is returned by Stop while idle, alongside the empty summary.
	ErrNotTracking = errors.New("no trip is being tracked")
	// ErrSessionActive is returned by Accumulator.Begin when a session already exists.
	ErrSessionActive = errors.New("tracking session already active")
	// ErrInvalidManualEntry wraps every manual-entry validation failure.
	ErrInvalidManualEntry = errors.New("invalid manual entry")
	// ErrPersistence wraps a store failure; the trip record is still returned to the caller.
	ErrPersistence = errors.New("trip could not be saved")
	// ErrTrackerClosed is returned once the owner loop has exited.
	ErrTrackerClosed = errors.New("tracker is not running")
)

// DiscardNotice is shown when a stop produced no distance.
const DiscardNotice = "trip discarded, no distance recorded"
