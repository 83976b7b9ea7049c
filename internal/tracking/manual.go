package tracking

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"mileage/internal/model"
)

// MaxManualDistance is the exclusive upper bound on an odometer delta.
const MaxManualDistance = 10000.0

// ManualEntry is an odometer-based trip typed in by the user.
type ManualEntry struct {
	Date          time.Time      `json:"date" validate:"required"`
	StartOdometer *float64       `json:"startOdometer" validate:"required,gte=0"`
	EndOdometer   *float64       `json:"endOdometer" validate:"required,gte=0"`
	Category      model.Category `json:"category"`
	Purpose       string         `json:"purpose,omitempty" validate:"max=500"`
}

var validate = validator.New()

// Delta is end minus start; zero if either reading is missing.
func (e ManualEntry) Delta() float64 {
	if e.StartOdometer == nil || e.EndOdometer == nil {
		return 0
	}
	return *e.EndOdometer - *e.StartOdometer
}

// Validate returns an error wrapping ErrInvalidManualEntry when the entry cannot become a trip.
func (e ManualEntry) Validate() error {
	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalidManualEntry, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidManualEntry, err)
	}
	if *e.EndOdometer <= *e.StartOdometer {
		return fmt.Errorf("%w: end odometer must be greater than start", ErrInvalidManualEntry)
	}
	if d := e.Delta(); d >= MaxManualDistance {
		return fmt.Errorf("%w: distance %.1f must be below %.0f", ErrInvalidManualEntry, d, MaxManualDistance)
	}
	return nil
}

// BuildManualTrip validates the entry and creates its record. The record uses
// the entry date for both start and end and never carries a route.
func BuildManualTrip(e ManualEntry) (model.TripRecord, error) {
	if err := e.Validate(); err != nil {
		return model.TripRecord{}, err
	}
	return model.TripRecord{
		ID:            uuid.NewString(),
		StartTime:     e.Date,
		EndTime:       e.Date,
		DistanceMiles: e.Delta(),
		Category:      e.Category,
		Purpose:       model.OptionalText(e.Purpose),
		IsManualEntry: true,
	}, nil
}
