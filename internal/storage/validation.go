package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/fleetops/tripsync/internal/model"
)

// Validation errors.
var (
	ErrNilContext   = errors.New("context cannot be nil")
	ErrEmptyString  = errors.New("string parameter cannot be empty")
	ErrNilParameter = errors.New("parameter cannot be nil")
	ErrInvalidTrip  = errors.New("invalid trip")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateTrip validates a trip record before persistence.
func validateTrip(trip *model.Trip) error {
	if trip == nil {
		return fmt.Errorf("%w: trip", ErrNilParameter)
	}
	if strings.TrimSpace(trip.ID) == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTrip)
	}
	if trip.QualityLabel != nil && !trip.QualityLabel.Valid() {
		return fmt.Errorf("%w: unknown quality label %q", ErrInvalidTrip, *trip.QualityLabel)
	}
	for name, v := range map[string]*float64{
		"calculated_distance": trip.CalculatedDistance,
		"manual_distance":     trip.ManualDistance,
		"pickup_rate":         trip.PickupRate,
		"dropoff_rate":        trip.DropoffRate,
		"overall_rate":        trip.OverallRate,
	} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalidTrip, name)
		}
	}
	return nil
}
