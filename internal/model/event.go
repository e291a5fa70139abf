package model

import (
	"math"
	"time"
)

// InteractionEvent is one row from the spreadsheet-sourced driver interaction
// log. The spreadsheet reader itself lives outside this engine; events arrive
// already parsed through the service.EventSource contract.
type InteractionEvent struct {
	At     time.Time
	TripID string
	Action string
	Source PointSource
}

// InteractionMetrics summarizes driver-app engagement for one trip.
type InteractionMetrics struct {
	DriverAppEvents int
	LocationEvents  int
	Rate            float64 // driver-app share of all events, percent
}

// ComputeInteractionMetrics derives engagement metrics from an event log.
// Events for other trips are ignored so callers can pass a whole export.
func ComputeInteractionMetrics(tripID string, events []InteractionEvent) InteractionMetrics {
	var m InteractionMetrics
	for _, ev := range events {
		if ev.TripID != tripID {
			continue
		}
		switch ev.Source {
		case SourceDriverApp:
			m.DriverAppEvents++
		case SourceLocation:
			m.LocationEvents++
		}
	}
	total := m.DriverAppEvents + m.LocationEvents
	if total > 0 {
		m.Rate = math.Round(float64(m.DriverAppEvents)/float64(total)*10000) / 100
	}
	return m
}
