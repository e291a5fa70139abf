// Package quality derives the trip quality label from segment statistics
// and coordinate-log metadata.
package quality

import (
	"github.com/fleetops/tripsync/internal/model"
)

// Scoring constants for the heuristic quality score.
const (
	logSaturation    = 500.0 // log count at which logsFactor reaches 1.0
	ratioHigh        = 5.0   // short/long ratio at or above which segmentFactor is 1.0
	ratioLow         = 0.5   // short/long ratio at or below which segmentFactor is 0.0
	accuracyPenalty  = 0.8   // multiplier applied when GPS accuracy is deficient
	scoreThreshold   = 0.8   // minimum score for moderate/high quality
	highQualitySlack = 0.05  // medium+long share of calculated distance allowed for high quality
)

// Input carries everything the classifier needs. All values come from the
// trip record being synced; the classifier itself never fetches.
type Input struct {
	LogCount           int
	LowAccuracy        bool
	MediumCount        int
	LongCount          int
	ShortDistance      float64
	MediumDistance     float64
	LongDistance       float64
	CalculatedDistance float64
}

// Classify evaluates the rule list in order and returns the first matching
// label. Pure function, safe for concurrent use.
func Classify(in Input) model.QualityLabel {
	totalSegmentDistance := in.ShortDistance + in.MediumDistance + in.LongDistance

	if totalSegmentDistance <= 0 || in.LogCount <= 1 {
		return model.NoLogsTrip
	}

	if in.LogCount < 5 && in.MediumCount == 0 && in.LongCount == 0 {
		return model.NoLogsTrip
	}

	if in.LogCount < 50 && (in.MediumCount >= 1 || in.LongCount >= 1) {
		return model.TripPointsOnlyExist
	}

	// Carried over verbatim from the production rule set: the OR means this
	// matches any low-log trip missing either category, not just trips
	// missing both. Pinned by a regression test; do not change without
	// stakeholder sign-off.
	if in.LogCount < 50 && (in.MediumCount == 0 || in.LongCount == 0) {
		return model.LowQualityTrip
	}

	score := Score(in)

	if score >= scoreThreshold {
		baseline := in.CalculatedDistance
		if baseline < 0.01 {
			baseline = 0.01
		}
		if in.MediumDistance+in.LongDistance <= highQualitySlack*baseline {
			return model.HighQualityTrip
		}
		return model.ModerateQualityTrip
	}

	return model.LowQualityTrip
}

// Score computes the heuristic quality score in [0, 1]. Exposed separately
// so operators can inspect scores near the threshold.
func Score(in Input) float64 {
	logsFactor := float64(in.LogCount) / logSaturation
	if logsFactor > 1.0 {
		logsFactor = 1.0
	}

	ratio := in.ShortDistance / (in.MediumDistance + in.LongDistance + 0.01)

	var segmentFactor float64
	switch {
	case ratio >= ratioHigh:
		segmentFactor = 1.0
	case ratio <= ratioLow:
		segmentFactor = 0.0
	default:
		segmentFactor = (ratio - ratioLow) / (ratioHigh - ratioLow)
	}

	score := 0.5*logsFactor + 0.5*segmentFactor
	if in.LowAccuracy {
		score *= accuracyPenalty
	}

	return score
}
