package models

import "time"

// HourlyObservation is one row of the historic hourly listing.
// Timestamp carries the location's wall-clock time tagged as UTC.
type HourlyObservation struct {
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Description string    `json:"description"`
}

// DayLengthRecord is the length of daylight for one calendar date, in hours.
type DayLengthRecord struct {
	Date  time.Time `json:"date"`
	Hours float64   `json:"daylength"`
}

// DailySummary aggregates one date's hourly observations.
type DailySummary struct {
	Date             time.Time `json:"date"`
	MeanTemperature  float64   `json:"temperature"`
	ModalDescription string    `json:"description"`
	DayLengthHours   *float64  `json:"daylength,omitempty"` // nil until enriched or when no day-length row matched
}

// Date returns t truncated to midnight in its own location.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
