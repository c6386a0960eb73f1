package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kjstillabower/weather-history-collector/internal/models"
)

var (
	hourlyHeader    = []string{"timestamp", "temperature", "description"}
	dayLengthHeader = []string{"timestamp", "daylength"}
	dailyHeader     = []string{"timestamp", "temperature", "description", "daylength"}
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func encodeObservation(o models.HourlyObservation) []string {
	return []string{o.Timestamp.Format(TimestampLayout), formatFloat(o.Temperature), o.Description}
}

func decodeObservation(rec []string) (models.HourlyObservation, error) {
	ts, err := time.Parse(TimestampLayout, rec[0])
	if err != nil {
		return models.HourlyObservation{}, fmt.Errorf("timestamp %q: %w", rec[0], err)
	}
	temp, err := strconv.ParseFloat(rec[1], 64)
	if err != nil {
		return models.HourlyObservation{}, fmt.Errorf("temperature %q: %w", rec[1], err)
	}
	return models.HourlyObservation{Timestamp: ts, Temperature: temp, Description: rec[2]}, nil
}

func encodeDayLength(r models.DayLengthRecord) []string {
	return []string{r.Date.Format(DateLayout), formatFloat(r.Hours)}
}

func decodeDayLength(rec []string) (models.DayLengthRecord, error) {
	date, err := time.Parse(DateLayout, rec[0])
	if err != nil {
		return models.DayLengthRecord{}, fmt.Errorf("date %q: %w", rec[0], err)
	}
	hours, err := strconv.ParseFloat(rec[1], 64)
	if err != nil {
		return models.DayLengthRecord{}, fmt.Errorf("daylength %q: %w", rec[1], err)
	}
	return models.DayLengthRecord{Date: date, Hours: hours}, nil
}

// encodeDaily leaves the daylength cell empty when the summary has none.
func encodeDaily(d models.DailySummary) []string {
	daylength := ""
	if d.DayLengthHours != nil {
		daylength = formatFloat(*d.DayLengthHours)
	}
	return []string{d.Date.Format(DateLayout), formatFloat(d.MeanTemperature), d.ModalDescription, daylength}
}

func decodeDaily(rec []string) (models.DailySummary, error) {
	date, err := time.Parse(DateLayout, rec[0])
	if err != nil {
		return models.DailySummary{}, fmt.Errorf("date %q: %w", rec[0], err)
	}
	temp, err := strconv.ParseFloat(rec[1], 64)
	if err != nil {
		return models.DailySummary{}, fmt.Errorf("temperature %q: %w", rec[1], err)
	}
	d := models.DailySummary{Date: date, MeanTemperature: temp, ModalDescription: rec[2]}
	if rec[3] != "" {
		h, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return models.DailySummary{}, fmt.Errorf("daylength %q: %w", rec[3], err)
		}
		d.DayLengthHours = &h
	}
	return d, nil
}
