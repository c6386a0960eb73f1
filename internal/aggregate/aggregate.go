// Package aggregate turns hourly observations into daily summaries.
package aggregate

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kjstillabower/weather-history-collector/internal/models"
)

// ErrAggregation is returned for records that cannot be grouped by date.
var ErrAggregation = errors.New("aggregation error")

// Round1 rounds to one decimal place, halves to even.
func Round1(x float64) float64 {
	return math.RoundToEven(x*10) / 10
}

type dayGroup struct {
	date  time.Time
	sum   float64
	n     int
	order []string
	count map[string]int
}

// ToDaily groups obs by calendar date, in ascending date order. Each summary
// has the rounded mean temperature and the most frequent description; ties go
// to the description seen first.
func ToDaily(obs []models.HourlyObservation) ([]models.DailySummary, error) {
	groups := make(map[time.Time]*dayGroup)
	for i, o := range obs {
		if o.Timestamp.IsZero() {
			return nil, fmt.Errorf("%w: observation %d has no timestamp", ErrAggregation, i)
		}
		if math.IsNaN(o.Temperature) || math.IsInf(o.Temperature, 0) {
			return nil, fmt.Errorf("%w: observation %d at %s has temperature %v", ErrAggregation, i, o.Timestamp.Format(time.DateTime), o.Temperature)
		}
		date := models.Date(o.Timestamp)
		g, ok := groups[date]
		if !ok {
			g = &dayGroup{date: date, count: make(map[string]int)}
			groups[date] = g
		}
		g.sum += o.Temperature
		g.n++
		if g.count[o.Description] == 0 {
			g.order = append(g.order, o.Description)
		}
		g.count[o.Description]++
	}

	out := make([]models.DailySummary, 0, len(groups))
	for _, g := range groups {
		out = append(out, models.DailySummary{
			Date:             g.date,
			MeanTemperature:  Round1(g.sum / float64(g.n)),
			ModalDescription: g.mode(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (g *dayGroup) mode() string {
	var best string
	bestN := 0
	for _, d := range g.order {
		if n := g.count[d]; n > bestN {
			best, bestN = d, n
		}
	}
	return best
}

// Enrich left-joins day length onto daily by date. Every summary is kept;
// those without a matching record keep a nil DayLengthHours. If daylength
// repeats a date, the first record wins. The input slice is not modified.
func Enrich(daily []models.DailySummary, daylength []models.DayLengthRecord) ([]models.DailySummary, error) {
	hours := make(map[time.Time]float64, len(daylength))
	for i, r := range daylength {
		if r.Date.IsZero() {
			return nil, fmt.Errorf("%w: day length record %d has no date", ErrAggregation, i)
		}
		date := models.Date(r.Date)
		if _, ok := hours[date]; !ok {
			hours[date] = r.Hours
		}
	}

	out := make([]models.DailySummary, len(daily))
	for i, d := range daily {
		out[i] = d
		out[i].DayLengthHours = nil
		if h, ok := hours[models.Date(d.Date)]; ok {
			out[i].DayLengthHours = &h
		}
	}
	return out, nil
}
