// Package parse extracts hourly observation rows and day-length values from
// the historic weather and sun pages. The selectors mirror the live markup:
// the hourly table is the second <table> on the page with observations in its
// second element child, and day-length rows carry a data-day attribute.
package parse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/kjstillabower/weather-history-collector/internal/models"
)

// ErrParse is returned when the expected markup is missing or malformed. It
// usually means the site changed its layout or the page was read before it rendered.
var ErrParse = errors.New("parse error")

// HourlyRow is one raw row of the hourly table.
type HourlyRow struct {
	// Day is the day of month from the row label, or 0 when the row has none.
	// Only the first row of a day's table normally carries it.
	Day         int
	Hour        int
	Minute      int
	Temperature float64
	Description string
}

// Observation combines the row's time of day with date.
func (r HourlyRow) Observation(date time.Time) models.HourlyObservation {
	y, m, d := date.Date()
	return models.HourlyObservation{
		Timestamp:   time.Date(y, m, d, r.Hour, r.Minute, 0, 0, time.UTC),
		Temperature: r.Temperature,
		Description: r.Description,
	}
}

var timeOfDayRe = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})`)

// ParseHourly returns the rows of the hourly observation table in page order.
func ParseHourly(html string) ([]HourlyRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: read document: %v", ErrParse, err)
	}

	tables := doc.Find("table")
	if tables.Length() < 2 {
		return nil, fmt.Errorf("%w: expected at least 2 tables, found %d", ErrParse, tables.Length())
	}
	children := tables.Eq(1).Children()
	if children.Length() < 2 {
		return nil, fmt.Errorf("%w: observation table has %d blocks, want at least 2", ErrParse, children.Length())
	}
	trs := children.Eq(1).Find("tr")
	if trs.Length() == 0 {
		return nil, fmt.Errorf("%w: observation table has no rows", ErrParse)
	}

	rows := make([]HourlyRow, 0, trs.Length())
	var rowErr error
	trs.EachWithBreak(func(i int, tr *goquery.Selection) bool {
		row, err := parseHourlyRow(tr)
		if err != nil {
			rowErr = fmt.Errorf("row %d: %w", i, err)
			return false
		}
		rows = append(rows, row)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return rows, nil
}

func parseHourlyRow(tr *goquery.Selection) (HourlyRow, error) {
	ths := tr.Find("th")
	if ths.Length() == 0 {
		return HourlyRow{}, fmt.Errorf("%w: missing time label", ErrParse)
	}
	label := ths.Eq(0).Text()
	m := timeOfDayRe.FindStringSubmatchIndex(label)
	if m == nil {
		return HourlyRow{}, fmt.Errorf("%w: no time of day in %q", ErrParse, label)
	}
	hour, _ := strconv.Atoi(label[m[2]:m[3]])
	minute, _ := strconv.Atoi(label[m[4]:m[5]])
	if hour > 23 || minute > 59 {
		return HourlyRow{}, fmt.Errorf("%w: time out of range in %q", ErrParse, label)
	}

	tds := tr.Find("td")
	if tds.Length() < 3 {
		return HourlyRow{}, fmt.Errorf("%w: expected at least 3 cells, found %d", ErrParse, tds.Length())
	}
	temp, err := parseTemperature(tds.Eq(1).Text())
	if err != nil {
		return HourlyRow{}, err
	}

	return HourlyRow{
		Day:         dayFromLabel(label[m[1]:]),
		Hour:        hour,
		Minute:      minute,
		Temperature: temp,
		Description: cleanDescription(tds.Eq(2).Text()),
	}, nil
}

// dayFromLabel returns the first all-digit token, e.g. 3 from "Tue, 3 Mar".
func dayFromLabel(rest string) int {
	for _, f := range strings.Fields(rest) {
		f = strings.Trim(f, ",.")
		if n, err := strconv.Atoi(f); err == nil && n >= 1 && n <= 31 {
			return n
		}
	}
	return 0
}

// parseTemperature reads the leading numeric token, e.g. 7.2 from "7.2 °C".
func parseTemperature(s string) (float64, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: empty temperature cell", ErrParse)
	}
	tok := strings.TrimRight(fields[0], "°CFcf")
	tok = strings.Replace(tok, "\u2212", "-", 1)
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: temperature %q: %v", ErrParse, s, err)
	}
	return v, nil
}

// cleanDescription trims whitespace and one trailing '.' or ','.
func cleanDescription(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, ".") || strings.HasSuffix(s, ",") {
		s = s[:len(s)-1]
	}
	return strings.TrimSpace(s)
}
