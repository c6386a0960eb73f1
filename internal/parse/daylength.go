package parse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kjstillabower/weather-history-collector/internal/models"
)

const dayLengthCell = "td.c.tr.sep-l"

// ParseDayLength returns the day length in hours for day from a sun page.
func ParseDayLength(html string, day int) (float64, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, fmt.Errorf("%w: read document: %v", ErrParse, err)
	}
	return dayLength(doc, day)
}

// ParseDayLengthMonth parses every day of ym from one sun page. Days that fail
// are reported by day number in the returned map; the others are returned in order.
func ParseDayLengthMonth(html string, ym models.YearMonth) ([]models.DayLengthRecord, map[int]error, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read document: %v", ErrParse, err)
	}
	var (
		out    []models.DayLengthRecord
		failed map[int]error
	)
	for day := 1; day <= ym.Days(); day++ {
		hours, err := dayLength(doc, day)
		if err != nil {
			if failed == nil {
				failed = make(map[int]error)
			}
			failed[day] = err
			continue
		}
		out = append(out, models.DayLengthRecord{Date: ym.Date(day), Hours: hours})
	}
	return out, failed, nil
}

func dayLength(doc *goquery.Document, day int) (float64, error) {
	row := doc.Find(fmt.Sprintf(`tr[data-day="%d"]`, day)).First()
	if row.Length() == 0 {
		return 0, fmt.Errorf("%w: no row for day %d", ErrParse, day)
	}
	cell := row.Find(dayLengthCell).First()
	if cell.Length() == 0 {
		return 0, fmt.Errorf("%w: no day length cell for day %d", ErrParse, day)
	}
	return ParseClock(cell.Text())
}

// ParseClock converts "H:MM:SS" into fractional hours.
func ParseClock(s string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: day length %q is not H:MM:SS", ErrParse, s)
	}
	var v [3]float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: day length %q", ErrParse, s)
		}
		v[i] = n
	}
	if v[1] >= 60 || v[2] >= 60 {
		return 0, fmt.Errorf("%w: day length %q out of range", ErrParse, s)
	}
	return v[0] + v[1]/60 + v[2]/3600, nil
}
