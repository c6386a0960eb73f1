package fetch

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/weather-history-collector/internal/models"
)

// Site builds page URLs for one location on the upstream site.
// Location is the path slug, e.g. "uk/london".
type Site struct {
	BaseURL  string
	Location string
}

func (s Site) base() string {
	return strings.TrimRight(s.BaseURL, "/")
}

// MonthURL is the hourly historic listing for ym; it links to every day.
func (s Site) MonthURL(ym models.YearMonth) string {
	return fmt.Sprintf("%s/weather/%s/historic?month=%d&year=%d", s.base(), s.Location, int(ym.Month), ym.Year)
}

// DayHref is the relative link the month listing uses for date.
func (s Site) DayHref(date time.Time) string {
	return fmt.Sprintf("/weather/%s/historic?hd=%04d%02d%02d", s.Location, date.Year(), int(date.Month()), date.Day())
}

// DayLengthURL is the sun page listing day length for every day of ym.
func (s Site) DayLengthURL(ym models.YearMonth) string {
	return fmt.Sprintf("%s/sun/%s?month=%d&year=%d", s.base(), s.Location, int(ym.Month), ym.Year)
}

// Resolve turns an href from a page into an absolute URL.
func (s Site) Resolve(href string) (string, error) {
	base, err := url.Parse(s.base() + "/")
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("invalid href %q: %w", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}
