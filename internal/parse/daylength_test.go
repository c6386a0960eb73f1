package parse

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kjstillabower/weather-history-collector/internal/models"
)

func TestParseDayLength(t *testing.T) {
	html := readFixture(t, "sun.html")
	got, err := ParseDayLength(html, 2)
	if err != nil {
		t.Fatalf("ParseDayLength() error = %v", err)
	}
	want := 8 + 30.0/60 + 15.0/3600
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("ParseDayLength() = %v, want %v", got, want)
	}
}

func TestParseDayLength_Missing(t *testing.T) {
	html := readFixture(t, "sun.html")
	tests := []struct {
		name string
		day  int
	}{
		{"no row", 9},
		{"no day length cell", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDayLength(html, tt.day); !errors.Is(err, ErrParse) {
				t.Errorf("ParseDayLength(day %d) error = %v, want ErrParse", tt.day, err)
			}
		})
	}
}

func TestParseDayLengthMonth(t *testing.T) {
	ym := models.YearMonth{Year: 2021, Month: time.February}
	recs, failed, err := ParseDayLengthMonth(readFixture(t, "sun.html"), ym)
	if err != nil {
		t.Fatalf("ParseDayLengthMonth() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}
	if !recs[0].Date.Equal(ym.Date(1)) || !recs[1].Date.Equal(ym.Date(2)) {
		t.Errorf("dates = %v, %v", recs[0].Date, recs[1].Date)
	}
	if len(failed) != 26 {
		t.Errorf("len(failed) = %d, want 26", len(failed))
	}
	if _, ok := failed[3]; !ok {
		t.Error("day 3 should be reported as failed")
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"12:00:00", 12, false},
		{"7:45:36", 7.76, false},
		{" 16:30:00 ", 16.5, false},
		{"7:45", 0, true},
		{"7:61:00", 0, true},
		{"a:b:c", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrParse) {
				t.Errorf("ParseClock(%q) error = %v, want ErrParse", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClock(%q) error = %v", tt.in, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ParseClock(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
