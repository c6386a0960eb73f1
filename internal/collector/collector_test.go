package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/weather-history-collector/internal/cache"
	"github.com/kjstillabower/weather-history-collector/internal/fetch"
	"github.com/kjstillabower/weather-history-collector/internal/models"
	"github.com/kjstillabower/weather-history-collector/internal/observability"
	"github.com/kjstillabower/weather-history-collector/internal/parse"
)

// hourlyPage renders an hourly listing whose first row is labelled with day.
// day 0 leaves the label off.
func hourlyPage(day int, temps ...float64) string {
	var b strings.Builder
	b.WriteString(`<html><body><table><tr><td>links</td></tr></table><table><thead><tr><th>Time</th></tr></thead><tbody>`)
	for i, t := range temps {
		label := fmt.Sprintf("%02d:00", i)
		if i == 0 && day > 0 {
			label += fmt.Sprintf("<br><span>Mon, %d Mar</span>", day)
		}
		fmt.Fprintf(&b, `<tr><th>%s</th><td></td><td>%.1f&nbsp;°C</td><td>Sunny.</td></tr>`, label, t)
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

type fakeSession struct {
	mu     sync.Mutex
	fn     func(call int, date time.Time) (string, error)
	calls  int
	resets int
	closed bool
}

func (s *fakeSession) DayPage(ctx context.Context, date time.Time) (string, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.fn(call, date)
}

func (s *fakeSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeFactory struct {
	mu       sync.Mutex
	fn       func(call int, date time.Time) (string, error)
	err      error
	sessions []*fakeSession
}

func (f *fakeFactory) Open(ctx context.Context) (fetch.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSession{fn: f.fn}
	f.sessions = append(f.sessions, s)
	return s, nil
}

type fakePages struct {
	body  string
	err   error
	calls int
}

func (p *fakePages) Get(ctx context.Context, source, url string) (string, error) {
	p.calls++
	return p.body, p.err
}

var testSite = fetch.Site{BaseURL: "http://example.test", Location: "uk/london"}

func testConfig() Config {
	return Config{AlignAttempts: 3, AlignBaseDelay: time.Millisecond, AlignMaxDelay: 2 * time.Millisecond}
}

func TestFetchDay_DiscardsStalePageAndRetries(t *testing.T) {
	sess := &fakeSession{fn: func(call int, date time.Time) (string, error) {
		if call == 1 {
			return hourlyPage(5, 1, 2), nil
		}
		return hourlyPage(6, 7.5, 8.5), nil
	}}
	c := New(nil, nil, testSite, nil, testConfig(), nil)

	date := time.Date(2020, time.March, 6, 0, 0, 0, 0, time.UTC)
	got, err := c.FetchDay(context.Background(), sess, date)
	if err != nil {
		t.Fatalf("FetchDay() error = %v", err)
	}
	if sess.calls != 2 {
		t.Errorf("DayPage calls = %d, want 2", sess.calls)
	}
	if sess.resets != 1 {
		t.Errorf("Reset calls = %d, want 1", sess.resets)
	}
	if len(got) != 2 || got[0].Temperature != 7.5 || got[1].Temperature != 8.5 {
		t.Fatalf("FetchDay() = %+v, want the day 6 rows", got)
	}
	if want := time.Date(2020, time.March, 6, 1, 0, 0, 0, time.UTC); !got[1].Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", got[1].Timestamp, want)
	}
	if got[0].Description != "Sunny" {
		t.Errorf("Description = %q, want Sunny", got[0].Description)
	}
}

func TestFetchDay_AlignmentExhausted(t *testing.T) {
	tests := []struct {
		name     string
		pageDay  int
		wantSeen int
	}{
		{"wrong day", 5, 5},
		{"no day label", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &fakeSession{fn: func(int, time.Time) (string, error) {
				return hourlyPage(tt.pageDay, 1), nil
			}}
			c := New(nil, nil, testSite, nil, testConfig(), nil)

			_, err := c.FetchDay(context.Background(), sess, time.Date(2020, time.March, 6, 0, 0, 0, 0, time.UTC))
			if !errors.Is(err, ErrAlignmentExhausted) {
				t.Fatalf("FetchDay() error = %v, want ErrAlignmentExhausted", err)
			}
			if !errors.Is(err, fetch.ErrFetch) {
				t.Errorf("FetchDay() error = %v, want it to match fetch.ErrFetch", err)
			}
			var mismatch *AlignmentMismatch
			if !errors.As(err, &mismatch) {
				t.Fatalf("FetchDay() error = %v, want *AlignmentMismatch inside", err)
			}
			if mismatch.PageDay != tt.wantSeen {
				t.Errorf("PageDay = %d, want %d", mismatch.PageDay, tt.wantSeen)
			}
			if sess.calls != 3 {
				t.Errorf("DayPage calls = %d, want 3", sess.calls)
			}
		})
	}
}

func TestFetchDay_ErrorsAreTerminal(t *testing.T) {
	tests := []struct {
		name    string
		page    string
		err     error
		wantErr error
	}{
		{"fetch error", "", fmt.Errorf("%w: boom", fetch.ErrFetch), fetch.ErrFetch},
		{"parse error", "<html><table></table></html>", nil, parse.ErrParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &fakeSession{fn: func(int, time.Time) (string, error) { return tt.page, tt.err }}
			c := New(nil, nil, testSite, nil, testConfig(), nil)

			_, err := c.FetchDay(context.Background(), sess, time.Date(2020, time.March, 6, 0, 0, 0, 0, time.UTC))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("FetchDay() error = %v, want %v", err, tt.wantErr)
			}
			if sess.calls != 1 {
				t.Errorf("DayPage calls = %d, want 1", sess.calls)
			}
		})
	}
}

func TestFetchDay_UsesPageCache(t *testing.T) {
	pageCache := cache.NewInMemoryCache()
	cfg := testConfig()
	cfg.CacheTTL = time.Hour
	c := New(nil, nil, testSite, pageCache, cfg, nil)

	date := time.Date(2020, time.March, 6, 0, 0, 0, 0, time.UTC)
	sess := &fakeSession{fn: func(int, time.Time) (string, error) { return hourlyPage(6, 3), nil }}

	if _, err := c.FetchDay(context.Background(), sess, date); err != nil {
		t.Fatalf("FetchDay() error = %v", err)
	}
	got, err := c.FetchDay(context.Background(), sess, date)
	if err != nil {
		t.Fatalf("FetchDay() error = %v", err)
	}
	if sess.calls != 1 {
		t.Errorf("DayPage calls = %d, want 1 (second served from cache)", sess.calls)
	}
	if len(got) != 1 || got[0].Temperature != 3 {
		t.Errorf("FetchDay() = %+v", got)
	}
}

func TestCollectHourly_IsolatesDayFailures(t *testing.T) {
	factory := &fakeFactory{fn: func(call int, date time.Time) (string, error) {
		if date.Day() == 10 {
			return "", fmt.Errorf("%w: %w", fetch.ErrFetch, fetch.ErrNotFound)
		}
		return hourlyPage(date.Day(), float64(date.Day()), float64(date.Day())+0.5), nil
	}}
	c := New(factory, nil, testSite, nil, testConfig(), nil)

	ym := models.YearMonth{Year: 2021, Month: time.February}
	obs, failures := c.CollectHourly(context.Background(), ym)

	if len(factory.sessions) != 1 {
		t.Fatalf("sessions opened = %d, want 1", len(factory.sessions))
	}
	if !factory.sessions[0].closed {
		t.Errorf("session not closed")
	}
	if len(obs) != 27*2 {
		t.Errorf("len(obs) = %d, want %d", len(obs), 27*2)
	}
	for i := 1; i < len(obs); i++ {
		if obs[i].Timestamp.Before(obs[i-1].Timestamp) {
			t.Fatalf("observations out of order at %d", i)
		}
	}
	if len(failures) != 1 {
		t.Fatalf("len(failures) = %d, want 1", len(failures))
	}
	if f := failures[0]; f.Date.Day() != 10 || f.Date.Month() != time.February || f.Date.Year() != 2021 {
		t.Errorf("failure date = %v, want 2021-02-10", f.Date)
	}
	if !errors.Is(failures[0], fetch.ErrNotFound) {
		t.Errorf("failure = %v, want ErrNotFound", failures[0])
	}
}

func TestCollectHourly_OpenFailureFailsEveryDay(t *testing.T) {
	factory := &fakeFactory{err: fmt.Errorf("%w: no browser", fetch.ErrFetch)}
	c := New(factory, nil, testSite, nil, testConfig(), nil)

	obs, failures := c.CollectHourly(context.Background(), models.YearMonth{Year: 2020, Month: time.February})
	if len(obs) != 0 {
		t.Errorf("len(obs) = %d, want 0", len(obs))
	}
	if len(failures) != 29 {
		t.Errorf("len(failures) = %d, want 29", len(failures))
	}
}

func TestCollectHourly_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	factory := &fakeFactory{fn: func(call int, date time.Time) (string, error) {
		if date.Day() == 3 {
			cancel()
		}
		return hourlyPage(date.Day(), 1), nil
	}}
	c := New(factory, nil, testSite, nil, testConfig(), nil)

	obs, failures := c.CollectHourly(ctx, models.YearMonth{Year: 2020, Month: time.March})
	if len(obs) != 3 {
		t.Errorf("len(obs) = %d, want 3", len(obs))
	}
	if calls := factory.sessions[0].calls; calls != 3 {
		t.Errorf("DayPage calls = %d, want 3", calls)
	}
	if len(failures) != 28 {
		t.Fatalf("len(failures) = %d, want 28 (days 4-31)", len(failures))
	}
	if got := failures[0].Date; got != time.Date(2020, time.March, 4, 0, 0, 0, 0, time.UTC) {
		t.Errorf("first failure = %v, want 2020-03-04", got)
	}
	if !errors.Is(failures[0], context.Canceled) {
		t.Errorf("failure = %v, want context.Canceled", failures[0])
	}
}

func sunPage(ym models.YearMonth, skip map[int]bool) string {
	var b strings.Builder
	b.WriteString(`<html><body><table id="as-monthsun"><tbody>`)
	for day := 1; day <= ym.Days(); day++ {
		if skip[day] {
			continue
		}
		fmt.Fprintf(&b, `<tr data-day="%d"><th>%d</th><td class="c tr sep-l">12:%02d:00</td></tr>`, day, day, day)
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

func TestCollectDayLength_Month(t *testing.T) {
	ym := models.YearMonth{Year: 2020, Month: time.April}
	pages := &fakePages{body: sunPage(ym, map[int]bool{7: true})}
	c := New(nil, pages, testSite, nil, testConfig(), nil)

	records, failures := c.CollectDayLength(context.Background(), ym)
	if len(records) != 29 {
		t.Fatalf("len(records) = %d, want 29", len(records))
	}
	if records[0].Hours != 12+1.0/60 {
		t.Errorf("records[0].Hours = %v, want %v", records[0].Hours, 12+1.0/60)
	}
	if len(failures) != 1 || failures[0].Date.Day() != 7 {
		t.Fatalf("failures = %v, want day 7", failures)
	}
	if !errors.Is(failures[0], parse.ErrParse) {
		t.Errorf("failure = %v, want ErrParse", failures[0])
	}
}

func TestCollectDayLength_FetchFailureFailsMonth(t *testing.T) {
	pages := &fakePages{err: fmt.Errorf("%w: %w", fetch.ErrFetch, fetch.ErrUpstreamFailure)}
	c := New(nil, pages, testSite, nil, testConfig(), nil)

	records, failures := c.CollectDayLength(context.Background(), models.YearMonth{Year: 2020, Month: time.April})
	if len(records) != 0 {
		t.Errorf("len(records) = %d, want 0", len(records))
	}
	if len(failures) != 30 {
		t.Fatalf("len(failures) = %d, want 30", len(failures))
	}
	for _, f := range failures {
		if !errors.Is(f, fetch.ErrUpstreamFailure) {
			t.Fatalf("failure = %v, want ErrUpstreamFailure", f)
		}
	}
}

func TestCollectDayLength_CachesPage(t *testing.T) {
	ym := models.YearMonth{Year: 2020, Month: time.April}
	pages := &fakePages{body: sunPage(ym, nil)}
	cfg := testConfig()
	cfg.CacheTTL = time.Hour
	c := New(nil, pages, testSite, cache.NewInMemoryCache(), cfg, nil)

	for i := 0; i < 2; i++ {
		if records, failures := c.CollectDayLength(context.Background(), ym); len(records) != 30 || failures != nil {
			t.Fatalf("CollectDayLength() = %d records, %v", len(records), failures)
		}
	}
	if pages.calls != 1 {
		t.Errorf("page loads = %d, want 1", pages.calls)
	}
}

func TestCategorizeCacheError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("set: %w", cache.ErrPageTooLarge), "too_large"},
		{errors.New("memcache: i/o timeout"), "timeout"},
		{errors.New("dial tcp: connection refused"), "connection"},
		{errors.New("memcache: unexpected response"), "unknown"},
	}
	for _, tt := range tests {
		if got := categorizeCacheError(tt.err); got != tt.want {
			t.Errorf("categorizeCacheError(%q) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

// monthsCollected reads monthsCollectedTotal for source from the /metrics output.
func monthsCollected(t *testing.T, source string) float64 {
	t.Helper()
	w := httptest.NewRecorder()
	observability.MetricsHandler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	prefix := fmt.Sprintf("monthsCollectedTotal{source=%q} ", source)
	for _, line := range strings.Split(w.Body.String(), "\n") {
		if strings.HasPrefix(line, prefix) {
			v, err := strconv.ParseFloat(strings.TrimPrefix(line, prefix), 64)
			if err != nil {
				t.Fatalf("parse %q: %v", line, err)
			}
			return v
		}
	}
	return 0
}

func TestMonthsCollected_CountsOnlyFullMonths(t *testing.T) {
	ym := models.YearMonth{Year: 2020, Month: time.April}
	tests := []struct {
		name   string
		source string
		run    func(ctx context.Context, cancel context.CancelFunc)
		want   float64
	}{
		{
			name:   "hourly complete",
			source: sourceHourly,
			run: func(ctx context.Context, _ context.CancelFunc) {
				factory := &fakeFactory{fn: func(_ int, date time.Time) (string, error) { return hourlyPage(date.Day(), 1), nil }}
				New(factory, nil, testSite, nil, testConfig(), nil).CollectHourly(ctx, ym)
			},
			want: 1,
		},
		{
			name:   "hourly cancelled",
			source: sourceHourly,
			run: func(ctx context.Context, cancel context.CancelFunc) {
				factory := &fakeFactory{fn: func(_ int, date time.Time) (string, error) {
					if date.Day() == 2 {
						cancel()
					}
					return hourlyPage(date.Day(), 1), nil
				}}
				New(factory, nil, testSite, nil, testConfig(), nil).CollectHourly(ctx, ym)
			},
		},
		{
			name:   "day length page failed",
			source: sourceDayLength,
			run: func(ctx context.Context, _ context.CancelFunc) {
				pages := &fakePages{err: fmt.Errorf("%w: %w", fetch.ErrFetch, fetch.ErrUpstreamFailure)}
				New(nil, pages, testSite, nil, testConfig(), nil).CollectDayLength(ctx, ym)
			},
		},
		{
			name:   "day length complete",
			source: sourceDayLength,
			run: func(ctx context.Context, _ context.CancelFunc) {
				pages := &fakePages{body: sunPage(ym, nil)}
				New(nil, pages, testSite, nil, testConfig(), nil).CollectDayLength(ctx, ym)
			},
			want: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			before := monthsCollected(t, tt.source)
			tt.run(ctx, cancel)
			if got := monthsCollected(t, tt.source) - before; got != tt.want {
				t.Errorf("monthsCollectedTotal{source=%q} grew by %v, want %v", tt.source, got, tt.want)
			}
		})
	}
}
