package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/weather-history-collector/internal/models"
)

func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	if err := c.Set(ctx, "k", "<html>page</html>", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got != "<html>page</html>" {
		t.Errorf("Get() = %q", got)
	}
}

func TestInMemoryCache_Get_Miss(t *testing.T) {
	c := NewInMemoryCache()

	_, ok, err := c.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	now := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "k", "page", time.Minute)
	now = now.Add(2 * time.Minute)

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after expired access", c.Len())
	}
}

func TestInMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%4)
			for j := 0; j < 100; j++ {
				_ = c.Set(ctx, key, "page", time.Minute)
				_, _, _ = c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() != 4 {
		t.Errorf("Len() = %d, want 4", c.Len())
	}
}

func TestKeys(t *testing.T) {
	date := time.Date(2020, time.March, 3, 0, 0, 0, 0, time.UTC)
	if got, want := HourlyKey("uk/london", date), "hourly:uk/london:2020-03-03"; got != want {
		t.Errorf("HourlyKey() = %q, want %q", got, want)
	}
	ym := models.YearMonth{Year: 2020, Month: time.March}
	if got, want := DayLengthKey("uk/london", ym), "daylength:uk/london:2020-03"; got != want {
		t.Errorf("DayLengthKey() = %q, want %q", got, want)
	}
}

func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" a:1, ,b:2 ")
	if len(got) != 2 || got[0] != "a:1" || got[1] != "b:2" {
		t.Errorf("parseAddrs() = %v, want [a:1 b:2]", got)
	}
}

func TestMemcachedCache_Key(t *testing.T) {
	c, _ := NewMemcachedCache("localhost:11211", 0, 0)
	tests := []struct {
		name, in, want string
	}{
		{"plain", "hourly:uk/london:2020-03-03", "whc:hourly:uk/london:2020-03-03"},
		{"whitespace", "hourly:new york\t:2020", "whc:hourly:new_york_:2020"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.key(tt.in); got != tt.want {
				t.Errorf("key(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	long := c.key(strings.Repeat("x", 300))
	if len(long) > maxKeyLen || !strings.HasPrefix(long, "whc:sha256:") {
		t.Errorf("key(long) = %q, want hashed key within %d bytes", long, maxKeyLen)
	}
	if long != c.key(strings.Repeat("x", 300)) {
		t.Error("hashed key is not stable")
	}
}

func TestMemcachedCache_Set_TooLarge(t *testing.T) {
	c, _ := NewMemcachedCache("localhost:11211", 0, 0)
	page := strings.Repeat("a", maxItemBytes+1)
	if err := c.Set(context.Background(), "k", page, time.Minute); !errors.Is(err, ErrPageTooLarge) {
		t.Errorf("Set() error = %v, want ErrPageTooLarge", err)
	}
}
