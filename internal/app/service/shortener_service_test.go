package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/sifan077/shortlink/internal/app/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	chromeDesktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	iPhoneUA        = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(store *memoryStore, opts ...func(*ShortenerDeps)) ShortenerService {
	deps := ShortenerDeps{URLs: store, Clicks: store}
	for _, opt := range opts {
		opt(&deps)
	}
	return NewShortenerService(deps)
}

func withGenerator(g CodeGenerator) func(*ShortenerDeps) {
	return func(d *ShortenerDeps) { d.Generator = g }
}

func withClock(c *fixedClock) func(*ShortenerDeps) {
	return func(d *ShortenerDeps) { d.Now = c.Now }
}

func TestShortenerService_ShortenAndResolve(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	ctx := context.Background()

	link, err := svc.Shorten(ctx, ShortenInput{OriginalURL: "https://example.com/page", UserID: "user-1"})
	require.NoError(t, err)

	assert.Len(t, link.ShortCode, DefaultCodeLength)
	for _, r := range link.ShortCode {
		assert.True(t, strings.ContainsRune(CodeAlphabet, r), "unexpected rune %q", r)
	}
	assert.Equal(t, int64(0), link.ClickCount)
	assert.Equal(t, time.UTC, link.CreatedAt.Location())
	assert.Nil(t, link.ExpiresAt)

	target, err := svc.Resolve(ctx, link.ShortCode, RequestContext{UserAgent: chromeDesktopUA})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/page", target)

	count, rows := store.clickCount(link.ShortCode)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, rows)
}

func TestShortenerService_Shorten_Validation(t *testing.T) {
	tests := []struct {
		name    string
		input   ShortenInput
		wantErr error
	}{
		{name: "relative url", input: ShortenInput{OriginalURL: "not-a-url", UserID: "user-1"}, wantErr: ErrInvalidInput},
		{name: "empty url", input: ShortenInput{OriginalURL: "", UserID: "user-1"}, wantErr: ErrInvalidInput},
		{name: "scheme without host", input: ShortenInput{OriginalURL: "http://", UserID: "user-1"}, wantErr: ErrInvalidInput},
		{name: "path only", input: ShortenInput{OriginalURL: "/docs/page", UserID: "user-1"}, wantErr: ErrInvalidInput},
		{name: "missing user", input: ShortenInput{OriginalURL: "https://example.com"}, wantErr: ErrUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			svc := newTestService(store)

			_, err := svc.Shorten(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, store.creates)
		})
	}
}

func TestShortenerService_Shorten_AcceptsAbsoluteURIs(t *testing.T) {
	for _, raw := range []string{
		"https://example.com",
		"http://localhost:8080/a?b=c#d",
		"ftp://files.example.com/pub",
		"mailto:someone@example.com",
	} {
		t.Run(raw, func(t *testing.T) {
			svc := newTestService(newMemoryStore())
			_, err := svc.Shorten(context.Background(), ShortenInput{OriginalURL: raw, UserID: "user-1"})
			assert.NoError(t, err)
		})
	}
}

func TestShortenerService_Shorten_CustomCode(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	ctx := context.Background()

	link, err := svc.Shorten(ctx, ShortenInput{OriginalURL: "https://a.com", UserID: "user-1", CustomCode: "mylink"})
	require.NoError(t, err)
	assert.Equal(t, "mylink", link.ShortCode)

	_, err = svc.Shorten(ctx, ShortenInput{OriginalURL: "https://b.com", UserID: "user-2", CustomCode: "mylink"})
	assert.ErrorIs(t, err, ErrCodeConflict)
	assert.Equal(t, 1, store.creates)

	target, err := svc.Resolve(ctx, "mylink", RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, "https://a.com", target)
}

func TestShortenerService_Shorten_CustomCodeIsVerbatim(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.Shorten(ctx, ShortenInput{OriginalURL: "https://a.com", UserID: "user-1", CustomCode: "MyLink"})
	require.NoError(t, err)

	link, err := svc.Shorten(ctx, ShortenInput{OriginalURL: "https://b.com", UserID: "user-1", CustomCode: "mylink"})
	require.NoError(t, err)
	assert.Equal(t, "mylink", link.ShortCode)
}

func TestShortenerService_Shorten_CustomCodeRaceReportsConflict(t *testing.T) {
	store := newMemoryStore()
	// The pre-check misses the row a concurrent allocator is inserting.
	store.existsFn = func(string) (bool, bool, error) { return false, true, nil }
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.Shorten(ctx, ShortenInput{OriginalURL: "https://a.com", UserID: "user-1", CustomCode: "race"})
	require.NoError(t, err)

	_, err = svc.Shorten(ctx, ShortenInput{OriginalURL: "https://b.com", UserID: "user-2", CustomCode: "race"})
	assert.ErrorIs(t, err, ErrCodeConflict)
}

func TestShortenerService_Shorten_RetriesCollisions(t *testing.T) {
	store := newMemoryStore()
	gen := &sequenceGenerator{codes: []string{"taken1", "taken2", "fresh1"}}
	svc := newTestService(store, withGenerator(gen))
	ctx := context.Background()

	for _, code := range []string{"taken1", "taken2"} {
		_, err := svc.Shorten(ctx, ShortenInput{OriginalURL: "https://a.com", UserID: "user-1", CustomCode: code})
		require.NoError(t, err)
	}

	link, err := svc.Shorten(ctx, ShortenInput{OriginalURL: "https://b.com", UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "fresh1", link.ShortCode)
	assert.Equal(t, 3, gen.calls)
}

func TestShortenerService_Shorten_RetriesInsertTimeCollision(t *testing.T) {
	store := newMemoryStore()
	gen := &sequenceGenerator{codes: []string{"racy01", "calm01"}}
	failed := false
	store.createFn = func(url *model.ShortenedURL) (bool, error) {
		if url.ShortCode == "racy01" && !failed {
			failed = true
			return true, repository.ErrShortCodeTaken
		}
		return false, nil
	}
	svc := newTestService(store, withGenerator(gen))

	link, err := svc.Shorten(context.Background(), ShortenInput{OriginalURL: "https://a.com", UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "calm01", link.ShortCode)
}

func TestShortenerService_Shorten_AttemptsExhausted(t *testing.T) {
	store := newMemoryStore()
	store.existsFn = func(string) (bool, bool, error) { return true, true, nil }
	gen := &sequenceGenerator{codes: []string{"always"}}
	svc := newTestService(store, withGenerator(gen), func(d *ShortenerDeps) { d.MaxAttempts = 4 })

	_, err := svc.Shorten(context.Background(), ShortenInput{OriginalURL: "https://a.com", UserID: "user-1"})
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.Equal(t, 4, gen.calls)
	assert.Zero(t, store.creates)
}

func TestShortenerService_Shorten_StorageFailure(t *testing.T) {
	boom := errors.New("connection refused")
	store := newMemoryStore()
	store.createFn = func(*model.ShortenedURL) (bool, error) { return true, boom }
	svc := newTestService(store)

	_, err := svc.Shorten(context.Background(), ShortenInput{OriginalURL: "https://a.com", UserID: "user-1"})
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.ErrorIs(t, err, boom)
}

func TestShortenerService_Shorten_StoresExpiryAsGiven(t *testing.T) {
	clock := &fixedClock{now: time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)}
	store := newMemoryStore()
	svc := newTestService(store, withClock(clock))
	ctx := context.Background()

	past := clock.now.Add(-time.Hour).In(time.FixedZone("UTC+3", 3*3600))
	link, err := svc.Shorten(ctx, ShortenInput{OriginalURL: "https://a.com", UserID: "user-1", ExpiresAt: &past})
	require.NoError(t, err)
	require.NotNil(t, link.ExpiresAt)
	assert.True(t, link.ExpiresAt.Equal(past))
	assert.Equal(t, time.UTC, link.ExpiresAt.Location())

	_, err = svc.Resolve(ctx, link.ShortCode, RequestContext{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShortenerService_Shorten_ConcurrentUnique(t *testing.T) {
	store := newMemoryStore()
	// A tiny code space forces real collisions between goroutines.
	gen := NewRandomCodeGenerator(2)
	svc := newTestService(store, withGenerator(gen), func(d *ShortenerDeps) { d.MaxAttempts = 1000 })

	const n = 200
	var wg sync.WaitGroup
	codes := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			link, err := svc.Shorten(context.Background(), ShortenInput{
				OriginalURL: fmt.Sprintf("https://example.com/%d", i),
				UserID:      "user-1",
			})
			if assert.NoError(t, err) {
				codes <- link.ShortCode
			}
		}(i)
	}
	wg.Wait()
	close(codes)

	seen := make(map[string]bool)
	for code := range codes {
		assert.False(t, seen[code], "duplicate code %q", code)
		seen[code] = true
	}
	assert.Len(t, seen, n)
}

func TestShortenerService_Resolve_NotFound(t *testing.T) {
	svc := newTestService(newMemoryStore())
	_, err := svc.Resolve(context.Background(), "nope42", RequestContext{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShortenerService_Resolve_Expiry(t *testing.T) {
	clock := &fixedClock{now: time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)}
	store := newMemoryStore()
	svc := newTestService(store, withClock(clock))
	ctx := context.Background()

	expires := clock.now.Add(time.Minute)
	link, err := svc.Shorten(ctx, ShortenInput{OriginalURL: "https://a.com", UserID: "user-1", ExpiresAt: &expires})
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, link.ShortCode, RequestContext{})
	require.NoError(t, err)

	// Expiry is strict: a link is still live at exactly expires_at.
	clock.Advance(time.Minute)
	_, err = svc.Resolve(ctx, link.ShortCode, RequestContext{})
	require.NoError(t, err)

	clock.Advance(time.Nanosecond)
	_, err = svc.Resolve(ctx, link.ShortCode, RequestContext{})
	assert.ErrorIs(t, err, ErrNotFound)

	count, rows := store.clickCount(link.ShortCode)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 2, rows)
}

func TestShortenerService_Resolve_RecordsClickDetails(t *testing.T) {
	clock := &fixedClock{now: time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)}
	store := newMemoryStore()
	notifier := &recordingNotifier{}
	svc := newTestService(store, withClock(clock), func(d *ShortenerDeps) { d.Notifier = notifier })
	ctx := context.Background()

	link, err := svc.Shorten(ctx, ShortenInput{OriginalURL: "https://a.com", UserID: "user-1", CustomCode: "detail"})
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, "detail", RequestContext{
		IPAddress: "203.0.113.7",
		UserAgent: iPhoneUA,
		Referrer:  "https://news.example.org/",
	})
	require.NoError(t, err)

	clicks, err := store.ListByShortenedURL(ctx, link.ID)
	require.NoError(t, err)
	require.Len(t, clicks, 1)
	c := clicks[0]
	assert.Equal(t, "203.0.113.7", c.IPAddress)
	assert.Equal(t, iPhoneUA, c.UserAgent)
	assert.Equal(t, "https://news.example.org/", c.Referrer)
	assert.Equal(t, model.DeviceMobile, c.DeviceType)
	assert.NotEmpty(t, c.Browser)
	assert.Equal(t, clock.now, c.ClickedAt)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "detail", notifier.events[0].ShortCode)
	assert.Equal(t, model.DeviceMobile, notifier.events[0].DeviceType)
	assert.NotEmpty(t, notifier.events[0].ID)
}

func TestShortenerService_Resolve_OversizedUserAgent(t *testing.T) {
	store := newMemoryStore()
	// Reject what a varchar(128) column would reject.
	store.recordFn = func(click *model.URLClick) (bool, error) {
		if utf8.RuneCountInString(click.Browser) > model.BrowserMaxLength {
			return true, errors.New("value too long for type character varying(128)")
		}
		return false, nil
	}
	svc := newTestService(store)
	ctx := context.Background()

	link, err := svc.Shorten(ctx, ShortenInput{OriginalURL: "https://a.com", UserID: "user-1", CustomCode: "longua"})
	require.NoError(t, err)

	for _, ua := range []string{strings.Repeat("A", 300) + "/1.0", "curl/" + strings.Repeat("1", 200)} {
		target, err := svc.Resolve(ctx, "longua", RequestContext{UserAgent: ua})
		require.NoError(t, err)
		assert.Equal(t, "https://a.com", target)
	}

	clicks, err := store.ListByShortenedURL(ctx, link.ID)
	require.NoError(t, err)
	require.Len(t, clicks, 2)
	for _, c := range clicks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Browser), model.BrowserMaxLength)
		assert.Greater(t, len(c.UserAgent), model.BrowserMaxLength)
	}
}

func TestShortenerService_Resolve_NotifierFailureIsNotSurfaced(t *testing.T) {
	store := newMemoryStore()
	notifier := &recordingNotifier{err: errors.New("nats down")}
	svc := newTestService(store, func(d *ShortenerDeps) { d.Notifier = notifier })
	ctx := context.Background()

	_, err := svc.Shorten(ctx, ShortenInput{OriginalURL: "https://a.com", UserID: "user-1", CustomCode: "quiet"})
	require.NoError(t, err)

	target, err := svc.Resolve(ctx, "quiet", RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, "https://a.com", target)
}

func TestShortenerService_Resolve_WriteFailure(t *testing.T) {
	boom := errors.New("tx aborted")
	store := newMemoryStore()
	store.recordFn = func(*model.URLClick) (bool, error) { return true, boom }
	notifier := &recordingNotifier{}
	svc := newTestService(store, func(d *ShortenerDeps) { d.Notifier = notifier })
	ctx := context.Background()

	_, err := svc.Shorten(ctx, ShortenInput{OriginalURL: "https://a.com", UserID: "user-1", CustomCode: "broken"})
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, "broken", RequestContext{})
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.Empty(t, notifier.events)

	count, rows := store.clickCount("broken")
	assert.Zero(t, count)
	assert.Zero(t, rows)
}

func TestShortenerService_Resolve_ConcurrentCountsMatchRows(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.Shorten(ctx, ShortenInput{OriginalURL: "https://a.com", UserID: "user-1", CustomCode: "hot"})
	require.NoError(t, err)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Resolve(ctx, "hot", RequestContext{UserAgent: chromeDesktopUA})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, rows := store.clickCount("hot")
	assert.Equal(t, int64(n), count)
	assert.Equal(t, n, rows)
}

func TestShortenerService_GetStats(t *testing.T) {
	clock := &fixedClock{now: time.Date(2025, 1, 3, 23, 30, 0, 0, time.UTC)}
	store := newMemoryStore()
	svc := newTestService(store, withClock(clock))
	ctx := context.Background()

	_, err := svc.Shorten(ctx, ShortenInput{OriginalURL: "https://a.com", UserID: "owner", CustomCode: "stats"})
	require.NoError(t, err)

	visits := []RequestContext{
		{UserAgent: chromeDesktopUA, Referrer: "https://google.com/"},
		{UserAgent: iPhoneUA, Referrer: ""},
		{UserAgent: chromeDesktopUA, Referrer: ""},
	}
	for i, rc := range visits {
		if i == 2 {
			clock.Advance(time.Hour) // crosses midnight UTC
		}
		_, err := svc.Resolve(ctx, "stats", rc)
		require.NoError(t, err)
	}

	stats, err := svc.GetStats(ctx, "stats", "owner")
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.TotalClicks)
	assert.Equal(t, "https://a.com", stats.OriginalURL)
	assert.Equal(t, map[string]int64{model.DeviceDesktop: 2, model.DeviceMobile: 1}, stats.ClicksByDevice)
	assert.Equal(t, map[string]int64{"https://google.com/": 1, "": 2}, stats.ClicksByReferrer)
	assert.Equal(t, map[string]int64{"2025-01-03": 2, "2025-01-04": 1}, stats.ClicksByDate)
	assert.Equal(t, int64(2), stats.ClicksByBrowser["Chrome 120.0"])

	for name, group := range map[string]map[string]int64{
		"device":   stats.ClicksByDevice,
		"referrer": stats.ClicksByReferrer,
		"date":     stats.ClicksByDate,
		"browser":  stats.ClicksByBrowser,
	} {
		var sum int64
		for _, n := range group {
			sum += n
		}
		assert.Equal(t, stats.TotalClicks, sum, "group %s", name)
	}
}

func TestShortenerService_GetStats_NoClicks(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.Shorten(ctx, ShortenInput{OriginalURL: "https://a.com", UserID: "owner", CustomCode: "quiet"})
	require.NoError(t, err)

	stats, err := svc.GetStats(ctx, "quiet", "owner")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalClicks)
	assert.NotNil(t, stats.ClicksByDevice)
	assert.Empty(t, stats.ClicksByDate)
}

func TestShortenerService_GetStats_OwnershipHidden(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.Shorten(ctx, ShortenInput{OriginalURL: "https://a.com", UserID: "owner", CustomCode: "mine"})
	require.NoError(t, err)

	_, foreignErr := svc.GetStats(ctx, "mine", "intruder")
	_, missingErr := svc.GetStats(ctx, "absent", "intruder")
	assert.ErrorIs(t, foreignErr, ErrNotFound)
	assert.ErrorIs(t, missingErr, ErrNotFound)
	assert.Equal(t, missingErr.Error(), foreignErr.Error())

	_, err = svc.GetStats(ctx, "mine", "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestShortenerService_ListMine(t *testing.T) {
	clock := &fixedClock{now: time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)}
	store := newMemoryStore()
	svc := newTestService(store, withClock(clock))
	ctx := context.Background()

	past := clock.now.Add(-time.Hour)
	for _, in := range []ShortenInput{
		{OriginalURL: "https://a.com", UserID: "me", CustomCode: "first"},
		{OriginalURL: "https://b.com", UserID: "other", CustomCode: "theirs"},
		{OriginalURL: "https://c.com", UserID: "me", CustomCode: "second", ExpiresAt: &past},
		{OriginalURL: "https://d.com", UserID: "me", CustomCode: "third"},
	} {
		_, err := svc.Shorten(ctx, in)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	links, err := svc.ListMine(ctx, "me")
	require.NoError(t, err)
	require.Len(t, links, 3)
	assert.Equal(t, "third", links[0].ShortCode)
	assert.Equal(t, "second", links[1].ShortCode)
	assert.Equal(t, "first", links[2].ShortCode)
	// Expired links stay visible to their owner.
	assert.NotNil(t, links[1].ExpiresAt)

	empty, err := svc.ListMine(ctx, "stranger")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = svc.ListMine(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
