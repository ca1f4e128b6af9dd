package backfill

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitwit45/stream/storage"
	"github.com/nitwit45/stream/tmdb"
)

func TestNextLimit(t *testing.T) {
	cases := []struct {
		name    string
		current int
		usage   Usage
		want    int
	}{
		{"high memory shrinks", 25, Usage{Memory: 0.85, Load: 0.1}, 20},
		{"high load shrinks", 25, Usage{Memory: 0.3, Load: 0.9}, 20},
		{"idle host grows", 25, Usage{Memory: 0.5, Load: 0.5}, 30},
		{"middle band holds", 25, Usage{Memory: 0.7, Load: 0.5}, 25},
		{"memory just under relaxed threshold grows", 25, Usage{Memory: 0.55, Load: 0.1}, 30},
		{"shrink stops at floor", 11, Usage{Memory: 0.95}, 10},
		{"grow stops at ceiling", 45, Usage{Memory: 0.1}, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NextLimit(tc.current, tc.usage, 10, 50))
		})
	}
}

func TestLimiterStaysInBounds(t *testing.T) {
	l := NewLimiter(100, 10, 50)
	assert.Equal(t, 50, l.Limit())

	assert.Equal(t, 10, l.set(1))
	assert.Equal(t, 10, l.Limit())

	floor, ceiling := l.Bounds()
	assert.Equal(t, 10, floor)
	assert.Equal(t, 50, ceiling)
}

type fixedSampler struct {
	usage Usage
	err   error
}

func (s fixedSampler) Sample() (Usage, error) {
	return s.usage, s.err
}

func TestMonitorAdjust(t *testing.T) {
	l := NewLimiter(25, 10, 50)
	m := NewMonitor(l, fixedSampler{usage: Usage{Memory: 0.9}}, time.Second)

	for range 10 {
		m.Adjust()
		assert.GreaterOrEqual(t, l.Limit(), 10)
	}
	assert.Equal(t, 10, l.Limit())

	NewMonitor(l, fixedSampler{err: errors.New("no sysinfo")}, time.Second).Adjust()
	assert.Equal(t, 10, l.Limit())
}

func TestMonitorRunTicks(t *testing.T) {
	l := NewLimiter(25, 10, 50)
	m := NewMonitor(l, fixedSampler{usage: Usage{Memory: 0.1, Load: 0.1}}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return l.Limit() == 50 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

type fakeStore struct {
	mu      sync.Mutex
	ids     []int64
	flushes [][]storage.SeasonUpdate
}

func (s *fakeStore) ListIDs(contentType storage.ContentType, availableOnly bool) ([]int64, error) {
	return s.ids, nil
}

func (s *fakeStore) BulkUpsertSeasons(updates []storage.SeasonUpdate) (storage.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes = append(s.flushes, append([]storage.SeasonUpdate(nil), updates...))
	return storage.BulkResult{Succeeded: len(updates)}, nil
}

type fakeCatalog struct {
	mu       sync.Mutex
	calls    map[int64]int
	respond  func(id int64, call int) (*tmdb.Title, error)
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func (c *fakeCatalog) Details(ctx context.Context, media tmdb.MediaType, id int64) (*tmdb.Title, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		seen := c.maxSeen.Load()
		if n <= seen || c.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	c.mu.Lock()
	if c.calls == nil {
		c.calls = map[int64]int{}
	}
	c.calls[id]++
	call := c.calls[id]
	c.mu.Unlock()

	if c.respond != nil {
		return c.respond(id, call)
	}
	return withSeasons(id, 2), nil
}

func (c *fakeCatalog) callsFor(id int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

func withSeasons(id int64, n int) *tmdb.Title {
	title := &tmdb.Title{ID: id, Name: "Show"}
	for i := 1; i <= n; i++ {
		title.Seasons = append(title.Seasons, tmdb.Season{SeasonNumber: i, EpisodeCount: 10})
	}
	return title
}

func idsUpTo(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids
}

func fastOptions() Options {
	return Options{
		InitialConcurrency: 3,
		MinConcurrency:     1,
		MaxConcurrency:     3,
		RetryDelay:         time.Millisecond,
		RateLimitWait:      time.Millisecond,
	}
}

func TestWorkerNeverExceedsLimit(t *testing.T) {
	store := &fakeStore{ids: idsUpTo(30)}
	catalog := &fakeCatalog{delay: 5 * time.Millisecond}
	w := NewWorker(store, catalog, nil, fastOptions())

	var violations atomic.Int32
	w.observe = func(inFlight, limit int) {
		if inFlight > limit {
			violations.Add(1)
		}
	}

	report, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 30, report.Succeeded)
	assert.Zero(t, violations.Load())
	assert.LessOrEqual(t, int(catalog.maxSeen.Load()), 3)
	assert.Equal(t, 30, report.Written)
}

func TestWorkerRetriesWithBackoffAndRateLimitWaits(t *testing.T) {
	store := &fakeStore{ids: []int64{1, 2, 3, 4}}
	catalog := &fakeCatalog{respond: func(id int64, call int) (*tmdb.Title, error) {
		switch id {
		case 1:
			if call < 3 {
				return nil, errors.New("connection reset")
			}
		case 2:
			if call < 5 {
				return nil, &tmdb.StatusError{StatusCode: 429, Status: "429 Too Many Requests"}
			}
		case 3:
			return nil, &tmdb.StatusError{StatusCode: 404, Status: "404 Not Found"}
		case 4:
			return nil, errors.New("always failing")
		}
		return withSeasons(id, 1), nil
	}}
	w := NewWorker(store, catalog, nil, fastOptions())

	report, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 3, catalog.callsFor(1))
	assert.Equal(t, 5, catalog.callsFor(2), "rate-limit waits do not use up attempts")
	assert.Equal(t, 1, catalog.callsFor(3), "not found is not retried")
	assert.Equal(t, 3, catalog.callsFor(4))
}

func TestWorkerFlushesAtThreshold(t *testing.T) {
	store := &fakeStore{ids: idsUpTo(5)}
	catalog := &fakeCatalog{respond: func(id int64, call int) (*tmdb.Title, error) {
		if id == 5 {
			return &tmdb.Title{ID: 5}, nil
		}
		return withSeasons(id, 1), nil
	}}
	opts := fastOptions()
	opts.FlushSize = 2
	opts.BatchSize = 5
	w := NewWorker(store, catalog, nil, opts)

	report, err := w.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, store.flushes, 2)
	assert.Len(t, store.flushes[0], 2)
	assert.Len(t, store.flushes[1], 2)
	assert.Equal(t, 5, report.Succeeded)
	assert.Equal(t, 4, report.Written)
}

func TestWorkerFlushesRemainderPerBatch(t *testing.T) {
	store := &fakeStore{ids: idsUpTo(7)}
	opts := fastOptions()
	opts.BatchSize = 3
	w := NewWorker(store, &fakeCatalog{}, nil, opts)

	report, err := w.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Batches, 3)
	assert.Len(t, store.flushes, 3)
	assert.Equal(t, 1, report.Batches[2].Size)
	assert.Contains(t, report.String(), "7 shows processed")
}

func TestWorkerStopsOnCancel(t *testing.T) {
	store := &fakeStore{ids: idsUpTo(20)}
	ctx, cancel := context.WithCancel(context.Background())
	catalog := &fakeCatalog{respond: func(id int64, call int) (*tmdb.Title, error) {
		cancel()
		return withSeasons(id, 1), nil
	}}
	opts := fastOptions()
	opts.InitialConcurrency, opts.MaxConcurrency = 1, 1

	report, err := NewWorker(store, catalog, nil, opts).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 20, report.Succeeded+report.Failed)
	assert.Less(t, report.Succeeded, 20)
}

func TestWorkerWithSQLiteStore(t *testing.T) {
	store := storage.NewSQLiteStorage(t.TempDir())
	require.NoError(t, store.Initialize())
	defer store.Close()

	now := time.Now()
	require.NoError(t, store.Upsert(storage.ContentRecord{ExternalID: 1, ContentType: storage.TVShow, Available: true, LastChecked: now}))
	require.NoError(t, store.Upsert(storage.ContentRecord{ExternalID: 2, ContentType: storage.TVShow, Available: false, LastChecked: now}))

	report, err := NewWorker(store, &fakeCatalog{}, nil, fastOptions()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Shows)

	show, err := store.GetByExternalIDAndType(storage.TVShow, 1)
	require.NoError(t, err)
	assert.Len(t, show.Seasons, 2)
}
