package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/waypoint/internal/common"
	"github.com/ternarybob/waypoint/internal/interfaces"
	"github.com/ternarybob/waypoint/internal/models"
)

const testDebounce = 60 * time.Millisecond

type pageResult struct {
	page *models.SearchPage
	err  error
}

// fakeSearchClient answers by page token and records every request
type fakeSearchClient struct {
	mu       sync.Mutex
	requests []interfaces.TextSearchRequest
	pages    map[string]pageResult
	block    chan struct{}
}

func newFakeSearchClient() *fakeSearchClient {
	return &fakeSearchClient{pages: make(map[string]pageResult)}
}

func (f *fakeSearchClient) ReverseGeocode(ctx context.Context, coord models.Coordinate) ([]models.PlaceCandidate, error) {
	return nil, nil
}

func (f *fakeSearchClient) TextSearch(ctx context.Context, req interfaces.TextSearchRequest) (*models.SearchPage, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	result, ok := f.pages[req.PageToken]
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !ok {
		return &models.SearchPage{Status: "ZERO_RESULTS"}, nil
	}
	return result.page, result.err
}

func (f *fakeSearchClient) Requests() []interfaces.TextSearchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interfaces.TextSearchRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

type staticNear struct{ coord models.Coordinate }

func (s staticNear) Current() (models.Coordinate, bool) { return s.coord, true }

func named(names ...string) []models.PlaceCandidate {
	out := make([]models.PlaceCandidate, len(names))
	for i, n := range names {
		out[i] = models.PlaceCandidate{Name: n, PlaceID: n}
	}
	return out
}

func resultNames(snap models.SearchSnapshot) []string {
	out := make([]string, len(snap.Results))
	for i, r := range snap.Results {
		out[i] = r.Name
	}
	return out
}

func newTestSession(t *testing.T, client interfaces.MapsClient, near interfaces.NearProvider) *Session {
	t.Helper()
	s := NewSession(context.Background(), client, near, nil, testDebounce, arbor.NewLogger())
	t.Cleanup(s.Close)
	return s
}

func TestType_DebouncesToLastQuery(t *testing.T) {
	client := newFakeSearchClient()
	near := staticNear{coord: models.Coordinate{Latitude: -6.2, Longitude: 106.8}}
	s := newTestSession(t, client, near)

	for _, q := range []string{"m", "mo", "mon", "mona", "monas"} {
		s.Type(q)
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return len(client.Requests()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return len(client.Requests()) > 1 }, 3*testDebounce, 10*time.Millisecond)

	req := client.Requests()[0]
	assert.Equal(t, "monas", req.Query)
	require.NotNil(t, req.Near)
	assert.True(t, near.coord.Equal(*req.Near))
	assert.Empty(t, req.PageToken)
}

func TestType_EmptyQueryCancelsPendingTimer(t *testing.T) {
	client := newFakeSearchClient()
	s := newTestSession(t, client, nil)

	s.Type("monas")
	s.Type("   ")

	assert.Never(t, func() bool { return len(client.Requests()) > 0 }, 3*testDebounce, 10*time.Millisecond)
	assert.Equal(t, models.SearchSnapshot{}, s.Snapshot())
}

func TestSearch_PaginationAppendsUntilExhausted(t *testing.T) {
	client := newFakeSearchClient()
	client.pages[""] = pageResult{page: &models.SearchPage{Results: named("a", "b"), NextPageToken: "T", Status: "OK"}}
	client.pages["T"] = pageResult{page: &models.SearchPage{Results: named("c"), Status: "OK"}}
	s := newTestSession(t, client, nil)
	ctx := context.Background()

	_, err := s.Search(ctx, "coffee", nil, "")
	require.NoError(t, err)
	snap := s.Snapshot()
	assert.Equal(t, []string{"a", "b"}, resultNames(snap))
	assert.Equal(t, "T", snap.PageToken)
	assert.False(t, snap.Exhausted)

	_, err = s.Search(ctx, "coffee", nil, "T")
	require.NoError(t, err)
	snap = s.Snapshot()
	assert.Equal(t, []string{"a", "b", "c"}, resultNames(snap))
	assert.Empty(t, snap.PageToken)
	assert.True(t, snap.Exhausted)

	assert.False(t, s.LoadMore(), "exhausted session does not paginate")
}

func TestSearch_NewQueryReplacesResults(t *testing.T) {
	client := newFakeSearchClient()
	client.pages[""] = pageResult{page: &models.SearchPage{Results: named("a", "b"), NextPageToken: "T", Status: "OK"}}
	s := newTestSession(t, client, nil)
	ctx := context.Background()

	_, err := s.Search(ctx, "coffee", nil, "")
	require.NoError(t, err)
	_, err = s.Search(ctx, "tea", nil, "")
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, "tea", snap.Query)
	assert.Equal(t, []string{"a", "b"}, resultNames(snap))
}

func TestSearch_ZeroResultsIsNotAnError(t *testing.T) {
	client := newFakeSearchClient()
	s := newTestSession(t, client, nil)

	page, err := s.Search(context.Background(), "zzzz", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "ZERO_RESULTS", page.Status)

	snap := s.Snapshot()
	assert.Empty(t, snap.Results)
	assert.Nil(t, snap.Err)
	assert.True(t, snap.Exhausted)
	assert.False(t, s.Blocking())
}

func TestSearch_FirstPageErrorIsBlocking(t *testing.T) {
	client := newFakeSearchClient()
	client.pages[""] = pageResult{err: errors.New("connection reset")}
	s := newTestSession(t, client, nil)

	_, err := s.Search(context.Background(), "coffee", nil, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPlaceSearchFailed)

	snap := s.Snapshot()
	assert.True(t, snap.Blocking)
	assert.True(t, s.Blocking())
	assert.Empty(t, snap.PageToken)
	assert.NotEmpty(t, snap.Error)
}

func TestSearch_PaginationErrorKeepsResults(t *testing.T) {
	client := newFakeSearchClient()
	client.pages[""] = pageResult{page: &models.SearchPage{Results: named("a", "b"), NextPageToken: "T", Status: "OK"}}
	client.pages["T"] = pageResult{err: errors.Join(models.ErrPlaceSearchFailed, &models.APIError{Endpoint: "/place/textsearch/json", Status: "INVALID_REQUEST"})}
	s := newTestSession(t, client, nil)
	ctx := context.Background()

	_, err := s.Search(ctx, "coffee", nil, "")
	require.NoError(t, err)
	_, err = s.Search(ctx, "coffee", nil, "T")
	require.Error(t, err)

	snap := s.Snapshot()
	assert.Equal(t, []string{"a", "b"}, resultNames(snap))
	assert.Empty(t, snap.PageToken, "error clears the page token")
	assert.True(t, snap.Exhausted)
	assert.False(t, snap.Blocking)
	assert.False(t, s.LoadMore())

	// Retry re-sends the failed page request
	client.mu.Lock()
	client.pages["T"] = pageResult{page: &models.SearchPage{Results: named("c"), Status: "OK"}}
	client.mu.Unlock()

	require.True(t, s.Retry())
	require.Eventually(t, func() bool {
		return len(s.Snapshot().Results) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Nil(t, s.Snapshot().Err)
}

func TestLoadMore_FetchesNextPage(t *testing.T) {
	client := newFakeSearchClient()
	client.pages[""] = pageResult{page: &models.SearchPage{Results: named("a"), NextPageToken: "T", Status: "OK"}}
	client.pages["T"] = pageResult{page: &models.SearchPage{Results: named("b"), Status: "OK"}}
	s := newTestSession(t, client, nil)

	_, err := s.Search(context.Background(), "coffee", nil, "")
	require.NoError(t, err)

	require.True(t, s.LoadMore())
	require.Eventually(t, func() bool { return s.Snapshot().Exhausted }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, resultNames(s.Snapshot()))
}

func TestSearch_SupersededAnswerDropped(t *testing.T) {
	client := newFakeSearchClient()
	client.block = make(chan struct{})
	s := newTestSession(t, client, nil)

	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Search(context.Background(), "first", nil, "")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return len(client.Requests()) == 1 }, time.Second, 5*time.Millisecond)

	client.mu.Lock()
	client.block = nil
	client.pages[""] = pageResult{page: &models.SearchPage{Results: named("second"), Status: "OK"}}
	client.mu.Unlock()

	_, err := s.Search(context.Background(), "second", nil, "")
	require.NoError(t, err)

	err = <-firstErr
	assert.True(t, models.IsCancelled(err))
	assert.Equal(t, "second", s.Snapshot().Query)
	assert.Equal(t, []string{"second"}, resultNames(s.Snapshot()))
}

func TestClose_StopsPendingWork(t *testing.T) {
	client := newFakeSearchClient()
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSession(ctx, client, nil, nil, testDebounce, arbor.NewLogger())

	s.Type("monas")
	cancel()

	assert.Never(t, func() bool { return len(client.Requests()) > 0 }, 3*testDebounce, 10*time.Millisecond)

	_, err := s.Search(context.Background(), "late", nil, "")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.True(t, models.IsCancelled(err))
	assert.False(t, s.Retry())
}

func TestFactory_Open(t *testing.T) {
	client := newFakeSearchClient()
	f := NewFactory(client, nil, nil, commonSearchConfig(), arbor.NewLogger())

	s := f.Open(context.Background(), "scope-1")
	defer s.Close()
	assert.Equal(t, 25*time.Millisecond, s.debounce)
}

func commonSearchConfig() common.SearchConfig {
	return common.SearchConfig{Debounce: 25 * time.Millisecond, RadiusMeters: 20000}
}

func TestSearch_PageTokenFromAnotherQueryRejected(t *testing.T) {
	client := newFakeSearchClient()
	client.pages[""] = pageResult{page: &models.SearchPage{Results: named("a", "b"), NextPageToken: "T", Status: "OK"}}
	client.pages["T"] = pageResult{page: &models.SearchPage{Results: named("c"), Status: "OK"}}
	s := newTestSession(t, client, nil)
	ctx := context.Background()

	_, err := s.Search(ctx, "monas", nil, "")
	require.NoError(t, err)
	before := s.Snapshot()

	_, err = s.Search(ctx, "bakso", nil, "T")
	require.ErrorIs(t, err, ErrForeignPageToken)
	assert.ErrorIs(t, err, models.ErrPlaceSearchFailed)

	// Nothing went upstream and the monas session is untouched
	assert.Len(t, client.Requests(), 1)
	assert.Equal(t, before, s.Snapshot())

	// The same query, spaced differently, still continues
	_, err = s.Search(ctx, "  monas ", nil, "T")
	require.NoError(t, err)
	snap := s.Snapshot()
	assert.Equal(t, "monas", snap.Query)
	assert.Equal(t, []string{"a", "b", "c"}, resultNames(snap))
}

func TestType_SupersededTimerNeverDispatches(t *testing.T) {
	client := newFakeSearchClient()
	s := newTestSession(t, client, nil)

	s.Type("mon")
	s.mu.Lock()
	stale := s.timerGen
	s.mu.Unlock()

	// A keystroke lands while the first timer is already firing
	s.Type("monas")

	_, err := s.dispatch(context.Background(), "mon", nil, "", &stale)
	require.ErrorIs(t, err, errTimerSuperseded)
	assert.True(t, models.IsCancelled(err))

	require.Eventually(t, func() bool { return len(client.Requests()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return len(client.Requests()) > 1 }, 3*testDebounce, 10*time.Millisecond)
	assert.Equal(t, "monas", client.Requests()[0].Query)
}
