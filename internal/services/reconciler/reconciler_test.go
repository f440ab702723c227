package reconciler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/waypoint/internal/interfaces"
	"github.com/ternarybob/waypoint/internal/models"
	"github.com/ternarybob/waypoint/internal/services/geocode"
	"github.com/ternarybob/waypoint/internal/services/places"
)

const waitFor = 2 * time.Second

// fakeResolver answers per coordinate; gated coordinates block until released
type fakeResolver struct {
	mu      sync.Mutex
	answers map[models.Coordinate][]models.PlaceCandidate
	errs    map[models.Coordinate]error
	gates   map[models.Coordinate]chan struct{}
	calls   []models.Coordinate
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		answers: make(map[models.Coordinate][]models.PlaceCandidate),
		errs:    make(map[models.Coordinate]error),
		gates:   make(map[models.Coordinate]chan struct{}),
	}
}

func (f *fakeResolver) hold(coord models.Coordinate) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[coord] = ch
	return ch
}

func (f *fakeResolver) answer(coord models.Coordinate, route string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[coord] = []models.PlaceCandidate{{
		Types: []string{models.TypeRoute},
		AddressComponents: []models.AddressComponent{
			{ShortName: route, Types: []string{models.TypeRoute}},
		},
	}}
}

func (f *fakeResolver) Resolve(ctx context.Context, slot models.Slot, coord models.Coordinate) ([]models.PlaceCandidate, error) {
	f.mu.Lock()
	f.calls = append(f.calls, coord)
	gate := f.gates[coord]
	answer := f.answers[coord]
	err := f.errs[coord]
	f.mu.Unlock()

	if gate != nil {
		// Ignores ctx on purpose so late answers reach the reconciler
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return answer, nil
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memoryStore struct {
	mu     sync.Mutex
	saved  []models.PersistedSession
	loaded *models.PersistedSession
}

func (m *memoryStore) Load(ctx context.Context) (*models.PersistedSession, error) {
	return m.loaded, nil
}

func (m *memoryStore) Save(ctx context.Context, session models.PersistedSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, session)
	return nil
}

func (m *memoryStore) Clear(ctx context.Context) error { return nil }

func (m *memoryStore) last() (models.PersistedSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return models.PersistedSession{}, false
	}
	return m.saved[len(m.saved)-1], true
}

func newTestReconciler(t *testing.T, resolver Resolver, store interfaces.SessionStore) (*Reconciler, *Scope) {
	t.Helper()
	r := New(resolver, store, nil, Options{SeedSelectedFromCurrent: true}, arbor.NewLogger())
	scope := r.NewScope(context.Background())
	t.Cleanup(r.Close)
	return r, scope
}

func waitStatus(t *testing.T, r *Reconciler, slot models.Slot, status models.SlotStatus) models.SlotSnapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.Snapshot(slot).Status == status
	}, waitFor, 5*time.Millisecond, "slot %s never reached %s", slot, status)
	return r.Snapshot(slot)
}

func TestSetLocation_LoadingThenReady(t *testing.T) {
	resolver := newFakeResolver()
	coord := models.Coordinate{Latitude: 1, Longitude: 2}
	resolver.answer(coord, "Main St")
	release := resolver.hold(coord)
	r, scope := newTestReconciler(t, resolver, nil)

	require.NoError(t, r.SetSelected(scope, coord))
	snap := r.Snapshot(models.SlotSelected)
	assert.Equal(t, models.SlotLoading, snap.Status)
	require.NotNil(t, snap.Coordinate)
	assert.True(t, coord.Equal(*snap.Coordinate))

	close(release)
	snap = waitStatus(t, r, models.SlotSelected, models.SlotReady)
	assert.Equal(t, "Main St", snap.Names.RouteName)
	assert.Len(t, snap.Candidates, 1)

	// Other slots untouched
	assert.Equal(t, models.SlotIdle, r.Snapshot(models.SlotCurrent).Status)
	assert.Equal(t, models.SlotIdle, r.Snapshot(models.SlotDestination).Status)
}

func TestSetLocation_StaleResultDiscarded(t *testing.T) {
	resolver := newFakeResolver()
	first := models.Coordinate{Latitude: 1, Longitude: 1}
	second := models.Coordinate{Latitude: 2, Longitude: 2}
	resolver.answer(first, "First St")
	resolver.answer(second, "Second St")
	releaseFirst := resolver.hold(first)
	r, scope := newTestReconciler(t, resolver, nil)

	require.NoError(t, r.SetSelected(scope, first))
	require.Eventually(t, func() bool { return resolver.callCount() == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, r.SetSelected(scope, second))
	waitStatus(t, r, models.SlotSelected, models.SlotReady)

	close(releaseFirst)
	r.Wait()

	snap := r.Snapshot(models.SlotSelected)
	assert.Equal(t, "Second St", snap.Names.RouteName)
	assert.True(t, second.Equal(*snap.Coordinate))
}

func TestDestinationLifecycle(t *testing.T) {
	resolver := newFakeResolver()
	pickup := models.Coordinate{Latitude: 0.5, Longitude: 0.5}
	dest := models.Coordinate{Latitude: 1, Longitude: 1}
	edited := models.Coordinate{Latitude: 0.6, Longitude: 0.6}
	resolver.answer(pickup, "Pickup Rd")
	resolver.answer(dest, "Dest Ave")
	resolver.answer(edited, "Edited Ln")
	r, scope := newTestReconciler(t, resolver, nil)

	require.NoError(t, r.SetSelected(scope, pickup))
	waitStatus(t, r, models.SlotSelected, models.SlotReady)
	assert.Equal(t, models.ContextBrowse, r.PointContext())

	require.NoError(t, r.SetDestination(scope, dest))
	assert.Equal(t, models.ContextPickup, r.PointContext())
	waitStatus(t, r, models.SlotDestination, models.SlotReady)

	require.NoError(t, r.EditLocation(scope, edited))
	waitStatus(t, r, models.SlotSelected, models.SlotReady)
	assert.True(t, edited.Equal(*r.Snapshot(models.SlotSelected).Coordinate))
	assert.True(t, dest.Equal(*r.Snapshot(models.SlotDestination).Coordinate), "edit must not move the destination")

	r.ClearDestination()
	destSnap := r.Snapshot(models.SlotDestination)
	assert.Nil(t, destSnap.Coordinate)
	assert.Empty(t, destSnap.Candidates)
	assert.Equal(t, models.SlotIdle, destSnap.Status)
	assert.Equal(t, models.ContextBrowse, r.PointContext())

	selSnap := r.Snapshot(models.SlotSelected)
	assert.Equal(t, "Edited Ln", selSnap.Names.RouteName)
	assert.Equal(t, models.SlotReady, selSnap.Status)
}

func TestClearDestination_DropsInFlightResult(t *testing.T) {
	resolver := newFakeResolver()
	dest := models.Coordinate{Latitude: 1, Longitude: 1}
	resolver.answer(dest, "Dest Ave")
	release := resolver.hold(dest)
	r, scope := newTestReconciler(t, resolver, nil)

	require.NoError(t, r.SetDestination(scope, dest))
	r.LeaveRideFlow()
	close(release)
	r.Wait()

	snap := r.Snapshot(models.SlotDestination)
	assert.Nil(t, snap.Coordinate)
	assert.Equal(t, models.SlotIdle, snap.Status)
	assert.Empty(t, snap.Candidates)
}

func TestCommitRidePoint(t *testing.T) {
	resolver := newFakeResolver()
	r, scope := newTestReconciler(t, resolver, nil)

	slot, err := r.CommitRidePoint(scope, models.Coordinate{Latitude: 1, Longitude: 1})
	require.NoError(t, err)
	assert.Equal(t, models.SlotDestination, slot)

	slot, err = r.CommitRidePoint(scope, models.Coordinate{Latitude: 2, Longitude: 2})
	require.NoError(t, err)
	assert.Equal(t, models.SlotSelected, slot)
	r.Wait()

	assert.True(t, models.Coordinate{Latitude: 1, Longitude: 1}.Equal(*r.Snapshot(models.SlotDestination).Coordinate))
}

func TestReverseGeocodeZeroResults_SlotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	}))
	defer server.Close()

	logger := arbor.NewLogger()
	client := places.NewClient("key", logger, places.WithBaseURL(server.URL), places.WithRateLimit(0))
	r, scope := newTestReconciler(t, geocode.NewResolver(client, logger), nil)

	coord := models.Coordinate{Latitude: 10, Longitude: 10}
	require.NoError(t, r.SetSelected(scope, coord))
	snap := waitStatus(t, r, models.SlotSelected, models.SlotError)

	assert.ErrorIs(t, snap.Err, models.ErrGeocodeFailed)
	assert.True(t, snap.Blocking)
	assert.Contains(t, snap.Error, "ZERO_RESULTS")
	require.NotNil(t, snap.Coordinate, "failure keeps the coordinate")
	assert.True(t, coord.Equal(*snap.Coordinate))
}

func TestRetry_AfterError(t *testing.T) {
	resolver := newFakeResolver()
	coord := models.Coordinate{Latitude: 3, Longitude: 3}
	resolver.errs[coord] = errors.Join(models.ErrGeocodeFailed, errors.New("transport"))
	r, scope := newTestReconciler(t, resolver, nil)

	require.NoError(t, r.SetSelected(scope, coord))
	waitStatus(t, r, models.SlotSelected, models.SlotError)

	resolver.mu.Lock()
	delete(resolver.errs, coord)
	resolver.mu.Unlock()
	resolver.answer(coord, "Recovered Rd")

	require.NoError(t, r.Retry(scope, models.SlotSelected))
	snap := waitStatus(t, r, models.SlotSelected, models.SlotReady)
	assert.Equal(t, "Recovered Rd", snap.Names.RouteName)
	assert.Nil(t, snap.Err)

	assert.ErrorIs(t, r.Retry(scope, models.SlotDestination), ErrNoCoordinate)
}

func TestScopeClose_CancelsInFlight(t *testing.T) {
	resolver := newFakeResolver()
	coord := models.Coordinate{Latitude: 4, Longitude: 4}
	resolver.answer(coord, "Never Shown")
	release := resolver.hold(coord)
	r, _ := newTestReconciler(t, resolver, nil)

	screen := r.NewScope(context.Background())
	require.NoError(t, r.SetSelected(screen, coord))
	assert.Equal(t, models.SlotLoading, r.Snapshot(models.SlotSelected).Status)

	screen.Close()
	assert.Equal(t, models.SlotIdle, r.Snapshot(models.SlotSelected).Status)

	close(release)
	r.Wait()

	snap := r.Snapshot(models.SlotSelected)
	assert.Equal(t, models.SlotIdle, snap.Status)
	assert.Empty(t, snap.Candidates)
	require.NotNil(t, snap.Coordinate)

	err := r.SetSelected(screen, coord)
	assert.ErrorIs(t, err, ErrClosedScope)
	assert.True(t, models.IsCancelled(err))

	_, ok := r.Scope(screen.ID())
	assert.False(t, ok)
}

func TestScope_ParentCancelCloses(t *testing.T) {
	r, _ := newTestReconciler(t, newFakeResolver(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	scope := r.NewScope(ctx)

	_, ok := r.Scope(scope.ID())
	require.True(t, ok)

	cancel()
	require.Eventually(t, func() bool {
		_, ok := r.Scope(scope.ID())
		return !ok
	}, waitFor, 5*time.Millisecond)
	assert.True(t, scope.Closed())
}

func TestSetCurrent_SeedsSelectedOnce(t *testing.T) {
	resolver := newFakeResolver()
	r, scope := newTestReconciler(t, resolver, nil)

	first := models.Position{Latitude: 1, Longitude: 1, Accuracy: 10}
	require.NoError(t, r.SetCurrent(scope, first))
	r.Wait()
	require.NotNil(t, r.Snapshot(models.SlotSelected).Coordinate)
	assert.True(t, first.Coordinate().Equal(*r.Snapshot(models.SlotSelected).Coordinate))

	second := models.Position{Latitude: 2, Longitude: 2, Accuracy: 10}
	r.FixSink(scope).SetCurrentFix(context.Background(), second)
	r.Wait()

	assert.True(t, second.Coordinate().Equal(*r.Snapshot(models.SlotCurrent).Coordinate))
	assert.True(t, first.Coordinate().Equal(*r.Snapshot(models.SlotSelected).Coordinate), "selected only seeded when unset")

	near, ok := r.Current()
	require.True(t, ok)
	assert.True(t, second.Coordinate().Equal(near))
}

func TestUseCurrentLocation(t *testing.T) {
	resolver := newFakeResolver()
	r, scope := newTestReconciler(t, resolver, nil)
	r.options.SeedSelectedFromCurrent = false

	err := r.UseCurrentLocation(scope)
	assert.ErrorIs(t, err, models.ErrLocationUnavailable)

	fix := models.Position{Latitude: 7, Longitude: 7}
	require.NoError(t, r.SetCurrent(scope, fix))
	assert.Nil(t, r.Snapshot(models.SlotSelected).Coordinate)

	require.NoError(t, r.UseCurrentLocation(scope))
	r.Wait()
	assert.True(t, fix.Coordinate().Equal(*r.Snapshot(models.SlotSelected).Coordinate))
}

func TestPersistence_SaveAndRestore(t *testing.T) {
	resolver := newFakeResolver()
	store := &memoryStore{}
	r, scope := newTestReconciler(t, resolver, store)

	r.SetPermission(context.Background(), models.PermissionGranted)
	require.NoError(t, r.SetCurrent(scope, models.Position{Latitude: 5, Longitude: 6, Accuracy: 42}))
	r.Wait()

	saved, ok := store.last()
	require.True(t, ok)
	assert.Equal(t, models.PermissionGranted, saved.Permission)
	assert.Equal(t, 42.0, saved.Accuracy)
	require.NotNil(t, saved.Current)
	require.NotNil(t, saved.Selected)

	// Destination is never persisted
	require.NoError(t, r.SetDestination(scope, models.Coordinate{Latitude: 9, Longitude: 9}))
	r.Wait()
	count := len(store.saved)

	restoredStore := &memoryStore{loaded: &saved}
	restored, restoredScope := newTestReconciler(t, resolver, restoredStore)
	require.NoError(t, restored.Restore(context.Background()))

	assert.Equal(t, models.PermissionGranted, restored.Permission())
	cur := restored.Snapshot(models.SlotCurrent)
	assert.Equal(t, models.SlotIdle, cur.Status)
	require.NotNil(t, cur.Coordinate)
	assert.Nil(t, restored.Snapshot(models.SlotDestination).Coordinate)
	assert.Equal(t, count, len(store.saved))

	resolver.answer(*saved.Current, "Restored Rd")
	require.NoError(t, restored.ResolveAll(restoredScope))
	assert.Equal(t, models.SlotReady, restored.Snapshot(models.SlotCurrent).Status)
	assert.Equal(t, models.SlotReady, restored.Snapshot(models.SlotSelected).Status)
	assert.Empty(t, restoredStore.saved, "restoring an unchanged session does not rewrite it")
}

func TestResolveAll_ReturnsFailure(t *testing.T) {
	resolver := newFakeResolver()
	bad := models.Coordinate{Latitude: 8, Longitude: 8}
	resolver.errs[bad] = models.ErrGeocodeFailed
	r, scope := newTestReconciler(t, resolver, nil)

	require.NoError(t, r.SetSelected(scope, bad))
	r.Wait()

	err := r.ResolveAll(scope)
	assert.ErrorIs(t, err, models.ErrGeocodeFailed)
	assert.Equal(t, models.SlotError, r.Snapshot(models.SlotSelected).Status)
}

func TestSetLocation_InvalidSlot(t *testing.T) {
	r, scope := newTestReconciler(t, newFakeResolver(), nil)
	assert.Error(t, r.SetLocation(scope, models.Slot("pickup"), models.Coordinate{}))
}

// lingeringResolver takes a while to return after cancellation and counts
// calls that have not returned yet
type lingeringResolver struct {
	mu     sync.Mutex
	active int
	calls  int
}

func (l *lingeringResolver) Resolve(ctx context.Context, slot models.Slot, coord models.Coordinate) ([]models.PlaceCandidate, error) {
	l.mu.Lock()
	l.active++
	l.calls++
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.active--
		l.mu.Unlock()
	}()

	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
	return nil, ctx.Err()
}

func (l *lingeringResolver) counts() (active, calls int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active, l.calls
}

// scopeClosingEvents closes the armed scope when the first loading slot is published
type scopeClosingEvents struct {
	mu    sync.Mutex
	scope *Scope
}

func (e *scopeClosingEvents) arm(scope *Scope) {
	e.mu.Lock()
	e.scope = scope
	e.mu.Unlock()
}

func (e *scopeClosingEvents) Subscribe(interfaces.EventType, interfaces.EventHandler) error {
	return nil
}

func (e *scopeClosingEvents) Publish(ctx context.Context, event interfaces.Event) error {
	snap, ok := event.Payload.(models.SlotSnapshot)
	if !ok || snap.Status != models.SlotLoading {
		return nil
	}
	e.mu.Lock()
	scope := e.scope
	e.scope = nil
	e.mu.Unlock()
	if scope != nil {
		scope.Close()
	}
	return nil
}

func (e *scopeClosingEvents) PublishSync(ctx context.Context, event interfaces.Event) error {
	return e.Publish(ctx, event)
}

func (e *scopeClosingEvents) Close() error { return nil }

func TestResolveAll_ScopeClosedMidwayWaitsForStartedSlots(t *testing.T) {
	resolver := &lingeringResolver{}
	events := &scopeClosingEvents{}
	r := New(resolver, nil, events, Options{}, arbor.NewLogger())
	t.Cleanup(r.Close)

	// Seed two coordinates under a scope that is closed straight away
	seed := r.NewScope(context.Background())
	require.NoError(t, r.SetCurrent(seed, models.Position{Latitude: 1, Longitude: 1, Accuracy: 5}))
	require.NoError(t, r.SetSelected(seed, models.Coordinate{Latitude: 2, Longitude: 2}))
	seed.Close()
	r.Wait()

	scope := r.NewScope(context.Background())
	events.arm(scope)

	err := r.ResolveAll(scope)
	require.ErrorIs(t, err, ErrClosedScope)

	active, calls := resolver.counts()
	// Two seeding resolves plus the first slot of ResolveAll
	assert.Equal(t, 3, calls)
	assert.Zero(t, active, "started resolves settle before ResolveAll returns")
}
