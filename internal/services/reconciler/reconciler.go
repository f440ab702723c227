// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 5:07:31 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/waypoint/internal/interfaces"
	"github.com/ternarybob/waypoint/internal/models"
	"github.com/ternarybob/waypoint/internal/services/geocode"
)

// ErrClosedScope is returned when a request is issued on a closed scope
var ErrClosedScope = fmt.Errorf("scope closed: %w", context.Canceled)

// ErrNoCoordinate is returned when an operation needs a slot coordinate that is unset
var ErrNoCoordinate = errors.New("slot has no coordinate")

// Resolver is the reverse geocoding dependency
type Resolver interface {
	Resolve(ctx context.Context, slot models.Slot, coord models.Coordinate) ([]models.PlaceCandidate, error)
}

type slotState struct {
	coord      *models.Coordinate
	status     models.SlotStatus
	candidates []models.PlaceCandidate
	names      models.DerivedNames
	err        error
	gen        uint64
	cancel     context.CancelFunc
	scope      *Scope
	updatedAt  time.Time
}

// Options tune reconciler behavior
type Options struct {
	// SeedSelectedFromCurrent copies the first device fix into an unset selected slot
	SeedSelectedFromCurrent bool
}

// Reconciler owns the current, selected and destination slots. It is the only
// writer of slot state; each slot has at most one resolve in flight and a
// result is applied only if no newer request started for that slot.
type Reconciler struct {
	resolver Resolver
	store    interfaces.SessionStore
	events   interfaces.EventService
	options  Options
	logger   arbor.ILogger
	now      func() time.Time

	mu         sync.Mutex
	slots      map[models.Slot]*slotState
	permission models.PermissionState
	accuracy   float64
	scopes     map[string]*Scope

	persistMu sync.Mutex
	lastSaved *models.PersistedSession

	wg sync.WaitGroup
}

// New creates a reconciler. store and events may be nil.
func New(resolver Resolver, store interfaces.SessionStore, events interfaces.EventService, options Options, logger arbor.ILogger) *Reconciler {
	r := &Reconciler{
		resolver:   resolver,
		store:      store,
		events:     events,
		options:    options,
		logger:     logger,
		now:        time.Now,
		slots:      make(map[models.Slot]*slotState, len(models.AllSlots)),
		permission: models.PermissionUnknown,
		scopes:     make(map[string]*Scope),
	}
	for _, slot := range models.AllSlots {
		r.slots[slot] = &slotState{status: models.SlotIdle}
	}
	return r
}

var (
	_ interfaces.NearProvider   = (*Reconciler)(nil)
	_ interfaces.PermissionSink = (*Reconciler)(nil)
)

// NewScope opens a cancellation scope for a consuming screen
func (r *Reconciler) NewScope(ctx context.Context) *Scope {
	scope := newScope(ctx, r.closeScope)

	r.mu.Lock()
	r.scopes[scope.id] = scope
	r.mu.Unlock()

	// Parent cancellation closes the scope as well
	context.AfterFunc(scope.ctx, scope.Close)

	r.logger.Debug().Str("scope_id", scope.id).Msg("Scope opened")
	return scope
}

// Scope looks up an open scope by id
func (r *Reconciler) Scope(id string) (*Scope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scope, ok := r.scopes[id]
	return scope, ok
}

// closeScope reverts slots still loading under the scope to idle.
// The coordinate is kept so Retry can resolve it later.
func (r *Reconciler) closeScope(scope *Scope) {
	var snaps []models.SlotSnapshot

	r.mu.Lock()
	delete(r.scopes, scope.id)
	for _, slot := range models.AllSlots {
		st := r.slots[slot]
		if st.scope != scope {
			continue
		}
		if st.cancel != nil {
			st.cancel()
		}
		st.gen++
		st.cancel = nil
		st.scope = nil
		if st.status == models.SlotLoading {
			st.status = models.SlotIdle
			st.updatedAt = r.now()
			snaps = append(snaps, r.snapshotLocked(slot))
		}
	}
	r.mu.Unlock()

	r.logger.Debug().
		Str("scope_id", scope.id).
		Int("reverted_slots", len(snaps)).
		Msg("Scope closed")

	for _, snap := range snaps {
		r.publishSlot(snap)
	}
}

// start moves slot to loading for coord and returns the request context.
// Any in-flight request for the slot is cancelled first.
func (r *Reconciler) start(scope *Scope, slot models.Slot, coord models.Coordinate) (context.Context, uint64, error) {
	if !slot.Valid() {
		return nil, 0, fmt.Errorf("unknown slot %q", slot)
	}
	if scope.Closed() {
		return nil, 0, ErrClosedScope
	}

	r.mu.Lock()
	st := r.slots[slot]
	if st.cancel != nil {
		st.cancel()
	}
	st.gen++
	gen := st.gen

	ctx, cancel := context.WithCancel(scope.ctx)
	c := coord
	st.coord = &c
	st.status = models.SlotLoading
	st.candidates = nil
	st.names = models.DerivedNames{}
	st.err = nil
	st.cancel = cancel
	st.scope = scope
	st.updatedAt = r.now()
	snap := r.snapshotLocked(slot)
	r.mu.Unlock()

	r.logger.Debug().
		Str("scope_id", scope.id).
		Str("slot", string(slot)).
		Float64("latitude", coord.Latitude).
		Float64("longitude", coord.Longitude).
		Int64("generation", int64(gen)).
		Msg("Slot loading")

	r.publishSlot(snap)
	r.persist(scope.ctx)

	return ctx, gen, nil
}

// resolve runs the geocode and applies the outcome if gen is still current
func (r *Reconciler) resolve(ctx context.Context, slot models.Slot, gen uint64, coord models.Coordinate) error {
	candidates, err := r.resolver.Resolve(ctx, slot, coord)

	r.mu.Lock()
	st := r.slots[slot]
	if st.gen != gen {
		r.mu.Unlock()
		r.logger.Debug().
			Str("slot", string(slot)).
			Int64("generation", int64(gen)).
			Msg("Discarded stale geocode result")
		return nil
	}

	if st.cancel != nil {
		st.cancel()
	}
	st.cancel = nil
	st.scope = nil
	st.updatedAt = r.now()

	var result error
	switch {
	case err != nil && models.IsCancelled(err):
		st.status = models.SlotIdle
	case err != nil:
		st.status = models.SlotError
		st.err = err
		result = err
	default:
		st.status = models.SlotReady
		st.candidates = candidates
		st.names = geocode.DeriveNames(candidates)
	}
	snap := r.snapshotLocked(slot)
	r.mu.Unlock()

	if result != nil {
		r.logger.Warn().
			Err(result).
			Str("slot", string(slot)).
			Msg("Slot geocode failed")
	} else if snap.Status == models.SlotReady {
		r.logger.Debug().
			Str("slot", string(slot)).
			Str("city", snap.Names.CityName).
			Str("route", snap.Names.RouteName).
			Int("candidates", len(snap.Candidates)).
			Msg("Slot ready")
	}

	r.publishSlot(snap)
	return result
}

// SetLocation sets a slot's coordinate and resolves it in the background
func (r *Reconciler) SetLocation(scope *Scope, slot models.Slot, coord models.Coordinate) error {
	ctx, gen, err := r.start(scope, slot, coord)
	if err != nil {
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.resolve(ctx, slot, gen, coord)
	}()
	return nil
}

// SetCurrent stores a fresh device fix. When enabled, an unset selected slot
// is seeded from it.
func (r *Reconciler) SetCurrent(scope *Scope, fix models.Position) error {
	coord := fix.Coordinate()

	r.mu.Lock()
	r.accuracy = fix.Accuracy
	seed := r.options.SeedSelectedFromCurrent && r.slots[models.SlotSelected].coord == nil
	r.mu.Unlock()

	if err := r.SetLocation(scope, models.SlotCurrent, coord); err != nil {
		return err
	}
	if seed {
		return r.SetLocation(scope, models.SlotSelected, coord)
	}
	return nil
}

// SetSelected sets the browse/pickup point
func (r *Reconciler) SetSelected(scope *Scope, coord models.Coordinate) error {
	return r.SetLocation(scope, models.SlotSelected, coord)
}

// EditLocation applies a map drag or search pick. Edits always move the
// selected point; while a destination exists that point is the pickup.
func (r *Reconciler) EditLocation(scope *Scope, coord models.Coordinate) error {
	return r.SetSelected(scope, coord)
}

// SetDestination sets the ride destination
func (r *Reconciler) SetDestination(scope *Scope, coord models.Coordinate) error {
	return r.SetLocation(scope, models.SlotDestination, coord)
}

// ClearDestination drops the destination and its candidates. Selected is untouched.
func (r *Reconciler) ClearDestination() {
	r.mu.Lock()
	st := r.slots[models.SlotDestination]
	if st.cancel != nil {
		st.cancel()
	}
	st.gen++
	st.coord = nil
	st.status = models.SlotIdle
	st.candidates = nil
	st.names = models.DerivedNames{}
	st.err = nil
	st.cancel = nil
	st.scope = nil
	st.updatedAt = r.now()
	snap := r.snapshotLocked(models.SlotDestination)
	r.mu.Unlock()

	r.logger.Debug().Msg("Destination cleared")
	r.publishSlot(snap)
}

// LeaveRideFlow is the ride screen's back action
func (r *Reconciler) LeaveRideFlow() {
	r.ClearDestination()
}

// CommitRidePoint stores a ride flow pick: the destination when none is set,
// otherwise the pickup point. Returns the slot that was written.
func (r *Reconciler) CommitRidePoint(scope *Scope, coord models.Coordinate) (models.Slot, error) {
	slot := models.SlotSelected
	if r.PointContext() == models.ContextBrowse {
		slot = models.SlotDestination
	}
	return slot, r.SetLocation(scope, slot, coord)
}

// UseCurrentLocation copies the device coordinate into the selected slot
func (r *Reconciler) UseCurrentLocation(scope *Scope) error {
	coord, ok := r.coordinate(models.SlotCurrent)
	if !ok {
		return fmt.Errorf("%w: %w", models.ErrLocationUnavailable, ErrNoCoordinate)
	}
	return r.SetSelected(scope, coord)
}

// Retry re-resolves the slot's existing coordinate
func (r *Reconciler) Retry(scope *Scope, slot models.Slot) error {
	coord, ok := r.coordinate(slot)
	if !ok {
		return fmt.Errorf("retry %s: %w", slot, ErrNoCoordinate)
	}
	return r.SetLocation(scope, slot, coord)
}

// ResolveAll re-resolves every slot holding a coordinate and waits for the
// outcomes. The first geocode failure is returned; cancellations are not errors.
func (r *Reconciler) ResolveAll(scope *Scope) error {
	g := new(errgroup.Group)

	for _, slot := range models.AllSlots {
		coord, ok := r.coordinate(slot)
		if !ok {
			continue
		}
		ctx, gen, err := r.start(scope, slot, coord)
		if err != nil {
			// Slots already started still settle before the error is returned
			_ = g.Wait()
			return err
		}
		r.wg.Add(1)
		g.Go(func() error {
			defer r.wg.Done()
			return r.resolve(ctx, slot, gen, coord)
		})
	}

	return g.Wait()
}

// Restore loads the persisted session. Coordinates come back idle; loading
// flags, errors and candidates are never persisted.
func (r *Reconciler) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	persisted, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	if persisted == nil {
		return nil
	}

	r.mu.Lock()
	r.slots[models.SlotCurrent].coord = cloneCoord(persisted.Current)
	r.slots[models.SlotSelected].coord = cloneCoord(persisted.Selected)
	if persisted.Permission != "" {
		r.permission = persisted.Permission
	}
	r.accuracy = persisted.Accuracy
	r.mu.Unlock()

	r.persistMu.Lock()
	saved := *persisted
	r.lastSaved = &saved
	r.persistMu.Unlock()

	r.logger.Info().
		Bool("has_current", persisted.Current != nil).
		Bool("has_selected", persisted.Selected != nil).
		Str("permission", string(persisted.Permission)).
		Msg("Session restored")

	return nil
}

// SetPermission records the normalized permission state
func (r *Reconciler) SetPermission(ctx context.Context, state models.PermissionState) {
	r.mu.Lock()
	r.permission = state
	r.mu.Unlock()
	r.persist(ctx)
}

// Permission returns the last recorded permission state
func (r *Reconciler) Permission() models.PermissionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.permission
}

// Current returns the device coordinate, falling back to the selected point.
// Used to bias text searches.
func (r *Reconciler) Current() (models.Coordinate, bool) {
	if coord, ok := r.coordinate(models.SlotCurrent); ok {
		return coord, true
	}
	return r.coordinate(models.SlotSelected)
}

// PointContext is pickup while a destination is set, browse otherwise
func (r *Reconciler) PointContext() models.PointContext {
	if _, ok := r.coordinate(models.SlotDestination); ok {
		return models.ContextPickup
	}
	return models.ContextBrowse
}

// Snapshot returns a copy of one slot
func (r *Reconciler) Snapshot(slot models.Slot) models.SlotSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(slot)
}

// Snapshots returns every slot in AllSlots order
func (r *Reconciler) Snapshots() []models.SlotSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.SlotSnapshot, 0, len(models.AllSlots))
	for _, slot := range models.AllSlots {
		out = append(out, r.snapshotLocked(slot))
	}
	return out
}

// Wait blocks until background resolves have finished
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// Close closes every open scope and waits for background work
func (r *Reconciler) Close() {
	r.mu.Lock()
	scopes := make([]*Scope, 0, len(r.scopes))
	for _, scope := range r.scopes {
		scopes = append(scopes, scope)
	}
	r.mu.Unlock()

	for _, scope := range scopes {
		scope.Close()
	}
	r.wg.Wait()
}

func (r *Reconciler) coordinate(slot models.Slot) (models.Coordinate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.slots[slot]
	if !ok || st.coord == nil {
		return models.Coordinate{}, false
	}
	return *st.coord, true
}

func (r *Reconciler) snapshotLocked(slot models.Slot) models.SlotSnapshot {
	st := r.slots[slot]
	snap := models.SlotSnapshot{
		Slot:       slot,
		Status:     st.status,
		Coordinate: cloneCoord(st.coord),
		Names:      st.names,
		Err:        st.err,
		UpdatedAt:  st.updatedAt,
	}
	if st.candidates != nil {
		snap.Candidates = make([]models.PlaceCandidate, len(st.candidates))
		copy(snap.Candidates, st.candidates)
	}
	if st.err != nil {
		snap.Error = st.err.Error()
		snap.Blocking = len(st.candidates) == 0
	}
	return snap
}

func (r *Reconciler) publishSlot(snap models.SlotSnapshot) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventSlotChanged,
		Payload: snap,
	}); err != nil {
		r.logger.Warn().Err(err).Str("slot", string(snap.Slot)).Msg("Failed to publish slot change")
	}
}

// persist writes the durable subset of state when it changed.
// persistMu orders writers so an older state never lands after a newer one.
func (r *Reconciler) persist(ctx context.Context) {
	if r.store == nil {
		return
	}

	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	next := models.PersistedSession{
		Current:    cloneCoord(r.slots[models.SlotCurrent].coord),
		Selected:   cloneCoord(r.slots[models.SlotSelected].coord),
		Permission: r.permission,
		Accuracy:   r.accuracy,
	}
	r.mu.Unlock()

	if r.lastSaved != nil && samePersisted(*r.lastSaved, next) {
		return
	}

	if err := r.store.Save(context.WithoutCancel(ctx), next); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to persist session")
		return
	}
	r.lastSaved = &next
}

func samePersisted(a, b models.PersistedSession) bool {
	return sameCoord(a.Current, b.Current) &&
		sameCoord(a.Selected, b.Selected) &&
		a.Permission == b.Permission &&
		a.Accuracy == b.Accuracy
}

func sameCoord(a, b *models.Coordinate) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func cloneCoord(c *models.Coordinate) *models.Coordinate {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}

// FixSink binds device fixes to scope so an Acquirer can feed the current slot
func (r *Reconciler) FixSink(scope *Scope) interfaces.FixSink {
	return &scopedFixSink{r: r, scope: scope}
}

type scopedFixSink struct {
	r     *Reconciler
	scope *Scope
}

func (s *scopedFixSink) SetCurrentFix(ctx context.Context, fix models.Position) {
	if err := s.r.SetCurrent(s.scope, fix); err != nil && !models.IsCancelled(err) {
		s.r.logger.Warn().Err(err).Msg("Failed to apply device fix")
	}
}
