// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 2:21:09 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package geocode

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/waypoint/internal/interfaces"
	"github.com/ternarybob/waypoint/internal/models"
)

// flight is one outstanding reverse geocode for a slot
type flight struct {
	id     uint64
	cancel context.CancelFunc
}

// Resolver reverse-geocodes coordinates with at most one request in flight per slot.
// Starting a request for a slot cancels the slot's previous request first.
type Resolver struct {
	client   interfaces.MapsClient
	logger   arbor.ILogger
	mu       sync.Mutex
	seq      uint64
	inflight map[models.Slot]*flight
}

// NewResolver creates a resolver over the given maps client
func NewResolver(client interfaces.MapsClient, logger arbor.ILogger) *Resolver {
	return &Resolver{
		client:   client,
		logger:   logger,
		inflight: make(map[models.Slot]*flight),
	}
}

// Resolve returns the ordered candidates for coord.
// A superseded call returns an error satisfying models.IsCancelled even when
// the upstream answer already arrived, so stale data is never handed back.
func (r *Resolver) Resolve(ctx context.Context, slot models.Slot, coord models.Coordinate) ([]models.PlaceCandidate, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if prev, ok := r.inflight[slot]; ok {
		prev.cancel()
		r.logger.Debug().
			Str("slot", string(slot)).
			Int64("superseded", int64(prev.id)).
			Msg("Cancelled in-flight geocode")
	}
	r.seq++
	f := &flight{id: r.seq, cancel: cancel}
	r.inflight[slot] = f
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.inflight[slot] == f {
			delete(r.inflight, slot)
		}
		r.mu.Unlock()
		cancel()
	}()

	candidates, err := r.client.ReverseGeocode(reqCtx, coord)
	if err != nil {
		if models.IsCancelled(err) || reqCtx.Err() != nil {
			return nil, fmt.Errorf("geocode for %s slot cancelled: %w", slot, context.Canceled)
		}
		r.logger.Warn().
			Err(err).
			Str("slot", string(slot)).
			Float64("latitude", coord.Latitude).
			Float64("longitude", coord.Longitude).
			Msg("Reverse geocode failed")
		return nil, err
	}

	if reqCtx.Err() != nil {
		return nil, fmt.Errorf("geocode for %s slot cancelled: %w", slot, context.Canceled)
	}

	return candidates, nil
}

// Cancel aborts the slot's outstanding request, if any
func (r *Resolver) Cancel(slot models.Slot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.inflight[slot]; ok {
		f.cancel()
		delete(r.inflight, slot)
	}
}

// CancelAll aborts every outstanding request
func (r *Resolver) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for slot, f := range r.inflight {
		f.cancel()
		delete(r.inflight, slot)
	}
}

// InFlight reports whether the slot has an outstanding request
func (r *Resolver) InFlight(slot models.Slot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[slot]
	return ok
}
