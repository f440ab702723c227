// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 4:18:55 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/waypoint/internal/interfaces"
	"github.com/ternarybob/waypoint/internal/models"
)

// DefaultDebounce is the idle time after the last keystroke before a search is sent
const DefaultDebounce = 800 * time.Millisecond

// ErrSessionClosed is returned once the owning screen has gone away
var ErrSessionClosed = fmt.Errorf("search session closed: %w", context.Canceled)

// ErrForeignPageToken rejects a page token offered with a query other than the one it continues
var ErrForeignPageToken = fmt.Errorf("%w: page token belongs to another query", models.ErrPlaceSearchFailed)

// errTimerSuperseded drops a debounced search overtaken by a later keystroke
var errTimerSuperseded = fmt.Errorf("debounced search superseded: %w", context.Canceled)

type request struct {
	query     string
	near      *models.Coordinate
	pageToken string
}

// Session is a debounced, paginated free-text place search bound to one screen.
// Only the newest request may change state; older answers are dropped.
type Session struct {
	client   interfaces.MapsClient
	near     interfaces.NearProvider
	events   interfaces.EventService
	debounce time.Duration
	logger   arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	timer     *time.Timer
	timerGen  uint64
	gen       uint64
	reqCancel context.CancelFunc
	last      *request
	state     models.SearchSnapshot
}

// NewSession creates a session living until ctx is done or Close is called.
// near and events may be nil.
func NewSession(
	ctx context.Context,
	client interfaces.MapsClient,
	near interfaces.NearProvider,
	events interfaces.EventService,
	debounce time.Duration,
	logger arbor.ILogger,
) *Session {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	scopeCtx, cancel := context.WithCancel(ctx)

	s := &Session{
		client:   client,
		near:     near,
		events:   events,
		debounce: debounce,
		logger:   logger,
		ctx:      scopeCtx,
		cancel:   cancel,
	}

	// Parent scope teardown closes the session too
	context.AfterFunc(scopeCtx, s.Close)

	return s
}

// Type records a keystroke. The search is sent once no further keystroke
// arrives for the debounce period; superseded timers are stopped. An empty
// query resets the session.
func (s *Session) Type(query string) {
	query = normalizeQuery(query)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++

	if query == "" {
		s.resetLocked()
		return
	}

	tg := s.timerGen
	s.timer = time.AfterFunc(s.debounce, func() {
		// The timer generation is checked again under the dispatch lock, so a
		// keystroke landing now keeps this query from going out
		timerGen := tg
		if _, err := s.dispatch(s.ctx, query, s.nearCoordinate(), "", &timerGen); err != nil && !models.IsCancelled(err) {
			s.logger.Debug().Err(err).Str("search_query", query).Msg("Debounced search failed")
		}
	})
}

// Search sends one request immediately. Without a page token the results are
// replaced; with one they are appended, and the query must be the one the
// session already holds. OK and ZERO_RESULTS both succeed. Any upstream
// failure clears the page token so pagination stops.
func (s *Session) Search(ctx context.Context, query string, near *models.Coordinate, pageToken string) (*models.SearchPage, error) {
	return s.dispatch(ctx, query, near, pageToken, nil)
}

// dispatch runs one request. A non-nil timerGen must still match the
// session's timer generation or nothing is sent.
func (s *Session) dispatch(ctx context.Context, query string, near *models.Coordinate, pageToken string, timerGen *uint64) (*models.SearchPage, error) {
	query = normalizeQuery(query)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if timerGen != nil {
		if *timerGen != s.timerGen {
			s.mu.Unlock()
			return nil, errTimerSuperseded
		}
		s.timer = nil
	}
	if pageToken != "" && query != s.state.Query {
		current := s.state.Query
		s.mu.Unlock()
		return nil, fmt.Errorf("search %q with token for %q: %w", query, current, ErrForeignPageToken)
	}

	if s.reqCancel != nil {
		s.reqCancel()
	}
	s.gen++
	gen := s.gen

	reqCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()
	s.reqCancel = cancel

	s.last = &request{query: query, near: near, pageToken: pageToken}
	if pageToken == "" {
		s.state = models.SearchSnapshot{Query: query}
	}
	s.state.Searching = true
	s.state.Err = nil
	s.state.Error = ""
	s.state.Blocking = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)

	s.logger.Debug().
		Str("search_query", query).
		Bool("paged", pageToken != "").
		Bool("biased", near != nil).
		Msg("Dispatching place search")

	page, err := s.client.TextSearch(reqCtx, interfaces.TextSearchRequest{
		Query:     query,
		Near:      near,
		PageToken: pageToken,
	})

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("search %q superseded: %w", query, context.Canceled)
	}
	s.reqCancel = nil
	s.state.Searching = false

	if err != nil {
		if models.IsCancelled(err) {
			snap = s.snapshotLocked()
			s.mu.Unlock()
			s.publish(snap)
			return nil, err
		}
		if !errors.Is(err, models.ErrPlaceSearchFailed) {
			err = fmt.Errorf("%w: %w", models.ErrPlaceSearchFailed, err)
		}
		s.state.Err = err
		s.state.Error = err.Error()
		s.state.PageToken = ""
		s.state.Exhausted = true
		s.state.Blocking = len(s.state.Results) == 0
		snap = s.snapshotLocked()
		s.mu.Unlock()

		s.logger.Warn().
			Err(err).
			Str("search_query", query).
			Bool("blocking", snap.Blocking).
			Msg("Place search failed")
		s.publish(snap)
		return nil, err
	}

	if pageToken == "" {
		s.state.Results = cloneCandidates(page.Results)
	} else {
		s.state.Results = append(s.state.Results, page.Results...)
	}
	s.state.PageToken = page.NextPageToken
	s.state.Exhausted = page.NextPageToken == ""
	snap = s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return page, nil
}

// LoadMore fetches the next page in the background. It does nothing when the
// session is exhausted, idle, or already searching.
func (s *Session) LoadMore() bool {
	s.mu.Lock()
	if s.closed || s.state.Exhausted || s.state.PageToken == "" || s.state.Searching {
		s.mu.Unlock()
		return false
	}
	query, token := s.state.Query, s.state.PageToken
	var near *models.Coordinate
	if s.last != nil {
		near = s.last.near
	}
	s.mu.Unlock()

	go s.run(query, near, token)
	return true
}

// Retry re-sends the last request, page token included
func (s *Session) Retry() bool {
	s.mu.Lock()
	if s.closed || s.last == nil {
		s.mu.Unlock()
		return false
	}
	last := *s.last
	s.mu.Unlock()

	go s.run(last.query, last.near, last.pageToken)
	return true
}

func (s *Session) run(query string, near *models.Coordinate, pageToken string) {
	if _, err := s.Search(s.ctx, query, near, pageToken); err != nil && !models.IsCancelled(err) {
		s.logger.Debug().Err(err).Str("search_query", query).Msg("Background search failed")
	}
}

// Reset stops any pending timer or request and clears results
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
	s.resetLocked()
}

func (s *Session) resetLocked() {
	if s.reqCancel != nil {
		s.reqCancel()
		s.reqCancel = nil
	}
	s.gen++
	s.last = nil
	s.state = models.SearchSnapshot{}
	snap := s.snapshotLocked()
	go s.publish(snap)
}

// Blocking reports whether the session failed with nothing on screen
func (s *Session) Blocking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Err != nil && s.state.Blocking
}

// Snapshot returns a copy of the session state
func (s *Session) Snapshot() models.SearchSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() models.SearchSnapshot {
	snap := s.state
	snap.Results = cloneCandidates(s.state.Results)
	return snap
}

// Close cancels the pending timer and in-flight request. Safe to call twice.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.reqCancel != nil {
		s.reqCancel()
		s.reqCancel = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.logger.Debug().Msg("Search session closed")
}

func (s *Session) nearCoordinate() *models.Coordinate {
	if s.near == nil {
		return nil
	}
	coord, ok := s.near.Current()
	if !ok {
		return nil
	}
	return &coord
}

func (s *Session) publish(snap models.SearchSnapshot) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(s.ctx, interfaces.Event{
		Type:    interfaces.EventSearchChanged,
		Payload: snap,
	}); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Msg("Failed to publish search change")
	}
}
