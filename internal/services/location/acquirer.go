// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 3:40:12 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package location

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/waypoint/internal/common"
	"github.com/ternarybob/waypoint/internal/interfaces"
	"github.com/ternarybob/waypoint/internal/models"
)

// ErrNotAcquiring is returned by AcquireOnce when the acquiring flag is off
var ErrNotAcquiring = errors.New("location acquisition not requested")

// Thresholds bucket fixes by accuracy in meters
type Thresholds struct {
	HighMax  float64
	MedMax   float64
	PromptAt float64
}

// ThresholdsFromConfig reads the [location] section
func ThresholdsFromConfig(config common.LocationConfig) Thresholds {
	return Thresholds{
		HighMax:  config.HighAccuracyMax,
		MedMax:   config.MedAccuracyMax,
		PromptAt: config.LowAccuracyPrompt,
	}
}

// DefaultThresholds are the tuned product values
var DefaultThresholds = Thresholds{HighMax: 20, MedMax: 100, PromptAt: 100}

// Classify buckets an accuracy reading. Zero or negative means the platform
// did not report one.
func (t Thresholds) Classify(accuracy float64) models.AccuracyLevel {
	switch {
	case accuracy <= 0:
		return models.AccuracyUnknown
	case accuracy <= t.HighMax:
		return models.AccuracyHigh
	case accuracy <= t.MedMax:
		return models.AccuracyMed
	default:
		return models.AccuracyLow
	}
}

// Acquirer obtains one-shot device fixes once permission is granted
type Acquirer struct {
	gate       interfaces.PermissionGate
	provider   interfaces.PositionProvider
	prompter   interfaces.Prompter
	sink       interfaces.FixSink
	events     interfaces.EventService
	thresholds Thresholds
	logger     arbor.ILogger

	mu        sync.RWMutex
	acquiring bool
	level     models.AccuracyLevel
	last      *models.Position
}

// NewAcquirer creates an acquirer. sink and events may be nil.
func NewAcquirer(
	gate interfaces.PermissionGate,
	provider interfaces.PositionProvider,
	prompter interfaces.Prompter,
	sink interfaces.FixSink,
	events interfaces.EventService,
	thresholds Thresholds,
	logger arbor.ILogger,
) *Acquirer {
	return &Acquirer{
		gate:       gate,
		provider:   provider,
		prompter:   prompter,
		sink:       sink,
		events:     events,
		thresholds: thresholds,
		logger:     logger,
		level:      models.AccuracyUnknown,
	}
}

// SetAcquiring raises or lowers the request flag
func (a *Acquirer) SetAcquiring(acquiring bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acquiring = acquiring
}

func (a *Acquirer) IsAcquiring() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.acquiring
}

// AccuracyLevel is the bucket of the last successful fix
func (a *Acquirer) AccuracyLevel() models.AccuracyLevel {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.level
}

// LastFix returns the last successful fix, if any
func (a *Acquirer) LastFix() (models.Position, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.last == nil {
		return models.Position{}, false
	}
	return *a.last, true
}

// Classify buckets accuracy with the configured thresholds
func (a *Acquirer) Classify(accuracy float64) models.AccuracyLevel {
	return a.thresholds.Classify(accuracy)
}

// AcquireOnce takes a single fix. It only runs while the acquiring flag is set
// and clears the flag when it finishes, successfully or not.
func (a *Acquirer) AcquireOnce(ctx context.Context) (models.Position, error) {
	if !a.IsAcquiring() {
		return models.Position{}, ErrNotAcquiring
	}
	defer a.SetAcquiring(false)

	if state := a.gate.State(); state != models.PermissionGranted {
		return models.Position{}, fmt.Errorf("%w: %w (state %s)", models.ErrLocationUnavailable, models.ErrPermissionDenied, state)
	}

	fix, err := a.provider.GetCurrentPosition(ctx)
	if err != nil {
		if models.IsCancelled(err) {
			return models.Position{}, err
		}
		a.logger.Warn().Err(err).Msg("Device position unavailable")
		return models.Position{}, fmt.Errorf("%w: %w", models.ErrLocationUnavailable, err)
	}

	level := a.Classify(fix.Accuracy)

	a.mu.Lock()
	previous := a.level
	a.level = level
	a.last = &fix
	a.mu.Unlock()

	a.logger.Info().
		Float64("latitude", fix.Latitude).
		Float64("longitude", fix.Longitude).
		Float64("accuracy", fix.Accuracy).
		Str("level", string(level)).
		Msg("Device fix acquired")

	if a.events != nil && previous != level {
		if err := a.events.Publish(ctx, interfaces.Event{
			Type:    interfaces.EventAccuracyChanged,
			Payload: level,
		}); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to publish accuracy change")
		}
	}

	return fix, nil
}

// Acquire runs the whole flow: permission, fix, sink, and at most one
// low accuracy retry prompt. Accepting the prompt raises the flag again and
// takes a fresh fix, which also reaches the sink.
func (a *Acquirer) Acquire(ctx context.Context) (models.Position, error) {
	a.SetAcquiring(true)

	state, err := a.gate.RequestPermission(ctx)
	if err != nil {
		a.SetAcquiring(false)
		return models.Position{}, fmt.Errorf("%w: %w", models.ErrLocationUnavailable, err)
	}
	if state != models.PermissionGranted {
		a.SetAcquiring(false)
		return models.Position{}, fmt.Errorf("%w: %w (state %s)", models.ErrLocationUnavailable, models.ErrPermissionDenied, state)
	}

	prompted := false
	for {
		fix, err := a.AcquireOnce(ctx)
		if err != nil {
			return models.Position{}, err
		}

		if a.sink != nil {
			a.sink.SetCurrentFix(ctx, fix)
		}

		if prompted || fix.Accuracy < a.thresholds.PromptAt {
			return fix, nil
		}
		prompted = true

		retry, err := a.prompter.PromptLowAccuracy(ctx, fix.Accuracy)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Low accuracy prompt failed")
			return fix, nil
		}
		if !retry {
			a.logger.Debug().Float64("accuracy", fix.Accuracy).Msg("User kept low accuracy fix")
			return fix, nil
		}

		a.logger.Info().Float64("accuracy", fix.Accuracy).Msg("Re-acquiring after low accuracy fix")
		a.SetAcquiring(true)
	}
}
