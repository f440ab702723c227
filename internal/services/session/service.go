// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 3:02:47 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/waypoint/internal/interfaces"
	"github.com/ternarybob/waypoint/internal/models"
)

// Service persists the reconciler's durable state as JSON under one namespaced key
type Service struct {
	storage interfaces.KeyValueStorage
	key     string
	logger  arbor.ILogger
	now     func() time.Time
}

// NewService creates a session store writing to key
func NewService(storage interfaces.KeyValueStorage, key string, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		key:     key,
		logger:  logger,
		now:     time.Now,
	}
}

var _ interfaces.SessionStore = (*Service)(nil)

// Load returns the persisted session, or nil when nothing was saved yet
func (s *Service) Load(ctx context.Context) (*models.PersistedSession, error) {
	raw, err := s.storage.Get(ctx, s.key)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		s.logger.Debug().Str("key", s.key).Msg("No persisted session")
		return nil, nil
	}
	if err != nil {
		s.logger.Error().Err(err).Str("key", s.key).Msg("Failed to load session")
		return nil, err
	}

	var persisted models.PersistedSession
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
		return nil, fmt.Errorf("failed to decode persisted session %s: %w", s.key, err)
	}

	s.logger.Debug().
		Str("key", s.key).
		Bool("has_current", persisted.Current != nil).
		Bool("has_selected", persisted.Selected != nil).
		Str("permission", string(persisted.Permission)).
		Msg("Loaded persisted session")

	return &persisted, nil
}

// Save overwrites the persisted session, stamping SavedAt
func (s *Service) Save(ctx context.Context, session models.PersistedSession) error {
	session.SavedAt = s.now()

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := s.storage.Set(ctx, s.key, string(data)); err != nil {
		s.logger.Error().Err(err).Str("key", s.key).Msg("Failed to store session")
		return err
	}

	s.logger.Trace().Str("key", s.key).Msg("Stored session")
	return nil
}

// Clear removes the persisted session. Clearing an empty store is not an error.
func (s *Service) Clear(ctx context.Context) error {
	err := s.storage.Delete(ctx, s.key)
	if err != nil && !errors.Is(err, interfaces.ErrKeyNotFound) {
		s.logger.Error().Err(err).Str("key", s.key).Msg("Failed to delete session")
		return err
	}

	s.logger.Info().Str("key", s.key).Msg("Cleared persisted session")
	return nil
}
