package interfaces

import (
	"context"

	"github.com/ternarybob/waypoint/internal/models"
)

// SessionStore persists the reconciler's durable state under one namespaced key
type SessionStore interface {
	Load(ctx context.Context) (*models.PersistedSession, error)
	Save(ctx context.Context, session models.PersistedSession) error
	Clear(ctx context.Context) error
}
