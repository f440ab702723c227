package reconciler

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Scope is the cancellation scope of one consuming screen. Every request the
// screen issues runs under the scope's context; Close cancels all of them.
type Scope struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	onDone func(*Scope)
}

func newScope(parent context.Context, onDone func(*Scope)) *Scope {
	ctx, cancel := context.WithCancel(parent)
	return &Scope{
		id:     uuid.New().String(),
		ctx:    ctx,
		cancel: cancel,
		onDone: onDone,
	}
}

// ID identifies the scope in logs and on the wire
func (s *Scope) ID() string { return s.id }

// Context is cancelled when the scope closes
func (s *Scope) Context() context.Context { return s.ctx }

// Closed reports whether Close has been called or the parent was cancelled
func (s *Scope) Closed() bool { return s.ctx.Err() != nil }

// Close cancels every request issued under the scope. Safe to call twice.
func (s *Scope) Close() {
	s.once.Do(func() {
		s.cancel()
		if s.onDone != nil {
			s.onDone(s)
		}
	})
}
