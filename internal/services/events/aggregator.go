package events

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// ChangeAggregator coalesces state-change notifications per topic and flushes
// them on a fixed interval. Topics are slot names or "search"; a burst of
// events for one topic produces a single trigger.
type ChangeAggregator struct {
	mu       sync.Mutex
	interval time.Duration
	pending  map[string]bool

	onTrigger func(ctx context.Context, topics []string)

	logger arbor.ILogger
}

// NewChangeAggregator creates an aggregator with time-based triggering
func NewChangeAggregator(
	interval time.Duration,
	onTrigger func(ctx context.Context, topics []string),
	logger arbor.ILogger,
) *ChangeAggregator {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	return &ChangeAggregator{
		interval:  interval,
		pending:   make(map[string]bool),
		onTrigger: onTrigger,
		logger:    logger,
	}
}

// Record marks a topic as changed; it is included in the next flush
func (a *ChangeAggregator) Record(topic string) {
	if topic == "" {
		return
	}

	a.mu.Lock()
	a.pending[topic] = true
	a.mu.Unlock()
}

// take drains the pending set in a stable order
func (a *ChangeAggregator) take() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pending) == 0 {
		return nil
	}

	topics := make([]string, 0, len(a.pending))
	for topic := range a.pending {
		topics = append(topics, topic)
	}
	a.pending = make(map[string]bool)
	sort.Strings(topics)
	return topics
}

// Flush triggers immediately for every pending topic
func (a *ChangeAggregator) Flush(ctx context.Context) {
	topics := a.take()
	if len(topics) == 0 {
		return
	}

	a.logger.Trace().
		Strs("topics", topics).
		Msg("Change aggregator flush")
	a.safeOnTrigger(ctx, topics)
}

// safeOnTrigger wraps onTrigger with panic recovery
func (a *ChangeAggregator) safeOnTrigger(ctx context.Context, topics []string) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Strs("topics", topics).
				Msg("PANIC in ChangeAggregator.onTrigger - recovered")
		}
	}()
	a.onTrigger(ctx, topics)
}

// Run flushes every interval until ctx is done, then flushes once more
func (a *ChangeAggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.Flush(context.Background())
			return
		case <-ticker.C:
			a.Flush(ctx)
		}
	}
}
