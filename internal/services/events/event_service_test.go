package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/waypoint/internal/interfaces"
)

func TestPublishSync_DeliversToAllHandlers(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	var mu sync.Mutex
	var got []string
	for _, name := range []string{"a", "b"} {
		name := name
		require.NoError(t, svc.Subscribe(interfaces.EventSlotChanged, func(ctx context.Context, event interfaces.Event) error {
			mu.Lock()
			got = append(got, name+":"+event.Payload.(string))
			mu.Unlock()
			return nil
		}))
	}

	require.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventSlotChanged, Payload: "x"}))
	assert.ElementsMatch(t, []string{"a:x", "b:x"}, got)
}

func TestPublishSync_JoinsHandlerErrors(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	boom := errors.New("boom")
	require.NoError(t, svc.Subscribe(interfaces.EventSearchChanged, func(ctx context.Context, event interfaces.Event) error {
		return boom
	}))

	err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventSearchChanged})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestPublish_Async(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	received := make(chan interfaces.Event, 1)
	require.NoError(t, svc.Subscribe(interfaces.EventPermissionChanged, func(ctx context.Context, event interfaces.Event) error {
		received <- event
		return nil
	}))

	require.NoError(t, svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventPermissionChanged, Payload: "granted"}))

	select {
	case event := <-received:
		assert.Equal(t, "granted", event.Payload)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscribe_NilHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()
	assert.Error(t, svc.Subscribe(interfaces.EventSlotChanged, nil))
}

func TestClose_RejectsLaterCalls(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	err := svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventSlotChanged})
	assert.ErrorIs(t, err, ErrServiceClosed)

	err = svc.Subscribe(interfaces.EventSlotChanged, func(ctx context.Context, event interfaces.Event) error { return nil })
	assert.ErrorIs(t, err, ErrServiceClosed)
}

func TestChangeAggregator_CoalescesTopics(t *testing.T) {
	var mu sync.Mutex
	var batches [][]string
	agg := NewChangeAggregator(time.Hour, func(ctx context.Context, topics []string) {
		mu.Lock()
		batches = append(batches, topics)
		mu.Unlock()
	}, arbor.NewLogger())

	agg.Record("selected")
	agg.Record("search")
	agg.Record("selected")
	agg.Record("")
	agg.Flush(context.Background())
	agg.Flush(context.Background())

	require.Len(t, batches, 1)
	assert.Equal(t, []string{"search", "selected"}, batches[0])
}

func TestChangeAggregator_RunFlushesOnStop(t *testing.T) {
	flushed := make(chan []string, 4)
	agg := NewChangeAggregator(time.Hour, func(ctx context.Context, topics []string) {
		flushed <- topics
	}, arbor.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.Run(ctx)
		close(done)
	}()

	agg.Record("current")
	cancel()
	<-done

	select {
	case topics := <-flushed:
		assert.Equal(t, []string{"current"}, topics)
	default:
		t.Fatal("expected final flush")
	}
}

func TestChangeAggregator_RecoversPanic(t *testing.T) {
	agg := NewChangeAggregator(time.Hour, func(ctx context.Context, topics []string) {
		panic("handler exploded")
	}, arbor.NewLogger())

	agg.Record("destination")
	assert.NotPanics(t, func() { agg.Flush(context.Background()) })
}

func TestPublishSync_PanickingHandlerBecomesError(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	require.NoError(t, svc.Subscribe(interfaces.EventAccuracyChanged, func(ctx context.Context, event interfaces.Event) error {
		panic("bad handler")
	}))

	var err error
	assert.NotPanics(t, func() {
		err = svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventAccuracyChanged})
	})
	assert.ErrorContains(t, err, "bad handler")
}
