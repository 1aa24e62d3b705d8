package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/assetsmith/internal/model"
)

func TestPublishFansOut(t *testing.T) {
	p := NewPublisher()
	defer p.Close()

	a, cancelA := p.Subscribe()
	defer cancelA()
	b, cancelB := p.Subscribe()
	defer cancelB()

	p.Publish(model.Event{Type: model.EventStageTransition, RunID: "run-1", AssetID: "icon-a"})

	for _, ch := range []<-chan model.Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, model.EventStageTransition, ev.Type)
			assert.Equal(t, "icon-a", ev.AssetID)
			assert.False(t, ev.OccurredAt.IsZero(), "publish stamps the event time")
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the event")
		}
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	p := NewPublisher()
	defer p.Close()

	ch, cancel := p.Subscribe()
	cancel()

	_, open := <-ch
	assert.False(t, open, "cancel closes the subscriber channel")

	// Publishing after cancel must not panic or deliver.
	p.Publish(model.Event{Type: model.EventStageTransition})
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	p := NewPublisher()
	defer p.Close()

	ch, cancel := p.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < defaultBuffer+10; i++ {
			p.Publish(model.Event{Type: model.EventStageTransition})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, defaultBuffer)
	assert.EqualValues(t, 10, p.dropped.Load())
}

func TestCloseIsIdempotent(t *testing.T) {
	p := NewPublisher()
	ch, _ := p.Subscribe()

	p.Close()
	p.Close()

	_, open := <-ch
	assert.False(t, open)

	p.Publish(model.Event{Type: model.EventStageTransition})
}

func TestSubscribeAfterClose(t *testing.T) {
	p := NewPublisher()
	p.Close()

	ch, cancel := p.Subscribe()
	require.NotNil(t, cancel)
	_, open := <-ch
	assert.False(t, open, "subscriptions after close are born closed")
	cancel()
}
