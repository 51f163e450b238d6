package evtbus_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/sdcore/corevault/evtbus"
)

func TestPublishDeliversToEverySubscriber(t *testing.T) {
	bus := evtbus.New()
	a := bus.Subscribe(evtbus.TopicJobProgress)
	b := bus.Subscribe(evtbus.TopicJobProgress)
	defer a.Close()
	defer b.Close()

	ev := evtbus.JobProgressEvent{JobID: uuid.New(), CompletedTaskCount: 1}
	bus.Publish(evtbus.TopicJobProgress, ev)

	for name, sub := range map[string]*evtbus.Subscription{"a": a, "b": b} {
		select {
		case got := <-sub.Events():
			if got.(evtbus.JobProgressEvent).JobID != ev.JobID {
				t.Fatalf("subscriber %s got wrong event: %+v", name, got)
			}
		default:
			t.Fatalf("subscriber %s got nothing", name)
		}
	}
}

func TestPublishIsScopedToItsTopic(t *testing.T) {
	bus := evtbus.New()
	progress := bus.Subscribe(evtbus.TopicJobProgress)
	invalidate := bus.Subscribe(evtbus.TopicInvalidateQuery)
	defer progress.Close()
	defer invalidate.Close()

	bus.Publish(evtbus.TopicInvalidateQuery, evtbus.InvalidateQueryEvent{Key: "x"})

	select {
	case got := <-progress.Events():
		t.Fatalf("unrelated topic delivered an event: %+v", got)
	default:
	}

	select {
	case <-invalidate.Events():
	default:
		t.Fatalf("expected an event on the published topic")
	}
}

func TestPublishDropsOldestOnFullQueue(t *testing.T) {
	bus := evtbus.New()
	sub := bus.Subscribe(evtbus.TopicWatcherLost)
	defer sub.Close()

	const depth = 64 // evtbus.subscriberQueueDepth, unexported
	for i := 0; i < depth; i++ {
		bus.Publish(evtbus.TopicWatcherLost, evtbus.WatcherLostEvent{LocationID: int64(i)})
	}
	// One more publish should evict LocationID 0, not block or panic.
	bus.Publish(evtbus.TopicWatcherLost, evtbus.WatcherLostEvent{LocationID: depth})

	first := <-sub.Events()
	if got := first.(evtbus.WatcherLostEvent).LocationID; got != 1 {
		t.Fatalf("expected oldest entry (id 0) evicted, first remaining id = %d", got)
	}
}

func TestCloseStopsFurtherDelivery(t *testing.T) {
	bus := evtbus.New()
	sub := bus.Subscribe(evtbus.TopicNewThumbnail)
	sub.Close()

	// Publish after Close must not panic even though the channel is closed
	// and detached from the subscriber set.
	bus.Publish(evtbus.TopicNewThumbnail, evtbus.NewThumbnailEvent{ThumbKey: "k"})
}
