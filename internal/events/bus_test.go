package events

import (
	"testing"
	"time"
)

func TestBusTopicRouting(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	storyCh := bus.Subscribe(TopicStory, 4)
	commitCh := bus.Subscribe(TopicCommit, 4)

	bus.Publish(StoryStarted{StoryID: "US-001", Attempt: 1})
	bus.Publish(CommitCreated{StoryID: "US-001", Hash: "abc"})

	select {
	case ev := <-storyCh:
		if _, ok := ev.(StoryStarted); !ok {
			t.Errorf("story channel got %T", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("story subscriber received nothing")
	}

	select {
	case ev := <-commitCh:
		if _, ok := ev.(CommitCreated); !ok {
			t.Errorf("commit channel got %T", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("commit subscriber received nothing")
	}

	// The story channel must not see the commit event.
	select {
	case ev := <-storyCh:
		t.Errorf("story channel got stray event %T", ev)
	default:
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.SubscribeAll(4)
	bus.Publish(BatchStarted{Index: 0})
	bus.Publish(RunFinished{Status: "success"})

	if got := len(all); got != 2 {
		t.Errorf("all-topic channel holds %d events, want 2", got)
	}
}

func TestBusDropOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicStory, 1)
	bus.Publish(StoryStarted{StoryID: "US-001"})
	// The buffer is full; this must not block the publisher.
	done := make(chan struct{})
	go func() {
		bus.Publish(StoryStarted{StoryID: "US-002"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	ev := <-ch
	if ev.(StoryStarted).StoryID != "US-001" {
		t.Errorf("kept event = %+v, want the first one", ev)
	}
}

func TestBusCloseIdempotent(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicRun, 1)

	bus.Close()
	bus.Close()

	if _, open := <-ch; open {
		t.Error("subscriber channel still open after Close")
	}

	// Publishing and subscribing after close are safe no-ops.
	bus.Publish(RunFinished{Status: "failed"})
	if _, open := <-bus.Subscribe(TopicRun, 1); open {
		t.Error("post-close subscription returned an open channel")
	}
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	bus.Publish(RunFinished{Status: "success"})
}
