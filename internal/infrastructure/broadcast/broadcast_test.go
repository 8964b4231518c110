package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscribe_ReceivesPublishedEvent(t *testing.T) {
	hub := NewHub(nil)
	events, unsubscribe := hub.Subscribe("task-1")
	defer unsubscribe()

	hub.Publish(Event{TaskID: "task-1", Type: "row_processed", Processed: 1})

	select {
	case e := <-events:
		assert.Equal(t, "row_processed", e.Type)
	case <-time.After(time.Second):
		t.Fatal("did not receive published event")
	}
}

func TestPublish_IsolatedPerTask(t *testing.T) {
	hub := NewHub(nil)
	eventsA, unsubA := hub.Subscribe("task-a")
	defer unsubA()
	eventsB, unsubB := hub.Subscribe("task-b")
	defer unsubB()

	hub.Publish(Event{TaskID: "task-a", Type: "row_processed"})

	select {
	case <-eventsA:
	case <-time.After(time.Second):
		t.Fatal("task-a should have received its event")
	}

	select {
	case <-eventsB:
		t.Fatal("task-b should not receive task-a's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	hub := NewHub(nil)
	events, unsubscribe := hub.Subscribe("task-1")
	unsubscribe()

	_, ok := <-events
	assert.False(t, ok)
}

func TestSubscriberCount(t *testing.T) {
	hub := NewHub(nil)
	assert.Equal(t, 0, hub.SubscriberCount("task-1"))

	_, unsub1 := hub.Subscribe("task-1")
	_, unsub2 := hub.Subscribe("task-1")
	assert.Equal(t, 2, hub.SubscriberCount("task-1"))

	unsub1()
	assert.Equal(t, 1, hub.SubscriberCount("task-1"))
	unsub2()
	assert.Equal(t, 0, hub.SubscriberCount("task-1"))
}

func TestPublish_NoSubscribersIsNoop(t *testing.T) {
	hub := NewHub(nil)
	assert.NotPanics(t, func() {
		hub.Publish(Event{TaskID: "missing-task", Type: "row_processed"})
	})
}

func TestPublish_FullBufferDropsWithoutBlocking(t *testing.T) {
	hub := NewHub(nil)
	_, unsubscribe := hub.Subscribe("task-1")
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			hub.Publish(Event{TaskID: "task-1", Type: "row_processed"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
}
