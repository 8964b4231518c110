// Package broadcast fans extraction-progress events out to subscribers of
// a given task, modeled on the teacher's websocket hub but keyed solely by
// task id and backed by a lock-striped concurrent map so that one task's
// subscriber churn never contends with another's.
package broadcast

import (
	"log/slog"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Event is one progress notification emitted during an extraction task run.
type Event struct {
	TaskID    string
	Type      string
	FileName  string
	SheetName string
	Row       int
	Processed int
	Success   int
	Errors    int
	Total     int
	Speed     float64
	Message   string
}

const subscriberBuffer = 64

// subscriber is a single listener's event channel plus a once-guard so that
// calling its unsubscribe function more than once never closes it twice.
type subscriber struct {
	ch     chan Event
	once   sync.Once
}

func newSubscriber() *subscriber {
	return &subscriber{ch: make(chan Event, subscriberBuffer)}
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

type subscriberSet struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// Hub fans out progress events per task id. Subscribe/Unsubscribe/Publish
// are all safe to call concurrently from independent goroutines, and one
// task's publish never blocks on another task's slow subscriber — the
// per-task subscriber set is only ever touched while holding that task's
// own lock, and the per-subscriber channel send is non-blocking.
type Hub struct {
	tasks  *xsync.MapOf[string, *subscriberSet]
	logger *slog.Logger
}

// NewHub constructs a Hub; logger may be nil, in which case slog.Default()
// is used.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		tasks:  xsync.NewMapOf[string, *subscriberSet](),
		logger: logger,
	}
}

// Subscribe registers a new listener for taskID and returns a channel of
// events plus an unsubscribe function the caller must invoke when done.
func (h *Hub) Subscribe(taskID string) (<-chan Event, func()) {
	set, _ := h.tasks.LoadOrCompute(taskID, func() *subscriberSet {
		return &subscriberSet{subs: make(map[*subscriber]struct{})}
	})

	sub := newSubscriber()
	set.mu.Lock()
	set.subs[sub] = struct{}{}
	set.mu.Unlock()

	unsubscribe := func() {
		set.mu.Lock()
		delete(set.subs, sub)
		empty := len(set.subs) == 0
		set.mu.Unlock()
		sub.close()
		if empty {
			h.tasks.Delete(taskID)
		}
	}

	return sub.ch, unsubscribe
}

// Publish delivers event to every current subscriber of its TaskID. A
// subscriber whose channel buffer is full is skipped rather than blocking
// the publisher, matching the teacher hub's drop-on-full-buffer behavior.
func (h *Hub) Publish(event Event) {
	set, ok := h.tasks.Load(event.TaskID)
	if !ok {
		return
	}

	set.mu.RLock()
	defer set.mu.RUnlock()
	for sub := range set.subs {
		select {
		case sub.ch <- event:
		default:
			h.logger.Warn("subscriber buffer full, dropping progress event",
				"task_id", event.TaskID, "event_type", event.Type)
		}
	}
}

// SubscriberCount reports how many listeners a task currently has.
func (h *Hub) SubscriberCount(taskID string) int {
	set, ok := h.tasks.Load(taskID)
	if !ok {
		return 0
	}
	set.mu.RLock()
	defer set.mu.RUnlock()
	return len(set.subs)
}
