// Package events is an in-process publish/subscribe hub for project and
// task change notifications. The HTTP bridge forwards hub events over
// websockets; the task orchestrator uses it to follow live output.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind classifies an Event.
type Kind string

const (
	// ProjectStatus is published on every project status or lastError change.
	ProjectStatus Kind = "project.status"

	// ProjectDeleted is published once a project and its tasks are gone.
	ProjectDeleted Kind = "project.deleted"

	// TaskStatus is published on every task status change.
	TaskStatus Kind = "task.status"

	// TaskOutput carries a chunk of task output.
	TaskOutput Kind = "task.output"
)

// TopicAll receives every event.
const TopicAll = "*"

// ProjectTopic is the topic of all events concerning a project,
// including its tasks.
func ProjectTopic(projectID string) string { return "project:" + projectID }

// TaskTopic is the topic of a single task's events.
func TaskTopic(taskID string) string { return "task:" + taskID }

// Event is a change notification.
type Event struct {
	Kind      Kind   `json:"kind"`
	ProjectID string `json:"projectId"`
	TaskID    string `json:"taskId,omitempty"`
	Status    string `json:"status,omitempty"`
	LastError string `json:"lastError,omitempty"`

	// Chunk and Offset are set for TaskOutput. Offset is the byte position
	// of Chunk within the task's full output, so a reader that already
	// holds a snapshot of length n can skip everything before n.
	Chunk  string `json:"chunk,omitempty"`
	Offset int    `json:"offset"`

	At time.Time `json:"at"`
}

// topics lists every topic ev is delivered on.
func (ev Event) topics() []string {
	ts := []string{TopicAll}
	if ev.ProjectID != "" {
		ts = append(ts, ProjectTopic(ev.ProjectID))
	}
	if ev.TaskID != "" {
		ts = append(ts, TaskTopic(ev.TaskID))
	}
	return ts
}

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 256

// Hub fans events out to subscribers by topic.
//
// Publish never blocks. A subscriber whose buffer is full is dropped: its
// channel is closed so the reader can tell it missed events and resync
// from the store.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]map[*Subscription]struct{}
	dropped atomic.Uint64
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscription is one registered listener. Read events from C; C is
// closed after Close or when the hub dropped the subscription.
type Subscription struct {
	C <-chan Event

	ch    chan Event
	hub   *Hub
	topic string
	once  sync.Once
}

// Subscribe registers a listener on topic. buffer <= 0 uses DefaultBuffer.
func (h *Hub) Subscribe(topic string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h, topic: topic}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[*Subscription]struct{})
	}
	h.subs[topic][sub] = struct{}{}
	return sub
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.removeLocked(s)
}

// Publish delivers ev to every subscriber of its topics.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range ev.topics() {
		for sub := range h.subs[topic] {
			select {
			case sub.ch <- ev:
			default:
				h.dropped.Add(1)
				h.removeLocked(sub)
			}
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Dropped returns how many subscriptions were dropped for falling behind.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) removeLocked(s *Subscription) {
	s.once.Do(func() {
		if set, ok := h.subs[s.topic]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.topic)
			}
		}
		close(s.ch)
	})
}
