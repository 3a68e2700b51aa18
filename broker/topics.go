package broker

import (
	"sync"

	logging "github.com/ipfs/go-log"
)

var topicLog = logging.Logger("psbroker/topics")

// TopicIndex is the mapping from topic name to its ordered subscriber list.
// Unlike the teacher's PubSub, which serializes every topic mutation through
// a single processLoop goroutine, this index is guarded by a plain mutex:
// routing every sub/unsub/pub from many concurrent Connection Handlers
// through one goroutine would serialize fan-out behind subscription churn,
// which the teacher never has to contend with (it owns exactly one node's
// view of the mesh). The lock is held only across the map/slice mutation or
// snapshot copy and released before any socket write, per the corrective
// note in the Design Notes about per-command mutual exclusion granularity.
type TopicIndex struct {
	mu     sync.Mutex
	topics map[string][]*Subscriber
}

// NewTopicIndex constructs an empty, process-lifetime Topic Index.
func NewTopicIndex() *TopicIndex {
	return &TopicIndex{topics: make(map[string][]*Subscriber)}
}

// Subscribe adds sub to topic's subscriber list if not already present.
// Reports whether a change occurred.
func (t *TopicIndex) Subscribe(topic string, sub *Subscriber) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.topics[topic]
	for _, existing := range list {
		if existing.ID() == sub.ID() {
			return false
		}
	}
	t.topics[topic] = append(list, sub)
	return true
}

// Unsubscribe removes sub from topic's subscriber list, preserving the
// relative order of the remainder. Reports whether a change occurred.
func (t *TopicIndex) Unsubscribe(topic string, sub *Subscriber) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	list, ok := t.topics[topic]
	if !ok {
		return false
	}

	for i, existing := range list {
		if existing.ID() == sub.ID() {
			next := make([]*Subscriber, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(t.topics, topic)
			} else {
				t.topics[topic] = next
			}
			return true
		}
	}
	return false
}

// SubscribersOf returns a stable snapshot of topic's current subscriber
// list. The returned slice shares no backing array with the live list, so
// the Fan-out Engine may iterate it without holding the Topic Index lock.
func (t *TopicIndex) SubscribersOf(topic string) []*Subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.topics[topic]
	if len(list) == 0 {
		return nil
	}
	snapshot := make([]*Subscriber, len(list))
	copy(snapshot, list)
	return snapshot
}

// ForgetSubscriber removes sub from every topic. Invoked exactly once per
// subscriber, at disconnect.
func (t *TopicIndex) ForgetSubscriber(sub *Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for topic, list := range t.topics {
		for i, existing := range list {
			if existing.ID() == sub.ID() {
				next := make([]*Subscriber, 0, len(list)-1)
				next = append(next, list[:i]...)
				next = append(next, list[i+1:]...)
				if len(next) == 0 {
					delete(t.topics, topic)
				} else {
					t.topics[topic] = next
				}
				break
			}
		}
	}
}

// TopicCount reports the number of topics currently tracked. Diagnostic
// only; exercised by the optional Prometheus exporter, never by the wire
// protocol.
func (t *TopicIndex) TopicCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.topics)
}
