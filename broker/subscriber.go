package broker

import (
	"bufio"
	"net"
	"sync"
)

// outboxSize bounds the number of undelivered lines held for a single
// subscriber; a send that finds the outbox full disconnects the subscriber.
const outboxSize = 64

// Subscriber is a single named (or not-yet-named) connection. The Topic
// Index never owns a Subscriber; it only ever holds a *Subscriber pointer
// handed to it by the owning Connection Handler, and must tolerate that
// pointer going dead
// between lookup and write (see Fan-out's use of trySend).
type Subscriber struct {
	id uint64

	mu     sync.Mutex
	name   string
	named  bool
	closed bool

	conn   net.Conn
	outbox chan string
	done   chan struct{}
}

func newSubscriber(id uint64, conn net.Conn) *Subscriber {
	s := &Subscriber{
		id:     id,
		conn:   conn,
		outbox: make(chan string, outboxSize),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// ID returns the subscriber's monotonic numeric identity.
func (s *Subscriber) ID() uint64 { return s.id }

// Name returns the display name, or "" if not yet named.
func (s *Subscriber) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// IsNamed reports whether the naming handshake has completed.
func (s *Subscriber) IsNamed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.named
}

// setName records the display name exactly once. Returns false if the
// subscriber was already named.
func (s *Subscriber) setName(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.named {
		return false
	}
	s.name = name
	s.named = true
	return true
}

// trySend enqueues a line for delivery without blocking the caller. If the
// subscriber's outbox is full, the subscriber is treated as a lagging
// consumer and disconnected rather than stalling the publisher; its
// Connection Handler observes this on its next read and runs the TERMINATED
// transition.
func (s *Subscriber) trySend(line string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.outbox <- line:
	case <-s.done:
	default:
		connLog.Warningf("subscriber %d lagging; disconnecting", s.id)
		s.terminate()
	}
}

// terminate closes the write side exactly once; idempotent and safe to call
// from the writer goroutine, the reader goroutine, or the Fan-out Engine.
func (s *Subscriber) terminate() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	_ = s.conn.Close()
}

// writeLoop is the single dedicated writer goroutine for this subscriber,
// mirroring the teacher's per-peer outbound queue serviced by one
// handleNewPeer goroutine in pubsub.go.
func (s *Subscriber) writeLoop() {
	w := bufio.NewWriter(s.conn)
	for {
		select {
		case line := <-s.outbox:
			if _, err := w.WriteString(line); err != nil {
				s.terminate()
				return
			}
			if err := w.Flush(); err != nil {
				s.terminate()
				return
			}
		case <-s.done:
			return
		}
	}
}
