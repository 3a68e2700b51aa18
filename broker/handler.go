package broker

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"

	logging "github.com/ipfs/go-log"
)

var connLog = logging.Logger("psbroker/conn")

// maxLineLength bounds a single protocol line to guard against an
// unbounded read filling memory for a peer that never sends a newline.
const maxLineLength = 64 * 1024

// Handler runs the per-connection state machine described in §4.3:
// UNNAMED -> NAMED -> TERMINATED. One Handler is scheduled per accepted
// socket by the Acceptor.
type Handler struct {
	sub      *Subscriber
	conn     net.Conn
	index    *TopicIndex
	fanout   *Engine
	counters *CounterSet
	registry *Registry

	// mu guards the bookkeeping shared between the read loop's terminate
	// path and a naming attempt that had to queue for a saturated cap and
	// is therefore running on its own goroutine (see beginNaming).
	mu             sync.Mutex
	namingInFlight bool
	slotHeld       bool
	terminated     bool
}

// NewHandler constructs a Handler for a freshly accepted, not-yet-named
// subscriber.
func NewHandler(sub *Subscriber, conn net.Conn, index *TopicIndex, fanout *Engine, counters *CounterSet, registry *Registry) *Handler {
	return &Handler{
		sub:      sub,
		conn:     conn,
		index:    index,
		fanout:   fanout,
		counters: counters,
		registry: registry,
	}
}

// Serve runs the read loop until EOF or an unrecoverable error, then
// performs the TERMINATED transition. It is the body of one Connection
// Handler goroutine.
func (h *Handler) Serve() {
	defer h.terminate()

	scanner := bufio.NewScanner(h.conn)
	scanner.Buffer(make([]byte, 4096), maxLineLength)

	for scanner.Scan() {
		h.handleLine(scanner.Text())
	}

	if err := scanner.Err(); err != nil && err != io.EOF {
		connLog.Debugf("subscriber %d read error: %v", h.sub.ID(), err)
	}
}

// handleLine applies the precondition-drop rules of §4.2/§4.3 ahead of full
// protocol validation, matching the original server's client->name == NULL
// checks: an unnamed subscriber's sub/unsub is dropped unconditionally, and
// an unnamed subscriber's pub is dropped once it is known to carry a topic
// argument at all, but before its payload is validated. A bare pub, an
// unknown verb and a malformed name earn an :invalid reply whatever the
// naming state; any other malformed sub/unsub/pub earns one only from a
// named subscriber.
func (h *Handler) handleLine(line string) {
	head, _, hasTail := strings.Cut(line, " ")

	switch verb(head) {
	case verbSub, verbUnsub:
		if !h.sub.IsNamed() {
			return
		}
	case verbPub:
		if !hasTail {
			h.sub.trySend(invalidReply)
			return
		}
		if !h.sub.IsNamed() {
			return
		}
	}

	cmd, ok := decode(line)
	if !ok {
		h.sub.trySend(invalidReply)
		return
	}
	h.dispatch(cmd)
}

// dispatch applies one decoded command. handleLine has already enforced the
// naming precondition for sub/unsub/pub; only the name verb's own
// already-named precondition is checked here.
func (h *Handler) dispatch(cmd command) {
	switch cmd.verb {
	case verbName:
		if h.sub.IsNamed() {
			// Precondition drop: re-naming after already named is ignored.
			return
		}
		h.beginNaming(cmd.topic)

	case verbSub:
		h.index.Subscribe(cmd.topic, h.sub)
		h.counters.SubscribeAccepted()

	case verbUnsub:
		h.index.Unsubscribe(cmd.topic, h.sub)
		h.counters.UnsubscribeAccepted()

	case verbPub:
		h.counters.PublishAccepted()
		h.fanout.Publish(h.index, h.sub.Name(), cmd.topic, cmd.payload)
	}
}

// beginNaming tries to acquire a named slot without blocking the read loop.
// The common case (a slot is free, or the registry is unlimited) completes
// synchronously, preserving strict in-order processing of subsequent
// commands. Only when the cap is saturated does it hand the wait off to a
// dedicated goroutine, so Serve's own read loop keeps running and can still
// observe the peer disconnecting via EOF; without this, a peer that gave up
// while queued for a slot would block its Handler goroutine, its socket,
// and its active-connection count forever, since nothing would ever reach
// Serve's deferred terminate.
func (h *Handler) beginNaming(name string) {
	if h.registry.TryAcquireNamedSlot() {
		if !h.sub.setName(name) {
			h.registry.ReleaseNamedSlot()
			return
		}
		h.mu.Lock()
		h.slotHeld = true
		h.mu.Unlock()
		connLog.Infof("subscriber %d named %q", h.sub.ID(), name)
		return
	}

	h.mu.Lock()
	if h.namingInFlight {
		h.mu.Unlock()
		return
	}
	h.namingInFlight = true
	h.mu.Unlock()

	go h.acquireName(name)
}

// acquireName blocks until a named slot frees or the subscriber gives up
// (done closes). Slot bookkeeping is settled under h.mu jointly with
// terminate, so exactly one of the two releases a slot this attempt
// acquires, however the race against disconnection lands.
func (h *Handler) acquireName(name string) {
	defer func() {
		h.mu.Lock()
		h.namingInFlight = false
		h.mu.Unlock()
	}()

	if !h.registry.AcquireNamedSlot(h.sub.done) {
		return
	}

	h.mu.Lock()
	if h.terminated {
		h.mu.Unlock()
		h.registry.ReleaseNamedSlot()
		return
	}
	if !h.sub.setName(name) {
		h.mu.Unlock()
		h.registry.ReleaseNamedSlot()
		return
	}
	h.slotHeld = true
	h.mu.Unlock()
	connLog.Infof("subscriber %d named %q", h.sub.ID(), name)
}

// terminate runs the TERMINATED transition exactly once per connection:
// forget the subscriber from every topic, close handles, release any named
// slot actually held, update counters.
func (h *Handler) terminate() {
	h.index.ForgetSubscriber(h.sub)
	h.sub.terminate()

	h.mu.Lock()
	h.terminated = true
	held := h.slotHeld
	h.slotHeld = false
	h.mu.Unlock()

	if held {
		h.registry.ReleaseNamedSlot()
	}
	h.counters.ConnectionClosed()
	connLog.Infof("subscriber %d disconnected", h.sub.ID())
}
