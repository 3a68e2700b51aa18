package broker

import (
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	logging "github.com/ipfs/go-log"
)

var acceptLog = logging.Logger("psbroker/acceptor")

// Acceptor listens on a bound TCP port and, for each accepted connection,
// allocates a Subscriber and hands the socket to a freshly scheduled
// Connection Handler.
type Acceptor struct {
	listener net.Listener
	index    *TopicIndex
	fanout   *Engine
	counters *CounterSet
	registry *Registry

	// acceptBackoffMax bounds the exponential backoff applied when Accept
	// reports a transient error, per §4.4's additive retry behavior.
	acceptBackoffMax time.Duration
}

// NewAcceptor binds a listener to addr ("host:port", or ":0"/"" for an
// ephemeral port) and returns an Acceptor ready to Serve. Callers read
// BoundPort() to learn the chosen port before accepting begins.
func NewAcceptor(addr string, connections int, acceptBackoffMax time.Duration, index *TopicIndex, fanout *Engine, counters *CounterSet) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if acceptBackoffMax <= 0 {
		acceptBackoffMax = time.Second
	}
	return &Acceptor{
		listener:         ln,
		index:            index,
		fanout:           fanout,
		counters:         counters,
		registry:         NewRegistry(connections),
		acceptBackoffMax: acceptBackoffMax,
	}, nil
}

// BoundPort returns the TCP port actually bound, resolving an ephemeral
// request (":0") to the port the kernel chose.
func (a *Acceptor) BoundPort() int {
	return a.listener.Addr().(*net.TCPAddr).Port
}

// Close stops accepting new connections. In-flight Connection Handlers are
// unaffected; they continue to completion on their own.
func (a *Acceptor) Close() error {
	return a.listener.Close()
}

// Serve accepts connections indefinitely. Each accepted socket is handed to
// a freshly scheduled Connection Handler goroutine. A transient Accept
// error is retried with exponential backoff (§4.4); any other error
// (notably the listener having been closed by Close) ends Serve.
func (a *Acceptor) Serve() error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0 // retry transient errors indefinitely, capped per-attempt below
	b.MaxInterval = a.acceptBackoffMax

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() { //nolint:staticcheck // Temporary is deprecated but this is exactly the condition §4.4 names
				wait := b.NextBackOff()
				acceptLog.Warningf("transient accept error, retrying in %s: %v", wait, err)
				time.Sleep(wait)
				continue
			}
			return err
		}
		b.Reset()

		id := a.registry.NextID()
		sub := newSubscriber(id, conn)
		a.counters.ConnectionAccepted()
		acceptLog.Infof("accepted connection %d from %s", id, conn.RemoteAddr())

		h := NewHandler(sub, conn, a.index, a.fanout, a.counters, a.registry)
		go h.Serve()
	}
}
