package broker

import (
	"bufio"
	"net"
	"testing"
	"time"
)

// testBroker wires up a full broker (Topic Index, Counter Set, Fan-out
// Engine, Acceptor) listening on an ephemeral loopback port, the same way
// cmd/psserver does, so tests can exercise the end-to-end scenarios from
// SPEC_FULL.md §8 over real TCP connections.
type testBroker struct {
	index    *TopicIndex
	counters *CounterSet
	acceptor *Acceptor
}

func startTestBroker(t *testing.T, connections int) *testBroker {
	t.Helper()
	index := NewTopicIndex()
	counters := NewCounterSet()
	fanout := NewEngine()

	acceptor, err := NewAcceptor("127.0.0.1:0", connections, time.Second, index, fanout, counters)
	if err != nil {
		t.Fatalf("NewAcceptor: %v", err)
	}
	go acceptor.Serve()
	t.Cleanup(func() { acceptor.Close() })

	return &testBroker{index: index, counters: counters, acceptor: acceptor}
}

func (b *testBroker) dial(t *testing.T) (net.Conn, *bufio.Scanner) {
	t.Helper()
	conn, err := net.Dial("tcp", b.acceptor.listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewScanner(conn)
}

func send(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write %q: %v", line, err)
	}
}

func expectLine(t *testing.T, scanner *bufio.Scanner, want string) {
	t.Helper()
	done := make(chan bool, 1)
	var got string
	go func() {
		if scanner.Scan() {
			got = scanner.Text()
			done <- true
		} else {
			done <- false
		}
	}()
	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("expected %q, connection closed instead", want)
		}
		if got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func expectSilence(t *testing.T, scanner *bufio.Scanner, wait time.Duration) {
	t.Helper()
	done := make(chan bool, 1)
	go func() { done <- scanner.Scan() }()
	select {
	case got := <-done:
		if got {
			t.Fatalf("expected silence, got %q", scanner.Text())
		}
	case <-time.After(wait):
	}
}

// Scenario 1: basic publish.
func TestScenarioBasicPublish(t *testing.T) {
	b := startTestBroker(t, 0)

	connA, scanA := b.dial(t)
	send(t, connA, "name alice")
	send(t, connA, "sub news")

	connB, scanB := b.dial(t)
	send(t, connB, "name bob")
	send(t, connB, "pub news hello world")

	expectLine(t, scanA, "bob:news:hello world")
	expectSilence(t, scanB, 200*time.Millisecond)
}

// Scenario 2: self-delivery.
func TestScenarioSelfDelivery(t *testing.T) {
	b := startTestBroker(t, 0)

	conn, scan := b.dial(t)
	send(t, conn, "name a")
	send(t, conn, "sub t")
	send(t, conn, "pub t x")

	expectLine(t, scan, "a:t:x")
}

// Scenario 3: unsubscribe stops delivery.
func TestScenarioUnsubscribeStopsDelivery(t *testing.T) {
	b := startTestBroker(t, 0)

	connA, scanA := b.dial(t)
	send(t, connA, "name a")
	send(t, connA, "sub t")
	send(t, connA, "unsub t")

	// Give the unsub time to be processed before publishing.
	time.Sleep(50 * time.Millisecond)

	connB, _ := b.dial(t)
	send(t, connB, "name b")
	send(t, connB, "pub t hi")

	expectSilence(t, scanA, 200*time.Millisecond)
}

// Scenario 4: commands before naming are silently dropped, and naming
// afterwards makes the connection fully functional.
func TestScenarioUnnamedIsSilent(t *testing.T) {
	b := startTestBroker(t, 0)

	connC, scanC := b.dial(t)
	send(t, connC, "sub t")
	send(t, connC, "pub t x")
	expectSilence(t, scanC, 200*time.Millisecond)

	send(t, connC, "name c")
	send(t, connC, "sub t")

	connD, _ := b.dial(t)
	send(t, connD, "name d")
	send(t, connD, "pub t hello")

	expectLine(t, scanC, "d:t:hello")
}

// Scenario 5: invalid command gets :invalid and leaves topic state alone.
func TestScenarioInvalidCommand(t *testing.T) {
	b := startTestBroker(t, 0)

	conn, scan := b.dial(t)
	send(t, conn, "name a")
	send(t, conn, "pub t")

	expectLine(t, scan, ":invalid")

	if got := b.index.SubscribersOf("t"); len(got) != 0 {
		t.Errorf("expected topic t to remain unaffected, got %v", got)
	}
}

// Scenario 6: stats snapshot reflects active/completed connections.
func TestScenarioStatsSnapshot(t *testing.T) {
	b := startTestBroker(t, 0)

	conn1, _ := b.dial(t)
	send(t, conn1, "name one")

	conn2, _ := b.dial(t)
	send(t, conn2, "name two")

	conn3, _ := b.dial(t)
	send(t, conn3, "name three")
	time.Sleep(50 * time.Millisecond)
	conn3.Close()
	time.Sleep(50 * time.Millisecond)

	s := b.counters.Snapshot()
	if s.Active != 2 {
		t.Errorf("Active = %d, want 2", s.Active)
	}
	if s.Completed != 1 {
		t.Errorf("Completed = %d, want 1", s.Completed)
	}

	_ = conn1
	_ = conn2
}

func TestNameAfterNamedIsIgnored(t *testing.T) {
	b := startTestBroker(t, 0)

	conn, scan := b.dial(t)
	send(t, conn, "name a")
	send(t, conn, "name b")
	send(t, conn, "sub t")
	send(t, conn, "pub t x")

	expectLine(t, scan, "a:t:x")
}

func TestConnectionCapBlocksNamingUntilSlotFrees(t *testing.T) {
	b := startTestBroker(t, 1)

	connA, _ := b.dial(t)
	send(t, connA, "name a")
	time.Sleep(50 * time.Millisecond)

	connB, scanB := b.dial(t)
	send(t, connB, "name b")
	time.Sleep(50 * time.Millisecond)

	// B is still unnamed while the cap is saturated by A: its naming
	// attempt is queued off the read loop, so sub/pub sent now are
	// precondition-dropped rather than queued behind it.
	send(t, connB, "sub t")
	send(t, connB, "pub t x")
	expectSilence(t, scanB, 150*time.Millisecond)

	connA.Close()
	time.Sleep(100 * time.Millisecond)

	// Once A's slot frees, B's queued naming completes; it must resend
	// sub/pub now that it is actually named.
	send(t, connB, "sub t")
	send(t, connB, "pub t x")
	expectLine(t, scanB, "b:t:x")
}

// Regression: a connection that disconnects while queued for a saturated
// naming cap must not leak its Handler goroutine or its active-connection
// count. Before the fix, Handler.dispatch blocked the read loop itself
// inside AcquireNamedSlot, so Serve's deferred terminate could never run
// for a peer that gave up while queued.
func TestDisconnectWhileQueuedForNamingDoesNotLeakHandler(t *testing.T) {
	b := startTestBroker(t, 1)

	connA, _ := b.dial(t)
	send(t, connA, "name a")
	time.Sleep(50 * time.Millisecond)

	connB, _ := b.dial(t)
	send(t, connB, "name b")
	time.Sleep(50 * time.Millisecond)

	if s := b.counters.Snapshot(); s.Active != 2 {
		t.Fatalf("Active = %d, want 2 before B disconnects", s.Active)
	}

	connB.Close()
	time.Sleep(100 * time.Millisecond)

	s := b.counters.Snapshot()
	if s.Active != 1 {
		t.Errorf("Active = %d, want 1 after B disconnects while queued for naming", s.Active)
	}
	if s.Completed != 1 {
		t.Errorf("Completed = %d, want 1", s.Completed)
	}
}

// Regression: an unnamed connection sending a sub/unsub with a malformed
// topic, or a pub that names a topic but carries no payload, must be
// silently dropped, never answered with :invalid, since the naming
// precondition is checked before protocol validation runs.
func TestScenarioUnnamedMalformedCommandsAreSilentlyDropped(t *testing.T) {
	b := startTestBroker(t, 0)

	conn, scan := b.dial(t)
	send(t, conn, "sub bad topic") // malformed tail, still unnamed
	send(t, conn, "pub t")         // topic present, no payload, still unnamed
	expectSilence(t, scan, 200*time.Millisecond)

	send(t, conn, "name a")
	send(t, conn, "pub t") // now named: missing payload earns :invalid
	expectLine(t, scan, ":invalid")
}
