package broker

import (
	"fmt"

	logging "github.com/ipfs/go-log"
)

var fanoutLog = logging.Logger("psbroker/fanout")

// Engine delivers one published message to every current subscriber of its
// topic. It holds no state of its own beyond its logger; it always acts
// against a TopicIndex snapshot passed in by the caller.
type Engine struct{}

// NewEngine returns a Fan-out Engine.
func NewEngine() *Engine { return &Engine{} }

// Publish formats "<sender>:<topic>:<payload>\n" and enqueues it to every
// subscriber currently listed for topic, per the snapshot obtained from
// index. Writes to distinct subscribers are independent: each subscriber's
// trySend only ever touches that subscriber's own outbox, so a slow or dead
// recipient cannot stall delivery to the rest. Because trySend is called
// here in snapshot order, and every publish from the same sender is
// processed by the Connection Handler's single reader goroutine one at a
// time, two publishes P1 < P2 from the same sender always reach a common
// recipient's outbox in that order.
func (e *Engine) Publish(index *TopicIndex, sender, topic, payload string) int {
	recipients := index.SubscribersOf(topic)
	if len(recipients) == 0 {
		return 0
	}

	line := fmt.Sprintf("%s:%s:%s\n", sender, topic, payload)
	delivered := 0
	for _, sub := range recipients {
		sub.trySend(line)
		delivered++
	}
	fanoutLog.Debugf("delivered pub from %s on %s to %d recipients", sender, topic, delivered)
	return delivered
}
