package broker

import (
	"fmt"
	"io"
	"os"
	"os/signal"

	logging "github.com/ipfs/go-log"
)

var statsLog = logging.Logger("psbroker/stats")

// StatsReporter owns the single registration of the operator "hangup"
// signal. No other component in this repository calls signal.Notify for
// SIGHUP, so exactly one goroutine ever receives it and the report can
// never be reentered.
type StatsReporter struct {
	counters *CounterSet
	out      io.Writer
	sig      chan os.Signal
	stop     chan struct{}
}

// NewStatsReporter constructs a reporter that writes snapshots to out
// (typically os.Stdout) whenever sigs fires.
func NewStatsReporter(counters *CounterSet, out io.Writer, sigs ...os.Signal) *StatsReporter {
	r := &StatsReporter{
		counters: counters,
		out:      out,
		sig:      make(chan os.Signal, 1),
		stop:     make(chan struct{}),
	}
	signal.Notify(r.sig, sigs...)
	return r
}

// Run blocks, emitting a snapshot on every signal occurrence, until Stop is
// called.
func (r *StatsReporter) Run() {
	for {
		select {
		case <-r.sig:
			r.emit()
		case <-r.stop:
			return
		}
	}
}

// Stop ends Run and releases the signal registration.
func (r *StatsReporter) Stop() {
	signal.Stop(r.sig)
	close(r.stop)
}

// emit writes the five-line snapshot described in §4.6. The Snapshot call
// takes the Counter Set's lock once, so all five values correspond to a
// single instant; two back-to-back signals with no intervening operation
// are therefore guaranteed to print identical numbers.
func (r *StatsReporter) emit() {
	s := r.counters.Snapshot()
	fmt.Fprintf(r.out, "Connected clients:%d\n", s.Active)
	fmt.Fprintf(r.out, "Completed clients:%d\n", s.Completed)
	fmt.Fprintf(r.out, "pub operations:%d\n", s.Pub)
	fmt.Fprintf(r.out, "sub operations:%d\n", s.Sub)
	fmt.Fprintf(r.out, "unsub operations:%d\n", s.Unsub)
	if f, ok := r.out.(interface{ Sync() error }); ok {
		_ = f.Sync()
	} else if f, ok := r.out.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
	statsLog.Debug("emitted stats snapshot")
}
