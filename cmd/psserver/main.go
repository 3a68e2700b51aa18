// Command psserver is the publish/subscribe broker server described in
// SPEC_FULL.md. Invocation: psserver <connections> [<portnum>].
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	logging "github.com/ipfs/go-log"
	"github.com/pkg/errors"

	"github.com/quietwire/psbroker/broker"
	"github.com/quietwire/psbroker/internal/config"
	"github.com/quietwire/psbroker/internal/metrics"
)

const usage = "Usage: psserver connections [portnum]"

var log = logging.Logger("psbroker/main")

func main() {
	os.Exit(run())
}

func run() int {
	connections, port, ok := parseArgs(os.Args[1:])
	if !ok {
		fmt.Fprintln(os.Stderr, usage)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		// Ambient config is optional; a malformed environment falls back to
		// defaults rather than refusing to serve the wire protocol.
		log.Warningf("ignoring invalid runtime config: %v", err)
	} else if lvl, lvlErr := logging.LevelFromString(cfg.LogLevel); lvlErr == nil {
		logging.SetAllLoggers(lvl)
	}

	index := broker.NewTopicIndex()
	counters := broker.NewCounterSet()
	fanout := broker.NewEngine()

	acceptor, err := broker.NewAcceptor(fmt.Sprintf(":%d", port), connections, cfg.AcceptBackoffMax, index, fanout, counters)
	if err != nil {
		log.Debugf("listen failure: %v", errors.Wrap(err, "bind psserver listener"))
		fmt.Fprintln(os.Stderr, "psserver: unable to open socket for listening")
		return 2
	}

	fmt.Fprintf(os.Stderr, "%d\n", acceptor.BoundPort())

	var metricsSrv *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.NewServer(cfg.MetricsAddr, metrics.Source{Counters: counters, Topics: index})
		go func() {
			if err := metricsSrv.Serve(); err != nil {
				log.Warningf("metrics server stopped: %v", err)
			}
		}()
	}

	stats := broker.NewStatsReporter(counters, os.Stdout, syscall.SIGHUP)
	go stats.Run()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() { serveErr <- acceptor.Serve() }()

	select {
	case <-shutdown:
		log.Info("shutting down")
		stats.Stop()
		_ = acceptor.Close()
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(context.Background())
		}
		return 0
	case err := <-serveErr:
		if err != nil {
			log.Debugf("accept loop ended: %v", err)
		}
		stats.Stop()
		return 0
	}
}

// parseArgs validates the two positional CLI arguments per §6: connections
// is a nonnegative decimal integer; portnum, if present, is 0 or in
// [1024, 65535].
func parseArgs(args []string) (connections, port int, ok bool) {
	if len(args) < 1 || len(args) > 2 {
		return 0, 0, false
	}

	connections, err := strconv.Atoi(args[0])
	if err != nil || connections < 0 {
		return 0, 0, false
	}

	if len(args) == 2 {
		port, err = strconv.Atoi(args[1])
		if err != nil {
			return 0, 0, false
		}
		if port != 0 && (port < 1024 || port > 65535) {
			return 0, 0, false
		}
	}

	return connections, port, true
}
