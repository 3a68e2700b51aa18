// Package config loads the ambient, operationally-scoped settings that the
// original program never exposed: log level, optional metrics listener
// address, and the acceptor's transient-error backoff ceiling. None of these
// fields carry wire-protocol semantics; the required `psserver connections
// [portnum]` CLI contract is parsed separately, by hand, in cmd/psserver.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// RuntimeConfig is the additive settings bundle described in SPEC_FULL §3.
type RuntimeConfig struct {
	LogLevel         string        `env:"PSBROKER_LOG_LEVEL" envDefault:"info"`
	MetricsAddr      string        `env:"PSBROKER_METRICS_ADDR" envDefault:""`
	AcceptBackoffMax time.Duration `env:"PSBROKER_ACCEPT_BACKOFF_MAX" envDefault:"1s"`
}

// Load reads RuntimeConfig from the environment, applying defaults for
// anything unset.
func Load() (RuntimeConfig, error) {
	var cfg RuntimeConfig
	if err := env.Parse(&cfg); err != nil {
		return RuntimeConfig{}, errors.Wrap(err, "parse runtime config from environment")
	}
	return cfg, nil
}
