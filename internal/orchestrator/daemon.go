package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/sallandpioneers/forgeflow/internal/config"
	"github.com/sallandpioneers/forgeflow/internal/remote"
)

// Daemon runs the backlog on a polling interval, picking up issues that
// became eligible since the previous pass
type Daemon struct {
	cfg          *config.Config
	orchestrator *Orchestrator
	logger       *log.Logger
}

// NewDaemon creates a daemon around a fresh orchestrator
func NewDaemon(cfg *config.Config, client remote.Client, logger *log.Logger) (*Daemon, error) {
	o, err := New(cfg, client, logger)
	if err != nil {
		return nil, err
	}
	return &Daemon{
		cfg:          cfg,
		orchestrator: o,
		logger:       logger,
	}, nil
}

// Run polls until the context is cancelled. Each pass processes the whole
// eligible backlog; a failed pass is logged and retried on the next tick.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Printf("starting daemon for %s, polling every %s", d.cfg.Project, d.cfg.PollInterval)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	if _, err := d.orchestrator.Run(ctx); err != nil {
		d.logger.Printf("run error: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Printf("daemon shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.orchestrator.Run(ctx); err != nil {
				d.logger.Printf("run error: %v", err)
			}
		}
	}
}
