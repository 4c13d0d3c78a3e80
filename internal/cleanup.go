package internal

import (
	"context"
	"errors"
	"log"
	"time"

	"gitfeed/pkg/storage"

	"github.com/robfig/cron/v3"
)

// Cleaner removes events older than the retention window on a cron
// schedule, keeping the read path free of delete traffic.
type Cleaner struct {
	store     storage.EventStore
	retention time.Duration
	schedule  string
	logger    *log.Logger
	cron      *cron.Cron
}

func NewCleaner(store storage.EventStore, retention time.Duration, schedule string, logger *log.Logger) (*Cleaner, error) {
	if store == nil {
		return nil, errors.New("event store is required")
	}
	if retention <= 0 {
		return nil, errors.New("retention must be positive")
	}
	if schedule == "" {
		schedule = "@every 1h"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Cleaner{
		store:     store,
		retention: retention,
		schedule:  schedule,
		logger:    logger,
		cron:      cron.New(),
	}, nil
}

// Start begins the scheduled sweeps and runs one immediately.
func (c *Cleaner) Start() error {
	if _, err := c.cron.AddFunc(c.schedule, c.sweep); err != nil {
		return err
	}
	c.cron.Start()
	go c.sweep()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (c *Cleaner) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

func (c *Cleaner) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-c.retention)
	removed, err := c.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		c.logger.Printf("retention sweep failed: %v", err)
		return
	}
	if removed > 0 {
		c.logger.Printf("retention sweep removed %d events older than %s", removed, cutoff.Format(time.RFC3339))
	}
}
