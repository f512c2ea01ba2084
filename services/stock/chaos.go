package main

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Chaos injects faults into the reservation path for demos and tests.
// It is an explicit dependency handed to the consumer, not package state.
type Chaos struct {
	mu      sync.Mutex
	latency bool
	failure bool
	delay   time.Duration
}

func NewChaos() *Chaos {
	return &Chaos{delay: 2 * time.Second}
}

func (c *Chaos) SetLatency(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latency = enabled
}

func (c *Chaos) SetFailure(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure = enabled
}

func (c *Chaos) Snapshot() (latency, failure bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency, c.failure
}

var errChaosFailure = errors.New("chaos failure mode enabled")

// Apply runs the configured faults: an added delay, a forced error, or
// neither. The forced error exercises the retry/dead-letter path end to
// end.
func (c *Chaos) Apply(ctx context.Context) error {
	latency, failure := c.Snapshot()
	if latency {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.delay):
		}
	}
	if failure {
		return errChaosFailure
	}
	return nil
}
