package agent

import (
	"context"
	"time"
)

// Run drives the machine at a fixed cadence until ctx is cancelled. One
// goroutine per agent; ticks run synchronously on it, so a slow tick drops
// ticker beats instead of queueing them.
func (m *Machine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.safeTick()
		}
	}
}

// safeTick recovers panics at the tick boundary: one bad tick must never
// take down the agent's scheduler loop.
func (m *Machine) safeTick() {
	defer func() {
		if r := recover(); r != nil {
			m.deps.Log.Printf("[agent %s] tick panic recovered: %v", m.id, r)
		}
	}()
	m.Tick()
}
