// Package nav supervises the external pathfinder: stuck detection with a
// randomized unstick maneuver, escalating retry on no-path, and wall-clock
// deadline enforcement. One controller per agent, driven by the agent's
// tick loop.
package nav

import (
	"math/rand"
	"sync"
	"time"

	"voxelfleet.ai/internal/geom"
	"voxelfleet.ai/internal/pathfind"
)

type Status int

const (
	StatusIdle Status = iota
	StatusActive
	StatusArrived
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusActive:
		return "active"
	case StatusArrived:
		return "arrived"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

type FailReason int

const (
	FailNone FailReason = iota
	FailNoPath
	FailTimeout
	FailStuck
	FailLostTarget
)

func (r FailReason) String() string {
	switch r {
	case FailNone:
		return ""
	case FailNoPath:
		return "no_path"
	case FailTimeout:
		return "timeout"
	case FailStuck:
		return "stuck_exceeded"
	case FailLostTarget:
		return "lost_target"
	}
	return "unknown"
}

// Goal is one supervised navigation request.
type Goal struct {
	Dest      geom.Vec3
	Tolerance float64
	Deadline  time.Time
}

// RetryPolicy decides how many attempts a goal gets and how the movement
// profile escalates between them. Used uniformly for every goal.
type RetryPolicy struct {
	MaxAttempts int
	Escalate    func(attempt int, p pathfind.MovementProfile) pathfind.MovementProfile
}

// DefaultEscalation widens tolerance and permits costlier terrain on each
// subsequent attempt.
func DefaultEscalation(attempt int, p pathfind.MovementProfile) pathfind.MovementProfile {
	p.Tolerance += float64(attempt)
	if attempt >= 1 {
		p.AllowCostly = true
	}
	p.MaxCostFactor = 1.5 + 0.5*float64(attempt)
	return p
}

// Env resolves positions for the controller. AgentPos feeds stuck sampling;
// EntityPos feeds follow goals.
type Env interface {
	AgentPos() (geom.Vec3, bool)
	EntityPos(id string) (geom.Vec3, bool)
}

type Config struct {
	StuckEpsilon   int
	StuckSamples   int
	AttemptTimeout time.Duration
	Retry          RetryPolicy

	// Now is the controller clock; nil means time.Now.
	Now func() time.Time
	// Rand drives the unstick maneuver; nil seeds from the clock.
	Rand *rand.Rand
}

type mode int

const (
	modeNone mode = iota
	modeGoTo
	modeFollow
)

type Controller struct {
	agentID string
	pf      pathfind.Pathfinder
	env     Env
	cfg     Config

	mu sync.Mutex

	gen        uint64
	mode       mode
	goal       Goal
	followID   string
	followDist float64

	attempt         int
	attemptDeadline time.Time

	lastSample geom.Vec3
	sampled    bool
	stuckCount int
	recoveries int
	recovering bool

	// Outcome delivered by the pathfinder, consumed at the next tick.
	pending    pathfind.Outcome
	hasPending bool

	status Status
	reason FailReason
}

func NewController(agentID string, pf pathfind.Pathfinder, env Env, cfg Config) *Controller {
	if cfg.StuckEpsilon <= 0 {
		cfg.StuckEpsilon = 1
	}
	if cfg.StuckSamples <= 0 {
		cfg.StuckSamples = 5
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.Escalate == nil {
		cfg.Retry.Escalate = DefaultEscalation
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(cfg.Now().UnixNano()))
	}
	return &Controller{
		agentID: agentID,
		pf:      pf,
		env:     env,
		cfg:     cfg,
		status:  StatusIdle,
	}
}

// Start begins a supervised goTo. A previous goal, if any, is cancelled
// first: at most one live goal per agent.
func (c *Controller) Start(goal Goal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.mode = modeGoTo
	c.goal = goal
	c.status = StatusActive
	c.reason = FailNone
	c.issueAttemptLocked(0)
}

// Follow chases a moving entity. It has no terminal success: it resolves
// only on Cancel, loss of the target, or the deadline.
func (c *Controller) Follow(entityID string, distance float64, deadline time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.mode = modeFollow
	c.followID = entityID
	c.followDist = distance
	c.goal = Goal{Tolerance: distance, Deadline: deadline}
	c.status = StatusActive
	c.reason = FailNone
	if pos, ok := c.env.EntityPos(entityID); ok {
		c.goal.Dest = pos
		c.issueAttemptLocked(0)
	}
}

// Cancel stops the live goal synchronously. The generation counter makes any
// in-flight pathfinder callback stale, so a late completion cannot clobber a
// newer goal.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.status = StatusIdle
	c.reason = FailNone
}

func (c *Controller) cancelLocked() {
	if c.mode != modeNone {
		c.pf.Cancel(c.agentID)
	}
	c.gen++
	c.mode = modeNone
	c.followID = ""
	c.attempt = 0
	c.stuckCount = 0
	c.recoveries = 0
	c.recovering = false
	c.sampled = false
	c.hasPending = false
}

// Status returns the last status without advancing anything.
func (c *Controller) Status() (Status, FailReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.reason
}

// Active reports whether a goal is live.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode != modeNone
}

// Goal returns the live goal, if any.
func (c *Controller) Goal() (Goal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goal, c.mode != modeNone
}

func (c *Controller) issueAttemptLocked(attempt int) {
	c.attempt = attempt
	c.attemptDeadline = c.cfg.Now().Add(c.cfg.AttemptTimeout)

	profile := pathfind.MovementProfile{Tolerance: c.goal.Tolerance}
	for i := 1; i <= attempt; i++ {
		profile = c.cfg.Retry.Escalate(i, profile)
	}

	gen := c.gen
	c.pf.RequestPath(c.agentID, pathfind.GoalSpec{Dest: c.goal.Dest, Tolerance: profile.Tolerance}, profile, func(out pathfind.Outcome) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen {
			// Stale completion from a cancelled attempt.
			return
		}
		c.pending = out
		c.hasPending = true
	})
}

// Tick advances the supervision state machine. Call once per agent tick.
func (c *Controller) Tick() (Status, FailReason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == modeNone {
		return c.status, c.reason
	}
	now := c.cfg.Now()

	// Absolute deadline dominates everything else.
	if !c.goal.Deadline.IsZero() && now.After(c.goal.Deadline) {
		c.failLocked(FailTimeout)
		return c.status, c.reason
	}

	if c.mode == modeFollow {
		return c.tickFollowLocked(now)
	}
	return c.tickGoToLocked(now)
}

func (c *Controller) tickGoToLocked(now time.Time) (Status, FailReason) {
	if c.hasPending {
		out := c.pending
		c.hasPending = false
		switch {
		case c.recovering:
			// Recovery maneuver finished (either way); re-issue the
			// original goal as a fresh attempt.
			c.recovering = false
			c.stuckCount = 0
			c.sampled = false
			c.issueAttemptLocked(c.attempt)
			return c.status, c.reason
		case out == pathfind.OutcomeReached:
			c.arriveLocked()
			return c.status, c.reason
		case out == pathfind.OutcomeNoPath:
			if c.attempt+1 >= c.cfg.Retry.MaxAttempts {
				c.failLocked(FailNoPath)
				return c.status, c.reason
			}
			c.issueAttemptLocked(c.attempt + 1)
			return c.status, c.reason
		case out == pathfind.OutcomeCancelled:
			// External cancel without a replacement goal; treat like a
			// failed attempt.
			if c.attempt+1 >= c.cfg.Retry.MaxAttempts {
				c.failLocked(FailNoPath)
				return c.status, c.reason
			}
			c.issueAttemptLocked(c.attempt + 1)
			return c.status, c.reason
		}
	}

	// Attempt sub-timeout: give the next attempt a chance.
	if now.After(c.attemptDeadline) {
		c.pf.Cancel(c.agentID)
		c.gen++
		if c.attempt+1 >= c.cfg.Retry.MaxAttempts {
			c.failLocked(FailTimeout)
			return c.status, c.reason
		}
		c.issueAttemptLocked(c.attempt + 1)
		return c.status, c.reason
	}

	c.sampleStuckLocked()
	return c.status, c.reason
}

func (c *Controller) tickFollowLocked(now time.Time) (Status, FailReason) {
	target, ok := c.env.EntityPos(c.followID)
	if !ok {
		c.failLocked(FailLostTarget)
		return c.status, c.reason
	}

	if c.hasPending {
		// Reached or lost an intermediate goal; either way we re-evaluate
		// against the target's current position below.
		c.hasPending = false
	}

	pos, posOK := c.env.AgentPos()
	if posOK && geom.Within(pos, target, c.followDist) {
		// Close enough; idle until the target moves away.
		c.stuckCount = 0
		c.sampled = false
		return c.status, c.reason
	}

	if target != c.goal.Dest {
		c.goal.Dest = target
		c.gen++
		c.issueAttemptLocked(0)
		return c.status, c.reason
	}

	// Pathfinder stalled on the current leg; cancel and re-issue toward the
	// target's current position.
	if now.After(c.attemptDeadline) {
		c.pf.Cancel(c.agentID)
		c.gen++
		c.issueAttemptLocked(0)
		return c.status, c.reason
	}

	c.sampleStuckLocked()
	return c.status, c.reason
}

// sampleStuckLocked samples displacement once per tick; N consecutive
// near-zero samples while a goal is active declare "stuck".
func (c *Controller) sampleStuckLocked() {
	pos, ok := c.env.AgentPos()
	if !ok {
		return
	}
	if !c.sampled {
		c.lastSample = pos
		c.sampled = true
		return
	}
	// Stuck means displacement stayed below epsilon; moving exactly one
	// block per tick is normal progress.
	moved := geom.DistXZ(pos, c.lastSample)
	c.lastSample = pos
	if moved >= c.cfg.StuckEpsilon {
		c.stuckCount = 0
		return
	}
	c.stuckCount++
	if c.stuckCount < c.cfg.StuckSamples {
		return
	}

	// Stuck. Recovery budget shares the retry cap.
	c.recoveries++
	if c.recoveries > c.cfg.Retry.MaxAttempts {
		c.failLocked(FailStuck)
		return
	}
	c.recovering = true
	c.stuckCount = 0
	c.sampled = false
	c.gen++
	c.issueUnstickLocked(pos)
}

// issueUnstickLocked requests a short randomized sidestep to break out of a
// local trap before re-issuing the original goal.
func (c *Controller) issueUnstickLocked(from geom.Vec3) {
	dx := c.cfg.Rand.Intn(5) - 2
	dz := c.cfg.Rand.Intn(5) - 2
	if dx == 0 && dz == 0 {
		dx = 1
	}
	dest := geom.Vec3{X: from.X + dx, Y: from.Y, Z: from.Z + dz}
	gen := c.gen
	c.pf.RequestPath(c.agentID, pathfind.GoalSpec{Dest: dest, Tolerance: 0.5}, pathfind.MovementProfile{Tolerance: 0.5}, func(out pathfind.Outcome) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen {
			return
		}
		c.pending = out
		c.hasPending = true
	})
}

func (c *Controller) arriveLocked() {
	c.pfCancelQuietLocked()
	c.status = StatusArrived
	c.reason = FailNone
}

func (c *Controller) failLocked(reason FailReason) {
	c.pfCancelQuietLocked()
	c.status = StatusFailed
	c.reason = reason
}

func (c *Controller) pfCancelQuietLocked() {
	c.pf.Cancel(c.agentID)
	c.gen++
	c.mode = modeNone
	c.followID = ""
	c.hasPending = false
	c.stuckCount = 0
	c.recoveries = 0
	c.recovering = false
	c.sampled = false
}
