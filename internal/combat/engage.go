package combat

import (
	"time"

	"voxelfleet.ai/internal/catalogs"
	"voxelfleet.ai/internal/geom"
)

// Outcome of one engagement tick.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeActive
	OutcomeTargetLost
	OutcomeTimeout
	OutcomeRetreat
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeActive:
		return "active"
	case OutcomeTargetLost:
		return "target_lost"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeRetreat:
		return "retreat"
	}
	return "unknown"
}

// Chaser re-issues movement toward the target when it drifts out of melee
// range. The navigation controller satisfies this.
type Chaser interface {
	Follow(entityID string, distance float64, deadline time.Time)
	Cancel()
}

type Config struct {
	MeleeRange        float64
	StrikeEveryTicks  int
	EngageTimeout     time.Duration
	RetreatHPFraction float64

	Now func() time.Time
}

// Engagement drives one agent's fight with one target. Owned by the state
// machine; Tick is called from the agent's scheduler only.
type Engagement struct {
	agentID string
	env     Env
	cats    *catalogs.Catalogs
	chaser  Chaser
	cfg     Config

	targetID  string
	startedAt time.Time
	tick      uint64
	lastHit   uint64
	chasing   bool
}

func NewEngagement(agentID string, env Env, cats *catalogs.Catalogs, chaser Chaser, cfg Config) *Engagement {
	if cfg.MeleeRange <= 0 {
		cfg.MeleeRange = 3.0
	}
	if cfg.StrikeEveryTicks <= 0 {
		cfg.StrikeEveryTicks = 3
	}
	if cfg.EngageTimeout <= 0 {
		cfg.EngageTimeout = 45 * time.Second
	}
	if cfg.RetreatHPFraction <= 0 {
		cfg.RetreatHPFraction = 0.3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engagement{agentID: agentID, env: env, cats: cats, chaser: chaser, cfg: cfg}
}

// Engage locks onto a target. Any previous engagement ends first.
func (e *Engagement) Engage(targetID string) {
	e.Disengage()
	e.targetID = targetID
	e.startedAt = e.cfg.Now()
	e.tick = 0
	e.lastHit = 0
}

// Disengage is idempotent and safe from any state.
func (e *Engagement) Disengage() {
	if e.chasing {
		e.chaser.Cancel()
		e.chasing = false
	}
	e.targetID = ""
}

// Engaged reports whether a target is locked.
func (e *Engagement) Engaged() bool { return e.targetID != "" }

// TargetID returns the locked target, if any.
func (e *Engagement) TargetID() string { return e.targetID }

// Tick advances the engagement loop once.
func (e *Engagement) Tick() Outcome {
	if e.targetID == "" {
		return OutcomeNone
	}
	e.tick++

	// Health first: crossing the retreat threshold ends the fight within
	// this very tick, regardless of anything else.
	if hp, max, ok := e.env.Health(e.agentID); ok && max > 0 {
		if float64(hp) < e.cfg.RetreatHPFraction*float64(max) {
			e.Disengage()
			return OutcomeRetreat
		}
	}

	if e.cfg.Now().Sub(e.startedAt) > e.cfg.EngageTimeout {
		e.Disengage()
		return OutcomeTimeout
	}

	targetPos, ok := e.env.EntityPos(e.targetID)
	if !ok {
		e.Disengage()
		return OutcomeTargetLost
	}

	// Weapon re-check every tick. Cheap and idempotent: equip only when the
	// best weapon differs from what is in hand.
	if best := e.cats.BestWeapon(e.env.Inventory(e.agentID)); best != "" && e.env.Equipped(e.agentID) != best {
		_ = e.env.Equip(e.agentID, best)
	}

	agentPos, ok := e.env.EntityPos(e.agentID)
	if !ok {
		e.Disengage()
		return OutcomeTargetLost
	}

	if geom.Within(agentPos, targetPos, e.cfg.MeleeRange) {
		if e.chasing {
			e.chaser.Cancel()
			e.chasing = false
		}
		if e.tick-e.lastHit >= uint64(e.cfg.StrikeEveryTicks) {
			if err := e.env.Strike(e.agentID, e.targetID); err != nil {
				e.Disengage()
				return OutcomeTargetLost
			}
			e.lastHit = e.tick
		}
		return OutcomeActive
	}

	// Out of range: chase via a follow goal until back in melee distance.
	if !e.chasing {
		e.chaser.Follow(e.targetID, e.cfg.MeleeRange-1, e.startedAt.Add(e.cfg.EngageTimeout))
		e.chasing = true
	}
	return OutcomeActive
}
