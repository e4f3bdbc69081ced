package agent

import (
	"voxelfleet.ai/internal/combat"
	"voxelfleet.ai/internal/geom"
	"voxelfleet.ai/internal/nav"
)

// Tick advances the active behavior once. Called by the scheduler; safe to
// call directly in tests.
func (m *Machine) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick++

	switch m.state {
	case StateIdle:
		m.tickIdleLocked()
	case StateMoving:
		m.tickMovingLocked()
	case StateGuarding:
		m.tickGuardLocked()
	case StatePatrolling:
		m.tickPatrolLocked()
	case StateAttacking:
		m.tickAttackLocked()
	case StateRetreating:
		m.tickRetreatLocked()
	}
}

func (m *Machine) scanDue() bool {
	return m.tick%uint64(m.cfg.ScanEveryTicks) == 0
}

// Idle agents still look around so the shared store keeps fresh sightings,
// but they never self-engage.
func (m *Machine) tickIdleLocked() {
	if !m.scanDue() || m.deps.Scanner == nil {
		return
	}
	if pos, ok := m.deps.Env.AgentPos(); ok {
		m.deps.Scanner.Scan(pos, m.cfg.ScanRadius, m.excludeLocked())
	}
}

func (m *Machine) tickMovingLocked() {
	status, reason := m.deps.Nav.Tick()
	switch status {
	case nav.StatusArrived:
		m.toIdleLocked("arrived")
		m.notify(m.id + ": arrived")
	case nav.StatusFailed:
		m.navFailedLocked(reason)
	}
}

func (m *Machine) tickGuardLocked() {
	status, reason := m.deps.Nav.Tick()
	if status == nav.StatusFailed {
		m.navFailedLocked(reason)
		return
	}

	center, visible := m.guardCenterLocked()
	if !visible {
		// Guarded entity is out of sight: hold position, no goal until it
		// shows up again.
		if m.deps.Nav.Active() {
			m.deps.Nav.Cancel()
		}
		return
	}

	// Drift back toward the post when outside the guard radius.
	if pos, ok := m.deps.Env.AgentPos(); ok {
		if !geom.Within(pos, center, m.guard.Radius) && !m.deps.Nav.Active() {
			m.issueTravelLocked(center, m.guard.Radius/2)
		}
	}

	if !m.scanDue() || m.deps.Scanner == nil {
		return
	}
	hostiles := m.deps.Scanner.Scan(center, m.cfg.ScanRadius, m.excludeLocked())
	if len(hostiles) > 0 {
		m.engageFromPassiveLocked(hostiles[0].EntityRef)
	}
}

func (m *Machine) tickPatrolLocked() {
	status, reason := m.deps.Nav.Tick()
	if status == nav.StatusFailed {
		m.navFailedLocked(reason)
		return
	}
	route := m.patrol
	if route == nil {
		m.toIdleLocked("patrol route lost")
		return
	}

	if route.dwell < 0 {
		// Traveling to the current point.
		if status == nav.StatusArrived {
			route.dwell = m.cfg.PatrolDwellTicks
		}
		return
	}

	// Dwelling: scan, then move on. The route is a closed loop; after the
	// last point the next target is point zero.
	if m.scanDue() && m.deps.Scanner != nil {
		here := route.points[route.index]
		hostiles := m.deps.Scanner.Scan(here, m.cfg.ScanRadius, m.excludeLocked())
		if len(hostiles) > 0 {
			m.engageFromPassiveLocked(hostiles[0].EntityRef)
			return
		}
	}
	route.dwell--
	if route.dwell >= 0 {
		return
	}
	route.index = (route.index + 1) % len(route.points)
	route.dwell = -1
	m.issueTravelLocked(route.points[route.index], m.cfg.PatrolPointRadius)
}

func (m *Machine) tickAttackLocked() {
	// Nav first so a chase goal actually moves before combat re-evaluates
	// range.
	status, _ := m.deps.Nav.Tick()
	out := m.deps.Combat.Tick()

	switch out {
	case combat.OutcomeRetreat:
		m.enterRetreatLocked()
		return
	case combat.OutcomeTargetLost, combat.OutcomeTimeout, combat.OutcomeNone:
		// Combat failures resume the prior passive behavior silently.
		m.resumePassiveLocked()
		return
	}

	// Chase could not make progress; give up on this target quietly.
	if status == nav.StatusFailed {
		m.deps.Combat.Disengage()
		m.resumePassiveLocked()
	}
}

func (m *Machine) tickRetreatLocked() {
	status, _ := m.deps.Nav.Tick()
	switch status {
	case nav.StatusArrived:
		m.notify(m.id + ": retreated to safety")
		m.resumePassiveLocked()
	case nav.StatusFailed:
		// Could not get away; nothing better to do than stand and recover.
		m.toIdleLocked("retreat failed")
	}
}

// engageFromPassiveLocked switches a guarding/patrolling agent into combat
// while remembering what to come back to.
func (m *Machine) engageFromPassiveLocked(targetID string) {
	from := m.state
	m.resume = from
	m.resumeTask = m.task
	m.state = StateAttacking
	m.lastTarget = targetID
	m.deps.Nav.Cancel()
	m.deps.Combat.Engage(targetID)
	if m.deps.OnTransition != nil {
		m.deps.OnTransition(m.id, from, StateAttacking, "engage")
	}
}

// enterRetreatLocked moves the agent away from its current position. Health
// recovery is the environment's business; we only put distance between the
// agent and the fight.
func (m *Machine) enterRetreatLocked() {
	from := m.state
	pos, ok := m.deps.Env.AgentPos()
	if !ok {
		m.toIdleLocked("retreat without position")
		return
	}
	dest := m.fleeDestLocked(pos)
	m.state = StateRetreating
	m.issueTravelLocked(dest, m.cfg.DefaultTolerance)
	if m.deps.OnTransition != nil {
		m.deps.OnTransition(m.id, from, StateRetreating, "retreat")
	}
}

// fleeDestLocked picks a point RetreatDistance blocks away, directly away
// from the last engaged target when its position is known. The engagement
// has already dropped its target by the time retreat starts, so the machine
// keeps its own record.
func (m *Machine) fleeDestLocked(pos geom.Vec3) geom.Vec3 {
	d := m.cfg.RetreatDistance
	target, ok := geom.Vec3{}, false
	if m.lastTarget != "" {
		target, ok = m.deps.Env.EntityPos(m.lastTarget)
	}
	if !ok {
		return geom.Vec3{X: pos.X + d, Y: pos.Y, Z: pos.Z}
	}
	dest := pos
	if pos.X >= target.X {
		dest.X += d
	} else {
		dest.X -= d
	}
	if pos.Z >= target.Z {
		dest.Z += d
	} else {
		dest.Z -= d
	}
	return dest
}

// resumePassiveLocked returns to the remembered guard/patrol behavior, or
// idle when there is none.
func (m *Machine) resumePassiveLocked() {
	from := m.state
	switch {
	case m.resume == StateGuarding && m.guard != nil:
		m.state = StateGuarding
		m.task = m.resumeTask
	case m.resume == StatePatrolling && m.patrol != nil:
		m.state = StatePatrolling
		m.task = m.resumeTask
		// Head back to the current route point; dwell restarts on arrival.
		m.patrol.dwell = -1
		m.issueTravelLocked(m.patrol.points[m.patrol.index], m.cfg.PatrolPointRadius)
	default:
		m.state = StateIdle
		m.task = nil
	}
	m.resume = StateIdle
	m.resumeTask = nil
	if m.deps.OnTransition != nil && from != m.state {
		m.deps.OnTransition(m.id, from, m.state, "resume")
	}
}

func (m *Machine) toIdleLocked(why string) {
	from := m.state
	m.deps.Nav.Cancel()
	m.deps.Combat.Disengage()
	m.guard = nil
	m.patrol = nil
	m.resume = StateIdle
	m.resumeTask = nil
	m.state = StateIdle
	m.task = nil
	if m.deps.OnTransition != nil && from != StateIdle {
		m.deps.OnTransition(m.id, from, StateIdle, why)
	}
}

func (m *Machine) navFailedLocked(reason nav.FailReason) {
	m.toIdleLocked("nav " + reason.String())
	m.notify(m.id + ": navigation failed: " + reason.String())
}
