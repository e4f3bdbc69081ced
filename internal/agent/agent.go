// Package agent is the per-agent task state machine: it serializes competing
// behavior requests into a single active task and composes the navigation
// controller and the combat loop into guard/patrol/attack behaviors. All
// mutation goes through Transition and Tick, which share one mutex.
package agent

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"voxelfleet.ai/internal/combat"
	"voxelfleet.ai/internal/geom"
	"voxelfleet.ai/internal/nav"
	"voxelfleet.ai/internal/protocol"
	"voxelfleet.ai/internal/store"
)

type State int

const (
	StateIdle State = iota
	StateMoving
	StateGuarding
	StatePatrolling
	StateAttacking
	StateRetreating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMoving:
		return "moving"
	case StateGuarding:
		return "guarding"
	case StatePatrolling:
		return "patrolling"
	case StateAttacking:
		return "attacking"
	case StateRetreating:
		return "retreating"
	}
	return "unknown"
}

// Task describes what the agent is doing right now. Nil while idle.
type Task struct {
	Verb      string
	Detail    string
	StartedAt time.Time
}

// GuardTarget is either a fixed position or a followed entity.
type GuardTarget struct {
	EntityID string
	Pos      geom.Vec3
	Radius   float64
	Fixed    bool
}

type patrolRoute struct {
	points []geom.Vec3
	index  int
	// Remaining dwell ticks at the current point; -1 while traveling.
	dwell int
}

// Navigator is the slice of the navigation controller the machine drives.
type Navigator interface {
	Start(goal nav.Goal)
	Follow(entityID string, distance float64, deadline time.Time)
	Cancel()
	Tick() (nav.Status, nav.FailReason)
	Active() bool
}

// Engager is the slice of the combat engagement the machine drives.
type Engager interface {
	Engage(targetID string)
	Disengage()
	Engaged() bool
	TargetID() string
	Tick() combat.Outcome
}

// Scanner runs one threat scan; the shared scanner satisfies this.
type Scanner interface {
	Scan(center geom.Vec3, radius float64, exclude func(id string) bool) []store.ThreatRecord
}

// Env resolves live positions and health for this agent.
type Env interface {
	AgentPos() (geom.Vec3, bool)
	EntityPos(id string) (geom.Vec3, bool)
	Health(id string) (hp, max int, ok bool)
}

type Deps struct {
	Nav     Navigator
	Combat  Engager
	Scanner Scanner
	Env     Env

	// Notify delivers a status line to the outside; nil drops.
	Notify func(message string)
	// OnTransition observes state changes (audit). Nil drops.
	OnTransition func(agentID string, from, to State, verb string)
	Log          *log.Logger
}

type Config struct {
	ScanEveryTicks    int
	ScanRadius        float64
	GuardRadius       float64
	PatrolDwellTicks  int
	PatrolPointRadius float64
	DefaultTolerance  float64
	NavDeadline       time.Duration
	FollowDistance    float64
	RetreatDistance   int

	Now func() time.Time
}

// Machine owns one agent's behavior. Exactly one goroutine calls Run; all
// other access goes through the exported methods, which lock.
type Machine struct {
	id   string
	kind string
	deps Deps
	cfg  Config

	mu    sync.Mutex
	state State
	task  *Task
	tick  uint64

	whitelist map[string]bool

	guard  *GuardTarget
	patrol *patrolRoute

	// Last entity this agent engaged; feeds the flee direction.
	lastTarget string

	// State and task to resume after combat or retreat ends.
	resume     State
	resumeTask *Task
}

func NewMachine(id, kind string, deps Deps, cfg Config) *Machine {
	if cfg.ScanEveryTicks <= 0 {
		cfg.ScanEveryTicks = 5
	}
	if cfg.ScanRadius <= 0 {
		cfg.ScanRadius = 16
	}
	if cfg.GuardRadius <= 0 {
		cfg.GuardRadius = 8
	}
	if cfg.PatrolDwellTicks <= 0 {
		cfg.PatrolDwellTicks = 10
	}
	if cfg.PatrolPointRadius <= 0 {
		cfg.PatrolPointRadius = 1.5
	}
	if cfg.DefaultTolerance <= 0 {
		cfg.DefaultTolerance = 1
	}
	if cfg.NavDeadline <= 0 {
		cfg.NavDeadline = 60 * time.Second
	}
	if cfg.FollowDistance <= 0 {
		cfg.FollowDistance = 2
	}
	if cfg.RetreatDistance <= 0 {
		cfg.RetreatDistance = 16
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Log == nil {
		deps.Log = log.Default()
	}
	return &Machine{
		id:        id,
		kind:      kind,
		deps:      deps,
		cfg:       cfg,
		state:     StateIdle,
		whitelist: map[string]bool{},
	}
}

func (m *Machine) ID() string   { return m.id }
func (m *Machine) Kind() string { return m.kind }

// State returns the current state without advancing anything.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentTask returns a copy of the active task, or nil while idle.
func (m *Machine) CurrentTask() *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.task == nil {
		return nil
	}
	cp := *m.task
	return &cp
}

// Transition applies one verb to the machine. Any active behavior is
// cancelled first, so the agent holds at most one behavior at any instant.
// Returned lines go back to the command sender verbatim.
func (m *Machine) Transition(verb string, args []string, senderID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch verb {
	case "goto":
		return m.doGoto(args)
	case "come":
		return m.doCome(senderID)
	case "follow":
		return m.doFollow(args)
	case "guard":
		return m.doGuard(args)
	case "patrol":
		return m.doPatrol(args)
	case "attack":
		return m.doAttack(args)
	case "stop":
		m.setStateLocked(StateIdle, "stop", nil)
		return []string{m.id + ": stopped"}, nil
	case "status":
		return m.statusLocked(), nil
	case "whitelist":
		return m.doWhitelist(args)
	}
	return nil, protocol.NewError(protocol.ErrBadRequest, "unknown verb "+verb)
}

func (m *Machine) doGoto(args []string) ([]string, error) {
	dest, err := geom.ParseVec3(args)
	if err != nil {
		return nil, protocol.NewError(protocol.ErrBadRequest, err.Error())
	}
	m.setStateLocked(StateMoving, "goto", &Task{Verb: "goto", Detail: dest.String(), StartedAt: m.cfg.Now()})
	m.deps.Nav.Start(nav.Goal{
		Dest:      dest,
		Tolerance: m.cfg.DefaultTolerance,
		Deadline:  m.cfg.Now().Add(m.cfg.NavDeadline),
	})
	return []string{m.id + ": moving to " + dest.String()}, nil
}

func (m *Machine) doCome(senderID string) ([]string, error) {
	dest, ok := m.deps.Env.EntityPos(senderID)
	if !ok {
		return nil, protocol.NewError(protocol.ErrTargetNotFound, "cannot see "+senderID)
	}
	m.setStateLocked(StateMoving, "come", &Task{Verb: "come", Detail: senderID, StartedAt: m.cfg.Now()})
	m.deps.Nav.Start(nav.Goal{
		Dest:      dest,
		Tolerance: m.cfg.FollowDistance,
		Deadline:  m.cfg.Now().Add(m.cfg.NavDeadline),
	})
	return []string{m.id + ": coming to " + senderID}, nil
}

func (m *Machine) doFollow(args []string) ([]string, error) {
	if len(args) < 1 {
		return nil, protocol.NewError(protocol.ErrBadRequest, "follow <entity>")
	}
	target := args[0]
	if _, ok := m.deps.Env.EntityPos(target); !ok {
		return nil, protocol.NewError(protocol.ErrTargetNotFound, "cannot see "+target)
	}
	m.setStateLocked(StateMoving, "follow", &Task{Verb: "follow", Detail: target, StartedAt: m.cfg.Now()})
	m.deps.Nav.Follow(target, m.cfg.FollowDistance, time.Time{})
	return []string{m.id + ": following " + target}, nil
}

func (m *Machine) doGuard(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, protocol.NewError(protocol.ErrBadRequest, "guard <entity|x y z>")
	}
	var gt GuardTarget
	if pos, err := geom.ParseVec3(args); err == nil {
		gt = GuardTarget{Pos: pos, Radius: m.cfg.GuardRadius, Fixed: true}
	} else {
		gt = GuardTarget{EntityID: args[0], Radius: m.cfg.GuardRadius}
	}

	detail := gt.EntityID
	if gt.Fixed {
		detail = gt.Pos.String()
	}
	m.setStateLocked(StateGuarding, "guard", &Task{Verb: "guard", Detail: detail, StartedAt: m.cfg.Now()})
	m.guard = &gt

	// A fixed post gets an immediate travel goal. An entity target waits
	// until the entity is visible; guarding an unseen player is not an
	// error, the post simply has no position yet.
	if center, ok := m.guardCenterLocked(); ok {
		m.issueTravelLocked(center, gt.Radius)
	}
	return []string{m.id + ": guarding " + detail}, nil
}

func (m *Machine) doPatrol(args []string) ([]string, error) {
	if len(args) < 3 || len(args)%3 != 0 {
		return nil, protocol.NewError(protocol.ErrBadRequest, "patrol <x y z> [x y z ...]")
	}
	points := make([]geom.Vec3, 0, len(args)/3)
	for i := 0; i < len(args); i += 3 {
		p, err := geom.ParseVec3(args[i : i+3])
		if err != nil {
			return nil, protocol.NewError(protocol.ErrBadRequest, err.Error())
		}
		points = append(points, p)
	}

	m.setStateLocked(StatePatrolling, "patrol", &Task{
		Verb:      "patrol",
		Detail:    fmt.Sprintf("%d points", len(points)),
		StartedAt: m.cfg.Now(),
	})
	m.patrol = &patrolRoute{points: points, dwell: -1}
	m.issueTravelLocked(points[0], m.cfg.PatrolPointRadius)
	return []string{fmt.Sprintf("%s: patrolling %d points", m.id, len(points))}, nil
}

func (m *Machine) doAttack(args []string) ([]string, error) {
	if len(args) < 1 {
		return nil, protocol.NewError(protocol.ErrBadRequest, "attack <entity>")
	}
	target := args[0]
	if m.protectedLocked(target) {
		return nil, protocol.NewError(protocol.ErrBadRequest, target+" is protected")
	}
	if _, ok := m.deps.Env.EntityPos(target); !ok {
		return nil, protocol.NewError(protocol.ErrTargetNotFound, "cannot see "+target)
	}
	m.setStateLocked(StateAttacking, "attack", &Task{Verb: "attack", Detail: target, StartedAt: m.cfg.Now()})
	m.lastTarget = target
	m.deps.Combat.Engage(target)
	return []string{m.id + ": attacking " + target}, nil
}

func (m *Machine) doWhitelist(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, protocol.NewError(protocol.ErrBadRequest, "whitelist add|remove|list [entity]")
	}
	switch args[0] {
	case "add":
		if len(args) < 2 {
			return nil, protocol.NewError(protocol.ErrBadRequest, "whitelist add <entity>")
		}
		m.whitelist[args[1]] = true
		return []string{m.id + ": whitelisted " + args[1]}, nil
	case "remove":
		if len(args) < 2 {
			return nil, protocol.NewError(protocol.ErrBadRequest, "whitelist remove <entity>")
		}
		delete(m.whitelist, args[1])
		return []string{m.id + ": removed " + args[1] + " from whitelist"}, nil
	case "list":
		if len(m.whitelist) == 0 {
			return []string{m.id + ": whitelist empty"}, nil
		}
		ids := make([]string, 0, len(m.whitelist))
		for id := range m.whitelist {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return []string{m.id + ": whitelist " + strings.Join(ids, ", ")}, nil
	}
	return nil, protocol.NewError(protocol.ErrBadRequest, "whitelist add|remove|list [entity]")
}

func (m *Machine) statusLocked() []string {
	lines := []string{fmt.Sprintf("%s: state=%s", m.id, m.state)}
	if m.task != nil {
		lines = append(lines, fmt.Sprintf("%s: task=%s %s", m.id, m.task.Verb, m.task.Detail))
	}
	if pos, ok := m.deps.Env.AgentPos(); ok {
		lines = append(lines, fmt.Sprintf("%s: pos=%s", m.id, pos))
	}
	if hp, max, ok := m.deps.Env.Health(m.id); ok {
		lines = append(lines, fmt.Sprintf("%s: hp=%d/%d", m.id, hp, max))
	}
	return lines
}

// setStateLocked cancels whatever is running and installs the new state and
// task. Every transition funnels through here.
func (m *Machine) setStateLocked(to State, verb string, task *Task) {
	from := m.state
	m.deps.Nav.Cancel()
	m.deps.Combat.Disengage()
	m.guard = nil
	m.patrol = nil
	m.resume = StateIdle
	m.resumeTask = nil

	m.state = to
	m.task = task
	if m.deps.OnTransition != nil && from != to {
		m.deps.OnTransition(m.id, from, to, verb)
	}
}

func (m *Machine) protectedLocked(id string) bool {
	if m.whitelist[id] {
		return true
	}
	return m.guard != nil && m.guard.EntityID != "" && m.guard.EntityID == id
}

// excludeLocked builds the scan exclusion set: self, whitelist, guarded
// identity. Snapshot the guard id so the closure stays valid outside the
// lock.
func (m *Machine) excludeLocked() func(id string) bool {
	wl := make(map[string]bool, len(m.whitelist)+2)
	for id := range m.whitelist {
		wl[id] = true
	}
	wl[m.id] = true
	if m.guard != nil && m.guard.EntityID != "" {
		wl[m.guard.EntityID] = true
	}
	return func(id string) bool { return wl[id] }
}

func (m *Machine) guardCenterLocked() (geom.Vec3, bool) {
	if m.guard == nil {
		return geom.Vec3{}, false
	}
	if m.guard.Fixed {
		return m.guard.Pos, true
	}
	return m.deps.Env.EntityPos(m.guard.EntityID)
}

func (m *Machine) issueTravelLocked(dest geom.Vec3, tolerance float64) {
	m.deps.Nav.Start(nav.Goal{
		Dest:      dest,
		Tolerance: tolerance,
		Deadline:  m.cfg.Now().Add(m.cfg.NavDeadline),
	})
}

func (m *Machine) notify(msg string) {
	if m.deps.Notify != nil {
		m.deps.Notify(msg)
	}
}
