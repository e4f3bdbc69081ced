// Package simworld is an in-process grid environment: it implements the
// pathfinder capability and the entity/combat views the behavior engine
// consumes, for local runs and integration tests.
package simworld

import (
	"fmt"
	"sort"
	"sync"

	"voxelfleet.ai/internal/geom"
	"voxelfleet.ai/internal/pathfind"
)

// Entity is one positioned thing in the world: a fleet agent, a player, or
// a mob.
type Entity struct {
	ID        string
	Kind      string
	Pos       geom.Vec3
	HP        int
	MaxHP     int
	Inventory []string
	Equipped  string
	// AttackDamage dealt per strike against this entity's targets.
	AttackDamage int
}

type pathReq struct {
	goal    pathfind.GoalSpec
	profile pathfind.MovementProfile
	done    func(pathfind.Outcome)
	// Ticks spent without progress; used to report no-path.
	blockedFor int
}

// World is a flat voxel plane with solid obstacles. All methods are safe
// for concurrent use; movement advances one block per Step.
type World struct {
	mu sync.Mutex

	boundaryR int
	solids    map[geom.Vec3]bool
	entities  map[string]*Entity
	paths     map[string]*pathReq

	// Completions collected during Step, fired after the lock is released.
	firing []func()
}

func New(boundaryR int) *World {
	if boundaryR <= 0 {
		boundaryR = 256
	}
	return &World{
		boundaryR: boundaryR,
		solids:    map[geom.Vec3]bool{},
		entities:  map[string]*Entity{},
		paths:     map[string]*pathReq{},
	}
}

func (w *World) Spawn(e Entity) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e.ID == "" {
		return fmt.Errorf("empty entity id")
	}
	if _, ok := w.entities[e.ID]; ok {
		return fmt.Errorf("entity %s already exists", e.ID)
	}
	if e.MaxHP <= 0 {
		e.MaxHP = 20
	}
	if e.HP <= 0 {
		e.HP = e.MaxHP
	}
	if e.AttackDamage <= 0 {
		e.AttackDamage = 2
	}
	cp := e
	w.entities[e.ID] = &cp
	return nil
}

func (w *World) Remove(id string) {
	w.mu.Lock()
	delete(w.entities, id)
	delete(w.paths, id)
	w.mu.Unlock()
}

func (w *World) SetSolid(pos geom.Vec3, solid bool) {
	w.mu.Lock()
	if solid {
		w.solids[pos] = true
	} else {
		delete(w.solids, pos)
	}
	w.mu.Unlock()
}

// Teleport force-places an entity (tests and admin).
func (w *World) Teleport(id string, pos geom.Vec3) {
	w.mu.Lock()
	if e, ok := w.entities[id]; ok {
		e.Pos = pos
	}
	w.mu.Unlock()
}

func (w *World) SetHP(id string, hp int) {
	w.mu.Lock()
	if e, ok := w.entities[id]; ok {
		e.HP = hp
	}
	w.mu.Unlock()
}

func (w *World) inBounds(p geom.Vec3) bool {
	return p.X >= -w.boundaryR && p.X <= w.boundaryR && p.Z >= -w.boundaryR && p.Z <= w.boundaryR
}

// --- pathfind.Pathfinder ---

// RequestPath registers a goal for the agent; progress happens on Step.
// done is never invoked synchronously here.
func (w *World) RequestPath(agentID string, goal pathfind.GoalSpec, profile pathfind.MovementProfile, done func(pathfind.Outcome)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if prev, ok := w.paths[agentID]; ok && prev.done != nil {
		// Superseded request resolves as cancelled on the next Step.
		old := prev.done
		w.firing = append(w.firing, func() { old(pathfind.OutcomeCancelled) })
	}
	w.paths[agentID] = &pathReq{goal: goal, profile: profile, done: done}
}

func (w *World) Cancel(agentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.paths, agentID)
}

// Step advances every active path by at most one block and fires any due
// completion callbacks.
func (w *World) Step() {
	w.mu.Lock()
	for id, req := range w.paths {
		e, ok := w.entities[id]
		if !ok {
			w.fireLocked(id, req, pathfind.OutcomeNoPath)
			continue
		}
		tol := req.goal.Tolerance
		if tol < 1 {
			tol = 1
		}
		if geom.Within(e.Pos, req.goal.Dest, tol) {
			w.fireLocked(id, req, pathfind.OutcomeReached)
			continue
		}
		next, ok := w.stepToward(e.Pos, req.goal.Dest)
		if !ok {
			req.blockedFor++
			// A permissive profile keeps probing longer before giving up.
			limit := 3
			if req.profile.AllowCostly {
				limit = 8
			}
			if req.blockedFor >= limit {
				w.fireLocked(id, req, pathfind.OutcomeNoPath)
			}
			continue
		}
		req.blockedFor = 0
		e.Pos = next
		if geom.Within(e.Pos, req.goal.Dest, tol) {
			w.fireLocked(id, req, pathfind.OutcomeReached)
		}
	}
	firing := w.firing
	w.firing = nil
	w.mu.Unlock()

	for _, f := range firing {
		f()
	}
}

func (w *World) fireLocked(id string, req *pathReq, out pathfind.Outcome) {
	done := req.done
	delete(w.paths, id)
	if done != nil {
		w.firing = append(w.firing, func() { done(out) })
	}
}

// stepToward picks the next 4-neighbor block: primary axis when passable,
// then a bounded BFS detour (it strictly reduces distance, so movement
// cannot oscillate around a wall), then the secondary axis.
func (w *World) stepToward(from, target geom.Vec3) (geom.Vec3, bool) {
	dx := target.X - from.X
	dz := target.Z - from.Z

	primary, secondary := axisSteps(from, dx, dz)
	if primary != from && w.inBounds(primary) && !w.solids[primary] {
		return primary, true
	}
	if next, ok := detourStep(from, target, 16, w.inBounds, func(p geom.Vec3) bool { return w.solids[p] }); ok {
		return next, true
	}
	if secondary != from && w.inBounds(secondary) && !w.solids[secondary] {
		return secondary, true
	}
	return from, false
}

func axisSteps(from geom.Vec3, dx, dz int) (geom.Vec3, geom.Vec3) {
	stepX := from
	if dx > 0 {
		stepX.X++
	} else if dx < 0 {
		stepX.X--
	}
	stepZ := from
	if dz > 0 {
		stepZ.Z++
	} else if dz < 0 {
		stepZ.Z--
	}
	if abs(dx) >= abs(dz) {
		return stepX, stepZ
	}
	return stepZ, stepX
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// --- entity views consumed by the engine ---

func (w *World) EntityPos(id string) (geom.Vec3, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[id]
	if !ok {
		return geom.Vec3{}, false
	}
	return e.Pos, true
}

// EntitiesNear returns entities within radius of center, sorted by id for
// determinism. The caller orders by distance as needed.
func (w *World) EntitiesNear(center geom.Vec3, radius float64) []Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Entity
	for _, e := range w.entities {
		if geom.Within(center, e.Pos, radius) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *World) Health(id string) (hp, max int, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, found := w.entities[id]
	if !found {
		return 0, 0, false
	}
	return e.HP, e.MaxHP, true
}

func (w *World) Inventory(id string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[id]
	if !ok {
		return nil
	}
	return append([]string(nil), e.Inventory...)
}

func (w *World) Equipped(id string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entities[id]; ok {
		return e.Equipped
	}
	return ""
}

func (w *World) Equip(id, itemID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[id]
	if !ok {
		return fmt.Errorf("entity %s not found", id)
	}
	for _, item := range e.Inventory {
		if item == itemID {
			e.Equipped = itemID
			return nil
		}
	}
	return fmt.Errorf("item %s not in inventory", itemID)
}

// Strike applies attacker damage to the target. A target at zero HP is
// removed from the world.
func (w *World) Strike(attackerID, targetID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	att, ok := w.entities[attackerID]
	if !ok {
		return fmt.Errorf("attacker %s not found", attackerID)
	}
	tgt, ok := w.entities[targetID]
	if !ok {
		return fmt.Errorf("target %s not found", targetID)
	}
	tgt.HP -= att.AttackDamage
	if tgt.HP <= 0 {
		delete(w.entities, targetID)
		delete(w.paths, targetID)
	}
	return nil
}
