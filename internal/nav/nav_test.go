package nav

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"voxelfleet.ai/internal/geom"
	"voxelfleet.ai/internal/pathfind"
)

// fakePathfinder records requests; tests complete them explicitly.
type fakePathfinder struct {
	mu       sync.Mutex
	requests []fakeRequest
	cancels  int
}

type fakeRequest struct {
	goal    pathfind.GoalSpec
	profile pathfind.MovementProfile
	done    func(pathfind.Outcome)
}

func (f *fakePathfinder) RequestPath(agentID string, goal pathfind.GoalSpec, profile pathfind.MovementProfile, done func(pathfind.Outcome)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, fakeRequest{goal: goal, profile: profile, done: done})
}

func (f *fakePathfinder) Cancel(agentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakePathfinder) last() fakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakePathfinder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeEnv struct {
	mu       sync.Mutex
	agentPos geom.Vec3
	entities map[string]geom.Vec3
}

func (e *fakeEnv) AgentPos() (geom.Vec3, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agentPos, true
}

func (e *fakeEnv) EntityPos(id string) (geom.Vec3, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.entities[id]
	return p, ok
}

func (e *fakeEnv) move(pos geom.Vec3) {
	e.mu.Lock()
	e.agentPos = pos
	e.mu.Unlock()
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestController(t *testing.T) (*Controller, *fakePathfinder, *fakeEnv, *testClock) {
	t.Helper()
	pf := &fakePathfinder{}
	env := &fakeEnv{entities: map[string]geom.Vec3{}}
	clk := &testClock{t: time.UnixMilli(0)}
	c := NewController("alpha", pf, env, Config{
		StuckEpsilon:   1,
		StuckSamples:   3,
		AttemptTimeout: 10 * time.Second,
		Retry:          RetryPolicy{MaxAttempts: 3},
		Now:            clk.now,
		Rand:           rand.New(rand.NewSource(1)),
	})
	return c, pf, env, clk
}

func TestGoToArrives(t *testing.T) {
	c, pf, env, _ := newTestController(t)
	c.Start(Goal{Dest: geom.Vec3{X: 10}, Tolerance: 1})
	if pf.count() != 1 {
		t.Fatalf("want 1 request, got %d", pf.count())
	}
	env.move(geom.Vec3{X: 10})
	pf.last().done(pathfind.OutcomeReached)

	st, _ := c.Tick()
	if st != StatusArrived {
		t.Fatalf("status: %v", st)
	}
	if c.Active() {
		t.Fatalf("goal should be released after arrival")
	}
}

func TestRetryEscalationCapped(t *testing.T) {
	c, pf, _, _ := newTestController(t)
	c.Start(Goal{Dest: geom.Vec3{X: 50}, Tolerance: 1})

	// Attempt 1 and 2 report no path; each retry escalates the profile.
	pf.last().done(pathfind.OutcomeNoPath)
	c.Tick()
	if pf.count() != 2 {
		t.Fatalf("want retry request, got %d", pf.count())
	}
	second := pf.last()
	if !second.profile.AllowCostly || second.profile.Tolerance <= 1 {
		t.Fatalf("retry should escalate: %+v", second.profile)
	}

	pf.last().done(pathfind.OutcomeNoPath)
	c.Tick()
	if pf.count() != 3 {
		t.Fatalf("want third attempt, got %d", pf.count())
	}

	// Third failure exhausts MaxAttempts=3.
	pf.last().done(pathfind.OutcomeNoPath)
	st, reason := c.Tick()
	if st != StatusFailed || reason != FailNoPath {
		t.Fatalf("want no-path failure, got %v/%v", st, reason)
	}
	if pf.count() != 3 {
		t.Fatalf("retries must never exceed the maximum: %d", pf.count())
	}
}

func TestDeadlineEnforced(t *testing.T) {
	c, pf, _, clk := newTestController(t)
	deadline := clk.now().Add(30 * time.Second)
	c.Start(Goal{Dest: geom.Vec3{X: 50}, Tolerance: 1, Deadline: deadline})

	clk.advance(31 * time.Second)
	st, reason := c.Tick()
	if st != StatusFailed || reason != FailTimeout {
		t.Fatalf("want timeout, got %v/%v", st, reason)
	}
	// A late completion from the abandoned request must be discarded.
	pf.requests[0].done(pathfind.OutcomeReached)
	st, reason = c.Tick()
	if st != StatusFailed || reason != FailTimeout {
		t.Fatalf("stale completion clobbered the failure: %v/%v", st, reason)
	}
}

func TestStuckDetectionNeedsConsecutiveSamples(t *testing.T) {
	c, pf, env, _ := newTestController(t)
	env.move(geom.Vec3{X: 0})
	c.Start(Goal{Dest: geom.Vec3{X: 50}, Tolerance: 1})

	// First sample only primes the detector.
	c.Tick()
	if pf.count() != 1 {
		t.Fatalf("no recovery on the first sample")
	}

	// Two zero-displacement samples: still below the threshold of 3.
	c.Tick()
	c.Tick()
	if pf.count() != 1 {
		t.Fatalf("recovery before N consecutive samples")
	}

	// Movement resets the counter.
	env.move(geom.Vec3{X: 3})
	c.Tick()
	c.Tick()
	c.Tick()
	if pf.count() != 1 {
		t.Fatalf("counter should reset after movement")
	}

	// Three consecutive stuck samples trigger the unstick maneuver.
	c.Tick()
	if pf.count() != 2 {
		t.Fatalf("expected unstick request, got %d requests", pf.count())
	}
	unstick := pf.last()
	if unstick.goal.Dest == (geom.Vec3{X: 50}) {
		t.Fatalf("unstick should not target the original goal")
	}

	// Recovery completion re-issues the original goal.
	unstick.done(pathfind.OutcomeReached)
	c.Tick()
	if pf.count() != 3 {
		t.Fatalf("original goal not re-issued, got %d", pf.count())
	}
	if pf.last().goal.Dest != (geom.Vec3{X: 50}) {
		t.Fatalf("re-issued goal: %+v", pf.last().goal)
	}
}

func TestStartCancelsPreviousGoal(t *testing.T) {
	c, pf, _, _ := newTestController(t)
	c.Start(Goal{Dest: geom.Vec3{X: 10}, Tolerance: 1})
	first := pf.last()
	c.Start(Goal{Dest: geom.Vec3{X: 20}, Tolerance: 1})

	// Late completion of the superseded goal must not mark arrival.
	first.done(pathfind.OutcomeReached)
	st, _ := c.Tick()
	if st != StatusActive {
		t.Fatalf("stale outcome applied: %v", st)
	}
	goal, ok := c.Goal()
	if !ok || goal.Dest.X != 20 {
		t.Fatalf("live goal: %+v ok=%v", goal, ok)
	}
}

func TestCancelIsSynchronous(t *testing.T) {
	c, pf, _, _ := newTestController(t)
	c.Start(Goal{Dest: geom.Vec3{X: 10}, Tolerance: 1})
	c.Cancel()
	if c.Active() {
		t.Fatalf("cancel must release the goal immediately")
	}
	st, _ := c.Tick()
	if st != StatusIdle {
		t.Fatalf("status after cancel: %v", st)
	}
	pf.last().done(pathfind.OutcomeReached)
	st, _ = c.Tick()
	if st != StatusIdle {
		t.Fatalf("stale completion after cancel: %v", st)
	}
}

func TestAttemptTimeoutRetries(t *testing.T) {
	c, pf, _, clk := newTestController(t)
	c.Start(Goal{Dest: geom.Vec3{X: 50}, Tolerance: 1})

	clk.advance(11 * time.Second)
	st, _ := c.Tick()
	if st != StatusActive {
		t.Fatalf("first sub-timeout should retry, got %v", st)
	}
	if pf.count() != 2 {
		t.Fatalf("want second attempt, got %d", pf.count())
	}

	clk.advance(11 * time.Second)
	c.Tick()
	clk.advance(11 * time.Second)
	st, reason := c.Tick()
	if st != StatusFailed || reason != FailTimeout {
		t.Fatalf("exhausted sub-timeouts should fail with timeout: %v/%v", st, reason)
	}
}

func TestFollowTracksMovingTarget(t *testing.T) {
	c, pf, env, _ := newTestController(t)
	env.entities["leader"] = geom.Vec3{X: 10}
	env.move(geom.Vec3{X: 0})

	c.Follow("leader", 2, time.Time{})
	if pf.count() != 1 || pf.last().goal.Dest.X != 10 {
		t.Fatalf("initial follow goal: %+v", pf.last().goal)
	}

	// Close enough: no new request even though the tick advances.
	env.move(geom.Vec3{X: 9})
	c.Tick()
	if pf.count() != 1 {
		t.Fatalf("no re-issue while within distance")
	}

	// Target moves: goal re-issued at the new position.
	env.entities["leader"] = geom.Vec3{X: 20}
	c.Tick()
	if pf.count() != 2 || pf.last().goal.Dest.X != 20 {
		t.Fatalf("follow should chase: %+v", pf.last().goal)
	}

	// Follow never arrives on its own.
	pf.last().done(pathfind.OutcomeReached)
	st, _ := c.Tick()
	if st != StatusActive {
		t.Fatalf("follow has no terminal success: %v", st)
	}
}

func TestFollowStalledLegReissued(t *testing.T) {
	c, pf, env, clk := newTestController(t)
	env.entities["leader"] = geom.Vec3{X: 10}
	env.move(geom.Vec3{})
	c.Follow("leader", 2, time.Time{})
	if pf.count() != 1 {
		t.Fatalf("want initial request, got %d", pf.count())
	}

	// The pathfinder never completes the leg; past the attempt timeout the
	// controller re-issues at the target instead of waiting forever.
	clk.advance(11 * time.Second)
	st, _ := c.Tick()
	if st != StatusActive {
		t.Fatalf("stalled follow should stay active: %v", st)
	}
	if pf.count() != 2 || pf.last().goal.Dest.X != 10 {
		t.Fatalf("stalled leg not re-issued: count=%d goal=%+v", pf.count(), pf.last().goal)
	}
}

func TestFollowLostTarget(t *testing.T) {
	c, _, env, _ := newTestController(t)
	env.entities["leader"] = geom.Vec3{X: 10}
	c.Follow("leader", 2, time.Time{})

	delete(env.entities, "leader")
	st, reason := c.Tick()
	if st != StatusFailed || reason != FailLostTarget {
		t.Fatalf("want lost target, got %v/%v", st, reason)
	}
}

func TestFollowDeadline(t *testing.T) {
	c, _, env, clk := newTestController(t)
	env.entities["leader"] = geom.Vec3{X: 10}
	c.Follow("leader", 2, clk.now().Add(5*time.Second))

	clk.advance(6 * time.Second)
	st, reason := c.Tick()
	if st != StatusFailed || reason != FailTimeout {
		t.Fatalf("want deadline timeout, got %v/%v", st, reason)
	}
}
