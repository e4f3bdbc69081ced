// Package pathfind declares the external pathfinder capability the
// navigation controller consumes. The actual search and physics live
// outside the engine.
package pathfind

import "voxelfleet.ai/internal/geom"

type Outcome int

const (
	OutcomeReached Outcome = iota + 1
	OutcomeNoPath
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReached:
		return "reached"
	case OutcomeNoPath:
		return "no_path"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "unknown"
}

// GoalSpec is one destination request.
type GoalSpec struct {
	Dest      geom.Vec3
	Tolerance float64
}

// MovementProfile tunes how permissive a path attempt is. Retries escalate
// the profile instead of failing immediately.
type MovementProfile struct {
	Tolerance float64
	// AllowCostly permits terrain the default profile avoids.
	AllowCostly bool
	// MaxCostFactor caps path cost relative to straight-line distance;
	// zero means the implementation default.
	MaxCostFactor float64
}

// Pathfinder accepts one outstanding goal per agent. done fires exactly once
// per request, from an arbitrary goroutine but never synchronously inside
// RequestPath; a new request for the same agent supersedes the previous one.
type Pathfinder interface {
	RequestPath(agentID string, goal GoalSpec, profile MovementProfile, done func(Outcome))
	Cancel(agentID string)
}
