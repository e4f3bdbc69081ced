package simworld

import "voxelfleet.ai/internal/geom"

// detourStep searches for a passable next step from start that eventually
// reduces the XZ distance to target within maxDepth steps. Deterministic
// (fixed neighbor order, lexicographic tiebreaks) so movement stays stable
// across runs. Returns one of the 4-neighbors of start.
func detourStep(start, target geom.Vec3, maxDepth int, inBounds func(geom.Vec3) bool, isSolid func(geom.Vec3) bool) (geom.Vec3, bool) {
	if maxDepth <= 0 {
		return geom.Vec3{}, false
	}
	startDist := geom.DistXZ(start, target)

	type item struct {
		p     geom.Vec3
		depth int
		first geom.Vec3
	}

	dirs := []geom.Vec3{{X: 1}, {X: -1}, {Z: 1}, {Z: -1}}

	visited := map[geom.Vec3]bool{start: true}
	queue := make([]item, 0, 64)
	for _, d := range dirs {
		np := geom.Vec3{X: start.X + d.X, Y: start.Y, Z: start.Z + d.Z}
		if !inBounds(np) || isSolid(np) {
			continue
		}
		visited[np] = true
		queue = append(queue, item{p: np, depth: 1, first: np})
	}

	var (
		found     bool
		bestDist  = startDist
		bestDepth int
		bestFirst geom.Vec3
	)

	better := func(dist, depth int, first geom.Vec3) bool {
		if !found {
			return true
		}
		if dist != bestDist {
			return dist < bestDist
		}
		if depth != bestDepth {
			return depth < bestDepth
		}
		if first.X != bestFirst.X {
			return first.X < bestFirst.X
		}
		return first.Z < bestFirst.Z
	}

	for head := 0; head < len(queue); head++ {
		it := queue[head]

		if d := geom.DistXZ(it.p, target); d < startDist && better(d, it.depth, it.first) {
			found = true
			bestDist = d
			bestDepth = it.depth
			bestFirst = it.first
		}
		if it.depth >= maxDepth {
			continue
		}
		for _, d := range dirs {
			np := geom.Vec3{X: it.p.X + d.X, Y: it.p.Y, Z: it.p.Z + d.Z}
			if visited[np] || !inBounds(np) || isSolid(np) {
				continue
			}
			visited[np] = true
			queue = append(queue, item{p: np, depth: it.depth + 1, first: it.first})
		}
	}

	if !found {
		return geom.Vec3{}, false
	}
	return bestFirst, true
}
