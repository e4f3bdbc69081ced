package geom

import (
	"fmt"
	"math"
	"strconv"
)

// Vec3 is an integer voxel coordinate.
type Vec3 struct {
	X int
	Y int
	Z int
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// DistXZ is the Manhattan distance on the XZ plane. Movement in the world is
// 4-neighbor on XZ, so this is the step count along an unobstructed path.
func DistXZ(a, b Vec3) int {
	return abs(a.X-b.X) + abs(a.Z-b.Z)
}

// DistSq is the squared Euclidean distance over all three axes.
func DistSq(a, b Vec3) int {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return dx*dx + dy*dy + dz*dz
}

// Dist is the Euclidean distance over all three axes.
func Dist(a, b Vec3) float64 {
	return math.Sqrt(float64(DistSq(a, b)))
}

// Within reports whether b lies within radius of a (Euclidean).
func Within(a, b Vec3, radius float64) bool {
	return float64(DistSq(a, b)) <= radius*radius
}

// ParseVec3 parses three consecutive integer arguments into a Vec3.
func ParseVec3(args []string) (Vec3, error) {
	if len(args) < 3 {
		return Vec3{}, fmt.Errorf("want 3 coordinates, got %d", len(args))
	}
	var out [3]int
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(args[i])
		if err != nil {
			return Vec3{}, fmt.Errorf("coordinate %q: not an integer", args[i])
		}
		out[i] = n
	}
	return Vec3{X: out[0], Y: out[1], Z: out[2]}, nil
}
