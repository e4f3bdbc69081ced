// Package combat holds the threat scanner and the per-agent engagement
// loop. Both are tick-driven by the agent's state machine; neither owns a
// goroutine.
package combat

import (
	"sort"

	"voxelfleet.ai/internal/catalogs"
	"voxelfleet.ai/internal/geom"
	"voxelfleet.ai/internal/store"
)

// Entity is the engine's view of one environment entity.
type Entity struct {
	ID   string
	Kind string
	Pos  geom.Vec3
}

// Env is the slice of the environment combat consumes.
type Env interface {
	EntityPos(id string) (geom.Vec3, bool)
	EntitiesNear(center geom.Vec3, radius float64) []Entity
	Health(id string) (hp, max int, ok bool)
	Inventory(id string) []string
	Equipped(id string) string
	Equip(id, itemID string) error
	Strike(attackerID, targetID string) error
}

// Scanner classifies nearby entities and records sightings in the shared
// store. One scanner serves the whole fleet.
type Scanner struct {
	env  Env
	cats *catalogs.Catalogs
	st   *store.Store
}

func NewScanner(env Env, cats *catalogs.Catalogs, st *store.Store) *Scanner {
	return &Scanner{env: env, cats: cats, st: st}
}

// Scan enumerates entities around center, records every sighting, and
// returns hostile candidates ordered by ascending distance from center.
// Distance is measured from the scan center, not the scanning agent, so
// guarding a remote point prioritizes threats to that point. exclude filters identities that must
// never be engaged (self, whitelist, the guarded identity).
func (s *Scanner) Scan(center geom.Vec3, radius float64, exclude func(id string) bool) []store.ThreatRecord {
	var hostiles []store.ThreatRecord
	for _, e := range s.env.EntitiesNear(center, radius) {
		class := store.ClassNeutral
		if s.cats.Hostile(e.Kind) {
			class = store.ClassHostile
		}
		rec := store.ThreatRecord{
			EntityRef:      e.ID,
			Kind:           e.Kind,
			Pos:            e.Pos,
			Classification: class,
		}
		s.st.PutThreat(rec)
		if class != store.ClassHostile {
			continue
		}
		if exclude != nil && exclude(e.ID) {
			continue
		}
		hostiles = append(hostiles, rec)
	}
	sort.Slice(hostiles, func(i, j int) bool {
		di := geom.DistSq(center, hostiles[i].Pos)
		dj := geom.DistSq(center, hostiles[j].Pos)
		if di != dj {
			return di < dj
		}
		return hostiles[i].EntityRef < hostiles[j].EntityRef
	})
	return hostiles
}
