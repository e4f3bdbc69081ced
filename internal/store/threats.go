package store

import (
	"strconv"
	"time"

	"voxelfleet.ai/internal/geom"
)

// Classification values for threat records.
const (
	ClassHostile = "hostile"
	ClassNeutral = "neutral"
)

// ThreatRecord is a classified, positioned environment entity observed by
// some agent's scan. All agents read the same records.
type ThreatRecord struct {
	EntityRef      string
	Kind           string
	Pos            geom.Vec3
	Classification string
	FirstSeen      time.Time
	LastSeen       time.Time
}

// PutThreat records a sighting, preserving FirstSeen across repeat
// observations of the same entity.
func (s *Store) PutThreat(rec ThreatRecord) {
	now := s.now()
	if rec.LastSeen.IsZero() {
		rec.LastSeen = now
	}
	if prev, ok := s.Get(CategoryThreats, rec.EntityRef); ok {
		if fs := prev.Data["first_seen_ms"]; fs != "" {
			if ms, err := strconv.ParseInt(fs, 10, 64); err == nil {
				rec.FirstSeen = time.UnixMilli(ms)
			}
		}
	}
	if rec.FirstSeen.IsZero() {
		rec.FirstSeen = rec.LastSeen
	}
	s.Put(CategoryThreats, Entry{
		Key: rec.EntityRef,
		Pos: rec.Pos,
		Data: map[string]string{
			"kind":           rec.Kind,
			"classification": rec.Classification,
			"first_seen_ms":  strconv.FormatInt(rec.FirstSeen.UnixMilli(), 10),
		},
		UpdatedAt: rec.LastSeen,
	})
}

// ThreatsNear returns live threat records within radius of center, nearest
// first. Stale sightings (outside the recency window) are excluded.
func (s *Store) ThreatsNear(center geom.Vec3, radius float64) []ThreatRecord {
	entries := s.QueryInRadius(CategoryThreats, center, radius)
	out := make([]ThreatRecord, 0, len(entries))
	for _, e := range entries {
		rec := ThreatRecord{
			EntityRef:      e.Key,
			Kind:           e.Data["kind"],
			Pos:            e.Pos,
			Classification: e.Data["classification"],
			LastSeen:       e.UpdatedAt,
		}
		if ms, err := strconv.ParseInt(e.Data["first_seen_ms"], 10, 64); err == nil {
			rec.FirstSeen = time.UnixMilli(ms)
		}
		out = append(out, rec)
	}
	return out
}
