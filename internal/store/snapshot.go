package store

import (
	"sort"
	"strconv"
	"time"

	"voxelfleet.ai/internal/geom"
	"voxelfleet.ai/internal/persistence/snapshot"
)

// SaveSnapshot flushes every category to dir, one file per category.
func (s *Store) SaveSnapshot(dir string) error {
	now := s.now()
	for _, cat := range Categories {
		entries := s.export(cat)
		snap := snapshot.CategoryV1{
			Header:  snapshot.Header{Version: 1, Category: cat, SavedAt: now.UnixMilli()},
			Entries: make([]snapshot.EntryV1, 0, len(entries)),
		}
		for _, e := range entries {
			snap.Entries = append(snap.Entries, snapshot.EntryV1{
				Key:       e.Key,
				Pos:       [3]int{e.Pos.X, e.Pos.Y, e.Pos.Z},
				Data:      e.Data,
				UpdatedAt: e.UpdatedAt.UnixMilli(),
			})
		}
		if err := snapshot.WriteCategory(dir, snap); err != nil {
			return err
		}
	}
	return nil
}

// LoadSnapshot replaces every category from dir. Missing files load as
// empty categories.
func (s *Store) LoadSnapshot(dir string) error {
	for _, cat := range Categories {
		snap, err := snapshot.ReadCategory(dir, cat)
		if err != nil {
			return err
		}
		entries := make([]Entry, 0, len(snap.Entries))
		for _, e := range snap.Entries {
			entries = append(entries, Entry{
				Key:       e.Key,
				Pos:       geom.Vec3{X: e.Pos[0], Y: e.Pos[1], Z: e.Pos[2]},
				Data:      e.Data,
				UpdatedAt: time.UnixMilli(e.UpdatedAt),
			})
		}
		s.replace(cat, entries)
	}
	return nil
}

func taskFromEntry(e Entry) TaskRecord {
	rec := TaskRecord{
		ID:         e.Key,
		Kind:       e.Data["kind"],
		Status:     e.Data["status"],
		AssignedTo: e.Data["assigned_to"],
		Pos:        e.Pos,
		Payload:    e.Data["payload"],
		UpdatedAt:  e.UpdatedAt,
	}
	if ms, err := strconv.ParseInt(e.Data["created_ms"], 10, 64); err == nil {
		rec.CreatedAt = time.UnixMilli(ms)
	}
	return rec
}

func sortTasks(list []TaskRecord) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}

func formatMs(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
