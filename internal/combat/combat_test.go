package combat

import (
	"errors"
	"testing"
	"time"

	"voxelfleet.ai/internal/catalogs"
	"voxelfleet.ai/internal/geom"
	"voxelfleet.ai/internal/store"
)

func testCatalogs() *catalogs.Catalogs {
	return &catalogs.Catalogs{
		Entities: catalogs.EntityCatalog{Defs: map[string]catalogs.EntityDef{
			"ZOMBIE":   {ID: "ZOMBIE", Hostile: true},
			"SKELETON": {ID: "SKELETON", Hostile: true},
			"PLAYER":   {ID: "PLAYER"},
			"COW":      {ID: "COW"},
		}},
		Items: catalogs.ItemCatalog{Defs: map[string]catalogs.ItemDef{
			"IRON_SWORD":    {ID: "IRON_SWORD", Kind: "WEAPON", Material: "IRON", WeaponClass: "SWORD"},
			"DIAMOND_SWORD": {ID: "DIAMOND_SWORD", Kind: "WEAPON", Material: "DIAMOND", WeaponClass: "SWORD"},
			"BREAD":         {ID: "BREAD", Kind: "MATERIAL"},
		}},
	}
}

type stubEnv struct {
	entities  []Entity
	hp        map[string][2]int
	inventory map[string][]string
	equipped  map[string]string

	equips  []string
	strikes []string

	strikeErr error
}

func newStubEnv() *stubEnv {
	return &stubEnv{
		hp:        map[string][2]int{},
		inventory: map[string][]string{},
		equipped:  map[string]string{},
	}
}

func (s *stubEnv) EntityPos(id string) (geom.Vec3, bool) {
	for _, e := range s.entities {
		if e.ID == id {
			return e.Pos, true
		}
	}
	return geom.Vec3{}, false
}

func (s *stubEnv) EntitiesNear(center geom.Vec3, radius float64) []Entity {
	var out []Entity
	for _, e := range s.entities {
		if geom.Within(center, e.Pos, radius) {
			out = append(out, e)
		}
	}
	return out
}

func (s *stubEnv) Health(id string) (int, int, bool) {
	v, ok := s.hp[id]
	return v[0], v[1], ok
}

func (s *stubEnv) Inventory(id string) []string { return s.inventory[id] }
func (s *stubEnv) Equipped(id string) string    { return s.equipped[id] }

func (s *stubEnv) Equip(id, itemID string) error {
	s.equips = append(s.equips, itemID)
	s.equipped[id] = itemID
	return nil
}

func (s *stubEnv) Strike(attackerID, targetID string) error {
	if s.strikeErr != nil {
		return s.strikeErr
	}
	s.strikes = append(s.strikes, targetID)
	return nil
}

type stubChaser struct {
	follows []string
	cancels int
	active  bool
}

func (c *stubChaser) Follow(entityID string, distance float64, deadline time.Time) {
	c.follows = append(c.follows, entityID)
	c.active = true
}
func (c *stubChaser) Cancel() { c.cancels++; c.active = false }

func TestScanOrdersHostilesByDistanceFromCenter(t *testing.T) {
	env := newStubEnv()
	env.entities = []Entity{
		{ID: "Z-far", Kind: "ZOMBIE", Pos: geom.Vec3{X: 8}},
		{ID: "S-near", Kind: "SKELETON", Pos: geom.Vec3{X: 2}},
		{ID: "Z-mid", Kind: "ZOMBIE", Pos: geom.Vec3{X: 5}},
		{ID: "steve", Kind: "PLAYER", Pos: geom.Vec3{X: 1}},
	}
	st := store.New()
	sc := NewScanner(env, testCatalogs(), st)

	got := sc.Scan(geom.Vec3{}, 20, nil)
	if len(got) != 3 {
		t.Fatalf("hostile count: %d", len(got))
	}
	if got[0].EntityRef != "S-near" || got[1].EntityRef != "Z-mid" || got[2].EntityRef != "Z-far" {
		t.Fatalf("order: %s %s %s", got[0].EntityRef, got[1].EntityRef, got[2].EntityRef)
	}
}

func TestScanRecordsNeutralSightingsToo(t *testing.T) {
	env := newStubEnv()
	env.entities = []Entity{
		{ID: "cow-1", Kind: "COW", Pos: geom.Vec3{X: 3}},
		{ID: "Z1", Kind: "ZOMBIE", Pos: geom.Vec3{X: 4}},
	}
	st := store.New()
	sc := NewScanner(env, testCatalogs(), st)

	got := sc.Scan(geom.Vec3{}, 10, nil)
	if len(got) != 1 || got[0].EntityRef != "Z1" {
		t.Fatalf("only the zombie should come back: %+v", got)
	}
	e, ok := st.Get(store.CategoryThreats, "cow-1")
	if !ok || e.Data["classification"] != store.ClassNeutral {
		t.Fatalf("neutral sighting should still be recorded: ok=%v data=%v", ok, e.Data)
	}
}

func TestScanExcludesProtectedIdentities(t *testing.T) {
	env := newStubEnv()
	env.entities = []Entity{
		{ID: "Z1", Kind: "ZOMBIE", Pos: geom.Vec3{X: 1}},
		{ID: "Z2", Kind: "ZOMBIE", Pos: geom.Vec3{X: 2}},
	}
	st := store.New()
	sc := NewScanner(env, testCatalogs(), st)

	got := sc.Scan(geom.Vec3{}, 10, func(id string) bool { return id == "Z1" })
	if len(got) != 1 || got[0].EntityRef != "Z2" {
		t.Fatalf("excluded identity leaked through: %+v", got)
	}
}

func engageFixture(t *testing.T) (*stubEnv, *stubChaser, *Engagement) {
	t.Helper()
	env := newStubEnv()
	env.entities = []Entity{
		{ID: "alpha", Kind: "PLAYER", Pos: geom.Vec3{}},
		{ID: "Z1", Kind: "ZOMBIE", Pos: geom.Vec3{X: 2}},
	}
	env.hp["alpha"] = [2]int{20, 20}
	ch := &stubChaser{}
	eng := NewEngagement("alpha", env, testCatalogs(), ch, Config{
		MeleeRange:        3,
		StrikeEveryTicks:  1,
		EngageTimeout:     45 * time.Second,
		RetreatHPFraction: 0.3,
	})
	return env, ch, eng
}

func TestEngageRetreatsWithinOneTick(t *testing.T) {
	env, _, eng := engageFixture(t)
	eng.Engage("Z1")
	env.hp["alpha"] = [2]int{5, 20}

	if got := eng.Tick(); got != OutcomeRetreat {
		t.Fatalf("outcome: %v", got)
	}
	if eng.Engaged() {
		t.Fatalf("retreat should end the engagement")
	}
}

func TestEngageStrikesInMeleeRange(t *testing.T) {
	env, ch, eng := engageFixture(t)
	eng.Engage("Z1")

	if got := eng.Tick(); got != OutcomeActive {
		t.Fatalf("outcome: %v", got)
	}
	if len(env.strikes) != 1 || env.strikes[0] != "Z1" {
		t.Fatalf("strikes: %v", env.strikes)
	}
	if len(ch.follows) != 0 {
		t.Fatalf("no chase needed in melee range: %v", ch.follows)
	}
}

func TestEngageStrikeCadence(t *testing.T) {
	env, _, eng := engageFixture(t)
	eng.cfg.StrikeEveryTicks = 3
	eng.Engage("Z1")

	for i := 0; i < 6; i++ {
		if got := eng.Tick(); got != OutcomeActive {
			t.Fatalf("tick %d: %v", i, got)
		}
	}
	// Ticks 3 and 6 land hits.
	if len(env.strikes) != 2 {
		t.Fatalf("strike count over 6 ticks: %d", len(env.strikes))
	}
}

func TestEngageEquipsBestWeaponIdempotently(t *testing.T) {
	env, _, eng := engageFixture(t)
	env.inventory["alpha"] = []string{"BREAD", "IRON_SWORD", "DIAMOND_SWORD"}
	eng.Engage("Z1")

	eng.Tick()
	eng.Tick()
	eng.Tick()
	if len(env.equips) != 1 || env.equips[0] != "DIAMOND_SWORD" {
		t.Fatalf("equip should fire once for the best weapon: %v", env.equips)
	}
}

func TestEngageChasesWhenOutOfRange(t *testing.T) {
	env, ch, eng := engageFixture(t)
	env.entities[1].Pos = geom.Vec3{X: 10}
	eng.Engage("Z1")

	if got := eng.Tick(); got != OutcomeActive {
		t.Fatalf("outcome: %v", got)
	}
	if len(ch.follows) != 1 || ch.follows[0] != "Z1" {
		t.Fatalf("chase should follow the target: %v", ch.follows)
	}
	// Still out of range next tick: no duplicate follow goal.
	eng.Tick()
	if len(ch.follows) != 1 {
		t.Fatalf("follow re-issued while already chasing: %v", ch.follows)
	}
	if len(env.strikes) != 0 {
		t.Fatalf("no strikes from range: %v", env.strikes)
	}

	// Target closes in: chase cancelled, melee resumes.
	env.entities[1].Pos = geom.Vec3{X: 1}
	eng.Tick()
	if ch.cancels != 1 {
		t.Fatalf("chase should cancel once in range: %d", ch.cancels)
	}
	if len(env.strikes) == 0 {
		t.Fatalf("melee should resume once in range")
	}
}

func TestEngageTimesOut(t *testing.T) {
	env, _, eng := engageFixture(t)
	now := time.Unix(1000, 0)
	eng.cfg.Now = func() time.Time { return now }
	eng.Engage("Z1")

	if got := eng.Tick(); got != OutcomeActive {
		t.Fatalf("outcome: %v", got)
	}
	now = now.Add(46 * time.Second)
	if got := eng.Tick(); got != OutcomeTimeout {
		t.Fatalf("outcome: %v", got)
	}
	if eng.Engaged() {
		t.Fatalf("timeout should end the engagement")
	}
	_ = env
}

func TestEngageTargetLost(t *testing.T) {
	env, _, eng := engageFixture(t)
	eng.Engage("Z1")
	env.entities = env.entities[:1] // target despawns

	if got := eng.Tick(); got != OutcomeTargetLost {
		t.Fatalf("outcome: %v", got)
	}
	if eng.Engaged() {
		t.Fatalf("lost target should end the engagement")
	}
}

func TestEngageStrikeErrorEndsEngagement(t *testing.T) {
	env, _, eng := engageFixture(t)
	env.strikeErr = errors.New("target gone")
	eng.Engage("Z1")

	if got := eng.Tick(); got != OutcomeTargetLost {
		t.Fatalf("outcome: %v", got)
	}
}

func TestDisengageIdempotent(t *testing.T) {
	env, ch, eng := engageFixture(t)
	env.entities[1].Pos = geom.Vec3{X: 10}
	eng.Engage("Z1")
	eng.Tick() // starts a chase

	eng.Disengage()
	eng.Disengage()
	if ch.cancels != 1 {
		t.Fatalf("cancel should fire once: %d", ch.cancels)
	}
	if eng.Tick() != OutcomeNone {
		t.Fatalf("disengaged tick should be a no-op")
	}
}
