package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Catalogs is the read-only environment data the engine consults: entity
// kinds (hostility classification) and item defs (weapon ranking).
type Catalogs struct {
	Entities EntityCatalog
	Items    ItemCatalog
}

type EntityCatalog struct {
	Defs   map[string]EntityDef
	Digest string
}

type EntityDef struct {
	ID      string `json:"id"`
	Hostile bool   `json:"hostile"`
	// MaxHP is informational; live health comes from the environment.
	MaxHP int `json:"max_hp,omitempty"`
}

type ItemCatalog struct {
	Defs   map[string]ItemDef
	Digest string
}

type ItemDef struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"` // "WEAPON","TOOL","BLOCK","MATERIAL"
	Material    string `json:"material,omitempty"`
	WeaponClass string `json:"weapon_class,omitempty"` // "SWORD","AXE"
}

// Material quality ordering for weapon ranking, best first.
var materialRank = map[string]int{
	"NETHERITE": 6,
	"DIAMOND":   5,
	"IRON":      4,
	"STONE":     3,
	"GOLD":      2,
	"WOOD":      1,
}

// Weapon class ordering breaks material ties (swords over axes).
var classRank = map[string]int{
	"SWORD": 2,
	"AXE":   1,
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadEntities(filepath.Join(configDir, "entities.json"), &c.Entities); err != nil {
		return nil, err
	}
	if err := loadItems(filepath.Join(configDir, "items.json"), &c.Items); err != nil {
		return nil, err
	}
	return &c, nil
}

func loadEntities(path string, out *EntityCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("entities: %w", err)
	}
	var list []EntityDef
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("entities: %w", err)
	}
	out.Defs = make(map[string]EntityDef, len(list))
	for _, d := range list {
		out.Defs[d.ID] = d
	}
	out.Digest = digest(list)
	return nil
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("items: %w", err)
	}
	var list []ItemDef
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("items: %w", err)
	}
	out.Defs = make(map[string]ItemDef, len(list))
	for _, d := range list {
		out.Defs[d.ID] = d
	}
	out.Digest = digest(list)
	return nil
}

func digest(v any) string {
	b, _ := json.Marshal(v)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// Hostile reports whether the entity kind is classified hostile.
func (c *Catalogs) Hostile(kind string) bool {
	d, ok := c.Entities.Defs[normalize(kind)]
	return ok && d.Hostile
}

// WeaponRank scores an item for combat equip; zero means "not a weapon".
// Higher is better: material quality first, weapon class as tiebreak.
func (c *Catalogs) WeaponRank(itemID string) int {
	d, ok := c.Items.Defs[normalize(itemID)]
	if !ok || d.Kind != "WEAPON" {
		return 0
	}
	return materialRank[d.Material]*10 + classRank[d.WeaponClass]
}

// BestWeapon picks the highest-ranked weapon out of inventory, with a
// deterministic tiebreak on the item id. Returns "" if none qualifies.
func (c *Catalogs) BestWeapon(inventory []string) string {
	best := ""
	bestRank := 0
	sorted := append([]string(nil), inventory...)
	sort.Strings(sorted)
	for _, id := range sorted {
		if r := c.WeaponRank(id); r > bestRank {
			best = normalize(id)
			bestRank = r
		}
	}
	return best
}

// ResolveName translates a human-readable name into an internal identifier.
// kind selects the namespace ("entity" or "item"). Matching is
// case-insensitive with spaces collapsed to underscores.
func (c *Catalogs) ResolveName(kind, name string) (string, bool) {
	id := normalize(name)
	switch kind {
	case "entity":
		_, ok := c.Entities.Defs[id]
		return id, ok
	case "item":
		_, ok := c.Items.Defs[id]
		return id, ok
	}
	return "", false
}

func normalize(name string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}
