package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	CommandMarker string `yaml:"command_marker"`

	TickMs       int    `yaml:"tick_ms"`
	SaveEverySec int    `yaml:"save_every_sec"`
	DataDir      string `yaml:"data_dir"`
	GatewayAddr  string `yaml:"gateway_addr"`

	Scan   ScanTuning   `yaml:"scan"`
	Nav    NavTuning    `yaml:"nav"`
	Combat CombatTuning `yaml:"combat"`

	// Minimum trust level per verb; verbs absent from the map default to
	// TrustDefault.
	VerbTrust    map[string]int `yaml:"verb_trust"`
	TrustDefault int            `yaml:"trust_default"`
}

type ScanTuning struct {
	EveryTicks     int `yaml:"every_ticks"`
	Radius         int `yaml:"radius"`
	ThreatWindowMs int `yaml:"threat_window_ms"`
}

type NavTuning struct {
	StuckEpsilon     int     `yaml:"stuck_epsilon"`
	StuckSamples     int     `yaml:"stuck_samples"`
	MaxRetries       int     `yaml:"max_retries"`
	AttemptTimeoutMs int     `yaml:"attempt_timeout_ms"`
	DefaultTolerance float64 `yaml:"default_tolerance"`
	DeadlineMs       int     `yaml:"deadline_ms"`
	FollowDistance   float64 `yaml:"follow_distance"`
}

type CombatTuning struct {
	MeleeRange        float64 `yaml:"melee_range"`
	StrikeEveryTicks  int     `yaml:"strike_every_ticks"`
	EngageTimeoutMs   int     `yaml:"engage_timeout_ms"`
	RetreatHPFraction float64 `yaml:"retreat_hp_fraction"`
	RetreatDistance   int     `yaml:"retreat_distance"`
	GuardRadius       float64 `yaml:"guard_radius"`
	PatrolDwellTicks  int     `yaml:"patrol_dwell_ticks"`
	PatrolPointRadius float64 `yaml:"patrol_point_radius"`
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.applyDefaults()
	return t, nil
}

// Default returns a Tuning usable without a config file (tests, local mode).
func Default() Tuning {
	var t Tuning
	t.applyDefaults()
	return t
}

func (t *Tuning) applyDefaults() {
	if t.CommandMarker == "" {
		t.CommandMarker = "!"
	}
	if t.TickMs <= 0 {
		t.TickMs = 200
	}
	if t.SaveEverySec <= 0 {
		t.SaveEverySec = 60
	}
	if t.GatewayAddr == "" {
		t.GatewayAddr = ":8090"
	}
	if t.Scan.EveryTicks <= 0 {
		t.Scan.EveryTicks = 5
	}
	if t.Scan.Radius <= 0 {
		t.Scan.Radius = 16
	}
	if t.Scan.ThreatWindowMs <= 0 {
		t.Scan.ThreatWindowMs = 30000
	}
	if t.Nav.StuckEpsilon <= 0 {
		t.Nav.StuckEpsilon = 1
	}
	if t.Nav.StuckSamples <= 0 {
		t.Nav.StuckSamples = 5
	}
	if t.Nav.MaxRetries <= 0 {
		t.Nav.MaxRetries = 3
	}
	if t.Nav.AttemptTimeoutMs <= 0 {
		t.Nav.AttemptTimeoutMs = 15000
	}
	if t.Nav.DefaultTolerance <= 0 {
		t.Nav.DefaultTolerance = 1.0
	}
	if t.Nav.DeadlineMs <= 0 {
		t.Nav.DeadlineMs = 60000
	}
	if t.Nav.FollowDistance <= 0 {
		t.Nav.FollowDistance = 2.0
	}
	if t.Combat.MeleeRange <= 0 {
		t.Combat.MeleeRange = 3.0
	}
	if t.Combat.StrikeEveryTicks <= 0 {
		t.Combat.StrikeEveryTicks = 3
	}
	if t.Combat.EngageTimeoutMs <= 0 {
		t.Combat.EngageTimeoutMs = 45000
	}
	if t.Combat.RetreatHPFraction <= 0 {
		t.Combat.RetreatHPFraction = 0.3
	}
	if t.Combat.RetreatDistance <= 0 {
		t.Combat.RetreatDistance = 16
	}
	if t.Combat.GuardRadius <= 0 {
		t.Combat.GuardRadius = 8.0
	}
	if t.Combat.PatrolDwellTicks <= 0 {
		t.Combat.PatrolDwellTicks = 10
	}
	if t.Combat.PatrolPointRadius <= 0 {
		t.Combat.PatrolPointRadius = 1.5
	}
	if t.TrustDefault <= 0 {
		t.TrustDefault = 1
	}
}

// TickInterval is the scheduler tick period.
func (t Tuning) TickInterval() time.Duration {
	return time.Duration(t.TickMs) * time.Millisecond
}

// ThreatWindow is the sliding recency window for threat records.
func (t Tuning) ThreatWindow() time.Duration {
	return time.Duration(t.Scan.ThreatWindowMs) * time.Millisecond
}
