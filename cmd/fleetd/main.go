package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"voxelfleet.ai/internal/agent"
	"voxelfleet.ai/internal/catalogs"
	"voxelfleet.ai/internal/combat"
	"voxelfleet.ai/internal/fleet"
	"voxelfleet.ai/internal/geom"
	"voxelfleet.ai/internal/nav"
	"voxelfleet.ai/internal/persistence/indexdb"
	persistlog "voxelfleet.ai/internal/persistence/log"
	"voxelfleet.ai/internal/protocol"
	"voxelfleet.ai/internal/simworld"
	"voxelfleet.ai/internal/store"
	"voxelfleet.ai/internal/transport/ws"
	"voxelfleet.ai/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", "", "gateway listen address (default: tuning gateway_addr)")
		configDir  = flag.String("configs", "./configs", "config directory")
		schemaDir  = flag.String("schemas", "./schemas", "wire schema directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		agentList  = flag.String("agents", "alpha,beta", "comma-separated agent ids to spawn")
		worldR     = flag.Int("world_radius", 256, "world boundary radius (local mode)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite task/command index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[fleetd] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tun, err := tuning.Load(tp)
	if err != nil {
		logger.Printf("tuning: %v (using defaults)", err)
		tun = tuning.Default()
	}
	if tun.DataDir == "" {
		tun.DataDir = *dataDir
	}
	listen := strings.TrimSpace(*addr)
	if listen == "" {
		listen = tun.GatewayAddr
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	schemas, err := protocol.CompileSchemas(*schemaDir)
	if err != nil {
		logger.Fatalf("compile schemas: %v", err)
	}

	// The index is best-effort: without it the fleet runs memory-only.
	var index *indexdb.SQLiteIndex
	if !*disableDB {
		index, err = indexdb.Open(filepath.Join(tun.DataDir, "index.db"))
		if err != nil {
			logger.Printf("index: %v (continuing without)", err)
			index = nil
		}
	}

	st := store.New(store.WithThreatWindow(tun.ThreatWindow()))
	f := fleet.New(fleet.Options{
		Store:    st,
		Catalogs: cats,
		Tuning:   tun,
		Audit:    persistlog.NewAuditLogger(tun.DataDir),
		Index:    index,
		Log:      logger,
	})

	world := simworld.New(*worldR)
	scanner := combat.NewScanner(combatEnv{world}, cats, st)

	ids := strings.Split(*agentList, ",")
	for i, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if err := spawnAgent(f, world, scanner, cats, tun, id, geom.Vec3{X: i * 4}); err != nil {
			logger.Fatalf("spawn %s: %v", id, err)
		}
		logger.Printf("agent %s up", id)
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	// Local-mode world clock.
	go func() {
		t := time.NewTicker(tun.TickInterval())
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				world.Step()
			}
		}
	}()

	gateway := ws.NewServer(f, fleet.NewRouter(f), schemas, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", gateway.Handler())

	httpSrv := &http.Server{Addr: listen, Handler: mux}
	go func() {
		logger.Printf("gateway listening on %s", listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("gateway: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutCtx)
	if err := f.Close(); err != nil {
		logger.Printf("close: %v", err)
	}
}

// spawnAgent places one agent in the world and wires its machine: nav
// controller over the world's pathfinder, engagement over the nav chaser,
// and the shared scanner.
func spawnAgent(f *fleet.Fleet, world *simworld.World, scanner *combat.Scanner, cats *catalogs.Catalogs, tun tuning.Tuning, id string, pos geom.Vec3) error {
	if err := world.Spawn(simworld.Entity{
		ID:        id,
		Kind:      "AGENT",
		Pos:       pos,
		Inventory: []string{"IRON_SWORD"},
	}); err != nil {
		return err
	}

	env := worldEnv{w: world, id: id}
	ctrl := nav.NewController(id, world, env, nav.Config{
		StuckEpsilon:   tun.Nav.StuckEpsilon,
		StuckSamples:   tun.Nav.StuckSamples,
		AttemptTimeout: time.Duration(tun.Nav.AttemptTimeoutMs) * time.Millisecond,
		Retry:          nav.RetryPolicy{MaxAttempts: tun.Nav.MaxRetries},
	})
	eng := combat.NewEngagement(id, combatEnv{world}, cats, ctrl, combat.Config{
		MeleeRange:        tun.Combat.MeleeRange,
		StrikeEveryTicks:  tun.Combat.StrikeEveryTicks,
		EngageTimeout:     time.Duration(tun.Combat.EngageTimeoutMs) * time.Millisecond,
		RetreatHPFraction: tun.Combat.RetreatHPFraction,
	})

	m := agent.NewMachine(id, "guard", agent.Deps{
		Nav:          ctrl,
		Combat:       eng,
		Scanner:      scanner,
		Env:          env,
		Notify:       f.NotifyFunc(id),
		OnTransition: f.TransitionHook(),
	}, agent.Config{
		ScanEveryTicks:    tun.Scan.EveryTicks,
		ScanRadius:        float64(tun.Scan.Radius),
		GuardRadius:       tun.Combat.GuardRadius,
		PatrolDwellTicks:  tun.Combat.PatrolDwellTicks,
		PatrolPointRadius: tun.Combat.PatrolPointRadius,
		DefaultTolerance:  tun.Nav.DefaultTolerance,
		NavDeadline:       time.Duration(tun.Nav.DeadlineMs) * time.Millisecond,
		FollowDistance:    tun.Nav.FollowDistance,
		RetreatDistance:   tun.Combat.RetreatDistance,
	})
	f.AddAgent(m)
	return nil
}

// worldEnv adapts the sim world to the nav and agent env interfaces for one
// agent.
type worldEnv struct {
	w  *simworld.World
	id string
}

func (e worldEnv) AgentPos() (geom.Vec3, bool)           { return e.w.EntityPos(e.id) }
func (e worldEnv) EntityPos(id string) (geom.Vec3, bool) { return e.w.EntityPos(id) }
func (e worldEnv) Health(id string) (int, int, bool)     { return e.w.Health(id) }

// combatEnv adapts the sim world's entity view to the combat env.
type combatEnv struct{ w *simworld.World }

func (e combatEnv) EntityPos(id string) (geom.Vec3, bool) { return e.w.EntityPos(id) }

func (e combatEnv) EntitiesNear(center geom.Vec3, radius float64) []combat.Entity {
	src := e.w.EntitiesNear(center, radius)
	out := make([]combat.Entity, 0, len(src))
	for _, s := range src {
		out = append(out, combat.Entity{ID: s.ID, Kind: s.Kind, Pos: s.Pos})
	}
	return out
}

func (e combatEnv) Health(id string) (hp, max int, ok bool) { return e.w.Health(id) }
func (e combatEnv) Inventory(id string) []string            { return e.w.Inventory(id) }
func (e combatEnv) Equipped(id string) string               { return e.w.Equipped(id) }
func (e combatEnv) Equip(id, itemID string) error           { return e.w.Equip(id, itemID) }
func (e combatEnv) Strike(attackerID, targetID string) error {
	return e.w.Strike(attackerID, targetID)
}
