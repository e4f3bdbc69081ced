// Package fleet is the explicit context object tying the engine together:
// agent registry, shared store, catalogs, tuning, audit sinks, and the
// command router. Everything is constructed here and torn down by Close;
// there is no module-level state.
package fleet

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"voxelfleet.ai/internal/agent"
	"voxelfleet.ai/internal/catalogs"
	"voxelfleet.ai/internal/persistence/indexdb"
	plog "voxelfleet.ai/internal/persistence/log"
	"voxelfleet.ai/internal/store"
	"voxelfleet.ai/internal/tuning"
)

// Notifier delivers one outbound status line. No acknowledgment.
type Notifier func(agentID, message string)

type Options struct {
	Store    *store.Store
	Catalogs *catalogs.Catalogs
	Tuning   tuning.Tuning

	// Audit and Index are optional; the fleet owns their lifecycle once
	// handed over.
	Audit *plog.AuditLogger
	Index *indexdb.SQLiteIndex

	Log *log.Logger
}

type member struct {
	m      *agent.Machine
	cancel context.CancelFunc
}

type Fleet struct {
	Store    *store.Store
	Catalogs *catalogs.Catalogs
	Tuning   tuning.Tuning

	audit  *plog.AuditLogger
	index  *indexdb.SQLiteIndex
	logger *log.Logger

	mu       sync.RWMutex
	agents   map[string]member
	notifier Notifier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) *Fleet {
	if opts.Store == nil {
		opts.Store = store.New(store.WithThreatWindow(opts.Tuning.ThreatWindow()))
	}
	if opts.Log == nil {
		opts.Log = log.New(os.Stdout, "[fleet] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &Fleet{
		Store:    opts.Store,
		Catalogs: opts.Catalogs,
		Tuning:   opts.Tuning,
		audit:    opts.Audit,
		index:    opts.Index,
		logger:   opts.Log,
		agents:   map[string]member{},
		ctx:      ctx,
		cancel:   cancel,
	}

	if f.index != nil {
		f.Store.SetTaskIndex(taskMirror{f.index})
	}

	// Store persistence is best-effort: a broken snapshot dir degrades to
	// memory-only operation, never aborts startup.
	if dir := f.Tuning.DataDir; dir != "" {
		if err := f.Store.LoadSnapshot(dir); err != nil {
			f.logger.Printf("snapshot load: %v (continuing without)", err)
		}
		f.wg.Add(1)
		go f.saveLoop()
	}
	return f
}

// AddAgent registers the machine and starts its scheduler goroutine.
func (f *Fleet) AddAgent(m *agent.Machine) {
	ctx, cancel := context.WithCancel(f.ctx)
	f.mu.Lock()
	if prev, ok := f.agents[m.ID()]; ok {
		prev.cancel()
	}
	f.agents[m.ID()] = member{m: m, cancel: cancel}
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		m.Run(ctx, f.Tuning.TickInterval())
	}()
}

// RemoveAgent stops the agent's scheduler and drops it from the registry.
func (f *Fleet) RemoveAgent(id string) {
	f.mu.Lock()
	mem, ok := f.agents[id]
	if ok {
		delete(f.agents, id)
	}
	f.mu.Unlock()
	if ok {
		mem.cancel()
	}
}

func (f *Fleet) Agent(id string) (*agent.Machine, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	mem, ok := f.agents[id]
	return mem.m, ok
}

// AgentIDs returns registered agent ids, sorted.
func (f *Fleet) AgentIDs() []string {
	f.mu.RLock()
	out := make([]string, 0, len(f.agents))
	for id := range f.agents {
		out = append(out, id)
	}
	f.mu.RUnlock()
	sort.Strings(out)
	return out
}

// SetNotifier installs the outbound delivery sink (the ws gateway).
func (f *Fleet) SetNotifier(n Notifier) {
	f.mu.Lock()
	f.notifier = n
	f.mu.Unlock()
}

// Deliver pushes one status line out through the installed notifier.
func (f *Fleet) Deliver(agentID, message string) {
	f.mu.RLock()
	n := f.notifier
	f.mu.RUnlock()
	if n != nil {
		n(agentID, message)
	}
}

// NotifyFunc binds Deliver to one agent, for agent.Deps.
func (f *Fleet) NotifyFunc(agentID string) func(string) {
	return func(msg string) { f.Deliver(agentID, msg) }
}

// TransitionHook records state changes in the audit log, for agent.Deps.
func (f *Fleet) TransitionHook() func(agentID string, from, to agent.State, verb string) {
	return func(agentID string, from, to agent.State, verb string) {
		if f.audit == nil {
			return
		}
		_ = f.audit.WriteTransition(plog.TransitionEntry{
			AtUnixMs: time.Now().UnixMilli(),
			AgentID:  agentID,
			From:     from.String(),
			To:       to.String(),
			Reason:   verb,
		})
	}
}

func (f *Fleet) saveLoop() {
	defer f.wg.Done()
	every := time.Duration(f.Tuning.SaveEverySec) * time.Second
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-t.C:
			if err := f.Store.SaveSnapshot(f.Tuning.DataDir); err != nil {
				f.logger.Printf("snapshot save: %v", err)
			}
		}
	}
}

// Close stops every scheduler, flushes a final snapshot, and closes the
// audit sinks.
func (f *Fleet) Close() error {
	f.cancel()
	f.wg.Wait()

	var firstErr error
	if dir := f.Tuning.DataDir; dir != "" {
		if err := f.Store.SaveSnapshot(dir); err != nil {
			f.logger.Printf("final snapshot save: %v", err)
			firstErr = err
		}
	}
	if f.audit != nil {
		if err := f.audit.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if f.index != nil {
		f.index.Flush()
		if err := f.index.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// taskMirror adapts the sqlite index to the store's mirror interface.
type taskMirror struct{ idx *indexdb.SQLiteIndex }

func (t taskMirror) RecordTask(rec store.TaskRecord) {
	t.idx.UpsertTask(indexdb.TaskRow{
		TaskID:     rec.ID,
		Kind:       rec.Kind,
		Status:     rec.Status,
		AssignedTo: rec.AssignedTo,
		Payload:    rec.Payload,
		CreatedMs:  rec.CreatedAt.UnixMilli(),
		UpdatedMs:  rec.UpdatedAt.UnixMilli(),
	})
}
