package fleet

import (
	"fmt"
	"strings"
	"time"

	"voxelfleet.ai/internal/persistence/indexdb"
	plog "voxelfleet.ai/internal/persistence/log"
	"voxelfleet.ai/internal/protocol"
)

// Router resolves inbound text commands to a target agent (or broadcast),
// authorizes them against the per-verb trust table, and delegates to the
// state machines. It holds no state across calls.
type Router struct {
	fleet *Fleet
}

func NewRouter(f *Fleet) *Router {
	return &Router{fleet: f}
}

// Handle processes one raw command line. Returned lines go back to the
// sender; errors carry stable codes and leave agent state untouched.
func (r *Router) Handle(raw, senderID string, trust int) ([]string, error) {
	marker := r.fleet.Tuning.CommandMarker
	if marker == "" {
		marker = "!"
	}
	if !strings.HasPrefix(raw, marker) {
		return nil, protocol.NewError(protocol.ErrBadRequest, "missing command marker")
	}
	fields := strings.Fields(strings.TrimPrefix(raw, marker))
	if len(fields) == 0 {
		return nil, protocol.NewError(protocol.ErrBadRequest, "empty command")
	}
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	// args[0] naming a live agent targets that agent; otherwise the command
	// goes to the system handler or to every agent.
	target := ""
	if len(args) > 0 {
		if _, ok := r.fleet.Agent(args[0]); ok {
			target = args[0]
			args = args[1:]
		}
	}

	if trust < r.minTrust(verb) {
		r.recordCommand(senderID, trust, verb, target, args, false, protocol.ErrUnauthorized)
		return nil, protocol.NewError(protocol.ErrUnauthorized,
			fmt.Sprintf("%s requires trust %d", verb, r.minTrust(verb)))
	}

	lines, err := r.dispatch(verb, target, args, senderID)
	code := ""
	if err != nil {
		code = protocol.CodeOf(err)
	}
	r.recordCommand(senderID, trust, verb, target, args, err == nil, code)
	return lines, err
}

func (r *Router) minTrust(verb string) int {
	if lvl, ok := r.fleet.Tuning.VerbTrust[verb]; ok {
		return lvl
	}
	return r.fleet.Tuning.TrustDefault
}

func (r *Router) dispatch(verb, target string, args []string, senderID string) ([]string, error) {
	if target != "" {
		m, ok := r.fleet.Agent(target)
		if !ok {
			return nil, protocol.NewError(protocol.ErrTargetNotFound, "no agent "+target)
		}
		return m.Transition(verb, args, senderID)
	}

	switch verb {
	case "list":
		return r.listAgents(), nil
	case "help":
		return helpLines, nil
	}

	// Broadcast. The router never inspects behavior internals; per-agent
	// errors become response lines so one refusal does not mask the rest.
	ids := r.fleet.AgentIDs()
	if len(ids) == 0 {
		return nil, protocol.NewError(protocol.ErrTargetNotFound, "no agents connected")
	}
	var lines []string
	for _, id := range ids {
		m, ok := r.fleet.Agent(id)
		if !ok {
			continue
		}
		out, err := m.Transition(verb, args, senderID)
		if err != nil {
			lines = append(lines, id+": "+protocol.CodeOf(err))
			continue
		}
		lines = append(lines, out...)
	}
	return lines, nil
}

func (r *Router) listAgents() []string {
	ids := r.fleet.AgentIDs()
	if len(ids) == 0 {
		return []string{"no agents connected"}
	}
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		m, _ := r.fleet.Agent(id)
		if m == nil {
			continue
		}
		line := fmt.Sprintf("%s (%s) %s", id, m.Kind(), m.State())
		if task := m.CurrentTask(); task != nil {
			line += " " + task.Verb + " " + task.Detail
		}
		lines = append(lines, line)
	}
	return lines
}

var helpLines = []string{
	"goto <agent?> <x y z>      move to a position",
	"come <agent?>              move to the sender",
	"follow <agent?> <entity>   keep pace with an entity",
	"guard <agent?> <entity|x y z>",
	"patrol <agent?> <x y z> [x y z ...]",
	"attack <agent?> <entity>",
	"stop [agent]               force idle",
	"status [agent]             report state",
	"whitelist <agent> add|remove|list [entity]",
	"list                       connected agents",
}

func (r *Router) recordCommand(senderID string, trust int, verb, target string, args []string, ok bool, code string) {
	now := time.Now().UnixMilli()
	if r.fleet.audit != nil {
		_ = r.fleet.audit.WriteCommand(plog.CommandEntry{
			AtUnixMs: now,
			SenderID: senderID,
			Trust:    trust,
			Verb:     verb,
			Target:   target,
			Args:     args,
			OK:       ok,
			Code:     code,
		})
	}
	if r.fleet.index != nil {
		r.fleet.index.WriteCommand(indexdb.CommandRow{
			AtMs:     now,
			SenderID: senderID,
			Trust:    trust,
			Verb:     verb,
			Target:   target,
			OK:       ok,
			Code:     code,
		})
	}
}
