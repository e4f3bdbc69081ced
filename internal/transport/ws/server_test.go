package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelfleet.ai/internal/agent"
	"voxelfleet.ai/internal/combat"
	"voxelfleet.ai/internal/fleet"
	"voxelfleet.ai/internal/geom"
	"voxelfleet.ai/internal/nav"
	"voxelfleet.ai/internal/protocol"
	"voxelfleet.ai/internal/store"
	"voxelfleet.ai/internal/tuning"
)

type nopNav struct{}

func (nopNav) Start(nav.Goal)                     {}
func (nopNav) Follow(string, float64, time.Time)  {}
func (nopNav) Cancel()                            {}
func (nopNav) Tick() (nav.Status, nav.FailReason) { return nav.StatusActive, nav.FailNone }
func (nopNav) Active() bool                       { return false }

type nopEng struct{}

func (nopEng) Engage(string)        {}
func (nopEng) Disengage()           {}
func (nopEng) Engaged() bool        { return false }
func (nopEng) TargetID() string     { return "" }
func (nopEng) Tick() combat.Outcome { return combat.OutcomeNone }

type nopScan struct{}

func (nopScan) Scan(geom.Vec3, float64, func(string) bool) []store.ThreatRecord { return nil }

type nopEnv struct{}

func (nopEnv) AgentPos() (geom.Vec3, bool)        { return geom.Vec3{}, true }
func (nopEnv) EntityPos(string) (geom.Vec3, bool) { return geom.Vec3{}, false }
func (nopEnv) Health(string) (int, int, bool)     { return 20, 20, true }

func dialTestGateway(t *testing.T) (*fleet.Fleet, *websocket.Conn) {
	t.Helper()
	tun := tuning.Default()
	tun.VerbTrust = map[string]int{"goto": 2, "status": 0}
	f := fleet.New(fleet.Options{Tuning: tun})
	t.Cleanup(func() { _ = f.Close() })
	f.AddAgent(agent.NewMachine("alpha", "guard", agent.Deps{
		Nav: nopNav{}, Combat: nopEng{}, Scanner: nopScan{}, Env: nopEnv{},
	}, agent.Config{}))

	srv := NewServer(f, fleet.NewRouter(f), nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return f, conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	b, _ := json.Marshal(v)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readMsg(t *testing.T, conn *websocket.Conn, out any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestGatewayCommandRoundTrip(t *testing.T) {
	_, conn := dialTestGateway(t)
	send(t, conn, protocol.CommandMsg{
		Type:            protocol.TypeCommand,
		ProtocolVersion: protocol.Version,
		Ref:             "r1",
		SenderID:        "steve",
		Trust:           1,
		Text:            "!status alpha",
	})
	var res protocol.ResultMsg
	readMsg(t, conn, &res)
	if res.Type != protocol.TypeResult || res.Ref != "r1" || !res.OK {
		t.Fatalf("result: %+v", res)
	}
	if len(res.Lines) == 0 || !strings.Contains(res.Lines[0], "alpha") {
		t.Fatalf("lines: %v", res.Lines)
	}
}

func TestGatewayUnauthorizedResult(t *testing.T) {
	_, conn := dialTestGateway(t)
	send(t, conn, protocol.CommandMsg{
		Type:            protocol.TypeCommand,
		ProtocolVersion: protocol.Version,
		Ref:             "r2",
		SenderID:        "rando",
		Trust:           0,
		Text:            "!goto alpha 5 0 0",
	})
	var res protocol.ResultMsg
	readMsg(t, conn, &res)
	if res.OK || res.Code != protocol.ErrUnauthorized {
		t.Fatalf("result: %+v", res)
	}
}

func TestGatewayRejectsBadVersion(t *testing.T) {
	_, conn := dialTestGateway(t)
	send(t, conn, protocol.CommandMsg{
		Type:            protocol.TypeCommand,
		ProtocolVersion: "9.9",
		Ref:             "r3",
		SenderID:        "steve",
		Trust:           1,
		Text:            "!status alpha",
	})
	var res protocol.ResultMsg
	readMsg(t, conn, &res)
	if res.OK || res.Code != protocol.ErrBadRequest {
		t.Fatalf("result: %+v", res)
	}
}

func TestGatewayPushesNotifications(t *testing.T) {
	f, conn := dialTestGateway(t)

	// One round trip first, so the connection is registered for pushes.
	send(t, conn, protocol.CommandMsg{
		Type:            protocol.TypeCommand,
		ProtocolVersion: protocol.Version,
		SenderID:        "steve",
		Trust:           1,
		Text:            "!status alpha",
	})
	var res protocol.ResultMsg
	readMsg(t, conn, &res)

	f.Deliver("alpha", "arrived")

	var note protocol.NotifyMsg
	readMsg(t, conn, &note)
	if note.Type != protocol.TypeNotify || note.AgentID != "alpha" || note.Message != "arrived" {
		t.Fatalf("notify: %+v", note)
	}
}
