package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"voxelfleet.ai/internal/protocol"
)

// fleetctl sends one command line to the gateway and prints the RESULT.
// With -watch it stays connected and prints NOTIFY lines as they arrive.
func main() {
	var (
		url    = flag.String("url", "ws://localhost:8090/v1/ws", "gateway ws url")
		sender = flag.String("sender", "operator", "sender id")
		trust  = flag.Int("trust", 2, "sender trust level")
		watch  = flag.Bool("watch", false, "keep listening for notifications after the result")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[fleetctl] ", 0)
	if flag.NArg() == 0 && !*watch {
		logger.Fatalf("usage: fleetctl [flags] <command...>   e.g. fleetctl goto alpha 10 0 0")
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ref := strconv.FormatInt(time.Now().UnixNano(), 36)
	if flag.NArg() > 0 {
		text := strings.Join(flag.Args(), " ")
		if !strings.HasPrefix(text, "!") {
			text = "!" + text
		}
		cmd := protocol.CommandMsg{
			Type:            protocol.TypeCommand,
			ProtocolVersion: protocol.Version,
			Ref:             ref,
			SenderID:        *sender,
			Trust:           *trust,
			Text:            text,
		}
		if err := conn.WriteJSON(cmd); err != nil {
			logger.Fatalf("send: %v", err)
		}
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Fatalf("read: %v", err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeResult:
			var res protocol.ResultMsg
			if err := json.Unmarshal(msg, &res); err != nil || res.Ref != ref {
				continue
			}
			for _, line := range res.Lines {
				fmt.Println(line)
			}
			if !res.OK {
				logger.Printf("error: %s", res.Code)
				if !*watch {
					os.Exit(1)
				}
			}
			if !*watch {
				return
			}
		case protocol.TypeNotify:
			var note protocol.NotifyMsg
			if err := json.Unmarshal(msg, &note); err != nil {
				continue
			}
			fmt.Printf("[%s] %s\n", note.AgentID, note.Message)
		}
	}
}
