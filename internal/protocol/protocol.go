package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeCommand = "COMMAND"
	TypeResult  = "RESULT"
	TypeNotify  = "NOTIFY"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// CommandMsg is one inbound chat line addressed to the fleet. Text carries
// the full marker-prefixed command, e.g. "!guard alpha PlayerA".
type CommandMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Ref             string `json:"ref,omitempty"`
	SenderID        string `json:"sender_id"`
	Trust           int    `json:"trust"`
	Text            string `json:"text"`
}

// ResultMsg is the synchronous router response to one CommandMsg.
type ResultMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Ref             string   `json:"ref,omitempty"`
	OK              bool     `json:"ok"`
	Code            string   `json:"code,omitempty"`
	Lines           []string `json:"lines,omitempty"`
}

// NotifyMsg is an unsolicited status line from one agent (notification sink).
type NotifyMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AgentID         string `json:"agent_id"`
	Message         string `json:"message"`
}
