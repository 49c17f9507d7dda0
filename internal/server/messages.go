package server

import (
	"encoding/json"

	"firestige.xyz/sniff/internal/session"
)

// Message types exchanged over the websocket.
const (
	// client -> server
	TypeStart        = "start"
	TypeStop         = "stop"
	TypeFilter       = "filter"
	TypeSelectFile   = "select_file"
	TypeSelectDevice = "select_device"
	TypeSave         = "save"
	TypeStats        = "stats"
	TypeInterfaces   = "interfaces"

	// server -> client
	TypePacket      = "packet"
	TypeError       = "error"
	TypeSelected    = "selected"
	TypeCommandSent = "command_sent"
	TypeFilterOK    = "filter_set"
	TypeSaved       = "saved"
)

// Message is the envelope for all websocket traffic.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SelectRequest names the file or device for select_file / select_device.
type SelectRequest struct {
	Path   string `json:"path,omitempty"`
	Device string `json:"device,omitempty"`
}

// FilterRequest carries a filter expression such as "tcp port|443".
type FilterRequest struct {
	Expression string `json:"expression"`
}

// SaveRequest asks the current session to copy its capture file to Path, relative to
// the server's save directory. The saved reply carries the resolved path.
type SaveRequest struct {
	Path string `json:"path"`
}

// CommandPayload acknowledges a start or stop command. Commands are queued, so it says
// nothing about the resulting state; stats reports that.
type CommandPayload struct {
	Command string `json:"command"`
	Session string `json:"session"`
}

// FilterPayload echoes the canonical expression installed for the client.
type FilterPayload struct {
	Expression string `json:"expression"`
}

// SessionPayload describes the selected session.
type SessionPayload struct {
	ID     string        `json:"id"`
	Label  string        `json:"label"`
	State  session.State `json:"state"`
	Stats  session.Stats `json:"stats"`
	Stream int           `json:"stream_clients"`
}

// ErrorPayload describes an error sent to the client.
type ErrorPayload struct {
	Message string `json:"message"`
	Token   string `json:"token,omitempty"`
}

func newMessage(typ string, payload interface{}) Message {
	msg := Message{Type: typ}
	if payload != nil {
		msg.Payload, _ = json.Marshal(payload)
	}
	return msg
}
