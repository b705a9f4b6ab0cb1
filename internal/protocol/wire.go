// Package protocol implements the Minecraft Bedrock WebSocket wire
// format: outgoing command frames, event subscription, and incoming
// event parsing.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// commandVersion is the protocol version Bedrock expects on command
// request bodies.
const commandVersion = 17039360

// DefaultScriptEventID is the scriptevent channel addon scripts listen
// on unless configured otherwise.
const DefaultScriptEventID = "server:data"

// ConnectResult is the acknowledgement sent right after the client
// connects.
const ConnectResult = `{"Result":"true"}`

// Header is the MCBE WebSocket message header.
type Header struct {
	RequestID      string `json:"requestId"`
	MessagePurpose string `json:"messagePurpose"`
	Version        int    `json:"version"`
	EventName      string `json:"EventName,omitempty"`
}

// Origin tags who issued a command.
type Origin struct {
	Type string `json:"type"`
}

// CommandBody is the payload of a commandRequest frame.
type CommandBody struct {
	Origin      Origin `json:"origin"`
	CommandLine string `json:"commandLine"`
	Version     int    `json:"version"`
}

// CommandFrame is a full commandRequest message.
type CommandFrame struct {
	Header Header      `json:"header"`
	Body   CommandBody `json:"body"`
}

// SubscribeBody names the event being subscribed to.
type SubscribeBody struct {
	EventName string `json:"eventName"`
}

// SubscribeFrame is a full subscribe message.
type SubscribeFrame struct {
	Header Header        `json:"header"`
	Body   SubscribeBody `json:"body"`
}

func newCommandHeader() Header {
	return Header{
		RequestID:      uuid.NewString(),
		MessagePurpose: "commandRequest",
		Version:        1,
	}
}

// NewSubscribePlayerMessages builds the subscription for PlayerMessage
// events.
func NewSubscribePlayerMessages() SubscribeFrame {
	return SubscribeFrame{
		Header: Header{
			RequestID:      uuid.NewString(),
			MessagePurpose: "subscribe",
			Version:        1,
			EventName:      "commandRequest",
		},
		Body: SubscribeBody{EventName: "PlayerMessage"},
	}
}

// EscapeTellraw neutralizes characters that break the rawtext JSON or
// trip Bedrock's command parser.
func EscapeTellraw(message string) string {
	r := strings.NewReplacer(`"`, `\"`, ":", "：", "%", `\%`)
	return r.Replace(message)
}

// NewTellraw builds a colored broadcast via /tellraw.
func NewTellraw(message, color string) CommandFrame {
	commandLine := `tellraw @a {"rawtext":[{"text":"` + color + EscapeTellraw(message) + `"}]}`
	return CommandFrame{
		Header: newCommandHeader(),
		Body: CommandBody{
			Origin:      Origin{Type: "say"},
			CommandLine: commandLine,
			Version:     commandVersion,
		},
	}
}

// NewScriptEvent builds a scriptevent command for addon scripts.
func NewScriptEvent(content, messageID string) CommandFrame {
	if messageID == "" {
		messageID = DefaultScriptEventID
	}
	return CommandFrame{
		Header: newCommandHeader(),
		Body: CommandBody{
			Origin:      Origin{Type: "player"},
			CommandLine: "scriptevent " + messageID + " " + content,
			Version:     commandVersion,
		},
	}
}

// NewRawCommand wraps an arbitrary command line.
func NewRawCommand(command string) CommandFrame {
	return CommandFrame{
		Header: newCommandHeader(),
		Body: CommandBody{
			Origin:      Origin{Type: "player"},
			CommandLine: command,
			Version:     commandVersion,
		},
	}
}

// Encode marshals a frame for the socket.
func (f CommandFrame) Encode() []byte {
	data, _ := json.Marshal(f)
	return data
}

func (f SubscribeFrame) Encode() []byte {
	data, _ := json.Marshal(f)
	return data
}
