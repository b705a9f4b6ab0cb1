package protocol

import (
	"encoding/json"
	"fmt"
)

// ExternalSender marks messages echoed back by the server itself;
// those are duplicates of what we just sent.
const ExternalSender = "外部"

// PlayerMessage is a chat message event from the game.
type PlayerMessage struct {
	Sender   string `json:"sender"`
	Message  string `json:"message"`
	Type     string `json:"type"`
	Receiver string `json:"receiver"`
}

// CommandResponse is the game's reply to a commandRequest, correlated
// by request id.
type CommandResponse struct {
	RequestID     string
	StatusCode    int
	StatusMessage string
}

type incomingFrame struct {
	Header struct {
		RequestID      string `json:"requestId"`
		MessagePurpose string `json:"messagePurpose"`
		EventName      string `json:"eventName"`
	} `json:"header"`
	Body json.RawMessage `json:"body"`
}

type commandResponseBody struct {
	StatusCode    int    `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}

// ParsePlayerMessage extracts a PlayerMessage event, returning false
// for frames of any other kind.
func ParsePlayerMessage(data []byte) (PlayerMessage, bool) {
	var frame incomingFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return PlayerMessage{}, false
	}
	if frame.Header.EventName != "PlayerMessage" {
		return PlayerMessage{}, false
	}
	var msg PlayerMessage
	if err := json.Unmarshal(frame.Body, &msg); err != nil {
		return PlayerMessage{}, false
	}
	return msg, true
}

// ParseCommandResponse extracts a commandResponse frame, returning
// false for frames of any other kind.
func ParseCommandResponse(data []byte) (CommandResponse, bool) {
	var frame incomingFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return CommandResponse{}, false
	}
	if frame.Header.MessagePurpose != "commandResponse" {
		return CommandResponse{}, false
	}
	var body commandResponseBody
	if err := json.Unmarshal(frame.Body, &body); err != nil {
		return CommandResponse{}, false
	}
	return CommandResponse{
		RequestID:     frame.Header.RequestID,
		StatusCode:    body.StatusCode,
		StatusMessage: body.StatusMessage,
	}, true
}

// FormatCommandResult renders a command response for tool output.
func FormatCommandResult(resp CommandResponse) string {
	if resp.StatusCode == 0 {
		if resp.StatusMessage != "" {
			return resp.StatusMessage
		}
		return "命令执行成功"
	}
	return fmt.Sprintf("命令执行失败(statusCode=%d): %s", resp.StatusCode, resp.StatusMessage)
}
