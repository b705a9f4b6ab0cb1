package agent

import (
	"log/slog"
	"net/http"
)

// Dependencies is everything a tool or run needs from the outside
// world. Callbacks bridge back to the connection's sender loop.
type Dependencies struct {
	ConnectionID string
	PlayerName   string
	Provider     string
	Model        string

	// ContextLength is the number of prior turns, shown in prompts.
	ContextLength int

	HTTPClient *http.Client
	Logger     *slog.Logger

	// SendToGame shows a plain message in game chat.
	SendToGame func(message string) error
	// RunCommand executes a Minecraft command and returns its result,
	// blocking until the game responds or the wait times out.
	RunCommand func(command string) (string, error)
}

func (d Dependencies) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
