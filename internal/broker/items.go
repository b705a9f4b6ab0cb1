package broker

// DeliveryMode selects how agent output reaches the game world.
type DeliveryMode string

const (
	// DeliveryChat renders responses as colored chat via tellraw.
	DeliveryChat DeliveryMode = "chat"
	// DeliveryScript forwards responses as script events for addon scripts.
	DeliveryScript DeliveryMode = "script"
)

// ChatRequest is one unit of LLM work queued for the worker pool.
type ChatRequest struct {
	ConnectionID string
	PlayerName   string
	Content      string
	Provider     string
	UseContext   bool
	Delivery     DeliveryMode
}

// ChunkType tags a StreamChunk for the sender's rendering table.
type ChunkType string

const (
	ChunkContent       ChunkType = "content"
	ChunkReasoning     ChunkType = "reasoning"
	ChunkToolCall      ChunkType = "tool_call"
	ChunkToolResult    ChunkType = "tool_result"
	ChunkError         ChunkType = "error"
	ChunkThinkingStart ChunkType = "thinking_start"
	ChunkThinkingEnd   ChunkType = "thinking_end"
)

// ResponseItem is anything a worker can push toward a connection's
// sender loop.
type ResponseItem interface {
	responseItem()
}

// StreamChunk is a piece of agent output bound for the game.
type StreamChunk struct {
	ConnectionID string
	Sequence     int
	Type         ChunkType
	Content      string
	Delivery     DeliveryMode

	// Tool-call decoration, set for ChunkToolCall / ChunkToolResult.
	ToolName string
	ToolArgs string
}

// GameMessage is a plain message a tool asked to show in the game.
type GameMessage struct {
	Content string
	Color   string
}

// CommandRequest asks the sender to execute a Minecraft command and
// resolve the future with its outcome.
type CommandRequest struct {
	Command string
	Result  *CommandFuture
}

func (StreamChunk) responseItem()    {}
func (GameMessage) responseItem()    {}
func (CommandRequest) responseItem() {}
