// ABOUTME: Wire frames exchanged with chat clients over the websocket
// ABOUTME: One Frame struct covers all server-to-client event types

package chat

// FrameType identifies a server-to-client chat event.
type FrameType string

const (
	FrameStreamingStart       FrameType = "streaming_start"
	FrameContent              FrameType = "content"
	FrameDone                 FrameType = "done"
	FrameError                FrameType = "error"
	FrameStopped              FrameType = "stopped"
	FrameStreamingResumed     FrameType = "streaming_resumed"
	FrameStreamingInterrupted FrameType = "streaming_interrupted"
)

// Frame is one JSON-encoded server-to-client chat event. Fields not used by
// a given type are omitted from the encoding.
type Frame struct {
	Type      FrameType `json:"type"`
	MessageID string    `json:"message_id,omitempty"`
	Content   string    `json:"content,omitempty"`
	Thinking  string    `json:"thinking,omitempty"`
}
