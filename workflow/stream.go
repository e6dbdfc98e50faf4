package workflow

// FrameType discriminates streaming response frames.
type FrameType string

const (
	FrameStart FrameType = "start"
	FrameToken FrameType = "token"
	FrameTool  FrameType = "tool"
	FrameNode  FrameType = "node"
	FrameUsage FrameType = "usage"
	FrameDone  FrameType = "done"
	FrameError FrameType = "error"
)

// Frame is one typed chunk of a streaming execution. A stream is a
// start frame, then tokens interleaved with tool/usage (and node frames
// when tracing), terminated by exactly one done or error frame.
type Frame struct {
	Type FrameType `json:"type"`

	// RunID is set on start frames.
	RunID string `json:"runId,omitempty"`

	// Content is the token text on token frames.
	Content string `json:"content,omitempty"`

	// Tool frame fields.
	Name    string `json:"name,omitempty"`
	OK      bool   `json:"ok,omitempty"`
	Summary string `json:"summary,omitempty"`

	// Phase is "start" or "end" on node frames.
	Phase string `json:"phase,omitempty"`

	// Usage frame fields.
	InputTokens  int `json:"inputTokens,omitempty"`
	OutputTokens int `json:"outputTokens,omitempty"`
	TotalTokens  int `json:"totalTokens,omitempty"`

	// Result is set on done frames.
	Result *Result `json:"result,omitempty"`

	// Error frame fields.
	Kind    ErrKind `json:"kind,omitempty"`
	Message string  `json:"message,omitempty"`
}

// FrameSink receives frames in production order. Returning an error
// cancels the run; the executor treats a failed sink like a
// disconnected client.
type FrameSink func(Frame) error

// discardFrames is the sink used in unary mode.
func discardFrames(Frame) error { return nil }
