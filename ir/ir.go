// Package ir defines the intermediate representation that every frontend
// and backend adapter translates to and from. IR is produced only by a
// frontend adapter and consumed only by a backend adapter.
package ir

import "time"

// Role identifies who authored a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FinishReason is the authoritative terminal state of a Response or stream.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishCancelled     FinishReason = "cancelled"
	FinishError         FinishReason = "error"
)

// ContentPartKind discriminates the ContentPart tagged union.
type ContentPartKind string

const (
	ContentText       ContentPartKind = "text"
	ContentImage      ContentPartKind = "image"
	ContentToolUse    ContentPartKind = "tool_use"
	ContentToolResult ContentPartKind = "tool_result"
)

// ImageSourceKind discriminates how an image ContentPart carries its bytes.
type ImageSourceKind string

const (
	ImageSourceURL    ImageSourceKind = "url"
	ImageSourceBase64 ImageSourceKind = "base64"
)

// ImageSource is the payload of a ContentImage part.
type ImageSource struct {
	Kind      ImageSourceKind `json:"kind"`
	URL       string          `json:"url,omitempty"`
	MediaType string          `json:"mediaType,omitempty"`
	Data      string          `json:"data,omitempty"`
}

// ContentPart is one element of a Message's content when the message is not
// a single plain-text value. Exactly the fields matching Kind are set.
type ContentPart struct {
	Kind ContentPartKind `json:"kind"`

	// Kind == ContentText
	Text string `json:"text,omitempty"`

	// Kind == ContentImage
	Image *ImageSource `json:"image,omitempty"`

	// Kind == ContentToolUse
	ToolUseID    string `json:"toolUseId,omitempty"`
	ToolName     string `json:"toolName,omitempty"`
	ToolInput    any    `json:"toolInput,omitempty"`

	// Kind == ContentToolResult
	ToolResultForID string `json:"toolResultForId,omitempty"`
	ToolResult      any    `json:"toolResult,omitempty"`
}

// Message is a single turn in a Request's conversation. Content is either a
// plain string (Text non-empty, Parts nil) or an ordered list of
// ContentPart values (Parts non-nil).
type Message struct {
	Role     Role          `json:"role"`
	Text     string        `json:"text,omitempty"`
	Parts    []ContentPart `json:"parts,omitempty"`
	Name     string        `json:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsPlainText reports whether this message carries a single text value
// rather than a content-part list.
func (m Message) IsPlainText() bool {
	return m.Parts == nil
}

// Parameters are the optional generation controls of a Request. Temperature
// is normalized to the unified 0..2 range by the frontend on entry.
type Parameters struct {
	Model             string         `json:"model,omitempty"`
	Temperature       *float64       `json:"temperature,omitempty"`
	MaxTokens         *int           `json:"maxTokens,omitempty"`
	TopP              *float64       `json:"topP,omitempty"`
	TopK              *int           `json:"topK,omitempty"`
	FrequencyPenalty  *float64       `json:"frequencyPenalty,omitempty"`
	PresencePenalty   *float64       `json:"presencePenalty,omitempty"`
	StopSequences     []string       `json:"stopSequences,omitempty"`
	Seed              *int64         `json:"seed,omitempty"`
	User              string         `json:"user,omitempty"`
	Custom            map[string]any `json:"custom,omitempty"`
}

// Provenance records which component last touched a Request/Response.
type Provenance struct {
	Frontend   string `json:"frontend,omitempty"`
	Backend    string `json:"backend,omitempty"`
	Middleware string `json:"middleware,omitempty"`
	Router     string `json:"router,omitempty"`
}

// Metadata travels with every Request, Response, and StreamChunk.
// Warnings is append-only: no pipeline stage removes a prior entry.
type Metadata struct {
	RequestID      string          `json:"requestId"`
	Timestamp      time.Time       `json:"timestamp"`
	Provenance     Provenance      `json:"provenance,omitempty"`
	Warnings       []Warning       `json:"warnings,omitempty"`
	SemanticVersion string         `json:"semanticVersion,omitempty"`
	Custom         map[string]any  `json:"custom,omitempty"`
}

// AddWarning returns a copy of m with w appended — callers replace, they
// never mutate a Metadata value shared with a concurrent reader.
func (m Metadata) AddWarning(w Warning) Metadata {
	next := m
	next.Warnings = append(append([]Warning(nil), m.Warnings...), w)
	return next
}

// Fidelity grades how much information a SemanticTransform discarded.
type Fidelity string

const (
	FidelityLossless   Fidelity = "lossless"
	FidelityApproximate Fidelity = "approximate"
	FidelityLossy      Fidelity = "lossy"
)

// SemanticTransform records a parameter an adapter had to scale, clamp, or
// drop to fit the destination dialect/provider. Attached to
// Metadata.Warnings as a Warning with Transform set.
type SemanticTransform struct {
	Parameter         string   `json:"parameter"`
	OriginalValue     any      `json:"originalValue"`
	TransformedValue  any      `json:"transformedValue"`
	Reason            string   `json:"reason"`
	Fidelity          Fidelity `json:"fidelity"`
}

// Warning is one entry in Metadata.Warnings. Message is always set;
// Transform is set when the warning documents a SemanticTransform.
type Warning struct {
	Message   string             `json:"message"`
	Transform *SemanticTransform `json:"transform,omitempty"`
}

// StreamMode selects whether stream consumers see incremental deltas only
// or also the running concatenation per chunk.
type StreamMode string

const (
	StreamModeDeltas      StreamMode = "deltas"
	StreamModeAccumulated StreamMode = "accumulated"
)

// Request is the IR form of a caller's chat request. Frontends produce it
// from a dialect request; backends consume it directly.
type Request struct {
	Messages   []Message   `json:"messages"`
	Parameters *Parameters `json:"parameters,omitempty"`
	Metadata   Metadata    `json:"metadata"`
	Stream     bool        `json:"stream,omitempty"`
	StreamMode StreamMode  `json:"streamMode,omitempty"`
	Schema     any         `json:"schema,omitempty"`
}

// TokenUsage is an approximate accounting of tokens consumed; providers
// count differently, so totals are not guaranteed additive across backends.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Response is the IR form of a completed (non-streaming) backend call.
type Response struct {
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finishReason"`
	Usage        *TokenUsage  `json:"usage,omitempty"`
	Metadata     Metadata     `json:"metadata"`
	Raw          any          `json:"raw,omitempty"`
}

// StreamChunkKind discriminates the StreamChunk tagged union.
type StreamChunkKind string

const (
	ChunkStart    StreamChunkKind = "start"
	ChunkContent  StreamChunkKind = "content"
	ChunkMetadata StreamChunkKind = "metadata"
	ChunkDone     StreamChunkKind = "done"
	ChunkError    StreamChunkKind = "error"
)

// StreamChunk is one element of a backend's streaming response. Chunks are
// strictly ordered by Sequence starting at 0; a well-formed stream ends
// with exactly one ChunkDone or ChunkError chunk and no chunks follow it.
// Metadata is set on every chunk (not only start) so every chunk carries
// the originating request's requestId, per the IR ownership invariant.
type StreamChunk struct {
	Kind     StreamChunkKind `json:"kind"`
	Sequence int             `json:"sequence"`
	Metadata Metadata        `json:"metadata"`

	// Kind == ChunkContent
	Delta       string `json:"delta,omitempty"`
	Role        Role   `json:"role,omitempty"`
	Accumulated string `json:"accumulated,omitempty"`

	// Kind == ChunkMetadata
	Usage        *TokenUsage   `json:"usage,omitempty"`
	FinishReason *FinishReason `json:"finishReason,omitempty"`

	// Kind == ChunkDone
	DoneFinishReason FinishReason `json:"doneFinishReason,omitempty"`
	DoneUsage        *TokenUsage  `json:"doneUsage,omitempty"`
	Message          *Message     `json:"message,omitempty"`

	// Kind == ChunkError
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Stream is the consumer-facing handle for an in-flight StreamChunk
// sequence: single-producer, single-consumer, finite, not restartable.
// A receive on Chunks blocks until a chunk is available or the channel is
// closed; Stream has no Next method and does not observe a context.
type Stream struct {
	Chunks <-chan StreamChunk
}

// SystemMessageStrategy is how a backend adapter wants system messages
// presented once they reach provider-specific encoding.
type SystemMessageStrategy string

const (
	SystemInMessages        SystemMessageStrategy = "in-messages"
	SystemSeparateParameter SystemMessageStrategy = "separate-parameter"
	SystemInstruction       SystemMessageStrategy = "system-instruction"
	SystemInitialPrompts    SystemMessageStrategy = "initial-prompts"
)

// TemperatureRange is the provider-native range a backend accepts, used to
// detect clamping when normalizing from the unified 0..2 IR range.
type TemperatureRange struct {
	Min float64
	Max float64
}

// Capabilities is advertised by every adapter (frontend or backend) so the
// pipeline can decide when a semantic transform or validation error is
// required rather than silently dropping a parameter.
type Capabilities struct {
	Streaming                     bool
	MultiModal                    bool
	Tools                         bool
	MaxContextTokens              int
	SystemMessageStrategy         SystemMessageStrategy
	SupportsMultipleSystemMessages bool
	SupportsTemperature           bool
	SupportsTopP                  bool
	SupportsTopK                  bool
	SupportsSeed                  bool
	SupportsFrequencyPenalty      bool
	SupportsPresencePenalty       bool
	MaxStopSequences              int
	TemperatureRange              *TemperatureRange
}

// CircuitState is the router's view of a backend's circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// BackendInfo is the router's public view of one registered backend.
type BackendInfo struct {
	Name                string
	Metadata            map[string]any
	IsHealthy           bool
	LastHealthCheck     *time.Time
	CircuitState        CircuitState
	ConsecutiveFailures int
	Stats               BackendStats
}

// BackendStats accumulates per-backend usage observed by a Router/Bridge.
type BackendStats struct {
	SuccessCount int
	FailureCount int
	P50LatencyMs float64
	P95LatencyMs float64
	P99LatencyMs float64
}
