// Package anthropic implements the frontend.Adapter contract for the
// Anthropic Messages API dialect. Wire shapes are grounded on the
// teacher's internal/provider/anthropic.go backend structs, promoted here
// to a full two-way frontend dialect.
package anthropic

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hnolan/irgateway/internal/gwerror"
	"github.com/hnolan/irgateway/ir"
)

// Adapter implements frontend.Adapter for the Anthropic dialect.
type Adapter struct{}

// New returns an Anthropic dialect frontend adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Name() string { return "anthropic" }

const defaultMaxTokens = 1024

// request is the Anthropic Messages API request shape.
type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	TopK        *int      `json:"top_k,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// message's Content is either a plain string (ordinary text turn) or an
// array of contentBlock values (tool_use/tool_result turns); json.Marshal
// picks the representation messageContent chooses, and ToIR type-switches
// on the decoded value to tell them apart.
type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// response is the Anthropic Messages API response shape.
type response struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

// contentBlock is a Messages API content block. Only the fields matching
// Type are populated: text for "text", id/name/input for "tool_use",
// tool_use_id/content for "tool_result".
type contentBlock struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	Input      any    `json:"input,omitempty"`
	ToolUseID  string `json:"tool_use_id,omitempty"`
	ToolResult string `json:"content,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// streamEvent is one Anthropic SSE event payload, keyed by event.Type:
// message_start, content_block_delta, message_delta, message_stop.
type streamEvent struct {
	Type    string        `json:"type"`
	Message *eventMessage `json:"message,omitempty"`
	Delta   *eventDelta   `json:"delta,omitempty"`
	Usage   *usage        `json:"usage,omitempty"`
}

type eventMessage struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Usage usage  `json:"usage"`
}

type eventDelta struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	StopReason string `json:"stop_reason"`
}

var stopReasonFromIR = map[ir.FinishReason]string{
	ir.FinishStop:          "end_turn",
	ir.FinishLength:        "max_tokens",
	ir.FinishContentFilter: "end_turn",
	ir.FinishToolCalls:     "tool_use",
	ir.FinishCancelled:     "end_turn",
	ir.FinishError:         "end_turn",
}

// decodeMessageContent interprets a Messages API message's `content` field,
// which is either a plain string or an array of typed content blocks. The
// second form decodes into []any/map[string]any via the standard json
// package, since wireMessage.Content is typed any to accept both shapes.
func decodeMessageContent(raw any) (text string, parts []ir.ContentPart, plain bool) {
	switch v := raw.(type) {
	case string:
		return v, nil, true
	case []any:
		parts = make([]ir.ContentPart, 0, len(v))
		for _, item := range v {
			block, ok := item.(map[string]any)
			if !ok {
				continue
			}
			switch block["type"] {
			case "text":
				t, _ := block["text"].(string)
				parts = append(parts, ir.ContentPart{Kind: ir.ContentText, Text: t})
			case "tool_use":
				id, _ := block["id"].(string)
				name, _ := block["name"].(string)
				parts = append(parts, ir.ContentPart{
					Kind: ir.ContentToolUse, ToolUseID: id, ToolName: name, ToolInput: block["input"],
				})
			case "tool_result":
				toolUseID, _ := block["tool_use_id"].(string)
				parts = append(parts, ir.ContentPart{
					Kind: ir.ContentToolResult, ToolResultForID: toolUseID, ToolResult: block["content"],
				})
			}
		}
		return "", parts, false
	default:
		return "", nil, true
	}
}

// anthropicToIRTemperature rescales a dialect temperature (0..1) into the
// unified IR range (0..2). The transform is proportional (x2), recorded as
// approximate drift since the represented value changes even in range.
func anthropicToIRTemperature(native float64) (unified float64, warn ir.Warning) {
	unified = native * 2
	warn = ir.Warning{
		Message: "temperature rescaled from Anthropic's 0..1 range to the unified 0..2 range",
		Transform: &ir.SemanticTransform{
			Parameter:        "temperature",
			OriginalValue:    native,
			TransformedValue: unified,
			Reason:           "Anthropic's native temperature range is 0..1; IR uses a unified 0..2 range",
			Fidelity:         ir.FidelityApproximate,
		},
	}
	return unified, warn
}

// ToIR converts an Anthropic Messages request body into IR. The separate
// `system` parameter is lifted into a leading system Message — this is the
// documented semantic drift a round trip through FromIR must reproduce.
func (a *Adapter) ToIR(body []byte) (*ir.Request, error) {
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, gwerror.Wrap(gwerror.KindInvalidRequest, "malformed anthropic request body", err)
	}
	if len(req.Messages) == 0 {
		return nil, gwerror.New(gwerror.KindInvalidMessageFormat, "anthropic request must have at least one message")
	}

	messages := make([]ir.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, ir.Message{Role: ir.RoleSystem, Text: req.System})
	}
	for _, m := range req.Messages {
		role := ir.RoleUser
		if m.Role == "assistant" {
			role = ir.RoleAssistant
		}
		text, parts, plain := decodeMessageContent(m.Content)
		if plain {
			messages = append(messages, ir.Message{Role: role, Text: text})
		} else {
			messages = append(messages, ir.Message{Role: role, Parts: parts})
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	out := &ir.Request{
		Messages: messages,
		Parameters: &ir.Parameters{
			Model:         req.Model,
			TopP:          req.TopP,
			TopK:          req.TopK,
			MaxTokens:     &maxTokens,
			StopSequences: req.StopSequences,
		},
		Stream: req.Stream,
	}
	if req.Temperature != nil {
		unified, warn := anthropicToIRTemperature(*req.Temperature)
		out.Parameters.Temperature = &unified
		out.Metadata = out.Metadata.AddWarning(warn)
	}
	return out, nil
}

// contentBlocksFromParts renders IR content parts into Anthropic response
// content blocks. ContentToolResult parts are not expected in a model
// response (they originate from the caller's next turn) and are skipped.
func contentBlocksFromParts(parts []ir.ContentPart) []contentBlock {
	blocks := make([]contentBlock, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case ir.ContentText:
			blocks = append(blocks, contentBlock{Type: "text", Text: p.Text})
		case ir.ContentToolUse:
			blocks = append(blocks, contentBlock{Type: "tool_use", ID: p.ToolUseID, Name: p.ToolName, Input: p.ToolInput})
		}
	}
	return blocks
}

// FromIR converts an IR response into an Anthropic Messages response body.
// A response whose message carries ContentPart values (tool_use) renders
// each part as its own content block rather than being rejected, per the
// gateway's no-silent-drop rule for tool-bearing responses.
func (a *Adapter) FromIR(resp *ir.Response) ([]byte, error) {
	stopReason, ok := stopReasonFromIR[resp.FinishReason]
	if !ok {
		stopReason = "end_turn"
	}

	out := response{
		ID:         resp.Metadata.RequestID,
		Model:      resp.Metadata.Provenance.Backend,
		StopReason: stopReason,
	}
	if resp.Message.IsPlainText() {
		out.Content = []contentBlock{{Type: "text", Text: resp.Message.Text}}
	} else {
		out.Content = contentBlocksFromParts(resp.Message.Parts)
	}
	if resp.Usage != nil {
		out.Usage = usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindAdapterConversionError, "marshaling anthropic response", err)
	}
	return b, nil
}

// FromIRStream converts IR stream chunks into Anthropic's event-typed SSE
// frames: message_start, content_block_delta(text_delta)*, message_delta,
// message_stop.
func (a *Adapter) FromIRStream(ctx context.Context, chunks <-chan ir.StreamChunk) <-chan []byte {
	out := make(chan []byte)

	go func() {
		defer close(out)

		emit := func(eventType string, payload any) bool {
			b, err := json.Marshal(payload)
			if err != nil {
				return true
			}
			var sb strings.Builder
			sb.WriteString("event: ")
			sb.WriteString(eventType)
			sb.WriteString("\ndata: ")
			sb.Write(b)
			sb.WriteString("\n\n")
			select {
			case out <- []byte(sb.String()):
				return true
			case <-ctx.Done():
				return false
			}
		}

		id := ""
		model := ""

		for chunk := range chunks {
			switch chunk.Kind {
			case ir.ChunkStart:
				id = chunk.Metadata.RequestID
				if !emit("message_start", streamEvent{
					Type:    "message_start",
					Message: &eventMessage{ID: id, Model: model},
				}) {
					return
				}
			case ir.ChunkContent:
				if !emit("content_block_delta", map[string]any{
					"type":  "content_block_delta",
					"index": 0,
					"delta": map[string]string{"type": "text_delta", "text": chunk.Delta},
				}) {
					return
				}
			case ir.ChunkMetadata:
				continue
			case ir.ChunkDone:
				stopReason := stopReasonFromIR[chunk.DoneFinishReason]
				if !emit("message_delta", map[string]any{
					"type": "message_delta",
					"delta": map[string]string{"stop_reason": stopReason},
				}) {
					return
				}
				emit("message_stop", map[string]string{"type": "message_stop"})
				return
			case ir.ChunkError:
				emit("error", map[string]any{
					"type": "error",
					"error": map[string]string{
						"type":    chunk.ErrorCode,
						"message": chunk.ErrorMessage,
					},
				})
				return
			}
		}
	}()

	return out
}
