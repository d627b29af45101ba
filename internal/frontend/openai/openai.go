// Package openai implements the frontend.Adapter contract for the OpenAI
// chat-completions dialect.
package openai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hnolan/irgateway/internal/gwerror"
	"github.com/hnolan/irgateway/ir"
)

// Adapter implements frontend.Adapter for the OpenAI dialect.
type Adapter struct{}

// New returns an OpenAI dialect frontend adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Name() string { return "openai" }

// request is the OpenAI chat-completions request shape.
type request struct {
	Model            string          `json:"model"`
	Messages         []message       `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	Seed             *int64          `json:"seed,omitempty"`
	User             string          `json:"user,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
}

// message's ToolCalls is populated on an assistant turn that invoked tools;
// ToolCallID identifies which prior tool call a tool-role message answers.
type message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// wireToolCall is OpenAI's {id, type:"function", function:{name, arguments}}
// tool-call shape. Arguments is a JSON-encoded string on the wire.
type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireToolCallFunc `json:"function"`
}

type wireToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// response is the OpenAI chat-completions response shape.
type response struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   *usage   `json:"usage,omitempty"`
}

type choice struct {
	Index        int     `json:"index"`
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// streamChunk is one OpenAI SSE `data:` line payload.
type streamChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Model   string        `json:"model"`
	Choices []streamChoice `json:"choices"`
	Usage   *usage        `json:"usage,omitempty"`
}

type streamChoice struct {
	Index        int          `json:"index"`
	Delta        streamDelta  `json:"delta"`
	FinishReason *string      `json:"finish_reason"`
}

type streamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

var finishReasonToIR = map[string]ir.FinishReason{
	"stop":           ir.FinishStop,
	"length":         ir.FinishLength,
	"content_filter": ir.FinishContentFilter,
	"tool_calls":     ir.FinishToolCalls,
}

var finishReasonFromIR = map[ir.FinishReason]string{
	ir.FinishStop:          "stop",
	ir.FinishLength:        "length",
	ir.FinishContentFilter: "content_filter",
	ir.FinishToolCalls:     "tool_calls",
	ir.FinishCancelled:     "stop",
	ir.FinishError:         "stop",
}

// messageToIR converts an incoming chat-completions message into an IR
// message. A message with ToolCalls or a ToolCallID is represented as Parts
// instead of plain Text, so a tool-bearing conversation round-trips through
// the IR without silently dropping the tool call or its result.
func messageToIR(m message) ir.Message {
	role := roleToIR(m.Role)
	if len(m.ToolCalls) == 0 && m.ToolCallID == "" {
		return ir.Message{Role: role, Text: m.Content, Name: m.Name}
	}

	var parts []ir.ContentPart
	if m.ToolCallID != "" {
		var result any
		if err := json.Unmarshal([]byte(m.Content), &result); err != nil {
			result = m.Content
		}
		parts = append(parts, ir.ContentPart{Kind: ir.ContentToolResult, ToolResultForID: m.ToolCallID, ToolResult: result})
	}
	for _, tc := range m.ToolCalls {
		var input any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
			input = tc.Function.Arguments
		}
		parts = append(parts, ir.ContentPart{Kind: ir.ContentToolUse, ToolUseID: tc.ID, ToolName: tc.Function.Name, ToolInput: input})
	}
	return ir.Message{Role: role, Parts: parts, Name: m.Name}
}

func roleToIR(r string) ir.Role {
	switch r {
	case "system":
		return ir.RoleSystem
	case "assistant":
		return ir.RoleAssistant
	case "tool":
		return ir.RoleTool
	default:
		return ir.RoleUser
	}
}

// ToIR converts an OpenAI chat-completions request body into IR.
func (a *Adapter) ToIR(body []byte) (*ir.Request, error) {
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, gwerror.Wrap(gwerror.KindInvalidRequest, "malformed openai request body", err)
	}
	if len(req.Messages) == 0 {
		return nil, gwerror.New(gwerror.KindInvalidMessageFormat, "openai request must have at least one message")
	}

	messages := make([]ir.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "" {
			return nil, gwerror.New(gwerror.KindInvalidMessageFormat, "openai message missing role")
		}
		messages = append(messages, messageToIR(m))
	}

	params := &ir.Parameters{
		Model:            req.Model,
		Temperature:      req.Temperature, // OpenAI's 0..2 range is already the unified IR range.
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		StopSequences:    req.Stop,
		Seed:             req.Seed,
		User:             req.User,
	}

	return &ir.Request{
		Messages:   messages,
		Parameters: params,
		Stream:     req.Stream,
	}, nil
}

// messageFromIR renders an IR response message into an OpenAI chat message.
// Plain text becomes Content; ContentToolUse parts become tool_calls, so a
// tool-invoking response is not silently collapsed to empty text.
func messageFromIR(m ir.Message) message {
	if m.IsPlainText() {
		return message{Role: "assistant", Content: m.Text}
	}

	out := message{Role: "assistant"}
	var textParts []string
	for _, p := range m.Parts {
		switch p.Kind {
		case ir.ContentText:
			textParts = append(textParts, p.Text)
		case ir.ContentToolUse:
			out.ToolCalls = append(out.ToolCalls, wireToolCall{
				ID:   p.ToolUseID,
				Type: "function",
				Function: wireToolCallFunc{
					Name:      p.ToolName,
					Arguments: toolArgumentsString(p.ToolInput),
				},
			})
		}
	}
	out.Content = strings.Join(textParts, "")
	return out
}

func toolArgumentsString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// FromIR converts an IR response into an OpenAI chat-completions response
// body.
func (a *Adapter) FromIR(resp *ir.Response) ([]byte, error) {
	fr, ok := finishReasonFromIR[resp.FinishReason]
	if !ok {
		fr = "stop"
	}

	out := response{
		ID:     resp.Metadata.RequestID,
		Object: "chat.completion",
		Model:  resp.Metadata.Provenance.Backend,
		Choices: []choice{{
			Index:        0,
			Message:      messageFromIR(resp.Message),
			FinishReason: fr,
		}},
	}
	if resp.Usage != nil {
		out.Usage = &usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindAdapterConversionError, "marshaling openai response", err)
	}
	return b, nil
}

// FromIRStream converts IR stream chunks into OpenAI SSE `data:` frames,
// terminated by a `data: [DONE]` frame.
func (a *Adapter) FromIRStream(ctx context.Context, chunks <-chan ir.StreamChunk) <-chan []byte {
	out := make(chan []byte)

	go func() {
		defer close(out)

		id := ""
		model := ""

		emit := func(payload any) bool {
			b, err := json.Marshal(payload)
			if err != nil {
				return true
			}
			frame := append([]byte("data: "), append(b, []byte("\n\n")...)...)
			select {
			case out <- frame:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for chunk := range chunks {
			switch chunk.Kind {
			case ir.ChunkStart:
				id = chunk.Metadata.RequestID
				continue
			case ir.ChunkContent:
				sc := streamChunk{
					ID:     id,
					Object: "chat.completion.chunk",
					Model:  model,
					Choices: []streamChoice{{
						Index: 0,
						Delta: streamDelta{Role: "assistant", Content: chunk.Delta},
					}},
				}
				if !emit(sc) {
					return
				}
			case ir.ChunkMetadata:
				continue
			case ir.ChunkDone:
				fr := finishReasonFromIR[chunk.DoneFinishReason]
				sc := streamChunk{
					ID:     id,
					Object: "chat.completion.chunk",
					Model:  model,
					Choices: []streamChoice{{
						Index:        0,
						Delta:        streamDelta{},
						FinishReason: &fr,
					}},
				}
				if chunk.DoneUsage != nil {
					sc.Usage = &usage{
						PromptTokens:     chunk.DoneUsage.PromptTokens,
						CompletionTokens: chunk.DoneUsage.CompletionTokens,
						TotalTokens:      chunk.DoneUsage.TotalTokens,
					}
				}
				if !emit(sc) {
					return
				}
				select {
				case out <- []byte("data: [DONE]\n\n"):
				case <-ctx.Done():
					return
				}
				return
			case ir.ChunkError:
				errPayload := map[string]any{
					"error": map[string]string{
						"code":    chunk.ErrorCode,
						"message": chunk.ErrorMessage,
					},
				}
				emit(errPayload)
				return
			}
		}
	}()

	return out
}
