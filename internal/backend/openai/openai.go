// Package openai implements the backend.Adapter contract against the
// OpenAI chat-completions API. New relative to the teacher, but grounded
// on the same call skeleton the teacher's AnthropicProvider/GoogleProvider
// use (marshal -> POST -> status check -> decode -> translate; SSE-scan
// goroutine + channel for streaming), applied to OpenAI's own wire format
// — the same shape the teacher's own HTTP boundary already speaks.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hnolan/irgateway/internal/gwerror"
	"github.com/hnolan/irgateway/ir"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Adapter implements backend.Adapter against the OpenAI chat-completions
// API.
type Adapter struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
	caps    ir.Capabilities
}

// New constructs an OpenAI backend adapter.
func New(name, apiKey, baseURL string, client *http.Client) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		name:    name,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
		caps: ir.Capabilities{
			Streaming: true,
			// Images are not wired through this adapter, so MultiModal
			// stays false rather than silently dropping image parts.
			MultiModal:                     false,
			Tools:                          true,
			MaxContextTokens:               128000,
			SystemMessageStrategy:          ir.SystemInMessages,
			SupportsMultipleSystemMessages: true,
			SupportsTemperature:            true,
			SupportsTopP:                   true,
			SupportsSeed:                   true,
			SupportsFrequencyPenalty:       true,
			SupportsPresencePenalty:        true,
			MaxStopSequences:               4,
			TemperatureRange:               &ir.TemperatureRange{Min: 0, Max: 2},
		},
	}
}

func (a *Adapter) Name() string                  { return a.name }
func (a *Adapter) Capabilities() ir.Capabilities { return a.caps }

type wireRequest struct {
	Model            string        `json:"model"`
	Messages         []wireMessage `json:"messages"`
	Temperature      *float64      `json:"temperature,omitempty"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	Stop             []string      `json:"stop,omitempty"`
	Seed             *int64        `json:"seed,omitempty"`
	Stream           bool          `json:"stream,omitempty"`
}

// wireMessage's Content holds plain text. An assistant turn that invoked
// tools carries ToolCalls instead (Content is typically empty); a tool-role
// reply to a prior tool call carries ToolCallID identifying which call it
// answers.
type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// wireToolCall is OpenAI's {id, type:"function", function:{name, arguments}}
// tool-call shape. Arguments is a JSON-encoded string on the wire, not a
// nested object.
type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireToolCallFunc `json:"function"`
}

type wireToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage,omitempty"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireStreamChunk struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []wireStreamChoice `json:"choices"`
	Usage   *wireUsage         `json:"usage,omitempty"`
}

type wireStreamChoice struct {
	Delta        wireStreamDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

type wireStreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

var finishReasonToIR = map[string]ir.FinishReason{
	"stop":           ir.FinishStop,
	"length":         ir.FinishLength,
	"content_filter": ir.FinishContentFilter,
	"tool_calls":     ir.FinishToolCalls,
}

// FromIR is a pure helper converting an IR request into the OpenAI wire
// request. OpenAI's SystemMessageStrategy is in-messages and it supports
// multiple system messages, so no lifting or merging is required here.
func FromIR(req *ir.Request) (wireRequest, []ir.Warning) {
	var warnings []ir.Warning
	messages := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := "user"
		switch m.Role {
		case ir.RoleSystem:
			role = "system"
		case ir.RoleAssistant:
			role = "assistant"
		case ir.RoleTool:
			role = "tool"
		}
		wm, partWarnings := messageToWire(role, m)
		warnings = append(warnings, partWarnings...)
		messages = append(messages, wm)
	}

	out := wireRequest{Messages: messages, Stream: req.Stream}
	if req.Parameters != nil {
		out.Model = req.Parameters.Model
		out.MaxTokens = req.Parameters.MaxTokens
		out.TopP = req.Parameters.TopP
		out.FrequencyPenalty = req.Parameters.FrequencyPenalty
		out.PresencePenalty = req.Parameters.PresencePenalty
		out.Seed = req.Parameters.Seed
		if len(req.Parameters.StopSequences) > 4 {
			warnings = append(warnings, ir.Warning{
				Message: "stop sequences truncated to OpenAI's 4-sequence limit",
				Transform: &ir.SemanticTransform{
					Parameter:        "stopSequences",
					OriginalValue:    req.Parameters.StopSequences,
					TransformedValue: req.Parameters.StopSequences[:4],
					Reason:           "OpenAI accepts at most 4 stop sequences",
					Fidelity:         ir.FidelityLossy,
				},
			})
			out.Stop = req.Parameters.StopSequences[:4]
		} else {
			out.Stop = req.Parameters.StopSequences
		}
		out.Temperature = req.Parameters.Temperature // OpenAI's native range is 0..2, identical to unified IR range.
	}

	return out, warnings
}

// messageToWire renders an IR message's content for the OpenAI wire. Plain
// text becomes Content; a message with ContentToolUse/ContentToolResult
// parts becomes ToolCalls or a tool-role reply. An image part has no wire
// representation here (MultiModal is false) and is dropped with a recorded
// warning rather than silently discarded.
func messageToWire(role string, m ir.Message) (wireMessage, []ir.Warning) {
	if m.IsPlainText() {
		return wireMessage{Role: role, Content: m.Text}, nil
	}

	var warnings []ir.Warning
	wm := wireMessage{Role: role}
	var textParts []string
	for _, p := range m.Parts {
		switch p.Kind {
		case ir.ContentText:
			textParts = append(textParts, p.Text)
		case ir.ContentToolUse:
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   p.ToolUseID,
				Type: "function",
				Function: wireToolCallFunc{
					Name:      p.ToolName,
					Arguments: toolArgumentsString(p.ToolInput),
				},
			})
		case ir.ContentToolResult:
			wm.ToolCallID = p.ToolResultForID
			wm.Content = toolResultString(p.ToolResult)
		case ir.ContentImage:
			warnings = append(warnings, ir.Warning{
				Message: "image content part dropped: openai backend adapter does not support MultiModal",
				Transform: &ir.SemanticTransform{
					Parameter: "message.parts", Reason: "image parts have no wire representation in this adapter",
					Fidelity: ir.FidelityLossy,
				},
			})
		}
	}
	if len(textParts) > 0 {
		wm.Content = strings.Join(textParts, "")
	}
	return wm, warnings
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

func toolResultString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// messageFromWire converts an OpenAI response message into an IR message.
// A message with no tool calls collapses to plain Text; one with ToolCalls
// is represented as Parts so the caller sees the tool call instead of it
// being silently dropped.
func messageFromWire(wm wireMessage) ir.Message {
	if len(wm.ToolCalls) == 0 {
		return ir.Message{Role: ir.RoleAssistant, Text: wm.Content}
	}

	parts := make([]ir.ContentPart, 0, len(wm.ToolCalls)+1)
	if wm.Content != "" {
		parts = append(parts, ir.ContentPart{Kind: ir.ContentText, Text: wm.Content})
	}
	for _, tc := range wm.ToolCalls {
		var input any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
			input = tc.Function.Arguments
		}
		parts = append(parts, ir.ContentPart{
			Kind: ir.ContentToolUse, ToolUseID: tc.ID, ToolName: tc.Function.Name, ToolInput: input,
		})
	}
	return ir.Message{Role: ir.RoleAssistant, Parts: parts}
}

// ToIR is a pure helper converting an OpenAI wire response plus the
// originating request and measured latency into an IR response.
func ToIR(resp wireResponse, original *ir.Request, latencyMs int64) *ir.Response {
	message := ir.Message{Role: ir.RoleAssistant}
	finishRaw := ""
	if len(resp.Choices) > 0 {
		message = messageFromWire(resp.Choices[0].Message)
		finishRaw = resp.Choices[0].FinishReason
	}

	finish, ok := finishReasonToIR[finishRaw]
	if !ok {
		finish = ir.FinishStop
	}

	meta := original.Metadata
	meta.Custom = mergeCustom(meta.Custom, map[string]any{"latencyMs": latencyMs})

	out := &ir.Response{
		Message:      message,
		FinishReason: finish,
		Metadata:     meta,
		Raw:          resp,
	}
	if resp.Usage != nil {
		out.Usage = &ir.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out
}

func mergeCustom(existing map[string]any, add map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(add))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range add {
		out[k] = v
	}
	return out
}

// Execute performs a non-streaming OpenAI chat-completions call.
func (a *Adapter) Execute(ctx context.Context, req *ir.Request) (*ir.Response, error) {
	wireReq, warnings := FromIR(req)

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindAdapterConversionError, "marshaling openai request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindNetworkError, "building openai request", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("authorization", "Bearer "+a.apiKey)

	start := time.Now()
	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindNetworkError, "openai request failed", err)
	}
	defer httpResp.Body.Close()
	latencyMs := time.Since(start).Milliseconds()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindNetworkError, "reading openai response", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, gwerror.FromHTTPStatus(httpResp.StatusCode, httpResp.Status, string(respBody), httpResp.Header)
	}

	var wireResp wireResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, gwerror.Wrap(gwerror.KindAdapterConversionError, "decoding openai response", err)
	}

	resp := ToIR(wireResp, req, latencyMs)
	for _, w := range warnings {
		resp.Metadata = resp.Metadata.AddWarning(w)
	}
	resp.Metadata.Provenance.Backend = a.name
	return resp, nil
}

// ExecuteStream performs a streaming OpenAI chat-completions call, parsing
// its `data:` SSE lines terminated by `[DONE]` into IR stream chunks.
func (a *Adapter) ExecuteStream(ctx context.Context, req *ir.Request) (<-chan ir.StreamChunk, error) {
	wireReq, warnings := FromIR(req)
	wireReq.Stream = true

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindAdapterConversionError, "marshaling openai request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindNetworkError, "building openai request", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("accept", "text/event-stream")

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindNetworkError, "openai stream request failed", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, gwerror.FromHTTPStatus(httpResp.StatusCode, httpResp.Status, string(respBody), httpResp.Header)
	}

	out := make(chan ir.StreamChunk)

	go func() {
		defer close(out)
		defer httpResp.Body.Close()

		startMeta := req.Metadata
		for _, w := range warnings {
			startMeta = startMeta.AddWarning(w)
		}

		seq := 0
		send := func(c ir.StreamChunk) bool {
			c.Sequence = seq
			seq++
			if c.Metadata.RequestID == "" {
				c.Metadata = startMeta
			}
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(ir.StreamChunk{Kind: ir.ChunkStart}) {
			return
		}

		var accumulated strings.Builder
		var usage *wireUsage

		scanner := bufio.NewScanner(httpResp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			if payload == "[DONE]" {
				finish := ir.FinishStop
				var tu *ir.TokenUsage
				if usage != nil {
					tu = &ir.TokenUsage{
						PromptTokens:     usage.PromptTokens,
						CompletionTokens: usage.CompletionTokens,
						TotalTokens:      usage.TotalTokens,
					}
				}
				send(ir.StreamChunk{
					Kind:             ir.ChunkDone,
					DoneFinishReason: finish,
					DoneUsage:        tu,
					Message:          &ir.Message{Role: ir.RoleAssistant, Text: accumulated.String()},
				})
				return
			}

			var chunk wireStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				send(ir.StreamChunk{Kind: ir.ChunkError, ErrorCode: string(gwerror.KindStreamParseError), ErrorMessage: err.Error()})
				return
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				accumulated.WriteString(choice.Delta.Content)
				c := ir.StreamChunk{Kind: ir.ChunkContent, Delta: choice.Delta.Content, Role: ir.RoleAssistant}
				if req.StreamMode == ir.StreamModeAccumulated {
					c.Accumulated = accumulated.String()
				}
				if !send(c) {
					return
				}
			}

			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finish, ok := finishReasonToIR[*choice.FinishReason]
				if !ok {
					finish = ir.FinishStop
				}
				var tu *ir.TokenUsage
				if usage != nil {
					tu = &ir.TokenUsage{
						PromptTokens:     usage.PromptTokens,
						CompletionTokens: usage.CompletionTokens,
						TotalTokens:      usage.TotalTokens,
					}
				}
				send(ir.StreamChunk{
					Kind:             ir.ChunkDone,
					DoneFinishReason: finish,
					DoneUsage:        tu,
					Message:          &ir.Message{Role: ir.RoleAssistant, Text: accumulated.String()},
				})
				return
			}
		}

		if err := scanner.Err(); err != nil {
			send(ir.StreamChunk{Kind: ir.ChunkError, ErrorCode: string(gwerror.KindStreamInterrupted), ErrorMessage: err.Error()})
		}
	}()

	return out, nil
}

// HealthCheck issues a minimal chat-completions call to verify reachability.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions",
		bytes.NewReader([]byte(`{"model":"gpt-4o-mini","max_tokens":1,"messages":[{"role":"user","content":"ping"}]}`)))
	if err != nil {
		return false
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}
