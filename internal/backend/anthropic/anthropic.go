// Package anthropic implements the backend.Adapter contract against the
// Anthropic Messages API. Grounded directly on the teacher's
// internal/provider/anthropic.go AnthropicProvider, generalized from the
// teacher's narrow ChatRequest/ChatResponse to the gateway's IR.
package anthropic

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

const (
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1024
	defaultBaseURL   = "https://api.anthropic.com/v1"
)

// Adapter implements backend.Adapter against the Anthropic Messages API.
type Adapter struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
	caps    ir.Capabilities
}

// New constructs an Anthropic backend adapter. client defaults to
// http.DefaultClient if nil; baseURL defaults to the public API endpoint.
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
			// Images are not wired through any adapter in this gateway, so
			// MultiModal stays false rather than silently dropping image
			// parts (tool_use/tool_result are wired — see FromIR/ToIR).
			MultiModal:            false,
			Tools:                 true,
			MaxContextTokens:      200000,
			SystemMessageStrategy: ir.SystemSeparateParameter,
			SupportsTemperature:   true,
			SupportsTopP:          true,
			SupportsTopK:          true,
			MaxStopSequences:      8,
			TemperatureRange:      &ir.TemperatureRange{Min: 0, Max: 1},
		},
	}
}

func (a *Adapter) Name() string                  { return a.name }
func (a *Adapter) Capabilities() ir.Capabilities { return a.caps }

// wireRequest is the Anthropic Messages API request shape.
type wireRequest struct {
	Model         string        `json:"model"`
	MaxTokens     int           `json:"max_tokens"`
	System        string        `json:"system,omitempty"`
	Messages      []wireMessage `json:"messages"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	TopK          *int          `json:"top_k,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
}

// wireMessage's Content is either a plain string or a []wireBlock, chosen
// by messageContent depending on whether the IR message is plain text.
type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// wireResponse is the Anthropic Messages API response shape.
type wireResponse struct {
	ID         string      `json:"id"`
	Content    []wireBlock `json:"content"`
	Model      string      `json:"model"`
	StopReason string      `json:"stop_reason"`
	Usage      wireUsage   `json:"usage"`
}

// wireBlock is a Messages API content block; only the fields matching Type
// are populated: text for "text", id/name/input for "tool_use",
// tool_use_id/content for "tool_result".
type wireBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireStreamEvent struct {
	Type    string          `json:"type"`
	Message *wireEventMsg   `json:"message,omitempty"`
	Delta   *wireEventDelta `json:"delta,omitempty"`
	Usage   *wireUsage      `json:"usage,omitempty"`
}

type wireEventMsg struct {
	ID    string    `json:"id"`
	Model string    `json:"model"`
	Usage wireUsage `json:"usage"`
}

type wireEventDelta struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	StopReason string `json:"stop_reason"`
}

var stopReasonToIR = map[string]ir.FinishReason{
	"end_turn":      ir.FinishStop,
	"max_tokens":    ir.FinishLength,
	"stop_sequence": ir.FinishStop,
	"tool_use":      ir.FinishToolCalls,
}

// FromIR is a pure helper converting an IR request into the Anthropic wire
// request. System messages are normalized per the adapter's advertised
// SystemMessageStrategy: joined into the separate `system` parameter.
func FromIR(req *ir.Request) (wireRequest, []ir.Warning) {
	var warnings []ir.Warning
	var systemParts []string
	messages := make([]wireMessage, 0, len(req.Messages))

	for _, m := range req.Messages {
		if m.Role == ir.RoleSystem {
			systemParts = append(systemParts, m.Text)
			continue
		}
		role := "user"
		if m.Role == ir.RoleAssistant {
			role = "assistant"
		}
		content, partWarnings := messageContent(m)
		warnings = append(warnings, partWarnings...)
		messages = append(messages, wireMessage{Role: role, Content: content})
	}

	if len(systemParts) > 1 {
		warnings = append(warnings, ir.Warning{
			Message: "multiple system messages merged into one Anthropic system parameter",
			Transform: &ir.SemanticTransform{
				Parameter:        "system",
				OriginalValue:    systemParts,
				TransformedValue: strings.Join(systemParts, "\n\n"),
				Reason:           "Anthropic supports only one system parameter",
				Fidelity:         ir.FidelityApproximate,
			},
		})
	}

	out := wireRequest{
		Messages: messages,
		System:   strings.Join(systemParts, "\n\n"),
		Stream:   req.Stream,
	}

	if req.Parameters != nil {
		out.Model = req.Parameters.Model
		out.TopP = req.Parameters.TopP
		out.TopK = req.Parameters.TopK
		out.StopSequences = req.Parameters.StopSequences
		if req.Parameters.MaxTokens != nil {
			out.MaxTokens = *req.Parameters.MaxTokens
		}
		if req.Parameters.Temperature != nil {
			irTemp := *req.Parameters.Temperature
			// IR temperature is unified 0..2; Anthropic's native range is
			// 0..1, so the value is rescaled proportionally (x0.5) rather
			// than just clamped at the boundary.
			temp := irTemp / 2
			fidelity := ir.FidelityApproximate
			reason := "Anthropic's native temperature range is 0..1; IR uses a unified 0..2 range"
			if temp > 1 {
				temp = 1
				fidelity = ir.FidelityLossy
				reason = "Anthropic accepts temperature in 0..1; out-of-range value was clamped after rescaling"
			}
			warnings = append(warnings, ir.Warning{
				Message: "temperature rescaled to Anthropic's 0..1 range",
				Transform: &ir.SemanticTransform{
					Parameter:        "temperature",
					OriginalValue:    irTemp,
					TransformedValue: temp,
					Reason:           reason,
					Fidelity:         fidelity,
				},
			})
			out.Temperature = &temp
		}
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = defaultMaxTokens
	}

	return out, warnings
}

// messageContent renders an IR message's content for the Anthropic wire:
// a plain string for plain-text messages, or a []wireBlock preserving
// tool_use/tool_result parts. An image part has no wire representation
// here (MultiModal is false) and is dropped with a recorded warning rather
// than silently discarded.
func messageContent(m ir.Message) (any, []ir.Warning) {
	if m.IsPlainText() {
		return m.Text, nil
	}

	var warnings []ir.Warning
	blocks := make([]wireBlock, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Kind {
		case ir.ContentText:
			blocks = append(blocks, wireBlock{Type: "text", Text: p.Text})
		case ir.ContentToolUse:
			blocks = append(blocks, wireBlock{Type: "tool_use", ID: p.ToolUseID, Name: p.ToolName, Input: p.ToolInput})
		case ir.ContentToolResult:
			blocks = append(blocks, wireBlock{Type: "tool_result", ToolUseID: p.ToolResultForID, Content: toolResultString(p.ToolResult)})
		case ir.ContentImage:
			warnings = append(warnings, ir.Warning{
				Message: "image content part dropped: anthropic backend adapter does not support MultiModal",
				Transform: &ir.SemanticTransform{
					Parameter: "message.parts", Reason: "image parts have no wire representation in this adapter",
					Fidelity: ir.FidelityLossy,
				},
			})
		}
	}
	return blocks, warnings
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

// contentToIR converts Anthropic response content blocks into an IR
// message. Pure text-block responses collapse to plain Text; a response
// that also carries tool_use blocks (or any non-text block) is represented
// as Parts so the caller sees the tool call instead of it being silently
// dropped.
func contentToIR(blocks []wireBlock) ir.Message {
	plain := true
	for _, b := range blocks {
		if b.Type != "text" {
			plain = false
			break
		}
	}
	if plain {
		var sb strings.Builder
		for _, b := range blocks {
			sb.WriteString(b.Text)
		}
		return ir.Message{Role: ir.RoleAssistant, Text: sb.String()}
	}

	parts := make([]ir.ContentPart, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, ir.ContentPart{Kind: ir.ContentText, Text: b.Text})
		case "tool_use":
			parts = append(parts, ir.ContentPart{Kind: ir.ContentToolUse, ToolUseID: b.ID, ToolName: b.Name, ToolInput: b.Input})
		}
	}
	return ir.Message{Role: ir.RoleAssistant, Parts: parts}
}

// ToIR is a pure helper converting an Anthropic wire response plus the
// originating request and measured latency into an IR response.
func ToIR(resp wireResponse, original *ir.Request, latencyMs int64) *ir.Response {
	finish, ok := stopReasonToIR[resp.StopReason]
	if !ok {
		finish = ir.FinishStop
	}

	meta := original.Metadata
	meta.Custom = mergeCustom(meta.Custom, map[string]any{"latencyMs": latencyMs})

	return &ir.Response{
		Message:      contentToIR(resp.Content),
		FinishReason: finish,
		Usage: &ir.TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		Metadata: meta,
		Raw:      resp,
	}
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

// Execute performs a non-streaming Anthropic Messages call.
func (a *Adapter) Execute(ctx context.Context, req *ir.Request) (*ir.Response, error) {
	wireReq, warnings := FromIR(req)

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindAdapterConversionError, "marshaling anthropic request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindNetworkError, "building anthropic request", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	start := time.Now()
	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindNetworkError, "anthropic request failed", err)
	}
	defer httpResp.Body.Close()
	latencyMs := time.Since(start).Milliseconds()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindNetworkError, "reading anthropic response", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, gwerror.FromHTTPStatus(httpResp.StatusCode, httpResp.Status, string(respBody), httpResp.Header)
	}

	var wireResp wireResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, gwerror.Wrap(gwerror.KindAdapterConversionError, "decoding anthropic response", err)
	}

	resp := ToIR(wireResp, req, latencyMs)
	for _, w := range warnings {
		resp.Metadata = resp.Metadata.AddWarning(w)
	}
	resp.Metadata.Provenance.Backend = a.name
	return resp, nil
}

// ExecuteStream performs a streaming Anthropic Messages call, parsing its
// event-typed SSE transport into IR stream chunks.
func (a *Adapter) ExecuteStream(ctx context.Context, req *ir.Request) (<-chan ir.StreamChunk, error) {
	wireReq, warnings := FromIR(req)
	wireReq.Stream = true

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindAdapterConversionError, "marshaling anthropic request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindNetworkError, "building anthropic request", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("accept", "text/event-stream")

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindNetworkError, "anthropic stream request failed", err)
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

		seq := 0
		send := func(c ir.StreamChunk) bool {
			c.Sequence = seq
			seq++
			if c.Metadata.RequestID == "" {
				c.Metadata = req.Metadata
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
		var respID, model string
		var inputTokens, outputTokens int

		scanner := bufio.NewScanner(httpResp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				continue
			}

			var event wireStreamEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				send(ir.StreamChunk{Kind: ir.ChunkError, ErrorCode: string(gwerror.KindStreamParseError), ErrorMessage: err.Error()})
				return
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					respID = event.Message.ID
					model = event.Message.Model
					inputTokens = event.Message.Usage.InputTokens
				}
			case "content_block_delta":
				if event.Delta == nil || event.Delta.Text == "" {
					continue
				}
				accumulated.WriteString(event.Delta.Text)
				chunk := ir.StreamChunk{Kind: ir.ChunkContent, Delta: event.Delta.Text, Role: ir.RoleAssistant}
				if req.StreamMode == ir.StreamModeAccumulated {
					chunk.Accumulated = accumulated.String()
				}
				if !send(chunk) {
					return
				}
			case "message_delta":
				if event.Usage != nil {
					outputTokens = event.Usage.OutputTokens
				}
			case "message_stop":
				finish := ir.FinishStop
				usage := &ir.TokenUsage{
					PromptTokens:     inputTokens,
					CompletionTokens: outputTokens,
					TotalTokens:      inputTokens + outputTokens,
				}
				meta := req.Metadata
				meta.Provenance.Backend = a.name
				meta.Custom = mergeCustom(meta.Custom, map[string]any{"anthropicMessageId": respID, "anthropicModel": model})
				for _, w := range warnings {
					meta = meta.AddWarning(w)
				}
				send(ir.StreamChunk{
					Kind:             ir.ChunkDone,
					Metadata:         meta,
					DoneFinishReason: finish,
					DoneUsage:        usage,
					Message:          &ir.Message{Role: ir.RoleAssistant, Text: accumulated.String()},
				})
				return
			case "ping":
				continue
			}
		}

		if err := scanner.Err(); err != nil {
			send(ir.StreamChunk{Kind: ir.ChunkError, ErrorCode: string(gwerror.KindStreamInterrupted), ErrorMessage: err.Error()})
		}
	}()

	return out, nil
}

// HealthCheck issues a minimal request to verify the backend is reachable.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages",
		bytes.NewReader([]byte(`{"model":"claude-3-haiku-20240307","max_tokens":1,"messages":[{"role":"user","content":"ping"}]}`)))
	if err != nil {
		return false
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}
