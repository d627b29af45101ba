// Package gemini implements the backend.Adapter contract against the
// Google Gemini generateContent API. Grounded directly on the teacher's
// internal/provider/google.go GoogleProvider, generalized to the
// gateway's IR.
package gemini

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

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Adapter implements backend.Adapter against the Gemini generateContent API.
type Adapter struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
	caps    ir.Capabilities
}

// New constructs a Gemini backend adapter.
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
			MultiModal:            false,
			MaxContextTokens:      1000000,
			SystemMessageStrategy: ir.SystemInstruction,
			SupportsTemperature:   true,
			SupportsTopP:          true,
			SupportsTopK:          true,
			TemperatureRange:      &ir.TemperatureRange{Min: 0, Max: 2},
		},
	}
}

func (a *Adapter) Name() string                  { return a.name }
func (a *Adapter) Capabilities() ir.Capabilities { return a.caps }

type wireRequest struct {
	Contents          []wireContent    `json:"contents"`
	SystemInstruction *wireContent     `json:"systemInstruction,omitempty"`
	GenerationConfig  *wireGenConfig   `json:"generationConfig,omitempty"`
}

type wireContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text string `json:"text"`
}

type wireGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type wireResponse struct {
	Candidates    []wireCandidate `json:"candidates"`
	UsageMetadata *wireUsage      `json:"usageMetadata,omitempty"`
}

type wireCandidate struct {
	Content      wireContent `json:"content"`
	FinishReason string      `json:"finishReason"`
}

type wireUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

var finishReasonToIR = map[string]ir.FinishReason{
	"STOP":       ir.FinishStop,
	"MAX_TOKENS": ir.FinishLength,
	"SAFETY":     ir.FinishContentFilter,
}

// FromIR is a pure helper converting an IR request into the Gemini wire
// request. System messages are normalized per SystemInstruction strategy:
// concatenated into a single systemInstruction content.
func FromIR(req *ir.Request) (wireRequest, []ir.Warning) {
	var warnings []ir.Warning
	var systemParts []string
	contents := make([]wireContent, 0, len(req.Messages))

	for _, m := range req.Messages {
		if m.Role == ir.RoleSystem {
			systemParts = append(systemParts, m.Text)
			continue
		}
		role := "user"
		if m.Role == ir.RoleAssistant {
			role = "model"
		}
		contents = append(contents, wireContent{Role: role, Parts: []wirePart{{Text: m.Text}}})
	}

	out := wireRequest{Contents: contents}
	if len(systemParts) > 0 {
		out.SystemInstruction = &wireContent{Parts: []wirePart{{Text: strings.Join(systemParts, "\n\n")}}}
	}
	if len(systemParts) > 1 {
		warnings = append(warnings, ir.Warning{
			Message: "multiple system messages merged into one Gemini systemInstruction",
			Transform: &ir.SemanticTransform{
				Parameter:        "systemInstruction",
				OriginalValue:    systemParts,
				TransformedValue: strings.Join(systemParts, "\n\n"),
				Reason:           "Gemini supports only one systemInstruction",
				Fidelity:         ir.FidelityApproximate,
			},
		})
	}

	if req.Parameters != nil {
		gc := &wireGenConfig{
			TopP:          req.Parameters.TopP,
			TopK:          req.Parameters.TopK,
			MaxOutputTokens: req.Parameters.MaxTokens,
			StopSequences: req.Parameters.StopSequences,
		}
		if req.Parameters.Temperature != nil {
			temp := *req.Parameters.Temperature
			gc.Temperature = &temp // Gemini's native range is 0..2, identical to unified IR range.
		}
		out.GenerationConfig = gc
	}

	return out, warnings
}

// ToIR is a pure helper converting a Gemini wire response plus the
// originating request and measured latency into an IR response.
func ToIR(resp wireResponse, original *ir.Request, latencyMs int64) *ir.Response {
	text := ""
	finishRaw := ""
	if len(resp.Candidates) > 0 {
		c := resp.Candidates[0]
		finishRaw = c.FinishReason
		var sb strings.Builder
		for i, p := range c.Content.Parts {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(p.Text)
		}
		text = sb.String()
	}

	finish, ok := finishReasonToIR[finishRaw]
	if !ok {
		finish = ir.FinishStop
	}

	meta := original.Metadata
	meta.Custom = mergeCustom(meta.Custom, map[string]any{"latencyMs": latencyMs})

	resultResp := &ir.Response{
		Message:      ir.Message{Role: ir.RoleAssistant, Text: text},
		FinishReason: finish,
		Metadata:     meta,
		Raw:          resp,
	}
	if resp.UsageMetadata != nil {
		resultResp.Usage = &ir.TokenUsage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return resultResp
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

func (a *Adapter) modelPath(model, verb string) string {
	return fmt.Sprintf("%s/models/%s:%s?key=%s", a.baseURL, model, verb, a.apiKey)
}

// Execute performs a non-streaming Gemini generateContent call.
func (a *Adapter) Execute(ctx context.Context, req *ir.Request) (*ir.Response, error) {
	wireReq, warnings := FromIR(req)

	model := "gemini-pro"
	if req.Parameters != nil && req.Parameters.Model != "" {
		model = req.Parameters.Model
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindAdapterConversionError, "marshaling gemini request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.modelPath(model, "generateContent"), bytes.NewReader(body))
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindNetworkError, "building gemini request", err)
	}
	httpReq.Header.Set("content-type", "application/json")

	start := time.Now()
	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindNetworkError, "gemini request failed", err)
	}
	defer httpResp.Body.Close()
	latencyMs := time.Since(start).Milliseconds()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindNetworkError, "reading gemini response", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, gwerror.FromHTTPStatus(httpResp.StatusCode, httpResp.Status, string(respBody), httpResp.Header)
	}

	var wireResp wireResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, gwerror.Wrap(gwerror.KindAdapterConversionError, "decoding gemini response", err)
	}

	resp := ToIR(wireResp, req, latencyMs)
	for _, w := range warnings {
		resp.Metadata = resp.Metadata.AddWarning(w)
	}
	resp.Metadata.Provenance.Backend = a.name
	return resp, nil
}

// ExecuteStream performs a streaming Gemini streamGenerateContent call,
// parsing its SSE-framed JSON response objects into IR stream chunks.
func (a *Adapter) ExecuteStream(ctx context.Context, req *ir.Request) (<-chan ir.StreamChunk, error) {
	wireReq, warnings := FromIR(req)

	model := "gemini-pro"
	if req.Parameters != nil && req.Parameters.Model != "" {
		model = req.Parameters.Model
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindAdapterConversionError, "marshaling gemini request", err)
	}

	url := a.modelPath(model, "streamGenerateContent") + "&alt=sse"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindNetworkError, "building gemini stream request", err)
	}
	httpReq.Header.Set("content-type", "application/json")

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindNetworkError, "gemini stream request failed", err)
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

			var chunkResp wireResponse
			if err := json.Unmarshal([]byte(payload), &chunkResp); err != nil {
				send(ir.StreamChunk{Kind: ir.ChunkError, ErrorCode: string(gwerror.KindStreamParseError), ErrorMessage: err.Error()})
				return
			}
			if chunkResp.UsageMetadata != nil {
				usage = chunkResp.UsageMetadata
			}

			if len(chunkResp.Candidates) == 0 {
				continue
			}
			candidate := chunkResp.Candidates[0]

			var delta strings.Builder
			for _, p := range candidate.Content.Parts {
				delta.WriteString(p.Text)
			}
			if delta.Len() > 0 {
				accumulated.WriteString(delta.String())
				chunk := ir.StreamChunk{Kind: ir.ChunkContent, Delta: delta.String(), Role: ir.RoleAssistant}
				if req.StreamMode == ir.StreamModeAccumulated {
					chunk.Accumulated = accumulated.String()
				}
				if !send(chunk) {
					return
				}
			}

			if candidate.FinishReason != "" {
				finish, ok := finishReasonToIR[candidate.FinishReason]
				if !ok {
					finish = ir.FinishStop
				}
				var tu *ir.TokenUsage
				if usage != nil {
					tu = &ir.TokenUsage{
						PromptTokens:     usage.PromptTokenCount,
						CompletionTokens: usage.CandidatesTokenCount,
						TotalTokens:      usage.TotalTokenCount,
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

// HealthCheck issues a minimal generateContent call to verify reachability.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.modelPath("gemini-pro", "generateContent"),
		bytes.NewReader([]byte(`{"contents":[{"role":"user","parts":[{"text":"ping"}]}]}`)))
	if err != nil {
		return false
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}
