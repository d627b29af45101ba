// Package gemini implements the frontend.Adapter contract for the Google
// Gemini generateContent dialect. Wire shapes are grounded on the
// teacher's internal/provider/google.go backend structs.
package gemini

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hnolan/irgateway/internal/gwerror"
	"github.com/hnolan/irgateway/ir"
)

// Adapter implements frontend.Adapter for the Gemini dialect.
type Adapter struct{}

// New returns a Gemini dialect frontend adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Name() string { return "gemini" }

// request is the Gemini generateContent request shape.
type request struct {
	Contents          []content          `json:"contents"`
	SystemInstruction *content           `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig  `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// response is the Gemini generateContent response shape.
type response struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

var finishReasonFromIR = map[ir.FinishReason]string{
	ir.FinishStop:          "STOP",
	ir.FinishLength:        "MAX_TOKENS",
	ir.FinishContentFilter: "SAFETY",
	ir.FinishToolCalls:     "STOP",
	ir.FinishCancelled:     "STOP",
	ir.FinishError:         "STOP",
}

func textOf(c content) string {
	var sb strings.Builder
	for i, p := range c.Parts {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// ToIR converts a Gemini generateContent request body into IR. The
// separate systemInstruction field is lifted into a leading system
// Message, concatenating parts when there is more than one.
func (a *Adapter) ToIR(body []byte) (*ir.Request, error) {
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, gwerror.Wrap(gwerror.KindInvalidRequest, "malformed gemini request body", err)
	}
	if len(req.Contents) == 0 {
		return nil, gwerror.New(gwerror.KindInvalidMessageFormat, "gemini request must have at least one content entry")
	}

	messages := make([]ir.Message, 0, len(req.Contents)+1)
	if req.SystemInstruction != nil {
		messages = append(messages, ir.Message{Role: ir.RoleSystem, Text: textOf(*req.SystemInstruction)})
	}
	for _, c := range req.Contents {
		role := ir.RoleUser
		if c.Role == "model" {
			role = ir.RoleAssistant
		}
		messages = append(messages, ir.Message{Role: role, Text: textOf(c)})
	}

	params := &ir.Parameters{}
	if req.GenerationConfig != nil {
		params.Temperature = req.GenerationConfig.Temperature
		params.TopP = req.GenerationConfig.TopP
		params.TopK = req.GenerationConfig.TopK
		params.MaxTokens = req.GenerationConfig.MaxOutputTokens
		params.StopSequences = req.GenerationConfig.StopSequences
	}

	return &ir.Request{Messages: messages, Parameters: params}, nil
}

// FromIR converts an IR response into a Gemini generateContent response
// body.
func (a *Adapter) FromIR(resp *ir.Response) ([]byte, error) {
	if !resp.Message.IsPlainText() {
		return nil, gwerror.New(gwerror.KindAdapterConversionError, "gemini frontend does not represent multi-part content in a non-streaming response")
	}

	fr, ok := finishReasonFromIR[resp.FinishReason]
	if !ok {
		fr = "STOP"
	}

	out := response{
		Candidates: []candidate{{
			Content:      content{Role: "model", Parts: []part{{Text: resp.Message.Text}}},
			FinishReason: fr,
		}},
	}
	if resp.Usage != nil {
		out.UsageMetadata = &usageMetadata{
			PromptTokenCount:     resp.Usage.PromptTokens,
			CandidatesTokenCount: resp.Usage.CompletionTokens,
			TotalTokenCount:      resp.Usage.TotalTokens,
		}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindAdapterConversionError, "marshaling gemini response", err)
	}
	return b, nil
}

// FromIRStream converts IR stream chunks into Gemini's streamed JSON
// response objects (one response-shaped JSON value per chunk, as Gemini's
// streamGenerateContent SSE transport frames them).
func (a *Adapter) FromIRStream(ctx context.Context, chunks <-chan ir.StreamChunk) <-chan []byte {
	out := make(chan []byte)

	go func() {
		defer close(out)

		emit := func(payload any) bool {
			b, err := json.Marshal(payload)
			if err != nil {
				return true
			}
			frame := append([]byte("data: "), append(b, '\n', '\n')...)
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
				continue
			case ir.ChunkContent:
				if !emit(response{
					Candidates: []candidate{{
						Content: content{Role: "model", Parts: []part{{Text: chunk.Delta}}},
					}},
				}) {
					return
				}
			case ir.ChunkMetadata:
				continue
			case ir.ChunkDone:
				fr := finishReasonFromIR[chunk.DoneFinishReason]
				final := response{
					Candidates: []candidate{{
						Content:      content{Role: "model", Parts: []part{{Text: ""}}},
						FinishReason: fr,
					}},
				}
				if chunk.DoneUsage != nil {
					final.UsageMetadata = &usageMetadata{
						PromptTokenCount:     chunk.DoneUsage.PromptTokens,
						CandidatesTokenCount: chunk.DoneUsage.CompletionTokens,
						TotalTokenCount:      chunk.DoneUsage.TotalTokens,
					}
				}
				emit(final)
				return
			case ir.ChunkError:
				emit(map[string]any{
					"error": map[string]string{
						"code":    chunk.ErrorCode,
						"message": chunk.ErrorMessage,
					},
				})
				return
			}
		}
	}()

	return out
}
