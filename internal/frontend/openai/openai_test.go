package openai

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnolan/irgateway/ir"
)

func TestToIRConvertsMessagesAndParameters(t *testing.T) {
	a := New()
	body := []byte(`{
		"model": "gpt-4",
		"messages": [
			{"role":"system","content":"Be terse."},
			{"role":"user","content":"2+2?"}
		],
		"temperature": 0.7,
		"max_tokens": 16
	}`)

	req, err := a.ToIR(body)
	require.NoError(t, err)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, ir.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "Be terse.", req.Messages[0].Text)
	assert.Equal(t, ir.RoleUser, req.Messages[1].Role)

	require.NotNil(t, req.Parameters.Temperature)
	assert.InDelta(t, 0.7, *req.Parameters.Temperature, 0.0001)
	require.NotNil(t, req.Parameters.MaxTokens)
	assert.Equal(t, 16, *req.Parameters.MaxTokens)
	assert.Equal(t, "gpt-4", req.Parameters.Model)
}

func TestToIRRejectsEmptyMessages(t *testing.T) {
	a := New()
	_, err := a.ToIR([]byte(`{"model":"gpt-4","messages":[]}`))
	assert.Error(t, err)
}

func TestToIRRejectsMalformedJSON(t *testing.T) {
	a := New()
	_, err := a.ToIR([]byte(`not json`))
	assert.Error(t, err)
}

func TestFromIRBuildsChatCompletionShape(t *testing.T) {
	a := New()
	resp := &ir.Response{
		Message:      ir.Message{Role: ir.RoleAssistant, Text: "4"},
		FinishReason: ir.FinishStop,
		Usage:        &ir.TokenUsage{PromptTokens: 10, CompletionTokens: 1, TotalTokens: 11},
		Metadata: ir.Metadata{
			RequestID: "req-1",
			Provenance: ir.Provenance{Backend: "anthropic-backend"},
		},
	}

	body, err := a.FromIR(resp)
	require.NoError(t, err)

	var decoded response
	require.NoError(t, json.Unmarshal(body, &decoded))

	require.Len(t, decoded.Choices, 1)
	assert.Equal(t, "assistant", decoded.Choices[0].Message.Role)
	assert.Equal(t, "4", decoded.Choices[0].Message.Content)
	assert.Equal(t, "stop", decoded.Choices[0].FinishReason)
	require.NotNil(t, decoded.Usage)
	assert.Equal(t, 11, decoded.Usage.TotalTokens)
}

func TestToIRParsesToolCallsAndToolResultMessages(t *testing.T) {
	a := New()
	body := []byte(`{
		"model": "gpt-4",
		"messages": [
			{"role":"assistant","tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"NYC\"}"}}]},
			{"role":"tool","tool_call_id":"call_1","content":"72F"}
		]
	}`)

	req, err := a.ToIR(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)

	assistant := req.Messages[0]
	require.False(t, assistant.IsPlainText())
	require.Len(t, assistant.Parts, 1)
	assert.Equal(t, ir.ContentToolUse, assistant.Parts[0].Kind)
	assert.Equal(t, "call_1", assistant.Parts[0].ToolUseID)
	assert.Equal(t, "get_weather", assistant.Parts[0].ToolName)

	toolMsg := req.Messages[1]
	require.False(t, toolMsg.IsPlainText())
	require.Len(t, toolMsg.Parts, 1)
	assert.Equal(t, ir.ContentToolResult, toolMsg.Parts[0].Kind)
	assert.Equal(t, "call_1", toolMsg.Parts[0].ToolResultForID)
	assert.Equal(t, "72F", toolMsg.Parts[0].ToolResult)
}

func TestFromIRRendersToolUsePartsAsToolCalls(t *testing.T) {
	a := New()
	resp := &ir.Response{
		Message: ir.Message{
			Role: ir.RoleAssistant,
			Parts: []ir.ContentPart{
				{Kind: ir.ContentToolUse, ToolUseID: "call_1", ToolName: "get_weather", ToolInput: map[string]any{"city": "NYC"}},
			},
		},
		FinishReason: ir.FinishToolCalls,
		Metadata:     ir.Metadata{RequestID: "req-3"},
	}

	body, err := a.FromIR(resp)
	require.NoError(t, err)

	var decoded response
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Len(t, decoded.Choices, 1)
	assert.Equal(t, "tool_calls", decoded.Choices[0].FinishReason)
	require.Len(t, decoded.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "call_1", decoded.Choices[0].Message.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", decoded.Choices[0].Message.ToolCalls[0].Function.Name)
}

func TestFromIRStreamEmitsDeltasAndTerminatesWithDone(t *testing.T) {
	a := New()
	in := make(chan ir.StreamChunk)
	ctx := context.Background()

	out := a.FromIRStream(ctx, in)

	go func() {
		in <- ir.StreamChunk{Kind: ir.ChunkStart, Sequence: 0, Metadata: ir.Metadata{RequestID: "req-2"}}
		in <- ir.StreamChunk{Kind: ir.ChunkContent, Sequence: 1, Delta: "hel"}
		in <- ir.StreamChunk{Kind: ir.ChunkContent, Sequence: 2, Delta: "lo"}
		in <- ir.StreamChunk{Kind: ir.ChunkDone, Sequence: 3, DoneFinishReason: ir.FinishStop}
		close(in)
	}()

	var frames [][]byte
	timeout := time.After(time.Second)
collect:
	for {
		select {
		case frame, ok := <-out:
			if !ok {
				break collect
			}
			frames = append(frames, frame)
		case <-timeout:
			t.Fatal("timed out waiting for stream frames")
		}
	}

	require.Len(t, frames, 4, "two content deltas + finish-reason frame + terminal [DONE]")
	assert.Contains(t, string(frames[0]), `"content":"hel"`)
	assert.Contains(t, string(frames[1]), `"content":"lo"`)
	assert.Contains(t, string(frames[2]), `"finish_reason":"stop"`)
	assert.Equal(t, "data: [DONE]\n\n", string(frames[3]))
}
