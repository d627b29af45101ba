package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnolan/irgateway/internal/gwerror"
	"github.com/hnolan/irgateway/ir"
)

func testRequest() *ir.Request {
	maxTokens := 64
	return &ir.Request{
		Messages: []ir.Message{
			{Role: ir.RoleSystem, Text: "Be terse."},
			{Role: ir.RoleUser, Text: "hi"},
		},
		Parameters: &ir.Parameters{Model: "gemini-pro", MaxTokens: &maxTokens},
		Metadata:   ir.Metadata{RequestID: "req-1", Timestamp: time.Now()},
	}
}

func TestFromIRLiftsSystemIntoSystemInstruction(t *testing.T) {
	wireReq, warnings := FromIR(testRequest())

	require.NotNil(t, wireReq.SystemInstruction)
	assert.Equal(t, "Be terse.", wireReq.SystemInstruction.Parts[0].Text)
	require.Len(t, wireReq.Contents, 1)
	assert.Equal(t, "user", wireReq.Contents[0].Role)
	assert.Empty(t, warnings)
}

func TestFromIRMapsAssistantRoleToModel(t *testing.T) {
	req := testRequest()
	req.Messages = append(req.Messages, ir.Message{Role: ir.RoleAssistant, Text: "hello"})

	wireReq, _ := FromIR(req)
	require.Len(t, wireReq.Contents, 2)
	assert.Equal(t, "model", wireReq.Contents[1].Role)
}

func TestToIRMapsFinishReasonAndUsage(t *testing.T) {
	resp := ToIR(wireResponse{
		Candidates: []wireCandidate{{
			Content:      wireContent{Parts: []wirePart{{Text: "hello"}}},
			FinishReason: "MAX_TOKENS",
		}},
		UsageMetadata: &wireUsage{PromptTokenCount: 5, CandidatesTokenCount: 2, TotalTokenCount: 7},
	}, testRequest(), 10)

	assert.Equal(t, ir.FinishLength, resp.FinishReason)
	assert.Equal(t, "hello", resp.Message.Text)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
}

func TestExecuteSendsKeyAsQueryParamAndDecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		var decoded wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&decoded))
		require.NotNil(t, decoded.SystemInstruction)

		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(wireResponse{
			Candidates: []wireCandidate{{
				Content:      wireContent{Parts: []wirePart{{Text: "hi there"}}},
				FinishReason: "STOP",
			}},
		})
	}))
	defer server.Close()

	adapter := New("gemini-backend", "test-key", server.URL, server.Client())
	resp, err := adapter.Execute(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Message.Text)
	assert.Equal(t, ir.FinishStop, resp.FinishReason)
}

func TestExecuteMapsNon2xxToNormalizedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer server.Close()

	adapter := New("gemini-backend", "test-key", server.URL, server.Client())
	_, err := adapter.Execute(context.Background(), testRequest())
	require.Error(t, err)
}

func TestExecuteTagsUndecodableResponseAsAdapterConversionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	adapter := New("gemini-backend", "test-key", server.URL, server.Client())
	_, err := adapter.Execute(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, gwerror.Is(err, gwerror.KindAdapterConversionError))
}

func TestExecuteStreamParsesSSEFramedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		frames := []string{
			`data: {"candidates":[{"content":{"parts":[{"text":"hel"}]}}]}` + "\n\n",
			`data: {"candidates":[{"content":{"parts":[{"text":"lo"}],"role":"model"},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":2,"totalTokenCount":3}}` + "\n\n",
		}
		for _, f := range frames {
			_, _ = w.Write([]byte(f))
			flusher.Flush()
		}
	}))
	defer server.Close()

	adapter := New("gemini-backend", "test-key", server.URL, server.Client())
	chunks, err := adapter.ExecuteStream(context.Background(), testRequest())
	require.NoError(t, err)

	var got []ir.StreamChunk
	for c := range chunks {
		got = append(got, c)
	}

	require.True(t, len(got) >= 3, "start + at least one content + done")
	assert.Equal(t, ir.ChunkStart, got[0].Kind)
	assert.Equal(t, ir.ChunkDone, got[len(got)-1].Kind)
	for i, c := range got {
		assert.Equal(t, i, c.Sequence)
	}
}
