package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnolan/irgateway/ir"
)

func TestRelayDeltasModeLeavesChunksUntouched(t *testing.T) {
	in := make(chan ir.StreamChunk, 2)
	in <- ir.StreamChunk{Kind: ir.ChunkContent, Delta: "hel"}
	in <- ir.StreamChunk{Kind: ir.ChunkContent, Delta: "lo"}
	close(in)

	out := Relay(context.Background(), in, ir.StreamModeDeltas)

	var got []ir.StreamChunk
	for c := range out {
		got = append(got, c)
	}
	require.Len(t, got, 2)
	assert.Empty(t, got[0].Accumulated)
	assert.Empty(t, got[1].Accumulated)
}

func TestRelayAccumulatedModeFillsRunningText(t *testing.T) {
	in := make(chan ir.StreamChunk, 2)
	in <- ir.StreamChunk{Kind: ir.ChunkContent, Delta: "hel"}
	in <- ir.StreamChunk{Kind: ir.ChunkContent, Delta: "lo"}
	close(in)

	out := Relay(context.Background(), in, ir.StreamModeAccumulated)

	var got []ir.StreamChunk
	for c := range out {
		got = append(got, c)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "hel", got[0].Accumulated)
	assert.Equal(t, "hello", got[1].Accumulated)
}

func TestRelayStopsOnCancellation(t *testing.T) {
	in := make(chan ir.StreamChunk)
	ctx, cancel := context.WithCancel(context.Background())

	out := Relay(ctx, in, ir.StreamModeDeltas)
	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok, "channel should close without emitting after cancellation")
	case <-time.After(time.Second):
		t.Fatal("relay did not close promptly after cancellation")
	}
}

func TestCollectBuildsResponseFromChunks(t *testing.T) {
	in := make(chan ir.StreamChunk, 3)
	in <- ir.StreamChunk{Kind: ir.ChunkContent, Delta: "hel", Metadata: ir.Metadata{RequestID: "r1"}}
	in <- ir.StreamChunk{Kind: ir.ChunkContent, Delta: "lo", Metadata: ir.Metadata{RequestID: "r1"}}
	in <- ir.StreamChunk{
		Kind:             ir.ChunkDone,
		DoneFinishReason: ir.FinishStop,
		DoneUsage:        &ir.TokenUsage{TotalTokens: 5},
		Metadata:         ir.Metadata{RequestID: "r1"},
	}
	close(in)

	resp, err := Collect(in)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Message.Text)
	assert.Equal(t, ir.FinishStop, resp.FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.Equal(t, "r1", resp.Metadata.RequestID)
}

func TestCollectReturnsErrorOnChunkError(t *testing.T) {
	in := make(chan ir.StreamChunk, 1)
	in <- ir.StreamChunk{Kind: ir.ChunkError, ErrorCode: "stream_error", ErrorMessage: "boom"}
	close(in)

	_, err := Collect(in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
