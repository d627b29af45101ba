package streaming

import (
	"context"
	"strings"

	"github.com/hnolan/irgateway/ir"
)

// Relay forwards chunks from in to the returned channel, applying
// streamMode: in deltas mode chunks pass through unchanged; in
// accumulated mode each ChunkContent gets its Accumulated field filled
// with the running text so far. Relay is the one place that owns the
// accumulation buffer, so backend adapters which already computed their
// own Accumulated value are left untouched (idempotent on chunks that
// already carry one).
//
// Relay is cancellation-aware: when ctx is done, it stops forwarding and
// closes its output without draining the rest of in.
func Relay(ctx context.Context, in <-chan ir.StreamChunk, mode ir.StreamMode) <-chan ir.StreamChunk {
	out := make(chan ir.StreamChunk)

	go func() {
		defer close(out)

		var buf strings.Builder
		for {
			select {
			case chunk, ok := <-in:
				if !ok {
					return
				}
				if mode == ir.StreamModeAccumulated && chunk.Kind == ir.ChunkContent {
					buf.WriteString(chunk.Delta)
					if chunk.Accumulated == "" {
						chunk.Accumulated = buf.String()
					}
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Collect drains a finished stream into a single Response, for callers
// (or tests) that want the aggregate result of a stream rather than the
// incremental chunks. It returns the last ChunkError's message as an
// error if the stream ended in error instead of ChunkDone.
func Collect(chunks <-chan ir.StreamChunk) (*ir.Response, error) {
	var text strings.Builder
	var finish ir.FinishReason
	var usage *ir.TokenUsage
	var meta ir.Metadata

	for chunk := range chunks {
		switch chunk.Kind {
		case ir.ChunkContent:
			text.WriteString(chunk.Delta)
			meta = chunk.Metadata
		case ir.ChunkDone:
			finish = chunk.DoneFinishReason
			usage = chunk.DoneUsage
			meta = chunk.Metadata
			return &ir.Response{
				Message:      ir.Message{Role: ir.RoleAssistant, Text: text.String()},
				FinishReason: finish,
				Usage:        usage,
				Metadata:     meta,
			}, nil
		case ir.ChunkError:
			return nil, &streamError{code: chunk.ErrorCode, message: chunk.ErrorMessage}
		}
	}
	return &ir.Response{Message: ir.Message{Role: ir.RoleAssistant, Text: text.String()}, Metadata: meta}, nil
}

type streamError struct {
	code    string
	message string
}

func (e *streamError) Error() string { return e.code + ": " + e.message }
