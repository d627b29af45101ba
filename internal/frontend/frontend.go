// Package frontend defines the dialect-adapter contract: translating a
// provider-native request/response/stream shape to and from the gateway's
// IR. Concrete dialects live in subpackages (openai, anthropic, gemini).
package frontend

import (
	"context"

	"github.com/hnolan/irgateway/ir"
)

// Adapter translates between one provider dialect's wire JSON and IR. The
// dialect's request/response shapes are opaque []byte JSON at this layer;
// concrete adapters unmarshal/marshal their own wire structs internally.
type Adapter interface {
	// Name identifies the dialect, e.g. "openai", "anthropic", "gemini".
	Name() string

	// ToIR converts a dialect request body into an IR request. Returns a
	// gwerror invalid_request/invalid_message_format on malformed input.
	ToIR(body []byte) (*ir.Request, error)

	// FromIR converts a completed IR response back into the dialect's
	// native response body. Returns a gwerror adapter_conversion_error on
	// unrepresentable IR values.
	FromIR(resp *ir.Response) ([]byte, error)

	// FromIRStream lazily converts an IR chunk stream into dialect-native
	// wire frames (already newline/SSE framed, ready to write to a
	// response body). The returned channel is closed when the IR stream
	// ends or ctx is done; it is not restartable.
	FromIRStream(ctx context.Context, chunks <-chan ir.StreamChunk) <-chan []byte
}

// Validator is implemented by adapters that can reject a dialect request
// before IR conversion.
type Validator interface {
	Validate(body []byte) error
}
