package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/hnolan/irgateway/internal/bridge"
	"github.com/hnolan/irgateway/internal/gwerror"
)

// handleHealth responds with a simple JSON liveness status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleStats exposes the Bridge's accumulated request/latency/error
// statistics, mainly useful for manually poking at routing behavior.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.bridge.GetStats())
}

// streamProbe is the minimum shape needed to decide whether an incoming
// dialect body is a streaming request, without depending on any
// dialect-specific request type.
type streamProbe struct {
	Stream bool `json:"stream"`
}

// handleChatCompletions handles POST /v1/chat/completions. It reads the
// raw dialect body and hands it to the Bridge unparsed — dialect→IR
// translation, backend selection, middleware, and fallback all happen
// inside Bridge.Chat/ChatStream.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}

	var probe streamProbe
	_ = json.Unmarshal(body, &probe) // malformed JSON surfaces via frontend.ToIR below

	opts := bridge.Options{}
	if backendName := r.Header.Get("X-Gateway-Backend"); backendName != "" {
		opts.Backend = backendName
	}

	if probe.Stream {
		s.handleStreamingChat(w, r, body, opts)
		return
	}

	out, err := s.bridge.Chat(r.Context(), body, opts)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

func (s *Server) handleStreamingChat(w http.ResponseWriter, r *http.Request, body []byte, opts bridge.Options) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "response writer does not support flushing")
		return
	}

	frames, err := s.bridge.ChatStream(r.Context(), body, opts)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for frame := range frames {
		if _, err := w.Write(frame); err != nil {
			log.Printf("stream write error: %v", err)
			return
		}
		flusher.Flush()
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeGatewayError maps a gwerror.Error's kind to an HTTP status the way
// the teacher mapped provider errors, defaulting to 502 for anything that
// didn't originate as a structured gateway error.
func writeGatewayError(w http.ResponseWriter, err error) {
	var ge *gwerror.Error
	if !errors.As(err, &ge) {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	status := http.StatusBadGateway
	switch ge.Category {
	case gwerror.CategoryValidation:
		status = http.StatusBadRequest
	case gwerror.CategoryAuthentication:
		status = http.StatusUnauthorized
	case gwerror.CategoryAuthorization:
		status = http.StatusForbidden
	case gwerror.CategoryRateLimit:
		status = http.StatusTooManyRequests
	case gwerror.CategoryProvider, gwerror.CategoryNetwork, gwerror.CategoryRouter, gwerror.CategoryAdapter, gwerror.CategoryStream:
		status = http.StatusBadGateway
	case gwerror.CategoryUnknown:
		status = http.StatusInternalServerError
	}

	writeError(w, status, ge.Message)
}
