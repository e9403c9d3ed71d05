package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bookwise/bookrag-go/internal/engine"
	"github.com/bookwise/bookrag-go/internal/logging"
)

// handleAsk handles POST /api/ask. The response is streamed with Server-Sent
// Events: a "sources" event carrying the citations as JSON, "data" frames
// with answer tokens, and a final "done" event. Failures mid-stream emit an
// "error" event; failures to even start generation fall back to the apology
// answer so the client always gets a usable reply.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if s.deps.Answerer == nil {
		http.Error(w, "answering is not configured", http.StatusNotImplemented)
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	authorIDs, err := s.resolveAuthors(r.Context(), &req)
	if err != nil {
		log.Error("subscription lookup failed", slog.Any("error", err))
		http.Error(w, "could not resolve subscriptions", http.StatusInternalServerError)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.metrics.askActiveStreams.Inc()
	defer s.metrics.askActiveStreams.Dec()
	start := time.Now()

	sources, stream, err := s.deps.Answerer.AnswerStream(r.Context(), req.Query, authorIDs, req.MaxChunks)
	if err != nil {
		// Retrieval worked when sources are present; only generation
		// startup failed. Degrade instead of erroring out.
		if sources != nil {
			log.Warn("answer stream failed to start, sending apology", slog.Any("error", err))
			emitSSEJSON(w, flusher, "sources", sources)
			emitSSEData(w, flusher, engine.ApologyAnswer)
			emitSSE(w, flusher, "done", "[DONE]")
			s.observeAsk(outcomeError, start)
			return
		}
		log.Error("ask failed", slog.Any("error", err))
		emitSSE(w, flusher, "error", "search failed")
		s.observeAsk(outcomeError, start)
		return
	}

	if stream == nil {
		// Nothing relevant was found.
		emitSSEJSON(w, flusher, "sources", []engine.Source{})
		emitSSEData(w, flusher, engine.NoContextAnswer)
		emitSSE(w, flusher, "done", "[DONE]")
		s.observeAsk(outcomeOK, start)
		return
	}
	defer stream.Close()

	emitSSEJSON(w, flusher, "sources", sources)
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Error("answer stream broke", slog.Any("error", err))
			emitSSE(w, flusher, "error", "generation interrupted")
			s.observeAsk(outcomeError, start)
			return
		}
		if msg.Content != "" {
			emitSSEData(w, flusher, msg.Content)
		}
	}
	emitSSE(w, flusher, "done", "[DONE]")
	s.observeAsk(outcomeOK, start)
}

func (s *Server) observeAsk(outcome string, start time.Time) {
	s.metrics.askRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.askDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// emitSSE writes one named SSE event with a single data line.
func emitSSE(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// emitSSEJSON writes one named SSE event with a JSON payload.
func emitSSEJSON(w http.ResponseWriter, flusher http.Flusher, event string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}

// emitSSEData writes an unnamed data frame, splitting on newlines so
// multi-line chunks never break the SSE frame boundary.
func emitSSEData(w http.ResponseWriter, flusher http.Flusher, text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
	flusher.Flush()
}
