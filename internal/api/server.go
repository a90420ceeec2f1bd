// Package api is the thin HTTP surface over the gateway core: batch
// submission, status polling, the SSE event stream, health, and
// prometheus metrics. Parsing and routing only; all semantics live in
// the core packages.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trustmesh/gateway/internal/core/domain"
	"github.com/trustmesh/gateway/internal/events"
)

// submitterHeader carries the already-authenticated submitter key.
// Token validation happens upstream of the gateway.
const submitterHeader = "X-Submitter-Key"

// maxWait caps the wait query parameter before it even reaches the
// tracker's own ceiling.
const maxWait = 300

// Core is the gateway surface the HTTP layer exposes.
type Core interface {
	SubmitBatch(ctx context.Context, raw []byte, submitterKey string) (*domain.SubmissionReceipt, error)
	BatchStatuses(ctx context.Context, ids []string, wait time.Duration) (map[string]domain.BatchStatus, error)
	Subscribe(filter events.Filter) *events.Subscriber
	Deregister(id uuid.UUID, reason domain.DisconnectReason)
	Health(ctx context.Context) (bool, map[string]string)
}

// Server serves the gateway HTTP API.
type Server struct {
	core   Core
	server *http.Server
}

// NewServer creates the API server on the given port.
func NewServer(core Core, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		core: core,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("POST /api/batches", s.handleSubmit)
	mux.HandleFunc("GET /api/batch_statuses", s.handleStatuses)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	submitter := r.Header.Get(submitterHeader)
	if submitter == "" {
		writeError(w, http.StatusUnauthorized, "missing_submitter", "submitter key header required")
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed_payload", "failed to read request body")
		return
	}

	receipt, err := s.core.SubmitBatch(r.Context(), raw, submitter)
	if err != nil {
		code := domain.ErrorCode(err)
		writeError(w, statusFor(code), code, publicMessage(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": receipt})
}

func (s *Server) handleStatuses(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["id"]

	var wait time.Duration
	if raw := r.URL.Query().Get("wait"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			writeError(w, http.StatusBadRequest, "malformed_payload", "wait must be a non-negative integer")
			return
		}
		if secs > maxWait {
			secs = maxWait
		}
		wait = time.Duration(secs) * time.Second
	}

	statuses, err := s.core.BatchStatuses(r.Context(), ids, wait)
	if err != nil {
		code := domain.ErrorCode(err)
		writeError(w, statusFor(code), code, publicMessage(err))
		return
	}

	data := make([]map[string]string, 0, len(statuses))
	for id, st := range statuses {
		data = append(data, map[string]string{"id": id, "status": string(st)})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

// handleEvents serves the long-lived SSE stream. The connection's
// goroutine only drains its own subscriber buffer; heartbeat comments
// keep intermediaries from killing quiet connections and surface dead
// clients whose close was never observed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	filter := parseFilter(r.URL.Query().Get("namespaces"))
	sub := s.core.Subscribe(filter)
	defer s.core.Deregister(sub.ID, domain.DisconnectReason("client_close"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			// Exactly one disconnect frame, then the stream ends.
			frame := map[string]string{"reason": string(sub.DisconnectReason())}
			if err := sub.Err(); err != nil {
				frame["error"] = domain.ErrorCode(err)
			}
			payload, _ := json.Marshal(frame)
			fmt.Fprintf(w, "event: disconnect\ndata: %s\n\n", payload)
			flusher.Flush()
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-sub.Events():
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: state_change\nid: %d\ndata: %s\n\n", ev.Height, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ok, detail := s.core.Health(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": map[bool]string{true: "healthy", false: "degraded"}[ok],
		"checks": detail,
	})
}

func parseFilter(raw string) events.Filter {
	if raw == "" {
		return events.Filter{}
	}
	var types []domain.ResourceType
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			types = append(types, domain.ResourceType(part))
		}
	}
	return events.Filter{Types: types}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

// statusFor maps stable error codes onto HTTP statuses.
func statusFor(code string) int {
	switch code {
	case "malformed_payload", "empty_batch", "rejected_by_validator", "too_many_ids":
		return http.StatusBadRequest
	case "payload_too_large":
		return http.StatusRequestEntityTooLarge
	case "invalid_signature":
		return http.StatusUnauthorized
	case "unauthorized_address":
		return http.StatusForbidden
	case "duplicate_batch":
		return http.StatusConflict
	case "transport_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage strips internal wrapping: clients get the taxonomy
// sentinel text, not backend detail.
func publicMessage(err error) string {
	for _, sentinel := range []error{
		domain.ErrMalformedPayload,
		domain.ErrEmptyBatch,
		domain.ErrPayloadTooLarge,
		domain.ErrInvalidSignature,
		domain.ErrUnauthorizedAddress,
		domain.ErrDuplicateBatch,
		domain.ErrRejectedByValidator,
		domain.ErrTransportUnavailable,
		domain.ErrTooManyIDs,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal error"
}
