package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"alertrelay/internal/clock"
	"alertrelay/internal/domain"
	"alertrelay/internal/logging"
	"alertrelay/internal/orchestrator"
)

// WebhookProcessor runs one validated batch through the pipeline.
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, batch domain.Batch) orchestrator.Response
}

// ModeReader exposes the current publishing mode snapshot.
type ModeReader interface {
	GetModeMetrics() domain.ModeSnapshot
}

type errorBody struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// WebhookHandler decodes webhook payloads and returns the orchestrator response.
// Params: processor, body size limit, per-request deadline, clock, and logger.
// Returns: HTTP handler for the webhook endpoint.
type WebhookHandler struct {
	processor   WebhookProcessor
	maxBodySize int64
	timeout     time.Duration
	clock       clock.Clock
	logger      *slog.Logger
}

// NewWebhookHandler creates webhook HTTP handler.
// Params: processor, max request body size in bytes, request timeout, clock, and logger.
// Returns: configured handler.
func NewWebhookHandler(processor WebhookProcessor, maxBodySize int64, timeout time.Duration, clk clock.Clock, logger *slog.Logger) *WebhookHandler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		processor:   processor,
		maxBodySize: maxBodySize,
		timeout:     timeout,
		clock:       clk,
		logger:      logger,
	}
}

// ServeHTTP handles one incoming webhook request.
// Params: HTTP request/response writer pair.
// Returns: 400 for malformed input, otherwise the status mapped from the batch outcome.
func (h *WebhookHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.Header().Set("Allow", http.MethodPost)
		writeJSON(writer, http.StatusMethodNotAllowed, errorBody{Status: "error", Error: "method not allowed"})
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(writer, http.StatusRequestEntityTooLarge, errorBody{Status: "error", Error: "payload too large"})
			return
		}
		writeJSON(writer, http.StatusBadRequest, errorBody{Status: "error", Error: "read body: " + err.Error()})
		return
	}

	batch, err := decodeWebhook(body, h.clock.Now())
	if err != nil {
		h.logger.Warn("webhook rejected", "remote", request.RemoteAddr, "error", err.Error())
		writeJSON(writer, http.StatusBadRequest, errorBody{Status: "error", Error: err.Error()})
		return
	}

	ctx := logging.IntoContext(request.Context(), h.logger.With("remote", request.RemoteAddr))
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	response := h.processor.ProcessWebhook(ctx, batch)
	writeJSON(writer, response.HTTPStatus(), response)
}

// ModeResponse is the body of the mode endpoint.
type ModeResponse struct {
	Mode                 domain.Mode `json:"mode"`
	EnabledTargets       int         `json:"enabled_targets"`
	TransitionCount      int64       `json:"transition_count"`
	CurrentModeSince     time.Time   `json:"current_mode_since"`
	CurrentModeDuration  float64     `json:"current_mode_duration_seconds"`
	LastTransitionReason string      `json:"last_transition_reason"`
}

// NewModeHandler reports current publishing mode.
// Params: mode reader and clock for duration.
// Returns: GET-only handler.
func NewModeHandler(mode ModeReader, clk clock.Clock) http.Handler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodGet {
			writer.Header().Set("Allow", http.MethodGet)
			writeJSON(writer, http.StatusMethodNotAllowed, errorBody{Status: "error", Error: "method not allowed"})
			return
		}
		snapshot := mode.GetModeMetrics()
		writeJSON(writer, http.StatusOK, ModeResponse{
			Mode:                 snapshot.Mode,
			EnabledTargets:       snapshot.EnabledTargets,
			TransitionCount:      snapshot.TransitionCount,
			CurrentModeSince:     snapshot.CurrentModeSince,
			CurrentModeDuration:  snapshot.CurrentModeDuration(clk.Now()).Seconds(),
			LastTransitionReason: snapshot.LastTransitionReason,
		})
	})
}

// NewHealthHandler always answers ok.
func NewHealthHandler() http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
}

// NewReadyHandler answers 503 until ready reports true.
func NewReadyHandler(ready func() bool) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		if !ready() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
}

func writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(body)
}
