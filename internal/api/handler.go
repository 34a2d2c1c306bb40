package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fraudshield/fraudshield/internal/detector"
	"github.com/fraudshield/fraudshield/internal/domain"
	"github.com/fraudshield/fraudshield/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// SourceAPI marks predictions logged by the HTTP surface.
const SourceAPI = "api"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Engine is the scoring engine behind the API.
type Engine interface {
	Predict(ctx context.Context, rec domain.TransactionRecord) (*domain.PredictionResult, error)
	Train(ctx context.Context) (float64, error)
	Stats() domain.Stats
	Ready() bool
	ModelInfo() detector.Info
}

// FrequencyResolver derives a customer's transaction frequency.
type FrequencyResolver interface {
	Resolve(ctx context.Context, explicit *int, customerID string, fallback int) int
}

// Handler holds dependencies for API handlers.
type Handler struct {
	engine    Engine
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	frequency FrequencyResolver
	version   string
}

// NewHandler creates a new API handler. Every collaborator except engine
// may be nil.
func NewHandler(engine Engine, repo domain.Repository, cache domain.Cache, bus domain.EventBus, frequency FrequencyResolver, version string) *Handler {
	return &Handler{
		engine:    engine,
		repo:      repo,
		cache:     cache,
		bus:       bus,
		frequency: frequency,
		version:   version,
	}
}

// PredictResponse is the response for POST /predict.
type PredictResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	domain.PredictionResult
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
}

// Predict handles POST /predict requests.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	req, err := decodePredictRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec := req.record()
	if h.frequency != nil {
		rec.TransactionFrequency = h.frequency.Resolve(ctx, req.TransactionFrequency, req.CustomerID, defaultFrequency)
	}

	result, err := h.engine.Predict(ctx, rec)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("prediction timed out", "trace_id", traceID)
			writeError(w, http.StatusGatewayTimeout, errors.New("prediction timed out"))
			return
		}
		slog.Error("prediction failed", "trace_id", traceID, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("prediction failed"))
		return
	}

	resp := PredictResponse{
		Success:          true,
		ID:               uuid.New().String(),
		PredictionResult: *result,
		Timestamp:        time.Now().UTC(),
	}

	if h.repo != nil {
		entry := &domain.PredictionLog{
			ID:         resp.ID,
			CustomerID: req.CustomerID,
			Source:     SourceAPI,
			Record:     rec.Canonical(),
			Result:     *result,
			CreatedAt:  resp.Timestamp,
		}
		if err := h.repo.SavePrediction(ctx, entry); err != nil {
			slog.Error("failed to save prediction", "prediction_id", resp.ID, "error", err)
		}
	}

	if h.bus != nil {
		worker.Publish(ctx, h.bus, &domain.PredictionEvent{
			ID:         resp.ID,
			CustomerID: req.CustomerID,
			TraceID:    traceID,
			Source:     SourceAPI,
			Result:     *result,
			ScoredAt:   resp.Timestamp,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stats())
}

// TrainResponse is the response for POST /train.
type TrainResponse struct {
	Success  bool          `json:"success"`
	Accuracy float64       `json:"accuracy"`
	Model    detector.Info `json:"model"`
}

// Train handles POST /train and blocks until training finishes.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	accuracy, err := h.engine.Train(r.Context())
	if err != nil {
		slog.Error("training failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("training failed"))
		return
	}
	writeJSON(w, http.StatusOK, TrainResponse{
		Success:  true,
		Accuracy: accuracy,
		Model:    h.engine.ModelInfo(),
	})
}

// Model handles GET /model.
func (h *Handler) Model(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.ModelInfo())
}

// GetPrediction retrieves a logged prediction by ID.
func (h *Handler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("prediction id is required"))
		return
	}

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("repository not available"))
		return
	}

	p, err := h.repo.GetPrediction(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("prediction not found"))
			return
		}
		slog.Error("failed to get prediction", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to get prediction"))
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			slog.Warn("repository ping failed", "error", err)
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			slog.Warn("cache ping failed", "error", err)
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			slog.Warn("event bus ping failed", "error", err)
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports 503 until a model is loaded or trained.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	writeJSON(w, status, resp)
}
