// Package handler exposes the risk prediction model over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"veritas/internal/prediction"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/httputil"
)

// defaultTopN bounds the at-risk ranking when the query omits top_n.
const defaultTopN = 10

// Service defines the prediction operations the handler exposes.
type Service interface {
	Predict(ctx context.Context, controlID id.ControlID) (*prediction.RiskAssessment, error)
	AtRiskControls(ctx context.Context, engagementID id.EngagementID, topN int) ([]prediction.ControlRiskSummary, error)
	ValidateTrainingRequest(req prediction.TrainRequest) error
}

// TrainSubmitter queues training runs for background execution.
type TrainSubmitter interface {
	Enqueue(req prediction.TrainRequest) error
}

// Handler serves the predictive-analytics endpoints.
type Handler struct {
	svc     Service
	trainer TrainSubmitter
	logger  *slog.Logger
}

// New creates a prediction Handler.
func New(svc Service, trainer TrainSubmitter, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, trainer: trainer, logger: logger}
}

// Register mounts the prediction routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/predictive-analytics/train-model", h.handleTrain)
	r.Get("/predictive-analytics/controls/{controlID}/predict", h.handlePredict)
	r.Get("/predictive-analytics/engagements/{engagementID}/at-risk-controls", h.handleAtRiskControls)
}

func (h *Handler) handleTrain(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[prediction.TrainRequest](w, r, h.logger)
	if !ok {
		return
	}
	// Bad datasets are rejected here, not in the background worker, so the
	// caller learns what to correct.
	if err := h.svc.ValidateTrainingRequest(req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.trainer.Enqueue(req); err != nil {
		if errors.Is(err, prediction.ErrQueueFull) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "training queue is full; retry later"))
			return
		}
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue training run"))
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	controlID, err := id.ParseControlID(chi.URLParam(r, "controlID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	assessment, err := h.svc.Predict(r.Context(), controlID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, assessment)
}

func (h *Handler) handleAtRiskControls(w http.ResponseWriter, r *http.Request) {
	engagementID, err := id.ParseEngagementID(chi.URLParam(r, "engagementID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	topN := defaultTopN
	if raw := r.URL.Query().Get("top_n"); raw != "" {
		topN, err = strconv.Atoi(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.Newf(dErrors.CodeInvalidInput, "top_n must be an integer, got %q", raw))
			return
		}
	}

	summaries, err := h.svc.AtRiskControls(r.Context(), engagementID, topN)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summaries)
}
