// Package handler exposes the sampling engine over HTTP. Every endpoint is
// a pure computation: no state is read or written.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"veritas/internal/sampling"
	"veritas/pkg/platform/httputil"
)

// Handler serves the sampling endpoints.
type Handler struct {
	logger *slog.Logger
}

// New creates a sampling Handler.
func New(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

// Register mounts the sampling routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/sampling/calculate-sample-size", h.handleCalculateSampleSize)
	r.Post("/sampling/ai-optimize", h.handleOptimize)
	r.Post("/sampling/adaptive-adjustment", h.handleAdaptiveAdjustment)
	r.Post("/sampling/calculate-results", h.handleCalculateResults)
	r.Get("/sampling/methods", h.handleMethods)
}

func (h *Handler) handleCalculateSampleSize(w http.ResponseWriter, r *http.Request) {
	params, ok := httputil.Decode[sampling.SampleSizeParams](w, r, h.logger)
	if !ok {
		return
	}
	plan, err := sampling.CalculateSampleSize(params)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, plan)
}

func (h *Handler) handleOptimize(w http.ResponseWriter, r *http.Request) {
	params, ok := httputil.Decode[sampling.OptimizeParams](w, r, h.logger)
	if !ok {
		return
	}
	plan, err := sampling.Optimize(params)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, plan)
}

func (h *Handler) handleAdaptiveAdjustment(w http.ResponseWriter, r *http.Request) {
	params, ok := httputil.Decode[sampling.AdaptiveParams](w, r, h.logger)
	if !ok {
		return
	}
	result, err := sampling.AdaptiveAdjustment(params)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCalculateResults(w http.ResponseWriter, r *http.Request) {
	params, ok := httputil.Decode[sampling.ResultsParams](w, r, h.logger)
	if !ok {
		return
	}
	results, err := sampling.CalculateResults(params)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, results)
}

func (h *Handler) handleMethods(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, sampling.Methods())
}
