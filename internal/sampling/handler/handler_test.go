package handler_test

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veritas/internal/platform/logger"
	"veritas/internal/sampling"
	"veritas/internal/sampling/handler"
	"veritas/pkg/platform/httputil"
	"veritas/pkg/testutil"
)

func newRouter() chi.Router {
	r := chi.NewRouter()
	handler.New(logger.New()).Register(r)
	return r
}

func TestCalculateSampleSizeEndpoint(t *testing.T) {
	r := newRouter()

	t.Run("returns the sizing plan", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/sampling/calculate-sample-size", map[string]any{
			"population_size":      1000,
			"confidence_level":     95,
			"tolerable_error_rate": 5,
			"expected_error_rate":  2,
		})
		resp := testutil.DoRequest(r, req)
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

		plan := testutil.DecodeJSON[sampling.SampleSizePlan](t, resp)
		assert.Equal(t, 68, plan.AdjustedSize)
	})

	t.Run("invalid parameters are 400 with the offender named", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/sampling/calculate-sample-size", map[string]any{
			"population_size":      1000,
			"confidence_level":     95,
			"tolerable_error_rate": 2,
			"expected_error_rate":  5,
		})
		resp := testutil.DoRequest(r, req)
		require.Equal(t, http.StatusBadRequest, resp.Code)

		body := testutil.DecodeJSON[httputil.ErrorBody](t, resp)
		assert.Contains(t, body.Detail, "tolerable_error_rate")
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/sampling/calculate-sample-size", "not an object")
		resp := testutil.DoRequest(r, req)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})
}

func TestAdaptiveAdjustmentEndpoint(t *testing.T) {
	r := newRouter()
	req := testutil.NewJSONRequest(t, http.MethodPost, "/sampling/adaptive-adjustment", map[string]any{
		"initial_sample_size":  50,
		"errors_found":         5,
		"tests_completed":      30,
		"tolerable_error_rate": 5.0,
	})
	resp := testutil.DoRequest(r, req)
	require.Equal(t, http.StatusOK, resp.Code)

	result := testutil.DecodeJSON[sampling.AdaptiveResult](t, resp)
	assert.True(t, result.AdjustmentNeeded)
	assert.True(t, result.RequiresCPAApproval)
}

func TestCalculateResultsEndpoint(t *testing.T) {
	r := newRouter()
	req := testutil.NewJSONRequest(t, http.MethodPost, "/sampling/calculate-results", map[string]any{
		"sample_size":          50,
		"errors_found":         2,
		"confidence_level":     95,
		"tolerable_error_rate": 5,
	})
	resp := testutil.DoRequest(r, req)
	require.Equal(t, http.StatusOK, resp.Code)

	results := testutil.DecodeJSON[sampling.SampleResults](t, resp)
	assert.Equal(t, sampling.ConclusionPass, results.Conclusion)
}

func TestOptimizeEndpoint(t *testing.T) {
	r := newRouter()
	req := testutil.NewJSONRequest(t, http.MethodPost, "/sampling/ai-optimize", map[string]any{
		"population_size": 2000,
		"control": map[string]any{
			"criticality":    "high",
			"is_key_control": true,
			"is_automated":   false,
		},
		"history": map[string]any{"prior_tests": 20, "prior_failures": 4},
	})
	resp := testutil.DoRequest(r, req)
	require.Equal(t, http.StatusOK, resp.Code)

	plan := testutil.DecodeJSON[sampling.OptimizedPlan](t, resp)
	assert.NotEmpty(t, plan.RiskFactors)
	assert.NotEmpty(t, plan.Rationale)
}

func TestMethodsEndpoint(t *testing.T) {
	r := newRouter()
	resp := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/sampling/methods"))
	require.Equal(t, http.StatusOK, resp.Code)

	methods := testutil.DecodeJSON[[]sampling.MethodInfo](t, resp)
	assert.Len(t, methods, 4)
}
