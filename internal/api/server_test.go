package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/hms-server/internal/api"
	"github.com/stacklok/hms-server/internal/api/mocks"
)

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	// Liveness never consults readiness.
	server := api.NewServer(mocks.NewMockReadinessChecker(ctrl))

	rr := serve(t, server, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var response api.HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response.Status)
}

func TestReadinessEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		checkErr       error
		expectedStatus int
		expectedBody   api.ReadinessResponse
	}{
		{
			name:           "boot complete",
			expectedStatus: http.StatusOK,
			expectedBody:   api.ReadinessResponse{Status: "ready"},
		},
		{
			name:           "boot in progress",
			checkErr:       errors.New("schema synchronization in progress"),
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   api.ReadinessResponse{Status: "not_ready", Reason: "schema synchronization in progress"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)

			ready := mocks.NewMockReadinessChecker(ctrl)
			ready.EXPECT().CheckReadiness(gomock.Any()).Return(tt.checkErr)

			rr := serve(t, api.NewServer(ready), "/readiness")
			assert.Equal(t, tt.expectedStatus, rr.Code)

			var body api.ReadinessResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.expectedBody, body)
		})
	}
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	rr := serve(t, api.NewServer(mocks.NewMockReadinessChecker(ctrl)), "/version")
	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Contains(t, body, "version")
	assert.Contains(t, body, "go_version")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("mounted", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("hms_boot_duration_seconds_count 1\n"))
		})

		server := api.NewServer(mocks.NewMockReadinessChecker(ctrl), api.WithMetricsHandler(metrics))
		rr := serve(t, server, "/metrics")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "hms_boot_duration_seconds_count")
	})

	t.Run("absent", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		rr := serve(t, api.NewServer(mocks.NewMockReadinessChecker(ctrl)), "/metrics")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestMiddlewares(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	var sawRequestID string
	capture := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sawRequestID = middleware.GetReqID(r.Context())
			next.ServeHTTP(w, r)
		})
	}

	server := api.NewServer(mocks.NewMockReadinessChecker(ctrl),
		api.WithMiddlewares(middleware.RequestID, capture, api.LoggingMiddleware))

	rr := serve(t, server, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, sawRequestID)
}

func TestRecovererHandlesPanics(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	ready := mocks.NewMockReadinessChecker(ctrl)
	ready.EXPECT().CheckReadiness(gomock.Any()).DoAndReturn(func(context.Context) error {
		panic("boom")
	})

	server := api.NewServer(ready, api.WithMiddlewares(middleware.Recoverer))
	rr := serve(t, server, "/readiness")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
