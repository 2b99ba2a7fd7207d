package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mikey/phish-guard/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKey = "secret"

type mockService struct {
	mock.Mock
}

func (m *mockService) Classify(ctx context.Context, emails []*core.Email, opts core.ClassifyOptions) (*core.ClassifyResponse, error) {
	args := m.Called(ctx, emails, opts)
	res, _ := args.Get(0).(*core.ClassifyResponse)
	return res, args.Error(1)
}

func (m *mockService) Predict(ctx context.Context, reqs []core.ScoreRequest) ([]core.Prediction, error) {
	args := m.Called(ctx, reqs)
	res, _ := args.Get(0).([]core.Prediction)
	return res, args.Error(1)
}

func (m *mockService) Release(ctx context.Context, id, userID, reason string) (*core.ReleaseResult, error) {
	args := m.Called(ctx, id, userID, reason)
	res, _ := args.Get(0).(*core.ReleaseResult)
	return res, args.Error(1)
}

func (m *mockService) BulkRelease(ctx context.Context, ids []string, userID, reason string) (*core.BulkReleaseResult, error) {
	args := m.Called(ctx, ids, userID, reason)
	res, _ := args.Get(0).(*core.BulkReleaseResult)
	return res, args.Error(1)
}

func (m *mockService) GetStats(ctx context.Context, userID string, days int) (*core.DetectionStats, error) {
	args := m.Called(ctx, userID, days)
	res, _ := args.Get(0).(*core.DetectionStats)
	return res, args.Error(1)
}

func (m *mockService) GetQuarantineSummary(ctx context.Context, userID string, days int) (*core.QuarantineSummary, error) {
	args := m.Called(ctx, userID, days)
	res, _ := args.Get(0).(*core.QuarantineSummary)
	return res, args.Error(1)
}

func (m *mockService) HealthCheck(ctx context.Context) *core.HealthReport {
	return m.Called(ctx).Get(0).(*core.HealthReport)
}

func (m *mockService) ReloadModels(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func newRouter(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, svc, testKey, zap.NewNop())
	return r
}

func do(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func authed(user string) map[string]string {
	return map[string]string{APIKeyHeader: testKey, UserIDHeader: user}
}

func TestAPIKey(t *testing.T) {
	r := newRouter(&mockService{})

	w := do(r, http.MethodGet, "/v1/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Missing API key")

	w = do(r, http.MethodGet, "/v1/stats", "", map[string]string{APIKeyHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid API key")
}

func TestClassify_ShapesAndForceReprocess(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		count int
	}{
		{"bare email", `{"sender":"a@b.com","subject":"hi","body":"x"}`, 1},
		{"envelope", `{"emails":[{"sender":"a@b.com"},{"sender":"c@d.com"}]}`, 2},
		{"array", `[{"sender":"a@b.com"},{"sender":"c@d.com"},{"sender":"e@f.com"}]`, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			svc := &mockService{}
			svc.On("Classify", mock.Anything, mock.MatchedBy(func(emails []*core.Email) bool {
				return len(emails) == tt.count && emails[0].UserID == "u1"
			}), core.ClassifyOptions{ForceReprocess: true}).Return(&core.ClassifyResponse{Count: tt.count}, nil)
			r := newRouter(svc)

			// Act
			w := do(r, http.MethodPost, "/v1/emails/classify?force_reprocess=true", tt.body, authed("u1"))

			// Assert
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			var resp core.ClassifyResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.count, resp.Count)
			svc.AssertExpectations(t)
		})
	}
}

func TestClassify_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: user_id is required", core.ErrInputInvalid), http.StatusBadRequest},
		{fmt.Errorf("%w: no artifacts", core.ErrModelUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: db down", core.ErrPersistence), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		svc := &mockService{}
		svc.On("Classify", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

		w := do(newRouter(svc), http.MethodPost, "/v1/emails/classify", `{"sender":"a@b.com"}`, authed(""))

		assert.Equal(t, tt.code, w.Code, tt.err.Error())
	}
}

func TestClassify_MalformedBody(t *testing.T) {
	svc := &mockService{}

	w := do(newRouter(svc), http.MethodPost, "/v1/emails/classify", `"just a string"`, authed("u1"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything, mock.Anything)
}

func TestPredict(t *testing.T) {
	svc := &mockService{}
	svc.On("Predict", mock.Anything, mock.MatchedBy(func(reqs []core.ScoreRequest) bool {
		_, raw := reqs[0].(core.RawBodyRequest)
		_, structured := reqs[1].(core.StructuredFeaturesRequest)
		return len(reqs) == 2 && raw && structured
	})).Return([]core.Prediction{{Label: 1, Probability: 0.9}, {Label: 0, Probability: 0.2}}, nil)

	body := `{"requests":[{"type":"raw_body","email_body":"verify now"},{"type":"structured_features","features":{"url_count":3}}]}`
	w := do(newRouter(svc), http.MethodPost, "/v1/predict", body, authed("u1"))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"count":2`)
	assert.Contains(t, w.Body.String(), `"probability":0.9`)
}

func TestRelease(t *testing.T) {
	svc := &mockService{}
	svc.On("Release", mock.Anything, "qtn_1", "u1", "false positive").
		Return(&core.ReleaseResult{Status: core.ReleaseReleased, QuarantineID: "qtn_1"}, nil)
	svc.On("Release", mock.Anything, "qtn_2", "u1", "").
		Return(&core.ReleaseResult{Status: core.ReleaseNotFound, QuarantineID: "qtn_2"}, nil)
	r := newRouter(svc)

	w := do(r, http.MethodPost, "/v1/quarantine/qtn_1/release", `{"reason":"false positive"}`, authed("u1"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"released"`)

	w = do(r, http.MethodPost, "/v1/quarantine/qtn_2/release", "", authed("u1"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"not_found"`)
}

func TestBulkRelease(t *testing.T) {
	svc := &mockService{}
	svc.On("BulkRelease", mock.Anything, []string{"a", "b"}, "u1", "ok").
		Return(&core.BulkReleaseResult{Released: 1, Errors: 1}, nil)

	w := do(newRouter(svc), http.MethodPost, "/v1/quarantine/release", `{"ids":["a","b"],"reason":"ok"}`, authed("u1"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"released":1`)
}

func TestStatsAndSummaryDays(t *testing.T) {
	svc := &mockService{}
	svc.On("GetStats", mock.Anything, "u1", 7).Return(&core.DetectionStats{PeriodDays: 7}, nil)
	svc.On("GetStats", mock.Anything, "", 14).Return(&core.DetectionStats{PeriodDays: 14}, nil)
	svc.On("GetQuarantineSummary", mock.Anything, "u1", 30).Return(&core.QuarantineSummary{PeriodDays: 30}, nil)
	r := newRouter(svc)

	assert.Contains(t, do(r, http.MethodGet, "/v1/stats", "", authed("u1")).Body.String(), `"period_days":7`)
	assert.Contains(t, do(r, http.MethodGet, "/v1/stats?days=14", "", authed("")).Body.String(), `"period_days":14`)
	assert.Contains(t, do(r, http.MethodGet, "/v1/quarantine/summary", "", authed("u1")).Body.String(), `"period_days":30`)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/stats?days=0", "", authed("u1")).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/stats?days=abc", "", authed("u1")).Code)
}

func TestHealth(t *testing.T) {
	svc := &mockService{}
	svc.On("HealthCheck", mock.Anything).Return(&core.HealthReport{Status: core.HealthUnhealthy}).Once()
	svc.On("HealthCheck", mock.Anything).Return(&core.HealthReport{Status: core.HealthDegraded}).Once()
	r := newRouter(svc)

	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health", "", nil).Code)
}

func TestReloadModels(t *testing.T) {
	svc := &mockService{}
	svc.On("ReloadModels", mock.Anything).Return("2.0.0", nil).Once()
	svc.On("ReloadModels", mock.Anything).Return("heuristic", fmt.Errorf("%w: no artifacts", core.ErrInputInvalid)).Once()
	r := newRouter(svc)

	w := do(r, http.MethodPost, "/v1/models/reload", "", authed("admin"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"model_version":"2.0.0"`)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/v1/models/reload", "", authed("admin")).Code)
}
