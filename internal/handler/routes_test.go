package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-recruitment-api/internal/models"
	"github.com/noah-isme/cohort-recruitment-api/internal/repository"
	"github.com/noah-isme/cohort-recruitment-api/internal/service"
	appErrors "github.com/noah-isme/cohort-recruitment-api/pkg/errors"
	"github.com/noah-isme/cohort-recruitment-api/pkg/export"
)

// stubTokens treats the bearer token as the operator role.
type stubTokens struct{}

func (stubTokens) ValidateToken(token string) (*models.JWTClaims, error) {
	switch models.OperatorRole(token) {
	case models.RoleAdmin, models.RoleOperator, models.RoleIntegration, models.RoleViewer:
		return &models.JWTClaims{OperatorID: "op-" + token, Email: token + "@example.com", Role: models.OperatorRole(token)}, nil
	}
	return nil, appErrors.ErrUnauthorized
}

type stubAuth struct{}

func (stubAuth) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if req.Password != "secret" {
		return nil, appErrors.ErrInvalidCredentials
	}
	return &models.LoginResponse{AccessToken: "ADMIN", ExpiresIn: 3600, IssuedAt: time.Now()}, nil
}

type envelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *appErrors.Error       `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

func buildRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metrics := service.NewMetricsService()
	recruitment := service.NewRecruitmentService(
		repository.NewMemoryStudyRepository(),
		repository.NewMemoryShippingRepository(),
		repository.NewKeyedLocker(),
		nil, nil, metrics, nil, zap.NewNop(),
		service.RecruitmentConfig{DefaultWindowDuration: time.Hour},
	)
	manifests := service.NewManifestService(recruitment, export.NewCSVExporter())

	router := gin.New()
	RegisterRoutes(router, "/api/v1", stubTokens{}, Handlers{
		Auth:      NewAuthHandler(stubAuth{}),
		Studies:   NewStudyHandler(recruitment, zap.NewNop()),
		Shipments: NewShipmentHandler(recruitment, manifests),
		Metrics:   NewMetricsHandler(metrics, map[string]ReadinessCheck{"store": func(context.Context) error { return nil }}),
	})
	return router
}

func doRequest(t *testing.T, router *gin.Engine, method, path, role, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+role)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") != "" && bytes.HasPrefix(rec.Body.Bytes(), []byte("{")) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestRecruitmentRoutesLifecycle(t *testing.T) {
	router := buildRouter(t)
	const admin, operator, integration, viewer = "ADMIN", "OPERATOR", "INTEGRATION", "VIEWER"

	rec, _ := doRequest(t, router, http.MethodPost, "/api/v1/studies", "", `{"study_id":"s1","target_participants":5}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doRequest(t, router, http.MethodPost, "/api/v1/studies", viewer, `{"study_id":"s1","target_participants":5}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/studies", admin, `{"study_id":"s1","target_participants":5,"waitlist_count":20}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "applied", env.Meta["outcome"])

	rec, env = doRequest(t, router, http.MethodPost, "/api/v1/studies", admin, `{"study_id":"s1","target_participants":9}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", env.Meta["outcome"])
	assert.Equal(t, "already_initialized", env.Meta["reason"])

	rec, env = doRequest(t, router, http.MethodPost, "/api/v1/studies/s1/windows/close", operator, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "invalid_state", env.Meta["reason"])

	rec, env = doRequest(t, router, http.MethodPost, "/api/v1/studies/s1/go-live", operator, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "applied", env.Meta["outcome"])

	rec, _ = doRequest(t, router, http.MethodPost, "/api/v1/studies/s1/enrollments", operator, `{"count":3}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = doRequest(t, router, http.MethodPost, "/api/v1/studies/s1/enrollments", integration, `{"count":8}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 8, env.Meta["requested"])
	assert.EqualValues(t, 5, env.Meta["accepted"])

	rec, env = doRequest(t, router, http.MethodPost, "/api/v1/studies/s1/waitlist", integration, `{"count":4,"returning_count":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "applied", env.Meta["outcome"])

	rec, env = doRequest(t, router, http.MethodPost, "/api/v1/studies/s1/windows/close", operator, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var state models.StudyRecruitmentState
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.Equal(t, models.RecruitmentStatusWindowClosed, state.Status)
	require.Len(t, state.Cohorts, 1)
	cohortID := state.Cohorts[0].ID

	rec, env = doRequest(t, router, http.MethodGet, "/api/v1/studies/s1/cohorts/"+cohortID+"/shipments", viewer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []models.ParticipantShipping
	require.NoError(t, json.Unmarshal(env.Data, &records))
	require.Len(t, records, 5)
	assert.EqualValues(t, 5, env.Meta["participants"])

	rec, _ = doRequest(t, router, http.MethodGet, "/api/v1/studies/s1/cohorts/"+cohortID+"/manifest.csv", operator, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), cohortID+"-manifest.csv")
	assert.Contains(t, rec.Body.String(), records[0].ParticipantID)

	path := "/api/v1/studies/s1/shipments/" + records[0].ParticipantID + "/tracking"
	rec, env = doRequest(t, router, http.MethodPut, path, operator, `{"tracking_number":"1Z 999 AA1 0123456784"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "applied", env.Meta["outcome"])

	rec, env = doRequest(t, router, http.MethodPut, path, operator, `{"tracking_number":"1Z999AA10123456784"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "already_shipped", env.Meta["reason"])

	other := "/api/v1/studies/s1/shipments/" + records[1].ParticipantID + "/tracking"
	rec, env = doRequest(t, router, http.MethodPut, other, operator, `{"tracking_number":"  "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "empty_tracking_number", env.Meta["reason"])

	rec, _ = doRequest(t, router, http.MethodPut, other, operator, `{"tracking_number":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = doRequest(t, router, http.MethodGet, "/api/v1/studies/s1", viewer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		Status        string `json:"status"`
		TotalEnrolled int    `json:"total_enrolled"`
		CurrentCohort *struct {
			TrackingCodesEntered int `json:"tracking_codes_entered"`
		} `json:"current_cohort"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, 5, view.TotalEnrolled)
	require.NotNil(t, view.CurrentCohort)
	assert.Equal(t, 1, view.CurrentCohort.TrackingCodesEntered)

	rec, env = doRequest(t, router, http.MethodGet, "/api/v1/studies?status=window_closed", viewer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 1, env.Pagination.TotalCount)
}

func TestRecruitmentRoutesErrors(t *testing.T) {
	router := buildRouter(t)

	rec, env := doRequest(t, router, http.MethodGet, "/api/v1/studies/missing", "VIEWER", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, appErrors.ErrStudyNotFound.Code, env.Error.Code)

	rec, env = doRequest(t, router, http.MethodPost, "/api/v1/studies/missing/go-live", "OPERATOR", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "study_not_found", env.Meta["reason"])

	rec, _ = doRequest(t, router, http.MethodPost, "/api/v1/studies", "ADMIN", `{"study_id":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doRequest(t, router, http.MethodPost, "/api/v1/studies", "ADMIN", `{"study_id":"s2","target_participants":0}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doRequest(t, router, http.MethodGet, "/api/v1/studies?status=bogus", "VIEWER", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doRequest(t, router, http.MethodGet, "/api/v1/studies/missing/cohorts/missing-cohort-1/shipments", "VIEWER", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doRequest(t, router, http.MethodGet, "/api/v1/system/metrics", "OPERATOR", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthAndHealthRoutes(t *testing.T) {
	router := buildRouter(t)

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/auth/login", "", `{"email":"ops@example.com","password":"secret"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var login models.LoginResponse
	require.NoError(t, json.Unmarshal(env.Data, &login))
	assert.Equal(t, "ADMIN", login.AccessToken)

	rec, _ = doRequest(t, router, http.MethodPost, "/api/v1/auth/login", "", `{"email":"ops@example.com","password":"nope"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env = doRequest(t, router, http.MethodGet, "/api/v1/auth/me", "OPERATOR", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info models.OperatorInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, "op-OPERATOR", info.ID)
	assert.Equal(t, models.RoleOperator, info.Role)

	rec, _ = doRequest(t, router, http.MethodGet, "/api/v1/auth/me", "bogus", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doRequest(t, router, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doRequest(t, router, http.MethodGet, "/ready", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"ok"`)

	rec, env = doRequest(t, router, http.MethodGet, "/api/v1/system/metrics", "ADMIN", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot models.SystemMetrics
	require.NoError(t, json.Unmarshal(env.Data, &snapshot))
	assert.False(t, snapshot.GeneratedAt.IsZero())

	rec, _ = doRequest(t, router, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}
