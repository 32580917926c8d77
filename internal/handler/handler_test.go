package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"constructlink/internal/database"
	"constructlink/internal/middleware"
	"constructlink/internal/model"
	"constructlink/internal/repository"
	"constructlink/internal/service"
	"constructlink/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	router *gin.Engine
	tokens map[string]string
	north  *model.Project
	depot  *model.Project
	asset  *model.Asset
}

type envelope struct {
	Status     string              `json:"status"`
	StatusCode int                 `json:"status_code"`
	Data       json.RawMessage     `json:"data"`
	Error      string              `json:"error"`
	Errors     []map[string]string `json:"errors"`
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	db := database.NewTestDB(t)

	userRepo := repository.NewUserRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	assetRepo := repository.NewAssetRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	roles := workflow.NewRoleResolver(nil)
	auth := middleware.NewAuthenticator("handler-test", time.Hour, userRepo)
	users := service.NewUserService(userRepo, auth)

	s := &testServer{tokens: map[string]string{}}
	s.north = &model.Project{Code: "NTH-01", Name: "North Tower", IsActive: true}
	s.depot = &model.Project{Code: "DPT-00", Name: "Central Depot", IsActive: true}
	require.NoError(t, projectRepo.Create(ctx, s.north))
	require.NoError(t, projectRepo.Create(ctx, s.depot))
	s.asset = &model.Asset{Ref: "EXC-001", Name: "Excavator", CurrentProjectID: s.depot.ID, Status: model.AssetAvailable}
	require.NoError(t, assetRepo.Create(ctx, s.asset))

	for _, u := range []struct {
		username string
		role     model.Role
		project  *int64
	}{
		{"finance", model.RoleFinanceDirector, nil},
		{"pm.north", model.RoleProjectManager, &s.north.ID},
		{"pm.depot", model.RoleProjectManager, &s.depot.ID},
		{"warehouse.depot", model.RoleWarehouseman, &s.depot.ID},
	} {
		_, err := users.CreateUser(ctx, service.CreateUserRequest{
			Username:         u.username,
			FullName:         u.username,
			Email:            u.username + "@example.com",
			Password:         "secret-pass",
			Role:             u.role,
			CurrentProjectID: u.project,
		})
		require.NoError(t, err)
		res, err := users.Login(ctx, service.LoginUserRequest{Username: u.username, Password: "secret-pass"})
		require.NoError(t, err)
		s.tokens[u.username] = res.Token
	}

	transfers := service.NewTransferService(
		repository.NewTransferRepository(db), assetRepo, projectRepo, auditRepo,
		repository.NewTransactionManager(db), roles,
	)

	s.router = gin.New()
	api := s.router.Group("")
	log := zap.NewNop()
	NewUserHandler(users, auth, false, log).RegisterRoutes(api)
	NewTransferHandler(transfers, auth, roles, log).RegisterRoutes(api)
	NewAuditHandler(service.NewAuditService(auditRepo), auth, log).RegisterRoutes(api)
	return s
}

func (s *testServer) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[user])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func (s *testServer) createTransfer(t *testing.T) int64 {
	t.Helper()
	due := time.Now().Add(72 * time.Hour)
	w := s.do(t, "pm.north", http.MethodPost, "/api/transfers", map[string]any{
		"asset_id":        s.asset.ID,
		"from_project_id": s.depot.ID,
		"to_project_id":   s.north.ID,
		"transfer_type":   "temporary",
		"reason":          "Foundation works",
		"expected_return": due,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var detail struct {
		Transfer struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
		} `json:"transfer"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &detail))
	assert.Equal(t, string(model.StatusPendingVerification), detail.Transfer.Status)
	return detail.Transfer.ID
}

func TestTransfersRequireAuth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "", http.MethodGet, "/api/transfers", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "error", decode(t, w).Status)
}

func TestTransferActionsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.createTransfer(t)
	base := fmt.Sprintf("/api/transfers/%d", id)

	w := s.do(t, "finance", http.MethodPost, base+"/approve", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "approve before verify")

	w = s.do(t, "pm.north", http.MethodPost, base+"/verify", map[string]string{"notes": "checked"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var detail service.TransferDetail
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &detail))
	assert.Equal(t, model.StatusPendingApproval, detail.Transfer.Status)

	w = s.do(t, "pm.north", http.MethodPost, base+"/verify", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, "pm.north", http.MethodPost, base+"/teleport", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, "pm.north", http.MethodPost, base+"/approve", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, "finance", http.MethodPost, base+"/cancel", map[string]string{"notes": " "})
	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w)
	require.Len(t, env.Errors, 1)
	assert.Equal(t, "reason", env.Errors[0]["field"])

	w = s.do(t, "finance", http.MethodPost, base+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, "finance", http.MethodGet, "/api/transfers/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, "finance", http.MethodGet, "/api/transfers/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// doChunked sends raw as a body of unknown length, as a chunked client would.
func (s *testServer) doChunked(t *testing.T, user, method, path, raw string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, io.NopCloser(strings.NewReader(raw)))
	require.Equal(t, int64(-1), req.ContentLength)
	req.TransferEncoding = []string{"chunked"}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.tokens[user])
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestChunkedActionBodiesAreBound(t *testing.T) {
	s := newTestServer(t)
	id := s.createTransfer(t)
	base := fmt.Sprintf("/api/transfers/%d", id)

	w := s.doChunked(t, "finance", http.MethodPost, base+"/cancel", `{"notes":`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "malformed chunked body")

	w = s.doChunked(t, "pm.north", http.MethodPost, base+"/verify", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.doChunked(t, "finance", http.MethodPost, base+"/cancel", `{"reason":"site closed"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var detail service.TransferDetail
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &detail))
	assert.Equal(t, model.StatusCanceled, detail.Transfer.Status)
	assert.Equal(t, "site closed", detail.Transfer.CancelReason)
}

func TestStreamlineOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.createTransfer(t)
	path := fmt.Sprintf("/api/transfers/%d/streamline", id)

	w := s.do(t, "finance", http.MethodPost, path, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "finance did not initiate this transfer")

	w = s.do(t, "pm.north", http.MethodPost, path, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "project managers cannot self-certify")
}

func TestListAndNotes(t *testing.T) {
	s := newTestServer(t)
	id := s.createTransfer(t)

	w := s.do(t, "warehouse.depot", http.MethodGet, "/api/transfers?status=Pending%20Verification", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page struct {
		Total int64 `json:"total"`
		Page  int   `json:"page"`
		Limit int   `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &page))
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.Limit)

	w = s.do(t, "finance", http.MethodGet, "/api/transfers?status=Lost", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "finance", http.MethodGet, "/api/transfers?project_id=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "finance", http.MethodGet, "/api/transfers/overdue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &page))
	assert.Zero(t, page.Total)

	w = s.do(t, "warehouse.depot", http.MethodPost, fmt.Sprintf("/api/transfers/%d/notes", id), map[string]string{"note": "Tracks cleaned"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var detail service.TransferDetail
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &detail))
	assert.Contains(t, detail.Transfer.Notes, "warehouse.depot: Tracks cleaned")

	w = s.do(t, "warehouse.depot", http.MethodPost, fmt.Sprintf("/api/transfers/%d/notes", id), map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportAndSlip(t *testing.T) {
	s := newTestServer(t)
	id := s.createTransfer(t)

	w := s.do(t, "warehouse.depot", http.MethodGet, "/api/transfers/export?format=csv", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, "finance", http.MethodGet, "/api/transfers/export?format=csv", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".csv")
	assert.Contains(t, w.Body.String(), "EXC-001")

	w = s.do(t, "finance", http.MethodGet, "/api/transfers/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "finance", http.MethodGet, "/api/transfers/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")

	w = s.do(t, "pm.north", http.MethodGet, fmt.Sprintf("/api/transfers/%d/slip", id), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "%PDF-"))
}

func TestAuditLogsAccess(t *testing.T) {
	s := newTestServer(t)
	id := s.createTransfer(t)

	w := s.do(t, "pm.north", http.MethodGet, "/api/audit-logs", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, "finance", http.MethodGet, fmt.Sprintf("/api/audit-logs?entity_type=transfer&entity_id=%d", id), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page struct {
		Items []service.AuditLogResponse `json:"items"`
		Total int64                      `json:"total"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &page))
	require.Equal(t, int64(1), page.Total)
	assert.Equal(t, model.ActionTransferCreated, page.Items[0].Action)
}

func TestLoginCookieAndMe(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "", http.MethodPost, "/api/login", map[string]string{"username": "pm.north", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, "", http.MethodPost, "/api/login", map[string]string{"username": "pm.north", "password": "secret-pass"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "access_token", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var me service.UserResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &me))
	assert.Equal(t, "pm.north", me.Username)
	assert.Equal(t, model.RoleProjectManager, me.Role)

	w = s.do(t, "", http.MethodPost, "/api/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Result().Cookies())
	assert.Equal(t, -1, w.Result().Cookies()[0].MaxAge)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(workflow.NotFound("transfer", 1)))
	assert.Equal(t, http.StatusConflict, statusFor(workflow.Conflict(1)))
	assert.Equal(t, http.StatusBadRequest, statusFor(workflow.ValidationError("x", "bad")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("boom")))
}
