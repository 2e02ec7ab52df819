package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/auth"
	"github.com/kirogate/kirogate/internal/rate"
	"github.com/kirogate/kirogate/pkg/model"
)

const adminPassword = "super-secret"

// --- fakes ---

type memSessions struct {
	sessions map[string]model.Session
}

func (m *memSessions) PutSession(_ context.Context, s model.Session, _ time.Duration) error {
	m.sessions[s.ID] = s
	return nil
}

func (m *memSessions) GetSession(_ context.Context, id string) (*model.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memSessions) DeleteSession(_ context.Context, id string) error {
	delete(m.sessions, id)
	return nil
}

type fakeAdminStore struct {
	users     []model.User
	banned    map[int64]bool
	summaries []model.UsageSummary
	failBan   bool
}

func (f *fakeAdminStore) ListUsers(_ context.Context) ([]model.User, error) {
	return f.users, nil
}

func (f *fakeAdminStore) SetUserBanned(_ context.Context, id int64, banned bool) error {
	if f.failBan {
		return fmt.Errorf("user %d not found", id)
	}
	if f.banned == nil {
		f.banned = make(map[int64]bool)
	}
	f.banned[id] = banned
	return nil
}

func (f *fakeAdminStore) ListUsageSummaries(_ context.Context) ([]model.UsageSummary, error) {
	return f.summaries, nil
}

type fakeAudit struct {
	actions []string
}

func (f *fakeAudit) PublishAdminAction(_ context.Context, action string, _ any) error {
	f.actions = append(f.actions, action)
	return nil
}

// --- helpers ---

func newAdminApp(t *testing.T, store *fakeAdminStore) (*fiber.App, *fakeAudit) {
	t.Helper()

	keys := auth.NewKeyVerifier(zap.NewNop(), testKey)
	admin := auth.NewAdmin(zap.NewNop(), adminPassword, "signing-secret", time.Hour,
		&memSessions{sessions: make(map[string]model.Session)})
	audit := &fakeAudit{}

	ah := &AdminHandler{
		Logger:    zap.NewNop(),
		Admin:     admin,
		Store:     store,
		Keys:      keys,
		Publisher: audit,
	}

	h := &Handler{
		Logger: zap.NewNop(),
		Chat:   &fakeChat{},
		Models: &fakeModels{},
		Tokens: &fakeTokens{},
	}

	app := fiber.New()
	RegisterRoutes(app, h, nil, ah, nil, keys, rate.NewManager(rate.Config{}))
	return app, audit
}

func adminLogin(t *testing.T, app *fiber.App) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"password": adminPassword})
	req := httptest.NewRequest(http.MethodPost, "/admin/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	decodeBody(t, resp, &out)
	token, _ := out["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func adminReq(method, path, token string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// --- tests ---

func TestAdminLogin_WrongPassword(t *testing.T) {
	app, _ := newAdminApp(t, &fakeAdminStore{})

	body, _ := json.Marshal(map[string]string{"password": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/admin/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminRoutes_RequireToken(t *testing.T) {
	app, _ := newAdminApp(t, &fakeAdminStore{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/admin/users", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminListUsers(t *testing.T) {
	store := &fakeAdminStore{users: []model.User{
		{ID: 1, LinuxDoID: 100, Username: "alice", TrustLevel: 3},
		{ID: 2, LinuxDoID: 200, Username: "bob", TrustLevel: 1, Banned: true},
	}}
	app, _ := newAdminApp(t, store)
	token := adminLogin(t, app)

	resp, err := app.Test(adminReq(http.MethodGet, "/admin/users", token, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, float64(2), body["count"])
}

func TestAdminBanUnban(t *testing.T) {
	store := &fakeAdminStore{}
	app, audit := newAdminApp(t, store)
	token := adminLogin(t, app)

	resp, err := app.Test(adminReq(http.MethodPost, "/admin/users/5/ban", token, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, store.banned[5])

	resp, err = app.Test(adminReq(http.MethodPost, "/admin/users/5/unban", token, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, store.banned[5])

	assert.Equal(t, []string{"user.banned", "user.unbanned"}, audit.actions)
}

func TestAdminBan_InvalidID(t *testing.T) {
	app, _ := newAdminApp(t, &fakeAdminStore{})
	token := adminLogin(t, app)

	resp, err := app.Test(adminReq(http.MethodPost, "/admin/users/abc/ban", token, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminBan_UnknownUser(t *testing.T) {
	app, _ := newAdminApp(t, &fakeAdminStore{failBan: true})
	token := adminLogin(t, app)

	resp, err := app.Test(adminReq(http.MethodPost, "/admin/users/99/ban", token, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminUsage(t *testing.T) {
	store := &fakeAdminStore{summaries: []model.UsageSummary{
		{Model: "claude-sonnet-4-20250514", Requests: 12},
	}}
	app, _ := newAdminApp(t, store)
	token := adminLogin(t, app)

	resp, err := app.Test(adminReq(http.MethodGet, "/admin/usage", token, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string][]model.UsageSummary
	decodeBody(t, resp, &body)
	require.Len(t, body["usage"], 1)
	assert.Equal(t, int64(12), body["usage"][0].Requests)
}

func TestAdminRotateKey(t *testing.T) {
	app, audit := newAdminApp(t, &fakeAdminStore{})
	token := adminLogin(t, app)

	resp, err := app.Test(adminReq(http.MethodPost, "/admin/rotate-key", token, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	newKey := body["api_key"]
	require.True(t, strings.HasPrefix(newKey, "kg-"))
	assert.Contains(t, audit.actions, "api_key.rotated")

	// The old key stops working and the new one is accepted.
	resp, err = app.Test(authedReq(http.MethodGet, "/v1/models", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer "+newKey)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

}

func TestAdminLogout_IgnoresNonBearerAuthorization(t *testing.T) {
	app, _ := newAdminApp(t, &fakeAdminStore{})
	token := adminLogin(t, app)

	// A non-Bearer scheme whose value happens to line up with a valid token
	// must not be treated as one.
	req := httptest.NewRequest(http.MethodPost, "/admin/logout", nil)
	req.Header.Set("Authorization", "Token: "+token)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The session survives.
	resp, err = app.Test(adminReq(http.MethodGet, "/admin/users", token, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminLogout_RevokesSession(t *testing.T) {
	app, _ := newAdminApp(t, &fakeAdminStore{})
	token := adminLogin(t, app)

	resp, err := app.Test(adminReq(http.MethodPost, "/admin/logout", token, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(adminReq(http.MethodGet, "/admin/users", token, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
