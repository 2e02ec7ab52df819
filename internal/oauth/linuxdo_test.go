package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLinuxDo(t *testing.T, handler http.HandlerFunc) (*LinuxDoClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewLinuxDoClient(zap.NewNop(), srv.URL, "cid", "csecret", "https://gw.example/oauth/callback")
	return client, srv
}

func TestAuthorizeURL(t *testing.T) {
	client := NewLinuxDoClient(zap.NewNop(), "https://connect.linux.do/", "cid", "csecret", "https://gw.example/oauth/callback")

	raw := client.AuthorizeURL("state-xyz")
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "/oauth2/authorize", parsed.Path)
	q := parsed.Query()
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "https://gw.example/oauth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "state-xyz", q.Get("state"))
}

func TestExchangeCode(t *testing.T) {
	client, _ := newTestLinuxDo(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth2/token", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "cid", user)
		assert.Equal(t, "csecret", pass)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))

		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer"}`))
	})

	tok, err := client.ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok)
}

func TestExchangeCode_Failure(t *testing.T) {
	client, _ := newTestLinuxDo(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	})

	_, err := client.ExchangeCode(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestExchangeCode_EmptyTokenRejected(t *testing.T) {
	client, _ := newTestLinuxDo(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token_type":"Bearer"}`))
	})

	_, err := client.ExchangeCode(context.Background(), "code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty access token")
}

func TestFetchUser(t *testing.T) {
	client, _ := newTestLinuxDo(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/user", r.URL.Path)
		require.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":42,"username":"neo","name":"Neo","trust_level":3,"active":true}`))
	})

	user, err := client.FetchUser(context.Background(), "at-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), user.ID)
	assert.Equal(t, "neo", user.Username)
	assert.Equal(t, 3, user.TrustLevel)
	assert.True(t, user.Active)
}

func TestFetchUser_MissingIDRejected(t *testing.T) {
	client, _ := newTestLinuxDo(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"username":"ghost"}`))
	})

	_, err := client.FetchUser(context.Background(), "at-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id")
}
