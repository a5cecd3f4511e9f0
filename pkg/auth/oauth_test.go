package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

func TestPATClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "PAT", user)
		assert.Equal(t, "s3cret", pass)
	}))
	defer srv.Close()

	client := NewPATClient("s3cret", time.Second)
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestGetConfig(t *testing.T) {
	cfg := GetConfig(OAuthSettings{ClientID: "app", Scopes: []string{"s"}})
	assert.Contains(t, cfg.Endpoint.AuthURL, "/organizations/")
	assert.Equal(t, "http://localhost:6789/oauth2callback", cfg.RedirectURL)

	cfg = GetConfig(OAuthSettings{Tenant: "contoso"})
	assert.Contains(t, cfg.Endpoint.TokenURL, "/contoso/")
}

func TestNewOAuthClient_NoToken(t *testing.T) {
	_, err := NewOAuthClient(context.Background(), OAuthSettings{ClientID: "app"}, t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", TokenFile)
	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"}

	require.NoError(t, saveToken(path, tok))
	got, err := tokenFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)
	assert.Equal(t, "r", got.RefreshToken)
}

type staticSource struct {
	tok *oauth2.Token
	err error
}

func (s staticSource) Token() (*oauth2.Token, error) { return s.tok, s.err }

func TestSavingTokenSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), TokenFile)
	old := &oauth2.Token{AccessToken: "old", RefreshToken: "r"}
	fresh := &oauth2.Token{AccessToken: "new", RefreshToken: "r"}

	src := &savingTokenSource{base: staticSource{tok: fresh}, path: path, last: old, log: zap.NewNop()}
	got, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)

	saved, err := tokenFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", saved.AccessToken)

	src.base = staticSource{err: errors.New("expired")}
	_, err = src.Token()
	assert.Error(t, err)
}
