package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const (
	// TokenFile is where the OAuth token (access + refresh) is cached, inside the config dir.
	TokenFile = "token.json"

	// LocalhostAuthPort is the port the local server listens on to capture the OAuth redirect.
	LocalhostAuthPort = "6789"

	// patUser is ignored by Azure DevOps but must be non-empty.
	patUser = "PAT"
)

// ErrNoToken is returned when OAuth is configured but nobody has signed in yet.
var ErrNoToken = errors.New("no OAuth token found, run `sprintplanner login` first")

// patTransport adds basic auth with a personal access token to every request.
type patTransport struct {
	token string
	base  http.RoundTripper
}

func (t *patTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth(patUser, t.token)
	return t.base.RoundTrip(r)
}

// NewPATClient returns an http.Client authenticating with a personal access token.
func NewPATClient(token string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &patTransport{token: token, base: http.DefaultTransport},
	}
}

// OAuthSettings identify the Entra application used to sign in.
type OAuthSettings struct {
	Tenant       string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// GetConfig builds the oauth2 config for the Microsoft identity platform.
func GetConfig(s OAuthSettings) *oauth2.Config {
	tenant := s.Tenant
	if tenant == "" {
		tenant = "organizations"
	}
	return &oauth2.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		Endpoint:     microsoft.AzureADEndpoint(tenant),
		RedirectURL:  fmt.Sprintf("http://localhost:%s/oauth2callback", LocalhostAuthPort),
		Scopes:       s.Scopes,
	}
}

// NewOAuthClient returns an http.Client carrying the cached token from configDir.
// Refreshed tokens are written back to the same file.
func NewOAuthClient(ctx context.Context, s OAuthSettings, configDir string, logger *zap.Logger) (*http.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := filepath.Join(configDir, TokenFile)
	tok, err := tokenFromFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoToken
		}
		return nil, err
	}

	src := &savingTokenSource{
		base: GetConfig(s).TokenSource(ctx, tok),
		path: path,
		last: tok,
		log:  logger,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

// savingTokenSource persists a token whenever the underlying source hands out a new one.
type savingTokenSource struct {
	base oauth2.TokenSource
	path string
	log  *zap.Logger

	mu   sync.Mutex
	last *oauth2.Token
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || tok.AccessToken != s.last.AccessToken || tok.RefreshToken != s.last.RefreshToken {
		s.log.Debug("token refreshed, saving it", zap.String("path", s.path))
		if err := saveToken(s.path, tok); err != nil {
			s.log.Warn("could not save refreshed token", zap.Error(err))
		}
		s.last = tok
	}
	return tok, nil
}

// Login runs the authorization code flow through a local redirect server and stores
// the token in configDir. prompt receives the URL the user must open.
func Login(ctx context.Context, s OAuthSettings, configDir string, prompt func(authURL string), logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	config := GetConfig(s)
	tok, err := getTokenFromWeb(ctx, config, prompt, logger)
	if err != nil {
		return fmt.Errorf("failed to get token from web: %w", err)
	}
	return saveToken(filepath.Join(configDir, TokenFile), tok)
}

func getTokenFromWeb(ctx context.Context, config *oauth2.Config, prompt func(string), logger *zap.Logger) (*oauth2.Token, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	listener, err := net.Listen("tcp", "localhost:"+LocalhostAuthPort)
	if err != nil {
		return nil, fmt.Errorf("failed to start listener on port %s: %w", LocalhostAuthPort, err)
	}
	defer listener.Close()

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "Authorization code not found", http.StatusBadRequest)
				select {
				case errCh <- fmt.Errorf("authorization code not found in redirect URL"):
				default:
				}
				return
			}
			fmt.Fprintf(w, "Authentication successful! You can close this window.")
			select {
			case codeCh <- code:
			default:
			}
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	defer server.Close()

	go func() {
		logger.Debug("waiting for OAuth redirect", zap.String("redirect", config.RedirectURL))
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case errCh <- fmt.Errorf("HTTP server error: %w", err):
			default:
			}
		}
	}()

	prompt(config.AuthCodeURL("state-token", oauth2.AccessTypeOffline))

	select {
	case code := <-codeCh:
		exchangeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		tok, err := config.Exchange(exchangeCtx, code)
		if err != nil {
			return nil, fmt.Errorf("unable to exchange authorization code: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Minute):
		return nil, fmt.Errorf("authorization timed out, please try again")
	}
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token from file %s: %w", file, err)
	}
	return tok, nil
}

func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache OAuth token to %s: %w", path, err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
