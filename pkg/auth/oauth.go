// Package auth runs the Google OAuth consent flow and keeps the user's
// decision on disk, so the calendar authorization state can be re-derived
// on every call.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"github.com/harrisonrobin/tasksync/pkg/calsync"
)

const (
	// ClientSecretsFile is the downloaded Google API credentials.json file.
	ClientSecretsFile = "credentials.json"

	// GrantFile holds the user's consent decision and, when granted, the token.
	GrantFile = "grant.json"

	// LocalhostAuthPort is the port the local server listens on for the OAuth redirect.
	LocalhostAuthPort = "6789"

	consentTimeout = 5 * time.Minute
)

// Scopes are requested together; the user may grant them independently.
// Events is the write scope, Readonly lets us read the calendar list.
var Scopes = []string{
	calendar.CalendarEventsScope,
	calendar.CalendarReadonlyScope,
}

var ErrNoToken = errors.New("calendar access has not been granted")

// Grant is the persisted outcome of the last consent flow.
type Grant struct {
	Status    string        `json:"status"`
	Scopes    []string      `json:"scopes,omitempty"`
	Token     *oauth2.Token `json:"token,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Authorizer owns the consent flow and the grant file under Dir.
type Authorizer struct {
	Dir  string
	Port string
	// Prompt shows the consent URL to the user.
	Prompt func(authURL string)

	mu sync.Mutex
}

func NewAuthorizer(dir string) *Authorizer {
	return &Authorizer{
		Dir:  dir,
		Port: LocalhostAuthPort,
		Prompt: func(authURL string) {
			fmt.Printf("Please open the following URL in your browser to allow calendar access:\n%s\n", authURL)
		},
	}
}

func (a *Authorizer) grantPath() string {
	return filepath.Join(a.Dir, GrantFile)
}

// Status reads the recorded decision. It never prompts.
func (a *Authorizer) Status() calsync.AuthStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	g, err := a.loadGrant()
	if err != nil {
		if os.IsNotExist(err) {
			return calsync.StatusNotDetermined
		}
		log.Printf("Warning: could not read calendar grant: %v", err)
		return calsync.StatusUnknown
	}
	return StatusFromGrant(g)
}

// StatusFromGrant derives the authorization state from a persisted grant.
func StatusFromGrant(g Grant) calsync.AuthStatus {
	status := calsync.ParseAuthStatus(g.Status)
	if status.Granted() && g.Token == nil {
		return calsync.StatusNotDetermined
	}
	return status
}

// ScopeStatus classifies the scopes the user actually granted.
func ScopeStatus(scopes []string) calsync.AuthStatus {
	var write, read bool
	for _, s := range scopes {
		switch s {
		case calendar.CalendarScope:
			write, read = true, true
		case calendar.CalendarEventsScope:
			write = true
		case calendar.CalendarReadonlyScope:
			read = true
		}
	}
	switch {
	case write && read:
		return calsync.StatusAuthorizedFull
	case write:
		return calsync.StatusAuthorizedWriteOnly
	default:
		return calsync.StatusDenied
	}
}

// ClassifyConsentError maps the error code Google puts on the redirect when
// consent was not given.
func ClassifyConsentError(code string) calsync.AuthStatus {
	switch code {
	case "access_denied":
		return calsync.StatusDenied
	case "admin_policy_enforced", "org_internal", "disallowed_useragent", "policy_enforced":
		return calsync.StatusRestricted
	default:
		return calsync.StatusUnknown
	}
}

// RequestAccess shows the consent screen and waits for the user's answer.
// The resulting decision is recorded even when it is a refusal.
func (a *Authorizer) RequestAccess(ctx context.Context) (calsync.AuthStatus, error) {
	config, err := a.oauthConfig()
	if err != nil {
		return calsync.StatusNotDetermined, err
	}

	code, consentErr, err := a.codeFromWeb(ctx, config)
	if err != nil {
		return calsync.StatusNotDetermined, err
	}

	if consentErr != "" {
		status := ClassifyConsentError(consentErr)
		log.Printf("Calendar consent not given (%s): %s", consentErr, status)
		if err := a.saveGrant(Grant{Status: status.String()}); err != nil {
			return status, err
		}
		return status, nil
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	tok, err := config.Exchange(exchangeCtx, code)
	if err != nil {
		return calsync.StatusNotDetermined, fmt.Errorf("unable to retrieve token from Google: %w", err)
	}

	scopes := grantedScopes(tok)
	status := ScopeStatus(scopes)
	g := Grant{Status: status.String(), Scopes: scopes}
	if status.Granted() {
		g.Token = tok
	}
	if err := a.saveGrant(g); err != nil {
		return status, err
	}
	return status, nil
}

// Reset forgets any recorded decision so the next request prompts again.
func (a *Authorizer) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.Remove(a.grantPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// HTTPClient returns a client that refreshes the stored token as needed.
// A refresh rejected as invalid_grant means the user revoked access; that
// is recorded as denied so the next Status call reflects it.
func (a *Authorizer) HTTPClient(ctx context.Context) (*http.Client, error) {
	a.mu.Lock()
	g, err := a.loadGrant()
	a.mu.Unlock()
	if err != nil || g.Token == nil {
		return nil, ErrNoToken
	}

	config, err := a.oauthConfig()
	if err != nil {
		return nil, err
	}

	src := &persistingSource{
		base: config.TokenSource(ctx, g.Token),
		auth: a,
		last: g.Token,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(g.Token, src)), nil
}

type persistingSource struct {
	base oauth2.TokenSource
	auth *Authorizer
	last *oauth2.Token
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		if IsRevoked(err) {
			log.Printf("Calendar access was revoked: %v", err)
			if saveErr := p.auth.saveGrant(Grant{Status: calsync.StatusDenied.String()}); saveErr != nil {
				log.Printf("Warning: could not record revocation: %v", saveErr)
			}
		}
		return nil, err
	}
	if tok.AccessToken != p.last.AccessToken || tok.RefreshToken != p.last.RefreshToken {
		if err := p.auth.updateToken(tok); err != nil {
			log.Printf("Warning: could not save refreshed token: %v", err)
		}
		p.last = tok
	}
	return tok, nil
}

// IsRevoked reports whether a token refresh failed because the grant is gone.
func IsRevoked(err error) bool {
	var re *oauth2.RetrieveError
	return errors.As(err, &re) && re.ErrorCode == "invalid_grant"
}

func grantedScopes(tok *oauth2.Token) []string {
	if raw, ok := tok.Extra("scope").(string); ok && raw != "" {
		return strings.Fields(raw)
	}
	return append([]string(nil), Scopes...)
}

func (a *Authorizer) updateToken(tok *oauth2.Token) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, err := a.loadGrant()
	if err != nil {
		return err
	}
	g.Token = tok
	return a.writeGrant(g)
}

// loadGrant reads the grant file. Caller holds a.mu.
func (a *Authorizer) loadGrant() (Grant, error) {
	f, err := os.Open(a.grantPath())
	if err != nil {
		return Grant{}, err
	}
	defer f.Close()
	var g Grant
	if err := json.NewDecoder(f).Decode(&g); err != nil {
		return Grant{}, fmt.Errorf("failed to decode grant file %s: %w", a.grantPath(), err)
	}
	return g, nil
}

func (a *Authorizer) saveGrant(g Grant) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writeGrant(g)
}

// writeGrant persists g. Caller holds a.mu.
func (a *Authorizer) writeGrant(g Grant) error {
	g.UpdatedAt = time.Now()
	if err := os.MkdirAll(a.Dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(a.grantPath(), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache calendar grant: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(g)
}

// oauthConfig creates an oauth2.Config from the client secrets file.
func (a *Authorizer) oauthConfig() (*oauth2.Config, error) {
	clientSecretsFile := filepath.Join(a.Dir, ClientSecretsFile)
	b, err := os.ReadFile(clientSecretsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", clientSecretsFile, err)
	}

	config, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = redirectURL(config.RedirectURL, a.Port)
	return config, nil
}

// redirectURL forces localhost and out-of-band redirects onto our callback port.
func redirectURL(configured, port string) string {
	if configured == "urn:ietf:wg:oauth:2.0:oob" || configured == "" {
		return fmt.Sprintf("http://localhost:%s/oauth2callback", port)
	}
	parsedURL, err := url.Parse(configured)
	if err != nil {
		log.Printf("Warning: Could not parse RedirectURL '%s': %v. Using it as is.", configured, err)
		return configured
	}
	if parsedURL.Hostname() == "localhost" || parsedURL.Hostname() == "127.0.0.1" {
		if parsedURL.Port() != port {
			parsedURL.Host = fmt.Sprintf("%s:%s", parsedURL.Hostname(), port)
		}
		return parsedURL.String()
	}
	log.Printf("Warning: RedirectURL in credentials.json is not a localhost callback: %s", configured)
	return configured
}

type callbackResult struct {
	code     string
	errorStr string
}

// callbackHandler captures the authorization code, or the consent error code,
// from Google's redirect.
func callbackHandler(results chan<- callbackResult) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res := callbackResult{code: q.Get("code"), errorStr: q.Get("error")}
		if res.code == "" && res.errorStr == "" {
			http.Error(w, "Authorization code not found", http.StatusBadRequest)
			return
		}
		if res.errorStr != "" {
			fmt.Fprintf(w, "Calendar access was not granted. You can close this window.")
		} else {
			fmt.Fprintf(w, "Authentication successful! You can close this window.")
		}
		select {
		case results <- res:
		default:
		}
	})
}

// codeFromWeb serves the redirect on localhost and waits for the user.
func (a *Authorizer) codeFromWeb(ctx context.Context, config *oauth2.Config) (string, string, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%s", a.Port))
	if err != nil {
		return "", "", fmt.Errorf("failed to start listener on port %s: %w", a.Port, err)
	}
	defer listener.Close()

	results := make(chan callbackResult, 1)
	errCh := make(chan error, 1)
	server := &http.Server{
		Handler:      callbackHandler(results),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	defer server.Shutdown(context.Background())

	// AccessTypeOffline is needed for a refresh token; include_granted_scopes
	// enables granular consent.
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"))
	a.Prompt(authURL)
	log.Println("Waiting for authorization code...")

	select {
	case res := <-results:
		return res.code, res.errorStr, nil
	case err := <-errCh:
		return "", "", err
	case <-ctx.Done():
		return "", "", ctx.Err()
	case <-time.After(consentTimeout):
		return "", "", fmt.Errorf("authorization timed out. Please try again")
	}
}
