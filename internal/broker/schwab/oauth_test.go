package schwab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"llm-trading-gateway/internal/token"
)

func newTestOAuthClient(tokenURL string) *OAuthClient {
	c := NewOAuthClient(OAuthParams{
		ClientID:     "client-id",
		ClientSecret: "secret",
		TokenURL:     tokenURL,
		AuthorizeURL: "https://auth.example.com/authorize",
		CallbackURL:  "https://gw.example.com/auth/callback",
	})
	c.now = func() time.Time { return time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC) }
	return c
}

func TestExchangeRotatesPair(t *testing.T) {
	var gotGrant, gotRefresh, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotGrant = r.PostFormValue("grant_type")
		gotRefresh = r.PostFormValue("refresh_token")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","expires_in":1800,"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	c := newTestOAuthClient(srv.URL)
	cred, err := c.Exchange(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}

	if gotGrant != "refresh_token" || gotRefresh != "old-refresh" {
		t.Errorf("Unexpected form: grant=%q refresh=%q", gotGrant, gotRefresh)
	}
	if !strings.HasPrefix(gotAuth, "Basic ") {
		t.Errorf("Expected basic auth header, got %q", gotAuth)
	}
	if cred.AccessToken != "new-access" || cred.RefreshToken != "new-refresh" {
		t.Errorf("Unexpected credential: %+v", cred)
	}
	if got := cred.AccessExpiresAt.Sub(cred.IssuedAt); got != 30*time.Minute {
		t.Errorf("Expected 30m access TTL, got %v", got)
	}
	if got := cred.RefreshExpiresAt.Sub(cred.IssuedAt); got != 7*24*time.Hour {
		t.Errorf("Expected 7d refresh TTL, got %v", got)
	}
}

func TestExchangeErrorClassification(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"server_error"}`))
	}))
	defer srv.Close()

	c := newTestOAuthClient(srv.URL)

	// 5xx from the endpoint is worth retrying.
	_, err := c.Exchange(context.Background(), "refresh")
	if err == nil || !token.IsTransient(err) {
		t.Fatalf("Expected transient error for 503, got %v", err)
	}

	// invalid_grant style 4xx is permanent: the refresh token is gone.
	status = http.StatusBadRequest
	_, err = c.Exchange(context.Background(), "refresh")
	if err == nil {
		t.Fatal("Expected error for 400")
	}
	if token.IsTransient(err) {
		t.Fatalf("Expected permanent error for 400, got transient: %v", err)
	}
}

func TestExchangeRejectsIncompletePair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"only-access","expires_in":1800}`))
	}))
	defer srv.Close()

	c := newTestOAuthClient(srv.URL)
	if _, err := c.Exchange(context.Background(), "refresh"); err == nil {
		t.Fatal("Expected error when the endpoint omits the refresh token")
	}
}

func TestAuthorizeURL(t *testing.T) {
	c := newTestOAuthClient("https://api.example.com/token")
	u := c.AuthorizeURL()
	if !strings.HasPrefix(u, "https://auth.example.com/authorize?") {
		t.Errorf("Unexpected authorize URL %q", u)
	}
	if !strings.Contains(u, "client_id=client-id") || !strings.Contains(u, "response_type=code") {
		t.Errorf("Missing query parameters in %q", u)
	}
}
