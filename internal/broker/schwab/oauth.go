package schwab

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"time"

	"llm-trading-gateway/internal/api"
	"llm-trading-gateway/internal/interfaces"
	"llm-trading-gateway/internal/token"
	"llm-trading-gateway/internal/types"
)

// OAuthParams configures the brokerage OAuth endpoint.
type OAuthParams struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	AuthorizeURL string
	CallbackURL  string
	RefreshTTL   time.Duration // refresh-token lifetime policy, ~7 days
}

// OAuthClient exchanges refresh tokens and authorization codes against the
// brokerage token endpoint. Refresh tokens rotate on use: every successful
// exchange returns a new access+refresh pair and invalidates the old one.
type OAuthClient struct {
	p      OAuthParams
	client *api.Client
	now    func() time.Time
}

var _ interfaces.TokenExchanger = (*OAuthClient)(nil)

func NewOAuthClient(p OAuthParams, opts ...api.ClientOption) *OAuthClient {
	if p.RefreshTTL == 0 {
		p.RefreshTTL = 7 * 24 * time.Hour
	}
	opts = append([]api.ClientOption{api.WithLogging(true)}, opts...)
	return &OAuthClient{
		p:      p,
		client: api.NewClient(opts...),
		now:    time.Now,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Exchange consumes refreshToken and returns a fresh credential.
func (o *OAuthClient) Exchange(ctx context.Context, refreshToken string) (types.Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	return o.tokenCall(ctx, form)
}

// ExchangeCode redeems an authorization code from the interactive admin
// flow for the initial credential.
func (o *OAuthClient) ExchangeCode(ctx context.Context, code string) (types.Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", o.p.CallbackURL)

	return o.tokenCall(ctx, form)
}

func (o *OAuthClient) tokenCall(ctx context.Context, form url.Values) (types.Credential, error) {
	resp, err := o.client.PostForm(ctx, o.p.TokenURL, form, map[string]string{
		"Authorization": "Basic " + o.basicAuth(),
	})
	if err != nil {
		return types.Credential{}, classify(err)
	}

	var tr tokenResponse
	if err := resp.ParseJSON(&tr); err != nil {
		return types.Credential{}, err
	}
	if tr.AccessToken == "" || tr.RefreshToken == "" {
		return types.Credential{}, errors.New("token endpoint returned incomplete pair")
	}

	now := o.now()
	return types.Credential{
		AccessToken:      tr.AccessToken,
		RefreshToken:     tr.RefreshToken,
		IssuedAt:         now,
		AccessExpiresAt:  now.Add(time.Duration(tr.ExpiresIn) * time.Second),
		RefreshExpiresAt: now.Add(o.p.RefreshTTL),
	}, nil
}

// AuthorizeURL builds the URL a human opens to start the interactive flow.
func (o *OAuthClient) AuthorizeURL() string {
	q := url.Values{}
	q.Set("client_id", o.p.ClientID)
	q.Set("redirect_uri", o.p.CallbackURL)
	q.Set("response_type", "code")
	return o.p.AuthorizeURL + "?" + q.Encode()
}

func (o *OAuthClient) basicAuth() string {
	return base64.StdEncoding.EncodeToString([]byte(o.p.ClientID + ":" + o.p.ClientSecret))
}

// classify wraps network failures and 5xx responses as transient so the
// token manager retries them; 4xx (invalid or rotated refresh token) is
// permanent and requires re-auth.
func classify(err error) error {
	var he *api.HTTPError
	if errors.As(err, &he) {
		if he.Transient() {
			return &token.TransientError{Err: err}
		}
		return err
	}
	return &token.TransientError{Err: err}
}
