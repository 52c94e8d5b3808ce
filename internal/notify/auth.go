package notify

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"rxnotify/internal/config"
	"rxnotify/internal/types"
)

const (
	// assertionLifetime is how long a signed client assertion stays valid.
	// NHS Notify rejects assertions with an exp more than 5 minutes out, so
	// keep this short.
	assertionLifetime = 60 * time.Second

	// tokenExpiryMargin is subtracted from the advertised token lifetime so a
	// token is refreshed before it can expire mid-request.
	tokenExpiryMargin = 30 * time.Second

	clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)

// TokenExchanger obtains OAuth2 bearer tokens from the NHS Notify token
// endpoint using a signed JWT client assertion (RS512). Tokens are fetched
// lazily on first use and shared by every batch in the same dispatch run,
// including batches produced by recursive splitting.
type TokenExchanger struct {
	client     *BaseClient
	tokenURL   string
	apiKey     string
	kid        string
	privateKey *rsa.PrivateKey
	now        func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

var _ types.TokenSource = (*TokenExchanger)(nil)

// NewTokenExchanger parses the PEM-encoded signing key and prepares an
// exchanger for the given API base URL.
func NewTokenExchanger(client *BaseClient, apiBaseURL string, cfg config.NotifyConfig) (*TokenExchanger, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKey.Unmask()))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthTokenExchange, "failed to parse signing key", err)
	}

	base, err := url.Parse(apiBaseURL)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthTokenExchange, "invalid API base URL", err)
	}

	return &TokenExchanger{
		client:     client,
		tokenURL:   fmt.Sprintf("%s://%s/oauth2/token", base.Scheme, base.Host),
		apiKey:     cfg.APIKey.Unmask(),
		kid:        cfg.KID.Unmask(),
		privateKey: key,
		now:        time.Now,
	}, nil
}

// BearerToken returns a valid access token, exchanging a fresh client
// assertion when no unexpired token is cached.
func (t *TokenExchanger) BearerToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && t.now().Before(t.expires) {
		return t.token, nil
	}

	token, expiresIn, err := t.exchange(ctx)
	if err != nil {
		return "", err
	}

	t.token = token
	t.expires = t.now().Add(time.Duration(expiresIn)*time.Second - tokenExpiryMargin)
	return t.token, nil
}

func (t *TokenExchanger) exchange(ctx context.Context) (string, int, error) {
	assertion, err := t.signAssertion()
	if err != nil {
		return "", 0, err
	}

	form := url.Values{
		"grant_type":            {"client_credentials"},
		"client_assertion_type": {clientAssertionType},
		"client_assertion":      {assertion},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, types.NewAppError(types.ErrCodeAuthTokenExchange, "failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", 0, types.NewAppError(types.ErrCodeAuthTokenExchange, "token exchange failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, types.NewAppError(
			types.ErrCodeAuthTokenExchange,
			fmt.Sprintf("token endpoint returned %d", resp.StatusCode),
			nil,
		)
	}

	var tr types.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, types.NewAppError(types.ErrCodeAuthTokenExchange, "failed to decode token response", err)
	}
	if tr.AccessToken == "" {
		return "", 0, types.NewAppError(types.ErrCodeAuthTokenExchange, "token response contained no access token", nil)
	}

	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = int(assertionLifetime / time.Second)
	}
	return tr.AccessToken, expiresIn, nil
}

// signAssertion builds the RS512-signed client assertion. The API key doubles
// as both subject and issuer, per the NHS Notify application-restricted
// authentication pattern.
func (t *TokenExchanger) signAssertion() (string, error) {
	now := t.now()
	claims := jwt.MapClaims{
		"sub": t.apiKey,
		"iss": t.apiKey,
		"jti": uuid.New().String(),
		"aud": t.tokenURL,
		"exp": now.Add(assertionLifetime).Unix(),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS512, claims)
	tok.Header["kid"] = t.kid

	signed, err := tok.SignedString(t.privateKey)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeAuthTokenExchange, "failed to sign client assertion", err)
	}
	return signed, nil
}
