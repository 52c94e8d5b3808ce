package notify

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rxnotify/internal/config"
	"rxnotify/internal/types"
)

func generateTestKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return key, string(pemBytes)
}

func testNotifyConfig(pemKey string) config.NotifyConfig {
	return config.NotifyConfig{
		APIKey:     types.SecretString("api-key-123"),
		PrivateKey: types.SecretString(pemKey),
		KID:        types.SecretString("kid-1"),
	}
}

func TestTokenExchanger_ExchangesSignedAssertion(t *testing.T) {
	key, pemKey := generateTestKey(t)

	var gotAssertion, gotGrantType, gotAssertionType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		gotGrantType = r.PostForm.Get("grant_type")
		gotAssertionType = r.PostForm.Get("client_assertion_type")
		gotAssertion = r.PostForm.Get("client_assertion")

		_ = json.NewEncoder(w).Encode(types.TokenResponse{
			AccessToken: "access-token-1",
			TokenType:   "Bearer",
			ExpiresIn:   600,
		})
	}))
	defer server.Close()

	client := NewBaseClient(server.Client(), "test", DefaultRetryPolicy(), "rxnotify-test", WithSleepFunc(func(time.Duration) {}))
	exchanger, err := NewTokenExchanger(client, server.URL, testNotifyConfig(pemKey))
	if err != nil {
		t.Fatalf("creating exchanger: %v", err)
	}

	token, err := exchanger.BearerToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "access-token-1" {
		t.Errorf("unexpected token %q", token)
	}

	if gotGrantType != "client_credentials" {
		t.Errorf("unexpected grant type %q", gotGrantType)
	}
	if gotAssertionType != clientAssertionType {
		t.Errorf("unexpected assertion type %q", gotAssertionType)
	}

	// The assertion must verify against the public key and carry the
	// application-restricted claims.
	parsed, err := jwt.Parse(gotAssertion, func(tok *jwt.Token) (any, error) {
		if tok.Method.Alg() != "RS512" {
			t.Errorf("expected RS512, got %s", tok.Method.Alg())
		}
		return &key.PublicKey, nil
	})
	if err != nil {
		t.Fatalf("assertion does not verify: %v", err)
	}

	claims := parsed.Claims.(jwt.MapClaims)
	if claims["sub"] != "api-key-123" || claims["iss"] != "api-key-123" {
		t.Errorf("sub/iss should both be the API key, got %v/%v", claims["sub"], claims["iss"])
	}
	if claims["jti"] == "" {
		t.Error("jti must be set")
	}
	if parsed.Header["kid"] != "kid-1" {
		t.Errorf("kid header missing, got %v", parsed.Header["kid"])
	}
}

func TestTokenExchanger_CachesTokenUntilExpiry(t *testing.T) {
	_, pemKey := generateTestKey(t)

	var exchanges atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		exchanges.Add(1)
		_ = json.NewEncoder(w).Encode(types.TokenResponse{
			AccessToken: "access-token",
			ExpiresIn:   600,
		})
	}))
	defer server.Close()

	client := NewBaseClient(server.Client(), "test", DefaultRetryPolicy(), "rxnotify-test", WithSleepFunc(func(time.Duration) {}))
	exchanger, err := NewTokenExchanger(client, server.URL, testNotifyConfig(pemKey))
	if err != nil {
		t.Fatalf("creating exchanger: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := exchanger.BearerToken(context.Background()); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	if got := exchanges.Load(); got != 1 {
		t.Errorf("expected a single exchange for repeated calls, got %d", got)
	}
}

func TestTokenExchanger_RefreshesExpiredToken(t *testing.T) {
	_, pemKey := generateTestKey(t)

	var exchanges atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		exchanges.Add(1)
		_ = json.NewEncoder(w).Encode(types.TokenResponse{
			AccessToken: "access-token",
			ExpiresIn:   600,
		})
	}))
	defer server.Close()

	client := NewBaseClient(server.Client(), "test", DefaultRetryPolicy(), "rxnotify-test", WithSleepFunc(func(time.Duration) {}))
	exchanger, err := NewTokenExchanger(client, server.URL, testNotifyConfig(pemKey))
	if err != nil {
		t.Fatalf("creating exchanger: %v", err)
	}

	now := time.Now()
	exchanger.now = func() time.Time { return now }
	if _, err := exchanger.BearerToken(context.Background()); err != nil {
		t.Fatalf("first call: %v", err)
	}

	// Jump past the advertised lifetime.
	exchanger.now = func() time.Time { return now.Add(11 * time.Minute) }
	if _, err := exchanger.BearerToken(context.Background()); err != nil {
		t.Fatalf("second call: %v", err)
	}

	if got := exchanges.Load(); got != 2 {
		t.Errorf("expected a refresh after expiry, got %d exchanges", got)
	}
}

func TestTokenExchanger_RejectsEmptyToken(t *testing.T) {
	_, pemKey := generateTestKey(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(types.TokenResponse{})
	}))
	defer server.Close()

	client := NewBaseClient(server.Client(), "test", DefaultRetryPolicy(), "rxnotify-test", WithSleepFunc(func(time.Duration) {}))
	exchanger, err := NewTokenExchanger(client, server.URL, testNotifyConfig(pemKey))
	if err != nil {
		t.Fatalf("creating exchanger: %v", err)
	}

	if _, err := exchanger.BearerToken(context.Background()); err == nil {
		t.Fatal("expected an error for an empty access token")
	}
}

func TestNewTokenExchanger_RejectsInvalidKey(t *testing.T) {
	client := NewBaseClient(http.DefaultClient, "test", DefaultRetryPolicy(), "rxnotify-test")
	_, err := NewTokenExchanger(client, "https://api.example", testNotifyConfig("not a pem key"))
	if err == nil {
		t.Fatal("expected an error for an unparsable private key")
	}
}
