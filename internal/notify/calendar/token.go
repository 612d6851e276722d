// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package calendar

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// assertionLifetime bounds the signed assertion's validity window.
const assertionLifetime = 5 * time.Minute

// tokenExpirySlack refreshes the cached token slightly before the provider
// would reject it.
const tokenExpirySlack = 1 * time.Minute

// # Service-Account Token Source

// tokenSource exchanges RS256-signed service-account assertions for
// short-lived bearer tokens, caching them until shortly before expiry.
//
// # Concurrency
//
// Token is safe for concurrent use; a refresh holds the mutex so only one
// exchange is in flight at a time.
type tokenSource struct {
	issuer     string
	scope      string
	tokenURL   string
	privateKey *rsa.PrivateKey
	httpClient *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// newTokenSource loads the PEM private key and prepares the source.
func newTokenSource(baseURL, issuer, scope, keyPath string, timeout time.Duration) (*tokenSource, error) {
	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("calendar: failed to read service-account key: %w", err)
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("calendar: invalid service-account key: %w", err)
	}

	return &tokenSource{
		issuer:     issuer,
		scope:      scope,
		tokenURL:   baseURL + "/oauth2/token",
		privateKey: privateKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Token returns a valid bearer token, refreshing it when needed.
func (source *tokenSource) Token(ctx context.Context) (string, error) {
	source.mu.Lock()
	defer source.mu.Unlock()

	if source.token != "" && time.Now().Before(source.expiresAt.Add(-tokenExpirySlack)) {
		return source.token, nil
	}

	assertion, err := source.signAssertion()
	if err != nil {
		return "", err
	}

	token, expiresIn, err := source.exchange(ctx, assertion)
	if err != nil {
		return "", err
	}

	source.token = token
	source.expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)

	return source.token, nil
}

// signAssertion builds and signs the service-account claim set.
func (source *tokenSource) signAssertion() (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"iss":   source.issuer,
		"scope": source.scope,
		"aud":   source.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	}

	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(source.privateKey)
	if err != nil {
		return "", fmt.Errorf("calendar: failed to sign assertion: %w", err)
	}

	return assertion, nil
}

// exchange trades the assertion for a bearer token.
func (source *tokenSource) exchange(ctx context.Context, assertion string) (string, int, error) {
	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, source.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := source.httpClient.Do(request)
	if err != nil {
		return "", 0, fmt.Errorf("calendar: token exchange failed: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("calendar: token endpoint returned %d", response.StatusCode)
	}

	var decoded struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", 0, fmt.Errorf("calendar: malformed token response: %w", err)
	}

	if decoded.AccessToken == "" {
		return "", 0, fmt.Errorf("calendar: token response missing access token")
	}

	return decoded.AccessToken, decoded.ExpiresIn, nil
}
