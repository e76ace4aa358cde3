package github

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// appJWTMinter produces short-lived GitHub App JWTs used to mint
// installation access tokens. Tokens are cached until close to expiry.
type appJWTMinter struct {
	appID      string
	privateKey []byte

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

func newAppJWTMinter(appID string, privateKey []byte) (*appJWTMinter, error) {
	if _, err := jwt.ParseRSAPrivateKeyFromPEM(privateKey); err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &appJWTMinter{
		appID:      appID,
		privateKey: privateKey,
	}, nil
}

func (m *appJWTMinter) getToken() (string, error) {
	m.mu.RLock()
	// Reuse the cached token while it has at least 2 minutes left
	if m.token != "" && time.Now().Add(2*time.Minute).Before(m.expiresAt) {
		defer m.mu.RUnlock()
		return m.token, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && time.Now().Add(2*time.Minute).Before(m.expiresAt) {
		return m.token, nil
	}

	token, expiresAt, err := m.mintJWT()
	if err != nil {
		return "", err
	}

	m.token = token
	m.expiresAt = expiresAt

	return token, nil
}

func (m *appJWTMinter) mintJWT() (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(10 * time.Minute) // GitHub max is 10 minutes

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iat": jwt.NewNumericDate(now.Add(-60 * time.Second)), // tolerate clock drift
		"exp": jwt.NewNumericDate(expiresAt),
		"iss": m.appID,
	})

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(m.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to parse private key: %w", err)
	}

	tokenString, err := token.SignedString(privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, expiresAt, nil
}
