// Package auth talks to the external session service. Token issuance and
// refresh live there; this service only verifies.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"chat-sync/internal/middleware"
)

var ErrInvalidToken = errors.New("invalid token")

// HTTPValidator verifies bearer tokens against the auth service.
type HTTPValidator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPValidator builds a validator for the given auth service base URL.
func NewHTTPValidator(baseURL string) *HTTPValidator {
	return &HTTPValidator{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// ValidateToken verifies the token and returns the authenticated user id.
func (v *HTTPValidator) ValidateToken(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/v1/session", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth service status %d", resp.StatusCode)
	}

	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.UserID == "" {
		return "", ErrInvalidToken
	}
	return body.UserID, nil
}

// DevValidator accepts tokens of the form "dev:<user-id>". Local use only.
type DevValidator struct{}

func (DevValidator) ValidateToken(ctx context.Context, token string) (string, error) {
	if userID, ok := strings.CutPrefix(token, "dev:"); ok && userID != "" {
		return userID, nil
	}
	return "", ErrInvalidToken
}

// NewValidator picks the HTTP validator when an auth URL is configured and
// the dev validator otherwise.
func NewValidator(authURL string) middleware.TokenValidator {
	if authURL == "" {
		log.Printf("auth: no AUTH_URL configured, using dev token validator")
		return DevValidator{}
	}
	return NewHTTPValidator(authURL)
}
