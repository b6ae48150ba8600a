package appwrite

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atinyakov/HabitKeeper/internal/models"
)

type createAccountRequest struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailSessionRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse is the subset of the session object the client reads.
type sessionResponse struct {
	ID     string `json:"$id"`
	UserID string `json:"userId"`
	Secret string `json:"secret"`
}

// CreateAccount registers a new account and returns its user id. It does
// not create a session.
func (c *Client) CreateAccount(ctx context.Context, email, password string) (string, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/account", nil, createAccountRequest{
		UserID:   uuid.NewString(),
		Email:    email,
		Password: password,
	})
	if err != nil {
		return "", fmt.Errorf("create account: %w", err)
	}

	var identity models.Identity
	if err := json.Unmarshal(body, &identity); err != nil {
		return "", fmt.Errorf("appwrite: failed to parse account response: %w", err)
	}

	c.log.Info("created account", zap.String("user_id", identity.ID))
	return identity.ID, nil
}

// CreateSession opens an email/password session. The session cookie is
// taken from the fallback cookie header; when the gateway returns the
// session secret in the body instead, the cookie is built from it.
func (c *Client) CreateSession(ctx context.Context, email, password string) error {
	body, err := c.doRequest(ctx, http.MethodPost, "/account/sessions/email", nil, emailSessionRequest{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	var session sessionResponse
	if err := json.Unmarshal(body, &session); err != nil {
		return fmt.Errorf("appwrite: failed to parse session response: %w", err)
	}

	if c.sessionSecret() == "" && session.Secret != "" {
		jar, _ := json.Marshal(map[string]string{"a_session_" + c.projectID: session.Secret})
		c.setCookies(string(jar))
	}

	c.log.Info("created session",
		zap.String("user_id", session.UserID),
		zap.String("session_id", session.ID),
	)
	return nil
}

// CurrentIdentity returns the account behind the held session. Without a
// session the gateway answers 401.
func (c *Client) CurrentIdentity(ctx context.Context) (models.Identity, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/account", nil, nil)
	if err != nil {
		return models.Identity{}, fmt.Errorf("get account: %w", err)
	}

	var identity models.Identity
	if err := json.Unmarshal(body, &identity); err != nil {
		return models.Identity{}, fmt.Errorf("appwrite: failed to parse account response: %w", err)
	}
	if identity.ID == "" {
		return models.Identity{}, fmt.Errorf("appwrite: account response without id")
	}
	return identity, nil
}

// DeleteSession ends the current session and forgets the cookie.
func (c *Client) DeleteSession(ctx context.Context) error {
	if _, err := c.doRequest(ctx, http.MethodDelete, "/account/sessions/current", nil, nil); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	c.clearCookies()
	c.log.Info("deleted session")
	return nil
}
