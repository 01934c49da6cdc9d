package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vaultchat/internal/credential"
	"vaultchat/internal/logging"
)

var ErrEmptyToken = errors.New("server returned an empty token")

// Login authenticates and stores the returned access token. The refresh
// token arrives as a cookie and stays in the client's cookie jar.
func (c *Client) Login(ctx context.Context, username string, password string) (credential.Credential, error) {
	username = strings.TrimSpace(username)
	data, err := c.do(ctx, http.MethodPost, c.endpoints.LoginURL, credentialsPayload{Username: username, Password: password})
	if err != nil {
		return credential.Credential{}, fmt.Errorf("login: %w", err)
	}
	cred, err := parseToken(data)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("login: %w", err)
	}
	c.session.Store().Set(cred)
	c.logger.Info("logged in",
		logging.Field("username", username),
		logging.Field("token", logging.RedactToken(cred.Token)),
	)
	return cred, nil
}

func (c *Client) Register(ctx context.Context, username string, password string) error {
	username = strings.TrimSpace(username)
	if _, err := c.do(ctx, http.MethodPost, c.endpoints.RegisterURL, credentialsPayload{Username: username, Password: password}); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	c.logger.Info("account registered", logging.Field("username", username))
	return nil
}

// Refresh exchanges the refresh cookie for a new access token. It does not
// touch the store; the session does that once for all waiters. Its
// signature matches auth.RefreshFunc.
func (c *Client) Refresh(ctx context.Context) (credential.Credential, error) {
	data, err := c.do(ctx, http.MethodPost, c.endpoints.RefreshURL, nil)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("refresh: %w", err)
	}
	cred, err := parseToken(data)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("refresh: %w", err)
	}
	return cred, nil
}

// Logout asks the server to drop the refresh cookie and clears the local
// credential even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, c.endpoints.LogoutURL, nil)
	if c.session.Store().Clear() {
		c.logger.Info("logged out")
	}
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func parseToken(data []byte) (credential.Credential, error) {
	var body tokenResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return credential.Credential{}, err
	}
	cred := credential.New(body.Token)
	if cred.IsZero() {
		return credential.Credential{}, ErrEmptyToken
	}
	return cred, nil
}
