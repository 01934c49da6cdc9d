package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"vaultchat/internal/auth"
	"vaultchat/internal/config"
	"vaultchat/internal/logging"
)

const maxResponseBytes = 1 << 20

// Client calls the VaultWeb REST API. The http.Client is expected to carry
// an auth.Transport so bearer tokens and refreshes are handled below it.
type Client struct {
	http      *http.Client
	endpoints config.APIEndpoints
	session   *auth.Session
	logger    *logging.Logger
}

func New(httpClient *http.Client, endpoints config.APIEndpoints, session *auth.Session, logger *logging.Logger) *Client {
	if logger == nil {
		panic("api.New: logger must not be nil")
	}
	if session == nil {
		panic("api.New: session must not be nil")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, endpoints: endpoints, session: session, logger: logger}
}

func (c *Client) Session() *auth.Session {
	return c.session
}

// do sends a request with an optional JSON payload and returns the response
// body. Statuses >= 400 are returned as *auth.HTTPStatusError.
func (c *Client) do(ctx context.Context, method string, target string, payload any) ([]byte, error) {
	var body io.Reader
	var raw []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = encoded
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	c.logger.Debugf("%s %s -> %s", method, target, resp.Status)

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Warn("request rejected",
			logging.Field("method", method),
			logging.Field("url", target),
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatHTTPPayload(data)),
		)
		return nil, auth.StatusError(resp)
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	data, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Warn("invalid response JSON",
			logging.Field("url", target),
			logging.Field("error", err),
			logging.Field("response", logging.FormatHTTPPayload(data)),
		)
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}

// postJSON sends payload and decodes the response into out.
func (c *Client) postJSON(ctx context.Context, target string, payload any, out any) error {
	data, err := c.do(ctx, http.MethodPost, target, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Warn("invalid response JSON",
			logging.Field("url", target),
			logging.Field("error", err),
			logging.Field("response", logging.FormatHTTPPayload(data)),
		)
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}
