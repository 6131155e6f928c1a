package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"proxyhub/internal/constants"
	"proxyhub/internal/settings"
	"proxyhub/internal/types"
)

// APIError is a non-2xx answer from the admin API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}

// Client talks to the admin API of a proxyhub server.
type Client struct {
	BaseURL       string
	Token         string
	SkipTLSVerify bool
	http          *http.Client
}

func New(serverURL, token string) *Client {
	serverURL, skip := NormalizeServerURL(serverURL)
	c := &Client{BaseURL: serverURL, Token: token, SkipTLSVerify: skip, http: &http.Client{Timeout: 15 * time.Second}}
	if skip {
		c.http.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return c
}

// NormalizeServerURL trims the trailing slash, defaults the scheme to http,
// and reports whether TLS verification should be skipped for local hosts.
func NormalizeServerURL(serverURL string) (string, bool) {
	serverURL = strings.TrimSuffix(serverURL, "/")
	if !strings.Contains(serverURL, "://") {
		serverURL = "http://" + serverURL
	}
	useHTTPS := strings.HasPrefix(serverURL, "https://")
	skipTLSVerify := useHTTPS && (strings.Contains(serverURL, "localhost") ||
		strings.Contains(serverURL, "127.0.0.1"))
	return serverURL, skipTLSVerify
}

// WebSocketURL maps the server URL onto the ws(s) scheme.
func (c *Client) WebSocketURL(path string) string {
	switch {
	case strings.HasPrefix(c.BaseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.BaseURL, "https://") + path
	default:
		return "ws://" + strings.TrimPrefix(c.BaseURL, "http://") + path
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set(constants.SessionHeader, c.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Error string `json:"error"`
		}
		msg := string(bytes.TrimSpace(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type LoginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login exchanges credentials for a token and keeps it on the client.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{"username": username, "password": password}, &out)
	if err != nil {
		return nil, err
	}
	c.Token = out.Token
	return &out, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

func (c *Client) Sessions(ctx context.Context, limit int) ([]types.Session, error) {
	path := "/api/sessions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []types.Session
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

func (c *Client) Session(ctx context.Context, id string) (*types.Session, error) {
	var out types.Session
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Stats(ctx context.Context) (*types.Stats, error) {
	var out types.Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type disconnectResponse struct {
	Success   bool `json:"success"`
	WasActive bool `json:"was_active"`
}

// Kick force-disconnects a session. It reports whether the session was
// still active.
func (c *Client) Kick(ctx context.Context, id string) (bool, error) {
	var out disconnectResponse
	err := c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil, &out)
	return out.WasActive, err
}

func (c *Client) Connect(ctx context.Context, host string, port int, userID string) (*types.Session, error) {
	body := map[string]any{"proxyHost": host, "proxyPort": port}
	if userID != "" {
		body["userId"] = userID
	}
	var out types.Session
	if err := c.do(ctx, http.MethodPost, "/api/proxy/connect", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Disconnect(ctx context.Context, id string) (bool, error) {
	var out disconnectResponse
	err := c.do(ctx, http.MethodPost, "/api/proxy/disconnect/"+url.PathEscape(id), nil, &out)
	return out.WasActive, err
}

func (c *Client) Settings(ctx context.Context) ([]settings.Setting, error) {
	var out []settings.Setting
	return out, c.do(ctx, http.MethodGet, "/api/config", nil, &out)
}

func (c *Client) SetSetting(ctx context.Context, key, value string) error {
	return c.do(ctx, http.MethodPut, "/api/config/"+url.PathEscape(key), map[string]string{"value": value}, nil)
}
