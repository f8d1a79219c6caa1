package admin

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dd0wney/cluso-dbcluster/pkg/health"
)

// DefaultClientTimeout bounds each admin API request.
const DefaultClientTimeout = 10 * time.Second

// APIError is a non-2xx admin API response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("admin api: %s", http.StatusText(e.Status))
	}
	return fmt.Sprintf("admin api: %s: %s", http.StatusText(e.Status), e.Message)
}

// Client calls the admin API of one middleware instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for baseURL. token is sent as a bearer token
// when non-empty. tlsConfig is used for https URLs.
func NewClient(baseURL, token string, tlsConfig *tls.Config) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: DefaultClientTimeout, Transport: transport},
	}
}

// Members lists every configured member with its state.
func (c *Client) Members(ctx context.Context) ([]MemberStatus, error) {
	var out []MemberStatus
	if err := c.do(ctx, http.MethodGet, "/members", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Member returns one member.
func (c *Client) Member(ctx context.Context, id string) (MemberStatus, error) {
	var out MemberStatus
	err := c.do(ctx, http.MethodGet, "/members/"+url.PathEscape(id), &out)
	return out, err
}

// Activate synchronizes and activates a member. An empty strategy uses the
// cluster default.
func (c *Client) Activate(ctx context.Context, id, strategy string) (MemberStatus, error) {
	path := "/members/" + url.PathEscape(id) + "/activate"
	if strategy != "" {
		path += "?strategy=" + url.QueryEscape(strategy)
	}
	var out MemberStatus
	err := c.do(ctx, http.MethodPost, path, &out)
	return out, err
}

// Deactivate removes a member from the active set.
func (c *Client) Deactivate(ctx context.Context, id string) (MemberStatus, error) {
	var out MemberStatus
	err := c.do(ctx, http.MethodPost, "/members/"+url.PathEscape(id)+"/deactivate", &out)
	return out, err
}

// Health returns the aggregated health report. An unhealthy instance answers
// 503 with a full report, which is returned without error.
func (c *Client) Health(ctx context.Context) (health.Response, error) {
	var out health.Response
	err := c.do(ctx, http.MethodGet, "/health", &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable && out.Status != "" {
		return out, nil
	}
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil {
			apiErr.Message = payload.Error
		}
		// Health reports are decoded even on 503.
		if out != nil {
			_ = json.Unmarshal(body, out)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
