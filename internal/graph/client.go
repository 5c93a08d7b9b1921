// Package graph implements change sources backed by the Microsoft Graph API:
// OneDrive delta feeds and Outlook mail folders.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/as775116191/ragflow/internal/changesource"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	DefaultBaseURL    = "https://graph.microsoft.com/v1.0"
	defaultScope      = "https://graph.microsoft.com/.default"
	maxObjectBytes    = 100 << 20
	maxErrorBodyBytes = 4 << 10
)

// Config holds app-only credentials for a Microsoft Entra tenant.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	BaseURL      string
	// AuthURL overrides the token endpoint host, for tests and sovereign clouds.
	AuthURL string
	Timeout time.Duration
}

// Client is a thin Graph REST client that classifies failures into
// changesource error kinds.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient builds a client that authenticates with the client credentials
// flow. Tokens are cached and refreshed by the oauth2 transport.
func NewClient(ctx context.Context, cfg Config) *Client {
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = "https://login.microsoftonline.com"
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimSuffix(authURL, "/"), cfg.TenantID),
		Scopes:       []string{defaultScope},
	}

	base := &http.Client{Timeout: cfg.Timeout}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	httpClient := cc.Client(ctx)
	httpClient.Timeout = cfg.Timeout

	return NewClientWithHTTP(cfg.BaseURL, httpClient)
}

// NewClientWithHTTP wraps an already-authenticated http.Client.
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// userURL returns the absolute URL for a resource under /users/{account}.
func (c *Client) userURL(account, rest string) string {
	return c.baseURL + "/users/" + url.PathEscape(account) + rest
}

// isOwnURL reports whether raw points at this client's Graph endpoint.
func (c *Client) isOwnURL(raw string) bool {
	return strings.HasPrefix(raw, c.baseURL+"/")
}

func (c *Client) getJSON(ctx context.Context, op, rawURL string, out any) error {
	body, err := c.get(ctx, op, rawURL, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return changesource.NewError(changesource.KindUnknown, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) get(ctx context.Context, op, rawURL, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, changesource.NewError(changesource.KindUnknown, op, err)
	}
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, classifyResponse(op, resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxObjectBytes+1))
	if err != nil {
		return nil, changesource.NewError(changesource.KindTransient, op, fmt.Errorf("read body: %w", err))
	}
	if len(body) > maxObjectBytes {
		return nil, changesource.NewError(changesource.KindUnknown, op, fmt.Errorf("object exceeds %d bytes", maxObjectBytes))
	}
	return body, nil
}

type graphErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func classifyResponse(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var ge graphErrorBody
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &ge) == nil && ge.Error.Code != "" {
		msg = ge.Error.Code + ": " + ge.Error.Message
	}
	cause := fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return changesource.NewError(changesource.KindUnauthenticated, op, cause)
	case resp.StatusCode == http.StatusNotFound:
		return changesource.NewError(changesource.KindNotFound, op, cause)
	case resp.StatusCode == http.StatusGone:
		return &changesource.Error{Kind: changesource.KindNotFound, Op: op, Err: errResyncRequired}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return &changesource.Error{
			Kind:       changesource.KindRateLimited,
			Op:         op,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        cause,
		}
	case resp.StatusCode >= 500:
		return changesource.NewError(changesource.KindTransient, op, cause)
	default:
		return changesource.NewError(changesource.KindUnknown, op, cause)
	}
}

// errResyncRequired marks an expired delta token (HTTP 410).
var errResyncRequired = errors.New("delta token expired, resync required")

func classifyTransportError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && re.Response.StatusCode >= 500 {
			return changesource.NewError(changesource.KindTransient, op, err)
		}
		return changesource.NewError(changesource.KindUnauthenticated, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return changesource.NewError(changesource.KindUnknown, op, err)
	}
	// Timeouts, resets and DNS failures are all worth one retry.
	return changesource.NewError(changesource.KindTransient, op, err)
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
