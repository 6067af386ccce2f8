package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"eventscout/pkg/config"
	"eventscout/pkg/errors"
	"eventscout/pkg/logger"
)

// throttleSignatures are substrings Instagram uses in throttle responses.
// Matching any of them maps the response to a rate_limited error.
var throttleSignatures = []string{
	"Please wait a few minutes",
	"Too many requests",
	"rate limited",
}

// Client is a session-authenticated Instagram web API client
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	limiter    *rate.Limiter
	baseURL    string
	logger     logger.Logger
	hasSession bool
}

// NewClient creates a client from the Instagram session configuration.
// A client without a session id is still usable for public profiles but
// most timeline requests will come back login-gated.
func NewClient(cfg *config.InstagramConfig, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		headers: map[string]string{
			"User-Agent":      cfg.UserAgent,
			"Accept":          "application/json",
			"Accept-Language": "en-US,en;q=0.9",
			"Cache-Control":   "no-cache",
		},
		baseURL: BaseURL,
		logger:  log,
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)

	var cookies []string
	if cfg.SessionID != "" {
		cookies = append(cookies, fmt.Sprintf("sessionid=%s", cfg.SessionID))
		c.hasSession = true
	}
	if cfg.CSRFToken != "" {
		cookies = append(cookies, fmt.Sprintf("csrftoken=%s", cfg.CSRFToken))
		c.headers["x-csrftoken"] = cfg.CSRFToken
	}
	if cfg.DSUserID != "" {
		cookies = append(cookies, fmt.Sprintf("ds_user_id=%s", cfg.DSUserID))
	}
	if len(cookies) > 0 {
		c.headers["Cookie"] = strings.Join(cookies, "; ")
	}

	return c
}

// HasSession reports whether the client carries a session cookie
func (c *Client) HasSession() bool {
	return c.hasSession
}

// SetBaseURL overrides the API base URL (used in tests)
func (c *Client) SetBaseURL(url string) {
	c.baseURL = strings.TrimRight(url, "/")
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// doRequest performs a rate-limited HTTP request with the configured headers
func (c *Client) doRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(errors.KindNetwork, err, "request cancelled while pacing")
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req.WithContext(ctx))
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errors.Wrap(errors.KindNetwork, err, "network error")
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

// GetJSON performs a GET request and decodes the JSON response
func (c *Client) GetJSON(ctx context.Context, url string, target interface{}) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(errors.KindUnknown, err, "failed to create request")
	}

	resp, err := c.doRequest(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(errors.KindNetwork, err, "failed to read response body")
	}

	if err := c.checkResponseStatus(resp, body); err != nil {
		return err
	}

	if err := json.Unmarshal(body, target); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          url,
			"status":       resp.StatusCode,
			"body_preview": bodyPreview,
		})
		return &errors.Error{
			Kind:    errors.KindParsing,
			Message: fmt.Sprintf("failed to parse JSON: %v", err),
			Code:    resp.StatusCode,
		}
	}

	return nil
}

// checkResponseStatus maps the HTTP response to the error taxonomy
func (c *Client) checkResponseStatus(resp *http.Response, body []byte) error {
	if isThrottleBody(body) {
		return &errors.Error{
			Kind:    errors.KindRateLimited,
			Message: "Instagram asked to wait before making more requests",
			Code:    resp.StatusCode,
		}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.WarnWithFields("rate limit exceeded", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
		return &errors.Error{
			Kind:    errors.KindRateLimited,
			Message: "rate limit exceeded",
			Code:    resp.StatusCode,
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &errors.Error{
			Kind:    errors.KindAuth,
			Message: "authentication required",
			Code:    resp.StatusCode,
		}
	case resp.StatusCode == http.StatusNotFound:
		return &errors.Error{
			Kind:    errors.KindNotFound,
			Message: "resource not found",
			Code:    resp.StatusCode,
		}
	case resp.StatusCode >= 500:
		return &errors.Error{
			Kind:    errors.KindNetwork,
			Message: "server error",
			Code:    resp.StatusCode,
		}
	case resp.StatusCode >= 400:
		return &errors.Error{
			Kind:    errors.KindUnknown,
			Message: fmt.Sprintf("unexpected status code: %d", resp.StatusCode),
			Code:    resp.StatusCode,
		}
	default:
		return nil
	}
}

func isThrottleBody(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	text := string(body)
	for _, sig := range throttleSignatures {
		if strings.Contains(text, sig) {
			return true
		}
	}
	return false
}

// FetchUserProfile fetches the Instagram user profile data including the
// first timeline page
func (c *Client) FetchUserProfile(ctx context.Context, username string) (*ProfileResponse, error) {
	url := strings.Replace(GetProfileURL(username), BaseURL, c.baseURL, 1)

	var response ProfileResponse
	if err := c.GetJSON(ctx, url, &response); err != nil {
		return nil, err
	}

	if response.Message != "" && isThrottleBody([]byte(response.Message)) {
		return nil, &errors.Error{
			Kind:    errors.KindRateLimited,
			Message: response.Message,
		}
	}

	if response.RequiresToLogin {
		c.logger.WarnWithFields("profile requires authentication", map[string]interface{}{
			"username": username,
		})
		return nil, &errors.Error{
			Kind:    errors.KindAuth,
			Message: "Instagram requires authentication to view this profile",
			Code:    http.StatusUnauthorized,
		}
	}

	return &response, nil
}

// FetchUserMedia fetches a page of timeline media for a user
func (c *Client) FetchUserMedia(ctx context.Context, userID string, after string) (*ProfileResponse, error) {
	url := strings.Replace(GetMediaURLWithLimit(userID, after, MaxMediaLimit), BaseURL, c.baseURL, 1)

	var response ProfileResponse
	if err := c.GetJSON(ctx, url, &response); err != nil {
		return nil, err
	}

	return &response, nil
}
