package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"eventscout/pkg/config"
	"eventscout/pkg/errors"
	"eventscout/pkg/logger"
)

// Client talks to the managed scraping-actor API: it submits runs, polls
// them to completion and collects the result dataset. When the accelerated
// local bridge is available it is preferred, with transparent REST fallback.
type Client struct {
	token        string
	actorID      string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	jobTimeout   time.Duration
	logger       logger.Logger

	bridge *bridgeRunner

	mu            sync.Mutex
	bridgeFailed  bool
	lastTransport string
}

// NewClient creates a remote actor client. Token and actor id are required.
func NewClient(cfg *config.RemoteConfig, log logger.Logger) (*Client, error) {
	if cfg.APIToken == "" {
		return nil, errors.New(errors.KindConfiguration, "remote API token is required")
	}
	if cfg.ActorID == "" {
		return nil, errors.New(errors.KindConfiguration, "remote actor ID is required")
	}
	if log == nil {
		log = logger.GetLogger()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.apify.com/v2"
	}

	pollInterval := cfg.PollInterval
	if pollInterval < time.Second {
		pollInterval = time.Second
	}

	c := &Client{
		token:        cfg.APIToken,
		actorID:      cfg.ActorID,
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout},
		pollInterval: pollInterval,
		jobTimeout:   cfg.JobTimeout,
		logger:       log,
	}

	if cfg.Bridge != "off" {
		c.bridge = newBridgeRunner(cfg, log)
	}

	return c, nil
}

// Signature identifies the credential+target pair this client was built
// for. The orchestrator rebuilds the client when the signature changes.
func (c *Client) Signature() string {
	return c.token + ":" + c.actorID
}

// JobTimeout returns the configured wall-clock deadline for one run
func (c *Client) JobTimeout() time.Duration {
	return c.jobTimeout
}

// request performs an HTTP request and unwraps the platform's data envelope
func (c *Client) request(ctx context.Context, method, rawURL string, body interface{}, target interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(errors.KindUnknown, err, "failed to encode request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return errors.Wrap(errors.KindUnknown, err, "failed to create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.KindRemoteIntegration, err, "remote API request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(errors.KindRemoteIntegration, err, "failed to read remote API response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &errors.Error{
			Kind:    errors.KindRemoteIntegration,
			Message: fmt.Sprintf("remote API error: %s", resp.Status),
			Code:    resp.StatusCode,
		}
	}

	if target == nil {
		return nil
	}

	// Responses wrap the payload in a data envelope; tolerate both shapes.
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Data) > 0 {
		data = envelope.Data
	}
	if err := json.Unmarshal(data, target); err != nil {
		return errors.Wrap(errors.KindParsing, err, "remote API response was not valid JSON")
	}
	return nil
}

// SubmitJob starts an actor run for the given input
func (c *Client) SubmitJob(ctx context.Context, input JobInput) (*Run, error) {
	u := fmt.Sprintf("%s/acts/%s/runs?token=%s", c.baseURL, url.PathEscape(c.actorID), url.QueryEscape(c.token))
	var run Run
	if err := c.request(ctx, http.MethodPost, u, input, &run); err != nil {
		return nil, err
	}
	if run.ID == "" {
		return nil, errors.New(errors.KindRemoteIntegration, "run response did not include an ID")
	}
	return &run, nil
}

// PollJob fetches the current state of a run
func (c *Client) PollJob(ctx context.Context, runID string) (*Run, error) {
	u := fmt.Sprintf("%s/actor-runs/%s?token=%s", c.baseURL, url.PathEscape(runID), url.QueryEscape(c.token))
	var run Run
	if err := c.request(ctx, http.MethodGet, u, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// FetchResultItems reads the run's dataset, capped at limit items
func (c *Client) FetchResultItems(ctx context.Context, datasetID string, limit int) ([]Item, error) {
	params := url.Values{}
	params.Set("token", c.token)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	u := fmt.Sprintf("%s/datasets/%s/items?%s", c.baseURL, url.PathEscape(datasetID), params.Encode())

	var items []Item
	if err := c.request(ctx, http.MethodGet, u, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// RunAndCollect submits a run, waits for it to finish and returns the
// dataset items, trying the accelerated bridge first when usable
func (c *Client) RunAndCollect(ctx context.Context, input JobInput, limit int) ([]Item, error) {
	if c.shouldUseBridge() {
		items, err := c.bridge.run(ctx, input, c.token, c.actorID, c.baseURL, limit, c.jobTimeout)
		if err == nil {
			c.setLastTransport(transportBridge)
			return items, nil
		}
		var bridgeErr *bridgeError
		if asBridgeError(err, &bridgeErr) && bridgeErr.shouldFallback {
			c.logger.WarnWithFields("bridge transport unavailable, falling back to REST", map[string]interface{}{
				"error": bridgeErr.Error(),
			})
			c.markBridgeFailed()
		} else {
			return nil, err
		}
	}
	return c.runAndCollectViaREST(ctx, input, limit)
}

func (c *Client) runAndCollectViaREST(ctx context.Context, input JobInput, limit int) ([]Item, error) {
	run, err := c.SubmitJob(ctx, input)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.jobTimeout)
	status := run.Status
	for !IsTerminalStatus(status) {
		if time.Now().After(deadline) {
			return nil, errors.New(errors.KindRemoteTimeout, "remote run did not finish before timeout")
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(errors.KindRemoteIntegration, ctx.Err(), "cancelled while polling remote run")
		case <-time.After(c.pollInterval):
		}
		run, err = c.PollJob(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		status = run.Status
	}

	if status != StatusSucceeded {
		return nil, errors.Newf(errors.KindRemoteIntegration, "remote run ended with status %s", status)
	}

	if run.DefaultDatasetID == "" {
		c.setLastTransport(transportREST)
		return nil, nil
	}

	items, err := c.FetchResultItems(ctx, run.DefaultDatasetID, limit)
	if err != nil {
		return nil, err
	}
	c.setLastTransport(transportREST)
	return items, nil
}

func (c *Client) shouldUseBridge() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bridge != nil && c.bridge.available && !c.bridgeFailed
}

func (c *Client) markBridgeFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bridgeFailed = true
}

func (c *Client) setLastTransport(t string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTransport = t
}

// RuntimeInfo reports which transport served the last call
func (c *Client) RuntimeInfo() RuntimeInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := RuntimeInfo{
		BridgeFailed:  c.bridgeFailed,
		LastTransport: c.lastTransport,
	}
	if c.bridge != nil {
		info.PreferBridge = true
		info.BridgeAvailable = c.bridge.available
		info.UsingBridge = c.bridge.available && !c.bridgeFailed
	}
	return info
}

const (
	transportBridge = "bridge"
	transportREST   = "rest"
)
