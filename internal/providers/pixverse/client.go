// Package pixverse talks to the PixVerse asynchronous generation REST API.
package pixverse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("pixverse: api key is required")

// APIError is a provider-level rejection carrying the provider's code and
// message so failure events can echo them verbatim.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pixverse: %s (code %d)", e.Message, e.Code)
}

// Options configures the PixVerse client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the PixVerse generation endpoints.
// It is stateless across calls; connections are pooled by the http.Client.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

const successCode = 200

type submitPayload struct {
	Prompt      string `json:"prompt"`
	Kind        string `json:"kind"`
	Model       string `json:"model,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Seed        *int   `json:"seed,omitempty"`
	Quantity    int    `json:"quantity,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type submitResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		JobID string `json:"job_id"`
	} `json:"data"`
}

type pollResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		JobID        string   `json:"job_id"`
		Status       string   `json:"status"`
		ResultURLs   []string `json:"result_urls"`
		Resolution   string   `json:"resolution"`
		ErrorCode    int      `json:"error_code"`
		ErrorMessage string   `json:"error_message"`
	} `json:"data"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://app-api.pixverse.ai/openapi/v2"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "v4.5"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit starts a generation job.
func (c *Client) Submit(ctx context.Context, req SubmitRequest, callbackURL string) (string, error) {
	payload := c.buildPayload(req, callbackURL)
	return c.submit(ctx, c.baseURL+"/generations", payload)
}

// Extend continues a finished job under a new provider job id.
func (c *Client) Extend(ctx context.Context, jobID string, req SubmitRequest, callbackURL string) (string, error) {
	if strings.TrimSpace(jobID) == "" {
		return "", errors.New("pixverse: job id is required")
	}
	payload := c.buildPayload(req, callbackURL)
	return c.submit(ctx, c.baseURL+"/generations/"+jobID+"/extend", payload)
}

// Poll reads the current state of a job.
func (c *Client) Poll(ctx context.Context, jobID string) (*PollResult, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, errors.New("pixverse: job id is required")
	}
	raw, err := c.do(ctx, http.MethodGet, c.baseURL+"/generations/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	var decoded pollResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("pixverse: decode poll response: %w", err)
	}
	if decoded.Code != successCode {
		return nil, &APIError{Code: decoded.Code, Message: decoded.Message}
	}
	result := &PollResult{
		ResultURLs:   decoded.Data.ResultURLs,
		Resolution:   decoded.Data.Resolution,
		ErrorCode:    decoded.Data.ErrorCode,
		ErrorMessage: decoded.Data.ErrorMessage,
	}
	switch strings.ToLower(decoded.Data.Status) {
	case "succeeded", "completed", "success":
		result.Status = JobStatusSucceeded
	case "failed", "error":
		result.Status = JobStatusFailed
	default:
		result.Status = JobStatusProcessing
	}
	return result, nil
}

func (c *Client) buildPayload(req SubmitRequest, callbackURL string) submitPayload {
	payload := submitPayload{
		Prompt:      strings.TrimSpace(req.Prompt),
		Kind:        req.Kind,
		Model:       c.model,
		AspectRatio: req.AspectRatio,
		Quantity:    req.Quantity,
		CallbackURL: callbackURL,
	}
	if req.Model != "" {
		payload.Model = req.Model
	}
	if req.Seed > 0 {
		seed := req.Seed
		payload.Seed = &seed
	}
	return payload
}

func (c *Client) submit(ctx context.Context, endpoint string, payload submitPayload) (string, error) {
	if payload.Prompt == "" {
		return "", errors.New("pixverse: prompt is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("pixverse: encode request: %w", err)
	}
	raw, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("pixverse: decode response: %w", err)
	}
	if decoded.Code != successCode {
		return "", &APIError{Code: decoded.Code, Message: decoded.Message}
	}
	jobID := strings.TrimSpace(decoded.Data.JobID)
	if jobID == "" {
		return "", errors.New("pixverse: response missing job id")
	}
	c.logger.Debug().Str("job_id", jobID).Str("model", payload.Model).Msg("pixverse: job accepted")
	return jobID, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("pixverse: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("pixverse: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pixverse: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail submitResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return nil, &APIError{Code: detail.Code, Message: detail.Message}
		}
		return nil, &APIError{Code: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

var _ Generator = (*Client)(nil)
