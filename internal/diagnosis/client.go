// Package diagnosis is the REST client of the diagnosis backend.
package diagnosis

import (
	"bytes"
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

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kamilpajak/opsdiag/internal/auth"
	"github.com/kamilpajak/opsdiag/internal/metrics"
	"github.com/kamilpajak/opsdiag/pkg/logger"
	"github.com/kamilpajak/opsdiag/pkg/models"
)

// Client handles diagnosis backend interactions
type Client struct {
	baseURL    string
	tokens     auth.TokenSource
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     logger.Logger
}

// Option configures the Client during construction.
type Option func(*clientConfig) error

type clientConfig struct {
	httpClient *http.Client
	tokens     auth.TokenSource
	limiter    *rate.Limiter
	logger     logger.Logger
	timeout    time.Duration
}

// New creates a client for the backend rooted at baseURL, e.g.
// "https://console.example.com/api/v1".
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("diagnosis: baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	cfg := &clientConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	httpClient := &http.Client{}
	if cfg.httpClient != nil {
		// Copied so the timeout does not leak into the caller's client.
		copied := *cfg.httpClient
		httpClient = &copied
	}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	log := cfg.logger
	if log == nil {
		log = logger.NewNop()
	}

	tokens := cfg.tokens
	if tokens == nil {
		tokens = auth.StaticToken("")
	}

	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: httpClient,
		limiter:    cfg.limiter,
		logger:     log,
	}, nil
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithLogger configures structured logging.
func WithLogger(l logger.Logger) Option {
	return func(cfg *clientConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithTokenSource sets where the bearer token comes from.
func WithTokenSource(ts auth.TokenSource) Option {
	return func(cfg *clientConfig) error {
		cfg.tokens = ts
		return nil
	}
}

// WithToken sends a fixed bearer token.
func WithToken(token string) Option {
	return WithTokenSource(auth.StaticToken(token))
}

// WithRateLimit limits outgoing requests to rps per second with the given burst.
// A zero rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(cfg *clientConfig) error {
		if rps < 0 || (rps > 0 && burst < 1) {
			return fmt.Errorf("diagnosis: invalid rate limit %v/%d", rps, burst)
		}
		if rps > 0 {
			cfg.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
		return nil
	}
}

// WithTimeout sets a timeout on the HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		cfg.timeout = d
		return nil
	}
}

// envelope wraps every backend response; code 0 means success.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// ListDiagnoses fetches one page of diagnosis records.
func (c *Client) ListDiagnoses(ctx context.Context, page, size int) (*models.Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var result models.Page
	if err := c.doJSON(ctx, http.MethodGet, "/diagnosis?"+q.Encode(), "list diagnoses", nil, &result); err != nil {
		return nil, err
	}
	if result.Page == 0 {
		result.Page = page
	}
	if result.Size == 0 {
		result.Size = size
	}
	return &result, nil
}

// GetDiagnosis fetches a full diagnosis record.
func (c *Client) GetDiagnosis(ctx context.Context, id int64) (*models.DiagnosisRecord, error) {
	var rec models.DiagnosisRecord
	if err := c.doJSON(ctx, http.MethodGet, recordPath(id, ""), "get diagnosis", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RunDiagnosis triggers a new diagnosis.
func (c *Client) RunDiagnosis(ctx context.Context, req models.RunRequest) (*models.DiagnosisRecord, error) {
	var rec models.DiagnosisRecord
	if err := c.doJSON(ctx, http.MethodPost, "/diagnosis/run", "run diagnosis", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SubmitFeedback posts feedback for an iteration and returns the updated record.
func (c *Client) SubmitFeedback(ctx context.Context, id int64, req models.FeedbackRequest) (*models.DiagnosisRecord, error) {
	var rec models.DiagnosisRecord
	if err := c.doJSON(ctx, http.MethodPost, recordPath(id, "/feedback"), "submit feedback", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListIterations fetches the iteration timeline of a record.
func (c *Client) ListIterations(ctx context.Context, id int64) ([]models.DiagnosisIteration, error) {
	var iterations list[models.DiagnosisIteration]
	if err := c.doJSON(ctx, http.MethodGet, recordPath(id, "/iterations"), "list iterations", nil, &iterations); err != nil {
		return nil, err
	}
	return []models.DiagnosisIteration(iterations), nil
}

// ListMemories fetches the memory timeline of a record, optionally filtered by type.
func (c *Client) ListMemories(ctx context.Context, id int64, memoryType string) ([]models.DiagnosisMemory, error) {
	path := recordPath(id, "/memories")
	if memoryType != "" {
		path += "?" + url.Values{"memory_type": {memoryType}}.Encode()
	}

	var memories list[models.DiagnosisMemory]
	if err := c.doJSON(ctx, http.MethodGet, path, "list memories", nil, &memories); err != nil {
		return nil, err
	}
	return []models.DiagnosisMemory(memories), nil
}

// GetReport fetches the diagnosis report of a record.
func (c *Client) GetReport(ctx context.Context, id int64) (*models.ReportResponse, error) {
	var report models.ReportResponse
	if err := c.doJSON(ctx, http.MethodGet, recordPath(id, "/report"), "get report", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// DeleteDiagnosis removes a record.
func (c *Client) DeleteDiagnosis(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, recordPath(id, ""), "delete diagnosis", nil, nil)
}

func recordPath(id int64, suffix string) string {
	return "/diagnosis/" + strconv.FormatInt(id, 10) + suffix
}

// doJSON executes a request, unwraps the response envelope and decodes its
// data into dst. HTTP 401 yields *AuthError; any other failure an *APIError.
func (c *Client) doJSON(ctx context.Context, method, path, operation string, body, dst any) (err error) {
	start := time.Now()
	defer func() {
		metrics.APIRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		metrics.APIRequestsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limit: %w", operation, err)
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", operation, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", operation, err)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%s: token: %w", operation, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	c.logger.Debug("API request", "operation", operation, "method", method, "path", path, "request_id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: do request: %w", operation, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("API response", "operation", operation, "status", resp.StatusCode, "request_id", requestID)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", operation, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)

	if resp.StatusCode == http.StatusUnauthorized {
		return &AuthError{operation: operation, message: env.Message}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && env.Message != "" {
			return newAPIError(operation, resp.StatusCode, env.Code, env.Message)
		}
		msg := strings.TrimSpace(string(respBody))
		if msg == "" {
			msg = resp.Status
		}
		return newAPIError(operation, resp.StatusCode, 0, msg)
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		if dst != nil {
			return fmt.Errorf("%s: empty response", operation)
		}
		return nil
	}
	if decodeErr != nil {
		return fmt.Errorf("%s: decode response: %w", operation, decodeErr)
	}
	if env.Code == http.StatusUnauthorized {
		return &AuthError{operation: operation, message: env.Message}
	}
	if env.Code != 0 {
		return newAPIError(operation, resp.StatusCode, env.Code, env.Message)
	}

	if dst == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%s: decode data: %w", operation, err)
	}
	return nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsUnauthorized(err):
		return "auth_error"
	case isAPIError(err):
		return "api_error"
	default:
		return "transport_error"
	}
}

func isAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// list decodes a bare array or an object carrying the array under
// "items", "list" or "records".
type list[T any] []T

func (l *list[T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := json.Unmarshal(data, &items); err == nil {
		*l = items
		return nil
	}
	var wrapped struct {
		Items   []T `json:"items"`
		List    []T `json:"list"`
		Records []T `json:"records"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	switch {
	case wrapped.Items != nil:
		*l = wrapped.Items
	case wrapped.List != nil:
		*l = wrapped.List
	default:
		*l = wrapped.Records
	}
	return nil
}
