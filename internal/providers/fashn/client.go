package fashn

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
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tryon/internal/infra"
)

var (
	// ErrMissingAPIKey indicates that neither a static key nor a key source produced credentials.
	ErrMissingAPIKey = errors.New("fashn: api key is required")
	// ErrMalformedResponse marks a 2xx response whose body could not be decoded.
	ErrMalformedResponse = errors.New("fashn: malformed response")
)

const maxDownloadBytes = 32 << 20

// KeySource resolves the API key lazily, e.g. from the integration_tokens table.
type KeySource func(ctx context.Context) (string, error)

// Options configures the FASHN client.
type Options struct {
	APIKey         string
	KeySource      KeySource
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the FASHN try-on API. It only moves bytes;
// retry and polling policy live with the caller.
type Client struct {
	keySource  KeySource
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger

	mu     sync.Mutex
	apiKey string
}

// RunInputs are the encoded inputs of one try-on run.
type RunInputs struct {
	ModelImage   string
	GarmentImage string
	Category     string
	Mode         string
	NumSamples   int
}

// StatusResponse is the decoded body of GET /status/{id}.
type StatusResponse struct {
	ID     string
	Status string
	Output []string
	// Error is the provider's failure message, already normalized.
	Error string
}

type runRequest struct {
	ModelName string    `json:"model_name"`
	Inputs    runInputs `json:"inputs"`
}

type runInputs struct {
	ModelImage   string `json:"model_image"`
	GarmentImage string `json:"garment_image"`
	Category     string `json:"category"`
	Mode         string `json:"mode"`
	NumSamples   int    `json:"num_samples"`
}

type runResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output []string        `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// APIError is returned for any non-2xx provider response.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fashn: status %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the failure is worth retrying later.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
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
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.fashn.ai/v1"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("fashn: invalid base url: %w", err)
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "tryon-v1.6"
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
		keySource:  opts.KeySource,
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Submit starts a run and returns the provider job id. An empty id with a
// nil error means the provider accepted the request without identifying it.
func (c *Client) Submit(ctx context.Context, in RunInputs) (string, error) {
	key, err := c.resolveKey(ctx)
	if err != nil {
		return "", err
	}
	payload := runRequest{
		ModelName: c.model,
		Inputs: runInputs{
			ModelImage:   in.ModelImage,
			GarmentImage: in.GarmentImage,
			Category:     in.Category,
			Mode:         in.Mode,
			NumSamples:   in.NumSamples,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("fashn: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("fashn: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	raw, err := c.do(req)
	if err != nil {
		return "", err
	}
	var decoded runResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("%w: decode run response: %v", ErrMalformedResponse, err)
	}
	id := strings.TrimSpace(decoded.ID)
	c.logger.Debug().Str("job_id", id).Str("model", c.model).Msg("fashn: run submitted")
	return id, nil
}

// Status fetches the current state of a run.
func (c *Client) Status(ctx context.Context, id string) (*StatusResponse, error) {
	key, err := c.resolveKey(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := c.baseURL + "/status/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fashn: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)

	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var decoded statusResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decode status response: %v", ErrMalformedResponse, err)
	}
	out := &StatusResponse{
		ID:     decoded.ID,
		Status: strings.ToLower(strings.TrimSpace(decoded.Status)),
		Error:  rawMessage(decoded.Error),
	}
	for _, u := range decoded.Output {
		if u = strings.TrimSpace(u); u != "" {
			out.Output = append(out.Output, u)
		}
	}
	return out, nil
}

// Download fetches a generated asset. Output URLs are pre-signed, so no
// credentials are attached.
func (c *Client) Download(ctx context.Context, assetURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(assetURL))
	if err != nil || parsed.Scheme == "" {
		return nil, "", fmt.Errorf("fashn: invalid asset url: %s", assetURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("fashn: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fashn: download asset: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, "", &APIError{StatusCode: resp.StatusCode, Message: ExtractErrorMessage(resp.StatusCode, raw)}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("fashn: read asset: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, "", fmt.Errorf("fashn: asset exceeds %d bytes", maxDownloadBytes)
	}
	if len(data) == 0 {
		return nil, "", errors.New("fashn: empty asset")
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fashn: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fashn: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    ExtractErrorMessage(resp.StatusCode, raw),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
		c.logger.Debug().
			Int("status", resp.StatusCode).
			Str("url", req.URL.Path).
			Str("message", apiErr.Message).
			Msg("fashn: non-2xx response")
		return nil, apiErr
	}
	return raw, nil
}

func (c *Client) resolveKey(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	if c.keySource == nil {
		return "", ErrMissingAPIKey
	}
	key, err := c.keySource(ctx)
	if err != nil {
		return "", fmt.Errorf("fashn: resolve api key: %w", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrMissingAPIKey
	}
	c.apiKey = key
	return key, nil
}

// ExtractErrorMessage pulls a human-readable message out of an error body.
// Precedence: error.message, error (string), message, detail, the trimmed raw
// body, then the HTTP status text.
func ExtractErrorMessage(statusCode int, body []byte) string {
	if msg := bodyMessage(body); msg != "" {
		return msg
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		return trimmed
	}
	if text := http.StatusText(statusCode); text != "" {
		return text
	}
	return fmt.Sprintf("http %d", statusCode)
}

func bodyMessage(body []byte) string {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message json.RawMessage `json:"message"`
		Detail  json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	for _, field := range []json.RawMessage{envelope.Error, envelope.Message, envelope.Detail} {
		if msg := rawMessage(field); msg != "" {
			return msg
		}
	}
	return ""
}

// rawMessage reads either a JSON string or an object carrying "message".
func rawMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.Message)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
