package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/jwalitptl/push-api/pkg/errors"
	"github.com/jwalitptl/push-api/pkg/logger"
	"github.com/jwalitptl/push-api/pkg/metrics"
)

// SendRequest describes one legacy token-based delivery: the notification
// content plus the device tokens to deliver it to.
type SendRequest struct {
	Title    string
	Body     string
	Tokens   []string
	ClickURL string
	ImageURL string
}

// TargetResult is the classified outcome for a single device token.
// Valid=false marks the token as permanently dead; the caller decides
// what to do about it (this client only classifies).
type TargetResult struct {
	Token        string
	Delivered    bool
	Valid        bool
	ErrorCode    string
	ErrorMessage string
}

type Config struct {
	Endpoint        string
	BatchSize       int
	FatalErrorCodes []string
	RequestTimeout  time.Duration
	RatePerSecond   float64
	RateBurst       int
}

// Client calls the external token-delivery API in bounded-size batches.
type Client struct {
	endpoint   string
	batchSize  int
	fatalCodes map[string]struct{}
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewClient(cfg Config, logger *logger.Logger, metrics *metrics.Metrics) *Client {
	fatal := make(map[string]struct{}, len(cfg.FatalErrorCodes))
	for _, code := range cfg.FatalErrorCodes {
		fatal[code] = struct{}{}
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst)
	}

	return &Client{
		endpoint:   cfg.Endpoint,
		batchSize:  batchSize,
		fatalCodes: fatal,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		logger:     logger,
		metrics:    metrics,
	}
}

type apiRequest struct {
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	OnClickLink string   `json:"onClickLink,omitempty"`
	Tokens      []string `json:"tokens"`
	ImageURL    string   `json:"imageUrl,omitempty"`
}

type apiException struct {
	MessagingErrorCode string `json:"messagingErrorCode"`
	Message            string `json:"message"`
}

type apiTokenResult struct {
	DeviceToken string        `json:"deviceToken"`
	IsSuccess   bool          `json:"isSuccess"`
	Exception   *apiException `json:"exception,omitempty"`
}

type apiResponse struct {
	Results []apiTokenResult `json:"results"`
}

// Send validates the request, splits the tokens into batches and issues
// one API call per batch. Results come back in input order, one per
// token. Validation failures surface before any network call. An empty
// token list is a no-op so dispatch can call unconditionally with
// whatever the legacy bucket holds.
func (c *Client) Send(ctx context.Context, req SendRequest) ([]TargetResult, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}
	if len(req.Tokens) == 0 {
		return nil, nil
	}

	results := make([]TargetResult, 0, len(req.Tokens))
	for start := 0; start < len(req.Tokens); start += c.batchSize {
		end := start + c.batchSize
		if end > len(req.Tokens) {
			end = len(req.Tokens)
		}

		batchResults, err := c.sendBatch(ctx, req, req.Tokens[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, batchResults...)
	}
	return results, nil
}

func (c *Client) validate(req SendRequest) error {
	if req.Title == "" {
		return errors.BadRequest("title is required", nil)
	}
	if req.Body == "" {
		return errors.BadRequest("body is required", nil)
	}
	if err := validateHTTPSURL(req.ClickURL); err != nil {
		return errors.BadRequest("invalid click url", err)
	}
	if err := validateHTTPSURL(req.ImageURL); err != nil {
		return errors.BadRequest("invalid image url", err)
	}
	return nil
}

func validateHTTPSURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !u.IsAbs() || u.Scheme != "https" {
		return fmt.Errorf("url %q must be absolute https", raw)
	}
	return nil
}

func (c *Client) sendBatch(ctx context.Context, req SendRequest, tokens []string) ([]TargetResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	payload, err := json.Marshal(apiRequest{
		Title:       req.Title,
		Body:        req.Body,
		OnClickLink: req.ClickURL,
		Tokens:      tokens,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delivery request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build delivery request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.BatchCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("delivery call failed: %w", err)
	}
	defer resp.Body.Close()

	c.metrics.BatchLatency.Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		c.metrics.BatchCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("delivery call returned status %d", resp.StatusCode)
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		c.metrics.BatchCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to decode delivery response: %w", err)
	}
	c.metrics.BatchCalls.WithLabelValues("success").Inc()

	return c.classify(apiResp.Results), nil
}

// classify maps each per-token API result onto the delivered/valid pair.
// A token stays valid on failure unless the provider error code is in the
// configured fatal set.
func (c *Client) classify(results []apiTokenResult) []TargetResult {
	classified := make([]TargetResult, 0, len(results))
	for _, r := range results {
		target := TargetResult{
			Token:     r.DeviceToken,
			Delivered: r.IsSuccess,
			Valid:     true,
		}
		if !r.IsSuccess && r.Exception != nil {
			target.ErrorCode = r.Exception.MessagingErrorCode
			target.ErrorMessage = r.Exception.Message
			if _, fatal := c.fatalCodes[r.Exception.MessagingErrorCode]; fatal {
				target.Valid = false
				c.logger.Warn("device token retired by provider",
					"code", r.Exception.MessagingErrorCode)
			}
		}
		classified = append(classified, target)
	}
	return classified
}
