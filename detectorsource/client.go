// Package detectorsource provides the HTTP client for the detector mapping
// service: the remote, search-backed store of mapping rules. It implements
// mapper.DetectorSource.
package detectorsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/songjiao/adaptive-alerting/errors"
	"github.com/songjiao/adaptive-alerting/mapper"
	"github.com/songjiao/adaptive-alerting/pkg/retry"
)

const (
	searchPath      = "/api/detectorMappings/findMatchingByTags"
	lastUpdatedPath = "/api/detectorMappings/lastUpdated"
)

// Config holds configuration for the mapping service client.
type Config struct {
	BaseURL        string `json:"base_url"        yaml:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	RetryAttempts  int    `json:"retry_attempts"  yaml:"retry_attempts"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "invalid base_url")
	}
	if c.TimeoutSeconds < 0 || c.TimeoutSeconds > 300 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout_seconds must be between 0 and 300")
	}
	if c.RetryAttempts < 0 || c.RetryAttempts > 10 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_attempts must be between 0 and 10")
	}
	return nil
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:8085",
		TimeoutSeconds: 30,
		RetryAttempts:  3,
	}
}

// Client talks to the detector mapping service over HTTP. Timeouts are
// enforced here (per request, via the underlying http.Client), not by the
// mapper core.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retryCfg   retry.Config
	logger     *slog.Logger
}

// NewClient creates a mapping service client from configuration.
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	timeout := time.Duration(config.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = config.RetryAttempts
	if retryCfg.MaxAttempts == 0 {
		retryCfg.MaxAttempts = 1
	}

	return &Client{
		baseURL:    config.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		retryCfg:   retryCfg,
		logger:     logger,
	}, nil
}

// searchRequest is the body of a batched tag-set lookup.
type searchRequest struct {
	TagsList []map[string]string `json:"tagsList"`
}

// FindDetectorMappings resolves a batch of tag sets to matching detectors in
// one round trip against the mapping service. 5xx and network faults are
// retried with backoff; 4xx responses are not.
func (c *Client) FindDetectorMappings(
	ctx context.Context, tagSets []map[string]string,
) (*mapper.MatchResponse, error) {
	body, err := json.Marshal(searchRequest{TagsList: tagSets})
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "FindDetectorMappings", "marshal request")
	}

	start := time.Now()
	respBody, err := retry.DoWithResult(ctx, c.retryCfg, func() ([]byte, error) {
		return c.post(ctx, c.baseURL+searchPath, body)
	})
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrBackendUnavailable,
			"Client", "FindDetectorMappings", fmt.Sprintf("search request: %v", err))
	}

	return parseMatchResponse(respBody, time.Since(start).Milliseconds())
}

// FindUpdatedMappings returns every mapping changed within the trailing
// window of sinceSeconds.
func (c *Client) FindUpdatedMappings(
	ctx context.Context, sinceSeconds int64,
) ([]mapper.DetectorMapping, error) {
	reqURL := fmt.Sprintf("%s%s?timeInSecs=%d", c.baseURL, lastUpdatedPath, sinceSeconds)

	respBody, err := retry.DoWithResult(ctx, c.retryCfg, func() ([]byte, error) {
		return c.get(ctx, reqURL)
	})
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrBackendUnavailable,
			"Client", "FindUpdatedMappings", fmt.Sprintf("lastUpdated request: %v", err))
	}

	var mappings []mapper.DetectorMapping
	if err := json.Unmarshal(respBody, &mappings); err != nil {
		return nil, errors.WrapInvalid(err, "Client", "FindUpdatedMappings", "parse response")
	}
	return mappings, nil
}

func (c *Client) post(ctx context.Context, reqURL string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, retry.NonRetryable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, retry.NonRetryable(err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err // network errors are retryable
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("mapping service returned %d", resp.StatusCode)
	default:
		// 4xx responses will not improve on retry.
		return nil, retry.NonRetryable(fmt.Errorf("mapping service returned %d", resp.StatusCode))
	}
}

// parseMatchResponse decodes the search envelope. The service reports its own
// lookup latency; the measured round-trip time is used as a fallback when the
// envelope omits it.
func parseMatchResponse(body []byte, measuredMillis int64) (*mapper.MatchResponse, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed,
			"Client", "parseMatchResponse", "invalid JSON envelope")
	}

	grouped := make(map[int][]mapper.Detector)
	var parseErr error
	gjson.GetBytes(body, "groupedDetectorsBySearchIndex").ForEach(func(key, value gjson.Result) bool {
		index, err := strconv.Atoi(key.String())
		if err != nil {
			parseErr = errors.WrapInvalid(err, "Client", "parseMatchResponse",
				fmt.Sprintf("non-integer search index %q", key.String()))
			return false
		}
		var detectors []mapper.Detector
		if err := json.Unmarshal([]byte(value.Raw), &detectors); err != nil {
			parseErr = errors.WrapInvalid(err, "Client", "parseMatchResponse",
				fmt.Sprintf("detector group at index %d", index))
			return false
		}
		grouped[index] = detectors
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	latency := measuredMillis
	if reported := gjson.GetBytes(body, "lookupTimeInMillis"); reported.Exists() {
		latency = reported.Int()
	}

	return &mapper.MatchResponse{
		GroupedDetectorsBySearchIndex: grouped,
		LookupTimeMillis:              latency,
	}, nil
}
