// Package validator implements the ledger.Client contract over the
// validator's JSON HTTP API plus a WebSocket block-commit stream. All
// backend error vocabulary is mapped onto the gateway taxonomy here;
// nothing validator-specific escapes this package.
package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/trustmesh/gateway/internal/core/domain"
	"github.com/trustmesh/gateway/internal/ledger"
	"github.com/trustmesh/gateway/internal/metrics"
)

// Config holds validator connection settings.
type Config struct {
	URL            string        `yaml:"url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxConns       int           `yaml:"max_conns"`
}

// Client talks to a single validator endpoint. Submit and Statuses
// retry transient failures internally; Commits surfaces stream failures
// to the caller, which owns reconnection.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      ledger.RetryConfig
	feed       *feedDialer
}

var _ ledger.Client = (*Client)(nil)

// NewClient creates a validator client. The commit feed dials its own
// connection, so stalled status waits cannot exhaust its pool.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("validator url is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 20
	}

	return &Client{
		baseURL: cfg.URL,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        maxConns,
				MaxIdleConnsPerHost: maxConns,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: ledger.DefaultRetryConfig,
		feed:  newFeedDialer(cfg.URL),
	}, nil
}

// SetRetryConfig overrides the retry policy for Submit and Statuses.
func (c *Client) SetRetryConfig(cfg ledger.RetryConfig) {
	c.retry = cfg
}

// Submit sends a batch envelope to the validator.
func (c *Client) Submit(ctx context.Context, batch *domain.Batch) (string, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("encode batch: %w", err)
	}

	var id string
	err = ledger.WithRetry(ctx, c.retry, func(ctx context.Context) error {
		start := time.Now()
		reqErr := c.postBatch(ctx, body, &id)
		metrics.ObserveValidatorRequest("submit", reqErr == nil, time.Since(start))
		return reqErr
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (c *Client) postBatch(ctx context.Context, body []byte, id *string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/batches", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submit batch: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK:
		var out struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode submit response: %w", err)
		}
		*id = out.ID
		return nil
	case resp.StatusCode == http.StatusConflict:
		return domain.ErrDuplicateBatch
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("validator status %d: %s: %w",
			resp.StatusCode, bytes.TrimSpace(msg), domain.ErrRejectedByValidator)
	default:
		return fmt.Errorf("validator status %d", resp.StatusCode)
	}
}

// Statuses fetches the current status of each batch id in one call.
// Ids absent from the validator's response are reported as UNKNOWN.
func (c *Client) Statuses(ctx context.Context, ids []string) (map[string]domain.BatchStatus, error) {
	var result map[string]domain.BatchStatus
	err := ledger.WithRetry(ctx, c.retry, func(ctx context.Context) error {
		start := time.Now()
		var reqErr error
		result, reqErr = c.getStatuses(ctx, ids)
		metrics.ObserveValidatorRequest("statuses", reqErr == nil, time.Since(start))
		return reqErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) getStatuses(ctx context.Context, ids []string) (map[string]domain.BatchStatus, error) {
	q := url.Values{}
	for _, id := range ids {
		q.Add("id", id)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/batch_statuses?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get statuses: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("validator status %d", resp.StatusCode)
	}

	var out struct {
		Data []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode statuses response: %w", err)
	}

	statuses := make(map[string]domain.BatchStatus, len(ids))
	for _, id := range ids {
		statuses[id] = domain.BatchStatusUnknown
	}
	for _, entry := range out.Data {
		statuses[entry.ID] = normalizeStatus(entry.Status)
	}
	return statuses, nil
}

func normalizeStatus(s string) domain.BatchStatus {
	switch domain.BatchStatus(s) {
	case domain.BatchStatusPending, domain.BatchStatusInvalid, domain.BatchStatusCommitted:
		return domain.BatchStatus(s)
	default:
		return domain.BatchStatusUnknown
	}
}

// Commits opens the validator's block-commit stream.
func (c *Client) Commits(ctx context.Context, fromHeight uint64) (<-chan domain.BlockCommit, <-chan error) {
	return c.feed.open(ctx, fromHeight)
}
