package evaluation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/skypro1111/voice-practice/internal/failure"
	"github.com/skypro1111/voice-practice/internal/protocol"
)

const errorBodyPreview = 256

// Client sends encoded recordings to the evaluation endpoint
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration
	lastStatus      int

	mu sync.RWMutex
}

// Config contains evaluation client configuration
type Config struct {
	Endpoint  string
	APIKey    string        // sent as a bearer token when set
	Timeout   time.Duration // zero means no client-side timeout
	UserAgent string
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	LastStatus      int           `json:"last_status"`
}

// NewClient creates a new evaluation HTTP client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout < 0 {
		return nil, fmt.Errorf("timeout cannot be negative")
	}

	if config.UserAgent == "" {
		config.UserAgent = "Voice-Practice/1.0"
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Send posts the upload and returns the raw response body. Any non-2xx
// status or connection failure is a TransportError; an error body is never
// handed to the decoder.
func (c *Client) Send(ctx context.Context, request *protocol.UploadRequest) ([]byte, error) {
	startTime := time.Now()
	c.incrementTotalRequests()

	body, status, err := c.doRequest(ctx, request)
	c.setLastStatus(status)
	if err != nil {
		c.incrementFailedRequests()
		c.logger.Warn("Evaluation request failed",
			slog.String("endpoint", c.config.Endpoint),
			slog.Int("status", status),
			slog.Duration("elapsed", time.Since(startTime)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	elapsed := time.Since(startTime)
	c.incrementSuccessRequests()
	c.updateAvgResponseTime(elapsed)

	c.logger.Debug("Evaluation request completed",
		slog.Int("status", status),
		slog.Int("request_bytes", len(request.Body)),
		slog.Int("response_bytes", len(body)),
		slog.Duration("elapsed", elapsed),
	)

	return body, nil
}

// doRequest performs a single HTTP request to the evaluation API
func (c *Client) doRequest(ctx context.Context, request *protocol.UploadRequest) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(request.Body))
	if err != nil {
		return nil, 0, failure.Transport(0, fmt.Errorf("failed to create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", request.ContentType())
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, failure.Transport(0, fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyPreview))
		return nil, resp.StatusCode, failure.Transport(resp.StatusCode,
			fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(preview)))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, failure.Transport(resp.StatusCode, fmt.Errorf("failed to read response body: %w", err))
	}

	return respBody, resp.StatusCode, nil
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) setLastStatus(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastStatus = status
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		LastStatus:      c.lastStatus,
	}
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
