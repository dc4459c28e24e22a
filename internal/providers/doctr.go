package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	DoctrName = "doctr"

	// Matches the docker-compose sidecar default.
	DoctrDefaultEndpoint = "http://localhost:8089"
)

// DoctrConfig holds configuration for the docTR OCR sidecar client.
type DoctrConfig struct {
	Endpoint   string
	Timeout    time.Duration
	MaxRetries uint
	RetryDelay time.Duration
}

// DoctrClient implements OCRProvider against a docTR model server. The
// server exposes /ocr for recognition and /health for warmup; word
// geometry comes back normalized to [0,1].
type DoctrClient struct {
	endpoint   string
	maxRetries uint
	retryDelay time.Duration
	client     *http.Client
}

// NewDoctrClient creates a new docTR sidecar client.
func NewDoctrClient(cfg DoctrConfig) *DoctrClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DoctrDefaultEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &DoctrClient{
		endpoint:   cfg.Endpoint,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the provider identifier.
func (c *DoctrClient) Name() string {
	return DoctrName
}

// Warm requests /health, which loads the detection and recognition models
// on the server side if they are not resident yet.
func (c *DoctrClient) Warm(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ocr warmup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ocr warmup: status %d", resp.StatusCode)
	}
	return nil
}

type doctrRequest struct {
	Image string `json:"image"` // base64 PNG
	Page  int    `json:"page"`
}

type doctrWord struct {
	Value    string       `json:"value"`
	Geometry [2][2]float64 `json:"geometry"`
}

type doctrResponse struct {
	Text  string      `json:"text"`
	Words []doctrWord `json:"words"`
	Error string      `json:"error,omitempty"`
}

// ProcessPage extracts text from a rendered page image. Transient HTTP
// failures and 5xx responses are retried with fixed backoff.
func (c *DoctrClient) ProcessPage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	start := time.Now()

	body, err := json.Marshal(doctrRequest{
		Image: base64.StdEncoding.EncodeToString(image),
		Page:  pageNum,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ocr request: %w", err)
	}

	var parsed doctrResponse
	err = retry.Do(
		func() error {
			return c.doRequest(ctx, body, &parsed)
		},
		retry.Context(ctx),
		retry.Attempts(c.maxRetries),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("ocr page %d: %s", pageNum, parsed.Error)
	}

	result := &OCRResult{
		Text:          parsed.Text,
		Words:         make([]OCRWord, 0, len(parsed.Words)),
		ExecutionTime: time.Since(start),
	}
	for _, w := range parsed.Words {
		result.Words = append(result.Words, OCRWord{
			Value: w.Value,
			X0:    w.Geometry[0][0],
			Y0:    w.Geometry[0][1],
			X1:    w.Geometry[1][0],
			Y1:    w.Geometry[1][1],
		})
	}
	return result, nil
}

func (c *DoctrClient) doRequest(ctx context.Context, body []byte, out *doctrResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/ocr", bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read ocr response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("ocr server error: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return retry.Unrecoverable(fmt.Errorf("ocr request failed: status %d: %s", resp.StatusCode, truncate(string(data), 200)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return retry.Unrecoverable(fmt.Errorf("decode ocr response: %w", err))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
