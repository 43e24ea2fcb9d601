// Package extract integrates the external extraction model that turns a raw
// source item into structured transaction fields. The model is a black box
// behind an HTTP API; any non-success response is a retryable failure.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/model"
	"github.com/dsil-design/joot-reconcile/internal/service"
)

// HTTPExtractor implements service.Extractor against the extraction service.
type HTTPExtractor struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	retryOpts  service.RetryOptions
}

type extractRequest struct {
	SourceItemID string `json:"source_item_id"`
	RawRef       string `json:"raw_ref"`
	Subject      string `json:"subject"`
	Sender       string `json:"sender"`
}

type extractResponse struct {
	VendorName      string  `json:"vendor_name"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	TransactionDate string  `json:"transaction_date"`
	Confidence      int     `json:"confidence"`
}

// NewHTTPExtractor creates an extraction service client.
func NewHTTPExtractor(baseURL, apiToken string) *HTTPExtractor {
	return &HTTPExtractor{
		baseURL:  baseURL,
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		retryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// Extract submits one source item and returns the structured extraction.
// Transient extraction-service failures are retried with exponential backoff
// inside the call; client errors fail immediately and surface to the job for
// its own retry policy.
func (c *HTTPExtractor) Extract(ctx context.Context, item *model.SourceItem) (*model.Extraction, error) {
	body, err := json.Marshal(extractRequest{
		SourceItemID: item.ID,
		RawRef:       item.RawRef,
		Subject:      item.Subject,
		Sender:       item.Sender,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extract request: %w", err)
	}

	var out extractResponse
	err = common.WithRetry(ctx, func() error {
		return c.doExtract(ctx, body, &out)
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}

	txnDate, err := time.Parse("2006-01-02", out.TransactionDate)
	if err != nil {
		return nil, fmt.Errorf("extraction returned invalid transaction date %q: %w", out.TransactionDate, err)
	}

	return &model.Extraction{
		ID:              uuid.NewString(),
		SourceItemID:    item.ID,
		VendorName:      out.VendorName,
		Amount:          out.Amount,
		Currency:        out.Currency,
		TransactionDate: txnDate,
		Confidence:      out.Confidence,
		ExtractedAt:     time.Now().UTC(),
	}, nil
}

// doExtract performs one extraction attempt. A 4xx response is marked
// non-retryable; network failures and 5xx responses are left retryable.
func (c *HTTPExtractor) doExtract(ctx context.Context, body []byte, out *extractResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return &common.RetryableError{
			Err:       fmt.Errorf("failed to create request: %w", err),
			Retryable: false,
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call extraction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		apiErr := fmt.Errorf("extraction service error: %d - %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return &common.RetryableError{Err: apiErr, Retryable: false}
		}
		return apiErr
	}

	var decoded extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("failed to decode extraction response: %w", err)
	}
	*out = decoded
	return nil
}

var _ service.Extractor = (*HTTPExtractor)(nil)
