package mailsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/service"
)

// HTTPMailSource implements service.MailSource against the mail provider's
// HTTP API.
type HTTPMailSource struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	retryOpts  service.RetryOptions
}

// Mail provider API response types.
type messageList struct {
	Messages []message `json:"messages"`
}

type message struct {
	UID        int64  `json:"uid"`
	ReceivedAt int64  `json:"received_at"`
	Subject    string `json:"subject"`
	Sender     string `json:"sender"`
	RawRef     string `json:"raw_ref"`
	Body       string `json:"body"`
	ParseError string `json:"parse_error,omitempty"`
}

// NewHTTPMailSource creates a mail provider client.
func NewHTTPMailSource(baseURL, apiToken string) *HTTPMailSource {
	return &HTTPMailSource{
		baseURL:  baseURL,
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// FetchSince returns folder messages with UID > sinceUID in ascending UID
// order. A message the provider could not parse still comes back, with its
// ParseError set, so the sync engine can record it instead of losing it.
// Transient provider failures are retried with exponential backoff inside the
// call; client errors fail immediately.
func (c *HTTPMailSource) FetchSince(ctx context.Context, accountID, folder string, sinceUID int64) ([]service.MailItem, error) {
	u, err := url.Parse(fmt.Sprintf("%s/accounts/%s/folders/%s/messages",
		c.baseURL, url.PathEscape(accountID), url.PathEscape(folder)))
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch URL: %w", err)
	}

	q := u.Query()
	q.Set("since-uid", fmt.Sprintf("%d", sinceUID))
	u.RawQuery = q.Encode()

	slog.Debug("Fetching folder messages",
		"account_id", accountID,
		"folder", folder,
		"since_uid", sinceUID)

	var list messageList
	err = common.WithRetry(ctx, func() error {
		return c.fetchPage(ctx, u.String(), &list)
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}

	items := make([]service.MailItem, 0, len(list.Messages))
	for _, m := range list.Messages {
		if m.UID <= sinceUID {
			continue
		}
		items = append(items, service.MailItem{
			UID:        m.UID,
			ReceivedAt: time.Unix(m.ReceivedAt, 0).UTC(),
			Subject:    m.Subject,
			Sender:     m.Sender,
			RawRef:     m.RawRef,
			Body:       m.Body,
			ParseError: m.ParseError,
		})
	}
	return items, nil
}

// fetchPage performs one fetch attempt. A 4xx response is the caller's fault
// and marked non-retryable; network failures and 5xx responses are left
// retryable.
func (c *HTTPMailSource) fetchPage(ctx context.Context, fetchURL string, out *messageList) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return &common.RetryableError{
			Err:       fmt.Errorf("failed to create request: %w", err),
			Retryable: false,
		}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		apiErr := fmt.Errorf("mail provider API error: %d - %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return &common.RetryableError{Err: apiErr, Retryable: false}
		}
		return apiErr
	}

	var list messageList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	*out = list
	return nil
}
