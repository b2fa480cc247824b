// Package client is a typed HTTP client for the batch mailer API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/batch-mailer/internal/dispatch"
	"github.com/ignite/batch-mailer/internal/domain"
	"github.com/ignite/batch-mailer/internal/pkg/httpretry"
	"github.com/ignite/batch-mailer/internal/pkg/logger"
	"github.com/ignite/batch-mailer/internal/service/batch"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client talks to one batch mailer server.
type Client struct {
	baseURL    string
	httpClient httpretry.HTTPDoer
	// streams are long-lived and must not carry a request timeout
	streamClient *http.Client
}

// New creates a client for baseURL. Request/response calls are retried on
// transient failures; progress streams are not.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 3,
			httpretry.WithLogger(logger.Named("client"))),
		streamClient: &http.Client{},
	}
}

// CreateBatch uploads a recipient list.
func (c *Client) CreateBatch(ctx context.Context, in batch.CreateInput) (*batch.CreateResult, error) {
	var out batch.CreateResult
	if err := c.do(ctx, http.MethodPost, "/api/batches", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Send starts the dispatch run for batchID.
func (c *Client) Send(ctx context.Context, batchID string, creds domain.Credentials) (*domain.DispatchAck, error) {
	req := struct {
		Credentials domain.Credentials `json:"credentials"`
		BatchID     string             `json:"batchId"`
	}{creds, batchID}

	var out domain.DispatchAck
	if err := c.do(ctx, http.MethodPost, "/api/send", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Summary fetches the store's point-in-time view of a batch.
func (c *Client) Summary(ctx context.Context, batchID string) (*domain.BatchSummary, error) {
	var out domain.BatchSummary
	if err := c.do(ctx, http.MethodGet, "/api/summary/"+url.PathEscape(batchID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Recipients lists a batch's recipients in order.
func (c *Client) Recipients(ctx context.Context, batchID string) ([]domain.Recipient, error) {
	var out []domain.Recipient
	if err := c.do(ctx, http.MethodGet, "/api/recipients/"+url.PathEscape(batchID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Session fetches the server's in-process dispatch session.
func (c *Client) Session(ctx context.Context, batchID string) (*dispatch.Snapshot, error) {
	var out dispatch.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(batchID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dst interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if dst == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Code = body.Code
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
