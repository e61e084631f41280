package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/livinlefevreloca/stationsync/internal/sales"
)

// idempotencyNamespace scopes batch idempotency keys
var idempotencyNamespace = uuid.MustParse("6b0d9f2e-4c1a-5e8b-9a37-0f5c2d7e8a41")

// maxBodyBytes caps how much of a response body is read
const maxBodyBytes = 1 << 20

// Token is a short-lived credential owned by a single cycle
type Token struct {
	AccessToken string
	ObtainedAt  time.Time
	ExpiresAt   time.Time
}

// Valid reports whether the token can still be presented at now
func (t *Token) Valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// Record is one formatted sales line ready for submission
type Record struct {
	Reference string
	Fields    map[string]any
}

// SubmissionResult is the outcome of a delivered submission
type SubmissionResult struct {
	Status        string
	Message       string
	TransactionID string
	// IdempotencyKey is the key sent with the batch
	IdempotencyKey string
}

// Client talks to the settlement service
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient creates a settlement client. A nil httpClient gets one bounded by config.Timeout.
func NewClient(config Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Config returns the client configuration
func (c *Client) Config() Config {
	return c.config
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	Expiry      int64  `json:"expiry"`
}

// Authenticate exchanges the configured credentials for an access token.
// Failures are *sales.AuthError; they are reported, never retried here.
func (c *Client) Authenticate(ctx context.Context) (*Token, error) {
	body, err := json.Marshal(authRequest{Username: c.config.Username, Password: c.config.Password})
	if err != nil {
		return nil, &sales.AuthError{Err: err}
	}

	status, respBody, err := c.post(ctx, c.config.AuthPath, body, nil)
	if err != nil {
		return nil, &sales.AuthError{Err: err}
	}

	switch {
	case status >= 500:
		return nil, &sales.AuthError{StatusCode: status, Err: fmt.Errorf("service error: %s", snippet(respBody))}
	case status >= 300:
		return nil, &sales.AuthError{Rejected: true, StatusCode: status, Err: fmt.Errorf("%s", snippet(respBody))}
	}

	var resp authResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &sales.AuthError{Rejected: true, StatusCode: status, Err: fmt.Errorf("unreadable token response: %w", err)}
	}
	if resp.AccessToken == "" {
		return nil, &sales.AuthError{Rejected: true, StatusCode: status, Err: errors.New("no access token in response")}
	}

	now := c.now()
	token := &Token{
		AccessToken: resp.AccessToken,
		ObtainedAt:  now,
		ExpiresAt:   c.expiry(now, resp),
	}

	c.logger.Debug("obtained settlement token", "expires_at", token.ExpiresAt)
	return token, nil
}

// expiry prefers the response's expiry, then the JWT exp claim, then the configured TTL
func (c *Client) expiry(now time.Time, resp authResponse) time.Time {
	if resp.Expiry > 0 {
		return now.Add(time.Duration(resp.Expiry) * time.Second)
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.AccessToken, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}

	return now.Add(c.config.TokenTTL)
}

// Submit sends a batch of formatted records. A nil error means the service
// acknowledged the batch with the configured success status; anything else
// is sales.ErrSubmissionRejected or sales.ErrTimeout and leaves no state on
// the service side, so the same records may be sent again.
func (c *Client) Submit(ctx context.Context, token *Token, records []Record) (*SubmissionResult, error) {
	if !token.Valid(c.now()) {
		return nil, fmt.Errorf("%w: token expired", sales.ErrSubmissionRejected)
	}

	key := IdempotencyKey(records)
	payload := make([]map[string]any, 0, len(records))
	for _, r := range records {
		payload = append(payload, r.Fields)
	}
	body, err := json.Marshal(map[string]any{
		"token":   token.AccessToken,
		"records": payload,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode batch: %v", sales.ErrSubmissionRejected, err)
	}

	headers := map[string]string{
		"Authorization":   "Bearer " + token.AccessToken,
		"Idempotency-Key": key,
	}
	status, respBody, err := c.post(ctx, c.config.SubmitPath, body, headers)
	if err != nil {
		if errors.Is(err, sales.ErrTimeout) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: no response: %v", sales.ErrSubmissionRejected, err)
	}

	result, err := c.decodeSubmission(status, respBody)
	if err != nil {
		return nil, err
	}
	result.IdempotencyKey = key

	if result.Status != c.config.SuccessStatus {
		return result, fmt.Errorf("%w: status %s: %s", sales.ErrSubmissionRejected, result.Status, result.Message)
	}
	return result, nil
}

type submitResponse struct {
	Status        json.RawMessage `json:"status"`
	Message       string          `json:"message"`
	TransactionID json.RawMessage `json:"transaction_id"`
}

func (c *Client) decodeSubmission(httpStatus int, body []byte) (*SubmissionResult, error) {
	// A non-2xx response is never a delivery, whatever its body claims
	if httpStatus < 200 || httpStatus >= 300 {
		return nil, fmt.Errorf("%w: http %d: %s", sales.ErrSubmissionRejected, httpStatus, snippet(body))
	}

	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: http %d with unreadable body: %s", sales.ErrSubmissionRejected, httpStatus, snippet(body))
	}

	status := rawString(resp.Status)
	if status == "" {
		return nil, fmt.Errorf("%w: http %d without status", sales.ErrSubmissionRejected, httpStatus)
	}

	return &SubmissionResult{
		Status:        status,
		Message:       resp.Message,
		TransactionID: rawString(resp.TransactionID),
	}, nil
}

// post sends a JSON body and returns the status code and body
func (c *Client) post(ctx context.Context, path string, body []byte, headers map[string]string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return 0, nil, fmt.Errorf("%w: %s after %v", sales.ErrTimeout, path, c.config.Timeout)
		}
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return 0, nil, fmt.Errorf("%w: reading %s after %v", sales.ErrTimeout, path, c.config.Timeout)
		}
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("settlement request", "path", path, "status", resp.StatusCode)
	return resp.StatusCode, respBody, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IdempotencyKey derives a stable key from the set of record references
func IdempotencyKey(records []Record) string {
	refs := make([]string, 0, len(records))
	for _, r := range records {
		refs = append(refs, r.Reference)
	}
	sort.Strings(refs)
	return uuid.NewSHA1(idempotencyNamespace, []byte(strings.Join(refs, ","))).String()
}

// rawString flattens a JSON string or number into its text form
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func snippet(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
