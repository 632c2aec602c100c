package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.twilio.com"

// HTTPStatusError captures non-2xx gateway responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("twilio: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// messageResponse is the minimal response shape of the Messages endpoint.
type messageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// Client is a focused messaging-gateway client for the outbound push path.
// One blocking call per message, no retry; callers treat failure as
// log-and-continue.
type Client struct {
	baseURL    string
	httpClient *http.Client
	accountSID string
	authToken  string
	from       string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a push client for the given account. The from address is
// the channel identity replies are sent as (e.g. "whatsapp:+14155238886").
func NewClient(accountSID, authToken, from string, opts ...Option) (*Client, error) {
	accountSID = strings.TrimSpace(accountSID)
	authToken = strings.TrimSpace(authToken)
	from = strings.TrimSpace(from)
	if accountSID == "" || authToken == "" {
		return nil, errors.New("twilio: account sid and auth token must not be empty")
	}
	if from == "" {
		return nil, errors.New("twilio: from address must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) messagesURL() string {
	base := strings.TrimRight(c.baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/2010-04-01/Accounts/" + c.accountSID + "/Messages.json"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// SendReply pushes one message to the recipient through the gateway.
func (c *Client) SendReply(ctx context.Context, to, body string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("twilio: recipient must not be empty")
	}

	form := url.Values{}
	form.Set("From", c.from)
	form.Set("To", to)
	form.Set("Body", body)

	endpoint := c.messagesURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("twilio: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("twilio: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        endpoint,
			Body:       string(buf),
		}
	}

	// Decode just enough to confirm the gateway accepted the message.
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("twilio: read response body: %w", err)
	}
	var payload messageResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("twilio: decode response: %w", err)
	}
	if payload.SID == "" {
		return errors.New("twilio: response missing message sid")
	}
	return nil
}
