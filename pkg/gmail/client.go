// Package gmail fetches message bodies from the Gmail REST API.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/relgraph/internal/model"
)

// Client fetches the body of one message.
type Client interface {
	FetchBody(ctx context.Context, messageID string) (*model.MessageBody, error)
}

// StatusError is returned for non-200 responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gmail: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if repeated.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Option configures the Gmail client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second. Zero or less disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Gmail client authenticated with an OAuth bearer token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: "https://gmail.googleapis.com",
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type messagePart struct {
	MimeType string        `json:"mimeType"`
	Body     partBody      `json:"body"`
	Parts    []messagePart `json:"parts"`
}

type partBody struct {
	Size int    `json:"size"`
	Data string `json:"data"`
}

type messageResponse struct {
	ID      string      `json:"id"`
	Payload messagePart `json:"payload"`
}

func (c *httpClient) FetchBody(ctx context.Context, messageID string) (*model.MessageBody, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "gmail: rate limit wait")
		}
	}

	reqURL := fmt.Sprintf("%s/gmail/v1/users/me/messages/%s?format=full", c.baseURL, url.PathEscape(messageID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "gmail: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "gmail: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "gmail: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var msg messageResponse
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, eris.Wrap(err, "gmail: parse response")
	}

	out := &model.MessageBody{}
	if err := collect(msg.Payload, out); err != nil {
		return nil, eris.Wrapf(err, "gmail: decode message %s", messageID)
	}
	return out, nil
}

// collect walks the MIME tree and keeps the first text/plain and text/html
// parts it finds.
func collect(p messagePart, out *model.MessageBody) error {
	mime := strings.ToLower(p.MimeType)
	if p.Body.Data != "" && (mime == "text/plain" || mime == "text/html") {
		text, err := decodePart(p.Body.Data)
		if err != nil {
			return err
		}
		if mime == "text/plain" && out.Plain == "" {
			out.Plain = text
		}
		if mime == "text/html" && out.HTML == "" {
			out.HTML = text
		}
	}
	for _, child := range p.Parts {
		if err := collect(child, out); err != nil {
			return err
		}
	}
	return nil
}

// decodePart decodes Gmail's base64url part data, padded or not.
func decodePart(data string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", eris.Wrap(err, "gmail: decode part")
	}
	return string(b), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
