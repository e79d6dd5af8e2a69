// Package catalog is the thin client for the shared remote catalog.
//
// It issues exactly two calls - publish and unpublish - and normalizes
// every failure into a typed Error. The caller decides retry policy from
// the error code; this package only classifies.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/carrel/internal/wire"
)

// TokenSource supplies a bearer credential on demand. Token refresh lives
// behind this interface; the client just asks before each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a fixed credential.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", fmt.Errorf("no catalog token configured")
	}
	return string(t), nil
}

// PublicationResult is the server-assigned metadata returned by a
// successful publish.
type PublicationResult struct {
	ID             string
	PublicID       string
	PublishedAt    time.Time
	AuthorUsername string
	CanFork        bool
}

// Client issues catalog API calls.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client (timeouts, transports,
// test doubles).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a catalog client for the given base URL.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// publishResponse is the wire shape of a 201 publish response.
type publishResponse struct {
	ID             string `json:"id"`
	PublicID       string `json:"public_id"`
	PublishedAt    string `json:"published_at"`
	AuthorUsername string `json:"author_username"`
	CanFork        bool   `json:"can_fork"`
}

// Publish pushes a document snapshot to the catalog.
// Returns the server-assigned publication metadata on success.
func (c *Client) Publish(ctx context.Context, payload wire.PublishPayload) (PublicationResult, error) {
	body, err := wire.EncodePublish(payload)
	if err != nil {
		return PublicationResult{}, &Error{
			Code:    CodeClientError,
			Message: "encode publish payload",
			Err:     err,
		}
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/content/share", body)
	if err != nil {
		return PublicationResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return PublicationResult{}, errorFromResponse(resp)
	}

	var pr publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return PublicationResult{}, &Error{
			Code:       CodeInvalidResponse,
			StatusCode: resp.StatusCode,
			Message:    "malformed publish response body",
			Err:        err,
		}
	}
	if pr.PublicID == "" {
		return PublicationResult{}, &Error{
			Code:       CodeInvalidResponse,
			StatusCode: resp.StatusCode,
			Message:    "publish response missing public_id",
		}
	}

	publishedAt, err := time.Parse(time.RFC3339, pr.PublishedAt)
	if err != nil {
		return PublicationResult{}, &Error{
			Code:       CodeInvalidResponse,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unparseable published_at %q", pr.PublishedAt),
			Err:        err,
		}
	}

	return PublicationResult{
		ID:             pr.ID,
		PublicID:       pr.PublicID,
		PublishedAt:    publishedAt,
		AuthorUsername: pr.AuthorUsername,
		CanFork:        pr.CanFork,
	}, nil
}

// Unpublish removes a published item by its public identifier.
// Success has no body (204). A CodeNotFound error means the item is
// already gone; callers that only care about the end state can treat it
// as success, as the sync coordinator does.
func (c *Client) Unpublish(ctx context.Context, publicID string) error {
	if publicID == "" {
		return &Error{Code: CodeClientError, Message: "empty public identifier"}
	}

	path := "/content/" + url.PathEscape(publicID)
	resp, err := c.doRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return errorFromResponse(resp)
	}
	return nil
}

// doRequest performs one authenticated request. Transport failures map to
// CodeUnreachable; credential failures to CodeUnauthorized.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &Error{
			Code:    CodeUnauthorized,
			Message: "obtain bearer credential",
			Err:     err,
		}
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, &Error{
			Code:    CodeClientError,
			Message: fmt.Sprintf("build %s %s", method, path),
			Err:     err,
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{
			Code:    CodeUnreachable,
			Message: fmt.Sprintf("%s %s", method, path),
			Err:     err,
		}
	}
	return resp, nil
}

// errorFromResponse classifies a non-success HTTP response.
// The body is read (bounded) for the human-readable message the UI shows.
func errorFromResponse(resp *http.Response) *Error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{
		Code:       classifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    msg,
	}
}
