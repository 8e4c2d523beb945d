package rest

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
	"sync"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/go-playground/validator/v10"

	"github.com/moduspwnens/boa-chat/boachat/credentials"
)

// CredentialSource provides the credentials used for the x-api-key header and
// request signing. credentials.Store satisfies it.
type CredentialSource interface {
	Get() (*credentials.Credentials, bool)
}

// Request describes one API call.
type Request struct {
	Method string
	// Path is relative to the API base, e.g. "room/abc/session".
	Path  string
	Query url.Values
	Body  any
	// Sign applies SigV4 request signing with the stored credentials.
	Sign bool
	// IncludeAPIKey attaches the stored API key, when there is one.
	IncludeAPIKey bool
}

// Client provides REST API access to the boa-chat backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      CredentialSource
	signer     *v4.Signer
	validate   *validator.Validate
	now        func() time.Time

	settingsMu sync.Mutex
	settings   *SignatureSettings
}

// NewClient creates a new REST API client.
// baseURL is the API root, e.g. "https://abc123.execute-api.us-east-1.amazonaws.com/prod/".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:   v4.NewSigner(),
		validate: validator.New(),
		now:      time.Now,
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetCredentialSource sets where signing credentials and the API key come from.
func (c *Client) SetCredentialSource(src CredentialSource) {
	c.creds = src
}

// SetNow overrides the time source used for signing.
func (c *Client) SetNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Do performs req and decodes a successful JSON response into dest, which may
// be nil. Decoded responses are validated against their struct tags.
func (c *Client) Do(ctx context.Context, req Request, dest any) error {
	if c.baseURL == "" {
		return NewError(KindOther, "empty API base URL")
	}

	var payload []byte
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return WrapError(KindOther, "marshal request", err)
		}
		payload = data
	}

	requestURL := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		requestURL += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader = http.NoBody
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, requestURL, bodyReader)
	if err != nil {
		return WrapError(KindOther, "create request", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	var stored *credentials.Credentials
	if c.creds != nil {
		stored, _ = c.creds.Get()
	}
	if req.IncludeAPIKey && stored != nil && stored.User.APIKey != "" {
		httpReq.Header.Set("x-api-key", stored.User.APIKey)
	}
	if req.Sign {
		if stored == nil || stored.AccessKeyID == "" {
			return NewError(KindLoginRequired, "no stored credentials for "+req.Method+" "+req.Path)
		}
		if err := c.sign(ctx, httpReq, payload, stored); err != nil {
			return err
		}
	}

	return c.do(ctx, httpReq, req.Sign, dest)
}

func (c *Client) do(ctx context.Context, httpReq *http.Request, signed bool, dest any) error {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return WrapError(KindCancelled, "request cancelled", err)
		}
		return WrapError(KindOther, "http request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return WrapError(KindCancelled, "request cancelled", err)
		}
		return WrapError(KindOther, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, body, signed)
	}

	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return WrapError(KindOther, "unmarshal response", err)
	}
	if err := c.validate.Struct(dest); err != nil {
		return WrapError(KindOther, "invalid response", err)
	}
	return nil
}

// classifyStatus maps a non-2xx response onto the error taxonomy.
func classifyStatus(status int, body []byte, signed bool) *Error {
	var errResp ErrorResponse
	hasMessage := json.Unmarshal(body, &errResp) == nil && errResp.Message != ""

	switch {
	case status == http.StatusBadRequest && hasMessage:
		return &Error{Kind: KindValidation, Message: errResp.Message, StatusCode: status}
	case signed && (status == http.StatusUnauthorized || status == http.StatusForbidden):
		msg := "credentials rejected"
		if hasMessage {
			msg = errResp.Message
		}
		return &Error{Kind: KindLoginRequired, Message: msg, StatusCode: status}
	}

	msg := errResp.Message
	if !hasMessage {
		msg = strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(status)
		}
	}
	return &Error{Kind: KindOther, Message: msg, StatusCode: status}
}

// remapStatus rewrites the kind of an Other error by HTTP status.
func remapStatus(err error, kinds map[int]ErrorKind) error {
	var re *Error
	if !errors.As(err, &re) || re.Kind != KindOther {
		return err
	}
	if kind, ok := kinds[re.StatusCode]; ok {
		return &Error{Kind: kind, Message: re.Message, StatusCode: re.StatusCode, Wrapped: re.Wrapped}
	}
	return err
}

// Helper methods

func (c *Client) post(ctx context.Context, path string, body, dest any, signed bool) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body, Sign: signed, IncludeAPIKey: true}, dest)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, dest any, signed bool) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query, Sign: signed, IncludeAPIKey: true}, dest)
}

func pathf(format string, segments ...string) string {
	escaped := make([]any, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return fmt.Sprintf(format, escaped...)
}
