package transport

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
)

const (
	defaultAPIBaseURL = "https://api.github.com"
	defaultAPITimeout = 30 * time.Second
	githubAccept      = "application/vnd.github.v3+json"
)

type APIOptions struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// APIClient is a thin authenticated wrapper around the secondary REST API.
type APIClient struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

func NewAPIClient(opts APIOptions) *APIClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &APIClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		timeout:    timeout,
		httpClient: httpClient,
	}
}

// HasToken reports whether a bearer token was supplied at construction.
func (c *APIClient) HasToken() bool {
	return c != nil && c.token != ""
}

type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	// Expect, when non-zero, is the only acceptable success status.
	Expect int
}

type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// Decode unmarshals the response body into out.
func (r *Response) Decode(out any) error {
	if r == nil || len(r.Body) == 0 {
		return decodeError(fmt.Errorf("empty response body"))
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return decodeError(err)
	}
	return nil
}

func (c *APIClient) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	u, err := url.Parse(c.baseURL + req.Path)
	if err != nil {
		return nil, transportError(fmt.Errorf("invalid url: %w", err))
	}
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		buf, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, transportError(err)
	}
	httpReq.Header.Set("Accept", githubAccept)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	raw, truncated, err := readBody(resp.Body)
	if err != nil {
		return nil, transportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(KindHTTPStatus, resp.StatusCode, raw)
	}
	if req.Expect != 0 && resp.StatusCode != req.Expect {
		return nil, statusError(KindUnexpectedStatus, resp.StatusCode, raw)
	}
	if truncated {
		return nil, decodeError(ErrBodyTooLarge)
	}
	return &Response{StatusCode: resp.StatusCode, Body: raw}, nil
}

// readBody reads at most maxBodyBytes. truncated reports that the body
// was longer and raw holds only its first maxBodyBytes.
func readBody(r io.Reader) (raw []byte, truncated bool, err error) {
	raw, err = io.ReadAll(io.LimitReader(r, maxBodyBytes+1))
	if err != nil {
		return nil, false, err
	}
	if len(raw) > maxBodyBytes {
		return raw[:maxBodyBytes], true, nil
	}
	return raw, false, nil
}
