package common

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Envelope mirrors the API response wrapper.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (e Envelope) ErrorCode() string {
	if e.Error == nil {
		return ""
	}
	return e.Error.Code
}

type Response struct {
	Status   int
	Header   http.Header
	Envelope Envelope
}

// APIClient issues JSON requests against a running auth service.
type APIClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *APIClient) Do(ctx context.Context, method, path, bearer string, body any) (*Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	out := &Response{Status: resp.StatusCode, Header: resp.Header}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out.Envelope); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return out, nil
}

// TokenPayload is the subset of auth responses the tools need.
type TokenPayload struct {
	Tokens struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	} `json:"tokens"`
	Session struct {
		SessionID string `json:"sessionId"`
	} `json:"session"`
}

func (r *Response) Tokens() (TokenPayload, error) {
	var p TokenPayload
	if err := json.Unmarshal(r.Envelope.Data, &p); err != nil {
		return p, err
	}
	if p.Tokens.AccessToken == "" {
		return p, fmt.Errorf("response carried no tokens")
	}
	return p, nil
}
