// Package api is the client for the quiz server's request/response surface.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"quiz-sync-client/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Error is a request failure as reported by the server or the transport.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

func (e *Error) Unwrap() error { return domain.ErrRequestFailed }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *Error          `json:"error"`
}

type Options struct {
	BaseURL string
	// Token is sent as a bearer token on participant routes.
	Token string
	// AdminCookie is sent verbatim as the Cookie header on admin routes.
	AdminCookie string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

type Client struct {
	baseURL     string
	token       string
	adminCookie string
	http        *http.Client
	sf          singleflight.Group
}

func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		token:       opts.Token,
		adminCookie: opts.AdminCookie,
		http:        hc,
	}
}

// do issues one request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if strings.HasPrefix(endpoint, "/api/v1/admin/") {
		if c.adminCookie != "" {
			req.Header.Set("Cookie", c.adminCookie)
		}
	} else if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Code: "NETWORK_ERROR", Message: err.Error()}
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && env.Error != nil {
			return env.Error
		}
		return &Error{Code: "HTTP_ERROR", Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))}
	}
	if decodeErr != nil {
		return &Error{Code: "DECODE_ERROR", Message: decodeErr.Error()}
	}
	if !env.Success {
		if env.Error != nil {
			return env.Error
		}
		return &Error{Code: "UNKNOWN", Message: "request was not successful"}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{Code: "DECODE_ERROR", Message: err.Error()}
	}
	return nil
}

// lookup deduplicates concurrent identical GETs.
func lookup[T any](ctx context.Context, c *Client, endpoint string) (T, error) {
	v, err, shared := c.sf.Do(endpoint, func() (interface{}, error) {
		var out T
		err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
		return out, err
	})
	if shared {
		log.Debug().Str("endpoint", endpoint).Msg("lookup shared with in-flight request")
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func sessionPath(sessionID, suffix string) string {
	return "/api/v1/sessions/" + sessionID + suffix
}

func adminPath(sessionID, suffix string) string {
	return "/api/v1/admin/sessions/" + sessionID + suffix
}
