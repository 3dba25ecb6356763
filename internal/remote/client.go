// Package remote invokes the backend's hosted functions. Every call is a
// single authenticated POST with a deadline, and every result is classified
// into an Outcome. There are no retries.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimeout = 90 * time.Second
	maxBodyBytes   = 4 << 20
)

// Request is one call to a named remote function. A zero Timeout means the
// client default.
type Request struct {
	Function string
	Body     any
	Timeout  time.Duration
}

// Invoker is implemented by Client and by test fakes.
type Invoker interface {
	Invoke(ctx context.Context, req Request) Outcome
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req Request) Outcome

func (f InvokerFunc) Invoke(ctx context.Context, req Request) Outcome { return f(ctx, req) }

// TokenSource yields the current user's bearer credential.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to the TokenSource interface.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// errDeadline is the cancellation cause installed for the call's own
// deadline, so it can be told apart from a caller cancellation.
var errDeadline = errors.New("remote call deadline exceeded")

// Client is stateless apart from its configuration and safe for concurrent use.
// Construct one per process and pass it to every component that needs it.
type Client struct {
	baseURL        string
	publicKey      string
	tokens         TokenSource
	httpClient     *http.Client
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewClient creates a client for the backend at baseURL. A defaultTimeout of
// zero means DefaultTimeout.
func NewClient(baseURL, publicKey string, tokens TokenSource, defaultTimeout time.Duration) *Client {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		publicKey: publicKey,
		tokens:    tokens,
		// Deadlines come from the per-call context, and no cookie jar is set.
		httpClient:     &http.Client{},
		defaultTimeout: defaultTimeout,
		logger:         slog.Default(),
	}
}

// SetLogger replaces the client's logger.
func (c *Client) SetLogger(l *slog.Logger) {
	if l != nil {
		c.logger = l
	}
}

// Invoke performs the call and classifies its result. It never panics and
// never returns both a payload and an error.
func (c *Client) Invoke(ctx context.Context, req Request) Outcome {
	out := c.invoke(ctx, req)
	c.logger.Debug("remote call", "function", req.Function, "outcome", out.Kind.String(), "status", out.Status)
	return out
}

func (c *Client) invoke(ctx context.Context, req Request) Outcome {
	fn := req.Function

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return transportOutcome(fn, fmt.Errorf("%w: %w", ErrNotAuthenticated, err))
	}
	if token == "" {
		return transportOutcome(fn, ErrNotAuthenticated)
	}

	body, err := json.Marshal(req.Body)
	if err != nil {
		return transportOutcome(fn, fmt.Errorf("marshaling request: %w", err))
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeoutCause(ctx, timeout, errDeadline)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/functions/v1/"+fn, bytes.NewReader(body))
	if err != nil {
		return transportOutcome(fn, fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("apikey", c.publicKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fault(callCtx, fn, start, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fault(callCtx, fn, start, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Outcome{
			Kind:     KindHTTPError,
			Function: fn,
			Status:   resp.StatusCode,
			Message:  errorMessage(raw, resp.StatusCode),
			Body:     raw,
		}
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Outcome{Kind: KindSuccess, Function: fn, Payload: json.RawMessage("null")}
	}

	var payload json.RawMessage
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return transportOutcome(fn, fmt.Errorf("decoding response: %w", err))
	}

	if embeddedError(payload) {
		return Outcome{
			Kind:     KindHTTPError,
			Function: fn,
			Status:   resp.StatusCode,
			Message:  errorMessage(raw, resp.StatusCode),
			Body:     raw,
		}
	}

	return Outcome{Kind: KindSuccess, Function: fn, Payload: payload}
}

func transportOutcome(fn string, cause error) Outcome {
	return Outcome{Kind: KindTransportError, Function: fn, Cause: cause}
}

// fault classifies a failure to complete the exchange. Only the call's own
// deadline produces a timeout; a caller cancellation or a parent deadline is
// a transport error.
func fault(callCtx context.Context, fn string, start time.Time, err error) Outcome {
	if errors.Is(context.Cause(callCtx), errDeadline) {
		elapsed := time.Since(start)
		return Outcome{
			Kind:     KindTimeout,
			Function: fn,
			Message:  fmt.Sprintf("request to %s timed out after %s seconds", fn, formatSeconds(elapsed)),
			Elapsed:  elapsed,
		}
	}
	return transportOutcome(fn, err)
}

func formatSeconds(d time.Duration) string {
	s := math.Round(d.Seconds()*10) / 10
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// embeddedError reports whether a 2xx body is a deliberately shaped error
// payload: a JSON object with a non-null "error" key and no "name" key.
func embeddedError(payload json.RawMessage) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return false
	}
	e, ok := obj["error"]
	if !ok || string(e) == "null" {
		return false
	}
	_, named := obj["name"]
	return !named
}

// errorMessage extracts the server's message from a failure body. It accepts
// {"error": "..."}, {"error": {"message": "..."}} and {"message": "..."},
// falling back to the raw text and then to the status text.
func errorMessage(raw []byte, status int) string {
	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if len(body.Error) > 0 {
			var s string
			if json.Unmarshal(body.Error, &s) == nil && s != "" {
				return s
			}
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(body.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
		}
		if body.Message != "" {
			return body.Message
		}
	}

	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "HTTP " + strconv.Itoa(status)
}
