package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func staticToken(tok string) TokenSource {
	return TokenFunc(func(context.Context) (string, error) { return tok, nil })
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "anon-key", staticToken("user-jwt"), 0), srv
}

func TestInvoke_Success(t *testing.T) {
	var gotPath, gotAuth, gotKey, gotCT, gotMethod string
	var gotBody map[string]any

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("apikey")
		gotCT = r.Header.Get("Content-Type")
		if len(r.Cookies()) > 0 {
			t.Errorf("unexpected cookies: %v", r.Cookies())
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"title":"Soup","ingredients":"1 onion"}`)
	})

	out := c.Invoke(context.Background(), Request{Function: "parse-recipe", Body: map[string]string{"text": "soup"}})
	if out.Kind != KindSuccess {
		t.Fatalf("Kind = %v, want success (err=%v)", out.Kind, out.Err())
	}
	if out.Err() != nil {
		t.Errorf("Err() = %v, want nil", out.Err())
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotPath != "/functions/v1/parse-recipe" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer user-jwt" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotKey != "anon-key" {
		t.Errorf("apikey = %q", gotKey)
	}
	if gotCT != "application/json" {
		t.Errorf("Content-Type = %q", gotCT)
	}
	if gotBody["text"] != "soup" {
		t.Errorf("body = %v", gotBody)
	}

	var recipe struct{ Title string }
	if err := out.Decode(&recipe); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if recipe.Title != "Soup" {
		t.Errorf("Title = %q", recipe.Title)
	}
}

func TestInvoke_HTTPError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{"json error string", 409, `{"error":"duplicate key value violates unique constraint"}`, "duplicate key value violates unique constraint"},
		{"json nested error", 400, `{"error":{"message":"bad input","code":"E1"}}`, "bad input"},
		{"json message", 403, `{"message":"new row violates row-level security policy"}`, "new row violates row-level security policy"},
		{"plain text", 502, "upstream exploded\n", "upstream exploded"},
		{"empty body", 503, "", "Service Unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			out := c.Invoke(context.Background(), Request{Function: "fn"})
			if out.Kind != KindHTTPError {
				t.Fatalf("Kind = %v, want http_error", out.Kind)
			}
			if out.Status != tt.status {
				t.Errorf("Status = %d, want %d", out.Status, tt.status)
			}
			if out.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", out.Message, tt.wantMessage)
			}
			if out.Payload != nil {
				t.Errorf("Payload = %s, want nil on failure", out.Payload)
			}

			var herr *HTTPError
			if !errors.As(out.Err(), &herr) {
				t.Fatalf("Err() = %T, want *HTTPError", out.Err())
			}
		})
	}
}

func TestInvoke_EmbeddedErrorOn200(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"Rate limit exceeded"}`)
	})

	out := c.Invoke(context.Background(), Request{Function: "suggest-recipes"})
	if out.Kind != KindHTTPError {
		t.Fatalf("Kind = %v, want http_error", out.Kind)
	}
	if out.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", out.Status)
	}
	if out.Message != "Rate limit exceeded" {
		t.Errorf("Message = %q", out.Message)
	}
}

func TestInvoke_ErrorFieldWithNameIsData(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"Margin of error soup","error":"typo in the title"}`)
	})

	out := c.Invoke(context.Background(), Request{Function: "parse-recipe"})
	if out.Kind != KindSuccess {
		t.Fatalf("Kind = %v, want success", out.Kind)
	}
}

func TestInvoke_NullErrorIsSuccess(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"error":null}`)
	})

	if out := c.Invoke(context.Background(), Request{Function: "fn"}); out.Kind != KindSuccess {
		t.Fatalf("Kind = %v, want success", out.Kind)
	}
}

func TestInvoke_MalformedJSONOn2xx(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"title": "Soup"`)
	})

	out := c.Invoke(context.Background(), Request{Function: "fn"})
	if out.Kind != KindTransportError {
		t.Fatalf("Kind = %v, want transport_error", out.Kind)
	}
	var terr *TransportError
	if !errors.As(out.Err(), &terr) {
		t.Fatalf("Err() = %T, want *TransportError", out.Err())
	}
}

func TestInvoke_Timeout(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	const deadline = 100 * time.Millisecond
	start := time.Now()
	out := c.Invoke(context.Background(), Request{Function: "meal-assistant", Timeout: deadline})
	took := time.Since(start)

	if out.Kind != KindTimeout {
		t.Fatalf("Kind = %v, want timeout (err=%v)", out.Kind, out.Err())
	}
	if took < deadline {
		t.Errorf("resolved after %v, before the %v deadline", took, deadline)
	}
	if took > deadline+2*time.Second {
		t.Errorf("resolved after %v, long after the %v deadline", took, deadline)
	}
	if out.Elapsed < deadline {
		t.Errorf("Elapsed = %v, want >= %v", out.Elapsed, deadline)
	}
	if !strings.HasPrefix(out.Message, "request to meal-assistant timed out after ") || !strings.HasSuffix(out.Message, " seconds") {
		t.Errorf("Message = %q", out.Message)
	}

	var terr *TimeoutError
	if !errors.As(out.Err(), &terr) {
		t.Fatalf("Err() = %T, want *TimeoutError", out.Err())
	}
}

func TestInvoke_CallerCancelIsNotTimeout(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	out := c.Invoke(ctx, Request{Function: "meal-assistant", Timeout: 10 * time.Second})
	if out.Kind != KindTransportError {
		t.Fatalf("Kind = %v, want transport_error", out.Kind)
	}
	if !errors.Is(out.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want it to wrap context.Canceled", out.Err())
	}
}

func TestInvoke_NotAuthenticated(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	failing := TokenFunc(func(context.Context) (string, error) {
		return "", errors.New("no stored session")
	})
	c := NewClient(srv.URL, "anon-key", failing, 0)

	out := c.Invoke(context.Background(), Request{Function: "parse-recipe"})
	if out.Kind != KindTransportError {
		t.Fatalf("Kind = %v, want transport_error", out.Kind)
	}
	if !errors.Is(out.Err(), ErrNotAuthenticated) {
		t.Errorf("Err() = %v, want ErrNotAuthenticated", out.Err())
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("server called %d times, want 0", n)
	}

	// An empty token is treated the same way.
	c = NewClient(srv.URL, "anon-key", staticToken(""), 0)
	if out := c.Invoke(context.Background(), Request{Function: "parse-recipe"}); !errors.Is(out.Err(), ErrNotAuthenticated) {
		t.Errorf("Err() = %v, want ErrNotAuthenticated", out.Err())
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("server called %d times, want 0", n)
	}
}

func TestInvoke_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, "anon-key", staticToken("tok"), 0)
	out := c.Invoke(context.Background(), Request{Function: "fn"})
	if out.Kind != KindTransportError {
		t.Fatalf("Kind = %v, want transport_error", out.Kind)
	}
}

func TestInvoke_Concurrent(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		fmt.Fprint(w, `{"ok":true}`)
	})

	done := make(chan Outcome, 5)
	for range 5 {
		go func() { done <- c.Invoke(context.Background(), Request{Function: "fn"}) }()
	}
	for range 5 {
		if out := <-done; out.Kind != KindSuccess {
			t.Errorf("Kind = %v", out.Kind)
		}
	}
	if n := calls.Load(); n != 5 {
		t.Errorf("calls = %d, want 5", n)
	}
}
