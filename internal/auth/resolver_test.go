package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

func (m *memStore) Get(service, account string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *memStore) Set(service, account, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[service+"/"+account] = value
	return nil
}

func (m *memStore) Delete(service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, service+"/"+account)
	return nil
}

func TestTokenNoSession(t *testing.T) {
	r := NewResolver("http://unused", "anon", newMemStore())
	if _, err := r.Token(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("Token() error = %v, want ErrNoSession", err)
	}
}

func TestTokenValidSessionNoNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	r := NewResolver(srv.URL, "anon", newMemStore())
	if err := r.Login(Session{AccessToken: "tok", RefreshToken: "ref", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	tok, err := r.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "tok" {
		t.Errorf("token = %q, want tok", tok)
	}
	if calls.Load() != 0 {
		t.Errorf("refresh endpoint called %d times, want 0", calls.Load())
	}
}

func TestTokenRefreshesExpiredSession(t *testing.T) {
	var gotPath, gotGrant, gotKey, gotRefresh string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotGrant = r.URL.Query().Get("grant_type")
		gotKey = r.Header.Get("apikey")
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotRefresh = body["refresh_token"]
		fmt.Fprint(w, `{"access_token":"new-tok","refresh_token":"new-ref","expires_in":3600,"user":{"id":"u1"}}`)
	}))
	defer srv.Close()

	store := newMemStore()
	r := NewResolver(srv.URL, "anon", store)
	r.Login(Session{AccessToken: "old", RefreshToken: "old-ref", ExpiresAt: time.Now().Add(30 * time.Second)})

	tok, err := r.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "new-tok" {
		t.Errorf("token = %q, want new-tok", tok)
	}
	if gotPath != "/auth/v1/token" || gotGrant != "refresh_token" {
		t.Errorf("refresh hit %s?grant_type=%s", gotPath, gotGrant)
	}
	if gotKey != "anon" {
		t.Errorf("apikey = %q", gotKey)
	}
	if gotRefresh != "old-ref" {
		t.Errorf("refresh_token sent = %q", gotRefresh)
	}

	s, err := r.Current()
	if err != nil {
		t.Fatal(err)
	}
	if s.RefreshToken != "new-ref" || s.UserID != "u1" {
		t.Errorf("stored session = %+v", s)
	}
	if time.Until(s.ExpiresAt) < 50*time.Minute {
		t.Errorf("ExpiresAt = %v, want about an hour from now", s.ExpiresAt)
	}
}

func TestConcurrentRefreshCollapses(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(w, `{"access_token":"fresh","expires_in":3600}`)
	}))
	defer srv.Close()

	r := NewResolver(srv.URL, "anon", newMemStore())
	r.Login(Session{AccessToken: "stale", RefreshToken: "ref", ExpiresAt: time.Now().Add(-time.Minute)})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := r.Token(context.Background())
			if err != nil || tok != "fresh" {
				t.Errorf("Token() = %q, %v", tok, err)
			}
		}()
	}
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("refresh endpoint called %d times, want 1", n)
	}
}

func TestRefreshFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Invalid Refresh Token: Already Used"}`)
	}))
	defer srv.Close()

	r := NewResolver(srv.URL, "anon", newMemStore())
	r.Login(Session{AccessToken: "stale", RefreshToken: "used", ExpiresAt: time.Now().Add(-time.Minute)})

	_, err := r.Token(context.Background())
	if err == nil {
		t.Fatal("expected refresh error")
	}
	if want := "Invalid Refresh Token: Already Used"; !strings.Contains(err.Error(), want) {
		t.Errorf("error = %q, want it to contain %q", err, want)
	}
}

func TestExpiredWithoutRefreshToken(t *testing.T) {
	r := NewResolver("http://unused", "anon", newMemStore())
	r.Login(Session{AccessToken: "stale", ExpiresAt: time.Now().Add(-time.Minute)})

	if _, err := r.Token(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("error = %v, want ErrNoSession", err)
	}
}

func TestLoginFillsClaims(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"user-42","exp":4102444800}`))
	jwt := "eyJhbGciOiJIUzI1NiJ9." + payload + ".sig"

	r := NewResolver("http://unused", "anon", newMemStore())
	if err := r.Login(Session{AccessToken: jwt}); err != nil {
		t.Fatal(err)
	}
	s, _ := r.Current()
	if s.UserID != "user-42" {
		t.Errorf("UserID = %q", s.UserID)
	}
	if s.ExpiresAt.Year() != 2100 {
		t.Errorf("ExpiresAt = %v, want year 2100", s.ExpiresAt)
	}
}

func TestLogout(t *testing.T) {
	r := NewResolver("http://unused", "anon", newMemStore())
	r.Login(Session{AccessToken: "tok"})
	if err := r.Logout(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Current(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Current() after logout = %v, want ErrNoSession", err)
	}
}
