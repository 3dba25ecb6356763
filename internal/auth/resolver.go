// Package auth resolves the bearer credential attached to remote calls.
//
// The user session lives in the platform secret store. The Resolver is the
// only code that writes it: callers ask for a token and never mutate the
// session themselves.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	storeService = "mealkit"
	storeAccount = "session"

	// refreshSkew is how long a token must remain valid to be handed out
	// without refreshing first.
	refreshSkew    = 60 * time.Second
	refreshTimeout = 15 * time.Second
)

// ErrNoSession means no user is logged in.
var ErrNoSession = errors.New("no stored session")

// Session is the persisted login state.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id,omitempty"`
}

// ValidAt reports whether the access token is usable at now with at least
// skew to spare. A zero ExpiresAt never expires.
func (s Session) ValidAt(now time.Time, skew time.Duration) bool {
	if s.AccessToken == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || s.ExpiresAt.Sub(now) >= skew
}

// Store is the subset of the secret store the resolver needs.
type Store interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
	Delete(service, account string) error
}

// Resolver hands out access tokens and refreshes them when they expire.
// Concurrent refreshes collapse into a single network call.
type Resolver struct {
	baseURL    string
	publicKey  string
	store      Store
	httpClient *http.Client
	group      singleflight.Group
	now        func() time.Time
	logger     *slog.Logger
}

func NewResolver(baseURL, publicKey string, store Store) *Resolver {
	return &Resolver{
		baseURL:    strings.TrimRight(baseURL, "/"),
		publicKey:  publicKey,
		store:      store,
		httpClient: &http.Client{Timeout: refreshTimeout},
		now:        time.Now,
		logger:     slog.Default(),
	}
}

// Token returns a valid access token, refreshing the session if needed.
func (r *Resolver) Token(ctx context.Context) (string, error) {
	s, err := r.Current()
	if err != nil {
		return "", err
	}
	if s.ValidAt(r.now(), refreshSkew) {
		return s.AccessToken, nil
	}
	if s.RefreshToken == "" {
		return "", fmt.Errorf("access token expired and no refresh token stored: %w", ErrNoSession)
	}

	// The refresh outlives any single caller: if the first caller gives up,
	// the others sharing the flight still get the result.
	refreshCtx := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do("refresh", func() (any, error) {
		// Another flight may have completed between our load and now.
		if cur, err := r.Current(); err == nil && cur.ValidAt(r.now(), refreshSkew) {
			return cur.AccessToken, nil
		}
		ns, err := r.refresh(refreshCtx, s.RefreshToken)
		if err != nil {
			return "", err
		}
		if err := r.save(ns); err != nil {
			return "", err
		}
		r.logger.Info("session refreshed", "user", ns.UserID, "expires_at", ns.ExpiresAt)
		return ns.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Current returns the stored session without refreshing it.
func (r *Resolver) Current() (Session, error) {
	raw, err := r.store.Get(storeService, storeAccount)
	if err != nil || raw == "" {
		return Session{}, ErrNoSession
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Session{}, fmt.Errorf("decoding stored session: %w", err)
	}
	if s.AccessToken == "" {
		return Session{}, ErrNoSession
	}
	return s, nil
}

// Login stores s as the current session.
func (r *Resolver) Login(s Session) error {
	if s.AccessToken == "" {
		return errors.New("access token is required")
	}
	if s.UserID == "" || s.ExpiresAt.IsZero() {
		if c, err := parseClaims(s.AccessToken); err == nil {
			if s.UserID == "" {
				s.UserID = c.Subject
			}
			if s.ExpiresAt.IsZero() && c.ExpiresAt > 0 {
				s.ExpiresAt = time.Unix(c.ExpiresAt, 0).UTC()
			}
		}
	}
	return r.save(s)
}

// Logout forgets the stored session.
func (r *Resolver) Logout() error {
	if err := r.store.Delete(storeService, storeAccount); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (r *Resolver) save(s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := r.store.Set(storeService, storeAccount, string(data)); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
}

func (r *Resolver) refresh(ctx context.Context, refreshToken string) (Session, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return Session{}, fmt.Errorf("marshaling refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/auth/v1/token?grant_type=refresh_token", bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", r.publicKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("refreshing session: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return Session{}, fmt.Errorf("refreshing session: HTTP %d: %s", resp.StatusCode, refreshErrorMessage(raw))
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return Session{}, fmt.Errorf("decoding refresh response: %w", err)
	}
	if tr.AccessToken == "" {
		return Session{}, errors.New("refreshing session: response carried no access token")
	}

	s := Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		UserID:       tr.User.ID,
	}
	if s.RefreshToken == "" {
		s.RefreshToken = refreshToken
	}
	switch {
	case tr.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(tr.ExpiresAt, 0).UTC()
	case tr.ExpiresIn > 0:
		s.ExpiresAt = r.now().Add(time.Duration(tr.ExpiresIn) * time.Second).UTC()
	}
	return s, nil
}

func refreshErrorMessage(raw []byte) string {
	var body struct {
		Description string `json:"error_description"`
		Msg         string `json:"msg"`
		Error       string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		for _, m := range []string{body.Description, body.Msg, body.Error} {
			if m != "" {
				return m
			}
		}
	}
	return strings.TrimSpace(string(raw))
}
