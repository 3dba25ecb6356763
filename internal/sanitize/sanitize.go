// Package sanitize turns raw errors into short messages that are safe to
// show a user. The raw error always reaches a diagnostic sink first.
package sanitize

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/mealkit/internal/remote"
	"github.com/kalambet/mealkit/internal/validate"
)

// DefaultFallback is used when a caller passes an empty fallback.
const DefaultFallback = "Something went wrong. Please try again."

const maxVerbatimLength = 200

// Result is what the user sees. Logged reports whether the diagnostic sink
// accepted the raw error.
type Result struct {
	UserMessage string
	Logged      bool
}

type rule struct {
	needles []string
	message string
}

// rules is ordered; the first rule with a matching needle wins.
var rules = []rule{
	{[]string{"jwt expired", "token is expired", "session expired"}, "Your session has expired. Please log in again."},
	{[]string{"invalid jwt", "not authenticated", "no stored session", "invalid refresh token", "missing authorization"}, "Please log in to continue."},
	{[]string{"rate limit", "too many requests"}, "Too many requests right now. Please wait a moment and try again."},
	{[]string{"row-level security", "permission denied", "insufficient privilege"}, "You don't have permission to do that."},
	{[]string{"duplicate key", "unique constraint"}, "That item already exists."},
	{[]string{"foreign key"}, "That item is linked to something that no longer exists."},
	{[]string{"not-null", "null value in column"}, "Some required information is missing."},
	{[]string{"timed out", "deadline exceeded"}, "The request took too long. Please try again."},
	{[]string{"failed to fetch", "network", "connection refused", "connection reset", "no such host"}, "Couldn't reach the server. Check your connection and try again."},
	{[]string{"payload too large", "request entity too large"}, "That file is too large to upload."},
	{[]string{"context canceled"}, "The request was cancelled."},
}

var (
	stackTracePattern = regexp.MustCompile(`(?m)(^\s+at \S+|goroutine \d+|\.go:\d+|\.(ts|js|py):\d+|panic:|traceback \(most recent call last\))`)
	queryPattern      = regexp.MustCompile(`\bselect\b.+\bfrom\b|\binsert\s+into\b|\bupdate\b.+\bset\b|\bdelete\s+from\b|\bsqlstate\b|syntax error at or near|\brelation "[^"]*"|\bviolates \w+ constraint\b`)
	subsystemPattern  = regexp.MustCompile(`\b(postgres(ql)?|postgrest|pgrst\d*|pg_\w+|supabase|sqlite\w*|deno|edge function|gotrue)\b`)
	identifierPattern = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}|https?://\S+/functions/`)
)

// Sanitizer maps raw errors to user-safe messages.
type Sanitizer struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Sanitizer recording to sink. A nil sink logs through slog.
func New(sink Sink) *Sanitizer {
	if sink == nil {
		sink = LogSink{}
	}
	return &Sanitizer{sink: sink, logger: slog.Default(), now: time.Now}
}

// Present is the entry point for anything shown to a user. Validation errors
// are already safe and are returned verbatim without touching the sink;
// everything else goes through Sanitize.
func (s *Sanitizer) Present(ctx context.Context, err error, fallback string) Result {
	if err == nil {
		return Result{}
	}
	var verr *validate.Error
	if errors.As(err, &verr) {
		return Result{UserMessage: verr.Message()}
	}
	return s.Sanitize(ctx, err, fallback)
}

// SanitizeOutcome sanitizes a failed remote outcome. A successful outcome
// yields an empty Result.
func (s *Sanitizer) SanitizeOutcome(ctx context.Context, out remote.Outcome, fallback string) Result {
	err := out.Err()
	if err == nil {
		return Result{}
	}
	return s.Sanitize(ctx, err, fallback)
}

// Sanitize records err to the sink and returns the message to show.
func (s *Sanitizer) Sanitize(ctx context.Context, err error, fallback string) Result {
	if fallback == "" {
		fallback = DefaultFallback
	}
	if err == nil {
		return Result{UserMessage: fallback}
	}

	d := describe(err)
	d.At = s.now()

	logged := true
	if recErr := s.sink.Record(ctx, d); recErr != nil {
		logged = false
		s.logger.Error("diagnostic sink failed", "sink_error", recErr, "kind", d.Kind, "scope", d.Scope, "raw", d.Message)
	}

	return Result{UserMessage: Message(d.Message, fallback), Logged: logged}
}

// Message applies the pattern table and the technical-text heuristic to a
// raw message. It performs no logging.
func Message(raw, fallback string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "" {
		return fallback
	}
	for _, r := range rules {
		for _, n := range r.needles {
			if strings.Contains(lower, n) {
				return r.message
			}
		}
	}
	if LooksTechnical(raw) {
		return fallback
	}
	return strings.TrimSpace(raw)
}

// LooksTechnical reports whether raw reads like internal detail rather than
// something meant for a user.
func LooksTechnical(raw string) bool {
	if utf8.RuneCountInString(raw) > maxVerbatimLength {
		return true
	}
	lower := strings.ToLower(raw)
	return stackTracePattern.MatchString(lower) ||
		queryPattern.MatchString(lower) ||
		subsystemPattern.MatchString(lower) ||
		identifierPattern.MatchString(lower)
}

// describe extracts the raw message and detail from the typed outcome
// errors, falling back to the error text.
func describe(err error) Diagnostic {
	var (
		herr *remote.HTTPError
		terr *remote.TimeoutError
		xerr *remote.TransportError
	)
	switch {
	case errors.As(err, &herr):
		return Diagnostic{
			Scope:   herr.Function,
			Kind:    remote.KindHTTPError.String(),
			Status:  herr.Status,
			Message: herr.Message,
			Detail:  truncate(string(herr.Body)),
		}
	case errors.As(err, &terr):
		return Diagnostic{
			Scope:   terr.Function,
			Kind:    remote.KindTimeout.String(),
			Message: terr.Message,
			Detail:  terr.Elapsed.String(),
		}
	case errors.As(err, &xerr):
		msg := err.Error()
		if xerr.Cause != nil {
			msg = xerr.Cause.Error()
		}
		return Diagnostic{
			Scope:   xerr.Function,
			Kind:    remote.KindTransportError.String(),
			Message: msg,
			Detail:  truncate(err.Error()),
		}
	default:
		return Diagnostic{Kind: "error", Message: err.Error(), Detail: truncate(err.Error())}
	}
}

func truncate(s string) string {
	const limit = 8 << 10
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
