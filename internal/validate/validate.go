// Package validate holds the client-side input checks that run before any
// network attempt. Their errors are already safe to show to a user.
package validate

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxMessageLength    = 10_000
	MaxRecipeTextLength = 100_000
	MaxImageBytes       = 10 << 20 // 10MB
)

// Error is a rejected input. Field names the offending input and Reason says
// what is wrong with it in plain words.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return e.Field + ": " + e.Reason
}

// Message returns the reason alone, for surfaces that already show the field.
func (e *Error) Message() string {
	return e.Reason
}

func invalid(field, format string, args ...any) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Message validates a conversational message and returns it trimmed.
func Message(text string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = MaxMessageLength
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", invalid("message", "message cannot be empty")
	}
	if n := utf8.RuneCountInString(trimmed); n > maxLen {
		return "", invalid("message", "message is too long (%d characters, maximum %d)", n, maxLen)
	}
	return trimmed, nil
}

// RecipeText validates free-form recipe text sent for parsing.
func RecipeText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", invalid("recipe_text", "recipe text cannot be empty")
	}
	if n := utf8.RuneCountInString(trimmed); n > MaxRecipeTextLength {
		return "", invalid("recipe_text", "recipe text is too long (%d characters, maximum %d)", n, MaxRecipeTextLength)
	}
	return trimmed, nil
}

// URL validates an absolute http(s) URL.
func URL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, invalid("url", "URL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, invalid("url", "URL is malformed")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, invalid("url", "URL must start with http:// or https://")
	}
	if u.Host == "" {
		return nil, invalid("url", "URL must include a host")
	}
	return u, nil
}

// Date validates a civil date in YYYY-MM-DD form and returns it trimmed.
func Date(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if _, err := time.Parse("2006-01-02", value); err != nil {
		return "", invalid(field, "%s must be a date like 2024-03-11", field)
	}
	return value, nil
}

type signature struct {
	mime   string
	offset int
	magic  []byte
	// second optional marker, e.g. the WEBP tag inside a RIFF container
	offset2 int
	magic2  []byte
}

var signatures = []signature{
	{mime: "image/jpeg", magic: []byte{0xFF, 0xD8, 0xFF}},
	{mime: "image/png", magic: []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}},
	{mime: "image/gif", magic: []byte("GIF87a")},
	{mime: "image/gif", magic: []byte("GIF89a")},
	{mime: "image/webp", magic: []byte("RIFF"), offset2: 8, magic2: []byte("WEBP")},
}

// AllowedImageTypes lists the MIME types accepted by Image.
func AllowedImageTypes() []string {
	return []string{"image/jpeg", "image/png", "image/gif", "image/webp"}
}

func normalizeMIME(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	if m == "image/jpg" {
		m = "image/jpeg"
	}
	return m
}

// Image checks an uploaded image: size limit, declared MIME type, and that
// the leading bytes match the signature for that type. It returns the
// normalized MIME type.
func Image(data []byte, mime string) (string, error) {
	if len(data) == 0 {
		return "", invalid("image", "image is empty")
	}
	if len(data) > MaxImageBytes {
		return "", invalid("image", "image is too large (maximum 10 MB)")
	}

	m := normalizeMIME(mime)
	allowed := false
	for _, a := range AllowedImageTypes() {
		if a == m {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", invalid("image", "unsupported image type %q", mime)
	}

	for _, sig := range signatures {
		if sig.mime != m || !hasAt(data, sig.offset, sig.magic) {
			continue
		}
		if sig.magic2 != nil && !hasAt(data, sig.offset2, sig.magic2) {
			continue
		}
		return m, nil
	}
	return "", invalid("image", "file content does not match type %s", m)
}

// SniffImage returns the MIME type whose signature matches data, or "".
func SniffImage(data []byte) string {
	for _, sig := range signatures {
		if !hasAt(data, sig.offset, sig.magic) {
			continue
		}
		if sig.magic2 != nil && !hasAt(data, sig.offset2, sig.magic2) {
			continue
		}
		return sig.mime
	}
	return ""
}

func hasAt(data []byte, offset int, magic []byte) bool {
	if len(data) < offset+len(magic) {
		return false
	}
	return bytes.Equal(data[offset:offset+len(magic)], magic)
}
