package storage

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	errs "attachdl/pkg/errors"
)

// Request describes how to fetch one attachment body.
type Request struct {
	URL     string
	Headers map[string]string
	// Token identifies the session the request was signed with
	Token string
}

// Sink is a destination for attachment content. Implementations must never expose a
// partially written object under its final key.
type Sink interface {
	// Exists reports whether key is already present with exactly size bytes
	Exists(ctx context.Context, key string, size int64) (bool, error)
	// Store fetches req and commits the body under key, returning the bytes written
	Store(ctx context.Context, req Request, key string, size int64) (int64, error)
	// Location is the human-readable address of key
	Location(key string) string
	Close() error
}

// RequestCounter is implemented by sinks whose Store sends more than one request to the
// content server.
type RequestCounter interface {
	RequestsPerStore() int
}

// RequestsPerStore is the number of content requests one Store call on s can send.
func RequestsPerStore(s Sink) int {
	if rc, ok := s.(RequestCounter); ok && rc.RequestsPerStore() > 0 {
		return rc.RequestsPerStore()
	}
	return 1
}

const (
	fallbackExt  = ".bin"
	maxExtLength = 16
)

// ObjectKey returns the destination name for an attachment: its ID plus the extension of
// its display name, or .bin when the name has none. Display names are never used alone
// since they are neither unique nor safe as paths.
func ObjectKey(id, fileName string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\:`) || id == "." || id == ".." {
		return "", errs.Malformed(fmt.Sprintf("unusable attachment id %q", id))
	}

	ext := filepath.Ext(strings.TrimSpace(fileName))
	if !validExt(ext) {
		ext = fallbackExt
	}
	return id + ext, nil
}

func validExt(ext string) bool {
	if len(ext) < 2 || len(ext) > maxExtLength {
		return false
	}
	for _, r := range ext[1:] {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// checkResponse accepts 2xx responses and classifies everything else.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return errs.FromStatus(resp)
}

func sizeMismatch(got, want int64) error {
	return errs.New(errs.ErrorTypeIntegrity, 0, fmt.Sprintf("size mismatch: got %d bytes, expected %d", got, want))
}
