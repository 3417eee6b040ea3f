package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps pageSize to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Params holds the paging values extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
}

// Options control the page size bounds applied by Parse.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// FromRequest parses pageSize and pageToken from the request query.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	return Parse(r.URL.Query(), opts)
}

// Parse validates pageSize and checks that pageToken decodes. Oversized pages are clamped.
func Parse(values url.Values, opts Options) (Params, error) {
	maxSize := opts.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	size := opts.DefaultPageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	size = min(size, maxSize)

	if raw := strings.TrimSpace(values.Get("pageSize")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		if value <= 0 {
			return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		size = min(value, maxSize)
	}

	token := strings.TrimSpace(values.Get("pageToken"))
	if _, err := DecodeToken(token); err != nil {
		return Params{}, err
	}
	return Params{PageSize: size, PageToken: token}, nil
}
