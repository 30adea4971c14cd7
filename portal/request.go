package portal

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMalformedRequest is returned when no usable request line is present
var ErrMalformedRequest = errors.New("malformed request line")

// Request is the part of an HTTP request the portal acts on
type Request struct {
	Method string
	Path   string
	Proto  string
	Query  url.Values
}

// ParseRequest extracts the request line from the start of raw. Headers and
// body are ignored. A request line cut off by the read buffer is still parsed
// if its three fields are present.
func ParseRequest(raw []byte) (*Request, error) {
	line := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		line = raw[:i]
	}
	line = bytes.TrimSuffix(line, []byte("\r"))

	fields := strings.Fields(string(line))
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformedRequest, len(fields))
	}
	if !strings.HasPrefix(fields[2], "HTTP/") {
		return nil, fmt.Errorf("%w: bad protocol %q", ErrMalformedRequest, fields[2])
	}

	target := fields[1]
	path, rawQuery, _ := strings.Cut(target, "?")
	if !strings.HasPrefix(path, "/") {
		// absolute-form targets ("http://host/path") reach us through proxies
		u, err := url.Parse(target)
		if err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("%w: bad target %q", ErrMalformedRequest, target)
		}
		path, rawQuery = u.Path, u.RawQuery
		if path == "" {
			path = "/"
		}
	}

	return &Request{
		Method: fields[0],
		Path:   path,
		Proto:  fields[2],
		Query:  parseQuery(rawQuery),
	}, nil
}

// parseQuery decodes a query string. Pairs with invalid percent escapes keep
// their raw value with '+' mapped to a space.
func parseQuery(rawQuery string) url.Values {
	values := url.Values{}
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		} else {
			value = strings.ReplaceAll(value, "+", " ")
		}
		values.Add(key, value)
	}
	return values
}
