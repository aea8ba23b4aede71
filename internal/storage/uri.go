// Package storage reads input datasets from and publishes output tables to
// the local filesystem or S3-compatible object storage.
package storage

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

const (
	SchemeFile = "file"
	SchemeS3   = "s3"
)

// URI locates a dataset root. For file URIs Path is an absolute local path;
// for s3 URIs Bucket is set and Path is the key prefix without leading or
// trailing slashes.
type URI struct {
	Scheme string
	Bucket string
	Path   string
}

// ParseURI parses file://, s3:// and bare path locations. Bare paths are local.
func ParseURI(s string) (URI, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return URI{}, fmt.Errorf("URI is required")
	}

	switch {
	case strings.HasPrefix(s, "s3://"):
		parsed, err := url.Parse(s)
		if err != nil {
			return URI{}, fmt.Errorf("failed to parse s3 URI: %w", err)
		}
		if parsed.Host == "" {
			return URI{}, fmt.Errorf("s3 URI must include a bucket name (got: %q)", RedactedURI(s))
		}
		return URI{
			Scheme: SchemeS3,
			Bucket: parsed.Host,
			Path:   strings.Trim(parsed.Path, "/"),
		}, nil

	case strings.HasPrefix(s, "file://"):
		p := strings.TrimPrefix(s, "file://")
		if p == "" {
			return URI{}, fmt.Errorf("file:// path cannot be empty")
		}
		return localURI(p)

	case strings.Contains(s, "://"):
		return URI{}, fmt.Errorf("URI must be file://, s3:// or a local path (got: %q)", RedactedURI(s))
	}
	return localURI(s)
}

func localURI(p string) (URI, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return URI{}, fmt.Errorf("failed to get absolute path for %s: %w", p, err)
	}
	return URI{Scheme: SchemeFile, Path: abs}, nil
}

func (u URI) IsS3() bool {
	return u.Scheme == SchemeS3
}

// Key joins elems under the URI's path. For s3 URIs the result is an object
// key; for file URIs it is a local path.
func (u URI) Key(elems ...string) string {
	if u.IsS3() {
		return strings.Trim(path.Join(append([]string{u.Path}, elems...)...), "/")
	}
	return filepath.Join(append([]string{u.Path}, elems...)...)
}

func (u URI) String() string {
	if u.IsS3() {
		if u.Path == "" {
			return "s3://" + u.Bucket
		}
		return "s3://" + u.Bucket + "/" + u.Path
	}
	return "file://" + u.Path
}

// RedactedURI hides credentials in userinfo or query parameters so the URI
// can be logged.
func RedactedURI(uri string) string {
	if uri == "" || !strings.Contains(uri, "://") {
		return uri
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return "[REDACTED: invalid URI]"
	}
	if parsed.User != nil {
		if _, ok := parsed.User.Password(); ok {
			parsed.User = url.UserPassword(parsed.User.Username(), "REDACTED")
		}
	}
	if parsed.RawQuery != "" {
		query, err := url.ParseQuery(parsed.RawQuery)
		if err == nil {
			sensitiveKeys := []string{"accesskey", "secretkey", "password", "token", "credential", "signature"}
			for key := range query {
				keyLower := strings.ToLower(key)
				for _, sensitive := range sensitiveKeys {
					if strings.Contains(keyLower, sensitive) {
						query[key] = []string{"REDACTED"}
					}
				}
			}
			parsed.RawQuery = query.Encode()
		}
	}
	return parsed.String()
}
