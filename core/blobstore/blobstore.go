// Package blobstore defines the object storage holding uploaded files (teacher certificates,
// driver licenses, ...).
package blobstore

import (
	"context"
	"io"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("blob not found")

type (
	PutOptions struct {
		ContentType string
		Metadata    map[string]string
	}

	// Info describes a stored blob.
	Info struct {
		Key          string            `json:"key"`
		Size         int64             `json:"size"`
		ContentType  string            `json:"contentType,omitempty"`
		Metadata     map[string]string `json:"metadata,omitempty"`
		LastModified time.Time         `json:"lastModified"`
		URL          string            `json:"url,omitempty"`
	}

	// Store is a path-addressed object store.
	Store interface {
		// Put uploads (or replaces) the object and returns its info, including a durable download URL.
		Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
		Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
		Head(ctx context.Context, key string) (Info, error)
		// Delete removes the object and reports whether it existed.
		Delete(ctx context.Context, key string) (bool, error)
		List(ctx context.Context, prefix string) ([]Info, error)
		URL(key string) string
	}
)

var unsafeChars = regexp.MustCompile(`[^\w.\-]+`)

// SanitizeFilename keeps a file name usable as the last segment of an object key.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	return name
}

// ObjectPath returns `{kind}/{id}/{category}/{timestampMillis}_{filename}`.
func ObjectPath(kind, id, category string, ts time.Time, filename string) string {
	millis := strconv.FormatInt(ts.UnixNano()/int64(time.Millisecond), 10)
	return path.Join(kind, id, category, millis+"_"+SanitizeFilename(filename))
}

func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrNotFound
}
