package objectstore

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// Store holds uploaded case files in S3-compatible storage.
type Store interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (ObjectInfo, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error)
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
}

type ObjectInfo struct {
	Bucket       string
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// UploadKey is cases/<case>/<step>/<upload id>/<filename>, each segment
// path-escaped so ids and filenames cannot add levels.
func UploadKey(caseID, stepKey, uploadID, filename string) string {
	segments := []string{"cases", caseID, stepKey, uploadID, filename}
	for i, s := range segments {
		s = strings.TrimSpace(s)
		if s == "" || s == "." || s == ".." {
			s = "_"
		}
		segments[i] = url.PathEscape(s)
	}
	return path.Join(segments...)
}
