package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azardenmark/dashboard-sub000/core/blobstore"
)

// fakeS3 answers the read/delete subset of the S3 REST API from a map.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	deleted []string
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	empty := io.NopCloser(bytes.NewReader(nil))

	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		prefix := req.URL.Query().Get("prefix")
		keys := make([]string, 0)
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k]))
		}
		b.WriteString("</ListBucketResult>")
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(b.String())), Header: http.Header{"Content-Type": {"application/xml"}}}, nil
	}

	body, ok := f.objects[key]
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		if !ok {
			return &http.Response{StatusCode: http.StatusNotFound, Body: empty, Header: http.Header{}}, nil
		}
		header := http.Header{
			"Content-Length": {fmt.Sprintf("%d", len(body))},
			"Content-Type":   {"text/plain"},
			"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
		}
		if req.Method == http.MethodHead {
			return &http.Response{StatusCode: http.StatusOK, Body: empty, Header: header}, nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body)), Header: header}, nil
	case http.MethodDelete:
		delete(f.objects, key)
		f.deleted = append(f.deleted, key)
		return &http.Response{StatusCode: http.StatusNoContent, Body: empty, Header: http.Header{}}, nil
	}
	return &http.Response{StatusCode: http.StatusNotImplemented, Body: empty, Header: http.Header{}}, nil
}

func newFakeStore(t *testing.T, objects map[string]string) (*Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: objects}
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	require.NoError(t, err)
	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.BaseEndpoint = aws.String("https://minio.test")
		o.HTTPClient = &http.Client{Transport: fake}
		o.UsePathStyle = true
	})
	return NewWithClient(client, Config{Bucket: "rawdati", Endpoint: "https://minio.test", PathStyle: true}), fake
}

func TestStore_ReadAndDelete(t *testing.T) {
	ctx := context.Background()
	store, fake := newFakeStore(t, map[string]string{
		"teachers/t1/certificates/1_cert.txt": "hello",
		"drivers/d1/licenses/1_lic.txt":       "license",
	})

	info, err := store.Head(ctx, "teachers/t1/certificates/1_cert.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 5, info.Size)
	assert.Equal(t, "https://minio.test/rawdati/teachers/t1/certificates/1_cert.txt", info.URL)

	_, rc, err := store.Get(ctx, "drivers/d1/licenses/1_lic.txt")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, "license", string(data))

	_, err = store.Head(ctx, "missing.txt")
	assert.True(t, blobstore.IsNotFound(err))

	list, err := store.List(ctx, "teachers/")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "teachers/t1/certificates/1_cert.txt", list[0].Key)

	existed, err := store.Delete(ctx, "teachers/t1/certificates/1_cert.txt")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = store.Delete(ctx, "teachers/t1/certificates/1_cert.txt")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, []string{"teachers/t1/certificates/1_cert.txt"}, fake.deleted)
}

func TestPublicBaseURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"aws", Config{Bucket: "b", Region: "eu-west-1"}, "https://b.s3.eu-west-1.amazonaws.com"},
		{"minio path style", Config{Bucket: "b", Endpoint: "http://localhost:9000", PathStyle: true}, "http://localhost:9000/b"},
		{"virtual host", Config{Bucket: "b", Endpoint: "https://storage.test"}, "https://b.storage.test"},
		{"explicit", Config{Bucket: "b", PublicBaseURL: "https://cdn.test/"}, "https://cdn.test"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, publicBaseURL(tc.cfg))
		})
	}
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}
