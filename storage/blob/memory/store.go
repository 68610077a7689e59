// Package memory implements an in-memory blob store for tests and local development.
package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core/blobstore"
)

var _ blobstore.Store = (*Store)(nil)

type blobEntry struct {
	info blobstore.Info
	data []byte
}

type Store struct {
	mu      sync.RWMutex
	objs    map[string]blobEntry
	baseURL string
}

// New returns an in-memory blob store whose URLs are rooted at baseURL.
func New(baseURL string) *Store {
	if baseURL == "" {
		baseURL = "memory://blobs"
	}
	return &Store{objs: make(map[string]blobEntry), baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (s *Store) URL(key string) string {
	return s.baseURL + "/" + key
}

func (s *Store) Put(_ context.Context, key string, r io.Reader, opts blobstore.PutOptions) (blobstore.Info, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return blobstore.Info{}, errors.Wrap(err, "reading blob")
	}
	info := blobstore.Info{
		Key:          key,
		Size:         int64(len(b)),
		ContentType:  opts.ContentType,
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: time.Now().UTC(),
		URL:          s.URL(key),
	}
	s.mu.Lock()
	s.objs[key] = blobEntry{info: info, data: b}
	s.mu.Unlock()
	return info, nil
}

func (s *Store) Get(_ context.Context, key string) (blobstore.Info, io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return blobstore.Info{}, nil, errors.Wrap(blobstore.ErrNotFound, key)
	}
	dataCopy := make([]byte, len(obj.data))
	copy(dataCopy, obj.data)
	info := obj.info
	info.Metadata = cloneMetadata(info.Metadata)
	return info, io.NopCloser(bytes.NewReader(dataCopy)), nil
}

func (s *Store) Head(_ context.Context, key string) (blobstore.Info, error) {
	s.mu.RLock()
	obj, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return blobstore.Info{}, errors.Wrap(blobstore.ErrNotFound, key)
	}
	info := obj.info
	info.Metadata = cloneMetadata(info.Metadata)
	return info, nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objs[key]
	delete(s.objs, key)
	return ok, nil
}

func (s *Store) List(_ context.Context, prefix string) ([]blobstore.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := make([]blobstore.Info, 0)
	for k, obj := range s.objs {
		if strings.HasPrefix(k, prefix) {
			infos = append(infos, obj.info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func cloneMetadata(md map[string]string) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
