// Package memory provides an in-process [storage.Store].
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxscribe/pkg/storage"
)

type entry struct {
	body []byte
	meta storage.Object
}

// Store keeps blobs in a map. The zero value is not usable; call New.
type Store struct {
	mu      sync.RWMutex
	objects map[string]entry
	now     func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string]entry), now: time.Now}
}

// Put implements [storage.Store].
func (s *Store) Put(_ context.Context, key string, body []byte, opts storage.PutOptions) error {
	ct := opts.ContentType
	if ct == "" {
		ct = storage.DefaultContentType
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; ok && opts.IfNoneMatch {
		return storage.ErrConflict
	}
	s.objects[key] = entry{
		body: append([]byte(nil), body...),
		meta: storage.Object{Key: key, Size: int64(len(body)), ContentType: ct, Modified: s.now()},
	}
	return nil
}

// Head implements [storage.Store].
func (s *Store) Head(_ context.Context, key string) (storage.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.objects[key]
	if !ok {
		return storage.Object{}, storage.ErrNotFound
	}
	return e.meta, nil
}

// Get implements [storage.Store].
func (s *Store) Get(_ context.Context, key string) ([]byte, storage.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.objects[key]
	if !ok {
		return nil, storage.Object{}, storage.ErrNotFound
	}
	return append([]byte(nil), e.body...), e.meta, nil
}

// List implements [storage.Store].
func (s *Store) List(_ context.Context, prefix string) ([]storage.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.Object
	for k, e := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, e.meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete implements [storage.Store].
func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.objects, k)
	}
	return nil
}

// Ping always succeeds. It lets the store serve as a health check.
func (s *Store) Ping(context.Context) error { return nil }

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

var _ storage.Store = (*Store)(nil)
