package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"tradebalance/internal/cache"
	"tradebalance/internal/model"
)

type entry struct {
	data    []byte
	modTime time.Time
}

// Store is an in-process cache.Store. Entries never expire unless a TTL is
// configured; freshness is still decided from ModTime.
type Store struct {
	items *gocache.Cache
	ttl   time.Duration
	now   func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{ttl: gocache.NoExpiration, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	cleanup := 10 * time.Minute
	if s.ttl == gocache.NoExpiration {
		cleanup = 0
	}
	s.items = gocache.New(s.ttl, cleanup)
	return s
}

func (s *Store) Get(ctx context.Context, key cache.Key) (cache.Artifact, error) {
	e, err := s.lookup(ctx, key)
	if err != nil {
		return cache.Artifact{}, err
	}
	data := append([]byte(nil), e.data...)
	return cache.Artifact{Key: key, Data: data, Size: int64(len(data)), ModTime: e.modTime}, nil
}

func (s *Store) Put(ctx context.Context, key cache.Key, data []byte) error {
	return s.PutAt(ctx, key, data, s.now())
}

// PutAt stores data with an explicit modification time.
func (s *Store) PutAt(ctx context.Context, key cache.Key, data []byte, modTime time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := key.Validate(); err != nil {
		return err
	}
	s.items.Set(key.Path(), entry{data: append([]byte(nil), data...), modTime: modTime}, gocache.DefaultExpiration)
	return nil
}

func (s *Store) Stat(ctx context.Context, key cache.Key) (cache.Info, error) {
	e, err := s.lookup(ctx, key)
	if err != nil {
		return cache.Info{}, err
	}
	return cache.Info{Key: key, Size: int64(len(e.data)), ModTime: e.modTime}, nil
}

func (s *Store) Delete(ctx context.Context, key cache.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := key.Validate(); err != nil {
		return err
	}
	s.items.Delete(key.Path())
	return nil
}

func (s *Store) List(ctx context.Context, kind model.DataKind) ([]cache.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := cache.Dir(kind) + "/"
	var keys []cache.Key
	for p := range s.items.Items() {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		if key, ok := cache.ParsePath(p); ok {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Path() < keys[j].Path() })
	return keys, nil
}

func (s *Store) Purge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.items.Flush()
	return nil
}

func (s *Store) lookup(ctx context.Context, key cache.Key) (entry, error) {
	if err := ctx.Err(); err != nil {
		return entry{}, err
	}
	if err := key.Validate(); err != nil {
		return entry{}, err
	}
	v, ok := s.items.Get(key.Path())
	if !ok {
		return entry{}, fmt.Errorf("%w: %s", cache.ErrNotFound, key)
	}
	e, ok := v.(entry)
	if !ok {
		return entry{}, fmt.Errorf("%w: %s: unexpected entry %T", cache.ErrNotFound, key, v)
	}
	return e, nil
}
