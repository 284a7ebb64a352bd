package service

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/storesync/internal/codec"
	"github.com/devrev/storesync/internal/metrics"
	"github.com/devrev/storesync/internal/model"
	"github.com/devrev/storesync/internal/store"
)

const namespaceSeparator = "|"

// ReadThroughService is a lazily populated, TTL-bounded cache in front of
// read-only loads. It is never consulted on the write path.
//
// Entries are not invalidated when the underlying record changes: a value
// may be served up to its TTL after a write. Concurrent misses on one key
// all run their loader and the last Set wins.
type ReadThroughService struct {
	cache     store.Cache
	codec     codec.Codec
	cacheType string
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// cacheEntry is what is stored in the cache backend.
type cacheEntry struct {
	Key       string    `json:"key" cbor:"key"`
	Value     []byte    `json:"value" cbor:"value"`
	ExpiresAt time.Time `json:"expires_at" cbor:"expires_at"`
}

// NewReadThroughService creates a new read-through cache service
func NewReadThroughService(
	cache store.Cache,
	c codec.Codec,
	cacheType string,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ReadThroughService {
	return &ReadThroughService{
		cache:     cache,
		codec:     c,
		cacheType: cacheType,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// GetOrLoad returns the cached value of key in namespace ns, or calls loader,
// caches its result for ttl and returns it. Loader errors are returned and
// not cached. Cache backend failures degrade to calling loader.
func GetOrLoad[T any](
	ctx context.Context,
	s *ReadThroughService,
	ns, key string,
	ttl time.Duration,
	loader func(ctx context.Context) (T, error),
) (T, error) {
	fullKey := ns + namespaceSeparator + key

	var value T
	if ok := s.lookup(ctx, fullKey, &value); ok {
		s.metrics.RecordCacheHit(s.cacheType)
		return value, nil
	}
	s.metrics.RecordCacheMiss(s.cacheType)

	value, err := loader(ctx)
	if err != nil {
		return value, err
	}

	s.store(ctx, fullKey, value, ttl)
	return value, nil
}

func (s *ReadThroughService) lookup(ctx context.Context, fullKey string, out any) bool {
	data, err := s.cache.Get(ctx, fullKey)
	if err != nil {
		if !stderrors.Is(err, store.ErrNotFound) {
			s.metrics.RecordCacheError(s.cacheType, "get")
			s.logger.Warn("Cache read failed", zap.String("key", fullKey), zap.Error(err))
		}
		return false
	}

	var entry cacheEntry
	if err := s.codec.Unmarshal(data, &entry); err != nil {
		s.metrics.RecordCacheError(s.cacheType, "decode")
		s.logger.Warn("Discarding undecodable cache entry", zap.String("key", fullKey), zap.Error(err))
		return false
	}
	if entry.Key != fullKey || !s.now().Before(entry.ExpiresAt) {
		return false
	}
	if err := s.codec.Unmarshal(entry.Value, out); err != nil {
		s.metrics.RecordCacheError(s.cacheType, "decode")
		s.logger.Warn("Discarding undecodable cache value", zap.String("key", fullKey), zap.Error(err))
		return false
	}
	return true
}

func (s *ReadThroughService) store(ctx context.Context, fullKey string, value any, ttl time.Duration) {
	raw, err := s.codec.Marshal(value)
	if err != nil {
		s.metrics.RecordCacheError(s.cacheType, "encode")
		s.logger.Warn("Failed to encode cache value", zap.String("key", fullKey), zap.Error(err))
		return
	}
	data, err := s.codec.Marshal(cacheEntry{Key: fullKey, Value: raw, ExpiresAt: s.now().Add(ttl)})
	if err != nil {
		s.metrics.RecordCacheError(s.cacheType, "encode")
		s.logger.Warn("Failed to encode cache entry", zap.String("key", fullKey), zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, fullKey, data, ttl); err != nil {
		s.metrics.RecordCacheError(s.cacheType, "set")
		s.logger.Warn("Failed to populate cache", zap.String("key", fullKey), zap.Error(err))
	}
}

// FlushNamespace drops every entry cached under ns.
func (s *ReadThroughService) FlushNamespace(ctx context.Context, ns string) error {
	n, err := s.cache.DeletePrefix(ctx, ns+namespaceSeparator)
	if err != nil {
		s.metrics.RecordCacheError(s.cacheType, "flush")
		return err
	}
	s.logger.Debug("Cache namespace flushed", zap.String("namespace", ns), zap.Int("entries", n))
	return nil
}

// OnRebind flushes the namespace of a scope that a client group left.
func (s *ReadThroughService) OnRebind(old, current model.ScopeToken) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.FlushNamespace(ctx, old.Namespace()); err != nil {
		s.logger.Warn("Failed to flush cache after rebind",
			zap.String("client_group_id", old.ClientGroupID),
			zap.String("namespace", old.Namespace()),
			zap.Error(err))
	}
}
