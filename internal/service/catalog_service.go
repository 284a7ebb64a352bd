package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/keys"
	"github.com/devrev/storesync/internal/model"
	"github.com/devrev/storesync/internal/mutator"
	"github.com/devrev/storesync/internal/store"
)

// Variant is the storefront projection of a variant record.
type Variant struct {
	Key       string `json:"key" cbor:"key"`
	StoreID   string `json:"store_id" cbor:"store_id"`
	ProductID string `json:"product_id" cbor:"product_id"`
	Handle    string `json:"handle" cbor:"handle"`
	SKU       string `json:"sku,omitempty" cbor:"sku,omitempty"`
	Title     string `json:"title,omitempty" cbor:"title,omitempty"`
	Price     int64  `json:"price" cbor:"price"`
	Currency  string `json:"currency" cbor:"currency"`
	Inventory int64  `json:"inventory,omitempty" cbor:"inventory,omitempty"`
	Version   int64  `json:"version" cbor:"version"`
}

// CatalogService serves read-only storefront lookups through the
// read-through cache.
type CatalogService struct {
	records store.RecordStore
	cache   *ReadThroughService
	ttl     time.Duration
	logger  *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(records store.RecordStore, cache *ReadThroughService, ttl time.Duration, logger *zap.Logger) *CatalogService {
	return &CatalogService{
		records: records,
		cache:   cache,
		ttl:     ttl,
		logger:  logger,
	}
}

// VariantByHandle returns the variant of storeID with the given handle.
func (s *CatalogService) VariantByHandle(ctx context.Context, token model.ScopeToken, storeID, handle string) (*Variant, error) {
	if storeID == "" || handle == "" {
		return nil, errors.InvalidArgument("store id and handle are required", nil)
	}

	return GetOrLoad(ctx, s.cache, token.Namespace(), "variant:"+storeID+":"+handle, s.ttl,
		func(ctx context.Context) (*Variant, error) {
			s.logger.Debug("Loading variant",
				zap.String("space_id", token.SpaceID),
				zap.String("store_id", storeID),
				zap.String("handle", handle))

			variants, err := s.records.ListPrefix(ctx, token, keys.FilterPrefix(model.KindVariant, ""))
			if err != nil {
				return nil, err
			}
			for _, r := range variants {
				if r.Payload["store_id"] == storeID && r.Payload["handle"] == handle {
					return variantFromRecord(r), nil
				}
			}
			return nil, errors.NotFound("variant " + storeID + "/" + handle)
		})
}

// Record returns a live record through the cache.
func (s *CatalogService) Record(ctx context.Context, token model.ScopeToken, key string) (*model.Record, error) {
	return GetOrLoad(ctx, s.cache, token.Namespace(), "record:"+key, s.ttl,
		func(ctx context.Context) (*model.Record, error) {
			return s.records.Get(ctx, token, key)
		})
}

func variantFromRecord(r *model.Record) *Variant {
	args := model.Args(r.Payload)
	str := func(k string) string {
		v, _ := mutator.String(args, k)
		return v
	}
	num := func(k string) int64 {
		n, _, _ := mutator.Int64(args, k)
		return n
	}
	return &Variant{
		Key:       r.Key,
		StoreID:   str("store_id"),
		ProductID: str("product_id"),
		Handle:    str("handle"),
		SKU:       str("sku"),
		Title:     str("title"),
		Price:     num("price"),
		Currency:  str("currency"),
		Inventory: num("inventory"),
		Version:   r.Version,
	}
}
