package repository

import (
	"context"
	"time"

	"github.com/AzielCF/az-connect/infrastructure/valkey"
)

// ValkeyDedupStore implements domain.DedupStore with SET NX EX so every
// replica shares the same marks.
type ValkeyDedupStore struct {
	client *valkey.Client
	prefix string
	ttl    time.Duration
}

func NewValkeyDedupStore(client *valkey.Client, ttl time.Duration) *ValkeyDedupStore {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &ValkeyDedupStore{
		client: client,
		prefix: client.Key("dedup") + ":",
		ttl:    ttl,
	}
}

func (s *ValkeyDedupStore) fullKey(instance, externalID string) string {
	return s.prefix + instance + ":" + externalID
}

func (s *ValkeyDedupStore) Seen(ctx context.Context, instance, externalID string) (bool, error) {
	created, err := s.client.SetNX(ctx, s.fullKey(instance, externalID), "1", s.ttl)
	if err != nil {
		return false, err
	}
	return !created, nil
}

func (s *ValkeyDedupStore) Forget(ctx context.Context, instance, externalID string) error {
	return s.client.Del(ctx, s.fullKey(instance, externalID))
}
