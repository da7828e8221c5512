package redis

import (
	"fmt"
	"strings"
)

const (
	purgeQueuePrefix        = "purge:queue:"
	purgeInvalidationPrefix = "purge:inv:"
)

// KeyGenerator builds the Redis keys of the purge queue
type KeyGenerator struct{}

// NewKeyGenerator creates a new KeyGenerator instance
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{}
}

// PurgeQueueKey returns the ZSET of pending invalidation ids for a type,
// scored by the unix time they become due.
// Format: purge:queue:{type}
func (kg *KeyGenerator) PurgeQueueKey(invalidationType string) string {
	return purgeQueuePrefix + invalidationType
}

// InvalidationKey returns the hash holding one invalidation record.
// Format: purge:inv:{id}
func (kg *KeyGenerator) InvalidationKey(id string) string {
	return purgeInvalidationPrefix + id
}

// ParseInvalidationKey extracts the invalidation id from an InvalidationKey
func (kg *KeyGenerator) ParseInvalidationKey(key string) (string, error) {
	id, ok := strings.CutPrefix(key, purgeInvalidationPrefix)
	if !ok || id == "" {
		return "", fmt.Errorf("invalid invalidation key format: %s", key)
	}
	return id, nil
}
