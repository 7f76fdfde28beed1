package cachekeys

import (
	"fmt"

	"gitlab.com/arvasys/api/eam-gateway-service/internal/domain"
	"gitlab.com/arvasys/api/eam-gateway-service/pkg/crypto"
)

// FileName derives the on-disk file name for a cache key. Identity and
// qualifier are hashed separately so path characters can never escape the
// cache directory, and so every file of one (identity, namespace) pair shares
// a prefix that DeleteNamespace can match.
func FileName(key domain.CacheKey) string {
	return fmt.Sprintf("%s.json", keyStem(key))
}

// NamespacePrefix is the file-name prefix shared by every entry of
// (identity, namespace); used when wiping a namespace on identity switch.
func NamespacePrefix(identity, namespace string) string {
	return fmt.Sprintf("%s-%s", namespace, crypto.Sha256Hex(identity))
}

// RedisKey derives the Redis key for a cache entry when the persistent tier
// is backed by Redis instead of files.
func RedisKey(key domain.CacheKey) string {
	return fmt.Sprintf("eamgw:cache:%s", keyStem(key))
}

// RedisNamespacePattern is the MATCH pattern covering every Redis entry of
// (identity, namespace).
func RedisNamespacePattern(identity, namespace string) string {
	return fmt.Sprintf("eamgw:cache:%s-*", NamespacePrefix(identity, namespace))
}

// CredentialFileName derives the file name a credential is persisted under.
func CredentialFileName(identity string) string {
	return fmt.Sprintf("credential-%s.json", crypto.Sha256Hex(identity))
}

func keyStem(key domain.CacheKey) string {
	return fmt.Sprintf("%s-%s", NamespacePrefix(key.Identity, key.Namespace), crypto.Sha256Hex(key.Qualifier))
}
