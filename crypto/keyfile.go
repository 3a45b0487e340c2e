package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

const (
	cacheKeyPEMType = "ROOMCHAT CACHE KEY"
	// CacheKeySize is the length of the at-rest master key.
	CacheKeySize = 32
)

// EnsureCacheKey loads the cache master key from disk, generating it on first run.
func EnsureCacheKey(path string) ([]byte, error) {
	key, err := LoadCacheKey(path)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	key, err = GenerateCacheKey()
	if err != nil {
		return nil, err
	}
	if err := SaveCacheKey(path, key); err != nil {
		return nil, err
	}

	return key, nil
}

// GenerateCacheKey creates a new random master key.
func GenerateCacheKey() ([]byte, error) {
	key := make([]byte, CacheKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate cache key: %w", err)
	}
	return key, nil
}

// LoadCacheKey reads the master key from a PEM file.
func LoadCacheKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cache key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode cache key PEM: no PEM block")
	}
	if block.Type != cacheKeyPEMType {
		return nil, fmt.Errorf("decode cache key PEM: unexpected type %q", block.Type)
	}
	if len(block.Bytes) != CacheKeySize {
		return nil, fmt.Errorf("decode cache key PEM: invalid key size %d", len(block.Bytes))
	}

	return block.Bytes, nil
}

// SaveCacheKey writes the master key PEM file with 0600 permissions.
func SaveCacheKey(path string, key []byte) error {
	if len(key) != CacheKeySize {
		return fmt.Errorf("save cache key: invalid key size %d", len(key))
	}

	block := &pem.Block{
		Type:  cacheKeyPEMType,
		Bytes: key,
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("write cache key: %w", err)
	}

	return nil
}

// KeyFingerprint returns the truncated SHA-256 hex fingerprint of a key.
func KeyFingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:8])
}

// FormatFingerprint returns fingerprint text grouped in chunks of 4 uppercase chars.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}

		end := i + 4
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
	}

	return b.String()
}
