package webhook

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/transfa/settlement-service/internal/domain"
)

// Decrypter opens configured secret ciphertexts. *crypto.Encryptor satisfies it.
type Decrypter interface {
	Decrypt(ciphertext string) ([]byte, error)
}

// SecretSource resolves the signing secret for a vendor.
type SecretSource interface {
	Secret(ctx context.Context, vendor string) ([]byte, error)
}

type cachedSecret struct {
	value     []byte
	expiresAt time.Time
}

// SecretCache holds decrypted vendor secrets for a bounded time. It is owned by
// whoever constructs it and shared explicitly with the verifiers that need it.
type SecretCache struct {
	mu         sync.Mutex
	configured map[string]string
	decrypter  Decrypter
	ttl        time.Duration
	entries    map[string]cachedSecret
	now        func() time.Time
}

// NewSecretCache builds a cache over the configured vendor secrets. When decrypter is
// nil the configured values are used as plaintext.
func NewSecretCache(configured map[string]string, decrypter Decrypter, ttl time.Duration) *SecretCache {
	copied := make(map[string]string, len(configured))
	for vendor, value := range configured {
		copied[strings.ToLower(vendor)] = value
	}
	return &SecretCache{
		configured: copied,
		decrypter:  decrypter,
		ttl:        ttl,
		entries:    make(map[string]cachedSecret),
		now:        time.Now,
	}
}

func (c *SecretCache) Secret(ctx context.Context, vendor string) ([]byte, error) {
	vendor = strings.ToLower(vendor)

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[vendor]; ok && c.now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	raw := strings.TrimSpace(c.configured[vendor])
	if raw == "" {
		return nil, domain.NewError(domain.KindConfiguration, "no webhook secret configured for vendor %q", vendor)
	}

	value := []byte(raw)
	if c.decrypter != nil {
		opened, err := c.decrypter.Decrypt(raw)
		if err != nil {
			return nil, domain.NewError(domain.KindConfiguration, "webhook secret for vendor %q could not be decrypted: %v", vendor, err)
		}
		value = opened
	}

	c.entries[vendor] = cachedSecret{value: value, expiresAt: c.now().Add(c.ttl)}
	return value, nil
}

// Reload swaps in a fresh set of configured secrets and drops the cached copy of
// every vendor whose value changed or disappeared. It returns those vendors.
func (c *SecretCache) Reload(configured map[string]string) []string {
	next := make(map[string]string, len(configured))
	for vendor, value := range configured {
		next[strings.ToLower(vendor)] = value
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var changed []string
	for vendor, value := range next {
		if old, ok := c.configured[vendor]; !ok || old != value {
			changed = append(changed, vendor)
		}
	}
	for vendor := range c.configured {
		if _, ok := next[vendor]; !ok {
			changed = append(changed, vendor)
		}
	}
	for _, vendor := range changed {
		delete(c.entries, vendor)
	}
	c.configured = next
	sort.Strings(changed)
	return changed
}
