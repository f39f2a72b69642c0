package webhook

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/settlement-service/pkg/crypto"
)

type countingDecrypter struct {
	inner *crypto.Encryptor
	calls int
}

func (d *countingDecrypter) Decrypt(ciphertext string) ([]byte, error) {
	d.calls++
	return d.inner.Decrypt(ciphertext)
}

func TestSecretCache_DecryptsOnceWithinTTL(t *testing.T) {
	enc, err := crypto.NewEncryptor(strings.Repeat("s", 32))
	require.NoError(t, err)
	sealed, err := enc.Encrypt([]byte("bank-secret"))
	require.NoError(t, err)

	dec := &countingDecrypter{inner: enc}
	cache := NewSecretCache(map[string]string{"BANK": sealed}, dec, time.Minute)
	now := fixedNow
	cache.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		secret, err := cache.Secret(context.Background(), "bank")
		require.NoError(t, err)
		assert.Equal(t, "bank-secret", string(secret))
	}
	assert.Equal(t, 1, dec.calls)

	now = now.Add(2 * time.Minute)
	_, err = cache.Secret(context.Background(), "bank")
	require.NoError(t, err)
	assert.Equal(t, 2, dec.calls)

	assert.Empty(t, cache.Reload(map[string]string{"bank": sealed}))
	_, err = cache.Secret(context.Background(), "bank")
	require.NoError(t, err)
	assert.Equal(t, 2, dec.calls)
}

func TestSecretCache_ReloadReplacesChangedValues(t *testing.T) {
	cache := NewSecretCache(map[string]string{"bank": "old", "account": "same", "collection": "gone"}, nil, time.Hour)
	for _, vendor := range []string{"bank", "account", "collection"} {
		_, err := cache.Secret(context.Background(), vendor)
		require.NoError(t, err)
	}

	changed := cache.Reload(map[string]string{"BANK": "new", "account": "same"})
	assert.Equal(t, []string{"bank", "collection"}, changed)

	secret, err := cache.Secret(context.Background(), "bank")
	require.NoError(t, err)
	assert.Equal(t, "new", string(secret))

	secret, err = cache.Secret(context.Background(), "account")
	require.NoError(t, err)
	assert.Equal(t, "same", string(secret))

	_, err = cache.Secret(context.Background(), "collection")
	assert.Error(t, err)
}

func TestSecretCache_UndecryptableSecretFails(t *testing.T) {
	enc, err := crypto.NewEncryptor(strings.Repeat("s", 32))
	require.NoError(t, err)
	cache := NewSecretCache(map[string]string{"bank": "plaintext-not-sealed"}, enc, time.Minute)

	_, err = cache.Secret(context.Background(), "bank")
	assert.Error(t, err)
}
