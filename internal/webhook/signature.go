/**
 * @description
 * HMAC-SHA256 request authentication shared by vendor webhooks and the signed
 * internal API. Each vendor concatenates a different set of request parts before
 * signing; the Recipe captures which.
 *
 * @notes
 * - Signatures are lowercase hex and compared in constant time.
 * - The timestamp must be within the freshness window in either direction.
 */
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/transfa/settlement-service/internal/domain"
)

// DefaultFreshnessWindow bounds clock skew between signer and verifier.
const DefaultFreshnessWindow = 5 * time.Minute

// Recipe names the canonical string a signer feeds into the HMAC.
type Recipe string

const (
	// RecipeTimestampDotBody signs ts + "." + body.
	RecipeTimestampDotBody Recipe = "timestamp.body"
	// RecipeTimestampKeyMethodPathBody signs ts + apiKey + method + path + body.
	RecipeTimestampKeyMethodPathBody Recipe = "timestamp+key+method+path+body"
	// RecipeTimestampMethodPathBody signs ts + method + path + body.
	RecipeTimestampMethodPathBody Recipe = "timestamp+method+path+body"
)

// Canonical builds the bytes signed under recipe.
func Canonical(recipe Recipe, timestamp, apiKey, method, path string, body []byte) []byte {
	var b strings.Builder
	b.WriteString(timestamp)
	switch recipe {
	case RecipeTimestampDotBody:
		b.WriteString(".")
	case RecipeTimestampKeyMethodPathBody:
		b.WriteString(apiKey)
		b.WriteString(strings.ToUpper(method))
		b.WriteString(path)
	case RecipeTimestampMethodPathBody:
		b.WriteString(strings.ToUpper(method))
		b.WriteString(path)
	}
	b.Write(body)
	return []byte(b.String())
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Scheme describes where a vendor puts its signature parts.
type Scheme struct {
	Recipe          Recipe
	SignatureHeader string
	// TimestampHeader may be empty when the signature header carries both parts
	// in the "t=<ts>,v1=<hex>" form.
	TimestampHeader string
	APIKeyHeader    string
}

// Apply signs an outgoing request in place. It is used by internal callers and tests.
func (s Scheme) Apply(r *http.Request, secret []byte, apiKey string, body []byte, at time.Time) {
	ts := strconv.FormatInt(at.Unix(), 10)
	sig := Sign(secret, Canonical(s.Recipe, ts, apiKey, r.Method, r.URL.Path, body))
	if s.APIKeyHeader != "" {
		r.Header.Set(s.APIKeyHeader, apiKey)
	}
	if s.TimestampHeader == "" {
		r.Header.Set(s.SignatureHeader, "t="+ts+",v1="+sig)
		return
	}
	r.Header.Set(s.TimestampHeader, ts)
	r.Header.Set(s.SignatureHeader, sig)
}

// Verifier authenticates requests for one vendor.
type Verifier struct {
	vendor  string
	scheme  Scheme
	secrets SecretSource
	window  time.Duration
	now     func() time.Time
}

func NewVerifier(vendor string, scheme Scheme, secrets SecretSource, window time.Duration) *Verifier {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	return &Verifier{
		vendor:  vendor,
		scheme:  scheme,
		secrets: secrets,
		window:  window,
		now:     time.Now,
	}
}

// Verify checks the request's signature over body, which the caller has already read.
func (v *Verifier) Verify(ctx context.Context, r *http.Request, body []byte) error {
	rawTS, signature := v.headerParts(r)
	if rawTS == "" || signature == "" {
		return domain.ErrMissingSignature
	}

	ts, ok := parseTimestamp(rawTS)
	if !ok {
		return domain.ErrMissingSignature
	}
	skew := v.now().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.window {
		return domain.ErrStaleTimestamp
	}

	secret, err := v.secrets.Secret(ctx, v.vendor)
	if err != nil {
		return err
	}

	apiKey := ""
	if v.scheme.APIKeyHeader != "" {
		apiKey = r.Header.Get(v.scheme.APIKeyHeader)
	}
	expected := Sign(secret, Canonical(v.scheme.Recipe, rawTS, apiKey, r.Method, r.URL.Path, body))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (v *Verifier) headerParts(r *http.Request) (timestamp, signature string) {
	raw := strings.TrimSpace(r.Header.Get(v.scheme.SignatureHeader))
	if v.scheme.TimestampHeader != "" {
		return strings.TrimSpace(r.Header.Get(v.scheme.TimestampHeader)), strings.TrimPrefix(raw, "sha256=")
	}
	for _, part := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signature = value
		}
	}
	return timestamp, signature
}

func parseTimestamp(raw string) (time.Time, bool) {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		// Some vendors send milliseconds.
		if n > 1e12 {
			return time.UnixMilli(n), true
		}
		return time.Unix(n, 0), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}
