package storage

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
)

// Signer signs Cloudinary API parameters with the account secret.
type Signer struct {
	apiKey    string
	apiSecret string
}

// NewSigner returns a signer for the given credentials.
func NewSigner(apiKey, apiSecret string) (*Signer, error) {
	apiKey = strings.TrimSpace(apiKey)
	apiSecret = strings.TrimSpace(apiSecret)
	if apiKey == "" || apiSecret == "" {
		return nil, errors.New("storage: cloudinary api key and secret are required")
	}
	return &Signer{apiKey: apiKey, apiSecret: apiSecret}, nil
}

// APIKey is sent alongside every signed request.
func (s *Signer) APIKey() string { return s.apiKey }

// Sign returns sha1 over the params sorted by name, joined as k=v with '&',
// followed by the secret. Empty values are skipped.
func (s *Signer) Sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key, value := range params {
		if value == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(params[key])
	}
	b.WriteString(s.apiSecret)

	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
