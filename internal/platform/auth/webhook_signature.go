package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const mercadoPagoSignatureHeader = "X-Signature"

var (
	// ErrSignatureMissing is returned when the x-signature header is absent or malformed.
	ErrSignatureMissing = errors.New("auth: webhook signature missing")
	// ErrSignatureMismatch is returned when the computed digest differs.
	ErrSignatureMismatch = errors.New("auth: webhook signature mismatch")
	// ErrSignatureExpired is returned when ts is outside the allowed window.
	ErrSignatureExpired = errors.New("auth: webhook signature outside allowed window")
)

// MercadoPagoSignatureValidator checks the x-signature header Mercado Pago
// attaches to webhook notifications. Replays within the window are accepted
// because the provider legitimately retries deliveries.
type MercadoPagoSignatureValidator struct {
	secret    []byte
	clockSkew time.Duration
	now       func() time.Time
}

// NewMercadoPagoSignatureValidator builds a validator. An empty secret disables verification.
func NewMercadoPagoSignatureValidator(secret string, clockSkew time.Duration, now func() time.Time) *MercadoPagoSignatureValidator {
	if clockSkew <= 0 {
		clockSkew = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &MercadoPagoSignatureValidator{secret: []byte(secret), clockSkew: clockSkew, now: now}
}

// Enabled reports whether a secret is configured.
func (v *MercadoPagoSignatureValidator) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Verify validates the signature for the notification's resource id.
func (v *MercadoPagoSignatureValidator) Verify(r *http.Request, dataID string) error {
	if !v.Enabled() {
		return nil
	}
	ts, v1 := parseSignatureHeader(r.Header.Get(mercadoPagoSignatureHeader))
	if ts == "" || v1 == "" {
		return ErrSignatureMissing
	}

	stamp, err := parseEpoch(ts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMissing, err)
	}
	if skew := v.now().Sub(stamp); skew > v.clockSkew || skew < -v.clockSkew {
		return ErrSignatureExpired
	}

	expected := computeHMAC(v.secret, []byte(signatureManifest(dataID, r.Header.Get("X-Request-Id"), ts)))
	given, err := hex.DecodeString(v1)
	if err != nil || !hmac.Equal(given, expected) {
		return ErrSignatureMismatch
	}
	return nil
}

// signatureManifest builds "id:<id>;request-id:<rid>;ts:<ts>;" omitting absent parts.
func signatureManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID = strings.TrimSpace(dataID); dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID = strings.TrimSpace(requestID); requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}

func parseSignatureHeader(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	return ts, v1
}

// parseEpoch accepts seconds or milliseconds.
func parseEpoch(value string) (time.Time, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ts %q", value)
	}
	if n > 1_000_000_000_000 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}

// SignMercadoPago produces an x-signature header value; used by tests and local tooling.
func SignMercadoPago(secret, dataID, requestID string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := computeHMAC([]byte(secret), []byte(signatureManifest(dataID, requestID, ts)))
	return "ts=" + ts + ",v1=" + hex.EncodeToString(mac)
}

func computeHMAC(secret []byte, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}
