package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Custody API authentication headers.
const (
	HeaderAPIKey    = "X-API-KEY"
	HeaderTimestamp = "X-API-TIMESTAMP"
	HeaderSignature = "X-API-SIGNATURE"
)

// HMACAuth signs custody API requests.
type HMACAuth struct {
	Key    string
	Secret string
}

// Headers signs method+path+body at the current time.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt signs timestamp+method+path+body with HMAC-SHA256 (hex) at the
// given Unix time.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderAPIKey:    h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: Sign(h.Secret, ts+method+path+body),
	}
}

// Verify recomputes the signature for the given headers' timestamp.
func (h *HMACAuth) Verify(method, path, body, ts, sig string) bool {
	want := Sign(h.Secret, ts+method+path+body)
	return hmac.Equal([]byte(want), []byte(sig))
}

// Sign returns hex(HMAC-SHA256(secret, message)).
func Sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String redacts the credentials for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
