package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Oracle response headers.
const (
	HeaderOracleTimestamp = "X-Oracle-Timestamp"
	HeaderOracleSignature = "X-Oracle-Signature"
)

// SharedSecret signs and verifies oracle payloads with HMAC-SHA256 over
// timestamp + "." + body, hex encoded.
type SharedSecret struct {
	secret []byte
}

// NewSharedSecret wraps secret. An empty secret disables verification.
func NewSharedSecret(secret string) *SharedSecret {
	return &SharedSecret{secret: []byte(secret)}
}

// Enabled reports whether a secret is configured.
func (s *SharedSecret) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Sign returns the hex signature of body at unixTS.
func (s *SharedSecret) Sign(unixTS int64, body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strconv.FormatInt(unixTS, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks sig against body at unixTS in constant time.
func (s *SharedSecret) Verify(unixTS int64, body []byte, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	got, _ := hex.DecodeString(s.Sign(unixTS, body))
	return hmac.Equal(got, want)
}

// String keeps the secret out of logs.
func (s *SharedSecret) String() string {
	if !s.Enabled() {
		return "SharedSecret{disabled}"
	}
	return "SharedSecret{****}"
}
