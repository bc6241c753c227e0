package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/weathercover/internal/cache/memory"
	"github.com/alanyoungcy/weathercover/internal/crypto"
)

// echoWallet writes the resolved wallet as the body.
var echoWallet = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = io.WriteString(w, WalletFrom(r.Context()))
})

func signedRequest(t *testing.T, at time.Time) (*http.Request, string) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.AddressOf(key)
	sig, err := crypto.SignMessage(key, crypto.AuthMessage(addr, at.Unix()))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/api/requests", nil)
	r.Header.Set(HeaderWalletAddress, addr)
	r.Header.Set(HeaderWalletSignature, sig)
	r.Header.Set(HeaderWalletTimestamp, strconv.FormatInt(at.Unix(), 10))
	return r, addr
}

func TestWalletAuthSignature(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	h := WalletAuth(AuthSignature, 5*time.Minute, func() time.Time { return now })(echoWallet)

	r, addr := signedRequest(t, now.Add(-time.Minute))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, addr, rec.Body.String())

	stale, _ := signedRequest(t, now.Add(-time.Hour))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, stale)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, _ := signedRequest(t, now)
	forged.Header.Set(HeaderWalletAddress, "0x52908400098527886E0F7030069857D2E4169EE7")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/requests", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String(), "no headers means anonymous")
}

func TestWalletAuthHeaderMode(t *testing.T) {
	h := WalletAuth(AuthHeader, time.Minute, nil)(echoWallet)

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set(HeaderWalletAddress, "0x52908400098527886E0F7030069857D2E4169EE7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, "0x52908400098527886E0F7030069857D2E4169EE7", rec.Body.String())

	r.Header.Set(HeaderWalletAddress, "alice")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimitMutationsOnly(t *testing.T) {
	limiter := cachemem.NewRateLimiter()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RateLimit(limiter, 2, time.Minute, logger)(echoWallet)

	do := func(method, ip string) int {
		r := httptest.NewRequest(method, "/api/requests", nil)
		r.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do(http.MethodPost, "10.0.0.1"))
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, do(http.MethodPost, "10.0.0.1"))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "10.0.0.1"))
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "10.0.0.2"))
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.example"})(echoWallet)

	r := httptest.NewRequest(http.MethodOptions, "/api/requests", nil)
	r.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), HeaderWalletSignature)

	r = httptest.NewRequest(http.MethodGet, "/api/requests", nil)
	r.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
