package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/weathercover/internal/crypto"
)

// Wallet identity headers.
const (
	HeaderWalletAddress   = "X-Wallet-Address"
	HeaderWalletSignature = "X-Wallet-Signature"
	HeaderWalletTimestamp = "X-Wallet-Timestamp"
)

// Auth modes.
const (
	AuthSignature = "signature"
	AuthHeader    = "header"
)

type walletKey struct{}

// WithWallet returns ctx carrying the caller's wallet address.
func WithWallet(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, walletKey{}, addr)
}

// WalletFrom returns the authenticated wallet, or "" for anonymous callers.
func WalletFrom(ctx context.Context) string {
	addr, _ := ctx.Value(walletKey{}).(string)
	return addr
}

// WalletAuth resolves the caller's wallet. Requests without identity headers
// pass through anonymously; endpoints that need a caller reject them later.
//
// In signature mode the client signs crypto.AuthMessage(address, timestamp)
// with personal_sign and the timestamp must be within maxAge of now. Header
// mode trusts X-Wallet-Address and is meant for local development.
func WalletAuth(mode string, maxAge time.Duration, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := strings.TrimSpace(r.Header.Get(HeaderWalletAddress))
			if addr == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !crypto.IsAddress(addr) {
				writeJSONError(w, http.StatusUnauthorized, "invalid wallet address")
				return
			}

			if mode != AuthHeader {
				ts, err := strconv.ParseInt(r.Header.Get(HeaderWalletTimestamp), 10, 64)
				if err != nil {
					writeJSONError(w, http.StatusUnauthorized, "missing or invalid wallet timestamp")
					return
				}
				if age := now().Sub(time.Unix(ts, 0)); age > maxAge || age < -maxAge {
					writeJSONError(w, http.StatusUnauthorized, "wallet signature expired")
					return
				}
				signer, err := crypto.RecoverAddress(crypto.AuthMessage(addr, ts), r.Header.Get(HeaderWalletSignature))
				if err != nil || !strings.EqualFold(signer, addr) {
					writeJSONError(w, http.StatusUnauthorized, "wallet signature does not match address")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithWallet(r.Context(), addr)))
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
