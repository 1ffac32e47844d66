package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/nopego-checkout/internal/domain/auth"
)

// APIKeyHeader carries the admin API key.
const APIKeyHeader = "X-API-Key"

type apiKeyCtxKey struct{}

// APIKeyFromContext returns the key that authenticated the request.
func APIKeyFromContext(ctx context.Context) (*auth.APIKeyInfo, bool) {
	info, ok := ctx.Value(apiKeyCtxKey{}).(*auth.APIKeyInfo)
	return info, ok
}

// RequireAPIKey authenticates requests by the HMAC of the X-API-Key header
// and rejects keys that lack scope.
func RequireAPIKey(repo auth.Repository, pepper []byte, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
			if key == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			hash := auth.HashKey(pepper, key)
			info, err := repo.FindByHash(r.Context(), hash)
			if err != nil {
				if !errors.Is(err, auth.ErrKeyNotFound) {
					zctx.From(r.Context()).Error("API key lookup failed", zap.Error(err))
				}
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if subtle.ConstantTimeCompare([]byte(hash), []byte(info.KeyHash)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !info.HasScope(scope) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyCtxKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
