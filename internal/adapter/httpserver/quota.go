package httpserver

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/httprate"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	"github.com/fairyhunter13/ai-gen-gateway/internal/service/ratelimiter"
)

// quotaSubject keys the generation quota by the caller's own Pollinations
// key when one is sent, and by client IP otherwise. Keys are hashed so they
// never reach Redis in clear text.
func quotaSubject(r *http.Request) string {
	if key := byopKey(r); key != "" {
		sum := sha256.Sum256([]byte(key))
		return "key:" + hex.EncodeToString(sum[:8])
	}
	ip, err := httprate.KeyByRealIP(r)
	if err != nil || ip == "" {
		ip = r.RemoteAddr
	}
	return "ip:" + ip
}

// GenerationQuota charges one token per generation request. A nil limiter
// disables the quota, and limiter errors let the request through.
func GenerationQuota(l ratelimiter.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dec, err := l.Allow(r.Context(), quotaSubject(r), 1)
			if err != nil {
				LoggerFrom(r).Warn("generation quota check failed, allowing request", slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}
			if dec.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(dec.Limit, 10))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(dec.Remaining, 10))
			}
			if !dec.Allowed {
				secs := int(math.Ceil(dec.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				observability.RecordQuotaRejected(routePattern(r))
				writeError(w, r, fmt.Errorf("%w: Generation quota exceeded. Try again in %ds.", domain.ErrRateLimited, secs), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
