package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/auth"
	"github.com/ariefcatur/go-marketplace-orders/internal/logs"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis_rate/v10"
	"github.com/golang-jwt/jwt/v5"
)

const accessTokenCookie = "access_token"

type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Authenticate resolves the caller from a bearer header or the access_token
// cookie and stores the identity in the request context.
func Authenticate(tokens TokenValidator, log logs.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("Authorization")
			if raw == "" {
				if c, err := r.Cookie(accessTokenCookie); err == nil {
					raw = c.Value
				}
			}
			if raw == "" {
				writeProblem(w, r, http.StatusUnauthorized, "Token is not being sent or null")
				return
			}

			claims, err := tokens.ValidateToken(raw)
			if errors.Is(err, jwt.ErrTokenExpired) {
				writeProblem(w, r, http.StatusUnauthorized, "Access token expired")
				return
			}
			if err != nil {
				log.Warn("invalid token", "path", r.URL.Path, "error", err)
				writeProblem(w, r, http.StatusForbidden, "Token no longer valid")
				return
			}

			ctx := auth.WithIdentity(r.Context(), claims.Identity())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger writes one structured line per request.
func RequestLogger(log logs.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			}
			if status >= http.StatusInternalServerError {
				log.Error("http request", args...)
				return
			}
			log.Info("http request", args...)
		})
	}
}

// RateLimit caps requests per caller within period. Callers are keyed by
// user id when authenticated, otherwise by remote address.
type RateLimit struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
	log     logs.Logger
}

func NewRateLimit(limiter *redis_rate.Limiter, perMinute int, prefix string, log logs.Logger) *RateLimit {
	return &RateLimit{limiter: limiter, limit: redis_rate.PerMinute(perMinute), prefix: prefix, log: log}
}

func (rl *RateLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl == nil || rl.limiter == nil || rl.limit.Rate <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := r.RemoteAddr
		if id, ok := auth.IdentityFrom(r.Context()); ok {
			key = id.UserID
		}

		res, err := rl.limiter.Allow(r.Context(), rl.prefix+":"+key, rl.limit)
		if err != nil {
			// fail open
			rl.log.Warn("rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if res.Allowed == 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter/time.Second)+1))
			writeProblem(w, r, http.StatusTooManyRequests, "You have exceeded the request limit.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
