package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lettertool/internal/models"
)

// Unknown is the identifier used when no forwarding header names the client.
// Every such request shares one counter.
const Unknown = "unknown"

// DefaultPlatformHeader is the hosting platform's forwarded-for header.
const DefaultPlatformHeader = "X-Vercel-Forwarded-For"

// Middleware enforces cfg on every request, keyed by scope and client IP.
// Each protected endpoint gets its own scope so quotas are independent.
func Middleware(l *Limiter, scope string, cfg Config, platformHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientIP(r, platformHeader)
			if scope != "" {
				key = scope + ":" + key
			}

			res := l.Check(r.Context(), key, cfg)

			// Always set rate limit headers
			resetAt := l.Now().Add(time.Duration(res.ResetIn) * time.Second)
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", res.Limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))

			if !res.Success {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", res.ResetIn))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				errorResp := models.NewErrorResponse("Rate limit exceeded", models.ErrorCodeRateLimited)
				errorResp.Details = map[string]string{
					"limit":    fmt.Sprintf("%d", res.Limit),
					"reset_in": fmt.Sprintf("%d", res.ResetIn),
				}
				json.NewEncoder(w).Encode(errorResp)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the caller's identifier from proxy headers, in order:
// first entry of X-Forwarded-For, X-Real-IP, first entry of the platform
// header. Returns Unknown when none is present. Values are not validated.
func ClientIP(r *http.Request, platformHeader string) string {
	if ip := firstToken(r.Header.Get("X-Forwarded-For")); ip != "" {
		return ip
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	if platformHeader == "" {
		platformHeader = DefaultPlatformHeader
	}
	if ip := firstToken(r.Header.Get(platformHeader)); ip != "" {
		return ip
	}

	return Unknown
}

func firstToken(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}
