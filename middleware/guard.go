package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/stepup"
	"github.com/MrEthical07/stepup/risk"
)

const (
	// TokenHeader carries the step-up token. Authorization: Bearer is used when
	// it is absent.
	TokenHeader = "X-Step-Up-Token"
	// RequiredHeader names the level a rejected request needs.
	RequiredHeader = "X-Step-Up-Required"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims RequireStepUp stored on the request context.
func ClaimsFromContext(ctx context.Context) (*stepup.StepUpClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*stepup.StepUpClaims)
	return claims, ok
}

// RequireStepUp admits requests whose step-up token asserts minLevel or
// stricter. Missing or invalid tokens get 401; a valid token at a lower level
// gets 403.
func RequireStepUp(engine *stepup.Engine, minLevel risk.Level) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(RequiredHeader, minLevel.String())
			if engine == nil {
				http.Error(w, "step-up verification required", http.StatusUnauthorized)
				return
			}

			token, ok := stepUpToken(r)
			if !ok {
				http.Error(w, "step-up verification required", http.StatusUnauthorized)
				return
			}

			claims, err := engine.VerifyStepUpToken(r.Context(), token, minLevel)
			if err != nil {
				if errors.Is(err, stepup.ErrTokenLevel) {
					http.Error(w, "stronger step-up verification required", http.StatusForbidden)
					return
				}
				http.Error(w, "step-up verification required", http.StatusUnauthorized)
				return
			}

			w.Header().Del(RequiredHeader)
			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireMedium is RequireStepUp at MEDIUM.
func RequireMedium(engine *stepup.Engine) func(http.Handler) http.Handler {
	return RequireStepUp(engine, risk.LevelMedium)
}

// RequireStrong is RequireStepUp at STRONG.
func RequireStrong(engine *stepup.Engine) func(http.Handler) http.Handler {
	return RequireStepUp(engine, risk.LevelStrong)
}

// RequestContext attaches the remote IP and User-Agent to the request context.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := stepup.WithClientIP(r.Context(), ClientIP(r))
		if ua := r.UserAgent(); ua != "" {
			ctx = stepup.WithUserAgent(ctx, ua)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the host part of RemoteAddr. Forwarding headers are not
// trusted here; put a proxy-aware handler in front when needed.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func stepUpToken(r *http.Request) (string, bool) {
	if token := strings.TrimSpace(r.Header.Get(TokenHeader)); token != "" {
		return token, true
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
