package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"ticket-ledger/internal/models"
)

type contextKey string

const principalKey contextKey = "principal"

// Middleware authenticates requests and injects the resolved Principal into
// the request context. With an OIDC issuer configured, tokens are verified
// against the provider; otherwise they are HMAC-signed local JWTs. Either
// way the subject must resolve in the directory.
func Middleware(directory Directory, oidcIssuer, jwtSecret string) func(http.Handler) http.Handler {
	var verifier *oidc.IDTokenVerifier
	if oidcIssuer != "" {
		provider, err := oidc.NewProvider(context.Background(), oidcIssuer)
		if err != nil {
			panic(fmt.Sprintf("Failed to create OIDC provider: %v", err))
		}
		verifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := extractBearer(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			subject, err := extractSubject(r.Context(), verifier, rawToken, jwtSecret)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid token: %v", err), http.StatusUnauthorized)
				return
			}

			principal, err := directory.Resolve(r.Context(), subject)
			if err != nil {
				http.Error(w, "unknown principal", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, *principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearer(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	return parts[1], nil
}

func extractSubject(ctx context.Context, verifier *oidc.IDTokenVerifier, rawToken, jwtSecret string) (string, error) {
	if verifier != nil {
		idToken, err := verifier.Verify(ctx, rawToken)
		if err != nil {
			return "", err
		}
		var claims struct {
			Sub string `json:"sub"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return "", err
		}
		return claims.Sub, nil
	}

	token, err := jwt.Parse(rawToken, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return "", err
	}
	return token.Claims.GetSubject()
}

// SignLocalToken mints an HMAC JWT for a principal, for deployments without
// an external identity provider.
func SignLocalToken(principalID, jwtSecret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": principalID})
	return token.SignedString([]byte(jwtSecret))
}

// FromContext returns the authenticated principal, if any.
func FromContext(ctx context.Context) (models.Principal, bool) {
	principal, ok := ctx.Value(principalKey).(models.Principal)
	return principal, ok
}
