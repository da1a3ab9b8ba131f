package httpmiddleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// AuthFunc resolves a bearer token. It returns ctx carrying the caller's
// identity and the caller's subject id.
type AuthFunc func(ctx context.Context, token string) (context.Context, string, error)

type subjectKey struct{}

func withSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// Subject returns the authenticated subject of the request, or "".
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

// Authenticate rejects requests without a valid bearer token and passes on
// the context returned by authn.
func Authenticate(authn AuthFunc) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="checkout"`)
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			ctx, subject, err := authn(r.Context(), token)
			if err != nil {
				zctx.From(r.Context()).Debug("Rejected bearer token", zap.Error(err))
				w.Header().Set("WWW-Authenticate", `Bearer realm="checkout", error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx = withSubject(ctx, subject)
			ctx = zctx.With(ctx, zap.String("user_id", subject))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
