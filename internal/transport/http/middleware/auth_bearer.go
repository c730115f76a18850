package middleware

import (
	"context"
	"net/http"
	"strings"
)

// AuthBearer извлекает Bearer-токен из Authorization и кладёт "сырой" токен
// в контекст. Проверку токена выполняют хендлеры.
func AuthBearer() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := bearer(r.Header.Get("Authorization")); token != "" {
				r = r.WithContext(context.WithValue(r.Context(), ctxAuthToken, token))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TokenFrom возвращает Bearer-токен из контекста ("" если его нет).
func TokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(ctxAuthToken).(string)
	return token
}

func bearer(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}

	return strings.TrimSpace(header[len(prefix):])
}
