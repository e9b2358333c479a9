package middleware

import (
	"context"
	"net/http"

	"github.com/jkweon/tandem/internal/utils"
)

type ctxKey int

const localeKey ctxKey = 1

// SupportedLocales lists the base tags the engine renders mail and name
// formatting for.
var SupportedLocales = []string{"en", "ko", "ja", "zh"}

// Locale extracts the locale from the lang query param or Accept-Language
// and stores it in the request context.
func Locale(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		qLang := r.URL.Query().Get("lang")
		aLang := r.Header.Get("Accept-Language")
		locale := utils.DetermineLocale(qLang, aLang, SupportedLocales, "en")
		ctx := context.WithValue(r.Context(), localeKey, locale)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LocaleFromContext retrieves the locale stored by Locale.
func LocaleFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(localeKey).(string); ok {
		return s
	}
	return "en"
}
