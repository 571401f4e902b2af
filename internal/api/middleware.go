package api

import (
	"net/http"

	"github.com/rs/cors"
)

// corsHandler answers preflight requests and sets Access-Control-Allow-Origin
// for allowed origins. "*" in origins allows any origin; an empty list allows
// none.
func corsHandler(origins []string, next http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "If-None-Match"},
		ExposedHeaders: []string{"ETag", "X-Cache"},
		MaxAge:         600,
	}
	if len(origins) == 0 {
		opts.AllowOriginFunc = func(string) bool { return false }
	}
	return cors.New(opts).Handler(next)
}
