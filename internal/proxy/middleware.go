package proxy

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ccbridge/ccbridge/internal/openaiadapter"
)

// Recovery recovers from panics in HTTP handlers and returns HTTP 500 to the client.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				// Logging of panics is handled in Logging middleware
				writeJSONOpenAIError(r.Context(), w, openaiadapter.ProxyError(http.StatusText(http.StatusInternalServerError)))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// RequestSizeLimit enforces maximum request body size.
// Handlers that read the body will receive *http.MaxBytesError when the limit is exceeded.
func RequestSizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// CORS allows browser clients from any origin and answers preflight requests.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, x-api-key, anthropic-version")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// publicPaths are served without the shared secret.
var publicPaths = map[string]bool{
	"/":       true,
	"/health": true,
	"/livez":  true,
	"/readyz": true,
}

// SharedSecretAuth requires the service API key on every non-public route.
// Clients send it as a bearer token, as a raw Authorization value or as x-api-key.
// An empty key rejects every protected request with a configuration error.
func SharedSecretAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			if key == "" {
				slog.ErrorContext(ctx, "rejecting request, service API key not configured")
				writeJSONOpenAIError(ctx, w, openaiadapter.ConfigurationError("SERVICE_API_KEY not configured"))
				return
			}

			presented, ok := presentedKey(r)
			if !ok {
				writeJSONOpenAIError(ctx, w, openaiadapter.NewError(http.StatusUnauthorized, openaiadapter.ErrorTypeAuthentication,
					"Missing Authorization header. Set the OpenAI API key of your client to the gateway's SERVICE_API_KEY"))
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				slog.WarnContext(ctx, "rejecting request with invalid API key")
				writeJSONOpenAIError(ctx, w, openaiadapter.NewError(http.StatusUnauthorized, openaiadapter.ErrorTypeAuthentication,
					"Invalid API key. The OpenAI API key of your client must match SERVICE_API_KEY"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// presentedKey returns the credential a client sent, if any.
func presentedKey(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer "), true
	}
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return key, true
	}
	return "", false
}

// applyMiddlewares applies middlewares to a handler in the order they appear.
// The first middleware in the slice is the outermost (executes first).
func applyMiddlewares(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
