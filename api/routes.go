package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"anibridge/handlers"

	"github.com/gorilla/mux"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// APIKeyMiddleware rejects requests that do not carry the configured key in
// the X-Api-Key header or the apikey query parameter. The key is read through
// a getter so config reloads take effect without a restart.
func APIKeyMiddleware(getKey func() string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			want := getKey()
			if want == "" {
				http.Error(w, "API key not configured", http.StatusServiceUnavailable)
				return
			}
			got := r.Header.Get("X-Api-Key")
			if got == "" {
				got = r.URL.Query().Get("apikey")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Register mounts API endpoints onto the provided router.
func Register(
	r *mux.Router,
	webhookHandler *handlers.WebhookHandler,
	historyHandler *handlers.HistoryHandler,
	getKey func() string,
) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)

	// Public endpoints
	api.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"version": Version})
	}).Methods(http.MethodGet, http.MethodOptions)

	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet, http.MethodOptions)

	// Protected endpoints - require the webhook API key
	protected := api.PathPrefix("").Subrouter()
	protected.Use(APIKeyMiddleware(getKey))

	// Jellyfin webhook plugin posts here
	protected.HandleFunc("/webhook/jellyfin", webhookHandler.Receive).Methods(http.MethodPost)
	protected.HandleFunc("/webhook/jellyfin", webhookHandler.Options).Methods(http.MethodOptions)

	protected.HandleFunc("/history", historyHandler.List).Methods(http.MethodGet)
	protected.HandleFunc("/history", historyHandler.Options).Methods(http.MethodOptions)
}
