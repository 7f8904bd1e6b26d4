package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"mock-auth-api/internal/app"
)

var (
	initOnce   sync.Once
	apiRuntime *app.Runtime
	initErr    error
)

// Handler is the serverless entry point. The runtime is built once per
// instance from the platform environment.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		apiRuntime, initErr = app.Build(app.Options{LoadDotEnv: false})
	})

	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  http.StatusInternalServerError,
			"message": "application bootstrap failed",
		})
		return
	}

	apiRuntime.Handler.ServeHTTP(w, r)
}
