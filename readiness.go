package fnhost

import (
	"net/http"

	json "github.com/goccy/go-json"
)

// ReadinessHandler serves the registry's verdict for load balancers. A host
// with any unhealthy dispatcher answers 503 so traffic drains to its peers;
// saturation alone keeps it at 200 because admission already sheds the
// excess. Either way the body lists every dispatcher's [Status].
func ReadinessHandler(reg *Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		verdict := reg.CheckReadiness()

		code := http.StatusServiceUnavailable
		if verdict.Ready {
			code = http.StatusOK
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)

		//nolint:errcheck // the client may already be gone
		_ = json.NewEncoder(w).Encode(verdict)
	})
}
