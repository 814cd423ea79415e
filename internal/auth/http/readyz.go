package http

import (
	"net/http"
	"time"

	"github.com/dottirhealth/dottir/internal/auth/store"
	"github.com/dottirhealth/dottir/pkg/httpx"
)

// ReadyzHandler is the readiness probe. It fails when the database cannot be
// reached so load balancers stop routing to this instance.
func ReadyzHandler(startTime time.Time, version string, st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"database": "ok"}
		overallStatus := "ok"
		statusCode := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks["database"] = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, statusCode, healthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
