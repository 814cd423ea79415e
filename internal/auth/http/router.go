package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dottirhealth/dottir/internal/auth/service"
	"github.com/dottirhealth/dottir/internal/auth/store"
	"github.com/dottirhealth/dottir/pkg/httpx"
	"github.com/dottirhealth/dottir/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store          store.Store
	AuthService    *service.AuthService
	SessionService *service.SessionService
	MFAService     *service.MFAService
	SSOService     *service.SSOService
}

func NewRouter(buildVersion string, st store.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerLogin()
	r.registerSessions()
	r.registerMFA()
	r.registerSSO()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// authn builds the per-request session validation chain used by every
// signed-in endpoint. The middleware touches the session, so simply using
// the API keeps a session alive.
func (r *Router) authn(h http.Handler, limit httpx.RateLimitConfig) http.Handler {
	return httpx.Chain(h,
		AuthnMiddleware(r.SessionService),
		httpx.RateLimitByIdentity(limit),
	)
}

func (r *Router) registerLogin() {
	h := &LoginHandler{AuthService: r.AuthService}

	// Credential-bearing endpoints get the strict auth limit by IP to slow
	// password and code guessing
	r.Mux.Handle("POST /v1/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIP(httpx.AuthLimit),
		),
	)
	r.Mux.Handle("POST /v1/login/mfa",
		httpx.Chain(http.HandlerFunc(h.HandleCompleteMFA),
			httpx.RateLimitByIP(httpx.AuthLimit),
		),
	)
	r.Mux.Handle("POST /v1/login/mfa/cancel",
		httpx.Chain(http.HandlerFunc(h.HandleCancelMFA),
			httpx.RateLimitByIP(httpx.AuthLimit),
		),
	)
	r.Mux.Handle("POST /v1/register",
		httpx.Chain(http.HandlerFunc(h.HandleRegister),
			httpx.RateLimitByIP(httpx.AuthLimit),
		),
	)
}

func (r *Router) registerSessions() {
	h := &SessionsHandler{
		SessionService: r.SessionService,
		AuthService:    r.AuthService,
	}

	r.Mux.Handle("GET /v1/sessions", r.authn(http.HandlerFunc(h.HandleList), httpx.SessionLimit))
	r.Mux.Handle("DELETE /v1/sessions/{id}", r.authn(http.HandlerFunc(h.HandleRevoke), httpx.SessionLimit))
	r.Mux.Handle("POST /v1/logout", r.authn(http.HandlerFunc(h.HandleLogout), httpx.SessionLimit))

	// Revoke-all re-verifies credentials, so it gets the auth limit
	r.Mux.Handle("POST /v1/sessions/revoke-all", r.authn(http.HandlerFunc(h.HandleRevokeAll), httpx.AuthLimit))
}

func (r *Router) registerMFA() {
	h := &MFAHandler{
		MFAService:  r.MFAService,
		AuthService: r.AuthService,
	}

	r.Mux.Handle("GET /v1/mfa", r.authn(http.HandlerFunc(h.HandleStatus), httpx.SessionLimit))
	r.Mux.Handle("POST /v1/mfa/totp/enroll", r.authn(http.HandlerFunc(h.HandleEnroll), httpx.SessionLimit))

	// Code-accepting endpoints use the auth limit to slow brute force
	r.Mux.Handle("POST /v1/mfa/totp/verify", r.authn(http.HandlerFunc(h.HandleVerify), httpx.AuthLimit))
	r.Mux.Handle("POST /v1/mfa/backup-codes", r.authn(http.HandlerFunc(h.HandleRegenerateBackupCodes), httpx.AuthLimit))
	r.Mux.Handle("DELETE /v1/mfa/totp", r.authn(http.HandlerFunc(h.HandleRemove), httpx.AuthLimit))
}

func (r *Router) registerSSO() {
	h := &SSOHandler{
		SSOService:  r.SSOService,
		AuthService: r.AuthService,
	}

	r.Mux.Handle("GET /v1/sso/providers",
		httpx.Chain(http.HandlerFunc(h.HandleListProviders),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("GET /v1/sso/{provider}/authorize",
		httpx.Chain(http.HandlerFunc(h.HandleAuthorize),
			httpx.RateLimitByIP(httpx.AuthLimit),
		),
	)
	r.Mux.Handle("POST /v1/sso/{provider}/callback",
		httpx.Chain(http.HandlerFunc(h.HandleCallback),
			httpx.RateLimitByIP(httpx.AuthLimit),
		),
	)
	r.Mux.Handle("GET /v1/sso/connections", r.authn(http.HandlerFunc(h.HandleConnections), httpx.SessionLimit))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}
