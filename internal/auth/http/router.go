package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/veridian-id/veridian/internal/auth/cache"
	"github.com/veridian-id/veridian/internal/auth/service"
	"github.com/veridian-id/veridian/internal/auth/store"
	"github.com/veridian-id/veridian/pkg/httpx"
	"github.com/veridian-id/veridian/pkg/jwtx"
	"github.com/veridian-id/veridian/pkg/slogx"

	_ "github.com/veridian-id/veridian/api/openapi" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeySet
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store store.Store
	cache cache.Cache

	TokenValidator *service.TokenRequestValidator
	TokenIssuer    *service.TokenIssuer
	Introspection  *service.IntrospectionAuthorizer
}

func NewRouter(
	keys *jwtx.KeySet,
	buildVersion string,
	st store.Store,
	c cache.Cache,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		cache:        c,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerOAuth2()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Veridian Authorization Server API
//	@version		0.1.0
//	@description	OAuth2 authorization server protocol core: token issuance, token
//	@description	introspection and key discovery. Clients authenticate with shared
//	@description	secrets or signed JWT assertions (RFC 7523), and tokens can be
//	@description	sender-constrained with DPoP (RFC 9449).
//
//	@contact.name	Veridian Team
//	@contact.url	https://github.com/veridian-id/veridian
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerOAuth2() {
	// POST /token - strict rate limit by IP plus client_id form field to
	// slow down credential stuffing against a single client.
	tokenHandler := &TokenHandler{
		Validator: r.TokenValidator,
		Issuer:    r.TokenIssuer,
	}
	r.register("POST /oauth2/token",
		httpx.Chain(tokenHandler,
			httpx.RateLimitByIPAndFormField(httpx.StrictLimit, "client_id"),
		),
	)

	// Introspection endpoint (RFC 7662) - callers authenticate with their
	// own client credentials, moderate limit.
	introspectHandler := &IntrospectHandler{
		Clients:       r.TokenValidator.Clients,
		Introspection: r.Introspection,
	}
	r.register("POST /oauth2/introspect",
		httpx.Chain(introspectHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// GET /jwks.json - public endpoint with high limit
	r.register("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.keys),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.cache, r.keys),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}

// register mounts a protocol route twice: at the root and under a
// fixed /t/{tenant} prefix. The prefix segment keeps the wildcard
// patterns disjoint from every other mount (a bare /{tenant} wildcard
// conflicts with the /swagger/ subtree in ServeMux precedence). The
// prefixed variant stamps the tenant into the request context so
// issuer resolution derives per-tenant URLs.
func (r *Router) register(pattern string, h http.Handler) {
	r.Mux.Handle(pattern, h)

	method, path, _ := splitPattern(pattern)
	r.Mux.Handle(method+" /t/{tenant}"+path, tenantMiddleware(h))
}

func splitPattern(pattern string) (method, path string, ok bool) {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == ' ' {
			return pattern[:i], pattern[i+1:], true
		}
	}
	return "", pattern, false
}

// tenantMiddleware lifts the {tenant} path segment into the context.
func tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if tenant := req.PathValue("tenant"); tenant != "" {
			req = req.WithContext(service.WithTenant(req.Context(), tenant))
		}
		next.ServeHTTP(w, req)
	})
}
