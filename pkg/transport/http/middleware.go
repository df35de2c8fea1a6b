package httptransport

import (
	"net/http"
	pathpkg "path"

	"github.com/go-logr/logr"

	"github.com/porthorian/consoleauth/pkg/authz"
	"github.com/porthorian/consoleauth/pkg/session"
)

// Route binds a console path to the access table entry that guards it.
// An empty Item guards at module level.
type Route struct {
	Module authz.ModuleID
	Item   authz.ItemID
}

type GuardConfig struct {
	LoginPath   string
	PublicPaths []string
	// Redirects are applied before any other check.
	Redirects map[string]string
	Routes    map[string]Route
	// FailureStatusCode is written when an authenticated user lacks
	// permission for a bound route.
	FailureStatusCode int
	Logger            logr.Logger
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		LoginPath:   "/login",
		PublicPaths: []string{"/login", "/register"},
		Redirects: map[string]string{
			"/":          "/login",
			"/dashboard": "/home",
		},
		Routes: map[string]Route{
			"/account-manager": {Module: authz.ModuleAccounts, Item: authz.ItemAccountManager},
			"/adminroles":      {Module: authz.ModuleAccounts, Item: authz.ItemAdminRoles},
			"/categories":      {Module: authz.ModuleProducts, Item: authz.ItemCategories},
			"/product":         {Module: authz.ModuleProducts, Item: authz.ItemProducts},
		},
		FailureStatusCode: http.StatusForbidden,
	}
}

// canonicalPath collapses duplicate slashes and dot segments and drops a
// trailing slash, so every spelling of a route maps to one table key.
func canonicalPath(raw string) string {
	return pathpkg.Clean("/" + raw)
}

// Guard gates console navigation on state. Public paths always pass.
// Anything else needs a stored access token, otherwise the request is
// redirected to the login path. Bound routes additionally need permission
// for their access table entry; lookup failures deny. The session is
// attached to the request context for downstream handlers.
func Guard(state *session.State, config GuardConfig) func(http.Handler) http.Handler {
	if config.LoginPath == "" {
		config.LoginPath = "/login"
	}
	if config.FailureStatusCode == 0 {
		config.FailureStatusCode = http.StatusForbidden
	}
	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	logger = logger.WithName("guard")

	public := make(map[string]struct{}, len(config.PublicPaths)+1)
	public[canonicalPath(config.LoginPath)] = struct{}{}
	for _, path := range config.PublicPaths {
		public[canonicalPath(path)] = struct{}{}
	}
	redirects := make(map[string]string, len(config.Redirects))
	for from, to := range config.Redirects {
		redirects[canonicalPath(from)] = to
	}
	routes := make(map[string]Route, len(config.Routes))
	for path, route := range config.Routes {
		routes[canonicalPath(path)] = route
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := canonicalPath(r.URL.Path)

			if target, ok := redirects[path]; ok {
				http.Redirect(w, r, target, http.StatusFound)
				return
			}

			if _, ok := public[path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			if state == nil || state.AccessToken() == "" {
				http.Redirect(w, r, config.LoginPath, http.StatusFound)
				return
			}

			if route, ok := routes[path]; ok {
				allowed, err := state.Can(string(route.Module), string(route.Item))
				if err != nil {
					logger.Error(err, "route bound to unknown access entry", "path", path, "module", route.Module, "item", route.Item)
				}
				if !allowed {
					logger.V(1).Info("navigation denied", "path", path, "session_id", state.SessionID(), "permissions", uint64(state.Mask()))
					http.Error(w, http.StatusText(config.FailureStatusCode), config.FailureStatusCode)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), state)))
		})
	}
}
