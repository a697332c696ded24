package rbac

import (
	"encoding/json"
	"net/http"
)

var defaultChecker = NewChecker(nil)

// KnownRole reports whether the default policy defines role.
func KnownRole(role string) bool { return defaultChecker.Known(role) }

// guard lets the request through when allow returns true for the caller's role.
func guard(allow func(r *http.Request, role string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allow(r, RoleFromContext(r.Context())) {
				forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Require enforces a single permission.
func Require(perm string) func(http.Handler) http.Handler {
	return guard(func(_ *http.Request, role string) bool {
		return role != "" && defaultChecker.Has(role, perm)
	})
}

// RequireAny enforces that the role has at least one of the permissions.
func RequireAny(perms ...string) func(http.Handler) http.Handler {
	return guard(func(_ *http.Request, role string) bool {
		return role != "" && defaultChecker.Any(role, perms...)
	})
}

// RequireOwnerOr lets the owner through, or anyone holding perm.
func RequireOwnerOr(perm string, isOwner func(r *http.Request) bool) func(http.Handler) http.Handler {
	return guard(func(r *http.Request, role string) bool {
		return isOwner(r) || defaultChecker.Has(role, perm)
	})
}

func forbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": "forbidden", "message": "forbidden"}})
}
