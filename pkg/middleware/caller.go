package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
)

// Identity headers set by the authenticating proxy in front of the API.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// RequireCaller attaches the authenticated caller to the request context.
// Requests without an identity are rejected with 401 and unknown roles with 403.
func RequireCaller(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := r.Header.Get(HeaderUserID)
		if uid == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing "+HeaderUserID+" header")
			return
		}
		role := models.Role(r.Header.Get(HeaderUserRole))
		if role == "" {
			role = models.RoleViewer
		}
		if !role.IsValid() {
			writeError(w, http.StatusForbidden, "forbidden", "unknown role "+string(role))
			return
		}
		ctx := models.WithCaller(r.Context(), models.Caller{UID: uid, Role: role})
		next(w, r.WithContext(ctx))
	}
}

// RequireRole rejects callers without one of roles. Use inside RequireCaller.
func RequireRole(next http.HandlerFunc, roles ...models.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := models.GetCaller(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "no caller in request")
			return
		}
		if !c.HasRole(roles...) {
			writeError(w, http.StatusForbidden, "forbidden", "role "+string(c.Role)+" may not perform this action")
			return
		}
		next(w, r)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
