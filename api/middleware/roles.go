package middleware

import (
	"net/http"
	"slices"

	"github.com/angelmondragon/fulfillment-backend/api/responses"
	"github.com/angelmondragon/fulfillment-backend/internal/access"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

// RequireAction rejects callers whose role can never perform action.
// Resource-level checks such as "assigned shipper only" stay in the services.
func RequireAction(action access.Action, logg *logger.Logger) func(http.Handler) http.Handler {
	roles := access.RolesFor(action)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
				return
			}
			if !slices.Contains(roles, actor.Role) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role not permitted").
					WithDetails(map[string]any{"action": action, "role": actor.Role}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
