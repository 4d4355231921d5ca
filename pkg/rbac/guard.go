package rbac

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
)

// Authorizer is the enforcement interface the guard depends on
type Authorizer interface {
	RequireAuthorization(ctx context.Context, req Request) (Decision, error)
}

// ScopeFunc extracts the org and project ids a request targets
type ScopeFunc func(r *http.Request) (orgID, projectID string)

// RouteScope reads org and project ids from mux route variables. Either
// name may be empty.
func RouteScope(orgVar, projectVar string) ScopeFunc {
	return func(r *http.Request) (string, string) {
		vars := mux.Vars(r)
		var orgID, projectID string
		if orgVar != "" {
			orgID = vars[orgVar]
		}
		if projectVar != "" {
			projectID = vars[projectVar]
		}
		return orgID, projectID
	}
}

// PlatformScope targets no org or project
func PlatformScope(*http.Request) (string, string) { return "", "" }

// Guard enforces permissions on HTTP routes
type Guard struct {
	authz Authorizer
	log   logrus.FieldLogger
}

// NewGuard creates an HTTP guard
func NewGuard(authz Authorizer, log logrus.FieldLogger) *Guard {
	if log == nil {
		log = logrus.New()
	}
	return &Guard{authz: authz, log: log}
}

// Require admits requests whose actor holds permission in the scope
// returned by scope. Admitted decisions are audited and stored on the
// request context.
func (g *Guard) Require(permission string, scope ScopeFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID, ok := contextkeys.GetActorID(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			orgID, projectID := scope(r)
			requestID, _ := contextkeys.GetRequestID(r.Context())

			decision, err := g.authz.RequireAuthorization(r.Context(), Request{
				Permission:   permission,
				ActorID:      actorID,
				OrgID:        orgID,
				ProjectID:    projectID,
				ResourceType: "route",
				ResourceID:   r.Method + " " + routeTemplate(r),
				Audit:        true,
				RequestID:    requestID,
			})

			var denied *ForbiddenError
			switch {
			case errors.As(err, &denied):
				httputil.WriteDetailedError(w, http.StatusForbidden, "forbidden", map[string]string{
					"reason":           string(denied.Reason),
					"scopes_evaluated": strings.Join(denied.Scopes, ","),
				})
				return
			case err != nil:
				g.log.WithError(err).WithField("permission", permission).Error("authorization check failed")
				httputil.WriteInternalError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(contextkeys.WithDecision(r.Context(), decision)))
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}
