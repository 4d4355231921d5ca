package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// AuthorizeHandlers answers permission probes for the calling actor
type AuthorizeHandlers struct {
	authz Authorizer
	log   logrus.FieldLogger
}

// NewAuthorizeHandlers creates authorize handlers
func NewAuthorizeHandlers(authz Authorizer, log logrus.FieldLogger) *AuthorizeHandlers {
	if log == nil {
		log = logrus.New()
	}
	return &AuthorizeHandlers{authz: authz, log: log}
}

// RegisterRoutes registers POST /v1/authorize
func (h *AuthorizeHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/authorize", h.authorize).Methods(http.MethodPost)
}

type authorizeRequest struct {
	Permission   string `json:"permission"`
	OrgID        string `json:"org_id,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
}

// authorize handles POST /v1/authorize. The decision is advisory: a denial is
// a 200 with allowed=false.
func (h *AuthorizeHandlers) authorize(w http.ResponseWriter, r *http.Request) {
	actorID, ok := contextkeys.GetActorID(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req authorizeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Permission == "" {
		httputil.WriteBadRequest(w, "permission is required")
		return
	}

	requestID, _ := contextkeys.GetRequestID(r.Context())
	decision, err := h.authz.Authorize(r.Context(), rbac.Request{
		Permission:   req.Permission,
		ActorID:      actorID,
		OrgID:        req.OrgID,
		ProjectID:    req.ProjectID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		RequestID:    requestID,
	})
	if err != nil {
		h.log.WithError(err).WithField("permission", req.Permission).Error("authorization check failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, decision)
}
