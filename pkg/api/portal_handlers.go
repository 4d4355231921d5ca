package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/catalog"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/portal"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// PINSessionHeader carries the PIN session credential on portal requests
const PINSessionHeader = "X-Portal-PIN-Session"

// PortalHandlers serves the external portal token routes and their
// management routes
type PortalHandlers struct {
	engine *portal.Engine
	log    logrus.FieldLogger
}

// NewPortalHandlers creates portal handlers
func NewPortalHandlers(engine *portal.Engine, log logrus.FieldLogger) *PortalHandlers {
	if log == nil {
		log = logrus.New()
	}
	return &PortalHandlers{engine: engine, log: log}
}

// RegisterRoutes registers the bearer routes behind the public limiter (the
// PIN route also behind the PIN limiter) and the management routes behind
// portal.manage on the project in the path
func (h *PortalHandlers) RegisterRoutes(router *mux.Router, guard *rbac.Guard, public, pin func(http.Handler) http.Handler) {
	router.Handle("/v1/portal/{token}/alive", public(http.HandlerFunc(h.alive))).Methods(http.MethodGet)
	router.Handle("/v1/portal/{token}/pin", public(pin(http.HandlerFunc(h.verifyPIN)))).Methods(http.MethodPost)
	router.Handle("/v1/portal/{token}/check", public(http.HandlerFunc(h.check))).Methods(http.MethodPost)
	router.Handle("/v1/portal/{token}/claim", public(http.HandlerFunc(h.claim))).Methods(http.MethodPost)
	router.Handle("/v1/portal/{token}", public(http.HandlerFunc(h.access))).Methods(http.MethodGet)

	manage := guard.Require(catalog.PermPortalManage, rbac.RouteScope("", "project_id"))
	router.Handle("/v1/projects/{project_id}/portal-tokens",
		manage(http.HandlerFunc(h.createToken))).Methods(http.MethodPost)
	router.Handle("/v1/projects/{project_id}/portal-tokens/{token_id}",
		manage(http.HandlerFunc(h.getToken))).Methods(http.MethodGet)
	router.Handle("/v1/projects/{project_id}/portal-tokens/{token_id}",
		manage(http.HandlerFunc(h.revokeToken))).Methods(http.MethodDelete)
	router.Handle("/v1/projects/{project_id}/portal-tokens/{token_id}/grants/{account_id}",
		manage(http.HandlerFunc(h.setGrantStatus))).Methods(http.MethodPut)
}

// accessRequest builds the gate inputs shared by the bearer routes
func accessRequest(r *http.Request, capability portal.Capability) portal.AccessRequest {
	accountID, _ := contextkeys.GetPortalAccountID(r.Context())
	return portal.AccessRequest{
		Token:      httputil.PathVar(r, "token"),
		Capability: capability,
		PINSession: r.Header.Get(PINSessionHeader),
		AccountID:  accountID,
	}
}

// alive handles GET /v1/portal/{token}/alive
func (h *PortalHandlers) alive(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Alive(r.Context(), httputil.PathVar(r, "token")) {
		httputil.WriteNotFound(w)
		return
	}
	httputil.WriteNoContent(w)
}

type pinRequest struct {
	PIN string `json:"pin"`
}

// verifyPIN handles POST /v1/portal/{token}/pin
func (h *PortalHandlers) verifyPIN(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := httputil.ParseJSON(r, &req); err != nil || req.PIN == "" {
		httputil.WriteNotFound(w)
		return
	}
	session, err := h.engine.VerifyPIN(r.Context(), httputil.PathVar(r, "token"), req.PIN)
	if err != nil {
		httputil.WriteNotFound(w)
		return
	}
	httputil.WriteSuccess(w, session)
}

// access handles GET /v1/portal/{token}: the token's access context once the
// PIN and account gates pass
func (h *PortalHandlers) access(w http.ResponseWriter, r *http.Request) {
	ac, err := h.engine.Authorize(r.Context(), accessRequest(r, ""))
	if err != nil {
		httputil.WriteNotFound(w)
		return
	}
	httputil.WriteSuccess(w, ac)
}

type checkRequest struct {
	Capability portal.Capability `json:"capability"`
}

// check handles POST /v1/portal/{token}/check
func (h *PortalHandlers) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httputil.ParseJSON(r, &req); err != nil || req.Capability == "" {
		httputil.WriteNotFound(w)
		return
	}
	if _, err := h.engine.Authorize(r.Context(), accessRequest(r, req.Capability)); err != nil {
		httputil.WriteNotFound(w)
		return
	}
	httputil.WriteNoContent(w)
}

// claim handles POST /v1/portal/{token}/claim for the signed-in portal
// account
func (h *PortalHandlers) claim(w http.ResponseWriter, r *http.Request) {
	accountID, ok := contextkeys.GetPortalAccountID(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "portal account required")
		return
	}
	grant, err := h.engine.ClaimToken(r.Context(), accountID, httputil.PathVar(r, "token"))
	switch {
	case errors.Is(err, portal.ErrAccountNotVerified):
		httputil.WriteForbidden(w, "account email not verified")
	case err != nil:
		if !errors.Is(err, portal.ErrAccessDenied) && !errors.Is(err, portal.ErrInvalidInput) &&
			!errors.Is(err, portal.ErrNotFound) {
			h.log.WithError(err).WithField("account_id", accountID).Error("portal claim failed")
		}
		httputil.WriteNotFound(w)
	default:
		httputil.WriteSuccess(w, grant)
	}
}

type createTokenRequest struct {
	OrgID          string              `json:"org_id"`
	PortalType     portal.Type         `json:"portal_type"`
	CompanyID      string              `json:"company_id,omitempty"`
	ContactID      string              `json:"contact_id,omitempty"`
	Capabilities   []portal.Capability `json:"capabilities,omitempty"`
	PIN            string              `json:"pin,omitempty"`
	RequireAccount bool                `json:"require_account"`
	ExpiresAt      *time.Time          `json:"expires_at,omitempty"`
}

type createTokenResponse struct {
	Token    *portal.Token `json:"token"`
	RawToken string        `json:"raw_token"`
}

// createToken handles POST /v1/projects/{project_id}/portal-tokens. The raw
// token is returned once.
func (h *PortalHandlers) createToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	actorID, _ := contextkeys.GetActorID(r.Context())
	create := portal.CreateRequest{
		OrgID:          req.OrgID,
		ProjectID:      httputil.PathVar(r, "project_id"),
		PortalType:     req.PortalType,
		CompanyID:      req.CompanyID,
		ContactID:      req.ContactID,
		PIN:            req.PIN,
		RequireAccount: req.RequireAccount,
		ExpiresAt:      req.ExpiresAt,
		CreatedBy:      actorID,
	}
	// the org derived from the caller's project membership wins over the body
	if d, ok := contextkeys.GetDecision(r.Context()).(rbac.Decision); ok && d.OrgID != "" {
		create.OrgID = d.OrgID
	}
	if req.Capabilities != nil {
		perms, err := portal.PermissionsFrom(req.Capabilities)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		create.Permissions = &perms
	}

	token, raw, err := h.engine.Create(r.Context(), create)
	if err != nil {
		h.writeManageError(w, err)
		return
	}
	httputil.WriteCreated(w, createTokenResponse{Token: token, RawToken: raw})
}

// projectToken loads the token in the path and checks it belongs to the
// project in the path
func (h *PortalHandlers) projectToken(w http.ResponseWriter, r *http.Request) (*portal.Token, bool) {
	token, err := h.engine.Token(r.Context(), httputil.PathVar(r, "token_id"))
	if err == nil && token.ProjectID != httputil.PathVar(r, "project_id") {
		err = portal.ErrNotFound
	}
	if err != nil {
		h.writeManageError(w, err)
		return nil, false
	}
	return token, true
}

// getToken handles GET /v1/projects/{project_id}/portal-tokens/{token_id}
func (h *PortalHandlers) getToken(w http.ResponseWriter, r *http.Request) {
	token, ok := h.projectToken(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, token)
}

// revokeToken handles DELETE /v1/projects/{project_id}/portal-tokens/{token_id}
func (h *PortalHandlers) revokeToken(w http.ResponseWriter, r *http.Request) {
	token, ok := h.projectToken(w, r)
	if !ok {
		return
	}
	if err := h.engine.Revoke(r.Context(), token.ID); err != nil {
		h.writeManageError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

type grantStatusRequest struct {
	Status portal.GrantStatus `json:"status"`
}

// setGrantStatus handles PUT
// /v1/projects/{project_id}/portal-tokens/{token_id}/grants/{account_id}
func (h *PortalHandlers) setGrantStatus(w http.ResponseWriter, r *http.Request) {
	var req grantStatusRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	token, ok := h.projectToken(w, r)
	if !ok {
		return
	}
	grant, err := h.engine.SetGrantStatus(r.Context(), httputil.PathVar(r, "account_id"), token.ID, req.Status)
	if err != nil {
		h.writeManageError(w, err)
		return
	}
	httputil.WriteSuccess(w, grant)
}

func (h *PortalHandlers) writeManageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, portal.ErrInvalidInput):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, portal.ErrNotFound):
		httputil.WriteNotFound(w)
	case errors.Is(err, portal.ErrInvalidTransition), errors.Is(err, portal.ErrConflict):
		httputil.WriteConflict(w, err.Error())
	default:
		h.log.WithError(err).Error("portal management request failed")
		httputil.WriteInternalError(w)
	}
}
