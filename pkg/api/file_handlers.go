package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/catalog"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/signedtoken"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

// FileHandlers mints and serves signed file links
type FileHandlers struct {
	codec      *signedtoken.Codec
	documents  storage.Fetcher
	defaultTTL time.Duration
	maxTTL     time.Duration
	log        logrus.FieldLogger
}

// NewFileHandlers creates file link handlers
func NewFileHandlers(codec *signedtoken.Codec, documents storage.Fetcher, defaultTTL, maxTTL time.Duration, log logrus.FieldLogger) *FileHandlers {
	if log == nil {
		log = logrus.New()
	}
	return &FileHandlers{
		codec:      codec,
		documents:  documents,
		defaultTTL: defaultTTL,
		maxTTL:     maxTTL,
		log:        log,
	}
}

// RegisterRoutes registers GET /v1/files/{token} behind the public limiter
// and the link minting route behind project.documents.share
func (h *FileHandlers) RegisterRoutes(router *mux.Router, guard *rbac.Guard, public func(http.Handler) http.Handler) {
	router.Handle("/v1/files/{token}", public(http.HandlerFunc(h.serveFile))).Methods(http.MethodGet)
	router.Handle("/v1/projects/{project_id}/file-links",
		guard.Require(catalog.PermProjectDocumentsShare, rbac.RouteScope("", "project_id"))(http.HandlerFunc(h.createLink)),
	).Methods(http.MethodPost)
}

// serveFile handles GET /v1/files/{token}. Every failure is the same 404.
func (h *FileHandlers) serveFile(w http.ResponseWriter, r *http.Request) {
	key, err := h.codec.Verify(httputil.PathVar(r, "token"))
	if err != nil {
		httputil.WriteNotFound(w)
		return
	}

	obj, err := h.documents.Fetch(r.Context(), key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrInvalidKey) {
			h.log.WithError(err).WithField("key", key).Error("failed to fetch linked document")
		}
		httputil.WriteNotFound(w)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.log.WithError(err).WithField("key", key).Warn("linked document stream interrupted")
	}
}

type createLinkRequest struct {
	Path       string `json:"path"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type createLinkResponse struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// createLink handles POST /v1/projects/{project_id}/file-links
func (h *FileHandlers) createLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ttl := h.defaultTTL
	if req.TTLSeconds != 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	if ttl <= 0 || ttl > h.maxTTL {
		httputil.WriteBadRequest(w, "ttl_seconds must be positive and at most "+strconv.Itoa(int(h.maxTTL.Seconds())))
		return
	}

	key, err := storage.ProjectKey(httputil.PathVar(r, "project_id"), req.Path)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	exists, err := h.documents.Exists(r.Context(), key)
	if err != nil {
		h.log.WithError(err).WithField("key", key).Error("failed to check document")
		httputil.WriteInternalError(w)
		return
	}
	if !exists {
		httputil.WriteNotFound(w)
		return
	}

	token, claims, err := h.codec.MintClaims(key, ttl)
	if err != nil {
		h.log.WithError(err).Error("failed to mint file link")
		httputil.WriteInternalError(w)
		return
	}

	actorID, _ := contextkeys.GetActorID(r.Context())
	h.log.WithFields(logrus.Fields{
		"actor_id":    actorID,
		"key":         key,
		"ttl_seconds": int(ttl.Seconds()),
	}).Info("file link minted")

	httputil.WriteCreated(w, createLinkResponse{
		Token:     token,
		URL:       "/v1/files/" + token,
		ExpiresAt: claims.Expiry(),
	})
}
