package audit

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/catalog"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// Handlers serves the audit log API
type Handlers struct {
	searcher Searcher
	log      logrus.FieldLogger
}

// NewHandlers creates audit handlers
func NewHandlers(searcher Searcher, log logrus.FieldLogger) *Handlers {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handlers{searcher: searcher, log: log}
}

// RegisterRoutes registers GET /v1/audit behind audit.read. The org_id and
// project_id query parameters select the scope the caller must hold
// audit.read in.
func (h *Handlers) RegisterRoutes(router *mux.Router, guard *rbac.Guard) {
	router.Handle("/v1/audit",
		guard.Require(catalog.PermAuditRead, queryScope)(http.HandlerFunc(h.listRecords)),
	).Methods(http.MethodGet)
}

func queryScope(r *http.Request) (string, string) {
	q := r.URL.Query()
	return q.Get("org_id"), q.Get("project_id")
}

// listRecords handles GET /v1/audit
func (h *Handlers) listRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	records, err := h.searcher.Search(r.Context(), filter)
	if err != nil {
		h.log.WithError(err).Error("audit search failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"records": records,
		"count":   len(records),
		"limit":   filter.limit(),
		"offset":  filter.Offset,
	})
}

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	filter := Filter{
		ActorID:    q.Get("actor_id"),
		OrgID:      q.Get("org_id"),
		ProjectID:  q.Get("project_id"),
		Permission: q.Get("permission"),
		Reason:     q.Get("reason"),
	}

	var err error
	if filter.Start, err = httputil.ParseQueryTime(r, "start"); err != nil {
		return filter, err
	}
	if filter.End, err = httputil.ParseQueryTime(r, "end"); err != nil {
		return filter, err
	}
	if filter.Allowed, err = httputil.ParseQueryBool(r, "allowed"); err != nil {
		return filter, err
	}
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", DefaultLimit); err != nil {
		return filter, err
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return filter, err
	}
	return filter, nil
}
