package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/catalog"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

type fakeSearcher struct {
	filters []Filter
	records []Record
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, filter Filter) ([]Record, error) {
	f.filters = append(f.filters, filter)
	return f.records, f.err
}

func newAuditRouter(t *testing.T, searcher Searcher) *mux.Router {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	store := rbac.NewMemoryStore()
	require.NoError(t, store.SeedRoles(ctx, []catalog.RoleSpec{
		{Key: "support", Permissions: []string{catalog.PermAuditRead}},
		{Key: "org_owner", Permissions: []string{rbac.Wildcard}},
	}))
	require.NoError(t, store.AssignPlatformRole(ctx, "support-1", "support", nil))
	require.NoError(t, store.AssignOrgRole(ctx, "org-a", "owner-1", "org_owner"))

	cat := catalog.New(catalog.NewStaticRegistry(catalog.Builtins()...), catalog.NewMemoryCache(clock, 0, 0))
	engine := rbac.NewEngine(cat, store, rbac.WithClock(clock))
	log, _ := test.NewNullLogger()

	router := mux.NewRouter()
	NewHandlers(searcher, log).RegisterRoutes(router, rbac.NewGuard(engine, log))
	return router
}

func serveAs(router http.Handler, actorID, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if actorID != "" {
		req = req.WithContext(contextkeys.WithActorID(req.Context(), actorID))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlers_ListRecords(t *testing.T) {
	searcher := &fakeSearcher{records: []Record{*sampleRecord()}}
	router := newAuditRouter(t, searcher)

	w := serveAs(router, "support-1", "/v1/audit?actor_id=user-1&allowed=false&limit=5&start=2026-05-01T00:00:00Z")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Records []Record `json:"records"`
		Count   int      `json:"count"`
		Limit   int      `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, 5, body.Limit)
	require.Len(t, body.Records, 1)

	require.Len(t, searcher.filters, 1)
	f := searcher.filters[0]
	assert.Equal(t, "user-1", f.ActorID)
	require.NotNil(t, f.Allowed)
	assert.False(t, *f.Allowed)
	require.NotNil(t, f.Start)
	assert.Nil(t, f.End)
}

func TestHandlers_OrgScopedAccess(t *testing.T) {
	searcher := &fakeSearcher{}
	router := newAuditRouter(t, searcher)

	w := serveAs(router, "owner-1", "/v1/audit?org_id=org-a")
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, searcher.filters, 1)
	assert.Equal(t, "org-a", searcher.filters[0].OrgID)

	w = serveAs(router, "owner-1", "/v1/audit?org_id=org-b")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serveAs(router, "owner-1", "/v1/audit")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Len(t, searcher.filters, 1)
}

func TestHandlers_Errors(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		w := serveAs(newAuditRouter(t, &fakeSearcher{}), "", "/v1/audit")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("bad query parameter", func(t *testing.T) {
		w := serveAs(newAuditRouter(t, &fakeSearcher{}), "support-1", "/v1/audit?allowed=maybe")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid allowed")
	})

	t.Run("search failure", func(t *testing.T) {
		w := serveAs(newAuditRouter(t, &fakeSearcher{err: errors.New("db down")}), "support-1", "/v1/audit")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "db down")
	})
}
