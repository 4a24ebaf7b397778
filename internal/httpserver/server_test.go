package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagetrading/approvald/internal/cache"
	"github.com/vantagetrading/approvald/internal/envstate"
	"github.com/vantagetrading/approvald/internal/gate"
	"github.com/vantagetrading/approvald/internal/gateway"
	"github.com/vantagetrading/approvald/internal/metrics"
	"github.com/vantagetrading/approvald/internal/models"
	"github.com/vantagetrading/approvald/internal/policy"
	"github.com/vantagetrading/approvald/internal/rbac"
	"github.com/vantagetrading/approvald/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	policies := policy.NewStore()
	env := envstate.NewTracker(0)
	validator := rbac.NewValidator(rbac.StaticVerifier{}, time.Second)
	st := store.NewMemoryStore()
	gw := gateway.New(gateway.Options{
		Policies: policies,
		Env:      env,
		Gates:    gate.NewChain(validator, env, 5*time.Minute),
		Cache:    cache.New(time.Hour),
		Store:    st,
		Metrics:  metrics.NewRegistry(),
	})
	require.NoError(t, gw.ApplyPolicySnapshot(models.PolicySnapshotEvent{
		Roles: map[string][]string{"risk-officer": {"halt-entry", "override-risk"}},
		Actions: []models.ActionSpec{
			{Name: "halt-entry", Category: models.CategoryHalt},
			{Name: "override-risk", Category: models.CategoryParameterOverride},
		},
	}))
	return New(gw, st)
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	r := testServer(t).Router()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitAndPending(t *testing.T) {
	r := testServer(t).Router()

	rec := postJSON(t, r, "/approvals/submit", models.ManualRequestEvent{
		ApprovalKey: "h-1",
		Action:      "halt-entry",
		RequestedBy: models.Requester{Identity: "X", Roles: []string{"risk-officer"}, Signature: "sig"},
		Reason:      "submitted over http",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var d models.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, models.DecisionPending, d.Kind)

	req := httptest.NewRequest(http.MethodGet, "/approvals/pending", nil)
	pendingRec := httptest.NewRecorder()
	r.ServeHTTP(pendingRec, req)
	require.Equal(t, http.StatusOK, pendingRec.Code)

	var body struct {
		Chains []models.ApprovalChain `json:"chains"`
	}
	require.NoError(t, json.Unmarshal(pendingRec.Body.Bytes(), &body))
	require.Len(t, body.Chains, 1)
	assert.Equal(t, "h-1", body.Chains[0].ApprovalKey)
}

func TestSubmitRejectsMissingFields(t *testing.T) {
	r := testServer(t).Router()
	rec := postJSON(t, r, "/approvals/submit", models.ManualRequestEvent{Action: "halt-entry"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevokeEndpoint(t *testing.T) {
	r := testServer(t).Router()

	rec := postJSON(t, r, "/approvals/submit", models.ManualRequestEvent{
		ApprovalKey: "h-2",
		Action:      "override-risk",
		RequestedBy: models.Requester{Identity: "X", Roles: []string{"risk-officer"}, Signature: "sig"},
		Reason:      "documented override for revocation test",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	revokeRec := postJSON(t, r, "/approvals/h-2/revoke", map[string]string{"reason": models.RevokeManual})
	require.Equal(t, http.StatusOK, revokeRec.Code)

	var d models.Decision
	require.NoError(t, json.Unmarshal(revokeRec.Body.Bytes(), &d))
	assert.Equal(t, models.DecisionRevoked, d.Kind)
	assert.Equal(t, models.RevokeManual, d.Reason)
}

func TestPolicySnapshotEndpoint(t *testing.T) {
	r := testServer(t).Router()

	rec := postJSON(t, r, "/policy/snapshot", models.PolicySnapshotEvent{
		Roles: map[string][]string{"ops": {"halt-entry"}},
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	bad := postJSON(t, r, "/policy/snapshot", models.PolicySnapshotEvent{
		Profiles: map[string]models.ApprovalProfile{
			"halt-entry": {Kind: models.ProfileQuorum, QuorumCount: 5, OfCount: 2},
		},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, bad.Code)
}

func TestStatusEndpoint(t *testing.T) {
	r := testServer(t).Router()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var sum models.MetricsEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 0, sum.Approved)
}
