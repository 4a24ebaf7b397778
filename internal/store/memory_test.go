package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagetrading/approvald/internal/models"
)

func dec(key string, kind models.DecisionKind, action string, at time.Time) models.Decision {
	return models.Decision{ID: "d-" + key, ApprovalKey: key, Kind: kind, Action: action, DecidedAt: at}
}

func TestMemoryStoreLatestAndList(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Now().UTC()

	require.NoError(t, m.AppendDecision(ctx, dec("k1", models.DecisionRejected, "halt-entry", base)))
	require.NoError(t, m.AppendDecision(ctx, dec("k2", models.DecisionApproved, "halt-entry", base.Add(time.Second))))
	d3 := dec("k1", models.DecisionRevoked, "halt-entry", base.Add(2*time.Second))
	d3.ID = "d-k1-revoked"
	require.NoError(t, m.AppendDecision(ctx, d3))

	latest, err := m.LatestDecision(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRevoked, latest.Kind)

	_, err = m.LatestDecision(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	approved, err := m.ListDecisions(ctx, ListFilter{Kind: models.DecisionApproved})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "k2", approved[0].ApprovalKey)

	all, err := m.ListDecisions(ctx, ListFilter{Action: "halt-entry"})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "d-k1-revoked", all[0].ID, "newest first")
}

func TestMemoryStorePrune(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Now().UTC()

	require.NoError(t, m.AppendDecision(ctx, dec("k1", models.DecisionRejected, "a", base.Add(-2*time.Hour))))
	require.NoError(t, m.AppendDecision(ctx, dec("k2", models.DecisionApproved, "a", base)))

	n, err := m.PruneBefore(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	remaining, err := m.ListDecisions(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "k2", remaining[0].ApprovalKey)
}
