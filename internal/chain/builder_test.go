package chain

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagetrading/approvald/internal/models"
)

func dualSpec() CreateSpec {
	return CreateSpec{
		Action: "halt-entry",
		Profile: models.ApprovalProfile{
			Kind:        models.ProfileDual,
			QuorumCount: 2,
			OfCount:     2,
			TTLSeconds:  300,
		},
	}
}

func approver(id string, at time.Time) models.Approver {
	return models.Approver{Identity: id, Roles: []string{"risk-officer"}, Timestamp: at}
}

func TestSingleCompletesOnFirstSubmission(t *testing.T) {
	b := NewBuilder()
	now := time.Now().UTC()
	spec := CreateSpec{
		Action:  "override-param",
		Profile: models.ApprovalProfile{Kind: models.ProfileSingle, QuorumCount: 1, OfCount: 1, TTLSeconds: 60},
	}

	res := b.Fold("k1", spec, approver("alice", now), now)
	require.True(t, res.Created)
	require.True(t, res.Completed)
	assert.Equal(t, models.ChainComplete, res.Chain.Status)
	assert.Equal(t, 0, b.Len(), "completed chain must leave active storage")
}

func TestDualAccumulatesThenCompletes(t *testing.T) {
	b := NewBuilder()
	now := time.Now().UTC()

	first := b.Fold("k1", dualSpec(), approver("alice", now), now)
	require.True(t, first.Created)
	require.False(t, first.Completed)
	assert.Equal(t, models.ChainAccumulating, first.Chain.Status)
	assert.Equal(t, now.Add(300*time.Second), first.Chain.ExpiresAt)

	second := b.Fold("k1", dualSpec(), approver("bob", now.Add(10*time.Second)), now.Add(10*time.Second))
	require.True(t, second.Completed)
	require.Len(t, second.Chain.Approvers, 2)
	assert.Equal(t, "alice", second.Chain.Approvers[0].Identity)
	assert.Equal(t, "bob", second.Chain.Approvers[1].Identity)
	assert.Equal(t, 0, b.Len())
}

func TestSameIdentityNeverDoubleCounts(t *testing.T) {
	b := NewBuilder()
	now := time.Now().UTC()

	b.Fold("k1", dualSpec(), approver("alice", now), now)
	res := b.Fold("k1", dualSpec(), approver("alice", now), now)
	require.True(t, res.Duplicate)
	require.False(t, res.Completed)
	assert.Len(t, res.Chain.Approvers, 1)
}

func TestOfCountIsReportingOnly(t *testing.T) {
	b := NewBuilder()
	now := time.Now().UTC()
	spec := CreateSpec{
		Action:  "limit-change",
		Profile: models.ApprovalProfile{Kind: models.ProfileQuorum, QuorumCount: 2, OfCount: 5, TTLSeconds: 300},
	}

	b.Fold("k1", spec, approver("alice", now), now)
	res := b.Fold("k1", spec, approver("bob", now), now)
	require.True(t, res.Completed, "quorum must complete at quorumCount, not ofCount")
}

func TestExpireIfOverdue(t *testing.T) {
	b := NewBuilder()
	now := time.Now().UTC()
	spec := dualSpec()
	spec.Profile.TTLSeconds = 5

	b.Fold("k1", spec, approver("alice", now), now)
	require.Empty(t, b.OverdueKeys(now.Add(4*time.Second)))

	keys := b.OverdueKeys(now.Add(6 * time.Second))
	require.Equal(t, []string{"k1"}, keys)

	c, ok := b.ExpireIfOverdue("k1", now.Add(6*time.Second))
	require.True(t, ok)
	assert.Equal(t, models.ChainExpired, c.Status)

	_, ok = b.ExpireIfOverdue("k1", now.Add(6*time.Second))
	assert.False(t, ok, "expiring twice must be a no-op")
}

func TestConcurrentSameIdentitySubmissions(t *testing.T) {
	b := NewBuilder()
	now := time.Now().UTC()
	spec := CreateSpec{
		Action:  "limit-change",
		Profile: models.ApprovalProfile{Kind: models.ProfileQuorum, QuorumCount: 3, OfCount: 5, TTLSeconds: 300},
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Fold("k1", spec, approver("alice", now), now)
		}()
	}
	wg.Wait()

	c, ok := b.Get("k1")
	require.True(t, ok)
	assert.Len(t, c.Approvers, 1, "concurrent duplicates must not double count")
}
